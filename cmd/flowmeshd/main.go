// Command flowmeshd is the orchestrator/dispatch service entrypoint: it
// loads a TOML config, opens a store backend, dials the AMQP broker,
// wires the orchestrator handlers and (optionally) a dispatch handler
// onto it, starts the Prometheus metrics listener, and runs the
// broker's consume loop with the same reconnect-on-error shape the
// teacher's kafka_client main uses around consumer.Subscribe.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/flowmesh-io/flowmesh/broker/amqpbroker"
	"github.com/flowmesh-io/flowmesh/config"
	"github.com/flowmesh-io/flowmesh/dispatch"
	"github.com/flowmesh-io/flowmesh/executor"
	"github.com/flowmesh-io/flowmesh/executor/fork"
	"github.com/flowmesh-io/flowmesh/executor/lsf"
	"github.com/flowmesh-io/flowmesh/log"
	"github.com/flowmesh-io/flowmesh/metrics"
	"github.com/flowmesh-io/flowmesh/orchestrator"
	"github.com/flowmesh-io/flowmesh/store"
	"github.com/flowmesh-io/flowmesh/store/badgerstore"
	"github.com/flowmesh-io/flowmesh/store/redisstore"
)

var logger = log.NewModuleLogger(log.CmdUtils)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "address to serve /metrics on",
		Value: ":9191",
	}
	dispatchFlag = cli.BoolFlag{
		Name:  "dispatch",
		Usage: "also run the dispatch handler bound to Bindings.Submit",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "flowmeshd"
	app.Usage = "flowmesh orchestrator/dispatch service"
	app.Flags = []cli.Flag{configFileFlag, metricsAddrFlag, dispatchFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("flowmeshd exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := config.Default()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		var err error
		cfg, err = config.Load(file)
		if err != nil {
			return err
		}
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}

	reg := metrics.New()
	go serveMetrics(ctx.GlobalString(metricsAddrFlag.Name), reg)

	for {
		if err := runOnce(cfg, st, reg, ctx.GlobalBool(dispatchFlag.Name)); err != nil {
			logger.Error("broker session ended, reconnecting", "err", err)
			time.Sleep(time.Second)
			continue
		}
		return nil
	}
}

// runOnce dials the broker, wires the handlers, and runs Listen until it
// returns — either a clean shutdown (nil) or a transient bus error the
// caller retries, mirroring the teacher's consumer.Subscribe retry loop
// in cmd/kafka_client's main.
func runOnce(cfg config.Config, st store.Store, reg *metrics.Registry, withDispatch bool) error {
	b, err := amqpbroker.Dial(amqpbroker.Config{
		URL:                  cfg.AMQP.URL,
		Exchange:             cfg.AMQP.Exchange,
		AlternateExchange:    cfg.AMQP.AlternateExchange,
		Queue:                cfg.AMQP.Queue,
		RoutingKeys:          cfg.AMQP.RoutingKeys,
		UsePublisherConfirms: cfg.AMQP.UsePublisherConfirms,
		PrefetchCount:        cfg.AMQP.PrefetchCount,
	})
	if err != nil {
		return err
	}
	b.Metrics = reg
	defer b.Disconnect()

	svc := &orchestrator.Services{
		Store:   st,
		Broker:  b,
		Resolve: orchestrator.NewResolver(b, cfg.Bindings.Submit),
		Keys: orchestrator.RoutingKeys{
			CreateToken:      cfg.Bindings.CreateToken,
			NotifyPlace:      cfg.Bindings.NotifyPlace,
			NotifyTransition: cfg.Bindings.NotifyTransition,
		},
		Metrics: reg,
	}
	if err := svc.RegisterHandlers(); err != nil {
		return err
	}

	if withDispatch {
		exec, err := openExecutor(cfg.Executor)
		if err != nil {
			return err
		}
		dh := &dispatch.Handler{
			Store:          st,
			Executor:       exec,
			Broker:         b,
			NotifyPlaceKey: cfg.Bindings.NotifyPlace,
			Metrics:        reg,
		}
		if err := b.RegisterHandler(cfg.Bindings.Submit, dh.Handle); err != nil {
			return err
		}
	}

	logger.Info("flowmeshd listening", "exchange", cfg.AMQP.Exchange, "queue", cfg.AMQP.Queue, "dispatch", withDispatch)
	return b.Listen(context.Background())
}

func openStore(cfg config.Store) (store.Store, error) {
	switch cfg.Backend {
	case "redis":
		return redisstore.Open(cfg.Addr, cfg.Password, cfg.DB)
	case "badger", "":
		return badgerstore.Open(cfg.Dir)
	default:
		logger.Crit("unknown store backend", "backend", cfg.Backend)
		os.Exit(1)
		return nil, nil
	}
}

func openExecutor(cfg config.Executor) (executor.Executor, error) {
	switch cfg.Kind {
	case "lsf":
		e := lsf.New(cfg.DefaultQueue)
		if cfg.BsubPath != "" {
			e.BsubPath = cfg.BsubPath
		}
		return e, nil
	case "fork", "":
		e := fork.New()
		if cfg.Shell != "" {
			e.Shell = cfg.Shell
		}
		return e, nil
	default:
		logger.Crit("unknown executor kind", "kind", cfg.Kind)
		os.Exit(1)
		return nil, nil
	}
}

func serveMetrics(addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}
