// Command flowctl is the operator-facing console for a running flowmesh
// deployment: it submits a CreateToken message to seed a workflow's
// start place and prints a place's marking for a given color, the way the
// teacher's cmd/homi bundles small single-purpose CLI verbs behind one
// urfave/cli app rather than one binary per verb.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/urfave/cli.v1"

	"github.com/flowmesh-io/flowmesh/broker/amqpbroker"
	"github.com/flowmesh-io/flowmesh/codec"
	"github.com/flowmesh-io/flowmesh/config"
	"github.com/flowmesh-io/flowmesh/log"
	"github.com/flowmesh-io/flowmesh/net"
	"github.com/flowmesh-io/flowmesh/store"
	"github.com/flowmesh-io/flowmesh/store/badgerstore"
	"github.com/flowmesh-io/flowmesh/store/redisstore"
)

var logger = log.NewModuleLogger(log.CmdUtils)

var configFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
}

func main() {
	app := cli.NewApp()
	app.Name = "flowctl"
	app.Usage = "flowmesh operator console"
	app.Flags = []cli.Flag{configFileFlag}
	app.Commands = []cli.Command{submitCommand, inspectCommand}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "flowctl:", err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		return config.Load(file)
	}
	return config.Default(), nil
}

var submitCommand = cli.Command{
	Name:      "submit",
	Usage:     "create a token at a net's start place",
	ArgsUsage: "<net-key> <place-idx>",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "color", Value: 0},
		cli.IntFlag{Name: "group", Value: -1},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.NewExitError("usage: flowctl submit <net-key> <place-idx>", 1)
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		netKey := ctx.Args().Get(0)
		placeIdx, err := strconv.Atoi(ctx.Args().Get(1))
		if err != nil {
			return err
		}

		b, err := amqpbroker.Dial(amqpbroker.Config{
			URL:               cfg.AMQP.URL,
			Exchange:          cfg.AMQP.Exchange,
			AlternateExchange: cfg.AMQP.AlternateExchange,
			Queue:             cfg.AMQP.Queue,
			RoutingKeys:       cfg.AMQP.RoutingKeys,
		})
		if err != nil {
			return err
		}
		defer b.Disconnect()

		msg := codec.CreateToken{
			NetKey:   netKey,
			PlaceIdx: placeIdx,
			Color:    ctx.Int("color"),
			GroupIdx: ctx.Int("group"),
		}
		if err := b.Publish(context.Background(), cfg.Bindings.CreateToken, msg, 0); err != nil {
			return err
		}
		logger.Info("submitted CreateToken", "net", netKey, "place", placeIdx)
		return nil
	},
}

var inspectCommand = cli.Command{
	Name:      "inspect",
	Usage:     "print a place's marking for a given color",
	ArgsUsage: "<net-key> <place-idx> <color>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 3 {
			return cli.NewExitError("usage: flowctl inspect <net-key> <place-idx> <color>", 1)
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		st, err := openStore(cfg.Store)
		if err != nil {
			return err
		}

		netKey := ctx.Args().Get(0)
		placeIdx, err := strconv.Atoi(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		color, err := strconv.Atoi(ctx.Args().Get(2))
		if err != nil {
			return err
		}

		n := net.Open(st, netKey)
		tokIdx, found, err := n.ColorMarkingTokenIdx(context.Background(), color, placeIdx)
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("place %d is unmarked for color %d\n", placeIdx, color)
			return nil
		}
		tok, err := n.Token(context.Background(), tokIdx)
		if err != nil {
			return err
		}
		fmt.Printf("place %d marked by token %d (group %d), data=%q\n", placeIdx, tok.Idx, tok.GroupIdx, tok.Data)
		return nil
	},
}

func openStore(cfg config.Store) (store.Store, error) {
	switch cfg.Backend {
	case "redis":
		return redisstore.Open(cfg.Addr, cfg.Password, cfg.DB)
	default:
		return badgerstore.Open(cfg.Dir)
	}
}
