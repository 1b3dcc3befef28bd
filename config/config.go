// Package config loads the TOML settings a flowmesh process needs to
// stand itself up: the AMQP exchange topology, the store backend, the
// routing-key bindings for the orchestrator and any dispatch workers,
// per-executor options, and a constants block. The decoder setup is lifted from the
// teacher's cmd/ranger/config.go tomlSettings: field names are taken
// verbatim from the TOML keys (no case-folding), and an unrecognized
// field is a load error rather than being silently ignored.
package config

import (
	"bufio"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return errors.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// AMQP names the exchange topology broker/amqpbroker.Config requires.
type AMQP struct {
	URL                  string
	Exchange             string
	AlternateExchange    string
	Queue                string
	RoutingKeys          []string
	UsePublisherConfirms bool
	PrefetchCount        int
}

// Store selects and parameterizes the token/marking backend.
type Store struct {
	Backend string // "badger" or "redis"

	// badger
	Dir string

	// redis
	Addr     string
	Password string
	DB       int
}

// Bindings maps the orchestrator/dispatch routing keys used to wire
// broker.Broker.RegisterHandler, so a deployment can rename them without
// a code change.
type Bindings struct {
	CreateToken      string
	NotifyPlace      string
	NotifyTransition string
	Submit           string
}

// Executor selects the dispatch worker's unit-of-work backend and its
// tunables, covering both executor/fork and executor/lsf.
type Executor struct {
	Kind         string // "fork" or "lsf"
	Shell        string // fork only
	BsubPath     string // lsf only
	DefaultQueue string // lsf only
}

// Constants holds the document's constants block (user, group,
// environment, working directory). Load decodes it; no executor or other
// package reads it, so nothing is substituted into command lines.
type Constants struct {
	UserID      string
	GroupID     string
	Environment string
	WorkingDir  string
}

// Config is the root TOML document.
type Config struct {
	AMQP      AMQP
	Store     Store
	Bindings  Bindings
	Executor  Executor
	Constants Constants
}

// Default returns a Config with the same routing-key and queue defaults
// orchestrator.DefaultRoutingKeys uses, so a config file only needs to
// override what differs from those defaults.
func Default() Config {
	return Config{
		AMQP: AMQP{
			Exchange:      "flowmesh",
			Queue:         "flowmesh.orchestrator",
			PrefetchCount: 1,
		},
		Store: Store{
			Backend: "badger",
			Dir:     "flowmesh-data",
		},
		Bindings: Bindings{
			CreateToken:      "petri.token.create",
			NotifyPlace:      "petri.place.notify",
			NotifyTransition: "petri.transition.notify",
			Submit:           "petri.place.submit",
		},
		Executor: Executor{
			Kind:  "fork",
			Shell: "/bin/sh",
		},
	}
}

// Load reads and decodes file into cfg, starting from Default() and
// overlaying whatever the TOML document specifies. Errors from the TOML
// parser carry a line number; Load annotates those with the file name
// the way the teacher's loadConfig does.
func Load(file string) (Config, error) {
	cfg := Default()

	f, err := os.Open(file)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return cfg, errors.New(file + ", " + err.Error())
		}
		return cfg, err
	}
	return cfg, nil
}
