package net

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowmesh-io/flowmesh/flowerr"
)

// DefaultResolver resolves the transition kinds netbuilder.Build emits —
// "merge", "bridge", "fanout" — into their Action implementations, reading
// the output-place wiring back out of each transition's Args the way
// netbuilder stashed it at construction time. It deliberately does not
// handle "shell": submitting work is a broker-facing side effect, not a
// pure Petri-net computation, so a caller wiring a dispatch worker wraps
// this resolver with its own "shell" case (see orchestrator.NewResolver).
func DefaultResolver(kind string, args map[string]string) (Action, error) {
	switch kind {
	case "merge":
		outs, err := parseIntList(args["out"])
		if err != nil {
			return nil, err
		}
		return MergeAction{OutputPlaces: outs}, nil
	case "bridge":
		p, err := strconv.Atoi(args["subnet_place"])
		if err != nil {
			return nil, flowerr.Wrap(err, "net: bridge action missing subnet_place")
		}
		return BridgeAction{SubnetPlace: p}, nil
	case "fanout":
		outs, err := parseIntList(args["outs"])
		if err != nil {
			return nil, err
		}
		return FanoutAction{BranchPlaces: outs}, nil
	default:
		return nil, fmt.Errorf("net: no default action for transition kind %q", kind)
	}
}

func parseIntList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, flowerr.Wrap(err, "net: malformed int-list arg")
		}
		out = append(out, v)
	}
	return out, nil
}
