package orchestrator

import (
	"context"
	"strconv"
	"strings"

	"github.com/flowmesh-io/flowmesh/broker"
	"github.com/flowmesh-io/flowmesh/codec"
	"github.com/flowmesh-io/flowmesh/net"
)

// DispatchAction publishes a Submit message instead of producing output
// tokens directly: the dispatch worker listening on SubmitKey
// (dispatch.Handler) places the pre_dispatch/post_dispatch_success/
// post_dispatch_failure tokens itself once the command actually runs,
// re-entering the same NotifyPlace pipeline as any other marking. Fire
// therefore always returns no OutputTokens — MarkFired still records the
// firing so a redelivered NotifyTransition doesn't resubmit the command.
type DispatchAction struct {
	Broker         broker.Broker
	SubmitKey      string
	CommandLine    string
	Options        map[string]string
	ResponsePlaces map[string]int
}

func (a DispatchAction) Fire(ctx context.Context, fc net.FireContext) ([]net.OutputToken, error) {
	err := a.Broker.Publish(ctx, a.SubmitKey, codec.Submit{
		NetKey:         fc.Net.Key,
		TransitionIdx:  fc.Transition.Idx,
		Color:          fc.Color,
		GroupIdx:       fc.GroupIdx,
		CommandLine:    a.CommandLine,
		ResponsePlaces: a.ResponsePlaces,
		Options:        a.Options,
	}, 0)
	return nil, err
}

// responsePlaceArgPrefix names the netbuilder.buildShellStage convention: a
// "shell" transition's Args carries each response place's index keyed by
// "place.<name>" rather than relying on arcs_out iteration order, which a
// set-backed store gives no ordering guarantee over.
const responsePlaceArgPrefix = "place."

// NewResolver wraps net.DefaultResolver with the one kind it deliberately
// leaves unhandled, "shell", giving transitions built by
// netbuilder.buildShellStage a working Action once a broker is available
// to publish Submit on.
func NewResolver(b broker.Broker, submitKey string) net.ActionResolver {
	return func(kind string, args map[string]string) (net.Action, error) {
		if kind != "shell" {
			return net.DefaultResolver(kind, args)
		}
		opts := make(map[string]string, len(args))
		responsePlaces := make(map[string]int, 3)
		for k, v := range args {
			switch {
			case strings.HasPrefix(k, "opt."):
				opts[strings.TrimPrefix(k, "opt.")] = v
			case strings.HasPrefix(k, responsePlaceArgPrefix):
				idx, err := strconv.Atoi(v)
				if err != nil {
					return nil, err
				}
				responsePlaces[strings.TrimPrefix(k, responsePlaceArgPrefix)] = idx
			}
		}
		return DispatchAction{
			Broker:         b,
			SubmitKey:      submitKey,
			CommandLine:    args["command"],
			Options:        opts,
			ResponsePlaces: responsePlaces,
		}, nil
	}
}
