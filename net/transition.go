package net

import (
	"context"

	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/store"
)

// FireOutcome mirrors store.Outcome at the net package's level, the result
// of the atomic consume_tokens pre-firing check of spec.md §4.3.
type FireOutcome int

const (
	FireReady FireOutcome = iota
	FireNotReady
	FireAlreadyEnabled
	FireAlreadyFired
)

// Action is the polymorphic capability a transition's firing invokes once
// it is Ready: {no-op merge, shell-command dispatch, bridge}. It receives
// the tokens consumed from the transition's input places (keyed by place
// index) and returns the tokens to push onto each output place.
//
// Grounded on the teacher's consensus.Engine / work.Agent boundary
// (work/agent.go's Work()/SetReturnCh() pluggable unit of external work):
// the engine depends only on this interface, never on a concrete executor.
type Action interface {
	// Fire runs the transition's side effect (if any) and returns the
	// output tokens to create, one per (color, outputs...) — a merge
	// action typically returns one token per output place using the
	// firing color; a shell-dispatch action may mint new colors within a
	// child color group for fanned-out work.
	Fire(ctx context.Context, fc FireContext) ([]OutputToken, error)
}

// FireContext is everything an Action needs: the firing transition, the
// enabling color/group, and the tokens just consumed from each input
// place.
type FireContext struct {
	Net           *Net
	Transition    Transition
	Color         int
	GroupIdx      int
	ConsumedToken map[int]*Token // place idx -> consumed token
}

// OutputToken is one token an action wants created and placed.
type OutputToken struct {
	Place    int
	Color    int
	GroupIdx int
	Data     []byte
}

// ActionResolver maps a transition's Kind to the Action implementation
// that should run it; supplied by the orchestrator so the engine never
// imports the dispatch/executor packages directly.
type ActionResolver func(kind string, args map[string]string) (Action, error)

// ConsumeTokens runs the atomic pre-firing check of spec.md §4.3 for
// (transitionIdx, color), enabled by a notification arriving from
// enablerIdx (the place whose marking triggered this attempt).
func (n *Net) ConsumeTokens(ctx context.Context, transitionIdx, color, groupIdx, enablerIdx int) (FireOutcome, map[int]*Token, error) {
	arcsIn, err := n.TransArcsIn(ctx, transitionIdx)
	if err != nil {
		return FireNotReady, nil, err
	}

	req := store.ConsumeRequest{
		NetKey:      n.Key,
		Transition:  transitionIdx,
		Color:       color,
		GroupIdx:    groupIdx,
		EnablerIdx:  enablerIdx,
		PlaceArcsIn: arcsIn,
	}
	res, err := n.Store.ConsumeTokensBasic(ctx, req)
	if err != nil {
		return FireNotReady, nil, err
	}

	switch res.Outcome {
	case store.OutcomeAlreadyFired:
		return FireAlreadyFired, nil, nil
	case store.OutcomeAlreadyEnabled:
		return FireAlreadyEnabled, nil, nil
	case store.OutcomeNotReady:
		return FireNotReady, nil, nil
	}

	consumed := make(map[int]*Token, len(res.PlaceTokens))
	for place, tokIdx := range res.PlaceTokens {
		tok, err := n.Token(ctx, tokIdx)
		if err != nil {
			return FireNotReady, nil, err
		}
		consumed[place] = tok
	}
	return FireReady, consumed, nil
}

// FireTransition runs ConsumeTokens and, if Ready, resolves and invokes the
// transition's Action, pushes every returned output token onto its place
// (idempotent under re-delivery via Store.PutToken), and marks the
// (transition, color) state as fired. It returns the (place, color) pairs
// the caller (the orchestrator) must publish NotifyPlace for.
func (n *Net) FireTransition(ctx context.Context, transitionIdx, color, groupIdx, enablerIdx int, resolve ActionResolver) (FireOutcome, []PlaceColor, error) {
	outcome, consumed, err := n.ConsumeTokens(ctx, transitionIdx, color, groupIdx, enablerIdx)
	if err != nil || outcome != FireReady {
		return outcome, nil, err
	}

	trans, err := n.Transition(ctx, transitionIdx)
	if err != nil {
		return FireReady, nil, err
	}
	action, err := resolve(trans.Kind, trans.Args)
	if err != nil {
		return FireReady, nil, flowerr.Wrap(err, "net: resolve action")
	}

	outputs, err := action.Fire(ctx, FireContext{
		Net:           n,
		Transition:    trans,
		Color:         color,
		GroupIdx:      groupIdx,
		ConsumedToken: consumed,
	})
	if err != nil {
		return FireReady, nil, flowerr.Wrap(err, "net: action fire")
	}

	var notify []PlaceColor
	for _, out := range outputs {
		tok, err := n.CreateToken(ctx, out.Color, out.GroupIdx, out.Data)
		if err != nil {
			return FireReady, notify, err
		}
		if err := n.PutToken(ctx, out.Place, tok); err != nil && flowerr.Cause(err) != flowerr.ErrDuplicateToken {
			return FireReady, notify, err
		}
		notify = append(notify, PlaceColor{Place: out.Place, Color: out.Color})
	}

	if err := n.Store.MarkFired(ctx, n.Key, transitionIdx, color); err != nil {
		return FireReady, notify, err
	}
	return FireReady, notify, nil
}
