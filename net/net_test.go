package net_test

import (
	"context"
	"testing"

	"github.com/flowmesh-io/flowmesh/net"
	"github.com/flowmesh-io/flowmesh/store/memstore"
)

// singleOutResolver always routes output to place `out`, mirroring a
// transition with exactly one output arc (net.MergeAction needs
// OutputPlaces supplied explicitly, so tests build their own thin
// resolver per arc topology instead of relying on AddTransition's kind).
func singleOutResolver(out int) net.ActionResolver {
	return func(kind string, args map[string]string) (net.Action, error) {
		return net.MergeAction{OutputPlaces: []int{out}}, nil
	}
}

func TestSingleTransitionFires(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf1")

	p0, _ := n.AddPlace(ctx, "p0")
	p1, _ := n.AddPlace(ctx, "p1")
	tr, _ := n.AddTransition(ctx, "merge", nil)
	if err := n.AddPlaceArcOut(ctx, p0, tr); err != nil {
		t.Fatal(err)
	}
	if err := n.AddTransArcOut(ctx, tr, p1); err != nil {
		t.Fatal(err)
	}

	tok, err := n.CreateToken(ctx, 0, -1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.PutToken(ctx, p0, tok); err != nil {
		t.Fatal(err)
	}

	outcome, notify, err := n.FireTransition(ctx, tr, 0, -1, p0, singleOutResolver(p1))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != net.FireReady {
		t.Fatalf("outcome = %v, want FireReady", outcome)
	}
	if len(notify) != 1 || notify[0].Place != p1 {
		t.Fatalf("notify = %v, want [{%d 0}]", notify, p1)
	}

	idx, found, err := n.ColorMarkingTokenIdx(ctx, 0, p1)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("p1 should be marked after firing")
	}
	_ = idx

	count, err := n.GroupMarkingCount(ctx, -1, p1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("group_marking[(-1,p1)] = %d, want 1", count)
	}
}

func TestDuplicateNotifyPlaceDeliveryFiresOnce(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf2")

	p0, _ := n.AddPlace(ctx, "p0")
	p1, _ := n.AddPlace(ctx, "p1")
	tr, _ := n.AddTransition(ctx, "merge", nil)
	n.AddPlaceArcOut(ctx, p0, tr)
	n.AddTransArcOut(ctx, tr, p1)

	tok, _ := n.CreateToken(ctx, 0, -1, nil)
	n.PutToken(ctx, p0, tok)

	resolve := singleOutResolver(p1)

	outcome1, _, err := n.FireTransition(ctx, tr, 0, -1, p0, resolve)
	if err != nil {
		t.Fatal(err)
	}
	if outcome1 != net.FireReady {
		t.Fatalf("first delivery outcome = %v, want FireReady", outcome1)
	}

	outcome2, notify2, err := n.FireTransition(ctx, tr, 0, -1, p0, resolve)
	if err != nil {
		t.Fatal(err)
	}
	if outcome2 != net.FireAlreadyFired {
		t.Fatalf("duplicate delivery outcome = %v, want FireAlreadyFired", outcome2)
	}
	if len(notify2) != 0 {
		t.Fatalf("duplicate delivery should not notify again, got %v", notify2)
	}

	count, _ := n.GroupMarkingCount(ctx, -1, p1)
	if count != 1 {
		t.Fatalf("transition must fire exactly once: group_marking = %d, want 1", count)
	}
}

func TestTwoInputArcsOnlyOneTokenPresent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf3")

	p0, _ := n.AddPlace(ctx, "p0")
	p1, _ := n.AddPlace(ctx, "p1")
	out, _ := n.AddPlace(ctx, "out")
	tr, _ := n.AddTransition(ctx, "merge", nil)
	n.AddPlaceArcOut(ctx, p0, tr)
	n.AddPlaceArcOut(ctx, p1, tr)
	n.AddTransArcOut(ctx, tr, out)

	tok0, _ := n.CreateToken(ctx, 0, -1, nil)
	n.PutToken(ctx, p0, tok0)

	outcome, _, err := n.FireTransition(ctx, tr, 0, -1, p0, singleOutResolver(out))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != net.FireNotReady {
		t.Fatalf("outcome = %v, want FireNotReady with only p0 marked", outcome)
	}

	tok1, _ := n.CreateToken(ctx, 0, -1, nil)
	n.PutToken(ctx, p1, tok1)

	outcome2, notify, err := n.FireTransition(ctx, tr, 0, -1, p1, singleOutResolver(out))
	if err != nil {
		t.Fatal(err)
	}
	if outcome2 != net.FireReady {
		t.Fatalf("outcome = %v, want FireReady once both inputs marked", outcome2)
	}
	if len(notify) != 1 || notify[0].Place != out {
		t.Fatalf("notify = %v, want [{%d 0}]", notify, out)
	}

	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, p0); found {
		t.Fatal("p0 should be unmarked after firing")
	}
	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, p1); found {
		t.Fatal("p1 should be unmarked after firing")
	}
	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, out); !found {
		t.Fatal("out should be marked after firing")
	}
}

func TestSpliceCreatesBridgeTransition(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	h := net.Open(st, "host")

	h0, _ := h.AddPlace(ctx, "h0")
	h.AddPlace(ctx, "h1")

	def := net.SubnetDef{
		NumPlaces:      2,
		NumTransitions: 1,
		PlaceArcsOut:   map[int][]int{0: {0}},
		TransArcsOut:   map[int][]int{0: {1}},
		TransKind:      map[int]string{0: "merge"},
		PlaceNames:     map[int]string{0: "s0", 1: "s1"},
	}

	res, err := h.Splice(ctx, def, map[int]int{h0: 0})
	if err != nil {
		t.Fatal(err)
	}
	bridge, ok := res.BridgeTransition[h0]
	if !ok {
		t.Fatal("expected a bridge transition for h0")
	}

	outs, err := h.PlaceArcsOut(ctx, h0)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, t := range outs {
		if t == bridge {
			found = true
		}
	}
	if !found {
		t.Fatalf("h0.arcs_out = %v, want to contain bridge transition %d", outs, bridge)
	}

	subnetEntry := res.PlaceOffset + 0
	bridgeOuts, err := h.TransArcsOut(ctx, bridge)
	if err != nil {
		t.Fatal(err)
	}
	if len(bridgeOuts) != 1 || bridgeOuts[0] != subnetEntry {
		t.Fatalf("bridge.arcs_out = %v, want [%d]", bridgeOuts, subnetEntry)
	}

	tok, err := h.CreateToken(ctx, 0, -1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.PutToken(ctx, h0, tok); err != nil {
		t.Fatal(err)
	}
	outcome, _, err := h.FireTransition(ctx, bridge, 0, -1, h0, net.DefaultResolver)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != net.FireReady {
		t.Fatalf("expected bridge transition to fire, got outcome %v", outcome)
	}
	if _, found, _ := h.ColorMarkingTokenIdx(ctx, 0, subnetEntry); !found {
		t.Fatal("subnet entry place should be marked after bridge fires")
	}
}
