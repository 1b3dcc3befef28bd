package orchestrator_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/flowmesh-io/flowmesh/broker"
	"github.com/flowmesh-io/flowmesh/codec"
	"github.com/flowmesh-io/flowmesh/net"
	"github.com/flowmesh-io/flowmesh/orchestrator"
	"github.com/flowmesh-io/flowmesh/store"
	"github.com/flowmesh-io/flowmesh/store/memstore"
)

type published struct {
	routingKey string
	msg        codec.Message
}

// recordingBroker is a minimal broker.Broker that records every Publish
// call instead of putting it on a real bus, so tests can assert on the
// follow-up messages a handler produced without standing up AMQP.
type recordingBroker struct {
	sent []published
}

func (r *recordingBroker) RegisterHandler(string, broker.Handler) error { return nil }

func (r *recordingBroker) Publish(ctx context.Context, routingKey string, msg codec.Message, causeTag uint64) error {
	r.sent = append(r.sent, published{routingKey, msg})
	return nil
}

func (r *recordingBroker) Listen(ctx context.Context) error { return nil }
func (r *recordingBroker) Disconnect() error                { return nil }

func mergeAll(out int) net.ActionResolver {
	return func(kind string, args map[string]string) (net.Action, error) {
		return net.MergeAction{OutputPlaces: []int{out}}, nil
	}
}

func newTestServices(resolve net.ActionResolver) (*orchestrator.Services, store.Store, *recordingBroker) {
	st := memstore.New()
	rb := &recordingBroker{}
	return &orchestrator.Services{
		Store:   st,
		Broker:  rb,
		Resolve: resolve,
		Keys:    orchestrator.DefaultRoutingKeys(),
	}, st, rb
}

func TestCreateTokenPublishesNotifyPlace(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf")
	p0, _ := n.AddPlace(ctx, "p0")

	rb := &recordingBroker{}
	svc := &orchestrator.Services{Store: st, Broker: rb, Keys: orchestrator.DefaultRoutingKeys()}

	err := svc.HandleCreateToken(ctx, broker.Delivery{
		ReceiveTag: 1,
		Message:    codec.CreateToken{NetKey: "wf", PlaceIdx: p0, Color: 0, GroupIdx: -1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rb.sent) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(rb.sent))
	}
	np, ok := rb.sent[0].msg.(codec.NotifyPlace)
	if !ok || np.PlaceIdx != p0 {
		t.Fatalf("expected NotifyPlace for place %d, got %#v", p0, rb.sent[0].msg)
	}
}

// TestFullChainFiresTransition drives CreateToken -> NotifyPlace ->
// NotifyTransition end to end, the same sequence a live broker delivery
// chain would produce for scenario 1 of spec.md §8.
func TestFullChainFiresTransition(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf")

	p0, _ := n.AddPlace(ctx, "p0")
	p1, _ := n.AddPlace(ctx, "p1")
	tr, _ := n.AddTransition(ctx, "merge", nil)
	n.AddPlaceArcOut(ctx, p0, tr)
	n.AddTransArcOut(ctx, tr, p1)

	rb := &recordingBroker{}
	svc := &orchestrator.Services{Store: st, Broker: rb, Resolve: mergeAll(p1), Keys: orchestrator.DefaultRoutingKeys()}

	if err := svc.HandleCreateToken(ctx, broker.Delivery{
		ReceiveTag: 1,
		Message:    codec.CreateToken{NetKey: "wf", PlaceIdx: p0, Color: 0, GroupIdx: -1},
	}); err != nil {
		t.Fatal(err)
	}
	notifyPlaceMsg := rb.sent[len(rb.sent)-1].msg.(codec.NotifyPlace)

	if err := svc.HandleNotifyPlace(ctx, broker.Delivery{ReceiveTag: 2, Message: notifyPlaceMsg}); err != nil {
		t.Fatal(err)
	}
	notifyTransMsg := rb.sent[len(rb.sent)-1].msg.(codec.NotifyTransition)
	if notifyTransMsg.TransitionIdx != tr {
		t.Fatalf("expected NotifyTransition for transition %d, got %d", tr, notifyTransMsg.TransitionIdx)
	}

	if err := svc.HandleNotifyTransition(ctx, broker.Delivery{ReceiveTag: 3, Message: notifyTransMsg}); err != nil {
		t.Fatal(err)
	}
	last := rb.sent[len(rb.sent)-1].msg.(codec.NotifyPlace)
	if last.PlaceIdx != p1 {
		t.Fatalf("expected final NotifyPlace for p1, got %d", last.PlaceIdx)
	}

	idx, found, err := n.ColorMarkingTokenIdx(ctx, 0, p1)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("p1 should be marked after the chain completes")
	}
	_ = idx
}

// TestDispatchActionPublishesCorrectResponsePlaces wires a "shell"
// transition's output arcs in an order that deliberately contradicts the
// pre_dispatch/success/failure creation order, mimicking what a
// set-backed store's unordered arcs_out can return. orchestrator.NewResolver
// must still recover the right response place per name from the
// transition's own Args, not from arcs_out position.
func TestDispatchActionPublishesCorrectResponsePlaces(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf")

	start, _ := n.AddPlace(ctx, "start")
	preDispatch, _ := n.AddPlace(ctx, "pre_dispatch")
	success, _ := n.AddPlace(ctx, "success")
	failure, _ := n.AddPlace(ctx, "failure")

	dispatchT, err := n.AddTransition(ctx, "shell", map[string]string{
		"command":                     "make",
		"place.pre_dispatch":          fmt.Sprint(preDispatch),
		"place.post_dispatch_success": fmt.Sprint(success),
		"place.post_dispatch_failure": fmt.Sprint(failure),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.AddPlaceArcOut(ctx, start, dispatchT); err != nil {
		t.Fatal(err)
	}
	// Arcs deliberately created out of pre_dispatch/success/failure order.
	for _, p := range []int{failure, success, preDispatch} {
		if err := n.AddTransArcOut(ctx, dispatchT, p); err != nil {
			t.Fatal(err)
		}
	}

	rb := &recordingBroker{}
	resolve := orchestrator.NewResolver(rb, "petri.place.submit")

	tok, err := n.CreateToken(ctx, 0, -1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.PutToken(ctx, start, tok); err != nil {
		t.Fatal(err)
	}
	if _, _, err := n.FireTransition(ctx, dispatchT, 0, -1, start, resolve); err != nil {
		t.Fatal(err)
	}

	if len(rb.sent) != 1 {
		t.Fatalf("expected 1 published Submit, got %d", len(rb.sent))
	}
	submit, ok := rb.sent[0].msg.(codec.Submit)
	if !ok {
		t.Fatalf("expected a Submit message, got %#v", rb.sent[0].msg)
	}
	wantPlaces := map[string]int{
		"pre_dispatch":           preDispatch,
		"post_dispatch_success": success,
		"post_dispatch_failure": failure,
	}
	for name, want := range wantPlaces {
		if got := submit.ResponsePlaces[name]; got != want {
			t.Fatalf("ResponsePlaces[%q] = %d, want %d (submit.ResponsePlaces=%v)", name, got, want, submit.ResponsePlaces)
		}
	}
}

func TestNotifyTransitionIdempotentUnderDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	svc, st, rb := newTestServices(nil)
	_ = st
	n := net.Open(svc.Store, "wf")

	p0, _ := n.AddPlace(ctx, "p0")
	p1, _ := n.AddPlace(ctx, "p1")
	tr, _ := n.AddTransition(ctx, "merge", nil)
	n.AddPlaceArcOut(ctx, p0, tr)
	n.AddTransArcOut(ctx, tr, p1)
	svc.Resolve = mergeAll(p1)

	tok, _ := n.CreateToken(ctx, 0, -1, nil)
	n.PutToken(ctx, p0, tok)

	msg := codec.NotifyTransition{NetKey: "wf", TransitionIdx: tr, Color: 0, GroupIdx: -1, EnablerIdx: p0, TokenIdx: tok.Idx}

	if err := svc.HandleNotifyTransition(ctx, broker.Delivery{ReceiveTag: 1, Message: msg}); err != nil {
		t.Fatal(err)
	}
	firstCount := len(rb.sent)

	if err := svc.HandleNotifyTransition(ctx, broker.Delivery{ReceiveTag: 2, Message: msg}); err != nil {
		t.Fatal(err)
	}
	if len(rb.sent) != firstCount {
		t.Fatalf("duplicate NotifyTransition should not publish again: before=%d after=%d", firstCount, len(rb.sent))
	}
}
