package dispatch_test

import (
	"context"
	"testing"

	"github.com/flowmesh-io/flowmesh/broker"
	"github.com/flowmesh-io/flowmesh/codec"
	"github.com/flowmesh-io/flowmesh/dispatch"
	"github.com/flowmesh-io/flowmesh/net"
	"github.com/flowmesh-io/flowmesh/store/memstore"
)

type fakeExecutor struct {
	jobID   string
	success bool
	err     error
}

func (f fakeExecutor) Submit(ctx context.Context, commandLine string, options map[string]string) (string, bool, error) {
	return f.jobID, f.success, f.err
}

type recordingBroker struct {
	sent []codec.NotifyPlace
}

func (r *recordingBroker) RegisterHandler(string, broker.Handler) error { return nil }
func (r *recordingBroker) Publish(ctx context.Context, routingKey string, msg codec.Message, causeTag uint64) error {
	if np, ok := msg.(codec.NotifyPlace); ok {
		r.sent = append(r.sent, np)
	}
	return nil
}
func (r *recordingBroker) Listen(ctx context.Context) error { return nil }
func (r *recordingBroker) Disconnect() error                { return nil }

func TestDispatchSuccessPath(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf")
	pre, _ := n.AddPlace(ctx, "pre_dispatch")
	ok, _ := n.AddPlace(ctx, "post_dispatch_success")
	fail, _ := n.AddPlace(ctx, "post_dispatch_failure")

	rb := &recordingBroker{}
	h := &dispatch.Handler{Store: st, Executor: fakeExecutor{jobID: "42", success: true}, Broker: rb, NotifyPlaceKey: "petri.place.notify"}

	err := h.Handle(ctx, broker.Delivery{
		ReceiveTag: 1,
		Message: codec.Submit{
			NetKey:         "wf",
			Color:          0,
			GroupIdx:       -1,
			CommandLine:    "echo hi",
			ResponsePlaces: map[string]int{"pre_dispatch": pre, "post_dispatch_success": ok, "post_dispatch_failure": fail},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, pre); !found {
		t.Fatal("pre_dispatch should be marked")
	}
	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, ok); !found {
		t.Fatal("post_dispatch_success should be marked on executor success")
	}
	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, fail); found {
		t.Fatal("post_dispatch_failure should not be marked on executor success")
	}
	if len(rb.sent) != 2 {
		t.Fatalf("expected 2 NotifyPlace publishes (pre_dispatch, success), got %d", len(rb.sent))
	}
}

func TestDispatchFailurePath(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf")
	pre, _ := n.AddPlace(ctx, "pre_dispatch")
	ok, _ := n.AddPlace(ctx, "post_dispatch_success")
	fail, _ := n.AddPlace(ctx, "post_dispatch_failure")

	rb := &recordingBroker{}
	h := &dispatch.Handler{Store: st, Executor: fakeExecutor{success: false}, Broker: rb, NotifyPlaceKey: "petri.place.notify"}

	err := h.Handle(ctx, broker.Delivery{
		ReceiveTag: 1,
		Message: codec.Submit{
			NetKey:         "wf",
			Color:          0,
			GroupIdx:       -1,
			CommandLine:    "false",
			ResponsePlaces: map[string]int{"pre_dispatch": pre, "post_dispatch_success": ok, "post_dispatch_failure": fail},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, fail); !found {
		t.Fatal("post_dispatch_failure should be marked on executor failure")
	}
	if _, found, _ := n.ColorMarkingTokenIdx(ctx, 0, ok); found {
		t.Fatal("post_dispatch_success should not be marked on executor failure")
	}
}
