// Package dispatch is the external-collaborator boundary of spec.md §4.6:
// it receives a Submit message, puts a token into response_places
// ["pre_dispatch"], invokes an executor.Executor, and puts a token into
// either "post_dispatch_success" or "post_dispatch_failure" carrying the
// returned job id. It is registered as a broker.Handler the same way the
// orchestrator's own handlers are, so a dispatch worker is just another
// consumer of the same bus.
package dispatch

import (
	"context"

	"github.com/flowmesh-io/flowmesh/broker"
	"github.com/flowmesh-io/flowmesh/codec"
	"github.com/flowmesh-io/flowmesh/executor"
	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/log"
	"github.com/flowmesh-io/flowmesh/metrics"
	"github.com/flowmesh-io/flowmesh/net"
	"github.com/flowmesh-io/flowmesh/store"
)

var logger = log.NewModuleLogger(log.Dispatch)

// Handler bridges Submit messages to an Executor, keyed by the
// orchestrator's own routing key for NotifyPlace so the tokens it places
// re-enter the same marking/notify pipeline as any other output.
type Handler struct {
	Store          store.Store
	Executor       executor.Executor
	Broker         broker.Broker
	NotifyPlaceKey string
	Metrics        *metrics.Registry // optional; nil disables counters
}

func (h *Handler) netFor(key string) *net.Net { return net.Open(h.Store, key) }

// Handle implements broker.Handler for the Submit message class.
func (h *Handler) Handle(ctx context.Context, d broker.Delivery) error {
	m, ok := d.Message.(codec.Submit)
	if !ok {
		return nil
	}
	n := h.netFor(m.NetKey)

	if err := h.putAndNotify(ctx, d.ReceiveTag, n, m, "pre_dispatch", nil); err != nil {
		return err
	}

	if h.Metrics != nil {
		h.Metrics.DispatchSubmitted.Inc(1)
	}
	jobID, success, err := h.Executor.Submit(ctx, m.CommandLine, m.Options)
	if err != nil {
		logger.Error("dispatch: executor submission errored", "net", m.NetKey, "transition", m.TransitionIdx, "err", err)
	}

	place := "post_dispatch_failure"
	if success {
		place = "post_dispatch_success"
	}
	if h.Metrics != nil {
		if success {
			h.Metrics.DispatchSucceeded.Inc(1)
		} else {
			h.Metrics.DispatchFailed.Inc(1)
		}
	}
	return h.putAndNotify(ctx, d.ReceiveTag, n, m, place, []byte(jobID))
}

func (h *Handler) putAndNotify(ctx context.Context, causeTag uint64, n *net.Net, m codec.Submit, placeKey string, data []byte) error {
	placeIdx, ok := m.ResponsePlaces[placeKey]
	if !ok {
		return nil
	}
	tok, err := n.CreateToken(ctx, m.Color, m.GroupIdx, data)
	if err != nil {
		return err
	}
	if err := n.PutToken(ctx, placeIdx, tok); err != nil && !flowerr.Is(err, flowerr.ErrDuplicateToken) {
		return err
	}
	return h.Broker.Publish(ctx, h.NotifyPlaceKey, codec.NotifyPlace{
		NetKey: m.NetKey, PlaceIdx: placeIdx, Color: m.Color, GroupIdx: m.GroupIdx,
	}, causeTag)
}
