// Package orchestrator wires the three message handlers of spec.md §4.4
// (CreateToken, NotifyPlace, NotifyTransition) to a store-backed net.Net
// and a broker.Broker, publishing follow-up messages as each handler
// advances the Petri net. The constructor-injected Services struct is
// adapted from the teacher's node.ServiceContext (node/service.go):
// rather than a registry of reflect-typed Service instances wired at node
// start, Services holds the handful of capabilities (store, broker,
// action resolver) every handler needs, resolved once at startup.
package orchestrator

import (
	"context"

	"github.com/flowmesh-io/flowmesh/broker"
	"github.com/flowmesh-io/flowmesh/codec"
	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/log"
	"github.com/flowmesh-io/flowmesh/metrics"
	"github.com/flowmesh-io/flowmesh/net"
	"github.com/flowmesh-io/flowmesh/store"
)

var logger = log.NewModuleLogger(log.Orchestrator)

// RoutingKeys names the three AMQP routing keys the orchestrator's
// handlers bind to, and the ones it publishes follow-up messages on.
type RoutingKeys struct {
	CreateToken      string
	NotifyPlace      string
	NotifyTransition string
}

// DefaultRoutingKeys matches the original implementation's
// "petri.place.set_token"-style naming (flow/petri/netbuilder.py's demo
// publishes SetTokenMessage on routing key "petri.place.set_token").
func DefaultRoutingKeys() RoutingKeys {
	return RoutingKeys{
		CreateToken:      "petri.token.create",
		NotifyPlace:      "petri.place.notify",
		NotifyTransition: "petri.transition.notify",
	}
}

// Services is the constructor-injected capability set every handler
// closes over.
type Services struct {
	Store   store.Store
	Broker  broker.Broker
	Resolve net.ActionResolver
	Keys    RoutingKeys
	Metrics *metrics.Registry // optional; nil disables counters
}

func (s *Services) netFor(key string) *net.Net { return net.Open(s.Store, key) }

// RegisterHandlers binds all three handlers to their routing keys on the
// broker, the wiring step a service entrypoint (cmd/flowmeshd) performs
// once at startup.
func (s *Services) RegisterHandlers() error {
	if err := s.Broker.RegisterHandler(s.Keys.CreateToken, s.HandleCreateToken); err != nil {
		return err
	}
	if err := s.Broker.RegisterHandler(s.Keys.NotifyPlace, s.HandleNotifyPlace); err != nil {
		return err
	}
	if err := s.Broker.RegisterHandler(s.Keys.NotifyTransition, s.HandleNotifyTransition); err != nil {
		return err
	}
	return nil
}

// HandleCreateToken mints a token at (net_key, place_idx) and publishes
// NotifyPlace so downstream transitions can check enablement.
func (s *Services) HandleCreateToken(ctx context.Context, d broker.Delivery) error {
	m, ok := d.Message.(codec.CreateToken)
	if !ok {
		return nil
	}
	n := s.netFor(m.NetKey)
	tok, err := n.CreateToken(ctx, m.Color, m.GroupIdx, m.Data)
	if err != nil {
		return err
	}
	if err := n.PutToken(ctx, m.PlaceIdx, tok); err != nil {
		if flowerr.Is(err, flowerr.ErrDuplicateToken) {
			return nil
		}
		return err
	}
	logger.Debug("token created", "net", m.NetKey, "place", m.PlaceIdx, "color", m.Color)
	if s.Metrics != nil {
		s.Metrics.TokensCreated.Inc(1)
	}
	return s.Broker.Publish(ctx, s.Keys.NotifyPlace, codec.NotifyPlace{
		NetKey: m.NetKey, PlaceIdx: m.PlaceIdx, Color: m.Color, GroupIdx: m.GroupIdx,
	}, d.ReceiveTag)
}

// HandleNotifyPlace checks that (color, place) is actually marked, then
// publishes a NotifyTransition for every downstream transition fed by
// that place, carrying the place itself as the enabler and the marking
// token's index alongside it.
func (s *Services) HandleNotifyPlace(ctx context.Context, d broker.Delivery) error {
	m, ok := d.Message.(codec.NotifyPlace)
	if !ok {
		return nil
	}
	n := s.netFor(m.NetKey)

	tokenIdx, found, err := n.ColorMarkingTokenIdx(ctx, m.Color, m.PlaceIdx)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	transitions, err := n.PlaceArcsOut(ctx, m.PlaceIdx)
	if err != nil {
		return err
	}
	for _, t := range transitions {
		if err := s.Broker.Publish(ctx, s.Keys.NotifyTransition, codec.NotifyTransition{
			NetKey:        m.NetKey,
			TransitionIdx: t,
			Color:         m.Color,
			GroupIdx:      m.GroupIdx,
			EnablerIdx:    m.PlaceIdx,
			TokenIdx:      tokenIdx,
		}, d.ReceiveTag); err != nil {
			return err
		}
	}
	return nil
}

// HandleNotifyTransition attempts to fire one (transition, color); on
// FireReady it publishes NotifyPlace for every output the fired action
// produced. All other outcomes (NotReady, AlreadyEnabled, AlreadyFired)
// are silent no-ops, per spec.md §4.3's "every step is idempotent" clause.
func (s *Services) HandleNotifyTransition(ctx context.Context, d broker.Delivery) error {
	m, ok := d.Message.(codec.NotifyTransition)
	if !ok {
		return nil
	}
	n := s.netFor(m.NetKey)

	outcome, notify, err := n.FireTransition(ctx, m.TransitionIdx, m.Color, m.GroupIdx, m.EnablerIdx, s.Resolve)
	if err != nil {
		return err
	}
	if s.Metrics != nil {
		switch outcome {
		case net.FireReady:
			s.Metrics.TransitionsFired.Inc(1)
		case net.FireNotReady:
			s.Metrics.TransitionsNotReady.Inc(1)
		case net.FireAlreadyEnabled:
			s.Metrics.TransitionsReenabled.Inc(1)
		}
	}
	if outcome != net.FireReady {
		return nil
	}
	for _, pc := range notify {
		if err := s.Broker.Publish(ctx, s.Keys.NotifyPlace, codec.NotifyPlace{
			NetKey: m.NetKey, PlaceIdx: pc.Place, Color: pc.Color, GroupIdx: m.GroupIdx,
		}, d.ReceiveTag); err != nil {
			return err
		}
	}
	return nil
}
