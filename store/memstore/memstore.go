// Package memstore is an in-memory store.Store used by package tests
// across the repository, so net/orchestrator/dispatch/netbuilder tests can
// exercise real atomicity semantics without standing up badger or redis. It
// mirrors badgerstore's single-transaction-per-call shape, just guarded by
// a plain mutex instead of an MVCC engine.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/store"
)

type Store struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	sets    map[string]map[string]bool
	strings map[string]string
	fired   map[string]bool
	enabled map[string]bool
}

func New() *Store {
	return &Store{
		hashes:  map[string]map[string]string{},
		sets:    map[string]map[string]bool{},
		strings: map[string]string{},
		fired:   map[string]bool{},
		enabled: map[string]bool{},
	}
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[key] == nil {
		s.hashes[key] = map[string]string{}
	}
	s.hashes[key][field] = value
	return nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[key] == nil {
		s.hashes[key] = map[string]string{}
	}
	cur, _ := strconv.ParseInt(s.hashes[key][field], 10, 64)
	cur += delta
	s.hashes[key][field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[key] == nil {
		s.sets[key] = map[string]bool{}
	}
	for _, m := range members {
		s.sets[key][m] = true
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[key][member], nil
}

func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strings[key]; ok {
		return false, nil
	}
	s.strings[key] = value
	return true, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.strings[key]
	return v, ok, nil
}

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := strconv.ParseInt(s.strings[key], 10, 64)
	cur += delta
	s.strings[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func markingField(color, place int) string { return fmt.Sprintf("%d:%d", color, place) }
func groupField(group, place int) string   { return fmt.Sprintf("%d:%d", group, place) }

// PutToken implements spec.md §4.1's put_token atomically under s.mu: a
// single critical section checks and sets the marking, exactly as
// badgerstore does inside one db.Update transaction.
func (s *Store) PutToken(ctx context.Context, netKey string, placeIdx, tokenIdx, color, groupIdx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	markingKey := netKey + ":color_marking"
	field := markingField(color, placeIdx)
	if s.hashes[markingKey] != nil {
		if _, ok := s.hashes[markingKey][field]; ok {
			return flowerr.ErrDuplicateToken
		}
	} else {
		s.hashes[markingKey] = map[string]string{}
	}
	s.hashes[markingKey][field] = strconv.Itoa(tokenIdx)

	groupKey := netKey + ":group_marking"
	if s.hashes[groupKey] == nil {
		s.hashes[groupKey] = map[string]string{}
	}
	gField := groupField(groupIdx, placeIdx)
	cur, _ := strconv.Atoi(s.hashes[groupKey][gField])
	s.hashes[groupKey][gField] = strconv.Itoa(cur + 1)
	return nil
}

// ConsumeTokensBasic implements the spec.md §4.3 atomic pre-firing check
// in one critical section.
func (s *Store) ConsumeTokensBasic(ctx context.Context, req store.ConsumeRequest) (store.ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateKey := fmt.Sprintf("%s:T:%d:C:%d:state", req.NetKey, req.Transition, req.Color)
	if s.fired[stateKey] {
		return store.ConsumeResult{Outcome: store.OutcomeAlreadyFired}, nil
	}

	enablerKey := fmt.Sprintf("%s:T:%d:C:%d:enablers:%d", req.NetKey, req.Transition, req.Color, req.EnablerIdx)
	if s.enabled[enablerKey] {
		return store.ConsumeResult{Outcome: store.OutcomeAlreadyEnabled}, nil
	}
	s.enabled[enablerKey] = true

	markingKey := req.NetKey + ":color_marking"
	placeTokens := map[int]int{}
	for _, p := range req.PlaceArcsIn {
		field := markingField(req.Color, p)
		v, ok := s.hashes[markingKey][field]
		if !ok {
			return store.ConsumeResult{Outcome: store.OutcomeNotReady}, nil
		}
		idx, _ := strconv.Atoi(v)
		placeTokens[p] = idx
	}

	groupKey := req.NetKey + ":group_marking"
	for _, p := range req.PlaceArcsIn {
		field := markingField(req.Color, p)
		delete(s.hashes[markingKey], field)
		gField := groupField(req.GroupIdx, p)
		cur, _ := strconv.Atoi(s.hashes[groupKey][gField])
		if cur > 0 {
			s.hashes[groupKey][gField] = strconv.Itoa(cur - 1)
		}
	}

	return store.ConsumeResult{Outcome: store.OutcomeReady, ConsumedColor: req.Color, PlaceTokens: placeTokens}, nil
}

func (s *Store) MarkFired(ctx context.Context, netKey string, transition, color int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired[fmt.Sprintf("%s:T:%d:C:%d:state", netKey, transition, color)] = true
	return nil
}

func (s *Store) Close() error { return nil }
