// Package store defines the atomic scripted key-value primitives the net
// and transition engine are built on. Every read-modify-write sequence that
// must be atomic against concurrent firings is expressed as a single Store
// method (PutToken, ConsumeTokensBasic), never as separate Get/Set
// round-trips.
package store

import "context"

// Store is the minimal surface the net package depends on. Three
// implementations are provided: badgerstore (single process, transactional),
// redisstore (distributed, Lua EVAL-based) and memstore (in-memory, for
// tests) — all satisfy identical atomicity guarantees for PutToken and
// ConsumeTokensBasic.
type Store interface {
	// HGet/HSet/HGetAll/HIncrBy operate on a flat per-key hash, used for
	// constants/variables and the counters/color_groups hashes (§6).
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// SAdd/SMembers/SIsMember back arcs_in/arcs_out/enablers-as-sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// SetNX sets key=value iff key is unset; used for write-once values
	// (a place's first_token_timestamp, workflow constants). The
	// num_places/num_transitions/... counters use HIncrBy instead.
	SetNX(ctx context.Context, key, value string) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// PutToken is the atomic §4.1 put_token script: fails with
	// ErrDuplicateToken if (color, placeIdx) is already marked.
	PutToken(ctx context.Context, netKey string, placeIdx, tokenIdx, color, groupIdx int) error

	// ConsumeTokensBasic is the atomic §4.3 consume_tokens pre-firing
	// check. placeArcsIn is the ordered list of input place indices.
	ConsumeTokensBasic(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)

	// MarkFired advances (transition, color) from firing to fired once the
	// action has produced its outputs.
	MarkFired(ctx context.Context, netKey string, transition, color int) error

	// Close releases backend resources (file handles, connections).
	Close() error
}

// ConsumeRequest bundles the keys/args consume_tokens needs, mirroring the
// positional argument list of spec.md §4.1's consume_tokens_basic script.
type ConsumeRequest struct {
	NetKey      string
	Transition  int
	Color       int
	GroupIdx    int
	EnablerIdx  int
	PlaceArcsIn []int
}

// Outcome enumerates the result of a ConsumeTokensBasic call.
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeNotReady
	OutcomeAlreadyEnabled
	OutcomeAlreadyFired
)

// ConsumeResult reports the outcome and, when Ready, the tokens consumed
// from each input place (keyed by the input place's index).
type ConsumeResult struct {
	Outcome       Outcome
	ConsumedColor int
	PlaceTokens   map[int]int // place idx -> token idx consumed
}
