package net

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/log"
	"github.com/flowmesh-io/flowmesh/store"
)

var logger = log.NewModuleLogger(log.Net)

// Net is a handle onto one workflow's Petri net state in the store,
// addressed by its opaque Key. All mutation happens through Store's atomic
// primitives — Net itself holds no in-memory marking.
type Net struct {
	Key   string
	Store store.Store

	transCache *transitionCache
}

const defaultTransitionCacheSize = 4096

// Open returns a handle onto the net identified by key. It does not
// validate that the net has been constructed; AddPlace et al. create it
// lazily via the store's counters.
func Open(st store.Store, key string) *Net {
	return &Net{Key: key, Store: st, transCache: newTransitionCache(defaultTransitionCacheSize)}
}

func (n *Net) placeKey(idx int) string { return fmt.Sprintf("%s:P:%d", n.Key, idx) }
func (n *Net) transKey(idx int) string { return fmt.Sprintf("%s:T:%d", n.Key, idx) }
func (n *Net) tokenKey(idx int) string { return fmt.Sprintf("%s:t:%d", n.Key, idx) }
func (n *Net) countersKey() string     { return n.Key + ":counters" }
func (n *Net) colorGroupsKey() string  { return n.Key + ":color_groups" }

// nextIndex atomically reserves `by` consecutive indices from the named
// monotonic counter and returns the first one, implementing the
// "counters are strictly monotonic" invariant of spec.md §3.
func (n *Net) nextIndex(ctx context.Context, counter string, by int) (int, error) {
	total, err := n.Store.HIncrBy(ctx, n.countersKey(), counter, int64(by))
	if err != nil {
		return 0, flowerr.Wrap(err, "net: reserve "+counter)
	}
	return int(total) - by, nil
}

func (n *Net) numPlaces(ctx context.Context) (int, error) {
	v, found, err := n.Store.HGet(ctx, n.countersKey(), "num_places")
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// AddPlace creates a new place and returns its index.
func (n *Net) AddPlace(ctx context.Context, name string) (int, error) {
	idx, err := n.nextIndex(ctx, "num_places", 1)
	if err != nil {
		return 0, err
	}
	if err := n.Store.HSet(ctx, n.placeKey(idx), "name", name); err != nil {
		return 0, flowerr.Wrap(err, "net: add place")
	}
	return idx, nil
}

// AddTransition creates a new transition of the given kind (one of the
// action capability set: "merge", "shell", "bridge", "fanout") with opaque args
// forwarded to the action at fire time, and returns its index.
func (n *Net) AddTransition(ctx context.Context, kind string, args map[string]string) (int, error) {
	idx, err := n.nextIndex(ctx, "num_transitions", 1)
	if err != nil {
		return 0, err
	}
	if err := n.Store.HSet(ctx, n.transKey(idx), "kind", kind); err != nil {
		return 0, flowerr.Wrap(err, "net: add transition")
	}
	if len(args) > 0 {
		blob, err := json.Marshal(args)
		if err != nil {
			return 0, flowerr.Wrap(err, "net: marshal transition args")
		}
		if err := n.Store.HSet(ctx, n.transKey(idx), "args", string(blob)); err != nil {
			return 0, flowerr.Wrap(err, "net: add transition args")
		}
	}
	return idx, nil
}

// Transition loads a transition's kind and args, served from an in-process
// LRU cache since a transition's definition never changes once compiled.
func (n *Net) Transition(ctx context.Context, idx int) (Transition, error) {
	if n.transCache != nil {
		if t, ok := n.transCache.get(n.Key, idx); ok {
			return t, nil
		}
	}
	kind, _, err := n.Store.HGet(ctx, n.transKey(idx), "kind")
	if err != nil {
		return Transition{}, err
	}
	args := map[string]string{}
	if blob, found, err := n.Store.HGet(ctx, n.transKey(idx), "args"); err != nil {
		return Transition{}, err
	} else if found {
		if err := json.Unmarshal([]byte(blob), &args); err != nil {
			return Transition{}, flowerr.Wrap(err, "net: unmarshal transition args")
		}
	}
	t := Transition{Idx: idx, Kind: kind, Args: args}
	if n.transCache != nil {
		n.transCache.add(n.Key, idx, t)
	}
	return t, nil
}

// AddPlaceArcOut records an arc from place p into transition t: p becomes
// one of t's input places.
func (n *Net) AddPlaceArcOut(ctx context.Context, p, t int) error {
	if err := n.Store.SAdd(ctx, n.placeKey(p)+":arcs_out", strconv.Itoa(t)); err != nil {
		return flowerr.Wrap(err, "net: place arc out")
	}
	if err := n.Store.SAdd(ctx, n.transKey(t)+":arcs_in", strconv.Itoa(p)); err != nil {
		return flowerr.Wrap(err, "net: transition arc in")
	}
	return nil
}

// AddTransArcOut records an arc from transition t to place p: p becomes
// one of t's output places.
func (n *Net) AddTransArcOut(ctx context.Context, t, p int) error {
	if err := n.Store.SAdd(ctx, n.transKey(t)+":arcs_out", strconv.Itoa(p)); err != nil {
		return flowerr.Wrap(err, "net: transition arc out")
	}
	return nil
}

// PlaceArcsOut returns the transition indices fed by place p.
func (n *Net) PlaceArcsOut(ctx context.Context, p int) ([]int, error) {
	return n.intSet(ctx, n.placeKey(p)+":arcs_out")
}

// TransArcsIn returns the place indices transition t consumes from.
func (n *Net) TransArcsIn(ctx context.Context, t int) ([]int, error) {
	return n.intSet(ctx, n.transKey(t)+":arcs_in")
}

// TransArcsOut returns the place indices transition t produces into.
func (n *Net) TransArcsOut(ctx context.Context, t int) ([]int, error) {
	return n.intSet(ctx, n.transKey(t)+":arcs_out")
}

func (n *Net) intSet(ctx context.Context, key string) ([]int, error) {
	raw, err := n.Store.SMembers(ctx, key)
	if err != nil {
		return nil, flowerr.Wrap(err, "net: read set "+key)
	}
	out := make([]int, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, flowerr.Wrap(err, "net: malformed set member "+s)
		}
		out = append(out, v)
	}
	return out, nil
}

// AddColorGroup reserves `size` fresh colors as a new color group, optionally
// nested under a parent color/group (modelling a nested parallel scope),
// and returns the created ColorGroup.
func (n *Net) AddColorGroup(ctx context.Context, size int, parentColor, parentGroup *int) (ColorGroup, error) {
	begin, err := n.nextIndex(ctx, "num_colors", size)
	if err != nil {
		return ColorGroup{}, err
	}
	idx, err := n.nextIndex(ctx, "num_color_groups", 1)
	if err != nil {
		return ColorGroup{}, err
	}
	g := ColorGroup{Idx: idx, ParentColor: parentColor, ParentGroup: parentGroup, Begin: begin, End: begin + size}
	blob, err := json.Marshal(g)
	if err != nil {
		return ColorGroup{}, flowerr.Wrap(err, "net: marshal color group")
	}
	if err := n.Store.HSet(ctx, n.colorGroupsKey(), strconv.Itoa(idx), string(blob)); err != nil {
		return ColorGroup{}, flowerr.Wrap(err, "net: store color group")
	}
	return g, nil
}

// ColorGroup loads a previously created color group by index.
func (n *Net) ColorGroup(ctx context.Context, idx int) (ColorGroup, error) {
	blob, found, err := n.Store.HGet(ctx, n.colorGroupsKey(), strconv.Itoa(idx))
	if err != nil {
		return ColorGroup{}, err
	}
	if !found {
		return ColorGroup{}, flowerr.Wrap(flowerr.ErrPlaceNotFound, "net: color group not found")
	}
	var g ColorGroup
	if err := json.Unmarshal([]byte(blob), &g); err != nil {
		return ColorGroup{}, flowerr.Wrap(err, "net: unmarshal color group")
	}
	return g, nil
}

// CreateToken allocates a new token index and persists its immutable
// fields. The token is not yet placed anywhere; call PutToken next.
func (n *Net) CreateToken(ctx context.Context, color, groupIdx int, data []byte) (*Token, error) {
	idx, err := n.nextIndex(ctx, "num_tokens", 1)
	if err != nil {
		return nil, err
	}
	tok := &Token{NetKey: n.Key, Idx: idx, Color: color, GroupIdx: groupIdx, Data: data}
	if err := n.Store.HSet(ctx, n.tokenKey(idx), "color", strconv.Itoa(color)); err != nil {
		return nil, flowerr.Wrap(err, "net: create token")
	}
	if err := n.Store.HSet(ctx, n.tokenKey(idx), "group_idx", strconv.Itoa(groupIdx)); err != nil {
		return nil, flowerr.Wrap(err, "net: create token")
	}
	if len(data) > 0 {
		if err := n.Store.HSet(ctx, n.tokenKey(idx), "data", string(data)); err != nil {
			return nil, flowerr.Wrap(err, "net: create token data")
		}
	}
	return tok, nil
}

// Token loads a previously created token by index.
func (n *Net) Token(ctx context.Context, idx int) (*Token, error) {
	fields, err := n.Store.HGetAll(ctx, n.tokenKey(idx))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, flowerr.Wrap(flowerr.ErrPlaceNotFound, "net: token not found")
	}
	color, err := strconv.Atoi(fields["color"])
	if err != nil {
		return nil, flowerr.Wrap(err, "net: malformed token color")
	}
	group, err := strconv.Atoi(fields["group_idx"])
	if err != nil {
		return nil, flowerr.Wrap(err, "net: malformed token group_idx")
	}
	return &Token{NetKey: n.Key, Idx: idx, Color: color, GroupIdx: group, Data: []byte(fields["data"])}, nil
}

// PutToken places tok at place placeIdx, enforcing the foreign-token and
// place-bound checks of spec.md §4.2 before delegating to the store's
// atomic put_token script.
func (n *Net) PutToken(ctx context.Context, placeIdx int, tok *Token) error {
	if tok.NetKey != n.Key {
		return flowerr.ErrForeignToken
	}
	numPlaces, err := n.numPlaces(ctx)
	if err != nil {
		return err
	}
	if placeIdx < 0 || placeIdx >= numPlaces {
		return flowerr.ErrPlaceNotFound
	}
	if err := n.Store.PutToken(ctx, n.Key, placeIdx, tok.Idx, tok.Color, tok.GroupIdx); err != nil {
		return err
	}
	return n.stampFirstTokenTimestamp(ctx, placeIdx)
}

func (n *Net) stampFirstTokenTimestamp(ctx context.Context, placeIdx int) error {
	ok, err := n.Store.SetNX(ctx, n.placeKey(placeIdx)+":first_token_timestamp",
		strconv.FormatInt(time.Now().UnixNano(), 10))
	if err != nil {
		return flowerr.Wrap(err, "net: stamp first token timestamp")
	}
	_ = ok // write-once: losing the race is expected and not an error
	return nil
}

// ColorMarkingTokenIdx looks up the token currently marking (color, place),
// mirroring spec.md §3's color_marking[(color,place_idx)] mapping.
func (n *Net) ColorMarkingTokenIdx(ctx context.Context, color, placeIdx int) (int, bool, error) {
	field := fmt.Sprintf("%d:%d", color, placeIdx)
	v, found, err := n.Store.HGet(ctx, n.Key+":color_marking", field)
	if err != nil || !found {
		return 0, found, err
	}
	idx, err := strconv.Atoi(v)
	return idx, true, err
}

// GroupMarkingCount reports how many colors of group g are currently
// marked at place p.
func (n *Net) GroupMarkingCount(ctx context.Context, g, p int) (int, error) {
	v, found, err := n.Store.HGet(ctx, n.Key+":group_marking", fmt.Sprintf("%d:%d", g, p))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// SetConstant writes a write-once workflow-scoped constant.
func (n *Net) SetConstant(ctx context.Context, key, value string) (bool, error) {
	return n.Store.SetNX(ctx, n.Key+":constants:"+key, value)
}

// Constant reads a workflow-scoped constant.
func (n *Net) Constant(ctx context.Context, key string) (string, bool, error) {
	return n.Store.Get(ctx, n.Key+":constants:"+key)
}

// SetVariable writes a workflow-scoped variable (read/write, unlike
// constants).
func (n *Net) SetVariable(ctx context.Context, key, value string) error {
	return n.Store.HSet(ctx, n.Key+":variables", key, value)
}

// Variable reads a workflow-scoped variable.
func (n *Net) Variable(ctx context.Context, key string) (string, bool, error) {
	return n.Store.HGet(ctx, n.Key+":variables", key)
}

// logf is a small helper so call sites can log with the net's key already
// in context without repeating "netKey", n.Key at every call site.
func (n *Net) logf() log.Logger {
	return logger.New("net", n.Key)
}
