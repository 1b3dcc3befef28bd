package net

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Splice copies subnet U's places and transitions into host net H,
// rebasing U's indices by H's current counters, copying arcs with the
// offset applied, and creating one synthetic "bridge" transition per entry
// in translation (host place -> subnet place), per spec.md §4.2's "Net
// composition".
//
// U is described structurally (not as a live *Net) because its places and
// transitions have not been created in H's store yet: callers describe U
// as a plain in-memory definition before splicing it in.
type SubnetDef struct {
	NumPlaces      int
	NumTransitions int
	PlaceArcsOut   map[int][]int // subnet place idx -> subnet transition idxs
	TransArcsOut   map[int][]int // subnet transition idx -> subnet place idxs
	TransKind      map[int]string
	TransArgs      map[int]map[string]string
	PlaceNames     map[int]string
}

// SpliceResult reports the rebased entry points and the bridge transitions
// created, one per translation-map entry.
type SpliceResult struct {
	PlaceOffset      int
	TransitionOffset int
	BridgeTransition map[int]int // host place -> bridge transition idx
}

// Splice splices subnet def into host net h, wiring translation[hostPlace]
// = subnetPlace bridge points.
func (h *Net) Splice(ctx context.Context, def SubnetDef, translation map[int]int) (SpliceResult, error) {
	placeOffset, err := h.nextIndex(ctx, "num_places", def.NumPlaces)
	if err != nil {
		return SpliceResult{}, err
	}
	transOffset, err := h.nextIndex(ctx, "num_transitions", def.NumTransitions)
	if err != nil {
		return SpliceResult{}, err
	}

	for i := 0; i < def.NumPlaces; i++ {
		name := def.PlaceNames[i]
		if name == "" {
			name = fmt.Sprintf("subnet-place-%d", i)
		}
		if err := h.Store.HSet(ctx, h.placeKey(placeOffset+i), "name", name); err != nil {
			return SpliceResult{}, err
		}
	}
	for i := 0; i < def.NumTransitions; i++ {
		if _, err := h.AddTransitionAt(ctx, transOffset+i, def.TransKind[i], def.TransArgs[i]); err != nil {
			return SpliceResult{}, err
		}
	}
	for p, ts := range def.PlaceArcsOut {
		for _, t := range ts {
			if err := h.AddPlaceArcOut(ctx, placeOffset+p, transOffset+t); err != nil {
				return SpliceResult{}, err
			}
		}
	}
	for t, ps := range def.TransArcsOut {
		for _, p := range ps {
			if err := h.AddTransArcOut(ctx, transOffset+t, placeOffset+p); err != nil {
				return SpliceResult{}, err
			}
		}
	}

	bridges := map[int]int{}
	for hostPlace, subnetPlace := range translation {
		args := map[string]string{"subnet_place": strconv.Itoa(placeOffset + subnetPlace)}
		bt, err := h.AddTransition(ctx, "bridge", args)
		if err != nil {
			return SpliceResult{}, err
		}
		if err := h.AddPlaceArcOut(ctx, hostPlace, bt); err != nil {
			return SpliceResult{}, err
		}
		if err := h.AddTransArcOut(ctx, bt, placeOffset+subnetPlace); err != nil {
			return SpliceResult{}, err
		}
		bridges[hostPlace] = bt
	}

	return SpliceResult{PlaceOffset: placeOffset, TransitionOffset: transOffset, BridgeTransition: bridges}, nil
}

// AddTransitionAt creates a transition at a pre-reserved index, used by
// Splice once it has already bulk-reserved def.NumTransitions slots.
func (h *Net) AddTransitionAt(ctx context.Context, idx int, kind string, args map[string]string) (int, error) {
	if err := h.Store.HSet(ctx, h.transKey(idx), "kind", kind); err != nil {
		return 0, err
	}
	if len(args) == 0 {
		return idx, nil
	}
	blob, err := json.Marshal(args)
	if err != nil {
		return 0, err
	}
	if err := h.Store.HSet(ctx, h.transKey(idx), "args", string(blob)); err != nil {
		return 0, err
	}
	return idx, nil
}
