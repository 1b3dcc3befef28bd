// Package net is the colored Petri net data model and atomic mutation
// layer described in spec.md §3/§4.2: places, transitions, arcs, colors,
// color groups, tokens and markings, all persisted through store.Store so
// that concurrent orchestrator workers observe a single linearised marking.
package net

// Place holds at most one token per color. Its arcs_out are the
// transitions it feeds (an arc from place to transition is, from the
// transition's perspective, an input arc).
type Place struct {
	Idx  int
	Name string
}

// Transition atomically consumes input-arc tokens and emits output
// tokens. Kind selects the Action implementation (merge, shell-command
// dispatch, bridge) that runs once the transition is Ready to fire.
type Transition struct {
	Idx  int
	Kind string
	Args map[string]string
}

// ColorGroup is a contiguous range of colors sharing a parent color,
// modelling one nested parallel scope. Colors = [Begin, End).
type ColorGroup struct {
	Idx         int
	ParentColor *int
	ParentGroup *int
	Begin       int
	End         int
}

// Colors returns the color range owned by this group.
func (g ColorGroup) Colors() []int {
	out := make([]int, 0, g.End-g.Begin)
	for c := g.Begin; c < g.End; c++ {
		out = append(out, c)
	}
	return out
}

// Token is identified by (net_key, token_idx) and immutable after creation.
type Token struct {
	NetKey   string
	Idx      int
	Color    int
	GroupIdx int
	Data     []byte
}

// PlaceColor is the pairing a marking event reports back to the caller, so
// the orchestrator can publish NotifyPlace for each (place, color) an
// action just produced.
type PlaceColor struct {
	Place int
	Color int
}
