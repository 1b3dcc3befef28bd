// Package netbuilder compiles a declarative workflow definition into the
// places/transitions/arcs of package net, the way the teacher's
// flow/petri/netbuilder.py's Net helper class lets a workflow author write
// add_place/add_transition/add_place_arc_out/add_trans_arc_out calls instead
// of hand-driving the store. Builder talks directly to a store-backed
// *net.Net, so there is no separate in-memory graph to reconcile later.
package netbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmesh-io/flowmesh/net"
)

// Builder accumulates places/transitions/arcs against a live net.Net,
// mirroring the teacher's in-memory Net class method-for-method
// (add_place, add_transition, add_place_arc_out, add_trans_arc_out).
type Builder struct {
	Net *net.Net
}

func New(n *net.Net) *Builder { return &Builder{Net: n} }

func (b *Builder) AddPlace(ctx context.Context, name string) (int, error) {
	return b.Net.AddPlace(ctx, name)
}

func (b *Builder) AddTransition(ctx context.Context, kind string, args map[string]string) (int, error) {
	return b.Net.AddTransition(ctx, kind, args)
}

func (b *Builder) AddPlaceArcOut(ctx context.Context, p, t int) error {
	return b.Net.AddPlaceArcOut(ctx, p, t)
}

func (b *Builder) AddTransArcOut(ctx context.Context, t, p int) error {
	return b.Net.AddTransArcOut(ctx, t, p)
}

// StageKind enumerates the shapes a WorkflowDef stage may take.
type StageKind int

const (
	// StageShell submits one shell command and waits for success/failure.
	StageShell StageKind = iota
	// StageParallel fans the current token out across a new color group,
	// running Branches concurrently. Each branch's end place feeds its own
	// merge transition into the shared join place, so each branch's token
	// reaches the join place, in that branch's color, as soon as that
	// branch finishes; there is no wait for the other branches.
	StageParallel
)

// Stage is one node of a WorkflowDef's linear pipeline.
type Stage struct {
	Name     string
	Kind     StageKind
	Command  string            // StageShell
	Options  map[string]string // StageShell: executor options (queue, rlimits, ...)
	Branches [][]Stage         // StageParallel: one stage-list per branch
}

// WorkflowDef is an ordered pipeline of stages compiled into a net: a
// start place, then each stage's places and transitions wired in
// sequence; the last stage's out place is the end place.
type WorkflowDef struct {
	Name   string
	Stages []Stage
}

// Build compiles def into n, returning the start and end place indices.
func Build(ctx context.Context, n *net.Net, def WorkflowDef) (start, end int, err error) {
	b := New(n)
	start, err = b.AddPlace(ctx, def.Name+".start")
	if err != nil {
		return 0, 0, err
	}
	cur := start
	for i, stage := range def.Stages {
		cur, err = buildStage(ctx, b, fmt.Sprintf("%s.%d", def.Name, i), stage, cur)
		if err != nil {
			return 0, 0, err
		}
	}
	end = cur
	return start, end, nil
}

func buildStage(ctx context.Context, b *Builder, prefix string, stage Stage, in int) (int, error) {
	switch stage.Kind {
	case StageShell:
		return buildShellStage(ctx, b, prefix, stage, in)
	case StageParallel:
		return buildParallelStage(ctx, b, prefix, stage, in)
	default:
		return 0, fmt.Errorf("netbuilder: unknown stage kind %d", stage.Kind)
	}
}

// buildShellStage wires: in -> dispatch transition -> {pre_dispatch,
// success, failure}, then success -> join transition -> out (pre_dispatch
// and failure have no outgoing arcs), matching the dispatch
// handler contract of spec.md §4.6 (pre_dispatch/post_dispatch_success/
// post_dispatch_failure response places). Each response place's index is
// recorded by name in the transition's own Args ("place.<name>") rather
// than left to be recovered positionally from arcs_out, since the
// store-backed arc set gives no ordering guarantee over insertion order.
func buildShellStage(ctx context.Context, b *Builder, prefix string, stage Stage, in int) (int, error) {
	success, err := b.AddPlace(ctx, prefix+".success")
	if err != nil {
		return 0, err
	}
	failure, err := b.AddPlace(ctx, prefix+".failure")
	if err != nil {
		return 0, err
	}
	preDispatch, err := b.AddPlace(ctx, prefix+".pre_dispatch")
	if err != nil {
		return 0, err
	}
	out, err := b.AddPlace(ctx, prefix+".out")
	if err != nil {
		return 0, err
	}

	args := map[string]string{
		"command":                     stage.Command,
		"place.pre_dispatch":          fmt.Sprint(preDispatch),
		"place.post_dispatch_success": fmt.Sprint(success),
		"place.post_dispatch_failure": fmt.Sprint(failure),
	}
	for k, v := range stage.Options {
		args["opt."+k] = v
	}
	dispatchT, err := b.AddTransition(ctx, "shell", args)
	if err != nil {
		return 0, err
	}
	if err := b.AddPlaceArcOut(ctx, in, dispatchT); err != nil {
		return 0, err
	}
	if err := b.AddTransArcOut(ctx, dispatchT, preDispatch); err != nil {
		return 0, err
	}
	if err := b.AddTransArcOut(ctx, dispatchT, success); err != nil {
		return 0, err
	}
	if err := b.AddTransArcOut(ctx, dispatchT, failure); err != nil {
		return 0, err
	}

	joinT, err := b.AddTransition(ctx, "merge", map[string]string{"out": fmt.Sprint(out)})
	if err != nil {
		return 0, err
	}
	if err := b.AddPlaceArcOut(ctx, success, joinT); err != nil {
		return 0, err
	}
	if err := b.AddTransArcOut(ctx, joinT, out); err != nil {
		return 0, err
	}
	return out, nil
}

// buildParallelStage adds a "fanout" transition (which opens a new color
// group sized to len(Branches) when it fires), compiles each branch as its
// own sub-pipeline, and wires every branch's end into a single out place
// through one merge transition per branch. Nothing gates the out place on
// all branches having finished.
func buildParallelStage(ctx context.Context, b *Builder, prefix string, stage Stage, in int) (int, error) {
	n := len(stage.Branches)
	if n == 0 {
		return in, nil
	}
	out, err := b.AddPlace(ctx, prefix+".join")
	if err != nil {
		return 0, err
	}

	branchIns := make([]int, n)
	for i := range stage.Branches {
		branchIn, err := b.AddPlace(ctx, fmt.Sprintf("%s.branch%d.in", prefix, i))
		if err != nil {
			return 0, err
		}
		branchIns[i] = branchIn
	}

	outs := make([]string, n)
	for i, p := range branchIns {
		outs[i] = fmt.Sprint(p)
	}
	fanT, err := b.AddTransition(ctx, "fanout", map[string]string{"outs": strings.Join(outs, ",")})
	if err != nil {
		return 0, err
	}
	if err := b.AddPlaceArcOut(ctx, in, fanT); err != nil {
		return 0, err
	}
	for _, branchIn := range branchIns {
		if err := b.AddTransArcOut(ctx, fanT, branchIn); err != nil {
			return 0, err
		}
	}

	for i, branch := range stage.Branches {
		cur := branchIns[i]
		for j, s := range branch {
			cur, err = buildStage(ctx, b, fmt.Sprintf("%s.branch%d.%d", prefix, i, j), s, cur)
			if err != nil {
				return 0, err
			}
		}
		joinT, err := b.AddTransition(ctx, "merge", map[string]string{"out": fmt.Sprint(out)})
		if err != nil {
			return 0, err
		}
		if err := b.AddPlaceArcOut(ctx, cur, joinT); err != nil {
			return 0, err
		}
		if err := b.AddTransArcOut(ctx, joinT, out); err != nil {
			return 0, err
		}
	}
	return out, nil
}
