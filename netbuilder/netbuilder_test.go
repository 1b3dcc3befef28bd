package netbuilder_test

import (
	"context"
	"testing"

	"github.com/flowmesh-io/flowmesh/net"
	"github.com/flowmesh-io/flowmesh/netbuilder"
	"github.com/flowmesh-io/flowmesh/store/memstore"
)

func TestBuildShellStageWiresDispatchAndJoin(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf")

	start, end, err := netbuilder.Build(ctx, n, netbuilder.WorkflowDef{
		Name: "wf",
		Stages: []netbuilder.Stage{
			{Name: "compile", Kind: netbuilder.StageShell, Command: "make"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if start == end {
		t.Fatal("expected distinct start/end places")
	}

	outT, err := n.PlaceArcsOut(ctx, start)
	if err != nil || len(outT) != 1 {
		t.Fatalf("expected exactly one dispatch transition off start, got %v err %v", outT, err)
	}
	dispatchT := outT[0]

	outs, err := n.TransArcsOut(ctx, dispatchT)
	if err != nil || len(outs) != 3 {
		t.Fatalf("expected 3 response places off the dispatch transition, got %v err %v", outs, err)
	}

	trans, err := n.Transition(ctx, dispatchT)
	if err != nil {
		t.Fatal(err)
	}
	if trans.Kind != "shell" || trans.Args["command"] != "make" {
		t.Fatalf("unexpected dispatch transition: %+v", trans)
	}
}

func TestBuildParallelStageFansOutAndJoins(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	n := net.Open(st, "wf")

	start, end, err := netbuilder.Build(ctx, n, netbuilder.WorkflowDef{
		Name: "wf",
		Stages: []netbuilder.Stage{
			{
				Name: "fanout",
				Kind: netbuilder.StageParallel,
				Branches: [][]netbuilder.Stage{
					{{Name: "a", Kind: netbuilder.StageShell, Command: "task-a"}},
					{{Name: "b", Kind: netbuilder.StageShell, Command: "task-b"}},
				},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if start == end {
		t.Fatal("expected distinct start/end places")
	}

	outT, err := n.PlaceArcsOut(ctx, start)
	if err != nil || len(outT) != 1 {
		t.Fatalf("expected exactly one fanout transition off start, got %v err %v", outT, err)
	}
	fanT := outT[0]

	branchIns, err := n.TransArcsOut(ctx, fanT)
	if err != nil || len(branchIns) != 2 {
		t.Fatalf("expected 2 branch-in places off the fanout transition, got %v err %v", branchIns, err)
	}

	trans, err := n.Transition(ctx, fanT)
	if err != nil {
		t.Fatal(err)
	}
	if trans.Kind != "fanout" {
		t.Fatalf("expected fanout kind, got %q", trans.Kind)
	}

	action, err := net.DefaultResolver(trans.Kind, trans.Args)
	if err != nil {
		t.Fatal(err)
	}
	fanout, ok := action.(net.FanoutAction)
	if !ok || len(fanout.BranchPlaces) != 2 {
		t.Fatalf("expected a 2-branch FanoutAction, got %#v", action)
	}
}
