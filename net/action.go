package net

import "context"

// MergeAction is the no-op merge capability: it simply re-emits one output
// token per output place, carrying the firing color forward. It backs the
// "merge" transition kind (DefaultResolver errors on unknown kinds), the way
// the teacher's CpuAgent.mine degenerates to returning the task unsealed
// when there is nothing to do (work/agent.go).
type MergeAction struct {
	OutputPlaces []int
}

func (a MergeAction) Fire(ctx context.Context, fc FireContext) ([]OutputToken, error) {
	outs := make([]OutputToken, 0, len(a.OutputPlaces))
	for _, p := range a.OutputPlaces {
		outs = append(outs, OutputToken{Place: p, Color: fc.Color, GroupIdx: fc.GroupIdx})
	}
	return outs, nil
}

// BridgeAction routes a token from one host place to one subnet place
// during net composition (spec.md §4.2's "Net composition"). It carries
// the firing color into the spliced subnet unchanged.
type BridgeAction struct {
	SubnetPlace int
}

func (a BridgeAction) Fire(ctx context.Context, fc FireContext) ([]OutputToken, error) {
	return []OutputToken{{Place: a.SubnetPlace, Color: fc.Color, GroupIdx: fc.GroupIdx}}, nil
}

// FanoutAction opens a new color group sized to len(BranchPlaces),
// parented by the firing (color, group), and drops one freshly-colored
// token into each branch place — the netbuilder "parallel stage" fan-out
// primitive of spec.md §3's nested color groups.
type FanoutAction struct {
	BranchPlaces []int
}

func (a FanoutAction) Fire(ctx context.Context, fc FireContext) ([]OutputToken, error) {
	if len(a.BranchPlaces) == 0 {
		return nil, nil
	}
	color := fc.Color
	var parentGroup *int
	if fc.GroupIdx >= 0 {
		g := fc.GroupIdx
		parentGroup = &g
	}
	group, err := fc.Net.AddColorGroup(ctx, len(a.BranchPlaces), &color, parentGroup)
	if err != nil {
		return nil, err
	}
	colors := group.Colors()
	outs := make([]OutputToken, 0, len(a.BranchPlaces))
	for i, p := range a.BranchPlaces {
		outs = append(outs, OutputToken{Place: p, Color: colors[i], GroupIdx: group.Idx})
	}
	return outs, nil
}
