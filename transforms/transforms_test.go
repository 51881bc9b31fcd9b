// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transforms

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/hwytile/interp"
	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/rewrite"
	"github.com/ajroetker/hwytile/workerpool"
)

func options(tileSize int) Options {
	opts := DefaultOptions()
	opts.InnerDimTileSize = tileSize
	return opts
}

func evalIota(t *testing.T, f *ir.Function) []*interp.Tensor {
	t.Helper()
	args := make([]*interp.Tensor, len(f.Params()))
	for i, p := range f.Params() {
		args[i] = interp.Iota(p.Type.Shape...)
	}
	pool := workerpool.New(4)
	defer pool.Close()
	out, err := (&interp.Interpreter{Pool: pool}).Run(f, args...)
	require.NoError(t, err)
	return out
}

// transformAndCompare runs the pass on f and checks the results on iota
// inputs did not change.
func transformAndCompare(t *testing.T, f *ir.Function, opts Options) rewrite.Stats {
	t.Helper()
	want := evalIota(t, f)
	stats, err := TransformMapForCPU(f, opts)
	require.NoError(t, err, "IR:\n%s", f)
	got := evalIota(t, f)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i], 0), "result %d changed:\nbefore %s\nafter  %s\nIR:\n%s", i, want[i], got[i], f)
	}
	return stats
}

func topLevel(f *ir.Function, kind ir.OpKind) []*ir.Op {
	var ops []*ir.Op
	for _, op := range f.Body.Ops {
		if op.Kind == kind {
			ops = append(ops, op)
		}
	}
	return ops
}

func nested(loop *ir.Op, kind ir.OpKind) []*ir.Op {
	var ops []*ir.Op
	loop.Region.Walk(func(op *ir.Op) bool {
		if op.Kind == kind {
			ops = append(ops, op)
		}
		return true
	})
	return ops
}

func assertNoTransformedLabels(t *testing.T, f *ir.Function) {
	t.Helper()
	f.Walk(func(op *ir.Op) bool {
		assert.False(t, op.HasLabel(ir.LabelTransformed), "%s %%%d keeps the transformed label", op.Kind, op.ID)
		return true
	})
}

func newMapFunc(shape ...int) *ir.Function {
	f := ir.NewFunction("scale", ir.TensorType(shape...))
	b := ir.NewBuilder(f)
	b.Return(b.Map(ir.Add(ir.Mul(ir.Arg(0), ir.Const(2)), ir.Const(1)), b.Empty(shape...), f.Params()[0]))
	return f
}

func TestScenarioPeeledRemainder(t *testing.T) {
	f := newMapFunc(4, 20)
	stats := transformAndCompare(t, f, options(8))
	assert.Equal(t, 1, stats.ByPattern["tile-map-for-cpu"])
	assert.Equal(t, 1, stats.ByPattern["collapse-forall-dimensions"])

	loops := topLevel(f, ir.OpKindForall)
	require.Len(t, loops, 2, "IR:\n%s", f)
	main, rem := loops[0], loops[1]

	assert.True(t, main.HasLabel(ir.LabelPerfectlyTiledLoop))
	assert.Equal(t, []int{0, 0}, main.Lower)
	assert.Equal(t, []int{4, 16}, main.Upper)
	assert.Equal(t, []int{1, 8}, main.Step)
	mainMaps := nested(main, ir.OpKindMap)
	require.Len(t, mainMaps, 1)
	assert.True(t, mainMaps[0].Result().Type.Equal(ir.TensorType(1, 8)))
	assert.Empty(t, nested(main, ir.OpKindFor))

	// The remainder covers columns 16-19; its single-trip column dimension
	// was collapsed, leaving the rows.
	assert.False(t, rem.HasLabel(ir.LabelPerfectlyTiledLoop))
	assert.Equal(t, []int{0}, rem.Lower)
	assert.Equal(t, []int{4}, rem.Upper)
	insert := rem.Region.FirstTerminator()
	require.NotNil(t, insert)
	assert.Equal(t, ir.ConstIndex(16), insert.Offsets[1])
	assert.Equal(t, ir.ConstSize(4), insert.Sizes[1])

	scalarLoops := nested(rem, ir.OpKindFor)
	require.Len(t, scalarLoops, 1)
	assert.Equal(t, []int{1, 4}, scalarLoops[0].Upper)
	assert.Equal(t, []int{1, 1}, scalarLoops[0].Step)
	remMaps := nested(rem, ir.OpKindMap)
	require.Len(t, remMaps, 1)
	assert.Equal(t, scalarLoops[0], remMaps[0].ParentOp())
	assert.Equal(t, 1, remMaps[0].Result().Type.NumElements())

	assertNoTransformedLabels(t, f)
}

func TestScenarioFusedChain(t *testing.T) {
	// fill -> map -> map, every intermediate with a single consumer.
	f := ir.NewFunction("chain", ir.TensorType(2, 16))
	b := ir.NewBuilder(f)
	ones := b.Fill(1.5, b.Empty(2, 16))
	first := b.Map(ir.Add(ir.Arg(0), ir.Arg(1)), b.Empty(2, 16), f.Params()[0], ones)
	second := b.Map(ir.Mul(ir.Arg(0), ir.Const(2)), b.Empty(2, 16), first)
	b.Return(second)

	stats := transformAndCompare(t, f, options(8))
	assert.Equal(t, 1, stats.ByPattern["tile-map-for-cpu"])

	loops := topLevel(f, ir.OpKindForall)
	require.Len(t, loops, 1)
	assert.True(t, loops[0].HasLabel(ir.LabelPerfectlyTiledLoop))
	assert.Empty(t, topLevel(f, ir.OpKindMap))
	assert.Empty(t, topLevel(f, ir.OpKindFill))
	assert.Len(t, nested(loops[0], ir.OpKindMap), 2)
	assert.Len(t, nested(loops[0], ir.OpKindFill), 1)
	assertNoTransformedLabels(t, f)
}

func TestScenarioFanOut(t *testing.T) {
	f := ir.NewFunction("fanout", ir.TensorType(4, 8))
	b := ir.NewBuilder(f)
	shared := b.Map(ir.Apply("exp", ir.Arg(0)), b.Empty(4, 8), f.Params()[0])
	plus := b.Map(ir.Add(ir.Arg(0), ir.Const(1)), b.Empty(4, 8), shared)
	times := b.Map(ir.Mul(ir.Arg(0), ir.Const(2)), b.Empty(4, 8), shared)
	b.Return(plus, times)

	stats := transformAndCompare(t, f, options(8))
	assert.Equal(t, 3, stats.ByPattern["tile-map-for-cpu"])

	loops := topLevel(f, ir.OpKindForall)
	require.Len(t, loops, 3)
	for _, loop := range loops {
		assert.Len(t, nested(loop, ir.OpKindMap), 1, "each map is its own root")
	}
	assert.Equal(t, 2, loops[0].Result().NumUses())
	assertNoTransformedLabels(t, f)
}

func TestScenarioUnitTileSize(t *testing.T) {
	f := newMapFunc(3, 5)
	transformAndCompare(t, f, options(1))

	loops := topLevel(f, ir.OpKindForall)
	require.Len(t, loops, 1)
	assert.True(t, loops[0].HasLabel(ir.LabelPerfectlyTiledLoop))
	assert.Equal(t, []int{1, 1}, loops[0].Step)
	assert.Empty(t, nested(loops[0], ir.OpKindFor))
	for _, m := range nested(loops[0], ir.OpKindMap) {
		assert.Equal(t, 1, m.Result().Type.NumElements())
	}
}

func TestOnlyInnermostDimensionIsBlocked(t *testing.T) {
	f := newMapFunc(3, 4, 16)
	transformAndCompare(t, f, options(4))
	loops := topLevel(f, ir.OpKindForall)
	require.Len(t, loops, 1)
	assert.Equal(t, []int{1, 1, 4}, loops[0].Step)
	maps := nested(loops[0], ir.OpKindMap)
	require.Len(t, maps, 1)
	assert.True(t, maps[0].Result().Type.Equal(ir.TensorType(1, 1, 4)))
}

func TestBroadcastAndReshapeFusion(t *testing.T) {
	// bias: 20 broadcast to 4x20, x: 4x20 expanded to 4x1x20 and collapsed
	// back, then added.
	f := ir.NewFunction("bias", ir.TensorType(4, 20), ir.TensorType(20))
	b := ir.NewBuilder(f)
	bias := b.Broadcast(f.Params()[1], b.Empty(4, 20), 0)
	expanded := b.ExpandShape(f.Params()[0], [][]int{{0}, {1, 2}}, []int{4, 1, 20})
	collapsed := b.CollapseShape(expanded, [][]int{{0}, {1, 2}})
	b.Return(b.Map(ir.Add(ir.Arg(0), ir.Arg(1)), b.Empty(4, 20), collapsed, bias))

	transformAndCompare(t, f, options(8))
	assert.Empty(t, topLevel(f, ir.OpKindBroadcast))
	assert.Empty(t, topLevel(f, ir.OpKindExpandShape))
	assert.Empty(t, topLevel(f, ir.OpKindCollapseShape))
	assert.Len(t, topLevel(f, ir.OpKindForall), 2)
	assertNoTransformedLabels(t, f)
}

func TestUnfusibleProducerStaysOutside(t *testing.T) {
	f := ir.NewFunction("norm", ir.TensorType(4, 8))
	b := ir.NewBuilder(f)
	sums := b.Reduce("add", f.Params()[0], b.Fill(0, b.Empty(4)), 1)
	rows := b.Broadcast(sums, b.Empty(4, 8), 1)
	b.Return(b.Map(ir.Apply("div", ir.Arg(0), ir.Arg(1)), b.Empty(4, 8), f.Params()[0], rows))

	transformAndCompare(t, f, options(8))
	assert.Len(t, topLevel(f, ir.OpKindReduce), 1)
	// The fill feeding the reduce is a map-less cluster and stays put.
	assert.Len(t, topLevel(f, ir.OpKindFill), 1)
	loops := topLevel(f, ir.OpKindForall)
	require.Len(t, loops, 1)
	assert.Len(t, nested(loops[0], ir.OpKindBroadcast), 1)
}

func TestUntileableMapsAreLeftAlone(t *testing.T) {
	for _, shape := range [][]int{{}, {4, 0}} {
		f := newMapFunc(shape...)
		before := f.String()
		stats, err := TransformMapForCPU(f, options(8))
		require.NoError(t, err, "shape %v", shape)
		assert.Zero(t, stats.Rewrites, "shape %v", shape)
		assert.Len(t, topLevel(f, ir.OpKindMap), 1, "shape %v", shape)
		assert.Empty(t, topLevel(f, ir.OpKindForall), "shape %v", shape)
		assert.Equal(t, before, f.String())
	}
}

func TestIdempotent(t *testing.T) {
	f := newMapFunc(4, 20)
	_, err := TransformMapForCPU(f, options(8))
	require.NoError(t, err)
	before := f.String()

	stats, err := TransformMapForCPU(f, options(8))
	require.NoError(t, err)
	assert.Zero(t, stats.Rewrites)
	assert.Equal(t, before, f.String())
}

func TestTransformedLabelIsHonoredAndRemoved(t *testing.T) {
	f := newMapFunc(4, 20)
	m := topLevel(f, ir.OpKindMap)[0]
	m.SetLabel(ir.LabelTransformed)

	stats, err := TransformMapForCPU(f, options(8))
	require.NoError(t, err)
	assert.Zero(t, stats.Rewrites)
	assert.Equal(t, []*ir.Op{m}, topLevel(f, ir.OpKindMap))
	assert.False(t, m.HasLabel(ir.LabelTransformed))
}

func TestMapInsideLoopIsSkipped(t *testing.T) {
	f := ir.NewFunction("pretiled", ir.TensorType(8))
	b := ir.NewBuilder(f)
	loop := b.Loop(ir.OpKindForall, []int{0}, []int{8}, []int{4}, b.Empty(8))
	iv := loop.InductionVars()[0]
	offsets, sizes := []ir.Index{ir.IVIndex(iv)}, []ir.Size{ir.ConstSize(4)}
	b.SetInsertionPointToEnd(loop.Region)
	tile := b.ExtractSlice(f.Params()[0], offsets, sizes)
	init := b.ExtractSlice(loop.RegionOutputs()[0], offsets, sizes)
	b.ParallelInsertSlice(b.Map(ir.Arg(0), init, tile), loop.RegionOutputs()[0], offsets, sizes)
	b.SetInsertionPointToEnd(f.Body)
	b.Return(loop.Result())

	stats := transformAndCompare(t, f, options(2))
	assert.Zero(t, stats.Rewrites)
}

func TestInvalidOptions(t *testing.T) {
	f := newMapFunc(4, 8)
	before := f.String()
	_, err := TransformMapForCPU(f, options(0))
	assert.True(t, errors.Is(err, ErrInvalidTileSize))
	assert.Equal(t, before, f.String())

	opts := options(8)
	opts.MaxIterations = 0
	_, err = TransformMapForCPU(f, opts)
	assert.Error(t, err)
}

func TestIterationBound(t *testing.T) {
	// Tiling needs a second sweep to observe the fixed point.
	f := newMapFunc(4, 16)
	opts := options(8)
	opts.MaxIterations = 1
	_, err := TransformMapForCPU(f, opts)
	assert.True(t, errors.Is(err, rewrite.ErrNoConvergence))
}

func TestCollapseForallDimensions(t *testing.T) {
	f := ir.NewFunction("f", ir.TensorType(1, 8, 1))
	b := ir.NewBuilder(f)
	loop := b.Loop(ir.OpKindForall, []int{0, 0, 0}, []int{1, 8, 1}, []int{1, 4, 1}, b.Empty(1, 8, 1))
	loop.SetLabel(ir.LabelPerfectlyTiledLoop)
	ivs := loop.InductionVars()
	offsets := []ir.Index{ir.IVIndex(ivs[0]), ir.IVIndex(ivs[1]), ir.IVIndex(ivs[2])}
	sizes := []ir.Size{ir.ConstSize(1), ir.ConstSize(4), ir.ConstSize(1)}
	b.SetInsertionPointToEnd(loop.Region)
	tile := b.ExtractSlice(f.Params()[0], offsets, sizes)
	b.ParallelInsertSlice(tile, loop.RegionOutputs()[0], offsets, sizes)
	b.SetInsertionPointToEnd(f.Body)
	b.Return(loop.Result())
	want := evalIota(t, f)

	stats, err := rewrite.ApplyPatternsGreedily(f, []rewrite.Pattern{CollapseForallDimensionsPattern{}}, rewrite.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, ir.Verify(f))
	assert.Equal(t, 1, stats.Rewrites)
	assert.Equal(t, []int{0}, loop.Lower)
	assert.Equal(t, []int{8}, loop.Upper)
	assert.Len(t, loop.Region.Args, 2)
	assert.Equal(t, ir.ConstIndex(0), tile.DefiningOp().Offsets[0])
	assert.Equal(t, loop.InductionVars()[0], tile.DefiningOp().Offsets[1].IV)
	assert.True(t, loop.HasLabel(ir.LabelPerfectlyTiledLoop))

	got := evalIota(t, f)
	assert.True(t, want[0].Equal(got[0], 0))
}

func TestCollapseKeepsOneDimension(t *testing.T) {
	f := ir.NewFunction("f", ir.TensorType(1, 4))
	b := ir.NewBuilder(f)
	loop := b.Loop(ir.OpKindForall, []int{0, 0}, []int{1, 4}, []int{1, 4}, b.Empty(1, 4))
	ivs := loop.InductionVars()
	offsets := []ir.Index{ir.IVIndex(ivs[0]), ir.IVIndex(ivs[1])}
	sizes := []ir.Size{ir.ConstSize(1), ir.ConstSize(4)}
	b.SetInsertionPointToEnd(loop.Region)
	b.ParallelInsertSlice(b.ExtractSlice(f.Params()[0], offsets, sizes), loop.RegionOutputs()[0], offsets, sizes)
	b.SetInsertionPointToEnd(f.Body)
	b.Return(loop.Result())

	_, err := rewrite.ApplyPatternsGreedily(f, []rewrite.Pattern{CollapseForallDimensionsPattern{}}, rewrite.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, ir.Verify(f))
	assert.Equal(t, 1, loop.NumLoops())
	assert.Equal(t, []int{4}, loop.Upper)
}

func TestRunOnModule(t *testing.T) {
	m := &ir.Module{}
	var want [][]*interp.Tensor
	for _, shape := range [][]int{{4, 20}, {3, 5}, {2, 16}, {7}} {
		f := newMapFunc(shape...)
		want = append(want, evalIota(t, f))
		m.Functions = append(m.Functions, f)
	}
	require.NoError(t, RunOnModule(context.Background(), m, options(8)))
	for i, f := range m.Functions {
		assert.NotEmpty(t, topLevel(f, ir.OpKindForall))
		assert.True(t, want[i][0].Equal(evalIota(t, f)[0], 0))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunOnModule(ctx, &ir.Module{Functions: []*ir.Function{newMapFunc(4, 8)}}, options(8))
	assert.ErrorIs(t, err, context.Canceled)

	assert.True(t, errors.Is(RunOnModule(context.Background(), m, options(-1)), ErrInvalidTileSize))
}
