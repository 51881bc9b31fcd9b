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

// Package tiling turns tensor ops into loop nests over tiles, fuses their
// producers into the tiles, and peels loops whose trip range is not a
// multiple of the tile size.
package tiling

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/rewrite"
)

// debugTiling enables debug output for tiling, fusion and peeling.
var debugTiling = os.Getenv("DEBUG_TILING") != ""

func debugPrint(format string, args ...any) {
	if debugTiling {
		fmt.Fprintf(os.Stderr, "[tiling] "+format+"\n", args...)
	}
}

// ErrNotTileable is returned, with the IR untouched, when an op cannot be
// tiled with the requested sizes.
var ErrNotTileable = errors.New("op is not tileable")

// FuseFilter decides whether a producer may be pulled into a tile.
type FuseFilter func(op *ir.Op) bool

// Options configures TileAndFuseGreedily.
type Options struct {
	// TileSizes computes the step of every loop dimension.
	TileSizes TileSizeFunc

	// Fusible selects producers to fuse. Nil disables fusion.
	Fusible FuseFilter

	// LoopKind is ir.OpKindForall (the default) or ir.OpKindFor.
	LoopKind ir.OpKind
}

// TilingResult describes the loop created by TileAndFuseGreedily.
type TilingResult struct {
	// Loop is the new loop nest; its result replaced the root.
	Loop *ir.Op

	// TiledOp computes one tile of the root inside Loop.
	TiledOp *ir.Op

	// FusedOps are the tiled producers, in fusion order.
	FusedOps []*ir.Op
}

// Ops returns the tiled root followed by the fused producers.
func (r *TilingResult) Ops() []*ir.Op {
	return append([]*ir.Op{r.TiledOp}, r.FusedOps...)
}

// IsTileable reports whether op has a tiled form: it must be a map, fill or
// broadcast with a static, non-empty shape of rank at least one.
func IsTileable(op *ir.Op) bool {
	switch op.Kind {
	case ir.OpKindMap, ir.OpKindFill, ir.OpKindBroadcast:
	default:
		return false
	}
	t := op.Result().Type
	return t.Rank() > 0 && t.IsStatic() && t.NumElements() > 0
}

// TileAndFuseGreedily wraps root in a loop nest over tiles of its result and
// then fuses, one extract_slice at a time, every fusible producer whose only
// use is a tile read inside the loop. All checks run before the first
// mutation, so an error leaves the IR unchanged.
func TileAndFuseGreedily(rw *rewrite.Rewriter, root *ir.Op, opts Options) (*TilingResult, error) {
	if !IsTileable(root) {
		return nil, errors.Wrapf(ErrNotTileable, "%s %%%d with type %s", root.Kind, root.ID, root.Result().Type)
	}
	shape := root.Result().Type.Shape
	steps := opts.TileSizes(root)
	if len(steps) != len(shape) {
		return nil, errors.Wrapf(ErrNotTileable, "%d tile sizes for rank %d", len(steps), len(shape))
	}
	for d, s := range steps {
		if s < 1 {
			return nil, errors.Wrapf(ErrNotTileable, "tile size %d in dimension %d", s, d)
		}
	}
	kind := opts.LoopKind
	if !kind.IsLoop() {
		kind = ir.OpKindForall
	}

	b := rw.Builder
	b.SetInsertionPointBefore(root)
	lower := make([]int, len(shape))
	loop := b.Loop(kind, lower, shape, steps, root.Init())
	ivs := loop.InductionVars()
	out := loop.RegionOutputs()[0]

	offsets := make([]ir.Index, len(shape))
	sizes := make([]ir.Size, len(shape))
	for d := range shape {
		offsets[d] = ir.IVIndex(ivs[d])
		if shape[d]%steps[d] == 0 {
			sizes[d] = ir.ConstSize(steps[d])
		} else {
			sizes[d] = ir.MinSize(ivs[d], steps[d], shape[d])
		}
	}

	b.SetInsertionPointToEnd(loop.Region)
	operandTiles, err := operandTiles(root, offsets, sizes)
	if err != nil {
		// Unreachable for tileable ops.
		return nil, err
	}
	tiles := make([]*ir.Value, root.NumOperands())
	for i, operand := range root.Operands() {
		src := operand
		if i == root.NumOperands()-1 {
			// The init tile is read back from the shared output.
			src = out
		}
		tiles[i] = b.ExtractSlice(src, operandTiles[i].offsets, operandTiles[i].sizes)
	}
	tiled, err := cloneWithOperands(rw, root, tiles)
	if err != nil {
		loop.Erase()
		return nil, errors.Wrapf(ErrNotTileable, "%v", err)
	}
	b.ParallelInsertSlice(tiled.Result(), out, offsets, sizes)
	rw.ReplaceOp(root, loop.Result())
	debugPrint("tiled %s into %s %%%d with steps %v", root.Kind, kind, loop.ID, steps)

	result := &TilingResult{Loop: loop, TiledOp: tiled}
	if opts.Fusible != nil {
		fuseGreedily(rw, result, opts.Fusible)
	}
	return result, nil
}

// fuseGreedily replaces tile reads of single-use fusible producers defined
// outside the loop with tiled clones of those producers.
func fuseGreedily(rw *rewrite.Rewriter, result *TilingResult, fusible FuseFilter) {
	loop := result.Loop
	var worklist []*ir.Op
	for _, op := range loop.Region.Ops {
		if op.Kind == ir.OpKindExtractSlice {
			worklist = append(worklist, op)
		}
	}

	for len(worklist) > 0 {
		slice := worklist[0]
		worklist = worklist[1:]
		if slice.IsErased() {
			continue
		}
		src := slice.Operand(0)
		producer := src.DefiningOp()
		if producer == nil || !ir.IsDefinedOutside(src, loop) || !src.HasOneUse() || !fusible(producer) {
			continue
		}
		tiles, err := operandTiles(producer, slice.Offsets, slice.Sizes)
		if err != nil {
			debugPrint("not fusing %s %%%d: %v", producer.Kind, producer.ID, err)
			continue
		}

		b := rw.Builder
		b.SetInsertionPointBefore(slice)
		newTiles := make([]*ir.Value, producer.NumOperands())
		for i, operand := range producer.Operands() {
			newTiles[i] = b.ExtractSlice(operand, tiles[i].offsets, tiles[i].sizes)
		}
		fused, err := cloneWithOperands(rw, producer, newTiles)
		if err != nil {
			for _, v := range newTiles {
				v.DefiningOp().Erase()
			}
			debugPrint("not fusing %s %%%d: %v", producer.Kind, producer.ID, err)
			continue
		}
		for _, v := range newTiles {
			worklist = append(worklist, v.DefiningOp())
		}
		rw.ReplaceOp(slice, fused.Result())
		rw.EraseOp(producer)
		result.FusedOps = append(result.FusedOps, fused)
		debugPrint("fused %s into %s %%%d", producer.Kind, loop.Kind, loop.ID)
	}
}

// cloneWithOperands inserts a copy of op at the builder's insertion point
// with new operands and re-inferred result types. If the types cannot be
// inferred the copy is removed again.
func cloneWithOperands(rw *rewrite.Rewriter, op *ir.Op, operands []*ir.Value) (*ir.Op, error) {
	c := rw.Func.Clone(op, ir.Mapping{})
	for i, v := range operands {
		c.SetOperand(i, v)
	}
	c.RemoveLabel(ir.LabelTransformed)
	rw.Insert(c)
	if err := ir.InferTypes(c); err != nil {
		c.Erase()
		return nil, errors.WithMessagef(err, "cloning %s %%%d", op.Kind, op.ID)
	}
	return c, nil
}

type tile struct {
	offsets []ir.Index
	sizes   []ir.Size
}

// operandTiles maps a tile of op's result to the tile each operand must
// supply.
func operandTiles(op *ir.Op, offsets []ir.Index, sizes []ir.Size) ([]tile, error) {
	full := tile{offsets: offsets, sizes: sizes}
	switch op.Kind {
	case ir.OpKindMap, ir.OpKindFill:
		tiles := make([]tile, op.NumOperands())
		for i := range tiles {
			tiles[i] = full
		}
		return tiles, nil

	case ir.OpKindBroadcast:
		var in tile
		for _, d := range ir.KeptDims(op.Rank(), op.Dimensions) {
			in.offsets = append(in.offsets, offsets[d])
			in.sizes = append(in.sizes, sizes[d])
		}
		return []tile{in, full}, nil

	case ir.OpKindCollapseShape, ir.OpKindExpandShape:
		if !ir.IsDegenerateReshape(op) {
			return nil, errors.Errorf("%s %%%d moves data", op.Kind, op.ID)
		}
		expanded := ir.ExpandedShape(op)
		if op.Kind == ir.OpKindCollapseShape {
			return []tile{expandTile(expanded, op.Reassociation, full)}, nil
		}
		return []tile{collapseTile(expanded, op.Reassociation, full)}, nil
	}
	return nil, errors.Errorf("%s has no tiled form", op.Kind)
}

// expandTile maps a tile of a collapsed shape onto the expanded shape. Each
// group has at most one non-unit dimension, which receives the group's
// offset and size; unit dimensions read [0, 1).
func expandTile(expanded []int, reassoc [][]int, t tile) tile {
	var out tile
	for g, group := range reassoc {
		for _, d := range group {
			if expanded[d] != 1 {
				out.offsets = append(out.offsets, t.offsets[g])
				out.sizes = append(out.sizes, t.sizes[g])
			} else {
				out.offsets = append(out.offsets, ir.ConstIndex(0))
				out.sizes = append(out.sizes, ir.ConstSize(1))
			}
		}
	}
	return out
}

// collapseTile maps a tile of an expanded shape onto the collapsed shape.
func collapseTile(expanded []int, reassoc [][]int, t tile) tile {
	var out tile
	for _, group := range reassoc {
		off, sz := ir.ConstIndex(0), ir.ConstSize(1)
		for _, d := range group {
			if expanded[d] != 1 {
				off, sz = t.offsets[d], t.sizes[d]
			}
		}
		out.offsets = append(out.offsets, off)
		out.sizes = append(out.sizes, sz)
	}
	return out
}
