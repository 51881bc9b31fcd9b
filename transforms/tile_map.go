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
	"github.com/pkg/errors"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/rewrite"
	"github.com/ajroetker/hwytile/tiling"
)

// TileMapPattern tiles the fusion cluster of a map for CPU code generation:
// the innermost dimension is blocked by InnerDimTileSize, the cluster's
// producers are fused into the tile, the loop is peeled, and the peeled
// remainder is tiled down to scalars.
type TileMapPattern struct {
	InnerDimTileSize int

	// Processed holds every op created or consumed by a successful rewrite.
	// It is scoped to one pass run.
	Processed ir.OpSet
}

// NewTileMapPattern returns a pattern with a fresh processed set.
func NewTileMapPattern(innerDimTileSize int) *TileMapPattern {
	return &TileMapPattern{InnerDimTileSize: innerDimTileSize, Processed: ir.OpSet{}}
}

func (p *TileMapPattern) Name() string    { return "tile-map-for-cpu" }
func (p *TileMapPattern) Kind() ir.OpKind { return ir.OpKindMap }
func (p *TileMapPattern) Benefit() int    { return 1 }

func (p *TileMapPattern) transformed(op *ir.Op) bool {
	return p.Processed.Has(op) || op.HasLabel(ir.LabelTransformed)
}

// MatchAndRewrite implements rewrite.Pattern.
func (p *TileMapPattern) MatchAndRewrite(op *ir.Op, rw *rewrite.Rewriter) error {
	if p.transformed(op) {
		return rw.NotifyMatchFailure(op, "already transformed")
	}
	if parent := op.ParentOp(); parent != nil && parent.Kind.IsLoop() {
		return rw.NotifyMatchFailure(op, "has already been tiled by another pass")
	}

	root := FindRoot(op, IsFusible)
	if p.transformed(root) {
		return rw.NotifyMatchFailure(op, "fusion root %%%d already transformed", root.ID)
	}
	if parent := root.ParentOp(); parent != nil && parent.Kind.IsLoop() {
		return rw.NotifyMatchFailure(op, "fusion root %%%d is inside a loop", root.ID)
	}

	tiled, err := tiling.TileAndFuseGreedily(rw, root, tiling.Options{
		TileSizes: tiling.InnerDimPolicy(p.InnerDimTileSize),
		Fusible:   IsFusible,
		LoopKind:  ir.OpKindForall,
	})
	if errors.Is(err, tiling.ErrNotTileable) {
		return rw.NotifyMatchFailure(root, "%v", err)
	}
	if err != nil {
		return err
	}

	// From here on the IR has changed; failures are internal errors.
	peeled, err := tiling.PeelAllLoops(rw, tiled.Loop)
	if err != nil {
		return err
	}
	peeled.MainLoop.SetLabel(ir.LabelPerfectlyTiledLoop)

	if _, err := tiling.TilePeeledOpsToScalars(rw, peeled, IsFusible); err != nil {
		return err
	}

	for _, loop := range append([]*ir.Op{peeled.MainLoop}, peeled.Remainders...) {
		loop.Walk(func(nested *ir.Op) bool {
			p.Processed.Add(nested)
			return true
		})
	}
	return nil
}
