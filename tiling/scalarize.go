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

package tiling

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/rewrite"
)

// TilePeeledOpsToScalars tiles the fusible ops in every remainder loop down
// to single elements with sequential loops, fusing their producers, so the
// irregular tail needs no vector code. Consumers are tiled first so their
// producers end up fused rather than tiled separately.
func TilePeeledOpsToScalars(rw *rewrite.Rewriter, peeled *PeelingResult, fusible FuseFilter) ([]*TilingResult, error) {
	var results []*TilingResult
	for _, rem := range peeled.Remainders {
		candidates := lo.Filter(rem.Region.Ops, func(op *ir.Op, _ int) bool {
			return fusible(op) && IsTileable(op) && !hasSingleElementResult(op)
		})
		for _, op := range slices.Backward(candidates) {
			if op.IsErased() {
				continue
			}
			tr, err := TileAndFuseGreedily(rw, op, Options{
				TileSizes: UnitPolicy,
				Fusible:   fusible,
				LoopKind:  ir.OpKindFor,
			})
			if errors.Is(err, ErrNotTileable) {
				continue
			}
			if err != nil {
				return nil, errors.WithMessagef(err, "scalarizing remainder %%%d", rem.ID)
			}
			results = append(results, tr)
		}
	}
	return results, nil
}

func hasSingleElementResult(op *ir.Op) bool {
	return op.Result().Type.NumElements() == 1
}
