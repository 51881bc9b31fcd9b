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
	"github.com/pkg/errors"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/rewrite"
)

// PeelingResult is the outcome of PeelAllLoops.
type PeelingResult struct {
	// MainLoop only visits full tiles.
	MainLoop *ir.Op

	// Remainders cover the leftover iterations, in creation order. Each
	// one's shared outputs are the results of the loop it was split from.
	Remainders []*ir.Op
}

// PeelAllLoops splits every dimension of loop whose trip range is not a
// multiple of its step into a main part over full tiles and a remainder
// over the last partial tile. Remainders are peeled again on the following
// dimensions, so every resulting loop has constant tile sizes. The set of
// elements written is unchanged; only the partition of the iteration space
// between loops differs.
func PeelAllLoops(rw *rewrite.Rewriter, loop *ir.Op) (*PeelingResult, error) {
	if !loop.Kind.IsLoop() {
		return nil, errors.Errorf("cannot peel %s %%%d", loop.Kind, loop.ID)
	}
	result := &PeelingResult{MainLoop: loop}
	if err := peelFrom(rw, loop, 0, &result.Remainders); err != nil {
		return nil, err
	}
	return result, nil
}

func peelFrom(rw *rewrite.Rewriter, loop *ir.Op, first int, remainders *[]*ir.Op) error {
	for d := first; d < loop.NumLoops(); d++ {
		lb, ub, step := loop.Lower[d], loop.Upper[d], loop.Step[d]
		span := ub - lb
		if span <= 0 {
			continue
		}
		if span%step == 0 {
			if err := setStaticTileSize(loop, d, step); err != nil {
				return err
			}
			continue
		}
		split := lb + span/step*step
		if split == lb {
			// A single partial tile: nothing to split off.
			if err := setStaticTileSize(loop, d, span); err != nil {
				return err
			}
			continue
		}

		rem := splitLoop(rw, loop, d, split)
		if err := setStaticTileSize(rem, d, ub-split); err != nil {
			return err
		}
		if err := setStaticTileSize(loop, d, step); err != nil {
			return err
		}
		debugPrint("peeled %s %%%d dim %d at %d into %%%d", loop.Kind, loop.ID, d, split, rem.ID)
		*remainders = append(*remainders, rem)
		if err := peelFrom(rw, rem, d+1, remainders); err != nil {
			return err
		}
	}
	return nil
}

// splitLoop shrinks dimension d of loop to end at split and inserts after
// it a copy covering [split, upper) that writes into loop's results.
func splitLoop(rw *rewrite.Rewriter, loop *ir.Op, d, split int) *ir.Op {
	rem := rw.Func.Clone(loop, ir.Mapping{})
	rem.Lower[d] = split
	loop.Upper[d] = split
	loop.Block().InsertAfter(loop, rem)
	for i, r := range loop.Results {
		r.ReplaceAllUsesWith(rem.Results[i])
		rem.SetOperand(i, r)
	}
	return rem
}

// setStaticTileSize replaces every tile size depending on induction
// variable d of loop by size, then re-infers the body's types.
func setStaticTileSize(loop *ir.Op, d, size int) error {
	iv := loop.InductionVars()[d]
	loop.Region.Walk(func(op *ir.Op) bool {
		for i, s := range op.Sizes {
			if s.IV == iv {
				op.Sizes[i] = ir.ConstSize(size)
			}
		}
		return true
	})
	return errors.WithMessagef(ir.RefreshTypes(loop.Region), "peeling %s %%%d", loop.Kind, loop.ID)
}
