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
	"slices"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/rewrite"
)

// CollapseForallDimensionsPattern drops forall dimensions that run exactly
// once, substituting the lower bound for their induction variable. One
// dimension is always kept so the loop and its labels survive.
type CollapseForallDimensionsPattern struct{}

func (CollapseForallDimensionsPattern) Name() string    { return "collapse-forall-dimensions" }
func (CollapseForallDimensionsPattern) Kind() ir.OpKind { return ir.OpKindForall }
func (CollapseForallDimensionsPattern) Benefit() int    { return 1 }

// MatchAndRewrite implements rewrite.Pattern.
func (CollapseForallDimensionsPattern) MatchAndRewrite(op *ir.Op, rw *rewrite.Rewriter) error {
	var unit []int
	for d := range op.NumLoops() {
		if op.TripCount(d) == 1 {
			unit = append(unit, d)
		}
	}
	if len(unit) == op.NumLoops() {
		unit = unit[:len(unit)-1]
	}
	if len(unit) == 0 {
		return rw.NotifyMatchFailure(op, "no single-iteration dimension to collapse")
	}

	for _, d := range slices.Backward(unit) {
		op.Region.ReplaceIV(op.InductionVars()[d], op.Lower[d])
		op.Region.EraseArg(d)
		op.Lower = slices.Delete(op.Lower, d, d+1)
		op.Upper = slices.Delete(op.Upper, d, d+1)
		op.Step = slices.Delete(op.Step, d, d+1)
	}
	return ir.RefreshTypes(op.Region)
}
