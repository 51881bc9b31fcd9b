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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajroetker/hwytile/ir"
)

func TestIsFusible(t *testing.T) {
	f := ir.NewFunction("f", ir.TensorType(4, 8))
	b := ir.NewBuilder(f)
	x := f.Params()[0]
	empty := b.Empty(4, 8)
	fill := b.Fill(0, empty)
	m := b.Map(ir.Arg(0), fill, x)
	unit := b.ExpandShape(m, [][]int{{0, 1}, {2}}, []int{4, 1, 8})
	split := b.ExpandShape(m, [][]int{{0}, {1, 2}}, []int{4, 2, 4})
	flat := b.CollapseShape(x, [][]int{{0, 1}})
	r := b.Reduce("add", x, b.Empty(4), 1)
	b.Return(unit, split, flat, r)

	tests := []struct {
		name string
		op   *ir.Op
		want bool
	}{
		{"empty", empty.DefiningOp(), false},
		{"fill", fill.DefiningOp(), true},
		{"map", m.DefiningOp(), true},
		{"unit expand", unit.DefiningOp(), true},
		{"split expand", split.DefiningOp(), false},
		{"flattening collapse", flat.DefiningOp(), false},
		{"reduce", r.DefiningOp(), false},
		{"return", f.Return(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFusible(tt.op))
		})
	}
}

func TestFindRoot(t *testing.T) {
	t.Run("chain", func(t *testing.T) {
		f := ir.NewFunction("f", ir.TensorType(4, 8))
		b := ir.NewBuilder(f)
		fill := b.Fill(1, b.Empty(4, 8))
		first := b.Map(ir.Add(ir.Arg(0), ir.Arg(1)), b.Empty(4, 8), f.Params()[0], fill)
		last := b.Map(ir.Apply("neg", ir.Arg(0)), b.Empty(4, 8), first)
		b.Return(last)

		assert.Equal(t, last.DefiningOp(), FindRoot(fill.DefiningOp(), IsFusible))
		assert.Equal(t, last.DefiningOp(), FindRoot(first.DefiningOp(), IsFusible))
		assert.Equal(t, last.DefiningOp(), FindRoot(last.DefiningOp(), IsFusible))
	})

	t.Run("fan-out", func(t *testing.T) {
		f := ir.NewFunction("f", ir.TensorType(4, 8))
		b := ir.NewBuilder(f)
		shared := b.Map(ir.Arg(0), b.Empty(4, 8), f.Params()[0])
		a := b.Map(ir.Arg(0), b.Empty(4, 8), shared)
		c := b.Map(ir.Arg(0), b.Empty(4, 8), shared)
		b.Return(a, c)

		assert.Equal(t, shared.DefiningOp(), FindRoot(shared.DefiningOp(), IsFusible))
	})

	t.Run("through degenerate reshape", func(t *testing.T) {
		f := ir.NewFunction("f", ir.TensorType(8))
		b := ir.NewBuilder(f)
		bcast := b.Broadcast(f.Params()[0], b.Empty(1, 8), 0)
		flat := b.CollapseShape(bcast, [][]int{{0, 1}})
		m := b.Map(ir.Mul(ir.Arg(0), ir.Arg(1)), b.Empty(8), flat, f.Params()[0])
		b.Return(m)

		assert.Equal(t, m.DefiningOp(), FindRoot(bcast.DefiningOp(), IsFusible))
	})

	t.Run("no map on the chain", func(t *testing.T) {
		f := ir.NewFunction("f", ir.TensorType(4, 8))
		b := ir.NewBuilder(f)
		fill := b.Fill(1, b.Empty(4))
		r := b.Reduce("add", f.Params()[0], fill, 1)
		b.Return(r)

		assert.Equal(t, fill.DefiningOp(), FindRoot(fill.DefiningOp(), IsFusible))
		assert.Equal(t, r.DefiningOp(), FindRoot(r.DefiningOp(), IsFusible))
	})

	t.Run("custom filter", func(t *testing.T) {
		f := ir.NewFunction("f", ir.TensorType(4, 8))
		b := ir.NewBuilder(f)
		first := b.Map(ir.Arg(0), b.Empty(4, 8), f.Params()[0])
		second := b.Map(ir.Arg(0), b.Empty(4, 8), first)
		b.Return(second)

		never := func(*ir.Op) bool { return false }
		assert.Equal(t, first.DefiningOp(), FindRoot(first.DefiningOp(), never))
	})
}
