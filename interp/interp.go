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

// Package interp executes IR functions on concrete tensors. It is the
// reference semantics that rewrites are checked against.
package interp

import (
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/workerpool"
)

// Interpreter runs functions. The zero value runs every loop sequentially.
type Interpreter struct {
	// Pool runs the iterations of outermost forall loops. Nested loops run
	// on the calling goroutine.
	Pool *workerpool.Pool
}

// Run executes f with one tensor per parameter and returns the returned
// tensors. Arguments are not modified.
func (in *Interpreter) Run(f *ir.Function, args ...*Tensor) ([]*Tensor, error) {
	params := f.Params()
	if len(args) != len(params) {
		return nil, errors.Errorf("@%s takes %d arguments, got %d", f.Name, len(params), len(args))
	}
	fr := newFrame(nil)
	for i, p := range params {
		if !slices.Equal(p.Type.Shape, args[i].Shape) {
			return nil, errors.Errorf("argument %d of @%s has shape %v, want %s", i, f.Name, args[i].Shape, p.Type)
		}
		fr.vals[p] = args[i]
	}
	var results []*Tensor
	err := in.execBlock(f.Body, fr, 0, func(ret *ir.Op) {
		results = make([]*Tensor, ret.NumOperands())
		for i, v := range ret.Operands() {
			results[i] = fr.lookup(v)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "running @%s", f.Name)
	}
	return results, nil
}

// Run executes f sequentially.
func Run(f *ir.Function, args ...*Tensor) ([]*Tensor, error) {
	return (&Interpreter{}).Run(f, args...)
}

type frame struct {
	parent *frame
	vals   map[*ir.Value]*Tensor
	ivs    map[*ir.Value]int
}

func newFrame(parent *frame) *frame {
	return &frame{parent: parent, vals: map[*ir.Value]*Tensor{}, ivs: map[*ir.Value]int{}}
}

func (fr *frame) lookup(v *ir.Value) *Tensor {
	for f := fr; f != nil; f = f.parent {
		if t, ok := f.vals[v]; ok {
			return t
		}
	}
	return nil
}

func (fr *frame) iv(v *ir.Value) int {
	for f := fr; f != nil; f = f.parent {
		if i, ok := f.ivs[v]; ok {
			return i
		}
	}
	panic("interp: unbound induction variable " + v.String())
}

func (fr *frame) tile(op *ir.Op) (offsets, sizes []int) {
	offsets = make([]int, len(op.Offsets))
	sizes = make([]int, len(op.Sizes))
	for d, o := range op.Offsets {
		offsets[d] = o.Const
		if o.IV != nil {
			offsets[d] = fr.iv(o.IV)
		}
	}
	for d, s := range op.Sizes {
		if s.IV != nil {
			sizes[d] = s.Eval(fr.iv(s.IV))
		} else {
			sizes[d] = s.Const
		}
	}
	return offsets, sizes
}

func (in *Interpreter) execBlock(b *ir.Block, fr *frame, depth int, onReturn func(*ir.Op)) error {
	for _, op := range b.Ops {
		if op.Kind == ir.OpKindReturn {
			onReturn(op)
			return nil
		}
		if err := in.execOp(op, fr, depth); err != nil {
			return errors.WithMessagef(err, "%s %%%d", op.Kind, op.ID)
		}
	}
	return nil
}

func (in *Interpreter) execOp(op *ir.Op, fr *frame, depth int) error {
	operand := func(i int) *Tensor { return fr.lookup(op.Operand(i)) }
	for i := range op.NumOperands() {
		if operand(i) == nil {
			return errors.Errorf("operand %d (%s) has no value", i, op.Operand(i))
		}
	}

	switch op.Kind {
	case ir.OpKindEmpty:
		t := op.Result().Type
		if !t.IsStatic() {
			return errors.Errorf("empty with dynamic type %s", t)
		}
		fr.vals[op.Result()] = New(t.Shape...)

	case ir.OpKindFill:
		out := New(operand(0).Shape...)
		for i := range out.Data {
			out.Data[i] = op.FillValue
		}
		fr.vals[op.Result()] = out

	case ir.OpKindMap:
		init := fr.lookup(op.Init())
		out := New(init.Shape...)
		inputs := make([]*Tensor, len(op.Inputs()))
		for i, v := range op.Inputs() {
			inputs[i] = fr.lookup(v)
			if !slices.Equal(inputs[i].Shape, init.Shape) {
				return errors.Errorf("input %d has shape %v, init has %v", i, inputs[i].Shape, init.Shape)
			}
		}
		args := make([]float64, len(inputs))
		for e := range out.Data {
			for i, t := range inputs {
				args[i] = t.Data[e]
			}
			out.Data[e] = op.Body.Eval(args)
		}
		fr.vals[op.Result()] = out

	case ir.OpKindBroadcast:
		src, init := operand(0), operand(1)
		out := New(init.Shape...)
		kept := ir.KeptDims(len(init.Shape), op.Dimensions)
		srcIdx := make([]int, len(kept))
		forEachIndex(out.Shape, func(idx []int) {
			for i, d := range kept {
				srcIdx[i] = idx[d]
			}
			out.Data[out.offset(idx)] = src.At(srcIdx...)
		})
		fr.vals[op.Result()] = out

	case ir.OpKindReduce:
		src := operand(0)
		out := operand(1).Clone()
		kept := ir.KeptDims(len(src.Shape), op.Dimensions)
		dstIdx := make([]int, len(kept))
		var err error
		forEachIndex(src.Shape, func(idx []int) {
			for i, d := range kept {
				dstIdx[i] = idx[d]
			}
			o := out.offset(dstIdx)
			out.Data[o], err = combine(op.Combiner, out.Data[o], src.At(idx...))
		})
		if err != nil {
			return err
		}
		fr.vals[op.Result()] = out

	case ir.OpKindCollapseShape:
		src := operand(0)
		shape := make([]int, len(op.Reassociation))
		for g, group := range op.Reassociation {
			shape[g] = 1
			for _, d := range group {
				shape[g] *= src.Shape[d]
			}
		}
		fr.vals[op.Result()] = &Tensor{Shape: shape, Data: src.Data}

	case ir.OpKindExpandShape:
		src := operand(0)
		shape, err := expandShape(src.Shape, op.Result().Type.Shape, op.Reassociation)
		if err != nil {
			return err
		}
		fr.vals[op.Result()] = &Tensor{Shape: shape, Data: src.Data}

	case ir.OpKindExtractSlice:
		offsets, sizes := fr.tile(op)
		t, err := operand(0).slice(offsets, sizes)
		if err != nil {
			return err
		}
		fr.vals[op.Result()] = t

	case ir.OpKindParallelInsertSlice:
		offsets, sizes := fr.tile(op)
		src := operand(0)
		if !slices.Equal(src.Shape, sizes) {
			return errors.Errorf("inserting shape %v into tile of sizes %v", src.Shape, sizes)
		}
		return operand(1).insert(src, offsets)

	case ir.OpKindForall, ir.OpKindFor:
		return in.execLoop(op, fr, depth)

	default:
		return errors.Errorf("cannot execute %s", op.Kind)
	}
	return nil
}

func (in *Interpreter) execLoop(op *ir.Op, fr *frame, depth int) error {
	outs := make([]*Tensor, op.NumOperands())
	for i := range outs {
		outs[i] = fr.lookup(op.Operand(i)).Clone()
	}
	trips := make([]int, op.NumLoops())
	total := 1
	for d := range trips {
		trips[d] = op.TripCount(d)
		total *= trips[d]
	}
	ivs := op.InductionVars()
	regionOuts := op.RegionOutputs()

	iteration := func(k int) error {
		child := newFrame(fr)
		for d := len(trips) - 1; d >= 0; d-- {
			child.ivs[ivs[d]] = op.Lower[d] + (k%trips[d])*op.Step[d]
			k /= trips[d]
		}
		for i, o := range regionOuts {
			child.vals[o] = outs[i]
		}
		return in.execBlock(op.Region, child, depth+1, func(*ir.Op) {})
	}

	// Iterations of a forall write disjoint tiles of outs, so they may run
	// concurrently. Nested loops stay on this goroutine.
	if op.Kind == ir.OpKindForall && depth == 0 && in.Pool != nil {
		if err := in.Pool.ForEach(total, iteration); err != nil {
			return err
		}
	} else {
		for k := range total {
			if err := iteration(k); err != nil {
				return err
			}
		}
	}
	for i, r := range op.Results {
		fr.vals[r] = outs[i]
	}
	return nil
}

func combine(combiner string, acc, x float64) (float64, error) {
	switch combiner {
	case "add":
		return acc + x, nil
	case "mul":
		return acc * x, nil
	case "max":
		return math.Max(acc, x), nil
	case "min":
		return math.Min(acc, x), nil
	}
	return 0, errors.Errorf("unknown combiner %q", combiner)
}

// expandShape resolves the run-time shape of an expand_shape whose static
// result type may hold dynamic dimensions.
func expandShape(src, static []int, reassoc [][]int) ([]int, error) {
	shape := slices.Clone(static)
	for g, group := range reassoc {
		known, dynamic := 1, -1
		for _, d := range group {
			if shape[d] == ir.Dynamic {
				dynamic = d
			} else {
				known *= shape[d]
			}
		}
		if dynamic >= 0 {
			if known == 0 || src[g]%known != 0 {
				return nil, errors.Errorf("cannot expand size %d into %v", src[g], static)
			}
			shape[dynamic] = src[g] / known
		} else if known != src[g] {
			return nil, errors.Errorf("cannot expand size %d into %v", src[g], static)
		}
	}
	return shape, nil
}
