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

package ir

import (
	"slices"

	"github.com/pkg/errors"
)

// Verify checks the structural invariants of f.
func Verify(f *Function) error {
	if ret := f.Return(); ret == nil || f.Body.Ops[len(f.Body.Ops)-1] != ret {
		return errors.Errorf("function @%s must end with return", f.Name)
	}
	var err error
	f.Walk(func(op *Op) bool {
		if err != nil {
			return false
		}
		if e := verifyOp(op); e != nil {
			err = errors.WithMessagef(e, "@%s: %s %%%d", f.Name, op.Kind, op.ID)
			return false
		}
		return true
	})
	return err
}

func verifyOp(op *Op) error {
	for i, v := range op.operands {
		if v == nil {
			return errors.Errorf("operand %d is missing", i)
		}
		if def := v.DefiningOp(); def != nil && def.erased {
			return errors.Errorf("operand %d is defined by an erased op", i)
		}
	}
	for _, idx := range op.Offsets {
		if err := verifyIV(op, idx.IV); err != nil {
			return err
		}
	}
	for _, sz := range op.Sizes {
		if err := verifyIV(op, sz.IV); err != nil {
			return err
		}
	}

	switch op.Kind {
	case OpKindEmpty:
		if !op.Result().Type.IsStatic() {
			return errors.New("empty needs a static shape")
		}

	case OpKindFill:
		if op.NumOperands() != 1 {
			return errors.Errorf("fill takes 1 operand, got %d", op.NumOperands())
		}

	case OpKindMap:
		if op.Body == nil {
			return errors.New("map has no body")
		}
		if err := op.Body.Validate(); err != nil {
			return err
		}
		if op.Body.MaxArg() >= len(op.Inputs()) {
			return errors.Errorf("map body references arg%d with %d inputs", op.Body.MaxArg(), len(op.Inputs()))
		}
		for i, in := range op.Inputs() {
			if !in.Type.Compatible(op.Init().Type) {
				return errors.Errorf("map input %d has type %s, init has %s", i, in.Type, op.Init().Type)
			}
		}

	case OpKindBroadcast:
		if op.NumOperands() != 2 {
			return errors.Errorf("broadcast takes 2 operands, got %d", op.NumOperands())
		}
		if err := verifyDims(op.Dimensions, op.Init().Type.Rank()); err != nil {
			return err
		}
		kept := KeptDims(op.Init().Type.Rank(), op.Dimensions)
		in := op.Operand(0).Type
		if in.Rank() != len(kept) {
			return errors.Errorf("broadcast input rank %d, want %d", in.Rank(), len(kept))
		}
		for i, d := range kept {
			if !sameDim(in.Shape[i], op.Init().Type.Shape[d]) {
				return errors.Errorf("broadcast input dim %d is %d, init dim %d is %d", i, in.Shape[i], d, op.Init().Type.Shape[d])
			}
		}

	case OpKindReduce:
		if op.NumOperands() != 2 {
			return errors.Errorf("reduce takes 2 operands, got %d", op.NumOperands())
		}
		if !slices.Contains([]string{"add", "mul", "max", "min"}, op.Combiner) {
			return errors.Errorf("unknown combiner %q", op.Combiner)
		}
		in := op.Operand(0).Type
		if err := verifyDims(op.Dimensions, in.Rank()); err != nil {
			return err
		}
		if op.Init().Type.Rank() != in.Rank()-len(op.Dimensions) {
			return errors.Errorf("reduce init rank %d, want %d", op.Init().Type.Rank(), in.Rank()-len(op.Dimensions))
		}

	case OpKindCollapseShape, OpKindExpandShape:
		expanded := ExpandedShape(op)
		if err := checkReassociation(len(expanded), op.Reassociation); err != nil {
			return err
		}

	case OpKindExtractSlice, OpKindParallelInsertSlice:
		target := op.Operand(0).Type
		if op.Kind == OpKindParallelInsertSlice {
			target = op.Operand(1).Type
			if op.ParentOp() == nil || !slices.Contains(op.ParentOp().RegionOutputs(), op.Operand(1)) {
				return errors.New("parallel_insert_slice destination is not a shared output of the enclosing loop")
			}
		}
		if len(op.Offsets) != target.Rank() || len(op.Sizes) != target.Rank() {
			return errors.Errorf("tile of rank %d/%d into rank %d", len(op.Offsets), len(op.Sizes), target.Rank())
		}
		for d := range op.Offsets {
			off, sz := op.Offsets[d], op.Sizes[d]
			if sz.IV == nil && target.Shape[d] != Dynamic && sz.Const > target.Shape[d] {
				return errors.Errorf("tile size %d exceeds dim %d of size %d", sz.Const, d, target.Shape[d])
			}
			if off.IV == nil && sz.IV == nil && target.Shape[d] != Dynamic && off.Const+sz.Const > target.Shape[d] {
				return errors.Errorf("tile [%d, %d) exceeds dim %d of size %d", off.Const, off.Const+sz.Const, d, target.Shape[d])
			}
		}

	case OpKindForall, OpKindFor:
		n := len(op.Lower)
		if len(op.Upper) != n || len(op.Step) != n {
			return errors.New("loop bounds have mismatched ranks")
		}
		for d := range n {
			if op.Step[d] < 1 {
				return errors.Errorf("loop step %d in dimension %d", op.Step[d], d)
			}
		}
		if op.Region == nil || len(op.Region.Args) != n+op.NumOperands() {
			return errors.New("loop body arguments do not match dimensions and outputs")
		}
		if len(op.Region.Terminators()) == 0 && op.NumOperands() > 0 {
			return errors.New("loop body has no parallel_insert_slice")
		}

	case OpKindReturn:
		if op.block == nil || op.block.parent != nil {
			return errors.New("return outside of a function body")
		}
	}
	return nil
}

func verifyIV(op *Op, iv *Value) error {
	if iv == nil {
		return nil
	}
	owner := iv.OwnerBlock()
	if owner == nil || owner.parent == nil || !owner.parent.IsProperAncestor(op) {
		return errors.Errorf("induction variable %s is not bound by an enclosing loop", iv)
	}
	return nil
}

func verifyDims(dims []int, rank int) error {
	for i, d := range dims {
		if d < 0 || d >= rank {
			return errors.Errorf("dimension %d out of range for rank %d", d, rank)
		}
		if i > 0 && dims[i-1] >= d {
			return errors.Errorf("dimensions %v must be strictly increasing", dims)
		}
	}
	return nil
}

func sameDim(a, b int) bool {
	return a == b || a == Dynamic || b == Dynamic
}

// KeptDims returns the dimensions of a rank-n shape not listed in dims.
func KeptDims(rank int, dims []int) []int {
	var kept []int
	for d := range rank {
		if !slices.Contains(dims, d) {
			kept = append(kept, d)
		}
	}
	return kept
}
