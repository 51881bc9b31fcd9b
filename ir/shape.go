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
	"github.com/pkg/errors"
)

// InferTypes recomputes op's result types from its operands and attributes.
// Loop ops also refresh the types of their shared-output block arguments.
func InferTypes(op *Op) error {
	switch op.Kind {
	case OpKindEmpty, OpKindParallelInsertSlice, OpKindReturn:
		return nil

	case OpKindFill, OpKindMap, OpKindBroadcast, OpKindReduce:
		if op.NumOperands() == 0 {
			return errors.Errorf("%s %%%d has no init operand", op.Kind, op.ID)
		}
		op.Results[0].Type = cloneType(op.Init().Type)
		return nil

	case OpKindCollapseShape:
		shape, err := collapsedShape(op.Operand(0).Type.Shape, op.Reassociation)
		if err != nil {
			return errors.WithMessagef(err, "collapse_shape %%%d", op.ID)
		}
		op.Results[0].Type = TensorType(shape...)
		return nil

	case OpKindExpandShape:
		shape, err := expandedShape(op.Operand(0).Type.Shape, op.Results[0].Type.Shape, op.Reassociation)
		if err != nil {
			return errors.WithMessagef(err, "expand_shape %%%d", op.ID)
		}
		op.Results[0].Type = TensorType(shape...)
		return nil

	case OpKindExtractSlice:
		shape := make([]int, len(op.Sizes))
		for i, s := range op.Sizes {
			shape[i] = s.Static()
		}
		op.Results[0].Type = TensorType(shape...)
		return nil

	case OpKindForall, OpKindFor:
		outs := op.RegionOutputs()
		for i, v := range op.Operands() {
			op.Results[i].Type = cloneType(v.Type)
			outs[i].Type = cloneType(v.Type)
		}
		return nil
	}
	return errors.Errorf("cannot infer types of %s", op.Kind)
}

// RefreshTypes re-infers the types of every op in b, in order, descending
// into loop bodies.
func RefreshTypes(b *Block) error {
	for _, op := range b.Ops {
		if err := InferTypes(op); err != nil {
			return err
		}
		if op.Region != nil {
			if err := RefreshTypes(op.Region); err != nil {
				return err
			}
		}
	}
	return nil
}

func cloneType(t Type) Type {
	return Type{Shape: append([]int(nil), t.Shape...), Index: t.Index}
}

// collapsedShape computes the result of merging each reassociation group of
// src into one dimension.
func collapsedShape(src []int, reassoc [][]int) ([]int, error) {
	if err := checkReassociation(len(src), reassoc); err != nil {
		return nil, err
	}
	shape := make([]int, len(reassoc))
	for i, group := range reassoc {
		n := 1
		for _, d := range group {
			if src[d] == Dynamic {
				n = Dynamic
				break
			}
			n *= src[d]
		}
		shape[i] = n
	}
	return shape, nil
}

// expandedShape splits each src dimension into the dimensions of its
// reassociation group. The previous result shape fixes the split; for
// degenerate groups the one non-unit dimension takes the source size.
func expandedShape(src, prev []int, reassoc [][]int) ([]int, error) {
	if err := checkReassociation(len(prev), reassoc); err != nil {
		return nil, err
	}
	if len(reassoc) != len(src) {
		return nil, errors.Errorf("%d reassociation groups for rank %d source", len(reassoc), len(src))
	}
	shape := append([]int(nil), prev...)
	for i, group := range reassoc {
		nonUnit := -1
		count := 0
		for _, d := range group {
			if prev[d] != 1 {
				nonUnit = d
				count++
			}
		}
		switch {
		case count == 0:
			// All unit dimensions: the source dimension must be 1 too.
			if src[i] != 1 && src[i] != Dynamic {
				return nil, errors.Errorf("group %d expands size %d into unit dimensions", i, src[i])
			}
		case count == 1:
			shape[nonUnit] = src[i]
		}
	}
	return shape, nil
}

func checkReassociation(rank int, reassoc [][]int) error {
	next := 0
	for _, group := range reassoc {
		if len(group) == 0 {
			return errors.New("empty reassociation group")
		}
		for _, d := range group {
			if d != next {
				return errors.Errorf("reassociation %v is not a contiguous partition of rank %d", reassoc, rank)
			}
			next++
		}
	}
	if next != rank {
		return errors.Errorf("reassociation %v does not cover rank %d", reassoc, rank)
	}
	return nil
}

// IsDegenerateReshape reports whether a collapse_shape or expand_shape only
// adds or removes unit dimensions, so no element moves. Every reassociation
// group of the expanded side may hold at most one non-unit dimension.
func IsDegenerateReshape(op *Op) bool {
	var expanded []int
	switch op.Kind {
	case OpKindCollapseShape:
		expanded = op.Operand(0).Type.Shape
	case OpKindExpandShape:
		expanded = op.Results[0].Type.Shape
	default:
		return false
	}
	for _, group := range op.Reassociation {
		nonUnit := 0
		for _, d := range group {
			if d >= len(expanded) {
				return false
			}
			if expanded[d] != 1 {
				nonUnit++
			}
		}
		if nonUnit > 1 {
			return false
		}
	}
	return true
}

// ExpandedShape returns the shape on the expanded side of a reshape.
func ExpandedShape(op *Op) []int {
	if op.Kind == OpKindCollapseShape {
		return op.Operand(0).Type.Shape
	}
	return op.Results[0].Type.Shape
}
