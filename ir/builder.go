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
	"fmt"
	"slices"
)

// Builder creates ops at an insertion point. Construction errors are
// programming errors and panic; use Verify on IR built from untrusted input.
type Builder struct {
	Func *Function

	block  *Block
	before *Op
}

// NewBuilder returns a builder appending to the end of f's body.
func NewBuilder(f *Function) *Builder {
	return &Builder{Func: f, block: f.Body}
}

// SetInsertionPointBefore makes new ops go right before op.
func (b *Builder) SetInsertionPointBefore(op *Op) {
	b.block = op.Block()
	b.before = op
}

// SetInsertionPointToEnd makes new ops go at the end of block.
func (b *Builder) SetInsertionPointToEnd(block *Block) {
	b.block = block
	b.before = nil
}

// SetInsertionPointBeforeTerminators makes new ops go before the trailing
// terminators of block.
func (b *Builder) SetInsertionPointBeforeTerminators(block *Block) {
	b.block = block
	b.before = block.FirstTerminator()
}

// Insert places a detached op at the insertion point.
func (b *Builder) Insert(op *Op) *Op {
	b.block.InsertBefore(b.before, op)
	return op
}

func (b *Builder) create(kind OpKind, operands []*Value, results ...Type) *Op {
	return b.Insert(b.Func.NewOp(kind, operands, results...))
}

func (b *Builder) infer(op *Op) *Op {
	if err := InferTypes(op); err != nil {
		panic(fmt.Sprintf("ir: %v", err))
	}
	return op
}

// Empty allocates a tensor.
func (b *Builder) Empty(shape ...int) *Value {
	return b.create(OpKindEmpty, nil, TensorType(shape...)).Result()
}

// Fill writes value into every element of init.
func (b *Builder) Fill(value float64, init *Value) *Value {
	op := b.create(OpKindFill, []*Value{init}, Type{})
	op.FillValue = value
	return b.infer(op).Result()
}

// Map applies body element by element to inputs, writing into init.
func (b *Builder) Map(body *Expr, init *Value, inputs ...*Value) *Value {
	return b.MapOp(body, init, inputs...).Result()
}

// MapOp is Map returning the op.
func (b *Builder) MapOp(body *Expr, init *Value, inputs ...*Value) *Op {
	op := b.create(OpKindMap, append(slices.Clone(inputs), init), Type{})
	op.Body = body
	return b.infer(op)
}

// Broadcast replicates input along dims of init.
func (b *Builder) Broadcast(input, init *Value, dims ...int) *Value {
	op := b.create(OpKindBroadcast, []*Value{input, init}, Type{})
	op.Dimensions = dims
	return b.infer(op).Result()
}

// Reduce folds dims of input into init using combiner.
func (b *Builder) Reduce(combiner string, input, init *Value, dims ...int) *Value {
	op := b.create(OpKindReduce, []*Value{input, init}, Type{})
	op.Combiner = combiner
	op.Dimensions = dims
	return b.infer(op).Result()
}

// CollapseShape merges each reassociation group of src.
func (b *Builder) CollapseShape(src *Value, reassoc [][]int) *Value {
	op := b.create(OpKindCollapseShape, []*Value{src}, Type{})
	op.Reassociation = reassoc
	return b.infer(op).Result()
}

// ExpandShape splits src into shape along reassoc.
func (b *Builder) ExpandShape(src *Value, reassoc [][]int, shape []int) *Value {
	op := b.create(OpKindExpandShape, []*Value{src}, TensorType(shape...))
	op.Reassociation = reassoc
	return b.infer(op).Result()
}

// ExtractSlice reads a tile of src.
func (b *Builder) ExtractSlice(src *Value, offsets []Index, sizes []Size) *Value {
	op := b.create(OpKindExtractSlice, []*Value{src}, Type{})
	op.Offsets = offsets
	op.Sizes = sizes
	return b.infer(op).Result()
}

// ParallelInsertSlice writes src into the tile of the shared output dest.
func (b *Builder) ParallelInsertSlice(src, dest *Value, offsets []Index, sizes []Size) *Op {
	op := b.create(OpKindParallelInsertSlice, []*Value{src, dest})
	op.Offsets = offsets
	op.Sizes = sizes
	return op
}

// Loop creates a forall or for op over [lower, upper) with the given steps
// and shared outputs. Its body receives one index argument per dimension
// followed by one argument per output.
func (b *Builder) Loop(kind OpKind, lower, upper, step []int, outs ...*Value) *Op {
	results := make([]Type, len(outs))
	argTypes := make([]Type, 0, len(lower)+len(outs))
	for range lower {
		argTypes = append(argTypes, IndexType())
	}
	for i, o := range outs {
		results[i] = cloneType(o.Type)
		argTypes = append(argTypes, cloneType(o.Type))
	}
	op := b.create(kind, outs, results...)
	op.Lower = slices.Clone(lower)
	op.Upper = slices.Clone(upper)
	op.Step = slices.Clone(step)
	b.Func.NewRegion(op, argTypes...)
	return op
}

// Return terminates the function with vals.
func (b *Builder) Return(vals ...*Value) *Op {
	return b.create(OpKindReturn, vals)
}
