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

// Package ir provides a small SSA intermediate representation for dense
// tensor programs: element-wise maps and their producers, slices, and the
// structured loops that tiling introduces.
package ir

import (
	"fmt"
	"strings"
)

// OpKind categorizes IR operations. The set is closed: passes switch over it
// instead of dispatching dynamically.
type OpKind int

const (
	// OpKindEmpty allocates an uninitialized tensor of a static shape.
	OpKindEmpty OpKind = iota

	// OpKindFill writes a constant into every element of its init operand.
	OpKindFill

	// OpKindBroadcast replicates its input along the dimensions of the init
	// operand listed in Dimensions.
	OpKindBroadcast

	// OpKindMap applies Body element by element to its inputs.
	OpKindMap

	// OpKindReduce folds the Dimensions of its input with Combiner.
	// It is not element-wise and never takes part in fusion.
	OpKindReduce

	// OpKindCollapseShape merges groups of adjacent dimensions.
	OpKindCollapseShape

	// OpKindExpandShape splits dimensions into groups.
	OpKindExpandShape

	// OpKindExtractSlice reads a rectangular tile of its source.
	OpKindExtractSlice

	// OpKindParallelInsertSlice writes a tile into a loop's shared output.
	// It terminates loop bodies and has no results.
	OpKindParallelInsertSlice

	// OpKindForall is a parallel loop nest produced by tiling.
	OpKindForall

	// OpKindFor is a sequential loop nest produced by tiling.
	OpKindFor

	// OpKindReturn terminates a function body.
	OpKindReturn
)

// String returns the name used by the printer.
func (k OpKind) String() string {
	switch k {
	case OpKindEmpty:
		return "empty"
	case OpKindFill:
		return "fill"
	case OpKindBroadcast:
		return "broadcast"
	case OpKindMap:
		return "map"
	case OpKindReduce:
		return "reduce"
	case OpKindCollapseShape:
		return "collapse_shape"
	case OpKindExpandShape:
		return "expand_shape"
	case OpKindExtractSlice:
		return "extract_slice"
	case OpKindParallelInsertSlice:
		return "parallel_insert_slice"
	case OpKindForall:
		return "forall"
	case OpKindFor:
		return "for"
	case OpKindReturn:
		return "return"
	default:
		return fmt.Sprintf("OpKind(%d)", k)
	}
}

// ParseOpKind is the inverse of OpKind.String.
func ParseOpKind(s string) (OpKind, bool) {
	for k := OpKindEmpty; k <= OpKindReturn; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// IsLoop returns true for the structured loop kinds.
func (k OpKind) IsLoop() bool {
	return k == OpKindForall || k == OpKindFor
}

// IsDestinationStyle returns true for ops whose last operand is the init
// tensor the result is written into.
func (k OpKind) IsDestinationStyle() bool {
	switch k {
	case OpKindFill, OpKindBroadcast, OpKindMap, OpKindReduce:
		return true
	default:
		return false
	}
}

// Dynamic marks a dimension whose size is only known at run time.
const Dynamic = -1

// Type is either a ranked tensor of f32 elements or the index type of loop
// induction variables.
type Type struct {
	Shape []int
	Index bool
}

// TensorType returns a tensor type with the given shape.
func TensorType(shape ...int) Type {
	return Type{Shape: append([]int(nil), shape...)}
}

// IndexType returns the type of loop induction variables.
func IndexType() Type {
	return Type{Index: true}
}

// Rank returns the number of dimensions.
func (t Type) Rank() int {
	return len(t.Shape)
}

// IsStatic returns true if every dimension is known.
func (t Type) IsStatic() bool {
	for _, d := range t.Shape {
		if d == Dynamic {
			return false
		}
	}
	return true
}

// NumElements returns the element count, or Dynamic.
func (t Type) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		if d == Dynamic {
			return Dynamic
		}
		n *= d
	}
	return n
}

// Equal compares two types.
func (t Type) Equal(o Type) bool {
	if t.Index != o.Index || len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Compatible is like Equal but lets a Dynamic dimension match anything.
func (t Type) Compatible(o Type) bool {
	if t.Index != o.Index || len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] && t.Shape[i] != Dynamic && o.Shape[i] != Dynamic {
			return false
		}
	}
	return true
}

func (t Type) String() string {
	if t.Index {
		return "index"
	}
	var sb strings.Builder
	sb.WriteString("tensor<")
	for _, d := range t.Shape {
		if d == Dynamic {
			sb.WriteString("?")
		} else {
			fmt.Fprintf(&sb, "%d", d)
		}
		sb.WriteString("x")
	}
	sb.WriteString("f32>")
	return sb.String()
}

// Value is an SSA value: an op result or a block argument.
type Value struct {
	// ID is unique within the owning function.
	ID int

	Type Type

	def   *Op
	owner *Block
	uses  []*Op // one entry per operand slot referencing this value
}

// DefiningOp returns the op producing v, or nil for block arguments.
func (v *Value) DefiningOp() *Op {
	return v.def
}

// OwnerBlock returns the block v is an argument of, or nil for op results.
func (v *Value) OwnerBlock() *Block {
	return v.owner
}

// NumUses returns the number of operand slots referencing v.
func (v *Value) NumUses() int {
	return len(v.uses)
}

// HasOneUse returns true if exactly one operand slot references v.
func (v *Value) HasOneUse() bool {
	return len(v.uses) == 1
}

// Users returns the distinct ops using v, in use order.
func (v *Value) Users() []*Op {
	var users []*Op
	for _, u := range v.uses {
		if !containsOp(users, u) {
			users = append(users, u)
		}
	}
	return users
}

// ReplaceAllUsesWith redirects every use of v to nv.
func (v *Value) ReplaceAllUsesWith(nv *Value) {
	v.ReplaceAllUsesExcept(nv, nil)
}

// ReplaceAllUsesExcept redirects every use of v to nv, except uses by the
// op except.
func (v *Value) ReplaceAllUsesExcept(nv *Value, except *Op) {
	if v == nv {
		return
	}
	for _, user := range v.Users() {
		if user == except {
			continue
		}
		for i, operand := range user.operands {
			if operand == v {
				user.SetOperand(i, nv)
			}
		}
	}
}

func (v *Value) String() string {
	return fmt.Sprintf("%%%d", v.ID)
}

func (v *Value) removeUse(op *Op) {
	for i, u := range v.uses {
		if u == op {
			v.uses = append(v.uses[:i], v.uses[i+1:]...)
			return
		}
	}
}

// Index is a slice offset: a loop induction variable or a constant.
type Index struct {
	IV    *Value
	Const int
}

// ConstIndex returns a constant offset.
func ConstIndex(c int) Index {
	return Index{Const: c}
}

// IVIndex returns an offset equal to an induction variable.
func IVIndex(iv *Value) Index {
	return Index{IV: iv}
}

func (i Index) String() string {
	if i.IV != nil {
		return i.IV.String()
	}
	return fmt.Sprintf("%d", i.Const)
}

// Size is a slice extent: a constant, or min(Step, Upper - IV) for the
// partial last tile of a loop dimension.
type Size struct {
	IV    *Value
	Const int
	Step  int
	Upper int
}

// ConstSize returns a constant extent.
func ConstSize(c int) Size {
	return Size{Const: c}
}

// MinSize returns the extent min(step, upper - iv).
func MinSize(iv *Value, step, upper int) Size {
	return Size{IV: iv, Step: step, Upper: upper}
}

// IsConst returns true if the size is known statically.
func (s Size) IsConst() bool {
	return s.IV == nil
}

// Static returns the constant size, or Dynamic.
func (s Size) Static() int {
	if s.IV != nil {
		return Dynamic
	}
	return s.Const
}

// Eval computes the size for a given induction variable value.
func (s Size) Eval(iv int) int {
	if s.IV == nil {
		return s.Const
	}
	return min(s.Step, s.Upper-iv)
}

func (s Size) String() string {
	if s.IV != nil {
		return fmt.Sprintf("min(%d, %d - %s)", s.Step, s.Upper, s.IV)
	}
	return fmt.Sprintf("%d", s.Const)
}

// Op is a single operation. Attribute fields are only meaningful for the
// kinds noted next to them.
type Op struct {
	// ID is unique within the owning function.
	ID int

	Kind OpKind

	operands []*Value

	// Results are the values this op defines.
	Results []*Value

	// Region is the loop body for OpKindForall and OpKindFor.
	Region *Block

	// Body is the per-element computation of OpKindMap.
	Body *Expr

	// FillValue is the constant of OpKindFill.
	FillValue float64

	// Dimensions lists the init dimensions added by OpKindBroadcast, or the
	// input dimensions folded by OpKindReduce.
	Dimensions []int

	// Combiner is the reduction of OpKindReduce ("add", "max", "min", "mul").
	Combiner string

	// Reassociation groups dimensions for the reshape kinds: each group of
	// the expanded shape collapses to one dimension.
	Reassociation [][]int

	// Offsets and Sizes describe the tile of OpKindExtractSlice and
	// OpKindParallelInsertSlice.
	Offsets []Index
	Sizes   []Size

	// Lower, Upper and Step bound each loop dimension.
	Lower, Upper, Step []int

	labels []string
	block  *Block
	erased bool
}

// Operands returns the op's operands. The slice must not be modified.
func (op *Op) Operands() []*Value {
	return op.operands
}

// Operand returns operand i.
func (op *Op) Operand(i int) *Value {
	return op.operands[i]
}

// NumOperands returns the operand count.
func (op *Op) NumOperands() int {
	return len(op.operands)
}

// SetOperand replaces operand i, keeping use lists consistent.
func (op *Op) SetOperand(i int, v *Value) {
	if old := op.operands[i]; old != nil {
		old.removeUse(op)
	}
	op.operands[i] = v
	if v != nil {
		v.uses = append(v.uses, op)
	}
}

// AddOperand appends an operand.
func (op *Op) AddOperand(v *Value) {
	op.operands = append(op.operands, v)
	v.uses = append(v.uses, op)
}

// EraseOperand removes operand i.
func (op *Op) EraseOperand(i int) {
	op.operands[i].removeUse(op)
	op.operands = append(op.operands[:i], op.operands[i+1:]...)
}

// Result returns the first result.
func (op *Op) Result() *Value {
	return op.Results[0]
}

// Init returns the destination operand of destination-style ops.
func (op *Op) Init() *Value {
	if !op.Kind.IsDestinationStyle() {
		return nil
	}
	return op.operands[len(op.operands)-1]
}

// Inputs returns the non-destination operands of destination-style ops.
func (op *Op) Inputs() []*Value {
	if !op.Kind.IsDestinationStyle() {
		return op.operands
	}
	return op.operands[:len(op.operands)-1]
}

// Rank returns the rank of the first result, or 0 for ops without results.
func (op *Op) Rank() int {
	if len(op.Results) == 0 {
		return 0
	}
	return op.Results[0].Type.Rank()
}

// InductionVars returns the loop induction variables of a loop op.
func (op *Op) InductionVars() []*Value {
	if !op.Kind.IsLoop() {
		return nil
	}
	return op.Region.Args[:len(op.Lower)]
}

// RegionOutputs returns the block arguments bound to the shared outputs.
func (op *Op) RegionOutputs() []*Value {
	if !op.Kind.IsLoop() {
		return nil
	}
	return op.Region.Args[len(op.Lower):]
}

// NumLoops returns the number of loop dimensions of a loop op.
func (op *Op) NumLoops() int {
	return len(op.Lower)
}

// TripCount returns the number of iterations of loop dimension d.
func (op *Op) TripCount(d int) int {
	span := op.Upper[d] - op.Lower[d]
	if span <= 0 {
		return 0
	}
	return (span + op.Step[d] - 1) / op.Step[d]
}

// Block returns the block containing op.
func (op *Op) Block() *Block {
	return op.block
}

// ParentOp returns the op whose region contains op, or nil at function
// level.
func (op *Op) ParentOp() *Op {
	if op.block == nil {
		return nil
	}
	return op.block.parent
}

// IsErased returns true once the op has been removed from the IR.
func (op *Op) IsErased() bool {
	return op.erased
}

// HasSideEffects returns true for ops that may not be removed when unused.
func (op *Op) HasSideEffects() bool {
	return op.Kind == OpKindParallelInsertSlice || op.Kind == OpKindReturn
}

// IsTriviallyDead returns true if no result is used and the op has no side
// effects.
func (op *Op) IsTriviallyDead() bool {
	if op.HasSideEffects() {
		return false
	}
	for _, r := range op.Results {
		if r.NumUses() > 0 {
			return false
		}
	}
	return true
}

// Walk visits op and every op nested in its region in pre-order. Returning
// false from fn skips the op's region.
func (op *Op) Walk(fn func(*Op) bool) {
	if !fn(op) || op.Region == nil {
		return
	}
	op.Region.Walk(fn)
}

// Block is an ordered list of ops with arguments.
type Block struct {
	Args []*Value
	Ops  []*Op

	parent *Op
}

// ParentOp returns the loop owning b, or nil for a function body.
func (b *Block) ParentOp() *Op {
	return b.parent
}

// Walk visits the ops of b in pre-order.
func (b *Block) Walk(fn func(*Op) bool) {
	// Snapshot: fn may mutate the block.
	for _, op := range append([]*Op(nil), b.Ops...) {
		if op.erased {
			continue
		}
		op.Walk(fn)
	}
}

// Terminators returns the trailing parallel_insert_slice or return ops.
func (b *Block) Terminators() []*Op {
	i := len(b.Ops)
	for i > 0 {
		k := b.Ops[i-1].Kind
		if k != OpKindParallelInsertSlice && k != OpKindReturn {
			break
		}
		i--
	}
	return b.Ops[i:]
}

// FirstTerminator returns the first terminator op, or nil.
func (b *Block) FirstTerminator() *Op {
	terms := b.Terminators()
	if len(terms) == 0 {
		return nil
	}
	return terms[0]
}

func (b *Block) indexOf(op *Op) int {
	for i, o := range b.Ops {
		if o == op {
			return i
		}
	}
	return -1
}

// InsertBefore inserts op before anchor. A nil anchor appends.
func (b *Block) InsertBefore(anchor, op *Op) {
	op.block = b
	if anchor == nil {
		b.Ops = append(b.Ops, op)
		return
	}
	i := b.indexOf(anchor)
	if i < 0 {
		panic(fmt.Sprintf("ir: anchor %s is not in block", anchor.Kind))
	}
	b.Ops = append(b.Ops, nil)
	copy(b.Ops[i+1:], b.Ops[i:])
	b.Ops[i] = op
}

// InsertAfter inserts op after anchor.
func (b *Block) InsertAfter(anchor, op *Op) {
	i := b.indexOf(anchor)
	if i < 0 || i == len(b.Ops)-1 {
		b.InsertBefore(nil, op)
		return
	}
	b.InsertBefore(b.Ops[i+1], op)
}

// Function is a named body of ops whose block arguments are the parameters.
type Function struct {
	Name string
	Body *Block

	nextID int
}

// NewFunction creates a function with one parameter per type.
func NewFunction(name string, params ...Type) *Function {
	f := &Function{Name: name, Body: &Block{}}
	for _, t := range params {
		f.Body.Args = append(f.Body.Args, f.newArg(f.Body, t))
	}
	return f
}

// Params returns the function parameters.
func (f *Function) Params() []*Value {
	return f.Body.Args
}

// NewID allocates a function-unique ID shared by ops and values.
func (f *Function) NewID() int {
	id := f.nextID
	f.nextID++
	return id
}

func (f *Function) newArg(b *Block, t Type) *Value {
	return &Value{ID: f.NewID(), Type: t, owner: b}
}

// NewOp creates a detached op with the given operands and result types.
func (f *Function) NewOp(kind OpKind, operands []*Value, results ...Type) *Op {
	op := &Op{ID: f.NewID(), Kind: kind}
	for _, v := range operands {
		op.AddOperand(v)
	}
	for _, t := range results {
		op.Results = append(op.Results, &Value{ID: f.NewID(), Type: t, def: op})
	}
	return op
}

// NewRegion attaches an empty body with the given argument types to op.
func (f *Function) NewRegion(op *Op, argTypes ...Type) *Block {
	b := &Block{parent: op}
	for _, t := range argTypes {
		b.Args = append(b.Args, f.newArg(b, t))
	}
	op.Region = b
	return b
}

// Walk visits every op of the function in pre-order.
func (f *Function) Walk(fn func(*Op) bool) {
	f.Body.Walk(fn)
}

// Ops returns every op of the function in pre-order.
func (f *Function) Ops() []*Op {
	var ops []*Op
	f.Walk(func(op *Op) bool {
		ops = append(ops, op)
		return true
	})
	return ops
}

// OpsOfKind returns every op of the given kind in pre-order.
func (f *Function) OpsOfKind(kind OpKind) []*Op {
	var ops []*Op
	f.Walk(func(op *Op) bool {
		if op.Kind == kind {
			ops = append(ops, op)
		}
		return true
	})
	return ops
}

// Return returns the function terminator, or nil.
func (f *Function) Return() *Op {
	if t := f.Body.FirstTerminator(); t != nil && t.Kind == OpKindReturn {
		return t
	}
	return nil
}

// Module is a set of independent functions.
type Module struct {
	Functions []*Function
}

// Lookup returns the function with the given name, or nil.
func (m *Module) Lookup(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func containsOp(ops []*Op, op *Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
