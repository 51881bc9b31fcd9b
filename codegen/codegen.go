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

// Package codegen emits Go source for IR functions. Tensors become flat
// row-major []float32 slices and loops become plain for statements, so the
// output of the tiling pass can be compiled and benchmarked directly.
//
// Every tensor in the function must have a static shape, which holds for
// untransformed functions and for the output of the tiling pass.
package codegen

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/imports"

	"github.com/ajroetker/hwytile/ir"
)

// Options configures Emit.
type Options struct {
	// Package is the package clause of the generated file.
	Package string

	// FuncName overrides the exported function name. Defaults to the IR
	// function name with its first letter upper-cased.
	FuncName string
}

// Emit returns a formatted Go file holding one function equivalent to f.
func Emit(f *ir.Function, opts Options) ([]byte, error) {
	if opts.Package == "" {
		opts.Package = "kernels"
	}
	if opts.FuncName == "" {
		opts.FuncName = exportedName(f.Name)
	}
	if err := ir.Verify(f); err != nil {
		return nil, errors.WithMessage(err, "cannot emit invalid IR")
	}

	g := &generator{}
	fmt.Fprintf(&g.buf, "// Code generated by hwytile. DO NOT EDIT.\n\npackage %s\n\n", opts.Package)
	if err := g.function(f, opts.FuncName); err != nil {
		return nil, errors.WithMessagef(err, "emitting @%s", f.Name)
	}

	out, err := imports.Process(opts.FuncName+".go", g.buf.Bytes(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "formatting generated code for @%s", f.Name)
	}
	return out, nil
}

func exportedName(name string) string {
	if name == "" {
		return "Kernel"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

type generator struct {
	buf   bytes.Buffer
	depth int
}

func (g *generator) line(format string, args ...any) {
	g.buf.WriteString(strings.Repeat("\t", g.depth))
	fmt.Fprintf(&g.buf, format, args...)
	g.buf.WriteByte('\n')
}

func name(v *ir.Value) string {
	return "v" + strconv.Itoa(v.ID)
}

func staticShape(v *ir.Value) ([]int, error) {
	if !v.Type.IsStatic() {
		return nil, errors.Errorf("%s has dynamic type %s", v, v.Type)
	}
	return v.Type.Shape, nil
}

func (g *generator) function(f *ir.Function, fn string) error {
	params := make([]string, len(f.Params()))
	for i, p := range f.Params() {
		if _, err := staticShape(p); err != nil {
			return err
		}
		params[i] = name(p) + " []float32"
	}
	ret := f.Return()
	results := strings.TrimSuffix(strings.Repeat("[]float32, ", ret.NumOperands()), ", ")
	if ret.NumOperands() > 1 {
		results = "(" + results + ")"
	}

	g.line("// %s computes @%s.", fn, f.Name)
	g.line("func %s(%s) %s {", fn, strings.Join(params, ", "), results)
	g.depth++
	if err := g.block(f.Body); err != nil {
		return err
	}
	g.depth--
	g.line("}")
	return nil
}

func (g *generator) block(b *ir.Block) error {
	for _, op := range b.Ops {
		if err := g.op(op); err != nil {
			return errors.WithMessagef(err, "%s %%%d", op.Kind, op.ID)
		}
		for _, r := range op.Results {
			if r.NumUses() == 0 {
				g.line("_ = %s", name(r))
			}
		}
	}
	return nil
}

func (g *generator) op(op *ir.Op) error {
	var shape []int
	if len(op.Results) > 0 && !op.Kind.IsLoop() {
		var err error
		if shape, err = staticShape(op.Result()); err != nil {
			return err
		}
	}
	switch op.Kind {
	case ir.OpKindEmpty:
		g.line("%s := make([]float32, %d)", name(op.Result()), numElements(shape))

	case ir.OpKindFill:
		out := name(op.Result())
		g.line("%s := make([]float32, len(%s))", out, name(op.Init()))
		g.line("for i := range %s {", out)
		g.line("\t%s[i] = %s", out, floatLit(op.FillValue))
		g.line("}")

	case ir.OpKindMap:
		out := name(op.Result())
		args := make([]string, len(op.Inputs()))
		for i, in := range op.Inputs() {
			args[i] = name(in) + "[i]"
		}
		g.line("%s := make([]float32, len(%s))", out, name(op.Init()))
		g.line("for i := range %s {", out)
		g.line("\t%s[i] = %s", out, expr(op.Body, args))
		g.line("}")

	case ir.OpKindBroadcast:
		src := op.Operand(0)
		out := name(op.Result())
		kept := ir.KeptDims(len(shape), op.Dimensions)
		g.line("%s := make([]float32, len(%s))", out, name(op.Init()))
		g.loops(op.ID, shape, func(idx []string) {
			srcIdx := make([]string, len(kept))
			for i, d := range kept {
				srcIdx[i] = idx[d]
			}
			g.line("%s[%s] = %s[%s]", out, linear(shape, idx), name(src), linear(src.Type.Shape, srcIdx))
		})

	case ir.OpKindReduce:
		src := op.Operand(0)
		srcShape, err := staticShape(src)
		if err != nil {
			return err
		}
		out := name(op.Result())
		kept := ir.KeptDims(len(srcShape), op.Dimensions)
		g.line("%s := slices.Clone(%s)", out, name(op.Init()))
		g.loops(op.ID, srcShape, func(idx []string) {
			dst := make([]string, len(kept))
			for i, d := range kept {
				dst[i] = idx[d]
			}
			acc := fmt.Sprintf("%s[%s]", out, linear(shape, dst))
			x := fmt.Sprintf("%s[%s]", name(src), linear(srcShape, idx))
			switch op.Combiner {
			case "add":
				g.line("%s += %s", acc, x)
			case "mul":
				g.line("%s *= %s", acc, x)
			default:
				g.line("%s = %s(%s, %s)", acc, op.Combiner, acc, x)
			}
		})

	case ir.OpKindCollapseShape, ir.OpKindExpandShape:
		g.line("%s := %s", name(op.Result()), name(op.Operand(0)))

	case ir.OpKindExtractSlice:
		src := op.Operand(0)
		srcShape, err := staticShape(src)
		if err != nil {
			return err
		}
		out := name(op.Result())
		offsets := g.offsets(op)
		g.line("%s := make([]float32, %d)", out, numElements(shape))
		g.loops(op.ID, shape, func(idx []string) {
			g.line("%s[%s] = %s[%s]", out, linear(shape, idx), name(src), linear(srcShape, shifted(offsets, idx)))
		})

	case ir.OpKindParallelInsertSlice:
		src, dst := op.Operand(0), op.Operand(1)
		sizes := make([]int, len(op.Sizes))
		for d, s := range op.Sizes {
			if !s.IsConst() {
				return errors.Errorf("dynamic tile size %s", s)
			}
			sizes[d] = s.Const
		}
		dstShape, err := staticShape(dst)
		if err != nil {
			return err
		}
		offsets := g.offsets(op)
		g.loops(op.ID, sizes, func(idx []string) {
			g.line("%s[%s] = %s[%s]", name(dst), linear(dstShape, shifted(offsets, idx)), name(src), linear(sizes, idx))
		})

	case ir.OpKindForall, ir.OpKindFor:
		return g.loop(op)

	case ir.OpKindReturn:
		vals := make([]string, op.NumOperands())
		for i, v := range op.Operands() {
			vals[i] = name(v)
		}
		g.line("return %s", strings.Join(vals, ", "))

	default:
		return errors.Errorf("cannot emit %s", op.Kind)
	}
	return nil
}

func (g *generator) loop(op *ir.Op) error {
	outs := op.RegionOutputs()
	for i, o := range outs {
		if _, err := staticShape(o); err != nil {
			return err
		}
		g.line("%s := slices.Clone(%s)", name(o), name(op.Operand(i)))
	}
	if op.Kind == ir.OpKindForall {
		g.line("// forall: iterations write disjoint tiles.")
	}
	ivs := op.InductionVars()
	for d, iv := range ivs {
		g.line("for %[1]s := %[2]d; %[1]s < %[3]d; %[1]s += %[4]d {", name(iv), op.Lower[d], op.Upper[d], op.Step[d])
		g.depth++
	}
	if err := g.block(op.Region); err != nil {
		return err
	}
	for range ivs {
		g.depth--
		g.line("}")
	}
	for i, r := range op.Results {
		g.line("%s := %s", name(r), name(outs[i]))
	}
	return nil
}

func (g *generator) offsets(op *ir.Op) []string {
	offsets := make([]string, len(op.Offsets))
	for d, o := range op.Offsets {
		if o.IV != nil {
			offsets[d] = name(o.IV)
		} else {
			offsets[d] = strconv.Itoa(o.Const)
		}
	}
	return offsets
}

// loops emits one for statement per dimension of shape around body, which
// receives the index variable of every dimension.
func (g *generator) loops(id int, shape []int, body func(idx []string)) {
	idx := make([]string, len(shape))
	for d, n := range shape {
		idx[d] = fmt.Sprintf("e%d_%d", id, d)
		g.line("for %[1]s := 0; %[1]s < %[2]d; %[1]s++ {", idx[d], n)
		g.depth++
	}
	body(idx)
	for range shape {
		g.depth--
		g.line("}")
	}
}

func shifted(offsets, idx []string) []string {
	out := make([]string, len(idx))
	for d := range idx {
		if offsets[d] == "0" {
			out[d] = idx[d]
		} else {
			out[d] = offsets[d] + "+" + idx[d]
		}
	}
	return out
}

// linear returns the row-major offset of idx within shape.
func linear(shape []int, idx []string) string {
	if len(idx) == 0 {
		return "0"
	}
	s := idx[0]
	for d := 1; d < len(idx); d++ {
		s = fmt.Sprintf("(%s)*%d+%s", s, shape[d], idx[d])
	}
	return s
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func floatLit(c float64) string {
	s := strconv.FormatFloat(c, 'g', -1, 32)
	if c < 0 {
		return "(" + s + ")"
	}
	return s
}

func expr(e *ir.Expr, args []string) string {
	switch e.Op {
	case "arg":
		return args[e.Arg]
	case "const":
		return "float32(" + floatLit(e.Const) + ")"
	}
	ops := make([]string, len(e.Operands))
	for i, o := range e.Operands {
		ops[i] = expr(o, args)
	}
	switch e.Op {
	case "add":
		return "(" + ops[0] + " + " + ops[1] + ")"
	case "sub":
		return "(" + ops[0] + " - " + ops[1] + ")"
	case "mul":
		return "(" + ops[0] + " * " + ops[1] + ")"
	case "div":
		return "(" + ops[0] + " / " + ops[1] + ")"
	case "max", "min":
		return e.Op + "(" + ops[0] + ", " + ops[1] + ")"
	case "neg":
		return "(-" + ops[0] + ")"
	case "abs":
		return "float32(math.Abs(float64(" + ops[0] + ")))"
	case "exp":
		return "float32(math.Exp(float64(" + ops[0] + ")))"
	case "sqrt":
		return "float32(math.Sqrt(float64(" + ops[0] + ")))"
	case "tanh":
		return "float32(math.Tanh(float64(" + ops[0] + ")))"
	}
	return "0"
}
