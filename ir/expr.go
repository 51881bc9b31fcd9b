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
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Expr is the per-element body of a map: a tree over the element of each
// input ("arg") and constants.
type Expr struct {
	// Op is "arg", "const", or one of the operators in exprArity.
	Op       string
	Arg      int
	Const    float64
	Operands []*Expr
}

var exprArity = map[string]int{
	"add":  2,
	"sub":  2,
	"mul":  2,
	"div":  2,
	"max":  2,
	"min":  2,
	"neg":  1,
	"abs":  1,
	"exp":  1,
	"sqrt": 1,
	"tanh": 1,
}

// Arg references the element of input i.
func Arg(i int) *Expr { return &Expr{Op: "arg", Arg: i} }

// Const is a constant leaf.
func Const(c float64) *Expr { return &Expr{Op: "const", Const: c} }

// Apply builds an operator node.
func Apply(op string, operands ...*Expr) *Expr {
	return &Expr{Op: op, Operands: operands}
}

// Add returns a + b.
func Add(a, b *Expr) *Expr { return Apply("add", a, b) }

// Mul returns a * b.
func Mul(a, b *Expr) *Expr { return Apply("mul", a, b) }

// Eval computes the expression for one element.
func (e *Expr) Eval(args []float64) float64 {
	switch e.Op {
	case "arg":
		return args[e.Arg]
	case "const":
		return e.Const
	}
	a := e.Operands[0].Eval(args)
	var b float64
	if len(e.Operands) > 1 {
		b = e.Operands[1].Eval(args)
	}
	switch e.Op {
	case "add":
		return a + b
	case "sub":
		return a - b
	case "mul":
		return a * b
	case "div":
		return a / b
	case "max":
		return math.Max(a, b)
	case "min":
		return math.Min(a, b)
	case "neg":
		return -a
	case "abs":
		return math.Abs(a)
	case "exp":
		return math.Exp(a)
	case "sqrt":
		return math.Sqrt(a)
	case "tanh":
		return math.Tanh(a)
	}
	panic("ir: unknown expression operator " + e.Op)
}

// MaxArg returns the largest input index referenced, or -1.
func (e *Expr) MaxArg() int {
	if e.Op == "arg" {
		return e.Arg
	}
	m := -1
	for _, o := range e.Operands {
		m = max(m, o.MaxArg())
	}
	return m
}

// Validate checks operator names and arities.
func (e *Expr) Validate() error {
	switch e.Op {
	case "arg":
		if e.Arg < 0 {
			return errors.Errorf("negative argument index %d", e.Arg)
		}
		return nil
	case "const":
		return nil
	}
	arity, ok := exprArity[e.Op]
	if !ok {
		return errors.Errorf("unknown operator %q", e.Op)
	}
	if len(e.Operands) != arity {
		return errors.Errorf("operator %q takes %d operands, got %d", e.Op, arity, len(e.Operands))
	}
	for _, o := range e.Operands {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	c := *e
	c.Operands = make([]*Expr, len(e.Operands))
	for i, o := range e.Operands {
		c.Operands[i] = o.Clone()
	}
	return &c
}

func (e *Expr) String() string {
	switch e.Op {
	case "arg":
		return fmt.Sprintf("arg%d", e.Arg)
	case "const":
		return strconv.FormatFloat(e.Const, 'g', -1, 64)
	}
	parts := make([]string, len(e.Operands))
	for i, o := range e.Operands {
		parts[i] = o.String()
	}
	return e.Op + "(" + strings.Join(parts, ", ") + ")"
}

// ParseExpr parses a map body written as a Go expression, either in call
// form ("add(arg0, mul(arg1, 2))") or with infix operators
// ("arg0 + arg1*2").
func ParseExpr(src string) (*Expr, error) {
	node, err := parser.ParseExpr(src)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing map body %q", src)
	}
	e, err := fromAST(node)
	if err != nil {
		return nil, errors.WithMessagef(err, "map body %q", src)
	}
	if err := e.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "map body %q", src)
	}
	return e, nil
}

var binaryOps = map[token.Token]string{
	token.ADD: "add",
	token.SUB: "sub",
	token.MUL: "mul",
	token.QUO: "div",
}

func fromAST(node ast.Expr) (*Expr, error) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return fromAST(n.X)
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return nil, errors.Errorf("unsupported literal %s", n.Value)
		}
		c, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "literal %s", n.Value)
		}
		return Const(c), nil
	case *ast.Ident:
		if i, ok := strings.CutPrefix(n.Name, "arg"); ok {
			idx, err := strconv.Atoi(i)
			if err != nil {
				return nil, errors.Errorf("bad argument reference %q", n.Name)
			}
			return Arg(idx), nil
		}
		return nil, errors.Errorf("unknown identifier %q", n.Name)
	case *ast.UnaryExpr:
		x, err := fromAST(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.SUB:
			if x.Op == "const" {
				return Const(-x.Const), nil
			}
			return Apply("neg", x), nil
		case token.ADD:
			return x, nil
		}
		return nil, errors.Errorf("unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		op, ok := binaryOps[n.Op]
		if !ok {
			return nil, errors.Errorf("unsupported binary operator %s", n.Op)
		}
		x, err := fromAST(n.X)
		if err != nil {
			return nil, err
		}
		y, err := fromAST(n.Y)
		if err != nil {
			return nil, err
		}
		return Apply(op, x, y), nil
	case *ast.CallExpr:
		fn, ok := n.Fun.(*ast.Ident)
		if !ok {
			return nil, errors.Errorf("unsupported call target")
		}
		operands := make([]*Expr, len(n.Args))
		for i, a := range n.Args {
			o, err := fromAST(a)
			if err != nil {
				return nil, err
			}
			operands[i] = o
		}
		return Apply(fn.Name, operands...), nil
	}
	return nil, errors.Errorf("unsupported expression %T", node)
}
