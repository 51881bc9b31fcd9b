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

// Package irtext loads IR modules and pass configurations from YAML.
//
// A module lists functions; each function names its parameters and a
// straight-line body of ops referring to earlier values by name:
//
//	functions:
//	  - name: scale
//	    params:
//	      - {name: x, shape: [4, 20]}
//	    body:
//	      - {name: init, op: empty, shape: [4, 20]}
//	      - {name: y, op: map, body: "arg0 * 2", ins: [x], outs: init}
//	    return: [y]
//
// Loops are produced by passes and cannot be written by hand.
package irtext

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/hwytile/ir"
)

// ModuleSpec is the YAML form of an ir.Module.
type ModuleSpec struct {
	Functions []FunctionSpec `yaml:"functions"`
}

// FunctionSpec is the YAML form of an ir.Function.
type FunctionSpec struct {
	Name   string      `yaml:"name"`
	Params []ParamSpec `yaml:"params"`
	Body   []OpSpec    `yaml:"body"`
	Return []string    `yaml:"return"`
}

// ParamSpec declares a function parameter.
type ParamSpec struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`
}

// OpSpec is one op of a function body. Which fields apply depends on Op.
type OpSpec struct {
	Name string `yaml:"name"`
	Op   string `yaml:"op"`

	Ins  []string `yaml:"ins"`
	Outs string   `yaml:"outs"`

	Shape         []int   `yaml:"shape"`
	Value         float64 `yaml:"value"`
	Body          string  `yaml:"body"`
	Dimensions    []int   `yaml:"dimensions"`
	Combiner      string  `yaml:"combiner"`
	Reassociation [][]int `yaml:"reassociation"`

	// Line is the source line of the op, for error messages.
	Line int `yaml:"-"`
}

var opSpecKeys = map[string]bool{
	"name": true, "op": true, "ins": true, "outs": true, "shape": true, "value": true,
	"body": true, "dimensions": true, "combiner": true, "reassociation": true,
}

// UnmarshalYAML records the line of the op. Node.Decode does not inherit the
// decoder's KnownFields setting, so unknown keys are rejected here.
func (s *OpSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i < len(node.Content); i += 2 {
			if key := node.Content[i]; !opSpecKeys[key.Value] {
				return errors.Errorf("line %d: unknown op field %q", key.Line, key.Value)
			}
		}
	}
	type plain OpSpec
	if err := node.Decode((*plain)(s)); err != nil {
		return err
	}
	s.Line = node.Line
	return nil
}

// ParseModule decodes a module from YAML. Unknown fields are errors.
func ParseModule(r io.Reader) (*ModuleSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var spec ModuleSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.Wrap(err, "decoding module")
	}
	return &spec, nil
}

// LoadModule reads and builds the module at path.
func LoadModule(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading module %s", path)
	}
	m, err := BuildModule(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "module %s", path)
	}
	return m, nil
}

// BuildModule parses YAML and builds the IR, verifying every function.
func BuildModule(data []byte) (*ir.Module, error) {
	spec, err := ParseModule(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return spec.Build()
}

// Build converts the module description into IR.
func (s *ModuleSpec) Build() (*ir.Module, error) {
	m := &ir.Module{}
	seen := map[string]bool{}
	for _, fs := range s.Functions {
		if seen[fs.Name] {
			return nil, errors.Errorf("duplicate function %q", fs.Name)
		}
		seen[fs.Name] = true
		f, err := fs.Build()
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, f)
	}
	return m, nil
}

// Build converts the function description into a verified function.
func (s *FunctionSpec) Build() (*ir.Function, error) {
	if s.Name == "" {
		return nil, errors.New("function without a name")
	}
	types := make([]ir.Type, len(s.Params))
	for i, p := range s.Params {
		if err := checkShape(p.Shape); err != nil {
			return nil, errors.WithMessagef(err, "@%s parameter %q", s.Name, p.Name)
		}
		types[i] = ir.TensorType(p.Shape...)
	}
	f := ir.NewFunction(s.Name, types...)
	scope := map[string]*ir.Value{}
	for i, p := range s.Params {
		if err := define(scope, p.Name, f.Params()[i]); err != nil {
			return nil, errors.WithMessagef(err, "@%s", s.Name)
		}
	}

	b := ir.NewBuilder(f)
	for _, op := range s.Body {
		v, err := buildOp(b, scope, op)
		if err != nil {
			return nil, errors.WithMessagef(err, "@%s line %d: %s", s.Name, op.Line, op.Op)
		}
		if err := define(scope, op.Name, v); err != nil {
			return nil, errors.WithMessagef(err, "@%s line %d", s.Name, op.Line)
		}
	}

	rets, err := lookupAll(scope, s.Return)
	if err != nil {
		return nil, errors.WithMessagef(err, "@%s return", s.Name)
	}
	b.Return(rets...)
	if err := ir.Verify(f); err != nil {
		return nil, err
	}
	return f, nil
}

func define(scope map[string]*ir.Value, name string, v *ir.Value) error {
	if name == "" {
		return errors.New("value without a name")
	}
	if _, ok := scope[name]; ok {
		return errors.Errorf("%q defined twice", name)
	}
	scope[name] = v
	return nil
}

func lookupAll(scope map[string]*ir.Value, names []string) ([]*ir.Value, error) {
	vals := make([]*ir.Value, len(names))
	for i, n := range names {
		v, ok := scope[n]
		if !ok {
			return nil, errors.Errorf("undefined value %q", n)
		}
		vals[i] = v
	}
	return vals, nil
}

func checkShape(shape []int) error {
	for _, d := range shape {
		if d < 1 {
			return errors.Errorf("shape %v must have positive static dimensions", shape)
		}
	}
	return nil
}

// buildOp creates one op. Shape errors are reported before the builder
// sees them since it panics on ill-typed ops.
func buildOp(b *ir.Builder, scope map[string]*ir.Value, s OpSpec) (*ir.Value, error) {
	kind, ok := ir.ParseOpKind(s.Op)
	if !ok {
		return nil, errors.Errorf("unknown op %q", s.Op)
	}
	ins, err := lookupAll(scope, s.Ins)
	if err != nil {
		return nil, err
	}
	var init *ir.Value
	if kind.IsDestinationStyle() {
		outs, err := lookupAll(scope, []string{s.Outs})
		if err != nil {
			return nil, errors.WithMessage(err, "outs")
		}
		init = outs[0]
	}
	wantIns := func(n int) error {
		if len(ins) != n {
			return errors.Errorf("takes %d inputs, got %d", n, len(ins))
		}
		return nil
	}

	switch kind {
	case ir.OpKindEmpty:
		if err := checkShape(s.Shape); err != nil {
			return nil, err
		}
		return b.Empty(s.Shape...), nil

	case ir.OpKindFill:
		if err := wantIns(0); err != nil {
			return nil, err
		}
		return b.Fill(s.Value, init), nil

	case ir.OpKindMap:
		body, err := ir.ParseExpr(s.Body)
		if err != nil {
			return nil, err
		}
		if body.MaxArg() >= len(ins) {
			return nil, errors.Errorf("body uses arg%d but there are %d inputs", body.MaxArg(), len(ins))
		}
		for i, in := range ins {
			if !in.Type.Equal(init.Type) {
				return nil, errors.Errorf("input %d has type %s, outs has %s", i, in.Type, init.Type)
			}
		}
		return b.Map(body, init, ins...), nil

	case ir.OpKindBroadcast:
		if err := wantIns(1); err != nil {
			return nil, err
		}
		return b.Broadcast(ins[0], init, s.Dimensions...), nil

	case ir.OpKindReduce:
		if err := wantIns(1); err != nil {
			return nil, err
		}
		return b.Reduce(s.Combiner, ins[0], init, s.Dimensions...), nil

	case ir.OpKindCollapseShape:
		if err := wantIns(1); err != nil {
			return nil, err
		}
		if err := checkGroups(s.Reassociation, ins[0].Type.Rank()); err != nil {
			return nil, err
		}
		return b.CollapseShape(ins[0], s.Reassociation), nil

	case ir.OpKindExpandShape:
		if err := wantIns(1); err != nil {
			return nil, err
		}
		if err := checkShape(s.Shape); err != nil {
			return nil, err
		}
		if err := checkGroups(s.Reassociation, len(s.Shape)); err != nil {
			return nil, err
		}
		if len(s.Reassociation) != ins[0].Type.Rank() {
			return nil, errors.Errorf("%d groups for rank-%d input", len(s.Reassociation), ins[0].Type.Rank())
		}
		for g, group := range s.Reassociation {
			n := 1
			for _, d := range group {
				n *= s.Shape[d]
			}
			if n != ins[0].Type.Shape[g] {
				return nil, errors.Errorf("group %d of shape %v has %d elements, input dimension has %d", g, s.Shape, n, ins[0].Type.Shape[g])
			}
		}
		return b.ExpandShape(ins[0], s.Reassociation, s.Shape), nil
	}
	return nil, errors.Errorf("%s cannot be written in a module file", kind)
}

func checkGroups(reassoc [][]int, rank int) error {
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
