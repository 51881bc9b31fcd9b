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
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// String prints the function in a readable textual form.
func (f *Function) String() string {
	var sb strings.Builder
	params := lo.Map(f.Body.Args, func(a *Value, _ int) string {
		return fmt.Sprintf("%s: %s", a, a.Type)
	})
	fmt.Fprintf(&sb, "func @%s(%s) {\n", f.Name, strings.Join(params, ", "))
	printBlock(&sb, f.Body, 1)
	sb.WriteString("}\n")
	return sb.String()
}

// String prints every function of the module.
func (m *Module) String() string {
	parts := lo.Map(m.Functions, func(f *Function, _ int) string { return f.String() })
	return strings.Join(parts, "\n")
}

// String prints the op, including its region.
func (op *Op) String() string {
	var sb strings.Builder
	printOp(&sb, op, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func printBlock(sb *strings.Builder, b *Block, depth int) {
	for _, op := range b.Ops {
		printOp(sb, op, depth)
	}
}

func joinValues(vs []*Value) string {
	return strings.Join(lo.Map(vs, func(v *Value, _ int) string { return v.String() }), ", ")
}

func joinInts(xs []int) string {
	return strings.Join(lo.Map(xs, func(x int, _ int) string { return strconv.Itoa(x) }), ", ")
}

func printOp(sb *strings.Builder, op *Op, depth int) {
	indent := strings.Repeat("  ", depth)
	sb.WriteString(indent)
	if len(op.Results) > 0 {
		sb.WriteString(joinValues(op.Results))
		sb.WriteString(" = ")
	}
	sb.WriteString(op.Kind.String())

	switch op.Kind {
	case OpKindEmpty:
		sb.WriteString("()")
	case OpKindFill:
		fmt.Fprintf(sb, " %s outs(%s)", strconv.FormatFloat(op.FillValue, 'g', -1, 64), op.Init())
	case OpKindMap:
		fmt.Fprintf(sb, " {%s} ins(%s) outs(%s)", op.Body, joinValues(op.Inputs()), op.Init())
	case OpKindBroadcast:
		fmt.Fprintf(sb, " ins(%s) outs(%s) dimensions = [%s]", joinValues(op.Inputs()), op.Init(), joinInts(op.Dimensions))
	case OpKindReduce:
		fmt.Fprintf(sb, " %q ins(%s) outs(%s) dimensions = [%s]", op.Combiner, joinValues(op.Inputs()), op.Init(), joinInts(op.Dimensions))
	case OpKindCollapseShape, OpKindExpandShape:
		groups := lo.Map(op.Reassociation, func(g []int, _ int) string { return "[" + joinInts(g) + "]" })
		fmt.Fprintf(sb, " %s [%s] from %s", op.Operand(0), strings.Join(groups, ", "), op.Operand(0).Type)
	case OpKindExtractSlice:
		fmt.Fprintf(sb, " %s%s", op.Operand(0), formatTile(op))
	case OpKindParallelInsertSlice:
		fmt.Fprintf(sb, " %s into %s%s", op.Operand(0), op.Operand(1), formatTile(op))
	case OpKindForall, OpKindFor:
		fmt.Fprintf(sb, " (%s) = (%s) to (%s) step (%s)",
			joinValues(op.InductionVars()), joinInts(op.Lower), joinInts(op.Upper), joinInts(op.Step))
		outs := op.RegionOutputs()
		shared := make([]string, len(outs))
		for i, o := range outs {
			shared[i] = fmt.Sprintf("%s = %s", o, op.Operand(i))
		}
		fmt.Fprintf(sb, " shared_outs(%s) {\n", strings.Join(shared, ", "))
		printBlock(sb, op.Region, depth+1)
		sb.WriteString(indent + "}")
	case OpKindReturn:
		if op.NumOperands() > 0 {
			sb.WriteString(" " + joinValues(op.Operands()))
		}
	}

	if len(op.Results) > 0 {
		types := lo.Map(op.Results, func(r *Value, _ int) string { return r.Type.String() })
		sb.WriteString(" : " + strings.Join(types, ", "))
	}
	if len(op.labels) > 0 {
		sb.WriteString(" {" + strings.Join(op.labels, ", ") + "}")
	}
	sb.WriteString("\n")
}

func formatTile(op *Op) string {
	offsets := lo.Map(op.Offsets, func(o Index, _ int) string { return o.String() })
	sizes := lo.Map(op.Sizes, func(s Size, _ int) string { return s.String() })
	return "[" + strings.Join(offsets, ", ") + "] [" + strings.Join(sizes, ", ") + "]"
}
