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

import "slices"

// Mapping maps original values to their clones.
type Mapping map[*Value]*Value

// Lookup returns the mapped value of v, or v itself.
func (m Mapping) Lookup(v *Value) *Value {
	if nv, ok := m[v]; ok {
		return nv
	}
	return v
}

// Clone returns a detached deep copy of op. Operands, induction variables
// and values defined inside op are remapped through m, and the clone's
// results are recorded in m.
func (f *Function) Clone(op *Op, m Mapping) *Op {
	operands := make([]*Value, len(op.operands))
	for i, v := range op.operands {
		operands[i] = m.Lookup(v)
	}
	types := make([]Type, len(op.Results))
	for i, r := range op.Results {
		types[i] = cloneType(r.Type)
	}
	c := f.NewOp(op.Kind, operands, types...)
	for i, r := range op.Results {
		m[r] = c.Results[i]
	}

	c.Body = op.Body.Clone()
	c.FillValue = op.FillValue
	c.Dimensions = slices.Clone(op.Dimensions)
	c.Combiner = op.Combiner
	for _, g := range op.Reassociation {
		c.Reassociation = append(c.Reassociation, slices.Clone(g))
	}
	if op.Offsets != nil {
		c.Offsets = make([]Index, len(op.Offsets))
		for i, o := range op.Offsets {
			c.Offsets[i] = o
			if o.IV != nil {
				c.Offsets[i].IV = m.Lookup(o.IV)
			}
		}
	}
	if op.Sizes != nil {
		c.Sizes = make([]Size, len(op.Sizes))
		for i, s := range op.Sizes {
			c.Sizes[i] = s
			if s.IV != nil {
				c.Sizes[i].IV = m.Lookup(s.IV)
			}
		}
	}
	c.Lower = slices.Clone(op.Lower)
	c.Upper = slices.Clone(op.Upper)
	c.Step = slices.Clone(op.Step)
	c.labels = slices.Clone(op.labels)

	if op.Region != nil {
		argTypes := make([]Type, len(op.Region.Args))
		for i, a := range op.Region.Args {
			argTypes[i] = cloneType(a.Type)
		}
		body := f.NewRegion(c, argTypes...)
		for i, a := range op.Region.Args {
			m[a] = body.Args[i]
		}
		for _, nested := range op.Region.Ops {
			body.InsertBefore(nil, f.Clone(nested, m))
		}
	}
	return c
}
