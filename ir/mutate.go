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

// Erase removes op and everything nested in it. Its results must be unused
// outside of op itself.
func (op *Op) Erase() {
	if op.erased {
		return
	}
	for _, r := range op.Results {
		for _, u := range r.uses {
			if !op.encloses(u) {
				panic(fmt.Sprintf("ir: erasing %s %%%d whose result is still used by %s %%%d",
					op.Kind, op.ID, u.Kind, u.ID))
			}
		}
	}
	op.dropReferences()
	if op.block != nil {
		if i := op.block.indexOf(op); i >= 0 {
			op.block.Ops = slices.Delete(op.block.Ops, i, i+1)
		}
	}
	op.block = nil
}

// dropReferences releases every operand of op and its nested ops and marks
// them erased.
func (op *Op) dropReferences() {
	if op.Region != nil {
		for _, nested := range op.Region.Ops {
			nested.dropReferences()
		}
	}
	for i := range op.operands {
		if op.operands[i] != nil {
			op.operands[i].removeUse(op)
			op.operands[i] = nil
		}
	}
	op.operands = nil
	op.erased = true
}

// encloses reports whether other is op or nested inside op.
func (op *Op) encloses(other *Op) bool {
	for o := other; o != nil; o = o.ParentOp() {
		if o == op {
			return true
		}
	}
	return false
}

// IsProperAncestor reports whether other is nested inside op.
func (op *Op) IsProperAncestor(other *Op) bool {
	return other != op && op.encloses(other)
}

// IsDefinedOutside reports whether v is defined outside of loop.
func IsDefinedOutside(v *Value, loop *Op) bool {
	if def := v.DefiningOp(); def != nil {
		return !loop.encloses(def)
	}
	for b := v.OwnerBlock(); b != nil; {
		p := b.ParentOp()
		if p == nil {
			return true
		}
		if p == loop {
			return false
		}
		b = p.Block()
	}
	return true
}

// MoveBefore detaches op from its block and inserts it before anchor.
func (op *Op) MoveBefore(anchor *Op) {
	if op.block != nil {
		if i := op.block.indexOf(op); i >= 0 {
			op.block.Ops = slices.Delete(op.block.Ops, i, i+1)
		}
	}
	anchor.block.InsertBefore(anchor, op)
}

// EraseArg removes block argument i. It must be unused.
func (b *Block) EraseArg(i int) {
	if n := b.Args[i].NumUses(); n > 0 {
		panic(fmt.Sprintf("ir: erasing block argument with %d uses", n))
	}
	b.Args = slices.Delete(b.Args, i, i+1)
}

// ReplaceIV substitutes the constant c for the induction variable iv in every
// slice nested under b. Sizes depending on iv become constants.
func (b *Block) ReplaceIV(iv *Value, c int) {
	b.Walk(func(op *Op) bool {
		for i, off := range op.Offsets {
			if off.IV == iv {
				op.Offsets[i] = ConstIndex(c)
			}
		}
		for i, sz := range op.Sizes {
			if sz.IV == iv {
				op.Sizes[i] = ConstSize(sz.Eval(c))
			}
		}
		return true
	})
}
