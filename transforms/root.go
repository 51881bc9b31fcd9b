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

package transforms

import "github.com/ajroetker/hwytile/ir"

// IsFusible reports whether op may join a map's fusion cluster: a map,
// broadcast or fill, or a reshape that only adds or drops unit dimensions.
func IsFusible(op *ir.Op) bool {
	switch op.Kind {
	case ir.OpKindMap, ir.OpKindBroadcast, ir.OpKindFill:
		return true
	case ir.OpKindCollapseShape, ir.OpKindExpandShape:
		return ir.IsDegenerateReshape(op)
	default:
		return false
	}
}

// FindRoot follows the chain of single uses starting at start while the
// current op is fusible, and returns the last map on that chain. An op
// whose result has several uses ends the chain: fusing it into one consumer
// would duplicate its work for the others.
func FindRoot(start *ir.Op, isFusible func(*ir.Op) bool) *ir.Op {
	root := start
	for cur := start; isFusible(cur); {
		if len(cur.Results) != 1 || !cur.Result().HasOneUse() {
			break
		}
		cur = cur.Result().Users()[0]
		if cur.Kind == ir.OpKindMap {
			root = cur
		}
	}
	return root
}
