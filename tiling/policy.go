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

package tiling

import (
	"slices"

	"github.com/ajroetker/hwytile/ir"
)

// TileSizeFunc returns one tile size per loop dimension of op.
type TileSizeFunc func(op *ir.Op) []int

// InnerDimTileSizes returns [1, ..., 1, innerDimTileSize] with one entry per
// dimension. Only the innermost dimension is blocked, so each tile is a
// contiguous run of elements for one combination of outer indices. Rank 0
// yields an empty vector.
func InnerDimTileSizes(rank, innerDimTileSize int) []int {
	sizes := UnitTileSizes(rank)
	if rank > 0 {
		sizes[rank-1] = innerDimTileSize
	}
	return sizes
}

// UnitTileSizes returns a vector of rank ones, which tiles an op down to
// single elements.
func UnitTileSizes(rank int) []int {
	return slices.Repeat([]int{1}, rank)
}

// InnerDimPolicy returns a TileSizeFunc applying InnerDimTileSizes with a
// fixed innermost size.
func InnerDimPolicy(innerDimTileSize int) TileSizeFunc {
	return func(op *ir.Op) []int {
		return InnerDimTileSizes(op.Rank(), innerDimTileSize)
	}
}

// UnitPolicy tiles every dimension by one.
func UnitPolicy(op *ir.Op) []int {
	return UnitTileSizes(op.Rank())
}
