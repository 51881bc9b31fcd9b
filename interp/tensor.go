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

package interp

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Tensor is a dense row-major array.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New returns a zero tensor.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float64, numElements(shape))}
}

// FromData wraps data, which must have exactly as many elements as shape.
func FromData(shape []int, data []float64) (*Tensor, error) {
	if n := numElements(shape); n != len(data) {
		return nil, errors.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Iota returns a tensor whose elements are 0, 1, 2, ... in row-major order.
func Iota(shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = float64(i)
	}
	return t
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// At returns the element at idx.
func (t *Tensor) At(idx ...int) float64 {
	return t.Data[t.offset(idx)]
}

// Equal reports whether both tensors have the same shape and elements
// within tol.
func (t *Tensor) Equal(o *Tensor, tol float64) bool {
	if !slices.Equal(t.Shape, o.Shape) {
		return false
	}
	for i := range t.Data {
		if math.Abs(t.Data[i]-o.Data[i]) > tol {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor%v%v", t.Shape, t.Data)
}

func (t *Tensor) offset(idx []int) int {
	off := 0
	for d, i := range idx {
		off = off*t.Shape[d] + i
	}
	return off
}

// slice copies the tile [offsets, offsets+sizes).
func (t *Tensor) slice(offsets, sizes []int) (*Tensor, error) {
	if err := t.checkTile(offsets, sizes); err != nil {
		return nil, err
	}
	out := New(sizes...)
	src := make([]int, len(sizes))
	forEachIndex(sizes, func(idx []int) {
		for d := range idx {
			src[d] = offsets[d] + idx[d]
		}
		out.Data[out.offset(idx)] = t.Data[t.offset(src)]
	})
	return out, nil
}

// insert writes src into the tile of t at offsets.
func (t *Tensor) insert(src *Tensor, offsets []int) error {
	if err := t.checkTile(offsets, src.Shape); err != nil {
		return err
	}
	dst := make([]int, len(offsets))
	forEachIndex(src.Shape, func(idx []int) {
		for d := range idx {
			dst[d] = offsets[d] + idx[d]
		}
		t.Data[t.offset(dst)] = src.Data[src.offset(idx)]
	})
	return nil
}

func (t *Tensor) checkTile(offsets, sizes []int) error {
	if len(offsets) != len(t.Shape) || len(sizes) != len(t.Shape) {
		return errors.Errorf("rank-%d tile of rank-%d tensor", len(sizes), len(t.Shape))
	}
	for d := range t.Shape {
		if offsets[d] < 0 || sizes[d] < 0 || offsets[d]+sizes[d] > t.Shape[d] {
			return errors.Errorf("tile offsets %v sizes %v out of bounds for shape %v", offsets, sizes, t.Shape)
		}
	}
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// forEachIndex calls fn with every index of shape in row-major order. The
// index slice is reused between calls.
func forEachIndex(shape []int, fn func(idx []int)) {
	if numElements(shape) == 0 {
		return
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		d := len(shape) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return
		}
	}
}
