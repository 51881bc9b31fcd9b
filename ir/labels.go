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
	"slices"

	"github.com/samber/lo"
)

// Labels are transient markers. They carry no program semantics.
const (
	// LabelTransformed marks ops a rewrite already handled.
	LabelTransformed = "__transformed_label__"

	// LabelPerfectlyTiledLoop marks the main loop left by peeling, whose
	// tiles are all full.
	LabelPerfectlyTiledLoop = "__perfectly_tiled_loop_label__"
)

// HasLabel reports whether op carries label.
func (op *Op) HasLabel(label string) bool {
	return slices.Contains(op.labels, label)
}

// SetLabel attaches label to op.
func (op *Op) SetLabel(label string) {
	if !op.HasLabel(label) {
		op.labels = append(op.labels, label)
	}
}

// RemoveLabel detaches label from op.
func (op *Op) RemoveLabel(label string) {
	op.labels = lo.Without(op.labels, label)
}

// Labels returns a copy of op's labels.
func (op *Op) Labels() []string {
	return slices.Clone(op.labels)
}

// OpSet is a set of ops keyed by ID, for bookkeeping that must not leak
// into the IR.
type OpSet map[int]struct{}

// Add inserts ops into the set.
func (s OpSet) Add(ops ...*Op) {
	for _, op := range ops {
		s[op.ID] = struct{}{}
	}
}

// Has reports whether op is in the set.
func (s OpSet) Has(op *Op) bool {
	_, ok := s[op.ID]
	return ok
}
