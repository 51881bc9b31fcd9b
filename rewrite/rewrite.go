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

// Package rewrite applies pattern rewrites to an IR function until nothing
// matches any more.
package rewrite

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/pkg/errors"

	"github.com/ajroetker/hwytile/ir"
)

// debugRewrite enables debug output, including why patterns did not match.
var debugRewrite = os.Getenv("DEBUG_TILING") != ""

func debugPrint(format string, args ...any) {
	if debugRewrite {
		fmt.Fprintf(os.Stderr, "[rewrite] "+format+"\n", args...)
	}
}

var (
	// ErrNoMatch is wrapped by patterns that left the IR untouched.
	ErrNoMatch = errors.New("pattern does not apply")

	// ErrNoConvergence is returned when rewriting does not reach a fixed
	// point within the configured bounds.
	ErrNoConvergence = errors.New("rewriting did not converge")
)

// Pattern rewrites ops of one kind.
//
// MatchAndRewrite returns nil after changing the IR. An error wrapping
// ErrNoMatch means the IR was not modified; any other error aborts
// rewriting.
type Pattern interface {
	Name() string
	Kind() ir.OpKind
	Benefit() int
	MatchAndRewrite(op *ir.Op, rw *Rewriter) error
}

// Config bounds the rewrite loop.
type Config struct {
	// MaxIterations is the number of sweeps over the function after which a
	// sweep that still changes the IR is a failure.
	MaxIterations int

	// MaxRewrites bounds the number of successful rewrites; negative means
	// no bound.
	MaxRewrites int
}

// DefaultConfig mirrors the usual greedy driver defaults.
func DefaultConfig() Config {
	return Config{MaxIterations: 10, MaxRewrites: -1}
}

// Stats summarizes a rewrite run.
type Stats struct {
	Iterations int
	Rewrites   int
	Erased     int

	// ByPattern counts successful rewrites per pattern name.
	ByPattern map[string]int
}

// Rewriter is handed to patterns to build and mutate IR.
type Rewriter struct {
	*ir.Builder

	erased int
}

// NewRewriter returns a rewriter for f.
func NewRewriter(f *ir.Function) *Rewriter {
	return &Rewriter{Builder: ir.NewBuilder(f)}
}

// NotifyMatchFailure records why op was not rewritten and returns an error
// wrapping ErrNoMatch.
func (rw *Rewriter) NotifyMatchFailure(op *ir.Op, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	debugPrint("%s %%%d: %s", op.Kind, op.ID, reason)
	return errors.Wrap(ErrNoMatch, reason)
}

// EraseOp removes op.
func (rw *Rewriter) EraseOp(op *ir.Op) {
	op.Erase()
	rw.erased++
}

// ReplaceOp redirects the uses of op's results to values and erases op.
func (rw *Rewriter) ReplaceOp(op *ir.Op, values ...*ir.Value) {
	for i, r := range op.Results {
		r.ReplaceAllUsesWith(values[i])
	}
	rw.EraseOp(op)
}

// ApplyPatternsGreedily sweeps f in pre-order, trying patterns on every op
// by decreasing benefit and erasing trivially dead ops, until a sweep makes
// no change.
func ApplyPatternsGreedily(f *ir.Function, patterns []Pattern, cfg Config) (Stats, error) {
	stats := Stats{ByPattern: map[string]int{}}
	if cfg.MaxIterations < 1 {
		return stats, errors.Errorf("MaxIterations must be positive, got %d", cfg.MaxIterations)
	}
	sorted := slices.Clone(patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Benefit() > sorted[j].Benefit()
	})

	rw := NewRewriter(f)
	for {
		stats.Iterations++
		changed := eraseDeadOps(f, rw)

		for _, op := range f.Ops() {
			if op.IsErased() {
				continue
			}
			for _, p := range sorted {
				if p.Kind() != op.Kind {
					continue
				}
				rw.SetInsertionPointBefore(op)
				err := p.MatchAndRewrite(op, rw)
				if errors.Is(err, ErrNoMatch) {
					continue
				}
				if err != nil {
					return stats, errors.WithMessagef(err, "pattern %s on @%s", p.Name(), f.Name)
				}
				debugPrint("applied %s", p.Name())
				stats.Rewrites++
				stats.ByPattern[p.Name()]++
				changed = true
				if cfg.MaxRewrites >= 0 && stats.Rewrites > cfg.MaxRewrites {
					return stats, errors.Wrapf(ErrNoConvergence, "more than %d rewrites on @%s", cfg.MaxRewrites, f.Name)
				}
				break
			}
		}
		stats.Erased = rw.erased

		if !changed {
			return stats, nil
		}
		if stats.Iterations >= cfg.MaxIterations {
			return stats, errors.Wrapf(ErrNoConvergence, "still changing after %d iterations on @%s", cfg.MaxIterations, f.Name)
		}
	}
}

// eraseDeadOps removes unused side-effect-free ops, consumers first.
func eraseDeadOps(f *ir.Function, rw *Rewriter) bool {
	ops := f.Ops()
	changed := false
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.IsErased() || !op.IsTriviallyDead() {
			continue
		}
		debugPrint("erasing dead %s %%%d", op.Kind, op.ID)
		rw.EraseOp(op)
		changed = true
	}
	return changed
}
