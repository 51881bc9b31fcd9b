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

// Package transforms holds the CPU tiling pass for element-wise maps.
//
// TransformMapForCPU finds clusters of maps and their cheap producers,
// tiles each cluster along its innermost dimension, fuses the producers into
// the tile, peels the loop so the main loop only sees full tiles, and
// scalarizes the peeled remainder.
package transforms

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/rewrite"
	"github.com/ajroetker/hwytile/target"
)

// ErrInvalidTileSize is returned for an inner tile size below one.
var ErrInvalidTileSize = errors.New("inner dimension tile size must be at least 1")

// Options configures TransformMapForCPU. The tile size applies to every map
// of the run.
type Options struct {
	// InnerDimTileSize blocks the innermost dimension. 1 scalarizes
	// everything.
	InnerDimTileSize int

	// MaxIterations bounds the rewrite sweeps; see rewrite.Config.
	MaxIterations int

	// MaxRewrites bounds the number of rewrites; negative means no bound.
	MaxRewrites int
}

// DefaultOptions uses the vector width of the running CPU as tile size.
func DefaultOptions() Options {
	cfg := rewrite.DefaultConfig()
	return Options{
		InnerDimTileSize: target.DefaultInnerTileSize(),
		MaxIterations:    cfg.MaxIterations,
		MaxRewrites:      cfg.MaxRewrites,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.InnerDimTileSize < 1 {
		return errors.Wrapf(ErrInvalidTileSize, "got %d", o.InnerDimTileSize)
	}
	if o.MaxIterations < 1 {
		return errors.Errorf("max iterations must be at least 1, got %d", o.MaxIterations)
	}
	return nil
}

// Patterns returns the rewrite patterns of one pass run.
func Patterns(opts Options) []rewrite.Pattern {
	return []rewrite.Pattern{
		NewTileMapPattern(opts.InnerDimTileSize),
		CollapseForallDimensionsPattern{},
	}
}

// TransformMapForCPU rewrites f in place until no map is left to tile, then
// removes the transformed labels, which must not outlive the pass. An error
// means the pass failed; rewrites that already landed stay in place.
func TransformMapForCPU(f *ir.Function, opts Options) (rewrite.Stats, error) {
	if err := opts.Validate(); err != nil {
		return rewrite.Stats{}, err
	}
	if err := ir.Verify(f); err != nil {
		return rewrite.Stats{}, errors.WithMessage(err, "invalid input")
	}

	stats, err := rewrite.ApplyPatternsGreedily(f, Patterns(opts), rewrite.Config{
		MaxIterations: opts.MaxIterations,
		MaxRewrites:   opts.MaxRewrites,
	})
	if err != nil {
		return stats, errors.WithMessagef(err, "transform-map-for-cpu on @%s", f.Name)
	}

	RemoveTransformedLabels(f)
	if err := ir.Verify(f); err != nil {
		return stats, errors.WithMessage(err, "transform-map-for-cpu produced invalid IR")
	}
	return stats, nil
}

// RemoveTransformedLabels strips ir.LabelTransformed from every op of f.
func RemoveTransformedLabels(f *ir.Function) {
	f.Walk(func(op *ir.Op) bool {
		op.RemoveLabel(ir.LabelTransformed)
		return true
	})
}

// RunOnModule runs TransformMapForCPU on every function of m. Functions
// share no IR, so they are processed concurrently; each function is still
// rewritten by a single goroutine.
func RunOnModule(ctx context.Context, m *ir.Module, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, f := range m.Functions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := TransformMapForCPU(f, opts)
			return err
		})
	}
	return g.Wait()
}
