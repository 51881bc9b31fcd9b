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

package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ajroetker/hwytile/codegen"
	"github.com/ajroetker/hwytile/interp"
	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/irtext"
	"github.com/ajroetker/hwytile/target"
	"github.com/ajroetker/hwytile/transforms"
	"github.com/ajroetker/hwytile/workerpool"
)

// passFlags holds the pass options given on the command line.
type passFlags struct {
	config        string
	tileSize      int
	maxIterations int
	maxRewrites   int
}

func (pf *passFlags) register(fs *pflag.FlagSet) {
	defaults := transforms.DefaultOptions()
	fs.StringVar(&pf.config, "config", "", "YAML file with pass options (tile_size, max_iterations, max_rewrites)")
	fs.IntVarP(&pf.tileSize, "tile-size", "t", defaults.InnerDimTileSize, "Tile size of the innermost dimension (default: f32 lanes of "+target.Current().String()+")")
	fs.IntVar(&pf.maxIterations, "max-iterations", defaults.MaxIterations, "Maximum rewrite sweeps")
	fs.IntVar(&pf.maxRewrites, "max-rewrites", defaults.MaxRewrites, "Maximum rewrites, negative for no bound")
}

// options merges defaults, the config file and explicitly set flags, in
// that order.
func (pf *passFlags) options(fs *pflag.FlagSet) (transforms.Options, error) {
	opts := transforms.DefaultOptions()
	if pf.config != "" {
		cfg, err := irtext.LoadConfig(pf.config)
		if err != nil {
			return opts, err
		}
		cfg.Apply(&opts)
	}
	if fs.Changed("tile-size") {
		opts.InnerDimTileSize = pf.tileSize
	}
	if fs.Changed("max-iterations") {
		opts.MaxIterations = pf.maxIterations
	}
	if fs.Changed("max-rewrites") {
		opts.MaxRewrites = pf.maxRewrites
	}
	return opts, opts.Validate()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hwytile",
		Short:         "Tile element-wise tensor maps for CPU execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTransformCmd(), newEvalCmd(), newEmitCmd(), newTargetCmd())
	return root
}

func newTransformCmd() *cobra.Command {
	var pf passFlags
	var funcName string
	cmd := &cobra.Command{
		Use:   "transform <program.yaml>",
		Short: "Run the tiling pass and print the resulting IR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := pf.options(cmd.Flags())
			if err != nil {
				return err
			}
			m, err := loadModule(args[0], funcName)
			if err != nil {
				return err
			}
			if err := transforms.RunOnModule(cmd.Context(), m, opts); err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), m.String())
			return err
		},
	}
	pf.register(cmd.Flags())
	cmd.Flags().StringVarP(&funcName, "func", "f", "", "Only process this function")
	return cmd
}

func newEvalCmd() *cobra.Command {
	var pf passFlags
	var funcName string
	var workers int
	var tol float64
	cmd := &cobra.Command{
		Use:   "eval <program.yaml>",
		Short: "Run a function on iota inputs before and after tiling and compare the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := pf.options(cmd.Flags())
			if err != nil {
				return err
			}
			m, err := loadModule(args[0], funcName)
			if err != nil {
				return err
			}
			pool := workerpool.New(workers)
			defer pool.Close()
			in := &interp.Interpreter{Pool: pool}

			out := cmd.OutOrStdout()
			for _, f := range m.Functions {
				inputs := make([]*interp.Tensor, len(f.Params()))
				for i, p := range f.Params() {
					inputs[i] = interp.Iota(p.Type.Shape...)
				}
				want, err := in.Run(f, inputs...)
				if err != nil {
					return err
				}
				stats, err := transforms.TransformMapForCPU(f, opts)
				if err != nil {
					return err
				}
				got, err := in.Run(f, inputs...)
				if err != nil {
					return err
				}
				for i := range want {
					if !got[i].Equal(want[i], tol) {
						return errors.Errorf("@%s result %d changed by tiling:\nbefore: %s\nafter:  %s", f.Name, i, want[i], got[i])
					}
				}
				fmt.Fprintf(out, "@%s: %d results match after %d rewrites in %d iterations\n",
					f.Name, len(want), stats.Rewrites, stats.Iterations)
			}
			return nil
		},
	}
	pf.register(cmd.Flags())
	cmd.Flags().StringVarP(&funcName, "func", "f", "", "Only evaluate this function")
	cmd.Flags().IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "Workers running forall iterations")
	cmd.Flags().Float64Var(&tol, "tolerance", 0, "Maximum absolute difference per element")
	return cmd
}

func newEmitCmd() *cobra.Command {
	var pf passFlags
	var funcName, pkg, output string
	var skipPass bool
	cmd := &cobra.Command{
		Use:   "emit <program.yaml>",
		Short: "Tile a function and write it as Go source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if funcName == "" {
				return errors.New("--func is required")
			}
			opts, err := pf.options(cmd.Flags())
			if err != nil {
				return err
			}
			m, err := loadModule(args[0], funcName)
			if err != nil {
				return err
			}
			f := m.Functions[0]
			if !skipPass {
				if _, err := transforms.TransformMapForCPU(f, opts); err != nil {
					return err
				}
			}
			src, err := codegen.Emit(f, codegen.Options{Package: pkg})
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(src)
				return err
			}
			return errors.Wrapf(os.WriteFile(output, src, 0644), "writing %s", output)
		},
	}
	pf.register(cmd.Flags())
	cmd.Flags().StringVarP(&funcName, "func", "f", "", "Function to emit (required)")
	cmd.Flags().StringVar(&pkg, "pkg", "kernels", "Package name of the generated file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&skipPass, "no-tiling", false, "Emit the function as written, without tiling")
	return cmd
}

func newTargetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "target",
		Short: "Print the detected SIMD level and the default tile size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl := target.Current()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "level: %s\nvector bytes: %d\ndefault tile size: %d\n",
				lvl, lvl.WidthBytes(), target.DefaultInnerTileSize())
			return err
		},
	}
}

// loadModule reads a module, keeping only funcName if it is set.
func loadModule(path, funcName string) (*ir.Module, error) {
	m, err := irtext.LoadModule(path)
	if err != nil {
		return nil, err
	}
	if funcName == "" {
		return m, nil
	}
	f := m.Lookup(funcName)
	if f == nil {
		return nil, errors.Errorf("no function @%s in %s", funcName, path)
	}
	return &ir.Module{Functions: []*ir.Function{f}}, nil
}
