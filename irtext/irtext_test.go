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

package irtext

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/hwytile/ir"
	"github.com/ajroetker/hwytile/transforms"
)

const allOps = `
functions:
  - name: norm
    params:
      - {name: x, shape: [4, 8]}
      - {name: bias, shape: [8]}
    body:
      - {name: acc, op: empty, shape: [4]}
      - {name: zero, op: fill, value: 0, outs: acc}
      - {name: sums, op: reduce, combiner: add, dimensions: [1], ins: [x], outs: zero}
      - {name: rowsInit, op: empty, shape: [4, 8]}
      - {name: rows, op: broadcast, dimensions: [1], ins: [sums], outs: rowsInit}
      - {name: colsInit, op: empty, shape: [4, 8]}
      - {name: cols, op: broadcast, dimensions: [0], ins: [bias], outs: colsInit}
      - {name: outInit, op: empty, shape: [4, 8]}
      - {name: out, op: map, body: "arg0 / arg1 + arg2", ins: [x, rows, cols], outs: outInit}
      - {name: flat, op: collapse_shape, reassociation: [[0, 1]], ins: [out]}
      - {name: wide, op: expand_shape, reassociation: [[0, 1]], shape: [1, 32], ins: [flat]}
    return: [wide, sums]
  - name: scale
    params:
      - {name: x, shape: [4, 20]}
    body:
      - {name: init, op: empty, shape: [4, 20]}
      - {name: y, op: map, body: "arg0 * 2", ins: [x], outs: init}
    return: [y]
`

func TestBuildModule(t *testing.T) {
	m, err := BuildModule([]byte(allOps))
	require.NoError(t, err)
	require.Len(t, m.Functions, 2)

	norm := m.Lookup("norm")
	require.NotNil(t, norm)
	require.NoError(t, ir.Verify(norm))
	for _, kind := range []ir.OpKind{
		ir.OpKindEmpty, ir.OpKindFill, ir.OpKindReduce, ir.OpKindBroadcast,
		ir.OpKindMap, ir.OpKindCollapseShape, ir.OpKindExpandShape,
	} {
		assert.NotEmpty(t, norm.OpsOfKind(kind), "no %s in @norm", kind)
	}
	ret := norm.Return()
	assert.True(t, ret.Operand(0).Type.Equal(ir.TensorType(1, 32)))
	assert.True(t, ret.Operand(1).Type.Equal(ir.TensorType(4)))
	assert.Equal(t, "add", norm.OpsOfKind(ir.OpKindReduce)[0].Combiner)
	assert.Equal(t, "add(div(arg0, arg1), arg2)", norm.OpsOfKind(ir.OpKindMap)[0].Body.String())

	scale := m.Lookup("scale")
	require.NotNil(t, scale)
	opts := transforms.DefaultOptions()
	opts.InnerDimTileSize = 8
	_, err = transforms.TransformMapForCPU(scale, opts)
	require.NoError(t, err)
	assert.Len(t, scale.OpsOfKind(ir.OpKindForall), 2)
}

func TestParseModuleRecordsLines(t *testing.T) {
	spec, err := ParseModule(strings.NewReader(allOps))
	require.NoError(t, err)
	body := spec.Functions[0].Body
	assert.Equal(t, 8, body[0].Line)
	assert.Equal(t, 9, body[1].Line)
}

func TestBuildModuleErrors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"unknown function field", `
functions:
  - name: f
    inputs: []
`, "field inputs not found"},
		{"unknown op field", `
functions:
  - name: f
    body:
      - {name: a, op: empty, shape: [2], size: 3}
`, `unknown op field "size"`},
		{"unknown op", `
functions:
  - name: f
    body:
      - {name: a, op: transpose}
`, `unknown op "transpose"`},
		{"undefined value", `
functions:
  - name: f
    params: [{name: x, shape: [2]}]
    body:
      - {name: y, op: map, body: arg0, ins: [x], outs: nowhere}
`, `undefined value "nowhere"`},
		{"defined twice", `
functions:
  - name: f
    params: [{name: x, shape: [2]}]
    body:
      - {name: x, op: empty, shape: [2]}
`, `"x" defined twice`},
		{"duplicate function", `
functions:
  - {name: f}
  - {name: f}
`, `duplicate function "f"`},
		{"bad body", `
functions:
  - name: f
    params: [{name: x, shape: [2]}]
    body:
      - {name: i, op: empty, shape: [2]}
      - {name: y, op: map, body: "arg0 +", ins: [x], outs: i}
`, "parsing map body"},
		{"body argument out of range", `
functions:
  - name: f
    params: [{name: x, shape: [2]}]
    body:
      - {name: i, op: empty, shape: [2]}
      - {name: y, op: map, body: "arg1", ins: [x], outs: i}
`, "body uses arg1"},
		{"mismatched map input", `
functions:
  - name: f
    params: [{name: x, shape: [3]}]
    body:
      - {name: i, op: empty, shape: [2]}
      - {name: y, op: map, body: "arg0", ins: [x], outs: i}
`, "input 0 has type"},
		{"bad reassociation", `
functions:
  - name: f
    params: [{name: x, shape: [2, 3]}]
    body:
      - {name: y, op: collapse_shape, reassociation: [[1, 0]], ins: [x]}
`, "not a contiguous partition"},
		{"bad expansion", `
functions:
  - name: f
    params: [{name: x, shape: [6]}]
    body:
      - {name: y, op: expand_shape, reassociation: [[0, 1]], shape: [4, 2], ins: [x]}
`, "has 8 elements"},
		{"nonpositive shape", `
functions:
  - name: f
    params: [{name: x, shape: [0]}]
`, "positive static dimensions"},
		{"loops are pass output", `
functions:
  - name: f
    body:
      - {name: l, op: forall}
`, "cannot be written in a module file"},
		{"invalid broadcast", `
functions:
  - name: f
    params: [{name: x, shape: [3]}]
    body:
      - {name: i, op: empty, shape: [2, 3]}
      - {name: y, op: broadcast, dimensions: [5], ins: [x], outs: i}
`, "broadcast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildModule([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.yaml")
	require.NoError(t, os.WriteFile(path, []byte(allOps), 0o644))
	m, err := LoadModule(path)
	require.NoError(t, err)
	assert.Len(t, m.Functions, 2)

	_, err = LoadModule(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading module")
}

func TestConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("tile_size: 4\nmax_rewrites: 100\n"))
	require.NoError(t, err)
	opts := transforms.DefaultOptions()
	defaultIterations := opts.MaxIterations
	cfg.Apply(&opts)
	assert.Equal(t, 4, opts.InnerDimTileSize)
	assert.Equal(t, defaultIterations, opts.MaxIterations)
	assert.Equal(t, 100, opts.MaxRewrites)

	empty, err := ParseConfig(nil)
	require.NoError(t, err)
	before := opts
	empty.Apply(&opts)
	assert.Equal(t, before, opts)

	_, err = ParseConfig([]byte("tile: 4\n"))
	assert.ErrorContains(t, err, "field tile not found")

	path := filepath.Join(t.TempDir(), "pass.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: 3\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.MaxIterations)
	assert.Equal(t, 3, *cfg.MaxIterations)
}
