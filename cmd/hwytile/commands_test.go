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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const program = `
functions:
  - name: scale
    params:
      - {name: x, shape: [4, 20]}
    body:
      - {name: init, op: empty, shape: [4, 20]}
      - {name: y, op: map, body: "arg0 * 2 + 1", ins: [x], outs: init}
    return: [y]
  - name: chain
    params:
      - {name: x, shape: [2, 16]}
    body:
      - {name: onesInit, op: empty, shape: [2, 16]}
      - {name: ones, op: fill, value: 1.5, outs: onesInit}
      - {name: sumInit, op: empty, shape: [2, 16]}
      - {name: sum, op: map, body: "arg0 + arg1", ins: [x, ones], outs: sumInit}
      - {name: outInit, op: empty, shape: [2, 16]}
      - {name: out, op: map, body: "exp(arg0)", ins: [sum], outs: outInit}
    return: [out]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTransform(t *testing.T) {
	path := writeFile(t, "program.yaml", program)
	out, err := run(t, "transform", "--tile-size", "8", path)
	require.NoError(t, err)
	assert.Contains(t, out, "func @scale(")
	assert.Contains(t, out, "func @chain(")
	assert.Contains(t, out, "forall")
	assert.NotContains(t, out, "__transformed_label__")

	out, err = run(t, "transform", "-t", "8", "--func", "chain", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "@scale")
	assert.Equal(t, 1, strings.Count(out, "forall"))
}

func TestTransformOptions(t *testing.T) {
	path := writeFile(t, "program.yaml", program)

	_, err := run(t, "transform", "--tile-size", "0", path)
	assert.ErrorContains(t, err, "tile size")

	// The config file sets an invalid tile size; the flag overrides it.
	cfg := writeFile(t, "pass.yaml", "tile_size: 0\n")
	_, err = run(t, "transform", "--config", cfg, path)
	assert.ErrorContains(t, err, "tile size")
	_, err = run(t, "transform", "--config", cfg, "--tile-size", "4", path)
	assert.NoError(t, err)

	_, err = run(t, "transform", "--func", "missing", path)
	assert.ErrorContains(t, err, "no function @missing")

	_, err = run(t, "transform", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading module")
}

func TestEval(t *testing.T) {
	path := writeFile(t, "program.yaml", program)
	out, err := run(t, "eval", "--tile-size", "8", "--workers", "3", path)
	require.NoError(t, err)
	assert.Contains(t, out, "@scale: 1 results match after")
	assert.Contains(t, out, "@chain: 1 results match after 1 rewrites")
}

func TestEmit(t *testing.T) {
	path := writeFile(t, "program.yaml", program)
	out, err := run(t, "emit", "--func", "chain", "--pkg", "fused", "-t", "8", path)
	require.NoError(t, err)
	assert.Contains(t, out, "package fused")
	assert.Contains(t, out, "func Chain(")
	assert.Contains(t, out, `"math"`)

	dest := filepath.Join(t.TempDir(), "scale.go")
	_, err = run(t, "emit", "--func", "scale", "--no-tiling", "-o", dest, path)
	require.NoError(t, err)
	src, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(src), "func Scale(")
	assert.NotContains(t, string(src), "forall")

	_, err = run(t, "emit", path)
	assert.ErrorContains(t, err, "--func is required")
}

func TestTarget(t *testing.T) {
	out, err := run(t, "target")
	require.NoError(t, err)
	assert.Contains(t, out, "level: ")
	assert.Contains(t, out, "default tile size: ")
}
