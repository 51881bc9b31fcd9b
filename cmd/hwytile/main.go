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

// Command hwytile tiles the element-wise maps of a tensor program for CPU
// execution.
//
// Usage:
//
//	hwytile transform program.yaml                 # print the tiled IR
//	hwytile transform --tile-size 8 program.yaml
//	hwytile eval --func scale program.yaml         # compare results before and after tiling
//	hwytile emit --func scale --pkg kernels -o scale.go program.yaml
//	hwytile target                                 # show the detected SIMD level
//
// Programs are YAML modules; see package irtext for the format. Pass options
// may also come from a YAML file given with --config; flags override it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
