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
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/hwytile/transforms"
)

// Config is the YAML form of transforms.Options. Unset fields keep the
// defaults.
//
//	tile_size: 8
//	max_iterations: 10
type Config struct {
	TileSize      *int `yaml:"tile_size"`
	MaxIterations *int `yaml:"max_iterations"`
	MaxRewrites   *int `yaml:"max_rewrites"`
}

// ParseConfig decodes a pass configuration.
func ParseConfig(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding pass configuration")
	}
	return &cfg, nil
}

// LoadConfig reads the pass configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading pass configuration %s", path)
	}
	return ParseConfig(data)
}

// Apply overrides the fields of opts that cfg sets.
func (cfg *Config) Apply(opts *transforms.Options) {
	if cfg.TileSize != nil {
		opts.InnerDimTileSize = *cfg.TileSize
	}
	if cfg.MaxIterations != nil {
		opts.MaxIterations = *cfg.MaxIterations
	}
	if cfg.MaxRewrites != nil {
		opts.MaxRewrites = *cfg.MaxRewrites
	}
}
