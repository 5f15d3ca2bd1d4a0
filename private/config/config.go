// Copyright 2019 Anapaya Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides the pattern shared by all configuration blocks of
// the key manager.
//
// Every block implements Config. A loaded configuration is completed with
// InitDefaults, which only touches unset fields, and then checked with
// Validate. Blocks that hold nested blocks call InitAll and ValidateAll on
// them.
//
// Sample writes a commented TOML sample of the block. The sample of a block
// must decode into the block and agree with its defaults, each block has a
// test that checks this. Sample may panic if writing fails.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// Config is the interface that config structs must implement.
type Config interface {
	Sampler
	Validator
	Defaulter
}

// Validator defines the validation interface.
type Validator interface {
	// Validate recursively checks that all fields contain valid values.
	Validate() error
}

// Defaulter defines the interface for initializing default values.
type Defaulter interface {
	// InitDefaults recursively initializes the default values of all
	// uninitialized fields.
	InitDefaults()
}

// Sampler defines the interface for writing a sample config.
type Sampler interface {
	// Sample writes a sample of the block to dst. The context provides values
	// such as the instance ID.
	Sample(dst io.Writer, path Path, ctx CtxMap)
}

// TableSampler is a Sampler that writes a TOML table. The name is the key of
// the table in the file.
type TableSampler interface {
	Sampler
	ConfigName() string
}

// ID is the key of the instance ID in the sample context.
const ID = "id"

// Path is the path to the table in the TOML tree.
type Path []string

// Extend returns a copy of the path with s appended.
func (p Path) Extend(s string) Path {
	c := append(Path(nil), p...)
	return append(c, s)
}

// NoValidator can be embedded in blocks without validation.
type NoValidator struct{}

// Validate always returns nil.
func (NoValidator) Validate() error {
	return nil
}

// NoDefaulter can be embedded in blocks without defaults.
type NoDefaulter struct{}

// InitDefaults is a no-op.
func (NoDefaulter) InitDefaults() {}

// ValidateAll validates all validators. The first error encountered is
// returned.
func ValidateAll(validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return serrors.Wrap("Unable to validate", err, "type", fmt.Sprintf("%T", v))
		}
	}
	return nil
}

// InitAll initializes all defaulters.
func InitAll(defaulters ...Defaulter) {
	for _, v := range defaulters {
		v.InitDefaults()
	}
}

// Decode decodes raw TOML into cfg. Unknown keys are rejected, a typo in a
// policy would otherwise silently select a default timing. Errors carry the
// position of the offending key.
func Decode(raw []byte, cfg any) error {
	err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(cfg)
	if err == nil {
		return nil
	}
	var missing *toml.StrictMissingError
	if errors.As(err, &missing) {
		keys := make([]string, 0, len(missing.Errors))
		for _, e := range missing.Errors {
			keys = append(keys, strings.Join(e.Key(), "."))
		}
		return serrors.New("unknown configuration keys", "keys", keys)
	}
	var decodeErr *toml.DecodeError
	if errors.As(err, &decodeErr) {
		row, col := decodeErr.Position()
		return serrors.Wrap("invalid TOML", err, "line", row, "column", col)
	}
	return serrors.Wrap("decoding configuration", err)
}

// LoadFile loads the TOML file into cfg.
func LoadFile(file string, cfg any) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	return Decode(raw, cfg)
}
