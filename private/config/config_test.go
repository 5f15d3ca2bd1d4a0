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

package config_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/private/config"
)

type testCfg struct {
	Name  string `toml:"name"`
	valid bool
}

func (c *testCfg) InitDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
}

func (c *testCfg) Validate() error {
	if !c.valid {
		return errors.New("invalid")
	}
	return nil
}

type tableSampler struct{ name string }

func (s tableSampler) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, "\nkey = \"value\"\n")
}

func (s tableSampler) ConfigName() string { return s.name }

type arraySampler struct{ tableSampler }

func (arraySampler) ArrayTable() {}

func TestDecode(t *testing.T) {
	var cfg testCfg
	require.NoError(t, config.Decode([]byte(`name = "example"`), &cfg))
	assert.Equal(t, "example", cfg.Name)

	err := config.Decode([]byte("name = \"x\"\nunknown = 1\n[extra]\nkey = 2\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration keys")
	assert.Contains(t, err.Error(), "unknown")

	err = config.Decode([]byte("name = \n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line")
}

func TestValidateAndInit(t *testing.T) {
	a, b := &testCfg{valid: true}, &testCfg{}
	config.InitAll(a, b)
	assert.Equal(t, "default", b.Name)
	assert.NoError(t, config.ValidateAll(a))
	assert.Error(t, config.ValidateAll(a, b))
}

func TestWriteSample(t *testing.T) {
	var buf bytes.Buffer
	config.WriteSample(&buf, config.Path{"root"}, nil,
		tableSampler{name: "general"},
		arraySampler{tableSampler{name: "zones"}},
	)
	expected := "\n[root.general]\n    key = \"value\"\n" +
		"\n[[root.zones]]\n    key = \"value\"\n"
	assert.Equal(t, expected, buf.String())
}
