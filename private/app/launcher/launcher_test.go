// Copyright 2021 Anapaya Systems
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

package launcher_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/config"
)

type testConfig struct {
	Name    string     `toml:"name,omitempty"`
	Logging log.Config `toml:"log,omitempty"`
}

func (c *testConfig) InitDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	c.Logging.InitDefaults()
}

func (c *testConfig) Validate() error {
	if c.Name == "invalid" {
		return serrors.New("invalid name")
	}
	return c.Logging.Validate()
}

func (c *testConfig) Sample(dst io.Writer, _ config.Path, ctx config.CtxMap) {
	config.WriteString(dst, "name = \""+ctx[config.ID]+"\"\n")
}

func (c *testConfig) LogConfig() log.Config {
	return c.Logging
}

func (c *testConfig) InstanceID() string {
	return c.Name
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "test.toml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))
	return file
}

func TestApplication(t *testing.T) {
	testCases := map[string]struct {
		config    string
		mainErr   error
		wantName  string
		assertErr assert.ErrorAssertionFunc
	}{
		"valid": {
			config:    "name = \"keymgr-1\"\n[log.console]\nlevel = \"error\"\n",
			wantName:  "keymgr-1",
			assertErr: assert.NoError,
		},
		"defaults": {
			config:    "",
			wantName:  "default",
			assertErr: assert.NoError,
		},
		"unknown field": {
			config:    "nmae = \"typo\"\n",
			assertErr: assert.Error,
		},
		"invalid": {
			config:    "name = \"invalid\"\n",
			assertErr: assert.Error,
		},
		"main fails": {
			config:    "name = \"x\"\n",
			mainErr:   serrors.New("boom"),
			wantName:  "x",
			assertErr: assert.Error,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var cfg testConfig
			var called bool
			a := launcher.Application{
				TOMLConfig: &cfg,
				ShortName:  "Test",
				Main: func(ctx context.Context) error {
					called = true
					return tc.mainErr
				},
			}
			err := a.Execute(context.Background(),
				[]string{"--config", writeConfig(t, tc.config)})
			tc.assertErr(t, err)
			if tc.wantName != "" {
				assert.True(t, called)
				assert.Equal(t, tc.wantName, cfg.Name)
			}
		})
	}
}

func TestApplicationMissingConfig(t *testing.T) {
	a := launcher.Application{TOMLConfig: &testConfig{}}
	err := a.Execute(context.Background(),
		[]string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

func TestApplicationCanceled(t *testing.T) {
	var cfg testConfig
	a := launcher.Application{
		TOMLConfig: &cfg,
		Main: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Execute(ctx, []string{"--config", writeConfig(t, "")})
	assert.NoError(t, err)
}

func TestSample(t *testing.T) {
	var cfg testConfig
	a := launcher.Application{TOMLConfig: &cfg}
	var out bytes.Buffer
	cmd := a.Command()
	cmd.SetOut(&out)
	require.NoError(t, a.Execute(context.Background(), []string{"sample", "config"}))

	var parsed testConfig
	require.NoError(t, config.Decode(out.Bytes(), &parsed))
	assert.Equal(t, filepath.Base(os.Args[0]), parsed.Name)
}

func TestLoadConfigFromEnv(t *testing.T) {
	var cfg testConfig
	a := launcher.Application{TOMLConfig: &cfg}
	a.Command()
	t.Setenv("KEYMGR_CONFIG", writeConfig(t, "name = \"from-env\"\n"))
	require.NoError(t, a.LoadConfig())
	assert.Equal(t, "from-env", cfg.Name)
}
