// Copyright 2025 SCION Association
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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keymgrconfig "github.com/scionproto/keymgr/dnssec-keymgr/config"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/private/config"
	"github.com/scionproto/keymgr/private/env"
	"github.com/scionproto/keymgr/private/storage"
	"github.com/scionproto/keymgr/private/zone"
)

func TestConfigSample(t *testing.T) {
	var sample bytes.Buffer
	var cfg keymgrconfig.Config
	cfg.Sample(&sample, nil, map[string]string{config.ID: "keymgr-1"})

	var decoded keymgrconfig.Config
	require.NoError(t, config.Decode(sample.Bytes(), &decoded))
	decoded.InitDefaults()
	require.NoError(t, decoded.Validate())

	assert.Equal(t, "keymgr-1", decoded.InstanceID())
	assert.Equal(t, time.Minute, decoded.General.CheckInterval.Duration)
	assert.Equal(t, env.DefaultPurgeInterval, decoded.General.PurgeInterval.Duration)
	assert.Equal(t, 4, decoded.General.Parallelism)
	assert.Equal(t, "info", decoded.LogConfig().Console.Level)
	assert.Empty(t, decoded.Metrics.Prometheus)
	assert.Empty(t, decoded.API.Addr)
	assert.Equal(t, storage.BackendFS, decoded.Storage.Backend)
	assert.Equal(t, zone.Configs{{Name: "example.com.", Policy: kasp.DefaultPolicyName}},
		decoded.Zones)

	policies, err := decoded.PolicyMap()
	require.NoError(t, err)
	assert.Contains(t, policies, kasp.DefaultPolicyName)
}

func TestConfigValidate(t *testing.T) {
	testCases := map[string]struct {
		raw       string
		assertErr assert.ErrorAssertionFunc
	}{
		"empty": {
			assertErr: assert.NoError,
		},
		"default policy": {
			raw:       "[[zones]]\nname = \"example.com\"\n",
			assertErr: assert.NoError,
		},
		"custom policy": {
			raw: `
[[zones]]
name = "example.com"
policy = "split"

[policies.split]
[[policies.split.keys]]
role = "ksk"
algorithm = "ED25519"
[[policies.split.keys]]
role = "zsk"
algorithm = "ED25519"
lifetime = "30d"
`,
			assertErr: assert.NoError,
		},
		"unknown policy": {
			raw:       "[[zones]]\nname = \"example.com\"\npolicy = \"missing\"\n",
			assertErr: assert.Error,
		},
		"duplicate zone": {
			raw:       "[[zones]]\nname = \"example.com\"\n[[zones]]\nname = \"EXAMPLE.COM.\"\n",
			assertErr: assert.Error,
		},
		"bad backend": {
			raw:       "[storage]\nbackend = \"redis\"\n",
			assertErr: assert.Error,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var cfg keymgrconfig.Config
			require.NoError(t, config.Decode([]byte(tc.raw), &cfg))
			cfg.InitDefaults()
			tc.assertErr(t, cfg.Validate())
		})
	}
}
