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


// Package config contains the configuration of the key manager daemon and
// its operator commands.
package config

import (
	"io"

	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/config"
	"github.com/scionproto/keymgr/private/env"
	"github.com/scionproto/keymgr/private/mgmtapi"
	"github.com/scionproto/keymgr/private/storage"
	"github.com/scionproto/keymgr/private/zone"
)

var _ config.Config = (*Config)(nil)

// Config is the key manager configuration.
type Config struct {
	General  env.General      `toml:"general,omitempty"`
	Logging  log.Config       `toml:"log,omitempty"`
	Metrics  env.Metrics      `toml:"metrics,omitempty"`
	API      mgmtapi.Config   `toml:"api,omitempty"`
	Storage  storage.DBConfig `toml:"storage,omitempty"`
	Zones    zone.Configs     `toml:"zones,omitempty"`
	Policies kasp.Config      `toml:"policies,omitempty"`
}

// InitDefaults initializes the default values for all parts of the config.
func (cfg *Config) InitDefaults() {
	config.InitAll(
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Storage,
		&cfg.Zones,
		&cfg.Policies,
	)
}

// Validate validates all parts of the config. Every zone must refer to a
// configured policy.
func (cfg *Config) Validate() error {
	err := config.ValidateAll(
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Storage,
		&cfg.Zones,
		&cfg.Policies,
	)
	if err != nil {
		return err
	}
	for _, z := range cfg.Zones {
		if _, ok := cfg.Policies[z.Policy]; !ok {
			return serrors.New("zone refers to unknown policy", "zone", z.Name,
				"policy", z.Policy)
		}
	}
	return nil
}

// Sample generates a sample config file for the key manager.
func (cfg *Config) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteSample(dst, path, ctx,
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Storage,
		&cfg.Zones,
		&cfg.Policies,
	)
}

// LogConfig returns the [log] block.
func (cfg *Config) LogConfig() log.Config {
	return cfg.Logging
}

// InstanceID returns the configured instance ID.
func (cfg *Config) InstanceID() string {
	return cfg.General.ID
}

// PolicyMap builds the configured policies.
func (cfg *Config) PolicyMap() (map[string]*kasp.Policy, error) {
	return cfg.Policies.Policies()
}
