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

package kasp

import (
	"io"
	"sort"
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/pkg/private/util"
	"github.com/scionproto/keymgr/private/config"
)

// DefaultPolicyName is the name of the built-in policy.
const DefaultPolicyName = "default"

// Defaults of the built-in policy.
const (
	DefaultDNSKEYTTL              = time.Hour
	DefaultZoneMaxTTL             = 24 * time.Hour
	DefaultZonePropagationDelay   = 5 * time.Minute
	DefaultPublishSafety          = time.Hour
	DefaultRetireSafety           = time.Hour
	DefaultSignaturesRefresh      = 5 * 24 * time.Hour
	DefaultSignaturesValidity     = 14 * 24 * time.Hour
	DefaultParentDSTTL            = 24 * time.Hour
	DefaultParentPropagationDelay = time.Hour
	DefaultPurgeKeys              = 90 * 24 * time.Hour
)

var _ config.Config = (*Config)(nil)

// Config is the [policies] block of the configuration. Policies are keyed by
// name.
type Config map[string]*PolicyConfig

// PolicyConfig is the TOML representation of a policy.
type PolicyConfig struct {
	Keys []KeyEntry `toml:"keys,omitempty"`

	DNSKEYTTL            *util.DurWrap `toml:"dnskey_ttl,omitempty"`
	ZoneMaxTTL           *util.DurWrap `toml:"zone_max_ttl,omitempty"`
	ZonePropagationDelay *util.DurWrap `toml:"zone_propagation_delay,omitempty"`
	PublishSafety        *util.DurWrap `toml:"publish_safety,omitempty"`
	RetireSafety         *util.DurWrap `toml:"retire_safety,omitempty"`
	SignaturesRefresh    *util.DurWrap `toml:"signatures_refresh,omitempty"`
	SignaturesValidity   *util.DurWrap `toml:"signatures_validity,omitempty"`

	ParentDSTTL            *util.DurWrap `toml:"parent_ds_ttl,omitempty"`
	ParentPropagationDelay *util.DurWrap `toml:"parent_propagation_delay,omitempty"`

	PurgeKeys  *util.DurWrap      `toml:"purge_keys,omitempty"`
	OfflineKSK bool               `toml:"offline_ksk,omitempty"`
	NSEC3      *dnssec.NSEC3Param `toml:"nsec3,omitempty"`
}

// KeyEntry is the TOML representation of a key configuration.
type KeyEntry struct {
	Role      string       `toml:"role"`
	Algorithm string       `toml:"algorithm"`
	Bits      int          `toml:"bits,omitempty"`
	Lifetime  util.DurWrap `toml:"lifetime,omitempty"`
}

// InitDefaults adds the default policy if missing and fills unset timing
// parameters of all policies.
func (c *Config) InitDefaults() {
	if *c == nil {
		*c = make(Config)
	}
	if _, ok := (*c)[DefaultPolicyName]; !ok {
		(*c)[DefaultPolicyName] = &PolicyConfig{
			Keys: []KeyEntry{{Role: "csk", Algorithm: dnssec.ECDSAP256SHA256.String()}},
		}
	}
	for _, p := range *c {
		p.InitDefaults()
	}
}

// Validate checks that all policies can be built.
func (c *Config) Validate() error {
	_, err := c.Policies()
	return err
}

// Sample writes a sample policy. The sample contains its own table headers
// because policies are nested tables.
func (c *Config) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, policySample)
}

// Policies builds and validates all policies.
func (c *Config) Policies() (map[string]*Policy, error) {
	names := make([]string, 0, len(*c))
	for name := range *c {
		names = append(names, name)
	}
	sort.Strings(names)
	r := make(map[string]*Policy, len(names))
	for _, name := range names {
		p, err := (*c)[name].Policy(name)
		if err != nil {
			return nil, err
		}
		r[name] = p
	}
	return r, nil
}

// InitDefaults sets unset timing parameters to the defaults.
func (c *PolicyConfig) InitDefaults() {
	setDefault := func(d **util.DurWrap, v time.Duration) {
		if *d == nil {
			*d = util.NewDurWrap(v)
		}
	}
	setDefault(&c.DNSKEYTTL, DefaultDNSKEYTTL)
	setDefault(&c.ZoneMaxTTL, DefaultZoneMaxTTL)
	setDefault(&c.ZonePropagationDelay, DefaultZonePropagationDelay)
	setDefault(&c.PublishSafety, DefaultPublishSafety)
	setDefault(&c.RetireSafety, DefaultRetireSafety)
	setDefault(&c.SignaturesRefresh, DefaultSignaturesRefresh)
	setDefault(&c.SignaturesValidity, DefaultSignaturesValidity)
	setDefault(&c.ParentDSTTL, DefaultParentDSTTL)
	setDefault(&c.ParentPropagationDelay, DefaultParentPropagationDelay)
	setDefault(&c.PurgeKeys, DefaultPurgeKeys)
}

// Policy builds the policy with the given name. Unset timing parameters take
// the defaults.
func (c *PolicyConfig) Policy(name string) (*Policy, error) {
	p := &Policy{
		Name:                   name,
		DNSKEYTTL:              c.DNSKEYTTL.Get(DefaultDNSKEYTTL),
		ZoneMaxTTL:             c.ZoneMaxTTL.Get(DefaultZoneMaxTTL),
		ZonePropagationDelay:   c.ZonePropagationDelay.Get(DefaultZonePropagationDelay),
		PublishSafety:          c.PublishSafety.Get(DefaultPublishSafety),
		RetireSafety:           c.RetireSafety.Get(DefaultRetireSafety),
		SignaturesRefresh:      c.SignaturesRefresh.Get(DefaultSignaturesRefresh),
		SignaturesValidity:     c.SignaturesValidity.Get(DefaultSignaturesValidity),
		ParentDSTTL:            c.ParentDSTTL.Get(DefaultParentDSTTL),
		ParentPropagationDelay: c.ParentPropagationDelay.Get(DefaultParentPropagationDelay),
		PurgeKeys:              c.PurgeKeys.Get(DefaultPurgeKeys),
		OfflineKSK:             c.OfflineKSK,
	}
	if c.NSEC3 != nil {
		n := *c.NSEC3
		p.NSEC3 = &n
	}
	for i, e := range c.Keys {
		role, err := dnssec.ParseRole(e.Role)
		if err != nil {
			return nil, serrors.Wrap("parsing key", err, "policy", name, "index", i)
		}
		alg, err := dnssec.ParseAlgorithm(e.Algorithm)
		if err != nil {
			return nil, serrors.Wrap("parsing key", err, "policy", name, "index", i)
		}
		p.Keys = append(p.Keys, KeyConfig{
			Role:      role,
			Algorithm: alg,
			Bits:      e.Bits,
			Lifetime:  e.Lifetime.Duration,
		})
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

const policySample = `
# Each policy is a table under [policies]. Durations accept the formats
# "1h", "30d" and ISO 8601 ("PT1H", "P30D"). Unset timing parameters take the
# defaults shown below.
[policies.default]
dnskey_ttl = "1h"
zone_max_ttl = "1d"
zone_propagation_delay = "5m"
publish_safety = "1h"
retire_safety = "1h"
signatures_refresh = "5d"
signatures_validity = "14d"
parent_ds_ttl = "1d"
parent_propagation_delay = "1h"
# Remove files of deleted keys after this period. "0s" disables purging.
purge_keys = "90d"
# Do not manage KSKs, their signatures are produced out of band.
offline_ksk = false

[[policies.default.keys]]
# Role of the key (ksk|zsk|csk).
role = "csk"
# Algorithm mnemonic or number.
algorithm = "ECDSAP256SHA256"
# Key size in bits, 0 selects the algorithm default.
bits = 0
# Active period of a key, "unlimited" or "0s" never rolls the key.
lifetime = "unlimited"

# Presence of the nsec3 table switches the zone to NSEC3.
# [policies.default.nsec3]
# iterations = 0
# salt_length = 0
# opt_out = false
`
