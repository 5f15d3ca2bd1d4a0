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

// Package kasp contains DNSSEC key and signing policies. A policy declares
// which keys a zone needs, how long they live, and the timing parameters from
// which rollover intervals are derived.
package kasp

import (
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// KeyConfig describes one key the policy requires.
type KeyConfig struct {
	Role      dnssec.Role
	Algorithm dnssec.Algorithm
	// Bits is the key size. Zero selects the algorithm default.
	Bits int
	// Lifetime is the active period of a key. Zero means unlimited.
	Lifetime time.Duration
}

// Size returns the effective key size.
func (c KeyConfig) Size() int {
	if c.Bits != 0 {
		return c.Bits
	}
	return c.Algorithm.DefaultBits()
}

// Matches reports whether key k was created for this configuration.
func (c KeyConfig) Matches(k *dnssec.Key) bool {
	return k.Role == c.Role && k.Algorithm == c.Algorithm
}

// Policy is a read-only key and signing policy.
type Policy struct {
	Name string
	Keys []KeyConfig

	DNSKEYTTL            time.Duration
	ZoneMaxTTL           time.Duration
	ZonePropagationDelay time.Duration
	PublishSafety        time.Duration
	RetireSafety         time.Duration
	SignaturesRefresh    time.Duration
	SignaturesValidity   time.Duration

	ParentDSTTL            time.Duration
	ParentPropagationDelay time.Duration

	// PurgeKeys is how long deleted keys are kept before their files are
	// removed. Zero disables purging.
	PurgeKeys time.Duration
	// OfflineKSK means KSK signatures are produced out of band and the key
	// manager must not touch KSKs.
	OfflineKSK bool
	// NSEC3 holds the NSEC3 parameters. Nil selects NSEC.
	NSEC3 *dnssec.NSEC3Param
}

// SignDelay is the time it takes to replace all signatures in the zone.
func (p *Policy) SignDelay() time.Duration {
	if p.SignaturesValidity <= p.SignaturesRefresh {
		return 0
	}
	return p.SignaturesValidity - p.SignaturesRefresh
}

// Ipub is the time between publishing a DNSKEY and it being safe to use.
func (p *Policy) Ipub() time.Duration {
	return p.DNSKEYTTL + p.PublishSafety + p.ZonePropagationDelay
}

// Iret is the time between retiring a key of the given role and it being
// safe to remove its DNSKEY.
func (p *Policy) Iret(role dnssec.Role) time.Duration {
	var iret time.Duration
	if role.Has(dnssec.RoleZSK) {
		iret = p.SignDelay() + p.ZoneMaxTTL + p.ZonePropagationDelay + p.RetireSafety
	}
	if role.Has(dnssec.RoleKSK) {
		iret = max(iret, p.ParentDSTTL+p.ParentPropagationDelay+p.RetireSafety)
	}
	return iret
}

// Prepublication is how long before the retirement of a key its successor
// must be created. Successors of keys with the KSK duty additionally wait for
// their DS to propagate in the parent.
func (p *Policy) Prepublication(role dnssec.Role) time.Duration {
	d := p.Ipub()
	if role.Has(dnssec.RoleKSK) {
		d += p.ParentDSTTL + p.ParentPropagationDelay
	}
	return d
}

// Propagation returns the delays used to derive record states.
func (p *Policy) Propagation() dnssec.Propagation {
	return dnssec.Propagation{
		DNSKEY:     p.DNSKEYTTL + p.ZonePropagationDelay,
		Signatures: p.ZoneMaxTTL + p.ZonePropagationDelay,
		SignDelay:  p.SignDelay(),
		DS:         p.ParentDSTTL + p.ParentPropagationDelay,
	}
}

// Denial returns the denial-of-existence mechanism the policy asks for.
func (p *Policy) Denial() dnssec.Mechanism {
	switch {
	case len(p.Keys) == 0:
		return dnssec.MechanismNone
	case p.NSEC3 != nil:
		return dnssec.MechanismNSEC3
	default:
		return dnssec.MechanismNSEC
	}
}

// NSEC3Param returns the NSEC3 parameters or the zero value if NSEC is used.
func (p *Policy) NSEC3Param() dnssec.NSEC3Param {
	if p.NSEC3 == nil {
		return dnssec.NSEC3Param{}
	}
	return *p.NSEC3
}

// KeyConfigFor returns the configuration key k was created for.
func (p *Policy) KeyConfigFor(k *dnssec.Key) (KeyConfig, bool) {
	for _, c := range p.Keys {
		if c.Matches(k) {
			return c, true
		}
	}
	return KeyConfig{}, false
}

// Validate checks the policy for consistency.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return serrors.New("policy without name")
	}
	var roles dnssec.Role
	for _, c := range p.Keys {
		if c.Role == 0 {
			return serrors.New("key without role", "policy", p.Name)
		}
		if !c.Algorithm.Supported() {
			return serrors.New("unsupported algorithm", "policy", p.Name,
				"algorithm", c.Algorithm)
		}
		if c.Bits != 0 && !c.Algorithm.ValidBits(c.Bits) {
			return serrors.New("invalid key size", "policy", p.Name,
				"algorithm", c.Algorithm, "bits", c.Bits)
		}
		if c.Lifetime < 0 {
			return serrors.New("negative lifetime", "policy", p.Name)
		}
		if c.Lifetime != 0 && c.Lifetime <= p.Prepublication(c.Role) {
			return serrors.New("lifetime shorter than prepublication interval",
				"policy", p.Name, "role", c.Role, "lifetime", c.Lifetime,
				"prepublication", p.Prepublication(c.Role))
		}
		if p.NSEC3 != nil && !c.Algorithm.NSEC3Capable() {
			return serrors.New("algorithm cannot be used with NSEC3", "policy", p.Name,
				"algorithm", c.Algorithm)
		}
		roles |= c.Role
	}
	if len(p.Keys) != 0 && roles != dnssec.RoleCSK {
		return serrors.New("policy does not cover both signing duties", "policy", p.Name)
	}
	if p.SignaturesRefresh > p.SignaturesValidity {
		return serrors.New("signatures-refresh exceeds signatures-validity", "policy", p.Name)
	}
	return nil
}
