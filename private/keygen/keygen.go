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

// Package keygen generates DNSSEC key pairs.
package keygen

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/keymgr"
)

const (
	// DefaultTTL is the TTL of generated DNSKEY records.
	DefaultTTL = time.Hour

	flagZone = 256
	flagSEP  = 1

	// A keytag of zero is reserved by some tools to mean "no key". The odds
	// of hitting it are low, retrying a few times is enough.
	maxAttempts = 5
)

var _ keymgr.Generator = Generator{}

// Generator creates key pairs in memory using the crypto implementations of
// the DNS library.
type Generator struct {
	// TTL of the DNSKEY record. Zero selects DefaultTTL.
	TTL time.Duration
}

// Generate creates a new key for zone.
func (g Generator) Generate(ctx context.Context, zone string, cfg kasp.KeyConfig,
	now time.Time) (*dnssec.Key, *dnssec.Material, error) {

	if !cfg.Algorithm.Supported() {
		return nil, nil, serrors.New("unsupported algorithm", "algorithm", cfg.Algorithm)
	}
	bits := cfg.Size()
	if !cfg.Algorithm.ValidBits(bits) {
		return nil, nil, serrors.New("invalid key size", "algorithm", cfg.Algorithm,
			"bits", bits)
	}
	ttl := g.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	flags := uint16(flagZone)
	if cfg.Role.Has(dnssec.RoleKSK) {
		flags |= flagSEP
	}
	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rr := &dns.DNSKEY{
			Hdr: dns.RR_Header{
				Name:   dns.Fqdn(zone),
				Rrtype: dns.TypeDNSKEY,
				Class:  dns.ClassINET,
				Ttl:    uint32(ttl / time.Second),
			},
			Flags:     flags,
			Protocol:  3,
			Algorithm: uint8(cfg.Algorithm),
		}
		priv, err := rr.Generate(bits)
		if err != nil {
			return nil, nil, serrors.Wrap("generating key pair", err,
				"algorithm", cfg.Algorithm, "bits", bits)
		}
		tag := rr.KeyTag()
		if tag == 0 {
			continue
		}
		key := &dnssec.Key{
			Zone:      dns.Fqdn(zone),
			Tag:       tag,
			Algorithm: cfg.Algorithm,
			Role:      cfg.Role,
			Bits:      bits,
			Lifetime:  cfg.Lifetime,
			Public:    rr,
		}
		key.Timing.Set(dnssec.SlotCreated, now)
		return key, &dnssec.Material{Private: rr.PrivateKeyString(priv)}, nil
	}
	return nil, nil, serrors.New("only generated reserved keytags", "attempts", maxAttempts)
}

