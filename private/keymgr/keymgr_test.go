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

package keymgr_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/private/keymgr"
)

const (
	day    = 24 * time.Hour
	zoneID = "example.com."
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// testPolicy uses the timing parameters of the BIND rollover test zones:
// Ipub 26h, IretZSK 10d1h, IretKSK 3d1h, KSK prepublication 51h.
func testPolicy(keys ...kasp.KeyConfig) *kasp.Policy {
	return &kasp.Policy{
		Name:                   "test",
		Keys:                   keys,
		DNSKEYTTL:              time.Hour,
		ZoneMaxTTL:             day,
		ZonePropagationDelay:   time.Hour,
		PublishSafety:          day,
		RetireSafety:           2 * day,
		SignaturesRefresh:      7 * day,
		SignaturesValidity:     14 * day,
		ParentDSTTL:            day,
		ParentPropagationDelay: time.Hour,
		PurgeKeys:              30 * day,
	}
}

func kskZSKPolicy() *kasp.Policy {
	return testPolicy(
		kasp.KeyConfig{Role: dnssec.RoleKSK, Algorithm: dnssec.ECDSAP256SHA256,
			Lifetime: 60 * day},
		kasp.KeyConfig{Role: dnssec.RoleZSK, Algorithm: dnssec.ECDSAP256SHA256,
			Lifetime: 30 * day},
	)
}

// memStore keeps the committed state in memory.
type memStore struct {
	keys    map[dnssec.ID]*dnssec.Key
	order   []dnssec.ID
	chain   dnssec.ChainState
	commits int
}

func newMemStore() *memStore {
	return &memStore{keys: make(map[dnssec.ID]*dnssec.Key)}
}

func (s *memStore) Keys(_ context.Context, _ string) (dnssec.KeyRing, error) {
	var r dnssec.KeyRing
	for _, id := range s.order {
		r = append(r, s.keys[id].Clone())
	}
	return r, nil
}

func (s *memStore) ChainState(_ context.Context, _ string) (dnssec.ChainState, error) {
	return s.chain, nil
}

func (s *memStore) Commit(_ context.Context, _ string, b keymgr.Batch) error {
	s.commits++
	for _, k := range b.Keys {
		if _, ok := s.keys[k.ID()]; !ok {
			s.order = append(s.order, k.ID())
		}
		s.keys[k.ID()] = k.Clone()
	}
	if b.Chain != nil {
		s.chain = *b.Chain
	}
	return nil
}

func (s *memStore) Remove(_ context.Context, _ string, id dnssec.ID) error {
	delete(s.keys, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// seqGen hands out keys with increasing tags. Tags in queue are used first.
type seqGen struct {
	next  uint16
	queue []uint16
	calls int
}

func (g *seqGen) Generate(_ context.Context, zone string, cfg kasp.KeyConfig,
	_ time.Time) (*dnssec.Key, *dnssec.Material, error) {

	g.calls++
	tag := g.next
	if len(g.queue) > 0 {
		tag, g.queue = g.queue[0], g.queue[1:]
	} else {
		if g.next == 0 {
			g.next = 10000
			tag = g.next
		}
		g.next++
	}
	return &dnssec.Key{
		Zone:      zone,
		Tag:       tag,
		Algorithm: cfg.Algorithm,
		Role:      cfg.Role,
		Bits:      cfg.Size(),
	}, &dnssec.Material{Private: "private"}, nil
}

func newManager() (*keymgr.Manager, *memStore, *seqGen) {
	store, gen := newMemStore(), &seqGen{}
	return &keymgr.Manager{Store: store, Generator: gen}, store, gen
}

func findRole(t *testing.T, ring dnssec.KeyRing, role dnssec.Role,
	alg dnssec.Algorithm) dnssec.KeyRing {

	t.Helper()
	return ring.Filter(func(k *dnssec.Key) bool {
		return k.Role == role && k.Algorithm == alg
	})
}

func requireValid(t *testing.T, ring dnssec.KeyRing) {
	t.Helper()
	for _, k := range ring {
		require.NoError(t, k.Validate(), k.String())
	}
}
