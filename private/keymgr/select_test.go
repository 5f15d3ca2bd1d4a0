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

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/private/keymgr"
)

func TestSelectorSelect(t *testing.T) {
	ring := dnssec.KeyRing{
		{Tag: 1, Algorithm: dnssec.ECDSAP256SHA256},
		{Tag: 2, Algorithm: dnssec.ECDSAP256SHA256},
		{Tag: 1, Algorithm: dnssec.RSASHA256},
	}
	tests := map[string]struct {
		sel     keymgr.Selector
		outcome keymgr.Outcome
		err     error
	}{
		"any": {
			sel:     keymgr.Selector{},
			outcome: keymgr.Ambiguous,
			err:     keymgr.ErrTooManyKeys,
		},
		"tag only": {
			sel:     keymgr.Selector{Tag: 1},
			outcome: keymgr.Ambiguous,
			err:     keymgr.ErrTooManyKeys,
		},
		"tag and alg": {
			sel:     keymgr.Selector{Tag: 1, Algorithm: dnssec.RSASHA256},
			outcome: keymgr.Found,
		},
		"unique tag": {
			sel:     keymgr.Selector{Tag: 2},
			outcome: keymgr.Found,
		},
		"unknown tag": {
			sel:     keymgr.Selector{Tag: 3},
			outcome: keymgr.NotFound,
			err:     keymgr.ErrNoKeyMatch,
		},
		"unknown alg": {
			sel:     keymgr.Selector{Algorithm: dnssec.ED25519},
			outcome: keymgr.NotFound,
			err:     keymgr.ErrNoKeyMatch,
		},
		"algorithm set": {
			sel:     keymgr.Selector{Algorithm: dnssec.ECDSAP256SHA256},
			outcome: keymgr.Ambiguous,
			err:     keymgr.ErrTooManyKeys,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := tc.sel.Select(ring)
			assert.Equal(t, tc.outcome, s.Outcome)
			err := s.Err(keymgr.ErrNoKeyMatch)
			if tc.err == nil {
				assert.NoError(t, err)
				assert.NotNil(t, s.Key)
				return
			}
			assert.ErrorIs(t, err, tc.err)
			assert.Nil(t, s.Key)
		})
	}
}

func dsRing() dnssec.KeyRing {
	return dnssec.KeyRing{
		{Zone: zoneID, Tag: 1, Algorithm: dnssec.ECDSAP256SHA256, Role: dnssec.RoleKSK,
			Timing: dnssec.Timing{Publish: t0, Active: t0, SyncPublish: t0.Add(26 * time.Hour)}},
		{Zone: zoneID, Tag: 2, Algorithm: dnssec.ECDSAP256SHA256, Role: dnssec.RoleKSK,
			Timing: dnssec.Timing{Publish: t0, Active: t0, SyncPublish: t0.Add(50 * time.Hour)}},
		{Zone: zoneID, Tag: 3, Algorithm: dnssec.RSASHA256, Role: dnssec.RoleCSK,
			Timing: dnssec.Timing{Publish: t0, Active: t0, Retire: t0.Add(day),
				SyncDelete: t0.Add(day)}},
		{Zone: zoneID, Tag: 4, Algorithm: dnssec.ECDSAP256SHA256, Role: dnssec.RoleZSK,
			Timing: dnssec.Timing{Publish: t0, Active: t0}},
	}
}

func TestCheckDS(t *testing.T) {
	now := t0.Add(60 * time.Hour)
	tests := map[string]struct {
		when    time.Time
		publish bool
		sel     keymgr.Selector
		err     error
		changed uint16
		slot    dnssec.Slot
	}{
		"ambiguous without id": {
			publish: true,
			err:     keymgr.ErrTooManyKeys,
		},
		"ambiguous algorithm": {
			publish: true,
			sel:     keymgr.Selector{Algorithm: dnssec.ECDSAP256SHA256},
			err:     keymgr.ErrTooManyKeys,
		},
		"zsk is not considered": {
			publish: true,
			sel:     keymgr.Selector{Tag: 4},
			err:     keymgr.ErrNoKeyMatch,
		},
		"unknown id": {
			publish: true,
			sel:     keymgr.Selector{Tag: 9},
			err:     keymgr.ErrNoKeyMatch,
		},
		"wrong algorithm": {
			publish: true,
			sel:     keymgr.Selector{Tag: 1, Algorithm: dnssec.RSASHA256},
			err:     keymgr.ErrNoKeyMatch,
		},
		"published by id": {
			publish: true,
			sel:     keymgr.Selector{Tag: 1},
			changed: 1,
			slot:    dnssec.SlotDSPublish,
		},
		"deadline excludes later cds": {
			when:    t0.Add(30 * time.Hour),
			publish: true,
			sel:     keymgr.Selector{Algorithm: dnssec.ECDSAP256SHA256},
			changed: 1,
			slot:    dnssec.SlotDSPublish,
		},
		"deadline excludes everything": {
			when:    t0.Add(time.Hour),
			publish: true,
			sel:     keymgr.Selector{Tag: 1},
			err:     keymgr.ErrNoKeyMatch,
		},
		"removed": {
			publish: false,
			sel:     keymgr.Selector{Tag: 3},
			changed: 3,
			slot:    dnssec.SlotDSRemoved,
		},
		"removed with deadline": {
			when:    t0.Add(2 * day),
			publish: false,
			sel:     keymgr.Selector{Algorithm: dnssec.RSASHA256},
			changed: 3,
			slot:    dnssec.SlotDSRemoved,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, store, _ := newManager()
			zone := &keymgr.Zone{Name: zoneID, Keys: dsRing()}

			k, err := m.CheckDS(context.Background(), zone, now, tc.when, tc.publish, tc.sel)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Nil(t, k)
				assert.Empty(t, cmp.Diff(dsRing(), zone.Keys))
				assert.Zero(t, store.commits)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.changed, k.Tag)
			assert.Equal(t, now, k.Timing.Get(tc.slot))
			assert.Equal(t, 1, store.commits)

			// Only the selected key changed.
			expected := dsRing()
			expected.Find(k.ID()).Timing.Set(tc.slot, now)
			assert.Empty(t, cmp.Diff(expected, zone.Keys))
		})
	}
}

func TestRollover(t *testing.T) {
	policy := kskZSKPolicy()
	now := t0.Add(5 * day)
	ipub := policy.Prepublication(dnssec.RoleZSK)
	zsk := func() *dnssec.Key {
		return &dnssec.Key{Zone: zoneID, Tag: 10, Algorithm: dnssec.ECDSAP256SHA256,
			Role: dnssec.RoleZSK, Lifetime: 30 * day, Timing: dnssec.Timing{
				Created: t0, Publish: t0, Active: t0, Retire: t0.Add(30 * day),
			}}
	}
	withSuccessor := func() dnssec.KeyRing {
		pred := zsk()
		pred.Successor = 11
		return dnssec.KeyRing{pred, {Zone: zoneID, Tag: 11,
			Algorithm: dnssec.ECDSAP256SHA256, Role: dnssec.RoleZSK, Predecessor: 10,
			Timing: dnssec.Timing{Created: now, Publish: now, Active: t0.Add(30 * day)}}}
	}

	tests := map[string]struct {
		ring   func() dnssec.KeyRing
		when   time.Time
		sel    keymgr.Selector
		err    error
		retire time.Time
		// successor is the expected activation of key 11, if present.
		successor time.Time
	}{
		"as soon as possible": {
			ring:   func() dnssec.KeyRing { return dnssec.KeyRing{zsk()} },
			sel:    keymgr.Selector{Tag: 10},
			retire: now.Add(ipub),
		},
		"past time": {
			ring:   func() dnssec.KeyRing { return dnssec.KeyRing{zsk()} },
			when:   now.Add(-day),
			retire: now.Add(ipub),
		},
		"later than lifetime": {
			ring:   func() dnssec.KeyRing { return dnssec.KeyRing{zsk()} },
			when:   t0.Add(45 * day),
			retire: t0.Add(45 * day),
		},
		"earlier than lifetime": {
			ring:   func() dnssec.KeyRing { return dnssec.KeyRing{zsk()} },
			when:   t0.Add(10 * day),
			retire: t0.Add(10 * day),
		},
		"too early without successor": {
			ring:   func() dnssec.KeyRing { return dnssec.KeyRing{zsk()} },
			when:   now.Add(time.Hour),
			retire: now.Add(ipub),
		},
		"with successor": {
			ring:      withSuccessor,
			sel:       keymgr.Selector{Tag: 10},
			when:      now.Add(2 * day),
			retire:    now.Add(2 * day),
			successor: now.Add(2 * day),
		},
		"with successor not yet safe": {
			ring:      withSuccessor,
			sel:       keymgr.Selector{Tag: 10},
			when:      now.Add(time.Hour),
			retire:    now.Add(ipub),
			successor: now.Add(ipub),
		},
		"with successor active earlier": {
			ring:      withSuccessor,
			sel:       keymgr.Selector{Tag: 10},
			when:      t0.Add(40 * day),
			retire:    t0.Add(40 * day),
			successor: t0.Add(30 * day),
		},
		"successor not active": {
			ring: withSuccessor,
			sel:  keymgr.Selector{Tag: 11},
			err:  keymgr.ErrKeyNotActive,
		},
		"unknown key": {
			ring: func() dnssec.KeyRing { return dnssec.KeyRing{zsk()} },
			sel:  keymgr.Selector{Tag: 99},
			err:  keymgr.ErrNoKeyMatch,
		},
		"ambiguous": {
			ring: func() dnssec.KeyRing {
				other := zsk()
				other.Tag = 12
				return dnssec.KeyRing{zsk(), other}
			},
			err: keymgr.ErrTooManyKeys,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, store, _ := newManager()
			zone := &keymgr.Zone{Name: zoneID, Keys: tc.ring()}

			k, err := m.Rollover(context.Background(), zone, policy, now, tc.when, tc.sel)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Empty(t, cmp.Diff(tc.ring(), zone.Keys))
				assert.Zero(t, store.commits)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.retire, k.Timing.Retire)
			assert.Equal(t, tc.retire.Sub(t0), k.Lifetime)
			assert.Equal(t, k, zone.Keys.Find(k.ID()))
			require.NoError(t, k.Validate())
			if !tc.successor.IsZero() {
				succ := zone.Keys.Find(dnssec.ID{Tag: 11, Algorithm: dnssec.ECDSAP256SHA256})
				require.NotNil(t, succ)
				assert.Equal(t, tc.successor, succ.Timing.Active)
				assert.False(t, succ.Timing.Active.After(k.Timing.Retire))
			}
		})
	}
}

func TestRolloverKeepsDutyCovered(t *testing.T) {
	m, store, _ := newManager()
	policy := kskZSKPolicy()
	ctx := context.Background()
	zone := &keymgr.Zone{Name: zoneID}
	_, err := m.Run(ctx, zone, policy, t0)
	require.NoError(t, err)
	pred := findRole(t, zone.Keys, dnssec.RoleZSK, dnssec.ECDSAP256SHA256)[0]

	due := t0.Add(30*day - 26*time.Hour)
	res, err := m.Run(ctx, zone, policy, due)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	k, err := m.Rollover(ctx, zone, policy, due, due.Add(time.Hour),
		keymgr.Selector{Tag: pred.Tag})
	require.NoError(t, err)
	succ := zone.Keys.Find(res.Created[0].ID())
	assert.Equal(t, k.Timing.Retire, succ.Timing.Active)
	assert.Equal(t, succ.Timing, store.keys[succ.ID()].Timing)

	for _, now := range []time.Time{due.Add(2 * time.Hour), k.Timing.Retire,
		k.Timing.Retire.Add(time.Hour)} {

		res, err := m.Run(ctx, zone, policy, now)
		require.NoError(t, err)
		signing := 0
		for _, h := range res.Hints {
			if h.Sign && h.Key.IsZSK() {
				signing++
			}
		}
		assert.NotZero(t, signing, "no ZSK signs at %s", now)
	}
	requireValid(t, zone.Keys)
}

func TestRolloverAsSoonAsPossible(t *testing.T) {
	m, _, _ := newManager()
	policy := kskZSKPolicy()
	now := t0.Add(5 * day)
	prev := t0.Add(30 * day)
	zone := &keymgr.Zone{Name: zoneID, Keys: dnssec.KeyRing{
		{Zone: zoneID, Tag: 10, Algorithm: dnssec.ECDSAP256SHA256, Role: dnssec.RoleKSK,
			Timing: dnssec.Timing{Created: t0, Publish: t0, Active: t0, Retire: prev}},
	}}
	k, err := m.Rollover(context.Background(), zone, policy, now, time.Time{}, keymgr.Selector{})
	require.NoError(t, err)
	assert.True(t, k.Timing.Retire.Before(prev))
	assert.False(t, k.Timing.Retire.After(now.Add(policy.Prepublication(dnssec.RoleKSK))))

	// The next pass creates the successor right away.
	res, err := m.Run(context.Background(), zone, policy, now)
	require.NoError(t, err)
	succ := findRole(t, res.Created, dnssec.RoleKSK, dnssec.ECDSAP256SHA256)
	require.Len(t, succ, 1)
	assert.Equal(t, uint16(10), succ[0].Predecessor)
}
