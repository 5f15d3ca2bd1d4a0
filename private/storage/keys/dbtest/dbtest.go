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

// Package dbtest contains a test suite for key store implementations.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/private/keygen"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage/db"
	"github.com/scionproto/keymgr/private/storage/keys"
)

const timeout = 3 * time.Second

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// TestableStore extends the key store interface with methods that are needed
// for testing.
type TestableStore interface {
	keymgr.Store
	keys.PrivateKeyReader
	// Prepare should reset the internal state so that the store is empty and
	// ready to be tested.
	Prepare(t *testing.T, ctx context.Context)
}

// Run should be used to test any implementation of the keymgr.Store
// interface. An implementation should at least have one test method that
// calls this test-suite.
func Run(t *testing.T, store TestableStore) {
	run := func(name string, test func(*testing.T, context.Context, TestableStore)) {
		t.Run(name, func(t *testing.T) {
			ctx, cancelF := context.WithTimeout(context.Background(), timeout)
			defer cancelF()
			store.Prepare(t, ctx)
			test(t, ctx, store)
		})
	}
	run("empty zone", testEmpty)
	run("commit and load", testCommitAndLoad)
	run("timer update keeps material", testUpdate)
	run("remove", testRemove)
	run("zone names", testZoneNames)
	run("chain state", testChainState)
	run("private key", testPrivateKey)
}

// NewKey generates a fresh key for zone.
func NewKey(t *testing.T, zone string, role dnssec.Role) (*dnssec.Key, *dnssec.Material) {
	t.Helper()
	k, mat, err := keygen.Generator{}.Generate(context.Background(), zone,
		kasp.KeyConfig{Role: role, Algorithm: dnssec.ED25519}, t0)
	require.NoError(t, err)
	return k, mat
}

// AssertRing checks that got holds the keys of want in order.
func AssertRing(t *testing.T, want, got dnssec.KeyRing) {
	t.Helper()
	require.Len(t, got, len(want))
	strip := func(r dnssec.KeyRing) dnssec.KeyRing {
		c := r.Clone()
		for _, k := range c {
			k.Public = nil
		}
		return c
	}
	assert.Empty(t, cmp.Diff(strip(want), strip(got)))
	for i := range want {
		if want[i].Public == nil {
			assert.Nil(t, got[i].Public)
			continue
		}
		require.NotNil(t, got[i].Public)
		assert.Equal(t, want[i].Public.String(), got[i].Public.String())
	}
}

func testEmpty(t *testing.T, ctx context.Context, s TestableStore) {
	ring, err := s.Keys(ctx, "example.com.")
	require.NoError(t, err)
	assert.Empty(t, ring)
	chain, err := s.ChainState(ctx, "example.com.")
	require.NoError(t, err)
	assert.Equal(t, dnssec.ChainState{}, chain)
	assert.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{}))
}

func testCommitAndLoad(t *testing.T, ctx context.Context, s TestableStore) {
	ksk, kskMat := NewKey(t, "example.com.", dnssec.RoleKSK)
	ksk.Lifetime = 60 * 24 * time.Hour
	ksk.Successor = 4711
	ksk.Timing.Publish = t0
	ksk.Timing.Active = t0
	ksk.Timing.Retire = t0.Add(60 * 24 * time.Hour)
	ksk.Timing.SyncPublish = t0.Add(26 * time.Hour)
	ksk.Timing.DSPublish = t0.Add(30 * time.Hour)
	zsk, zskMat := NewKey(t, "example.com.", dnssec.RoleZSK)
	zsk.Timing.Created = t0.Add(time.Hour)
	zsk.Timing.Publish = t0.Add(time.Hour)
	zsk.Predecessor = 42
	offline := &dnssec.Key{Zone: "example.com.", Tag: 1, Algorithm: dnssec.ED25519,
		Role: dnssec.RoleKSK, Bits: 256, Offline: true,
		Timing: dnssec.Timing{Created: t0.Add(2 * time.Hour)}}

	err := s.Commit(ctx, "example.com.", keymgr.Batch{
		Keys: []*dnssec.Key{zsk, offline, ksk},
		Material: map[dnssec.ID]*dnssec.Material{
			ksk.ID(): kskMat,
			zsk.ID(): zskMat,
		},
	})
	require.NoError(t, err)

	ring, err := s.Keys(ctx, "example.com.")
	require.NoError(t, err)
	AssertRing(t, dnssec.KeyRing{ksk, zsk, offline}, ring)
}

func testUpdate(t *testing.T, ctx context.Context, s TestableStore) {
	k, mat := NewKey(t, "example.com.", dnssec.RoleCSK)
	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{
		Keys:     []*dnssec.Key{k},
		Material: map[dnssec.ID]*dnssec.Material{k.ID(): mat},
	}))

	upd := k.Clone()
	upd.Public = nil
	upd.Timing.Retire = t0.Add(24 * time.Hour)
	upd.Successor = 7
	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{Keys: []*dnssec.Key{upd}}))

	ring, err := s.Keys(ctx, "example.com.")
	require.NoError(t, err)
	want := upd.Clone()
	want.Public = k.Public
	AssertRing(t, dnssec.KeyRing{want}, ring)
}

func testRemove(t *testing.T, ctx context.Context, s TestableStore) {
	a, aMat := NewKey(t, "example.com.", dnssec.RoleZSK)
	b, bMat := NewKey(t, "example.com.", dnssec.RoleZSK)
	b.Timing.Created = t0.Add(time.Hour)
	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{
		Keys:     []*dnssec.Key{a, b},
		Material: map[dnssec.ID]*dnssec.Material{a.ID(): aMat, b.ID(): bMat},
	}))

	require.NoError(t, s.Remove(ctx, "example.com.", a.ID()))
	ring, err := s.Keys(ctx, "example.com.")
	require.NoError(t, err)
	AssertRing(t, dnssec.KeyRing{b}, ring)
	assert.NoError(t, s.Remove(ctx, "example.com.", a.ID()))
}

func testZoneNames(t *testing.T, ctx context.Context, s TestableStore) {
	com, comMat := NewKey(t, "example.com.", dnssec.RoleCSK)
	org, orgMat := NewKey(t, "example.org.", dnssec.RoleCSK)
	require.NoError(t, s.Commit(ctx, "Example.COM", keymgr.Batch{
		Keys:     []*dnssec.Key{com},
		Material: map[dnssec.ID]*dnssec.Material{com.ID(): comMat},
	}))
	require.NoError(t, s.Commit(ctx, "example.org.", keymgr.Batch{
		Keys:     []*dnssec.Key{org},
		Material: map[dnssec.ID]*dnssec.Material{org.ID(): orgMat},
	}))

	ring, err := s.Keys(ctx, "example.com")
	require.NoError(t, err)
	AssertRing(t, dnssec.KeyRing{com}, ring)
	ring, err = s.Keys(ctx, "example.org.")
	require.NoError(t, err)
	AssertRing(t, dnssec.KeyRing{org}, ring)
}

func testChainState(t *testing.T, ctx context.Context, s TestableStore) {
	st := dnssec.ChainState{
		Active: dnssec.MechanismNSEC,
		Target: dnssec.MechanismNSEC3,
		NSEC3:  dnssec.NSEC3Param{Iterations: 0, SaltLength: 8, OptOut: true},
		Flags:  dnssec.ChainFlags{CreateChain: true, Initial: true},
	}
	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{Chain: &st}))
	got, err := s.ChainState(ctx, "example.com.")
	require.NoError(t, err)
	assert.Equal(t, st, got)

	st.ChainBuilt()
	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{Chain: &st}))
	got, err = s.ChainState(ctx, "example.com.")
	require.NoError(t, err)
	assert.Equal(t, st, got)
	assert.Equal(t, dnssec.MechanismNSEC, got.Old)

	got, err = s.ChainState(ctx, "example.org.")
	require.NoError(t, err)
	assert.Equal(t, dnssec.ChainState{}, got)
}

func testPrivateKey(t *testing.T, ctx context.Context, s TestableStore) {
	k, mat := NewKey(t, "example.com.", dnssec.RoleCSK)
	_, err := s.PrivateKey(ctx, "example.com.", k.ID())
	assert.ErrorIs(t, err, db.ErrNotFound)

	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{
		Keys:     []*dnssec.Key{k},
		Material: map[dnssec.ID]*dnssec.Material{k.ID(): mat},
	}))
	private, err := s.PrivateKey(ctx, "example.com.", k.ID())
	require.NoError(t, err)
	assert.Equal(t, mat.Private, private)

	// Timer updates do not touch the private key.
	k.Timing.Active = t0
	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{Keys: []*dnssec.Key{k}}))
	private, err = s.PrivateKey(ctx, "example.com.", k.ID())
	require.NoError(t, err)
	assert.Equal(t, mat.Private, private)

	_, err = s.PrivateKey(ctx, "example.org.", k.ID())
	assert.ErrorIs(t, err, db.ErrNotFound)
}
