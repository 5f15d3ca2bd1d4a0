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

package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage/db"
	"github.com/scionproto/keymgr/private/storage/keys/dbtest"
	"github.com/scionproto/keymgr/private/storage/keys/sqlite"
)

var _ dbtest.TestableStore = (*TestBackend)(nil)

type TestBackend struct {
	*sqlite.Backend
}

func (b *TestBackend) Prepare(t *testing.T, ctx context.Context) {
	backend, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "keys.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	b.Backend = backend
}

func TestStoreSuite(t *testing.T) {
	dbtest.Run(t, &TestBackend{})
}

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.New(ctx, "file:"+t.Name(), &db.SqliteConfig{InMemory: true})
	require.NoError(t, err)
	defer b.Close()
	k, mat := dbtest.NewKey(t, "example.com.", dnssec.RoleCSK)
	require.NoError(t, b.Commit(ctx, "example.com.", keymgr.Batch{
		Keys:     []*dnssec.Key{k},
		Material: map[dnssec.ID]*dnssec.Material{k.ID(): mat},
	}))
	ring, err := b.Keys(ctx, "example.com.")
	require.NoError(t, err)
	dbtest.AssertRing(t, dnssec.KeyRing{k}, ring)
}

// TestOpenExisting tests that New does not overwrite an existing database if
// versions match.
func TestOpenExisting(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")
	b, err := sqlite.New(ctx, path, nil)
	require.NoError(t, err)
	k, mat := dbtest.NewKey(t, "example.com.", dnssec.RoleCSK)
	require.NoError(t, b.Commit(ctx, "example.com.", keymgr.Batch{
		Keys:     []*dnssec.Key{k},
		Material: map[dnssec.ID]*dnssec.Material{k.ID(): mat},
	}))
	require.NoError(t, b.Close())

	b, err = sqlite.New(ctx, path, nil)
	require.NoError(t, err)
	defer b.Close()
	ring, err := b.Keys(ctx, "example.com.")
	require.NoError(t, err)
	dbtest.AssertRing(t, dnssec.KeyRing{k}, ring)
	private, err := b.PrivateKey(ctx, "example.com.", k.ID())
	require.NoError(t, err)
	assert.Equal(t, mat.Private, private)
}

// TestOpenNewer tests that New does not overwrite an existing database if it's
// of a newer version.
func TestOpenNewer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")
	sdb, err := db.NewSqlite(path, nil)
	require.NoError(t, err)
	_, err = sdb.Full.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqlite.SchemaVersion+1))
	require.NoError(t, err)
	require.NoError(t, sdb.Close())

	_, err = sqlite.New(ctx, path, nil)
	assert.Error(t, err)
}

func TestCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "keys.db"), nil)
	require.NoError(t, err)
	defer b.Close()

	good, mat := dbtest.NewKey(t, "example.com.", dnssec.RoleZSK)
	bad := &dnssec.Key{Zone: "example.com.", Tag: 1, Algorithm: dnssec.ED25519,
		Role: dnssec.RoleZSK}
	err = b.Commit(ctx, "example.com.", keymgr.Batch{
		Keys: []*dnssec.Key{good, bad},
		Material: map[dnssec.ID]*dnssec.Material{
			good.ID(): mat,
			bad.ID():  {Private: "x"},
		},
		Chain: &dnssec.ChainState{Target: dnssec.MechanismNSEC},
	})
	assert.ErrorIs(t, err, db.ErrInvalidInputData)

	ring, err := b.Keys(ctx, "example.com.")
	require.NoError(t, err)
	assert.Empty(t, ring)
	chain, err := b.ChainState(ctx, "example.com.")
	require.NoError(t, err)
	assert.Equal(t, dnssec.ChainState{}, chain)
}
