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

package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage/keys/dbtest"
	"github.com/scionproto/keymgr/private/storage/keys/fs"
)

var _ dbtest.TestableStore = (*TestBackend)(nil)

type TestBackend struct {
	*fs.Store
}

func (b *TestBackend) Prepare(t *testing.T, _ context.Context) {
	s, err := fs.New(t.TempDir())
	require.NoError(t, err)
	b.Store = s
}

func TestStoreSuite(t *testing.T) {
	dbtest.Run(t, &TestBackend{})
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := fs.New(dir)
	require.NoError(t, err)

	k, mat := dbtest.NewKey(t, "example.com.", dnssec.RoleKSK)
	require.NoError(t, s.Commit(ctx, "example.com.", keymgr.Batch{
		Keys:     []*dnssec.Key{k},
		Material: map[dnssec.ID]*dnssec.Material{k.ID(): mat},
		Chain:    &dnssec.ChainState{Target: dnssec.MechanismNSEC},
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	base := k.FileBase()
	assert.ElementsMatch(t, []string{base + ".key", base + ".private", base + ".state",
		"example.com.chain.toml"}, names)
	assert.Regexp(t, `^Kexample\.com\.\+015\+\d{5}$`, base)

	info, err := os.Stat(filepath.Join(dir, base+".private"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	raw, err := os.ReadFile(filepath.Join(dir, base+".private"))
	require.NoError(t, err)
	assert.Equal(t, mat.Private, string(raw))

	raw, err = os.ReadFile(filepath.Join(dir, base+".key"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "; This is a key-signing key")
	assert.Contains(t, string(raw), k.Public.String())
}

func TestCommitRejectsKeyWithoutPublic(t *testing.T) {
	dir := t.TempDir()
	s, err := fs.New(dir)
	require.NoError(t, err)
	k := &dnssec.Key{Zone: "example.com.", Tag: 1, Algorithm: dnssec.ED25519,
		Role: dnssec.RoleZSK}
	err = s.Commit(context.Background(), "example.com.", keymgr.Batch{
		Keys:     []*dnssec.Key{k},
		Material: map[dnssec.ID]*dnssec.Material{k.ID(): {Private: "x"}},
	})
	assert.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestKeysRejectsCorruptFiles(t *testing.T) {
	tests := map[string]map[string]string{
		"state": {
			"Kexample.com.+015+00042.state": "Algorithm: 15\nthis is not a field\n",
		},
		"keytag mismatch": {
			"Kexample.com.+015+00042.state": "Algorithm: 15\nZSK: yes\n",
			"Kexample.com.+015+00042.key": "example.com. 3600 IN DNSKEY 256 3 15 " +
				"l02Woi0iS8Aa25FQkUd9RMzZHJpBoRQwAQEX1SxZJA4=\n",
		},
	}
	for name, files := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			for f, content := range files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(content), 0o644))
			}
			s, err := fs.New(dir)
			require.NoError(t, err)
			_, err = s.Keys(context.Background(), "example.com")
			assert.Error(t, err)
		})
	}
}

func TestChainStateRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "example.com.chain.toml"),
		[]byte("active = \"nsec\"\nbogus = 1\n"), 0o644)
	require.NoError(t, err)
	s, err := fs.New(dir)
	require.NoError(t, err)
	_, err = s.ChainState(context.Background(), "example.com.")
	assert.Error(t, err)
}
