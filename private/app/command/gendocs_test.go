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


package command_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/private/app/command"
)

func newTree() *cobra.Command {
	root := &cobra.Command{Use: "dnssec-keymgr", Short: "Manage keys"}
	noop := func(*cobra.Command, []string) error { return nil }
	checkds := &cobra.Command{Use: "checkds", Short: "Record DS changes", RunE: noop}
	status := &cobra.Command{Use: "status", Short: "Show status", RunE: noop}
	root.AddCommand(checkds, status, command.NewGendocs(root))
	return root
}

func TestGendocs(t *testing.T) {
	tests := map[string]struct {
		args  []string
		files []string
	}{
		"markdown": {
			files: []string{"index.md", "dnssec-keymgr.md", "dnssec-keymgr_checkds.md",
				"dnssec-keymgr_status.md"},
		},
		"man": {
			args:  []string{"--format", "man"},
			files: []string{"dnssec-keymgr.8", "dnssec-keymgr-checkds.8"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "doc")
			root := newTree()
			root.SetArgs(append([]string{"gendocs", dir}, tc.args...))
			require.NoError(t, root.Execute())
			for _, f := range tc.files {
				assert.FileExists(t, filepath.Join(dir, f))
			}
		})
	}

	t.Run("index", func(t *testing.T) {
		dir := t.TempDir()
		root := newTree()
		root.SetArgs([]string{"gendocs", dir})
		require.NoError(t, root.Execute())
		raw, err := os.ReadFile(filepath.Join(dir, "index.md"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), "  - [dnssec-keymgr checkds](dnssec-keymgr_checkds.md)")
		assert.NotContains(t, string(raw), "gendocs")
	})

	t.Run("unknown format", func(t *testing.T) {
		root := newTree()
		root.SetArgs([]string{"gendocs", t.TempDir(), "--format", "pdf"})
		assert.Error(t, root.Execute())
	})
}
