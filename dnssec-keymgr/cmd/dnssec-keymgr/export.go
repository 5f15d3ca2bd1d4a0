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


package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage/keys"
	"github.com/scionproto/keymgr/private/storage/keys/fs"
)

func newExport(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags struct {
		operatorFlags
		dir string
		tag uint16
	}
	cmd := &cobra.Command{
		Use:   "export <zone>",
		Short: "Write the keys of a zone to a BIND key directory",
		Example: fmt.Sprintf(`  %[1]s export example.com --dir /etc/bind/keys
  %[1]s export example.com --dir /tmp/keys --key 12345`, pather.CommandPath()),
		Long: `'export' writes the keys of a zone, including the private keys, to a key
directory in the file layout of BIND: K<zone>+<alg>+<tag>.key, .private and
.state. The chain state of the zone is written as well. Files of other keys in
the directory are left untouched.

This gives signers that read key directories access to keys kept in the sqlite
backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.dir == "" {
				return serrors.New("--dir is required")
			}
			cmd.SilenceUsage = true
			s, err := flags.setup(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer s.Close()
			dst, err := fs.New(flags.dir)
			if err != nil {
				return err
			}
			return s.scheduler.WithZone(cmd.Context(), args[0],
				func(z *keymgr.Zone, _ *kasp.Policy) error {
					n, err := exportZone(cmd.Context(), s.store, dst, z, flags.tag)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "exported %d keys of %s to %s\n",
						n, z.Name, dst.Dir())
					return nil
				},
			)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.dir, "dir", "", "Key directory to write to (required)")
	cmd.Flags().Uint16Var(&flags.tag, "key", 0, "Only export the key with this keytag")
	return cmd
}

// exportZone copies the keys of z, or only the key with keytag tag if it is
// not zero, together with their private keys into dst.
func exportZone(ctx context.Context, src keys.PrivateKeyReader, dst keymgr.Store,
	z *keymgr.Zone, tag uint16) (int, error) {

	b := keymgr.Batch{Material: make(map[dnssec.ID]*dnssec.Material)}
	for _, k := range z.Keys {
		if tag != 0 && k.Tag != tag {
			continue
		}
		private, err := src.PrivateKey(ctx, z.Name, k.ID())
		if err != nil {
			return 0, serrors.Wrap("reading private key", err, "key", k.ID())
		}
		b.Keys = append(b.Keys, k)
		b.Material[k.ID()] = &dnssec.Material{Private: private}
	}
	if tag != 0 && len(b.Keys) == 0 {
		return 0, serrors.New("no such key", "zone", z.Name, "key", tag)
	}
	chain := z.Chain
	b.Chain = &chain
	if err := dst.Commit(ctx, z.Name, b); err != nil {
		return 0, serrors.Wrap("writing key directory", err)
	}
	return len(b.Keys), nil
}
