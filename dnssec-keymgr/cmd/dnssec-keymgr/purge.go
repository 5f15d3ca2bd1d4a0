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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
)

func newPurge(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags struct {
		operatorFlags
		dryRun bool
	}
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove keys that have been deleted long enough",
		Example: fmt.Sprintf(`  %[1]s purge --dry-run
  %[1]s purge`, pather.CommandPath()),
		Long: `'purge' removes the keys of all configured zones that were removed from
the zone for longer than the purge interval of the zone policy. Keys whose DS
record is still published in the parent are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.setup(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer s.Close()
			w := cmd.OutOrStdout()
			if !flags.dryRun {
				n, err := s.scheduler.Purge(cmd.Context())
				fmt.Fprintf(w, "purged %d keys\n", n)
				return err
			}
			now := flags.clock()()
			var errs serrors.List
			for _, name := range s.scheduler.Zones() {
				err := s.scheduler.WithZone(cmd.Context(), name,
					func(z *keymgr.Zone, p *kasp.Policy) error {
						for _, k := range z.Keys {
							if keymgr.KeyMayBePurged(k, p.PurgeKeys, now) {
								fmt.Fprintf(w, "%s: would purge %d (%s) %s, removed %s\n",
									z.Name, k.Tag, k.Algorithm, k.Role, fmtTime(k.Timing.Delete))
							}
						}
						return nil
					},
				)
				if err != nil {
					errs = append(errs, serrors.Wrap("loading zone", err, "zone", name))
				}
			}
			return errs.ToError()
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false,
		"Only print the keys that would be purged")
	return cmd
}
