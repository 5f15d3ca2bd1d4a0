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
	"github.com/scionproto/keymgr/private/app/flag"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
)

func newCheckDS(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags struct {
		operatorFlags
		selectorFlags
		when flag.Time
	}
	cmd := &cobra.Command{
		Use:   "checkds <zone> published|withdrawn",
		Short: "Record a DS change in the parent zone",
		Example: fmt.Sprintf(`  %[1]s checkds example.com published
  %[1]s checkds example.com withdrawn --key 12345 --when 20250101120000`,
			pather.CommandPath()),
		Long: `'checkds' records that the DS record of a KSK was published in, or
withdrawn from, the parent zone. If the zone has more than one KSK, the key must
be selected with --key and --algorithm.

With --when the change is recorded at the given time instead of the current
time, and only keys whose CDS records were scheduled by then are considered.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var publish bool
			switch args[1] {
			case "published":
				publish = true
			case "withdrawn":
			default:
				return serrors.New("unknown DS change, expected published or withdrawn",
					"change", args[1])
			}
			sel, err := flags.selector()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			s, err := flags.setup(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer s.Close()
			now := flags.clock()()
			recorded, filter := now, now
			if flags.when.IsSet() {
				recorded = flags.when.At(now)
				filter = recorded
			}
			return s.scheduler.WithZone(cmd.Context(), args[0],
				func(z *keymgr.Zone, _ *kasp.Policy) error {
					k, err := s.manager.CheckDS(cmd.Context(), z, recorded, filter, publish, sel)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "KSK %d (%s): DS %s at %s\n",
						k.Tag, k.Algorithm, args[1], fmtTime(recorded))
					return nil
				},
			)
		},
	}
	flags.operatorFlags.register(cmd)
	flags.selectorFlags.register(cmd)
	cmd.Flags().Var(&flags.when, "when", "Time of the DS change (default now)")
	return cmd
}
