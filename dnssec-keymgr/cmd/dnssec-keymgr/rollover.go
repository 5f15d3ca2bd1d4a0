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
	"time"

	"github.com/spf13/cobra"

	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/flag"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
)

func newRollover(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags struct {
		operatorFlags
		selectorFlags
		when flag.Time
	}
	cmd := &cobra.Command{
		Use:   "rollover <zone>",
		Short: "Schedule the rollover of an active key",
		Example: fmt.Sprintf(`  %[1]s rollover example.com --key 12345
  %[1]s rollover example.com --algorithm ED25519 --when +7d`, pather.CommandPath()),
		Long: `'rollover' schedules the retirement of an active key. Its successor is
introduced by the next lifecycle pass.

Without --when the key is retired as early as the policy allows. With --when
it is retired at the given time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			var when time.Time
			if flags.when.IsSet() {
				when = flags.when.At(now)
			}
			return s.scheduler.WithZone(cmd.Context(), args[0],
				func(z *keymgr.Zone, p *kasp.Policy) error {
					k, err := s.manager.Rollover(cmd.Context(), z, p, now, when, sel)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d (%s): retires at %s\n",
						k.Role, k.Tag, k.Algorithm, fmtTime(k.Timing.Retire))
					return nil
				},
			)
		},
	}
	flags.operatorFlags.register(cmd)
	flags.selectorFlags.register(cmd)
	cmd.Flags().Var(&flags.when, "when", "Time of the rollover (default as soon as possible)")
	return cmd
}
