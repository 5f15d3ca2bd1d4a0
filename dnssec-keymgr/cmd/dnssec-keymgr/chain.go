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
	"io"

	"github.com/spf13/cobra"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
)

func newChain(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags operatorFlags
	cmd := &cobra.Command{
		Use:   "chain <zone> [built|removed]",
		Short: "Show or update the denial of existence chain state",
		Example: fmt.Sprintf(`  %[1]s chain example.com
  %[1]s chain example.com built`, pather.CommandPath()),
		Long: `'chain' prints the state of the NSEC or NSEC3 chain of a zone, including
the instructions for the chain rebuilder.

The rebuilder reports its progress with 'built' once the target chain exists,
and with 'removed' once the old chain is gone.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var event func(*keymgr.Manager, *cobra.Command, *keymgr.Zone) error
			if len(args) == 2 {
				switch args[1] {
				case "built":
					event = func(m *keymgr.Manager, cmd *cobra.Command, z *keymgr.Zone) error {
						return m.ChainBuilt(cmd.Context(), z)
					}
				case "removed":
					event = func(m *keymgr.Manager, cmd *cobra.Command, z *keymgr.Zone) error {
						return m.ChainRemoved(cmd.Context(), z)
					}
				default:
					return serrors.New("unknown chain event, expected built or removed",
						"event", args[1])
				}
			}
			cmd.SilenceUsage = true

			s, err := flags.setup(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.scheduler.WithZone(cmd.Context(), args[0],
				func(z *keymgr.Zone, _ *kasp.Policy) error {
					if event != nil {
						if err := event(s.manager, cmd, z); err != nil {
							return err
						}
					}
					printChain(cmd.OutOrStdout(), z.Name, z.Chain)
					return nil
				},
			)
		},
	}
	flags.register(cmd)
	return cmd
}

func printChain(w io.Writer, name string, c dnssec.ChainState) {
	fmt.Fprintf(w, "zone:   %s\n", name)
	fmt.Fprintf(w, "active: %s\n", c.Active)
	fmt.Fprintf(w, "target: %s\n", c.Target)
	if c.Old != dnssec.MechanismNone {
		fmt.Fprintf(w, "old:    %s\n", c.Old)
	}
	if c.Target == dnssec.MechanismNSEC3 {
		fmt.Fprintf(w, "nsec3:  iterations=%d salt_length=%d opt_out=%t\n",
			c.NSEC3.Iterations, c.NSEC3.SaltLength, c.NSEC3.OptOut)
	}
	fmt.Fprintf(w, "flags:  create_chain=%t remove_chain=%t initial=%t no_nsec_yet=%t\n",
		c.Flags.CreateChain, c.Flags.RemoveChain, c.Flags.Initial, c.Flags.NoNSECYet)
}
