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
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
)

func newStatus(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags operatorFlags
	cmd := &cobra.Command{
		Use:     "status <zone>",
		Short:   "Show the DNSSEC status of a zone",
		Example: fmt.Sprintf("  %[1]s status example.com", pather.CommandPath()),
		Long: `'status' shows the policy of the zone and, for every key, whether it is
published and signing, the state of its records and its next scheduled event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.setup(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer s.Close()
			now := flags.clock()()
			return s.scheduler.WithZone(cmd.Context(), args[0],
				func(z *keymgr.Zone, p *kasp.Policy) error {
					out, err := keymgr.StatusReport(p, z.Keys, now)
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(out)
					return err
				},
			)
		},
	}
	flags.register(cmd)
	return cmd
}
