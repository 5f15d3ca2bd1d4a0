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
	"strings"

	"github.com/spf13/cobra"

	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/zone"
)

func newRun(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags operatorFlags
	cmd := &cobra.Command{
		Use:   "run [zone...]",
		Short: "Run a key lifecycle pass",
		Example: fmt.Sprintf(`  %[1]s run
  %[1]s run example.com --now +30d`, pather.CommandPath()),
		Long: `'run' executes one key lifecycle pass for the given zones, or for all
configured zones if none is given. Keys are generated, and key timers are
advanced, as the policy of the zone requires. The changes are written to the
key store and the instructions for the signer are printed.

With --now the pass is executed as if the current time was the given time.
This is useful to preview future rollovers against a copy of the key store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.setup(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer s.Close()
			var errs serrors.List
			for _, name := range zonesOrAll(s, args) {
				res, err := s.scheduler.RunZone(cmd.Context(), name)
				if err != nil {
					errs = append(errs, serrors.Wrap("running zone", err, "zone", name))
					continue
				}
				printResult(cmd.OutOrStdout(), zone.Normalize(name), res)
			}
			return errs.ToError()
		},
	}
	flags.register(cmd)
	return cmd
}

func printResult(w io.Writer, name string, res keymgr.Result) {
	fmt.Fprintf(w, "zone: %s\n", name)
	for _, k := range res.Created {
		fmt.Fprintf(w, "  created:   %d (%s) %s\n", k.Tag, k.Algorithm, k.Role)
	}
	fmt.Fprintf(w, "  changed:   %d keys\n", len(res.Changed))
	if res.ChainChanged {
		fmt.Fprintf(w, "  chain:     changed\n")
	}
	fmt.Fprintf(w, "  next pass: %s\n", fmtTime(res.NextTime))
	for _, h := range res.Hints {
		var actions []string
		if h.Publish {
			actions = append(actions, "publish")
		}
		if h.Sign {
			actions = append(actions, "sign")
		}
		if h.Remove {
			actions = append(actions, "remove")
		}
		if len(actions) == 0 {
			actions = append(actions, "none")
		}
		fmt.Fprintf(w, "  key %d (%s) %s: %s\n", h.Key.Tag, h.Key.Algorithm, h.Key.Role,
			strings.Join(actions, " "))
	}
}
