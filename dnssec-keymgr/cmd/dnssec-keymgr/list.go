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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keymgr"
)

func newList(pather command.Pather, a *launcher.Application) *cobra.Command {
	var flags struct {
		operatorFlags
		noColor bool
		format  string
	}
	cmd := &cobra.Command{
		Use:     "list [zone...]",
		Short:   "List the keys of zones",
		Aliases: []string{"ls"},
		Example: fmt.Sprintf(`  %[1]s list
  %[1]s list example.com --no-color
  %[1]s list --format yaml`, pather.CommandPath()),
		Long: `'list' prints the keys of the given zones, or of all configured zones if
none is given, together with the state of their records.

The human readable table is colored on terminals. The json and yaml formats
are meant for scripts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch flags.format {
			case "human", "json", "yaml":
			default:
				return serrors.New("output format not supported", "format", flags.format)
			}
			s, err := flags.setup(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer s.Close()
			now := flags.clock()()
			var listed []listedKey
			var errs serrors.List
			for _, name := range zonesOrAll(s, args) {
				err := s.scheduler.WithZone(cmd.Context(), name,
					func(z *keymgr.Zone, p *kasp.Policy) error {
						listed = append(listed, listKeys(z, p, now)...)
						return nil
					},
				)
				if err != nil {
					errs = append(errs, serrors.Wrap("loading zone", err, "zone", name))
				}
			}
			w := cmd.OutOrStdout()
			colored := !flags.noColor && isTerminal(w)
			if err := writeKeys(w, flags.format, listed, colored); err != nil {
				errs = append(errs, err)
			}
			return errs.ToError()
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	cmd.Flags().StringVar(&flags.format, "format", "human",
		"Specify the output format (human|json|yaml)")
	return cmd
}

// listedKey is a key as printed by list.
type listedKey struct {
	Zone      string     `json:"zone" yaml:"zone"`
	Tag       uint16     `json:"tag" yaml:"tag"`
	Algorithm string     `json:"algorithm" yaml:"algorithm"`
	Role      string     `json:"role" yaml:"role"`
	States    stateNames `json:"states" yaml:"states"`
	NextEvent *time.Time `json:"next_event,omitempty" yaml:"next_event,omitempty"`
}

type stateNames struct {
	Goal   string `json:"goal" yaml:"goal"`
	DNSKEY string `json:"dnskey" yaml:"dnskey"`
	ZRRSIG string `json:"zone_rrsig" yaml:"zone_rrsig"`
	KRRSIG string `json:"key_rrsig" yaml:"key_rrsig"`
	DS     string `json:"ds" yaml:"ds"`
}

func listKeys(z *keymgr.Zone, p *kasp.Policy, now time.Time) []listedKey {
	prop := p.Propagation()
	listed := make([]listedKey, 0, len(z.Keys))
	for _, k := range z.Keys {
		st := k.States(prop, now)
		l := listedKey{
			Zone:      z.Name,
			Tag:       k.Tag,
			Algorithm: k.Algorithm.String(),
			Role:      k.Role.String(),
			States: stateNames{
				Goal:   st.Goal.String(),
				DNSKEY: st.DNSKEY.String(),
				ZRRSIG: st.ZRRSIG.String(),
				KRRSIG: st.KRRSIG.String(),
				DS:     st.DS.String(),
			},
		}
		if next := k.Timing.Next(now); !next.IsZero() {
			l.NextEvent = &next
		}
		listed = append(listed, l)
	}
	return listed
}

func writeKeys(w io.Writer, format string, listed []listedKey, colored bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(listed)
	case "yaml":
		return yaml.NewEncoder(w).Encode(listed)
	default:
		renderKeys(w, keyRows(listed, colored))
		return nil
	}
}

// stateColors are the colors of the record states in the human output.
var stateColors = map[string]*color.Color{
	dnssec.Hidden.String():      color.New(color.FgHiBlack),
	dnssec.Rumoured.String():    color.New(color.FgYellow),
	dnssec.Omnipresent.String(): color.New(color.FgGreen),
	dnssec.Unretentive.String(): color.New(color.FgRed),
}

func keyRows(listed []listedKey, colored bool) [][]string {
	state := func(s string) string {
		if c, ok := stateColors[s]; ok && colored {
			return c.Sprint(s)
		}
		return s
	}
	rows := make([][]string, 0, len(listed))
	for _, l := range listed {
		var next time.Time
		if l.NextEvent != nil {
			next = *l.NextEvent
		}
		st := l.States
		rows = append(rows, []string{
			l.Zone,
			strconv.Itoa(int(l.Tag)),
			l.Algorithm,
			l.Role,
			state(st.Goal),
			state(st.DNSKEY),
			state(st.ZRRSIG),
			state(st.KRRSIG),
			state(st.DS),
			fmtTime(next),
		})
	}
	return rows
}

// isTerminal reports whether w is a terminal. Colors are only used on
// terminals.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func renderKeys(w io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"ZONE", "TAG", "ALGORITHM", "ROLE", "GOAL", "DNSKEY",
		"ZRRSIG", "KRRSIG", "DS", "NEXT EVENT"})
	table.AppendBulk(rows)
	table.Render()
}
