// Copyright 2023 Anapaya Systems
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


package command

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// NewGendocs returns the hidden command that renders the reference of the
// command tree, either as markdown or as man pages.
func NewGendocs(pather Pather) *cobra.Command {
	var format string
	var cmd = &cobra.Command{
		Use:   "gendocs <directory>",
		Short: "Generate documentation",
		Example: fmt.Sprintf(`  %[1]s gendocs doc/command
  %[1]s gendocs --format man /usr/local/share/man/man8`, pather.CommandPath()),
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			root.DisableAutoGenTag = true

			directory := args[0]
			if err := os.MkdirAll(directory, 0755); err != nil {
				return serrors.Wrap("creating directory", err, "directory", directory)
			}
			var err error
			switch format {
			case "md":
				err = genMarkdownTree(root, directory)
			case "man":
				err = doc.GenManTree(root, &doc.GenManHeader{
					Title:   strings.ToUpper(root.Name()),
					Section: "8",
					Source:  "keymgr",
					Manual:  "DNSSEC key management",
				}, directory)
			default:
				return serrors.New("unsupported format", "format", format)
			}
			if err != nil {
				return serrors.Wrap("generating documentation", err, "format", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "Output format (md|man)")
	return cmd
}

// genMarkdownTree writes one file per available command and an index.md that
// lists them nested by depth.
func genMarkdownTree(root *cobra.Command, dir string) error {
	var index bytes.Buffer
	fmt.Fprintf(&index, "# %s command reference\n\n", root.Name())
	err := walk(root, func(c *cobra.Command) error {
		var buf bytes.Buffer
		if err := doc.GenMarkdownCustom(c, &buf, sameDir); err != nil {
			return err
		}
		name := markdownFile(c)
		depth := strings.Count(c.CommandPath(), " ")
		fmt.Fprintf(&index, "%s- [%s](%s)\n", strings.Repeat("  ", depth), c.CommandPath(), name)
		return os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0666)
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "index.md"), index.Bytes(), 0666)
}

// sameDir links pages by file name, all pages are in one directory.
func sameDir(name string) string {
	return name
}

// walk calls fn for c and all its available subcommands, parents first.
func walk(c *cobra.Command, fn func(*cobra.Command) error) error {
	if err := fn(c); err != nil {
		return err
	}
	for _, child := range c.Commands() {
		if !child.IsAvailableCommand() || child.IsAdditionalHelpTopicCommand() {
			continue
		}
		if err := walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// markdownFile is the name cobra uses when linking to the page of c.
func markdownFile(c *cobra.Command) string {
	return strings.ReplaceAll(c.CommandPath(), " ", "_") + ".md"
}
