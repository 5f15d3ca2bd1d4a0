// Copyright 2021 Anapaya Systems
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

// Package app contains helpers shared by the key manager commands.
package app

import (
	"os"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// SetupLog configures console logging to stderr at the given level.
func SetupLog(level string) error {
	logCfg := log.Config{Console: log.ConsoleConfig{Level: level}}
	if err := log.Setup(logCfg, log.WithWriter(os.Stderr)); err != nil {
		return serrors.Wrap("setting up logging", err)
	}
	return nil
}

// Cleanup collects cleanup functions that are run in reverse order of
// registration.
type Cleanup struct {
	funcs []func() error
}

// Add registers a cleanup function.
func (c *Cleanup) Add(f func() error) {
	c.funcs = append(c.funcs, f)
}

// Do runs all cleanup functions. All functions run even if some fail, the
// errors are returned together.
func (c *Cleanup) Do() error {
	var errs serrors.List
	for i := len(c.funcs) - 1; i >= 0; i-- {
		if err := c.funcs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.funcs = nil
	return errs.ToError()
}
