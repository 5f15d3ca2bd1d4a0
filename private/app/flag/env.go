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

// Package flag contains the command line flags shared by the key manager
// commands.
package flag

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/pkg/private/util"
)

const (
	// DefaultConfigFile is the configuration file used if neither the flag
	// nor the environment variable is set.
	DefaultConfigFile = "/etc/keymgr/keymgr.toml"

	// ConfigEnv is the environment variable holding the configuration file.
	ConfigEnv = "KEYMGR_CONFIG"

	// timeLayout is the timestamp format of key state files.
	timeLayout = "20060102150405"
)

type stringVal string

func (v *stringVal) Set(val string) error {
	*v = stringVal(val)
	return nil
}

func (v *stringVal) Type() string   { return "string" }
func (v *stringVal) String() string { return string(*v) }

// Time is a point in time given on the command line. It is either an
// absolute timestamp (RFC 3339 or YYYYMMDDHHMMSS), the word "now", or an
// offset from now such as "+1d" or "-12h". Offsets are resolved when the
// value is read, not when it is parsed.
type Time struct {
	abs    time.Time
	offset time.Duration
	set    bool
}

// ParseTime parses a time value.
func ParseTime(val string) (Time, error) {
	switch {
	case val == "now":
		return Time{set: true}, nil
	case strings.HasPrefix(val, "+"), strings.HasPrefix(val, "-"):
		d, err := util.ParseDuration(val[1:])
		if err != nil {
			return Time{}, serrors.Wrap("parsing offset", err, "value", val)
		}
		if val[0] == '-' {
			d = -d
		}
		return Time{offset: d, set: true}, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return Time{abs: t.UTC(), set: true}, nil
	}
	t, err := time.Parse(timeLayout, val)
	if err != nil {
		return Time{}, serrors.New("invalid time, expected RFC 3339, YYYYMMDDHHMMSS, "+
			"\"now\" or an offset like +1d", "value", val)
	}
	return Time{abs: t, set: true}, nil
}

// IsSet reports whether a value was given.
func (t Time) IsSet() bool {
	return t.set
}

// At returns the point in time relative to now. An unset value returns the
// zero time.
func (t Time) At(now time.Time) time.Time {
	switch {
	case !t.set:
		return time.Time{}
	case !t.abs.IsZero():
		return t.abs
	default:
		return now.Add(t.offset)
	}
}

// Set implements pflag.Value.
func (t *Time) Set(val string) error {
	v, err := ParseTime(val)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t *Time) Type() string { return "time" }

func (t *Time) String() string {
	switch {
	case !t.set:
		return ""
	case !t.abs.IsZero():
		return t.abs.Format(time.RFC3339)
	case t.offset == 0:
		return "now"
	case t.offset < 0:
		return "-" + util.FmtDuration(-t.offset)
	default:
		return "+" + util.FmtDuration(t.offset)
	}
}

// Environment gives access to the configuration file of the key manager.
type Environment struct {
	config     string
	configFlag *pflag.Flag
	configEnv  *string

	mtx sync.Mutex
}

// Register registers the command line flags. This should be called when command
// line flags are set up, before any command that accesses the values is called.
// It is safe to not call this at all, which means command line flag values are
// not considered.
func (e *Environment) Register(flagSet *pflag.FlagSet) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	e.configFlag = flagSet.VarPF((*stringVal)(&e.config), "config", "c",
		"Configuration file (default "+DefaultConfigFile+", or $"+ConfigEnv+")")
}

// LoadExternalVars loads the variables from the OS environment.
func (e *Environment) LoadExternalVars() {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if v, ok := os.LookupEnv(ConfigEnv); ok && v != "" {
		e.configEnv = &v
	}
}

// ConfigFile returns the configuration file. The value is loaded from one of
// the following sources with precedence:
//  1. Command line flag (--config)
//  2. Environment variable (KEYMGR_CONFIG)
//  3. Default value.
func (e *Environment) ConfigFile() string {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.configFlag != nil && e.configFlag.Changed {
		return e.config
	}
	if e.configEnv != nil {
		return *e.configEnv
	}
	return DefaultConfigFile
}
