// Copyright 2018 Anapaya Systems
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

package util

import (
	"encoding"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Unlimited is accepted in place of a zero duration for settings where zero
// means no limit, such as key lifetimes.
const Unlimited = "unlimited"

var (
	_ encoding.TextUnmarshaler = (*DurWrap)(nil)
	_ encoding.TextMarshaler   = DurWrap{}
	_ pflag.Value              = (*DurWrap)(nil)
)

// DurWrap wraps a duration for TOML configuration and command line flags.
// Both accept the formats of ParseDuration and the keyword "unlimited".
type DurWrap struct {
	time.Duration
}

// NewDurWrap returns a wrapped d. Optional settings are pointers, nil meaning
// unset.
func NewDurWrap(d time.Duration) *DurWrap {
	return &DurWrap{Duration: d}
}

// Get returns the wrapped duration, or def if d is unset.
func (d *DurWrap) Get(def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return d.Duration
}

func (d *DurWrap) UnmarshalText(text []byte) error {
	return d.Set(string(text))
}

// Set implements pflag.Value.
func (d *DurWrap) Set(text string) error {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, Unlimited) {
		d.Duration = 0
		return nil
	}
	v, err := ParseDuration(text)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d DurWrap) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d DurWrap) String() string {
	return FmtDuration(d.Duration)
}

// Type implements pflag.Value.
func (d *DurWrap) Type() string {
	return "duration"
}
