// Copyright 2017 ETH Zurich
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
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scionproto/keymgr/pkg/private/serrors"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = 365 * day
)

var (
	durationRegexp = regexp.MustCompile(`^(\d+)(y|w|d|h|m|s|ms|us|µs|ns)$`)
	iso8601Regexp  = regexp.MustCompile(
		`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)
)

var units = []struct {
	suffix string
	d      time.Duration
}{
	{"y", year},
	{"w", week},
	{"d", day},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
	{"ms", time.Millisecond},
	{"us", time.Microsecond},
	{"ns", time.Nanosecond},
}

// ParseDuration parses a duration. Two formats are accepted: a single integer
// with a unit suffix (y, w, d, h, m, s, ms, us, µs, ns), for example "30d",
// and ISO 8601 durations as used in DNSSEC policies, for example "P30D" or
// "PT1H". In ISO 8601 durations a month counts as 30 days and a year as 365
// days.
func ParseDuration(s string) (time.Duration, error) {
	if strings.HasPrefix(s, "P") {
		return parseISO8601(s)
	}
	parts := durationRegexp.FindStringSubmatch(s)
	if parts == nil {
		return 0, serrors.New("invalid duration", "value", s)
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, serrors.Wrap("invalid duration", err, "value", s)
	}
	unit := parts[2]
	if unit == "µs" {
		unit = "us"
	}
	for _, u := range units {
		if u.suffix == unit {
			return time.Duration(n) * u.d, nil
		}
	}
	return 0, serrors.New("invalid duration unit", "value", s)
}

func parseISO8601(s string) (time.Duration, error) {
	parts := iso8601Regexp.FindStringSubmatch(s)
	if parts == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, serrors.New("invalid ISO 8601 duration", "value", s)
	}
	multipliers := []time.Duration{year, 30 * day, week, day, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, m := range multipliers {
		if parts[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil {
			return 0, serrors.Wrap("invalid ISO 8601 duration", err, "value", s)
		}
		d += time.Duration(n) * m
	}
	return d, nil
}

// FmtDuration formats d using the largest unit that represents it without
// remainder. Sub-nanosecond precision does not exist so the result is always
// exact.
func FmtDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	for _, u := range units {
		if d%u.d == 0 {
			return strconv.FormatInt(int64(d/u.d), 10) + u.suffix
		}
	}
	return strconv.FormatInt(int64(d), 10) + "ns"
}
