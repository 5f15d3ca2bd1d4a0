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

package fs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// stateTimeLayout is the timestamp format of state files. The value in
// parentheses following a timestamp is informational only.
const stateTimeLayout = "20060102150405"

// encodeState renders the metadata of k in the key state file format.
func encodeState(k *dnssec.Key) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "; This is the state of key %d, for %s\n", k.Tag, k.Zone)
	fmt.Fprintf(&b, "Algorithm: %d\n", uint8(k.Algorithm))
	fmt.Fprintf(&b, "Length: %d\n", k.Bits)
	fmt.Fprintf(&b, "Lifetime: %d\n", int64(k.Lifetime/time.Second))
	if k.Predecessor != 0 {
		fmt.Fprintf(&b, "Predecessor: %d\n", k.Predecessor)
	}
	if k.Successor != 0 {
		fmt.Fprintf(&b, "Successor: %d\n", k.Successor)
	}
	fmt.Fprintf(&b, "KSK: %s\n", yesNo(k.IsKSK()))
	fmt.Fprintf(&b, "ZSK: %s\n", yesNo(k.IsZSK()))
	if k.Offline {
		b.WriteString("Offline: yes\n")
	}
	for _, s := range dnssec.Slots {
		v := k.Timing.Get(s)
		if v.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "%s: %s (%s)\n", s, v.UTC().Format(stateTimeLayout),
			v.UTC().Format(time.ANSIC))
	}
	return b.Bytes()
}

// decodeState parses a key state file into k. Identity fields other than
// the algorithm are left untouched.
func decodeState(r io.Reader, k *dnssec.Key) error {
	sc := bufio.NewScanner(r)
	line := 0
	var ksk, zsk bool
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, ";") {
			continue
		}
		name, value, ok := strings.Cut(text, ":")
		if !ok {
			return serrors.New("malformed line", "line", line)
		}
		value = strings.TrimSpace(value)
		if err := decodeField(k, name, value, &ksk, &zsk); err != nil {
			return serrors.Wrap("decoding field", err, "line", line, "field", name)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	switch {
	case ksk && zsk:
		k.Role = dnssec.RoleCSK
	case ksk:
		k.Role = dnssec.RoleKSK
	case zsk:
		k.Role = dnssec.RoleZSK
	default:
		return serrors.New("key has neither KSK nor ZSK role")
	}
	return nil
}

func decodeField(k *dnssec.Key, name, value string, ksk, zsk *bool) error {
	if s, ok := dnssec.ParseSlot(name); ok {
		ts, _, _ := strings.Cut(value, " ")
		t, err := time.Parse(stateTimeLayout, ts)
		if err != nil {
			return err
		}
		k.Timing.Set(s, t)
		return nil
	}
	switch name {
	case "Algorithm":
		v, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return err
		}
		k.Algorithm = dnssec.Algorithm(v)
	case "Length":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		k.Bits = v
	case "Lifetime":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		k.Lifetime = time.Duration(v) * time.Second
	case "Predecessor", "Successor":
		v, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return err
		}
		if name == "Predecessor" {
			k.Predecessor = uint16(v)
		} else {
			k.Successor = uint16(v)
		}
	case "KSK":
		*ksk = value == "yes"
	case "ZSK":
		*zsk = value == "yes"
	case "Offline":
		k.Offline = value == "yes"
	default:
		// Unknown fields are ignored.
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
