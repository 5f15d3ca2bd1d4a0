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

package keymgr

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// StatusTimeLayout is the time format of the status report.
const StatusTimeLayout = "Mon Jan 02 15:04:05 2006"

// Status renders a report of the keys in ring into out and returns the number
// of bytes written. If out is too small, nothing is written and ErrNoSpace is
// returned.
func Status(policy *kasp.Policy, ring dnssec.KeyRing, now time.Time, out []byte) (int, error) {
	var buf bytes.Buffer
	writeStatus(&buf, policy, ring, now)
	if buf.Len() > len(out) {
		return 0, serrors.Wrap("rendering status", ErrNoSpace, "need", buf.Len(),
			"have", len(out))
	}
	return copy(out, buf.Bytes()), nil
}

// Buffer sizes of StatusReport.
const (
	statusBufSize    = 4096
	maxStatusBufSize = 1 << 20
)

// StatusReport renders the status report like Status, growing the output
// buffer as needed. Reports larger than 1 MiB fail with ErrNoSpace.
func StatusReport(policy *kasp.Policy, ring dnssec.KeyRing, now time.Time) ([]byte, error) {
	for size := statusBufSize; size <= maxStatusBufSize; size *= 2 {
		buf := make([]byte, size)
		n, err := Status(policy, ring, now, buf)
		if errors.Is(err, ErrNoSpace) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
	return nil, serrors.Wrap("rendering status", ErrNoSpace, "keys", len(ring))
}

func writeStatus(w *bytes.Buffer, policy *kasp.Policy, ring dnssec.KeyRing, now time.Time) {
	prop := policy.Propagation()
	fmt.Fprintf(w, "dnssec-policy: %s\n", policy.Name)
	fmt.Fprintf(w, "current time:  %s\n", fmtTime(now))
	for _, k := range ring {
		t := k.Timing
		fmt.Fprintf(w, "\nkey: %d (%s), %s\n", k.Tag, k.Algorithm, k.Role)
		fmt.Fprintf(w, "  published:      %s\n", period(t.Publish, t.Delete, now))
		if k.IsKSK() {
			fmt.Fprintf(w, "  key signing:    %s\n", period(t.Active, t.Retire, now))
		}
		if k.IsZSK() {
			fmt.Fprintf(w, "  zone signing:   %s\n", period(t.Active, t.Retire, now))
		}
		w.WriteString("\n")
		writeRollover(w, k, now)
		s := k.States(prop, now)
		fmt.Fprintf(w, "  - goal:           %s\n", s.Goal)
		fmt.Fprintf(w, "  - dnskey:         %s\n", s.DNSKEY)
		if k.IsKSK() {
			fmt.Fprintf(w, "  - ds:             %s\n", s.DS)
		}
		if k.IsZSK() {
			fmt.Fprintf(w, "  - zone rrsig:     %s\n", s.ZRRSIG)
		}
		if k.IsKSK() {
			fmt.Fprintf(w, "  - key rrsig:      %s\n", s.KRRSIG)
		}
	}
}

func writeRollover(w *bytes.Buffer, k *dnssec.Key, now time.Time) {
	t := k.Timing
	switch {
	case !t.Delete.IsZero() && !now.Before(t.Delete):
		fmt.Fprintf(w, "  Key has been removed from the zone since %s\n", fmtTime(t.Delete))
	case !t.Delete.IsZero():
		fmt.Fprintf(w, "  Key is retired, will be removed on %s\n", fmtTime(t.Delete))
	case k.RetiredAt(now):
		fmt.Fprintf(w, "  Key is retired, removal not yet scheduled\n")
	case !t.Retire.IsZero():
		fmt.Fprintf(w, "  Next rollover scheduled on %s\n", fmtTime(t.Retire))
	default:
		w.WriteString("  No rollover scheduled\n")
	}
}

// period describes an interval that starts at from and ends at to.
func period(from, to, now time.Time) string {
	switch {
	case from.IsZero():
		return "no"
	case now.Before(from):
		return "no - scheduled " + fmtTime(from)
	case !to.IsZero() && !now.Before(to):
		return "no - since " + fmtTime(to)
	default:
		return "yes - since " + fmtTime(from)
	}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(StatusTimeLayout)
}
