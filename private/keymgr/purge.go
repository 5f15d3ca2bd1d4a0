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
	"context"
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// KeyMayBePurged reports whether at least after has passed since the key
// reached its terminal state. The terminal time is the delete time, or for
// keys whose DS was published the later of delete and DS removal. A key whose
// terminal time is unset is never purged.
func KeyMayBePurged(key *dnssec.Key, after time.Duration, now time.Time) bool {
	t := key.Timing
	terminal := t.Delete
	if terminal.IsZero() {
		return false
	}
	if !t.DSPublish.IsZero() {
		if t.DSRemoved.IsZero() {
			return false
		}
		terminal = maxTime(terminal, t.DSRemoved)
	}
	return !now.Before(terminal.Add(after))
}

// Purge removes the keys of zone that may be purged from the store. It
// returns the number of removed keys. Keys are removed one by one, on error
// the keys removed so far stay removed.
func (m *Manager) Purge(ctx context.Context, zone *Zone, after time.Duration,
	now time.Time) (int, error) {

	if after <= 0 {
		return 0, nil
	}
	removed := 0
	keep := zone.Keys[:0:0]
	var errs serrors.List
	for _, k := range zone.Keys {
		if !KeyMayBePurged(k, after, now) {
			keep = append(keep, k)
			continue
		}
		if err := m.Store.Remove(ctx, zone.Name, k.ID()); err != nil {
			errs = append(errs, serrors.Wrap("removing key", err, "key", k.ID()))
			keep = append(keep, k)
			continue
		}
		removed++
		log.ForZone(ctx, zone.Name).Info("Purged key", "key", k.ID())
	}
	zone.Keys = keep
	return removed, errs.ToError()
}
