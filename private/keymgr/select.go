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
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// Outcome classifies a selection.
type Outcome int

const (
	// NotFound means no key matched.
	NotFound Outcome = iota
	// Found means exactly one key matched.
	Found
	// Ambiguous means more than one key matched.
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not found"
	}
}

// Selection is the result of narrowing a set of keys down to one.
type Selection struct {
	Outcome Outcome
	// Key is the selected key if the outcome is Found.
	Key *dnssec.Key
	// Candidates are all matching keys.
	Candidates dnssec.KeyRing
}

// Err maps the outcome to an error. notFound is returned if nothing matched.
func (s Selection) Err(notFound error) error {
	switch s.Outcome {
	case Found:
		return nil
	case Ambiguous:
		ids := make([]string, 0, len(s.Candidates))
		for _, k := range s.Candidates {
			ids = append(ids, k.ID().String())
		}
		return serrors.Wrap("selecting key", ErrTooManyKeys, "candidates", ids)
	default:
		return notFound
	}
}

// Selector narrows keys by identity. Zero fields match any key.
type Selector struct {
	Tag       uint16
	Algorithm dnssec.Algorithm
}

// Matches reports whether k matches the selector.
func (s Selector) Matches(k *dnssec.Key) bool {
	if s.Tag != 0 && k.Tag != s.Tag {
		return false
	}
	return s.Algorithm == 0 || k.Algorithm == s.Algorithm
}

// Select selects from candidates.
func (s Selector) Select(candidates dnssec.KeyRing) Selection {
	matching := candidates.Filter(s.Matches)
	switch len(matching) {
	case 0:
		return Selection{Outcome: NotFound}
	case 1:
		return Selection{Outcome: Found, Key: matching[0], Candidates: matching}
	default:
		return Selection{Outcome: Ambiguous, Candidates: matching}
	}
}

// CheckDS records that the parent published (or removed, if publish is not
// set) the DS of a KSK at time now. If when is set, keys whose CDS timer lies
// after when are not considered.
func (m *Manager) CheckDS(ctx context.Context, zone *Zone, now, when time.Time,
	publish bool, sel Selector) (*dnssec.Key, error) {

	cds, ds := dnssec.SlotSyncPublish, dnssec.SlotDSPublish
	if !publish {
		cds, ds = dnssec.SlotSyncDelete, dnssec.SlotDSRemoved
	}
	candidates := zone.Keys.Filter(func(k *dnssec.Key) bool {
		if !k.IsKSK() {
			return false
		}
		if when.IsZero() {
			return true
		}
		t := k.Timing.Get(cds)
		return t.IsZero() || !t.After(when)
	})
	s := sel.Select(candidates)
	if err := s.Err(ErrNoKeyMatch); err != nil {
		return nil, err
	}
	k := s.Key.Clone()
	k.Timing.Set(ds, normalize(now))
	if err := m.commitKeys(ctx, zone, k); err != nil {
		return nil, err
	}
	log.ForZone(ctx, zone.Name).Info("DS change recorded", "key", k.ID(), "timer", ds,
		"time", k.Timing.Get(ds))
	return k, nil
}

// Rollover schedules the retirement of an active key. If when is not after
// now, the key is retired as early as the policy allows. Otherwise it is
// retired at when, which may be before or after the retirement the lifetime
// of the key implies. Without a successor, the retirement is never earlier
// than the prepublication interval permits. With a successor that is not yet
// active, the successor is activated at the retirement of the key, which is
// delayed until the successor may sign.
func (m *Manager) Rollover(ctx context.Context, zone *Zone, policy *kasp.Policy,
	now, when time.Time, sel Selector) (*dnssec.Key, error) {

	now = normalize(now)
	matching := zone.Keys.Filter(sel.Matches)
	if len(matching) == 0 {
		return nil, ErrNoKeyMatch
	}
	active := matching.Filter(func(k *dnssec.Key) bool { return k.ActiveAt(now) })
	s := Selector{}.Select(active)
	if err := s.Err(ErrKeyNotActive); err != nil {
		return nil, err
	}

	k := s.Key.Clone()
	earliest := now.Add(policy.Prepublication(k.Role))
	var retire time.Time
	switch {
	case !when.After(now):
		retire = earliest
		if prev := k.Timing.Retire; !prev.IsZero() {
			retire = minTime(prev, retire)
		}
		retire = maxTime(retire, k.Timing.Active)
	case successor(k, zone.Keys) != nil:
		retire = when
	default:
		retire = maxTime(when, earliest)
	}
	changed := []*dnssec.Key{k}
	if next := successor(k, zone.Keys); next != nil && next.Timing.Active.After(retire) {
		// The successor takes over the duty the moment k retires, but never
		// before its DNSKEY is known to validators.
		succ := next.Clone()
		retire = maxTime(retire, succ.Timing.Publish.Add(policy.Ipub()))
		succ.Timing.Set(dnssec.SlotActive, retire)
		if !succ.Timing.Retire.IsZero() && succ.Lifetime > 0 {
			succ.Timing.Set(dnssec.SlotRetire, retire.Add(succ.Lifetime))
		}
		changed = append(changed, succ)
	}
	k.Timing.Set(dnssec.SlotRetire, retire)
	k.Lifetime = k.Timing.Retire.Sub(k.Timing.Active)
	if err := m.commitKeys(ctx, zone, changed...); err != nil {
		return nil, err
	}
	log.ForZone(ctx, zone.Name).Info("Rollover scheduled", "key", k.ID(),
		"retire", k.Timing.Retire, "successor_active", len(changed) > 1)
	return k, nil
}
