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

package dnssec

import (
	"time"
)

// State is the visibility of a record to validators.
type State int

const (
	// NA means the record does not exist for the key's role.
	NA State = iota
	// Hidden records are not visible to any validator.
	Hidden
	// Rumoured records are visible to some validators.
	Rumoured
	// Omnipresent records are visible to all validators.
	Omnipresent
	// Unretentive records are withdrawn but may still be cached.
	Unretentive
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Rumoured:
		return "rumoured"
	case Omnipresent:
		return "omnipresent"
	case Unretentive:
		return "unretentive"
	default:
		return "n/a"
	}
}

// Record is a record type whose visibility depends on a key.
type Record int

const (
	RecordDNSKEY Record = iota
	RecordZRRSIG
	RecordKRRSIG
	RecordDS
)

func (r Record) String() string {
	switch r {
	case RecordDNSKEY:
		return "dnskey"
	case RecordZRRSIG:
		return "zone rrsig"
	case RecordKRRSIG:
		return "key rrsig"
	case RecordDS:
		return "ds"
	default:
		return "unknown"
	}
}

// Propagation holds the delays after which a change is visible everywhere.
type Propagation struct {
	// DNSKEY is the DNSKEY TTL plus the zone propagation delay.
	DNSKEY time.Duration
	// Signatures is the maximum zone TTL plus the zone propagation delay.
	Signatures time.Duration
	// SignDelay is the time needed to replace all signatures of the zone.
	SignDelay time.Duration
	// DS is the parent DS TTL plus the parent propagation delay.
	DS time.Duration
}

// States are the derived record states of a key at a point in time.
type States struct {
	Goal   State
	DNSKEY State
	ZRRSIG State
	KRRSIG State
	DS     State
}

// Get returns the state of record r.
func (s States) Get(r Record) State {
	switch r {
	case RecordDNSKEY:
		return s.DNSKEY
	case RecordZRRSIG:
		return s.ZRRSIG
	case RecordKRRSIG:
		return s.KRRSIG
	case RecordDS:
		return s.DS
	default:
		return NA
	}
}

// window is the life of a record: introduced at in, withdrawn at out, each
// change taking ttl to propagate. A zero in or out is unset.
type window struct {
	in, out time.Time
	inTTL   time.Duration
	outTTL  time.Duration
}

func (w window) state(now time.Time) State {
	switch {
	case w.in.IsZero() || now.Before(w.in):
		return Hidden
	case now.Before(w.in.Add(w.inTTL)):
		return Rumoured
	case w.out.IsZero() || now.Before(w.out):
		return Omnipresent
	case now.Before(w.out.Add(w.outTTL)):
		return Unretentive
	default:
		return Hidden
	}
}

// omnipresent returns the moment the record becomes omnipresent or zero if
// the introduction is not scheduled.
func (w window) omnipresent() time.Time {
	if w.in.IsZero() {
		return time.Time{}
	}
	return w.in.Add(w.inTTL)
}

// changes lists the moments at which the state changes.
func (w window) changes() []time.Time {
	var r []time.Time
	if !w.in.IsZero() {
		r = append(r, w.in, w.in.Add(w.inTTL))
	}
	if !w.out.IsZero() {
		r = append(r, w.out, w.out.Add(w.outTTL))
	}
	return r
}

func (k *Key) window(r Record, p Propagation) (window, bool) {
	t := k.Timing
	switch r {
	case RecordDNSKEY:
		return window{in: t.Publish, out: t.Delete, inTTL: p.DNSKEY, outTTL: p.DNSKEY}, true
	case RecordKRRSIG:
		if !k.IsKSK() {
			return window{}, false
		}
		return window{in: t.Publish, out: t.Delete, inTTL: p.DNSKEY, outTTL: p.DNSKEY}, true
	case RecordZRRSIG:
		if !k.IsZSK() {
			return window{}, false
		}
		// The first key signs the whole zone at once. A successor replaces
		// signatures gradually during one re-signing cycle.
		in := p.Signatures
		if k.Predecessor != 0 {
			in += p.SignDelay
		}
		return window{
			in: t.Active, out: t.Retire,
			inTTL: in, outTTL: p.SignDelay + p.Signatures,
		}, true
	case RecordDS:
		if !k.IsKSK() {
			return window{}, false
		}
		return window{in: t.DSPublish, out: t.DSRemoved, inTTL: p.DS, outTTL: p.DS}, true
	default:
		return window{}, false
	}
}

// State returns the state of record r at time now.
func (k *Key) State(r Record, p Propagation, now time.Time) State {
	w, ok := k.window(r, p)
	if !ok {
		return NA
	}
	return w.state(now)
}

// States returns all derived record states at time now.
func (k *Key) States(p Propagation, now time.Time) States {
	goal := Omnipresent
	if k.RetiredAt(now) {
		goal = Hidden
	}
	return States{
		Goal:   goal,
		DNSKEY: k.State(RecordDNSKEY, p, now),
		ZRRSIG: k.State(RecordZRRSIG, p, now),
		KRRSIG: k.State(RecordKRRSIG, p, now),
		DS:     k.State(RecordDS, p, now),
	}
}

// OmnipresentAt returns the moment record r becomes omnipresent. It is zero if
// the record does not apply to the key or its introduction is not scheduled.
func (k *Key) OmnipresentAt(r Record, p Propagation) time.Time {
	w, ok := k.window(r, p)
	if !ok {
		return time.Time{}
	}
	return w.omnipresent()
}

// StateChanges returns every moment at which a derived state of the key
// changes, including the goal.
func (k *Key) StateChanges(p Propagation) []time.Time {
	var r []time.Time
	for _, rec := range []Record{RecordDNSKEY, RecordZRRSIG, RecordKRRSIG, RecordDS} {
		if w, ok := k.window(rec, p); ok {
			r = append(r, w.changes()...)
		}
	}
	if !k.Timing.Retire.IsZero() {
		r = append(r, k.Timing.Retire)
	}
	return r
}

// Material is the private part of a newly generated key.
type Material struct {
	// Private is the private key in BIND private-key file format.
	Private string
}
