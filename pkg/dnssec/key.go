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

// Package dnssec contains the data model of the key manager: signing keys with
// their lifecycle timers, the record states derived from these timers, and
// the per-zone state of the denial-of-existence chain.
package dnssec

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// Role is the set of duties of a key. A combined signing key has both roles.
type Role uint8

const (
	// RoleKSK signs the DNSKEY RRset and is referenced by the DS in the parent.
	RoleKSK Role = 1 << iota
	// RoleZSK signs all other zone data.
	RoleZSK
	// RoleCSK combines both duties.
	RoleCSK = RoleKSK | RoleZSK
)

// Has reports whether r includes all duties of other.
func (r Role) Has(other Role) bool {
	return other != 0 && r&other == other
}

func (r Role) String() string {
	switch r {
	case RoleKSK:
		return "KSK"
	case RoleZSK:
		return "ZSK"
	case RoleCSK:
		return "CSK"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// ParseRole parses "ksk", "zsk" or "csk" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(s) {
	case "KSK":
		return RoleKSK, nil
	case "ZSK":
		return RoleZSK, nil
	case "CSK":
		return RoleCSK, nil
	default:
		return 0, serrors.New("unknown key role", "role", s)
	}
}

// Slot identifies one lifecycle timer of a key.
type Slot int

// The lifecycle timers. Slots from SlotCreated to SlotDelete form the main
// chain and are non-decreasing when set. The CDS and DS slots are independent.
const (
	SlotCreated Slot = iota
	SlotPublish
	SlotActive
	SlotRetire
	SlotDelete
	SlotSyncPublish
	SlotSyncDelete
	SlotDSPublish
	SlotDSRemoved
	numSlots
)

// Slots lists all slots in persistence order.
var Slots = []Slot{
	SlotCreated, SlotPublish, SlotActive, SlotRetire, SlotDelete,
	SlotSyncPublish, SlotSyncDelete, SlotDSPublish, SlotDSRemoved,
}

var slotNames = [numSlots]string{
	"Generated", "Published", "Active", "Retired", "Removed",
	"PublishCDS", "DeleteCDS", "DSPublish", "DSRemoved",
}

// String returns the name the slot has in key state files.
func (s Slot) String() string {
	if s < 0 || s >= numSlots {
		return fmt.Sprintf("Slot(%d)", int(s))
	}
	return slotNames[s]
}

// ParseSlot is the inverse of Slot.String.
func ParseSlot(name string) (Slot, bool) {
	for i, n := range slotNames {
		if n == name {
			return Slot(i), true
		}
	}
	return 0, false
}

// Timing holds the lifecycle timers of a key. A zero time means the timer is
// unset, i.e. the event is not scheduled.
type Timing struct {
	Created     time.Time
	Publish     time.Time
	Active      time.Time
	Retire      time.Time
	Delete      time.Time
	SyncPublish time.Time
	SyncDelete  time.Time
	DSPublish   time.Time
	DSRemoved   time.Time
}

func (t *Timing) slot(s Slot) *time.Time {
	switch s {
	case SlotCreated:
		return &t.Created
	case SlotPublish:
		return &t.Publish
	case SlotActive:
		return &t.Active
	case SlotRetire:
		return &t.Retire
	case SlotDelete:
		return &t.Delete
	case SlotSyncPublish:
		return &t.SyncPublish
	case SlotSyncDelete:
		return &t.SyncDelete
	case SlotDSPublish:
		return &t.DSPublish
	case SlotDSRemoved:
		return &t.DSRemoved
	default:
		panic(fmt.Sprintf("unknown slot %d", int(s)))
	}
}

// Get returns the value of slot s.
func (t Timing) Get(s Slot) time.Time {
	return *t.slot(s)
}

// Set sets slot s to v. Sub-second precision is dropped because state files
// store whole seconds.
func (t *Timing) Set(s Slot, v time.Time) {
	if v.IsZero() {
		*t.slot(s) = time.Time{}
		return
	}
	*t.slot(s) = v.UTC().Truncate(time.Second)
}

// Next returns the earliest timer after now, or the zero time if no timer is
// scheduled after now.
func (t Timing) Next(now time.Time) time.Time {
	var next time.Time
	for _, s := range Slots {
		v := t.Get(s)
		if !v.After(now) {
			continue
		}
		if next.IsZero() || v.Before(next) {
			next = v
		}
	}
	return next
}

// ID identifies a key within a zone.
type ID struct {
	Tag       uint16
	Algorithm Algorithm
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%s", id.Tag, id.Algorithm)
}

// Key is a DNSSEC signing key together with its lifecycle metadata.
type Key struct {
	Zone      string
	Tag       uint16
	Algorithm Algorithm
	Role      Role
	Bits      int
	// Lifetime is the intended active period. Zero means unlimited.
	Lifetime time.Duration
	// Predecessor and Successor are the tags of the keys this key replaces
	// and is replaced by. Zero means none.
	Predecessor uint16
	Successor   uint16
	// Offline marks a KSK whose signatures are produced out of band.
	Offline bool
	Timing  Timing
	// Public is the DNSKEY record of the key. It is nil for keys loaded
	// without key material.
	Public *dns.DNSKEY
}

// ID returns the identity of the key.
func (k *Key) ID() ID {
	return ID{Tag: k.Tag, Algorithm: k.Algorithm}
}

// IsKSK reports whether the key has the key-signing duty.
func (k *Key) IsKSK() bool {
	return k.Role.Has(RoleKSK)
}

// IsZSK reports whether the key has the zone-signing duty.
func (k *Key) IsZSK() bool {
	return k.Role.Has(RoleZSK)
}

// Clone returns a deep copy of the key.
func (k *Key) Clone() *Key {
	c := *k
	if k.Public != nil {
		c.Public = dns.Copy(k.Public).(*dns.DNSKEY)
	}
	return &c
}

// ActiveAt reports whether the key signs at time now, i.e. it is activated and
// not yet retired.
func (k *Key) ActiveAt(now time.Time) bool {
	t := k.Timing
	if t.Active.IsZero() || now.Before(t.Active) {
		return false
	}
	return t.Retire.IsZero() || now.Before(t.Retire)
}

// RetiredAt reports whether the key's retire time has been reached.
func (k *Key) RetiredAt(now time.Time) bool {
	return !k.Timing.Retire.IsZero() && !now.Before(k.Timing.Retire)
}

// Validate checks the ordering of the main timer chain.
func (k *Key) Validate() error {
	if k.Role == 0 {
		return serrors.New("key without role", "key", k.ID())
	}
	chain := []Slot{SlotCreated, SlotPublish, SlotActive, SlotRetire, SlotDelete}
	var prev time.Time
	var prevSlot Slot
	for _, s := range chain {
		v := k.Timing.Get(s)
		if v.IsZero() {
			continue
		}
		if !prev.IsZero() && v.Before(prev) {
			return serrors.New("key timers out of order", "key", k.ID(),
				"earlier", prevSlot, "later", s)
		}
		prev, prevSlot = v, s
	}
	return nil
}

func (k *Key) String() string {
	return fmt.Sprintf("%s %d (%s) %s", strings.TrimSuffix(k.Zone, "."), k.Tag, k.Algorithm,
		k.Role)
}

// FileBase returns the BIND-compatible base file name of the key,
// K<zone>+<alg>+<tag>.
func (k *Key) FileBase() string {
	return fmt.Sprintf("K%s+%03d+%05d", dns.Fqdn(strings.ToLower(k.Zone)),
		uint8(k.Algorithm), k.Tag)
}

// KeyRing is the ordered set of keys of one zone. Several keys may share a
// role and algorithm. Identity is (tag, algorithm).
type KeyRing []*Key

// Clone returns a deep copy of the ring.
func (r KeyRing) Clone() KeyRing {
	c := make(KeyRing, 0, len(r))
	for _, k := range r {
		c = append(c, k.Clone())
	}
	return c
}

// Find returns the key with the given identity or nil.
func (r KeyRing) Find(id ID) *Key {
	for _, k := range r {
		if k.ID() == id {
			return k
		}
	}
	return nil
}

// Filter returns the keys for which keep returns true.
func (r KeyRing) Filter(keep func(*Key) bool) KeyRing {
	var out KeyRing
	for _, k := range r {
		if keep(k) {
			out = append(out, k)
		}
	}
	return out
}
