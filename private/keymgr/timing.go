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
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
)

// SetTimeSyncPublish sets the time at which the DS of key may be submitted to
// the parent: once the DNSKEY is published everywhere. If first is set the
// zone has no previous trust chain and the zone signatures must be
// omnipresent as well. Keys without publish time or without the KSK duty are
// left unchanged.
func SetTimeSyncPublish(key *dnssec.Key, policy *kasp.Policy, first bool) {
	if key.Timing.Publish.IsZero() || !key.IsKSK() {
		return
	}
	t := key.Timing.Publish.Add(policy.DNSKEYTTL + policy.ZonePropagationDelay +
		policy.PublishSafety)
	if first && !key.Timing.Active.IsZero() {
		t = maxTime(t, key.Timing.Active.Add(policy.ZoneMaxTTL+policy.ZonePropagationDelay))
	}
	key.Timing.Set(dnssec.SlotSyncPublish, t)
}

// deleteTime computes the time the DNSKEY of a retired key can be removed. It
// returns false if the time cannot be determined yet because an external DS
// change has not been observed.
func deleteTime(k *dnssec.Key, ring dnssec.KeyRing, policy *kasp.Policy) (time.Time, bool) {
	t := k.Timing
	if t.Retire.IsZero() {
		return time.Time{}, false
	}
	iret := policy.Iret(k.Role)
	if !k.IsKSK() {
		return t.Retire.Add(iret), true
	}
	if succ := successor(k, ring); succ != nil {
		// The old DNSKEY stays until the DS of the successor is known to
		// validators.
		if succ.Timing.DSPublish.IsZero() {
			return time.Time{}, false
		}
		return maxTime(t.Retire, succ.Timing.DSPublish).Add(iret), true
	}
	if t.DSPublish.IsZero() {
		return t.Retire.Add(iret), true
	}
	if t.DSRemoved.IsZero() {
		return time.Time{}, false
	}
	return maxTime(t.Retire, t.DSRemoved).Add(iret), true
}

func successor(k *dnssec.Key, ring dnssec.KeyRing) *dnssec.Key {
	if k.Successor == 0 {
		return nil
	}
	return ring.Find(dnssec.ID{Tag: k.Successor, Algorithm: k.Algorithm})
}
