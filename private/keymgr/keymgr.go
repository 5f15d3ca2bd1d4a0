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

// Package keymgr implements the DNSSEC key lifecycle engine. Given a policy,
// the keys of a zone and the current time, it decides which keys must be
// created, advances key timers and maintains the state of the
// denial-of-existence chain.
//
// The package does not lock. The caller must serialize all calls that concern
// the same zone.
package keymgr

import (
	"context"
	"time"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

var (
	// ErrNoKeyMatch indicates that no key matches the selection.
	ErrNoKeyMatch = serrors.New("no matching key")
	// ErrTooManyKeys indicates that more than one key matches the selection.
	ErrTooManyKeys = serrors.New("multiple matching keys")
	// ErrKeyNotActive indicates that the selected key is not active.
	ErrKeyNotActive = serrors.New("key not active")
	// ErrNoSpace indicates that the output buffer is too small.
	ErrNoSpace = serrors.New("not enough space in output buffer")
)

// Generator creates key material.
type Generator interface {
	// Generate creates a new key for zone as described by cfg. The returned
	// key has its identity, role and size set. Timers are set by the caller.
	Generate(ctx context.Context, zone string, cfg kasp.KeyConfig,
		now time.Time) (*dnssec.Key, *dnssec.Material, error)
}

// Batch is a set of changes that is persisted atomically.
type Batch struct {
	// Keys are the created or modified keys.
	Keys []*dnssec.Key
	// Material holds the private material of created keys.
	Material map[dnssec.ID]*dnssec.Material
	// Chain is the new chain state. Nil means unchanged.
	Chain *dnssec.ChainState
}

// Empty reports whether the batch contains no changes.
func (b Batch) Empty() bool {
	return len(b.Keys) == 0 && b.Chain == nil
}

// Store is the durable state of the zones.
type Store interface {
	// Keys returns all keys of the zone.
	Keys(ctx context.Context, zone string) (dnssec.KeyRing, error)
	// ChainState returns the chain state of the zone. A zone without stored
	// state has the zero state.
	ChainState(ctx context.Context, zone string) (dnssec.ChainState, error)
	// Commit persists the batch. Either all changes are persisted or none.
	Commit(ctx context.Context, zone string, b Batch) error
	// Remove deletes the key and its material.
	Remove(ctx context.Context, zone string, id dnssec.ID) error
}

// Zone is the key state of one zone. The engine replaces Keys and Chain only
// after the corresponding changes have been committed to the store.
type Zone struct {
	Name  string
	Keys  dnssec.KeyRing
	Chain dnssec.ChainState
}

// Manager runs the key lifecycle operations against a store.
type Manager struct {
	Store     Store
	Generator Generator
	Metrics   Metrics
}

// Load reads the state of zone from the store.
func (m *Manager) Load(ctx context.Context, zone string) (*Zone, error) {
	keys, err := m.Store.Keys(ctx, zone)
	if err != nil {
		return nil, serrors.Wrap("loading keys", err, "zone", zone)
	}
	chain, err := m.Store.ChainState(ctx, zone)
	if err != nil {
		return nil, serrors.Wrap("loading chain state", err, "zone", zone)
	}
	return &Zone{Name: zone, Keys: keys, Chain: chain}, nil
}

// commitKeys persists modified keys in one batch and swaps them into the
// ring.
func (m *Manager) commitKeys(ctx context.Context, zone *Zone, keys ...*dnssec.Key) error {
	if err := m.Store.Commit(ctx, zone.Name, Batch{Keys: keys}); err != nil {
		return serrors.Wrap("committing keys", err, "zone", zone.Name, "keys", len(keys))
	}
	for _, k := range keys {
		for i, old := range zone.Keys {
			if old.ID() == k.ID() {
				zone.Keys[i] = k
			}
		}
	}
	return nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// normalize drops the sub-second part of now. Timers are stored with second
// precision and comparisons against them must use the same precision.
func normalize(now time.Time) time.Time {
	return now.UTC().Truncate(time.Second)
}
