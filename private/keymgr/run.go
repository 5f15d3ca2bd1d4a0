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
	"github.com/scionproto/keymgr/pkg/metrics"
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// maxGenerateAttempts bounds the retries on keytag collisions.
const maxGenerateAttempts = 10

// Hint tells the signer what to do with a key.
type Hint struct {
	Key *dnssec.Key
	// Publish means the DNSKEY belongs in the zone.
	Publish bool
	// Sign means the key produces signatures.
	Sign bool
	// Remove means the DNSKEY must be removed from the zone.
	Remove bool
}

// Result is the outcome of a lifecycle pass.
type Result struct {
	// NextTime is the earliest time at which another pass is needed. It is
	// zero if nothing is scheduled.
	NextTime time.Time
	// Created are the keys generated in this pass.
	Created []*dnssec.Key
	// Changed are the keys whose timers changed in this pass, including the
	// created ones.
	Changed []*dnssec.Key
	// Hints has one entry for every managed key of the zone.
	Hints []Hint
	// ChainChanged is set if the chain state was modified.
	ChainChanged bool
}

// Run executes a full lifecycle pass over the keys of zone. It generates the
// keys the policy requires, advances key timers and updates the chain state.
// All changes are committed to the store as one batch. If anything fails,
// neither the zone nor the store is modified.
func (m *Manager) Run(ctx context.Context, zone *Zone, policy *kasp.Policy,
	now time.Time) (Result, error) {

	return m.run(ctx, zone, policy, now, false)
}

// Offline executes a lifecycle pass for zones whose KSKs are managed out of
// band. KSKs are skipped entirely and no keys are generated.
func (m *Manager) Offline(ctx context.Context, zone *Zone, policy *kasp.Policy,
	now time.Time) (Result, error) {

	return m.run(ctx, zone, policy, now, true)
}

func (m *Manager) run(ctx context.Context, zone *Zone, policy *kasp.Policy,
	now time.Time, offline bool) (Result, error) {

	mode := "online"
	if offline {
		mode = "offline"
	}
	start := time.Now()
	defer func() {
		metrics.ObserveSince(metrics.HistogramWith(m.Metrics.PassDuration, "mode", mode), start)
	}()
	logger := log.ForZone(ctx, zone.Name).New("policy", policy.Name)
	p := &pass{
		zone:     zone.Name,
		policy:   policy,
		prop:     policy.Propagation(),
		now:      normalize(now),
		offline:  offline,
		keys:     zone.Keys.Clone(),
		chain:    zone.Chain,
		changed:  make(map[dnssec.ID]bool),
		material: make(map[dnssec.ID]*dnssec.Material),
		logger:   logger,
	}
	res, err := m.execute(ctx, p, zone)
	if err != nil {
		logger.Error("Key lifecycle pass failed", "err", err)
		metrics.CounterInc(metrics.CounterWith(m.Metrics.Runs,
			"zone", zone.Name, "mode", mode, "result", resultErr))
		return Result{}, err
	}
	metrics.CounterInc(metrics.CounterWith(m.Metrics.Runs,
		"zone", zone.Name, "mode", mode, "result", resultOk))
	for _, k := range res.Created {
		metrics.CounterInc(metrics.CounterWith(m.Metrics.KeysCreated,
			"zone", zone.Name, "role", k.Role.String()))
	}
	for _, s := range p.slots {
		metrics.CounterInc(metrics.CounterWith(m.Metrics.TimerChanges,
			"zone", zone.Name, "timer", s.String()))
	}
	if !res.NextTime.IsZero() {
		metrics.GaugeSetTimestamp(metrics.GaugeWith(m.Metrics.NextTime, "zone", zone.Name),
			res.NextTime.UnixNano())
	}
	return res, nil
}

func (m *Manager) execute(ctx context.Context, p *pass, zone *Zone) (Result, error) {
	for _, k := range p.keys {
		if err := k.Validate(); err != nil {
			return Result{}, serrors.Wrap("invalid key in ring", err, "zone", zone.Name)
		}
	}
	p.advanceAll()
	p.retireUnused()
	if !p.offline {
		if err := p.ensureCoverage(ctx, m.Generator); err != nil {
			return Result{}, err
		}
		// Timers of created keys and of predecessors that were adjusted for
		// their successors.
		p.advanceAll()
	}
	p.updateChain()
	if err := p.chain.Validate(); err != nil {
		return Result{}, serrors.Wrap("invalid chain state", err, "zone", zone.Name)
	}

	batch := p.batch(zone.Chain)
	if !batch.Empty() {
		if err := m.Store.Commit(ctx, zone.Name, batch); err != nil {
			return Result{}, serrors.Wrap("committing key state", err, "zone", zone.Name)
		}
	}
	zone.Keys = p.keys
	zone.Chain = p.chain

	res := Result{
		NextTime:     p.nextTime(),
		Created:      p.created,
		Changed:      batch.Keys,
		Hints:        p.hints(),
		ChainChanged: batch.Chain != nil,
	}
	if len(batch.Keys) > 0 || res.ChainChanged {
		p.logger.Info("Key state updated", "changed", len(batch.Keys),
			"created", len(p.created), "chain_changed", res.ChainChanged,
			"next", res.NextTime)
	}
	return res, nil
}

// pass holds the working state of one lifecycle pass. It operates on a copy
// of the key ring.
type pass struct {
	zone    string
	policy  *kasp.Policy
	prop    dnssec.Propagation
	now     time.Time
	offline bool

	keys     dnssec.KeyRing
	chain    dnssec.ChainState
	changed  map[dnssec.ID]bool
	created  []*dnssec.Key
	material map[dnssec.ID]*dnssec.Material
	slots    []dnssec.Slot
	// wake collects times that are not timers but still require a pass.
	wake []time.Time

	logger log.Logger
}

// managed reports whether the pass may modify k.
func (p *pass) managed(k *dnssec.Key) bool {
	return !p.offline || !k.IsKSK()
}

func (p *pass) set(k *dnssec.Key, s dnssec.Slot, v time.Time) {
	if !v.IsZero() {
		v = normalize(v)
	}
	if k.Timing.Get(s).Equal(v) {
		return
	}
	k.Timing.Set(s, v)
	p.touch(k)
	p.slots = append(p.slots, s)
	p.logger.Debug("Key timer set", "key", k.ID(), "role", k.Role, "timer", s, "time", v)
}

func (p *pass) touch(k *dnssec.Key) {
	p.changed[k.ID()] = true
}

func (p *pass) setLifetime(k *dnssec.Key, d time.Duration) {
	if k.Lifetime != d {
		k.Lifetime = d
		p.touch(k)
	}
}

// advanceAll sets the timers that follow from timers already set.
func (p *pass) advanceAll() {
	for _, k := range p.keys {
		if p.managed(k) {
			p.advance(k)
		}
	}
}

func (p *pass) advance(k *dnssec.Key) {
	t := &k.Timing
	if cfg, ok := p.policy.KeyConfigFor(k); ok && t.Retire.IsZero() {
		// Lifetime changes of the policy apply to keys that are not yet
		// scheduled for retirement.
		p.setLifetime(k, cfg.Lifetime)
	}
	if !t.Active.IsZero() && t.Retire.IsZero() && k.Lifetime > 0 {
		p.set(k, dnssec.SlotRetire, t.Active.Add(k.Lifetime))
	}
	if k.IsKSK() && t.SyncPublish.IsZero() && !t.Publish.IsZero() {
		old := t.SyncPublish
		SetTimeSyncPublish(k, p.policy, k.Predecessor == 0)
		if !old.Equal(t.SyncPublish) {
			p.touch(k)
			p.slots = append(p.slots, dnssec.SlotSyncPublish)
		}
	}
	if !k.RetiredAt(p.now) {
		return
	}
	if k.IsKSK() && t.SyncDelete.IsZero() {
		p.set(k, dnssec.SlotSyncDelete, t.Retire)
	}
	if t.Delete.IsZero() {
		if del, ok := deleteTime(k, p.keys, p.policy); ok {
			p.set(k, dnssec.SlotDelete, del)
		}
	}
}

// retireUnused retires keys that the policy no longer asks for once keys of
// the policy have taken over their duties.
func (p *pass) retireUnused() {
	for _, k := range p.keys {
		if !p.managed(k) {
			continue
		}
		if _, ok := p.policy.KeyConfigFor(k); ok {
			continue
		}
		if k.RetiredAt(p.now) || k.Timing.Publish.IsZero() {
			continue
		}
		if !p.replaced(k) {
			continue
		}
		retire := p.now
		if !k.Timing.Active.IsZero() {
			retire = maxTime(retire, k.Timing.Active)
		}
		p.logger.Info("Retiring key not covered by policy", "key", k.ID(), "role", k.Role)
		p.set(k, dnssec.SlotRetire, retire)
		if !k.Timing.Active.IsZero() {
			p.setLifetime(k, retire.Sub(k.Timing.Active))
		}
		p.advance(k)
	}
}

// replaced reports whether every duty of k is covered by an omnipresent key of
// the policy. If the policy has no keys, the zone goes insecure and keys are
// retired once the parent no longer has a DS for any of them.
func (p *pass) replaced(k *dnssec.Key) bool {
	if len(p.policy.Keys) == 0 {
		return p.dsGone()
	}
	for _, duty := range []dnssec.Role{dnssec.RoleKSK, dnssec.RoleZSK} {
		if !k.Role.Has(duty) {
			continue
		}
		if !p.covered(duty) {
			return false
		}
	}
	return true
}

// covered reports whether a key of the policy performs duty and all records
// for that duty are omnipresent.
func (p *pass) covered(duty dnssec.Role) bool {
	for _, k := range p.keys {
		if _, ok := p.policy.KeyConfigFor(k); !ok || !k.Role.Has(duty) {
			continue
		}
		if !k.ActiveAt(p.now) {
			continue
		}
		s := k.States(p.prop, p.now)
		if s.DNSKEY != dnssec.Omnipresent {
			continue
		}
		if duty == dnssec.RoleZSK && s.ZRRSIG != dnssec.Omnipresent {
			continue
		}
		if duty == dnssec.RoleKSK && s.DS != dnssec.Omnipresent && !p.offline {
			continue
		}
		return true
	}
	return false
}

// dsGone reports whether no key has a DS that validators may still see.
func (p *pass) dsGone() bool {
	for _, k := range p.keys {
		switch k.State(dnssec.RecordDS, p.prop, p.now) {
		case dnssec.Hidden, dnssec.NA:
		default:
			return false
		}
	}
	return true
}

// ensureCoverage generates first keys and successors as required by the
// policy.
func (p *pass) ensureCoverage(ctx context.Context, gen Generator) error {
	for _, cfg := range p.policy.Keys {
		if p.policy.OfflineKSK && cfg.Role.Has(dnssec.RoleKSK) {
			continue
		}
		current, usable := p.current(cfg)
		if !usable {
			if err := p.generateFirst(ctx, gen, cfg); err != nil {
				return err
			}
			continue
		}
		if current == nil {
			continue
		}
		due, ok := p.successorDue(current)
		if !ok || p.now.Before(due) {
			continue
		}
		if err := p.generateSuccessor(ctx, gen, cfg, current); err != nil {
			return err
		}
	}
	return nil
}

// successorDue returns the time at which a successor for k must be created.
// ok is false if k is not rolled by this pass or already has a successor.
func (p *pass) successorDue(k *dnssec.Key) (time.Time, bool) {
	if p.offline || k.Timing.Retire.IsZero() || k.RetiredAt(p.now) {
		return time.Time{}, false
	}
	cfg, ok := p.policy.KeyConfigFor(k)
	if !ok || (p.policy.OfflineKSK && cfg.Role.Has(dnssec.RoleKSK)) {
		return time.Time{}, false
	}
	if successor(k, p.keys) != nil {
		return time.Time{}, false
	}
	return k.Timing.Retire.Add(-p.policy.Prepublication(cfg.Role)), true
}

// current returns the most recently activated key for cfg that is active now.
// usable is false if no key for cfg is active or scheduled to become active.
func (p *pass) current(cfg kasp.KeyConfig) (current *dnssec.Key, usable bool) {
	for _, k := range p.keys {
		if !cfg.Matches(k) || k.RetiredAt(p.now) || k.Timing.Active.IsZero() {
			continue
		}
		usable = true
		if !k.ActiveAt(p.now) {
			continue
		}
		if current == nil || k.Timing.Active.After(current.Timing.Active) {
			current = k
		}
	}
	return current, usable
}

func (p *pass) generateFirst(ctx context.Context, gen Generator, cfg kasp.KeyConfig) error {
	first := len(p.keys.Filter((*dnssec.Key).IsKSK)) == 0
	k, err := p.generate(ctx, gen, cfg)
	if err != nil {
		return err
	}
	p.set(k, dnssec.SlotCreated, p.now)
	p.set(k, dnssec.SlotPublish, p.now)
	p.set(k, dnssec.SlotActive, p.now)
	SetTimeSyncPublish(k, p.policy, first)
	p.logger.Info("Created key", "key", k.ID(), "role", k.Role, "bits", k.Bits)
	return nil
}

func (p *pass) generateSuccessor(ctx context.Context, gen Generator, cfg kasp.KeyConfig,
	pred *dnssec.Key) error {

	k, err := p.generate(ctx, gen, cfg)
	if err != nil {
		return err
	}
	active := maxTime(pred.Timing.Retire, p.now.Add(p.policy.Ipub()))
	p.set(k, dnssec.SlotCreated, p.now)
	p.set(k, dnssec.SlotPublish, p.now)
	p.set(k, dnssec.SlotActive, active)
	if pred.Timing.Retire.Before(k.Timing.Active) {
		// Keep the duty covered until the successor signs.
		p.set(pred, dnssec.SlotRetire, k.Timing.Active)
		p.setLifetime(pred, pred.Timing.Retire.Sub(pred.Timing.Active))
	}
	k.Predecessor = pred.Tag
	pred.Successor = k.Tag
	p.touch(pred)
	SetTimeSyncPublish(k, p.policy, false)
	p.logger.Info("Created successor key", "key", k.ID(), "role", k.Role,
		"predecessor", pred.ID(), "active", k.Timing.Active)
	return nil
}

func (p *pass) generate(ctx context.Context, gen Generator, cfg kasp.KeyConfig) (*dnssec.Key,
	error) {

	for range maxGenerateAttempts {
		k, mat, err := gen.Generate(ctx, p.zone, cfg, p.now)
		if err != nil {
			return nil, serrors.Wrap("generating key", err, "zone", p.zone,
				"role", cfg.Role, "algorithm", cfg.Algorithm)
		}
		if p.keys.Find(k.ID()) != nil {
			p.logger.Debug("Keytag collision, regenerating", "key", k.ID())
			continue
		}
		k.Zone = p.zone
		k.Lifetime = cfg.Lifetime
		k.Offline = p.policy.OfflineKSK && k.IsKSK()
		p.keys = append(p.keys, k)
		p.created = append(p.created, k)
		p.material[k.ID()] = mat
		p.touch(k)
		return k, nil
	}
	return nil, serrors.New("keytag collision", "zone", p.zone, "role", cfg.Role,
		"algorithm", cfg.Algorithm, "attempts", maxGenerateAttempts)
}

func (p *pass) batch(oldChain dnssec.ChainState) Batch {
	var b Batch
	for _, k := range p.keys {
		if p.changed[k.ID()] {
			b.Keys = append(b.Keys, k)
		}
	}
	if len(p.material) > 0 {
		b.Material = p.material
	}
	if p.chain != oldChain {
		c := p.chain
		b.Chain = &c
	}
	return b
}

// nextTime is the earliest future moment at which a timer fires, a derived
// state changes or a deferred decision becomes due.
func (p *pass) nextTime() time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if t.IsZero() || !t.After(p.now) {
			return
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	for _, k := range p.keys {
		if !p.managed(k) {
			continue
		}
		for _, s := range dnssec.Slots {
			consider(k.Timing.Get(s))
		}
		for _, t := range k.StateChanges(p.prop) {
			consider(t)
		}
		if due, ok := p.successorDue(k); ok {
			consider(due)
		}
	}
	for _, t := range p.wake {
		consider(t)
	}
	return next
}

func (p *pass) hints() []Hint {
	var r []Hint
	for _, k := range p.keys {
		if !p.managed(k) {
			continue
		}
		t := k.Timing
		published := !t.Publish.IsZero() && !p.now.Before(t.Publish)
		deleted := !t.Delete.IsZero() && !p.now.Before(t.Delete)
		r = append(r, Hint{
			Key:     k,
			Publish: published && !deleted,
			Sign:    k.ActiveAt(p.now),
			Remove:  deleted,
		})
	}
	return r
}
