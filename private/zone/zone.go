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

// Package zone schedules the key lifecycle passes of the configured zones.
//
// Every operation on a zone holds the zone's lock for its whole duration, so
// the key manager never sees concurrent calls for the same zone. Different
// zones are processed concurrently.
package zone

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/scionproto/keymgr/pkg/kasp"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/config"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/periodic"
)

const (
	// DefaultParallelism is the number of zones processed concurrently.
	DefaultParallelism = 4
	// DefaultRetryInterval is the delay after a failed pass.
	DefaultRetryInterval = 5 * time.Minute
)

// ErrUnknownZone indicates that the zone is not configured.
var ErrUnknownZone = serrors.New("unknown zone")

// Config is one [[zones]] entry of the configuration.
type Config struct {
	Name string `toml:"name"`
	// Policy is the name of the policy of the zone.
	Policy string `toml:"policy,omitempty"`
}

var _ config.Config = (*Configs)(nil)

// Configs is the list of managed zones.
type Configs []Config

func (c *Configs) InitDefaults() {
	for i := range *c {
		if (*c)[i].Policy == "" {
			(*c)[i].Policy = kasp.DefaultPolicyName
		}
	}
}

func (c *Configs) Validate() error {
	seen := make(map[string]bool, len(*c))
	for _, z := range *c {
		if z.Name == "" {
			return serrors.New("zone without name")
		}
		if _, ok := dns.IsDomainName(z.Name); !ok {
			return serrors.New("invalid zone name", "zone", z.Name)
		}
		name := Normalize(z.Name)
		if seen[name] {
			return serrors.New("duplicate zone", "zone", name)
		}
		seen[name] = true
	}
	return nil
}

func (c *Configs) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, zonesSample)
}

func (c *Configs) ConfigName() string {
	return "zones"
}

// ArrayTable marks the zones block as an array of tables.
func (c *Configs) ArrayTable() {}

// Normalize returns the canonical form of a zone name.
func Normalize(name string) string {
	return dns.Fqdn(strings.ToLower(name))
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithParallelism sets the number of zones processed concurrently.
func WithParallelism(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithRetryInterval sets the delay before a failed zone is retried.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.retry = d }
}

type managedZone struct {
	name   string
	policy *kasp.Policy
	mtx    sync.Mutex

	// dueMtx orders triggers against storing the result of a pass.
	dueMtx   sync.Mutex
	triggers uint64
}

func (z *managedZone) generation() uint64 {
	z.dueMtx.Lock()
	defer z.dueMtx.Unlock()
	return z.triggers
}

var (
	_ periodic.Task      = (*Scheduler)(nil)
	_ periodic.Scheduled = (*Scheduler)(nil)
)

// Scheduler runs the key manager for a fixed set of zones. As a periodic task
// it wakes up when the next zone is due.
type Scheduler struct {
	manager  *keymgr.Manager
	zones    map[string]*managedZone
	order    []string
	now      func() time.Time
	parallel int
	retry    time.Duration
	// due maps zone names to the time of their next pass. A zone without
	// entry is due, a zero time means nothing is scheduled.
	due *cache.Cache
}

// New creates a scheduler for zones. Every zone must refer to one of
// policies.
func New(m *keymgr.Manager, zones []Config, policies map[string]*kasp.Policy,
	opts ...Option) (*Scheduler, error) {

	s := &Scheduler{
		manager:  m,
		zones:    make(map[string]*managedZone, len(zones)),
		now:      time.Now,
		parallel: DefaultParallelism,
		retry:    DefaultRetryInterval,
		due:      cache.New(cache.NoExpiration, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, z := range zones {
		name := Normalize(z.Name)
		if _, ok := s.zones[name]; ok {
			return nil, serrors.New("duplicate zone", "zone", name)
		}
		policyName := z.Policy
		if policyName == "" {
			policyName = kasp.DefaultPolicyName
		}
		p, ok := policies[policyName]
		if !ok {
			return nil, serrors.New("zone refers to unknown policy", "zone", name,
				"policy", policyName)
		}
		s.zones[name] = &managedZone{name: name, policy: p}
		s.order = append(s.order, name)
	}
	return s, nil
}

// Zones returns the names of the managed zones in configuration order.
func (s *Scheduler) Zones() []string {
	return append([]string(nil), s.order...)
}

// Policy returns the policy of zone.
func (s *Scheduler) Policy(zone string) (*kasp.Policy, error) {
	z, err := s.lookup(zone)
	if err != nil {
		return nil, err
	}
	return z.policy, nil
}

func (s *Scheduler) lookup(zone string) (*managedZone, error) {
	z, ok := s.zones[Normalize(zone)]
	if !ok {
		return nil, serrors.JoinNoStack(ErrUnknownZone, nil, "zone", zone)
	}
	return z, nil
}

// WithZone loads the state of zone and calls fn while holding the zone's
// lock.
func (s *Scheduler) WithZone(ctx context.Context, zone string,
	fn func(*keymgr.Zone, *kasp.Policy) error) error {

	z, err := s.lookup(zone)
	if err != nil {
		return err
	}
	z.mtx.Lock()
	defer z.mtx.Unlock()
	state, err := s.manager.Load(ctx, z.name)
	if err != nil {
		return err
	}
	return fn(state, z.policy)
}

// RunZone runs one lifecycle pass for zone. Zones whose policy has offline
// KSKs run in offline mode.
func (s *Scheduler) RunZone(ctx context.Context, zone string) (keymgr.Result, error) {
	var res keymgr.Result
	now := s.now()
	name := Normalize(zone)
	ctx = log.WithZone(ctx, name)
	z, ok := s.zones[name]
	var gen uint64
	if ok {
		gen = z.generation()
	}
	err := s.WithZone(ctx, zone, func(state *keymgr.Zone, p *kasp.Policy) error {
		var err error
		if p.OfflineKSK {
			res, err = s.manager.Offline(ctx, state, p, now)
		} else {
			res, err = s.manager.Run(ctx, state, p, now)
		}
		return err
	})
	if err != nil {
		if ok {
			s.schedule(z, gen, now.Add(s.retry))
		}
		return keymgr.Result{}, err
	}
	s.schedule(z, gen, res.NextTime)
	log.FromCtx(ctx).Info("Key lifecycle pass done",
		"created", len(res.Created), "changed", len(res.Changed),
		"chain_changed", res.ChainChanged, "next", res.NextTime)
	return res, nil
}

// schedule stores the next pass of z unless z was triggered after generation
// gen was read. A triggered zone stays due.
func (s *Scheduler) schedule(z *managedZone, gen uint64, next time.Time) {
	z.dueMtx.Lock()
	defer z.dueMtx.Unlock()
	if z.triggers != gen {
		return
	}
	s.due.Set(z.name, next, cache.NoExpiration)
}

// Due returns the zones due at now.
func (s *Scheduler) Due(now time.Time) []string {
	var due []string
	for _, name := range s.order {
		v, ok := s.due.Get(name)
		if !ok {
			due = append(due, name)
			continue
		}
		next := v.(time.Time)
		if !next.IsZero() && !now.Before(next) {
			due = append(due, name)
		}
	}
	return due
}

// NextRun returns the earliest scheduled pass over all zones. It is zero if
// nothing is scheduled. Zones that never ran are due immediately.
func (s *Scheduler) NextRun() time.Time {
	var next time.Time
	for _, name := range s.order {
		v, ok := s.due.Get(name)
		if !ok {
			return s.now()
		}
		t := v.(time.Time)
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Trigger marks zone as due, e.g. after its keys were modified out of band.
// A trigger during a running pass makes the zone due again once the pass is
// done.
func (s *Scheduler) Trigger(zone string) {
	name := Normalize(zone)
	z, ok := s.zones[name]
	if !ok {
		return
	}
	z.dueMtx.Lock()
	defer z.dueMtx.Unlock()
	z.triggers++
	s.due.Delete(name)
}

// RunDue runs all zones that are due. A failing zone does not stop the
// others, all errors are returned together.
func (s *Scheduler) RunDue(ctx context.Context) error {
	due := s.Due(s.now())
	if len(due) == 0 {
		return nil
	}
	var (
		mtx  sync.Mutex
		errs serrors.List
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, name := range due {
		g.Go(func() error {
			if _, err := s.RunZone(ctx, name); err != nil {
				mtx.Lock()
				defer mtx.Unlock()
				errs = append(errs, serrors.Wrap("running zone", err, "zone", name))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errs.ToError()
}

// Purge removes the keys of all zones that have been deleted for longer
// than their policy's purge interval.
func (s *Scheduler) Purge(ctx context.Context) (int, error) {
	var (
		total int
		errs  serrors.List
	)
	now := s.now()
	for _, name := range s.order {
		zoneCtx := log.WithZone(ctx, name)
		err := s.WithZone(zoneCtx, name, func(z *keymgr.Zone, p *kasp.Policy) error {
			n, err := s.manager.Purge(zoneCtx, z, p.PurgeKeys, now)
			total += n
			return err
		})
		if err != nil {
			errs = append(errs, serrors.Wrap("purging zone", err, "zone", name))
		}
	}
	return total, errs.ToError()
}

// Name returns the task name.
func (s *Scheduler) Name() string {
	return "keymgr_zones"
}

// Run runs the zones that are due.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.RunDue(ctx); err != nil {
		log.FromCtx(ctx).Error("Key lifecycle passes failed", "err", err)
	}
}

const zonesSample = `# The name of the zone. (required)
name = "example.com."

# The name of the policy of the zone. (default "default")
policy = "default"
`
