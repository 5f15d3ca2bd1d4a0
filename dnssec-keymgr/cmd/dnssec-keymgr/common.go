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


package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app"
	"github.com/scionproto/keymgr/private/app/flag"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/keygen"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage"
	"github.com/scionproto/keymgr/private/storage/keys"
	"github.com/scionproto/keymgr/private/zone"
)

// session is an open key store together with the scheduler of the configured
// zones.
type session struct {
	store     storage.KeyStore
	manager   *keymgr.Manager
	scheduler *zone.Scheduler
}

type sessionOptions struct {
	storeMetrics  *keys.Metrics
	keymgrMetrics keymgr.Metrics
	// now replaces the wall clock if set.
	now func() time.Time
}

// openSession opens the key store described by the global configuration.
func openSession(ctx context.Context, o sessionOptions) (*session, error) {
	policies, err := globalCfg.PolicyMap()
	if err != nil {
		return nil, serrors.Wrap("building policies", err)
	}
	store, err := storage.NewKeyStorage(ctx, globalCfg.Storage, o.storeMetrics)
	if err != nil {
		return nil, serrors.Wrap("opening key storage", err)
	}
	manager := &keymgr.Manager{
		Store:     store,
		Generator: keygen.Generator{TTL: globalCfg.General.DNSKEYTTL.Duration},
		Metrics:   o.keymgrMetrics,
	}
	opts := []zone.Option{
		zone.WithParallelism(globalCfg.General.Parallelism),
		zone.WithRetryInterval(globalCfg.General.RetryInterval.Duration),
	}
	if o.now != nil {
		opts = append(opts, zone.WithClock(o.now))
	}
	scheduler, err := zone.New(manager, globalCfg.Zones, policies, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &session{store: store, manager: manager, scheduler: scheduler}, nil
}

// Close closes the key store.
func (s *session) Close() error {
	return s.store.Close()
}

// operatorFlags are the flags shared by all operator commands.
type operatorFlags struct {
	logLevel string
	now      flag.Time
}

func (f *operatorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logLevel, "log.level", "error",
		"Console logging level (debug|info|error)")
	cmd.Flags().Var(&f.now, "now",
		"Act as if the current time was the given time (default the wall clock)")
}

// clock returns the time source selected by the flags.
func (f *operatorFlags) clock() func() time.Time {
	if !f.now.IsSet() {
		return time.Now
	}
	fixed := f.now.At(time.Now()).UTC()
	return func() time.Time { return fixed }
}

// setup loads the configuration, configures logging and opens a session.
func (f *operatorFlags) setup(ctx context.Context, a *launcher.Application) (*session, error) {
	if err := app.SetupLog(f.logLevel); err != nil {
		return nil, err
	}
	if err := a.LoadConfig(); err != nil {
		return nil, err
	}
	return openSession(ctx, sessionOptions{now: f.clock()})
}

// selectorFlags narrow the key an operation applies to.
type selectorFlags struct {
	tag       uint16
	algorithm string
}

func (f *selectorFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint16Var(&f.tag, "key", 0, "Keytag of the key")
	cmd.Flags().StringVar(&f.algorithm, "algorithm", "",
		"Algorithm of the key, as mnemonic or number")
}

func (f *selectorFlags) selector() (keymgr.Selector, error) {
	s := keymgr.Selector{Tag: f.tag}
	if f.algorithm == "" {
		return s, nil
	}
	alg, err := dnssec.ParseAlgorithm(f.algorithm)
	if err != nil {
		return keymgr.Selector{}, err
	}
	s.Algorithm = alg
	return s, nil
}

// zonesOrAll returns args, or all managed zones if args is empty.
func zonesOrAll(s *session, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return s.scheduler.Zones()
}

// timeFormat is the format of timestamps in human readable output.
const timeFormat = "Mon Jan 02 15:04:05 2006"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeFormat)
}
