// Copyright 2018 ETH Zurich, Anapaya Systems
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

// Package env contains common configuration blocks and initialization code of
// the key manager daemon. Anything specific to one command belongs to that
// command.
package env

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/pkg/private/util"
	"github.com/scionproto/keymgr/private/config"
)

const (
	// DefaultID is the instance ID used if none is configured.
	DefaultID = "keymgr"

	// DefaultCheckInterval is the default period of the lifecycle scheduler.
	DefaultCheckInterval = time.Minute

	// DefaultPurgeInterval is the default period of the key purger.
	DefaultPurgeInterval = time.Hour

	// ShutdownGraceInterval is the time applications wait after issuing a
	// clean shutdown signal, before forcerfully tearing down the application.
	ShutdownGraceInterval = 5 * time.Second

	// HandlerTimeout is the time after which the http handler gives up on a request and
	// returns an error instead.
	HandlerTimeout = time.Minute
)

var _ config.Config = (*General)(nil)

// General is the [general] block of the daemon configuration.
type General struct {
	// ID identifies the instance in logs and metrics.
	ID string `toml:"id,omitempty"`
	// CheckInterval is the period at which zones are checked for due
	// lifecycle passes.
	CheckInterval util.DurWrap `toml:"check_interval,omitempty"`
	// PurgeInterval is the period at which deleted keys are purged.
	PurgeInterval util.DurWrap `toml:"purge_interval,omitempty"`
	// RetryInterval is the delay before a failed zone pass is retried.
	RetryInterval util.DurWrap `toml:"retry_interval,omitempty"`
	// Parallelism is the number of zones processed concurrently.
	Parallelism int `toml:"parallelism,omitempty"`
	// DNSKEYTTL is the TTL of the DNSKEY records of generated keys.
	DNSKEYTTL util.DurWrap `toml:"dnskey_ttl,omitempty"`
}

// InitDefaults sets the defaults of unset fields.
func (cfg *General) InitDefaults() {
	if cfg.ID == "" {
		cfg.ID = DefaultID
	}
	if cfg.CheckInterval.Duration == 0 {
		cfg.CheckInterval.Duration = DefaultCheckInterval
	}
	if cfg.PurgeInterval.Duration == 0 {
		cfg.PurgeInterval.Duration = DefaultPurgeInterval
	}
	if cfg.RetryInterval.Duration == 0 {
		cfg.RetryInterval.Duration = 5 * time.Minute
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 4
	}
	if cfg.DNSKEYTTL.Duration == 0 {
		cfg.DNSKEYTTL.Duration = time.Hour
	}
}

func (cfg *General) Validate() error {
	if cfg.ID == "" {
		return serrors.New("no instance id specified")
	}
	if cfg.CheckInterval.Duration <= 0 {
		return serrors.New("check_interval must be positive",
			"check_interval", cfg.CheckInterval)
	}
	if cfg.PurgeInterval.Duration <= 0 {
		return serrors.New("purge_interval must be positive",
			"purge_interval", cfg.PurgeInterval)
	}
	if cfg.Parallelism < 1 {
		return serrors.New("parallelism must be at least 1", "parallelism", cfg.Parallelism)
	}
	if cfg.DNSKEYTTL.Duration <= 0 {
		return serrors.New("dnskey_ttl must be positive", "dnskey_ttl", cfg.DNSKEYTTL)
	}
	return nil
}

func (cfg *General) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, fmt.Sprintf(generalSample, ctx[config.ID]))
}

func (cfg *General) ConfigName() string {
	return "general"
}

var _ config.Config = (*Metrics)(nil)

type Metrics struct {
	config.NoDefaulter
	config.NoValidator
	// Prometheus contains the address to export prometheus metrics on. If
	// not set, metrics are not exported.
	Prometheus string `toml:"prometheus,omitempty"`
}

func (cfg *Metrics) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteString(dst, metricsSample)
}

func (cfg *Metrics) ConfigName() string {
	return "metrics"
}

// ServePrometheus serves the metrics of the default registry until ctx is
// done. It returns immediately if no address is configured.
func (cfg *Metrics) ServePrometheus(ctx context.Context) error {
	if cfg.Prometheus == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{Timeout: HandlerTimeout},
		),
	))
	log.Info("Exporting prometheus metrics", "addr", cfg.Prometheus)

	server := &http.Server{Addr: cfg.Prometheus, Handler: mux}
	go func() {
		defer log.HandlePanic()
		<-ctx.Done()
		server.Close()
	}()
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return serrors.Wrap("serving prometheus metrics", err)
	}
	return nil
}

// LogAppStarted logs the start of the application.
func LogAppStarted(name, id string) {
	info := fmt.Sprintf("=====================> Service started %s %s\n"+
		"%s  %s\n  %s\n  %s\n",
		name,
		id,
		VersionInfo(),
		fmt.Sprintf("pid:           %d", os.Getpid()),
		fmt.Sprintf("euid/egid:     %d %d", os.Geteuid(), os.Getegid()),
		fmt.Sprintf("cmd line:      %q", os.Args),
	)
	log.Info(info)
}

// LogAppStopped logs the end of the application.
func LogAppStopped(name, id string) {
	log.Info(fmt.Sprintf("=====================> Service stopped %s %s", name, id))
}

// VersionInfo returns the build information of the binary.
func VersionInfo() string {
	version, goVersion := "(unknown)", "(unknown)"
	if info, ok := debug.ReadBuildInfo(); ok {
		version = info.Main.Version
		goVersion = info.GoVersion
	}
	return fmt.Sprintf("  %s\n  %s\n",
		fmt.Sprintf("Version:       %s", version),
		fmt.Sprintf("Build chain:   %s", goVersion),
	)
}
