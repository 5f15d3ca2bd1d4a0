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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scionproto/keymgr/pkg/metrics"
)

// Result labels.
const (
	resultOk  = "ok"
	resultErr = "error"
)

// Metrics are the metrics of the key manager. Nil fields are not recorded.
type Metrics struct {
	// Runs counts lifecycle passes. Labels: zone, mode, result.
	Runs metrics.Counter
	// KeysCreated counts generated keys. Labels: zone, role.
	KeysCreated metrics.Counter
	// TimerChanges counts timer assignments. Labels: zone, timer.
	TimerChanges metrics.Counter
	// PassDuration is the wall clock duration of a lifecycle pass in
	// seconds. Labels: mode.
	PassDuration metrics.Histogram
	// NextTime is the time of the next scheduled pass in seconds since the
	// epoch. Labels: zone.
	NextTime metrics.Gauge
}

// NewMetrics creates the prometheus metrics of the key manager.
func NewMetrics(opts ...metrics.Option) Metrics {
	f := metrics.ApplyOptions(opts...).Auto()
	return Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keymgr_runs_total",
			Help: "Number of key lifecycle passes.",
		}, []string{"zone", "mode", "result"}),
		KeysCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keymgr_keys_created_total",
			Help: "Number of generated keys.",
		}, []string{"zone", "role"}),
		TimerChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keymgr_timer_changes_total",
			Help: "Number of key timer assignments.",
		}, []string{"zone", "timer"}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keymgr_pass_duration_seconds",
			Help:    "Duration of key lifecycle passes, including key generation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"mode"}),
		NextTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keymgr_next_run_timestamp_seconds",
			Help: "Time of the next scheduled key lifecycle pass.",
		}, []string{"zone"}),
	}
}
