// Copyright 2019 Anapaya Systems
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

// Package cleaner contains a periodic task that deletes data which is no
// longer needed, such as the files of purged keys.
package cleaner

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/metrics"
	"github.com/scionproto/keymgr/private/periodic"
)

// ExpiredDeleter is used to delete expired data. It returns the number of
// deleted entries.
type ExpiredDeleter func(ctx context.Context) (int, error)

var _ periodic.Task = (*Cleaner)(nil)

// Cleaner is a periodic.Task implementation that deletes expired data.
type Cleaner struct {
	deleter   ExpiredDeleter
	subsystem string
	metrics   Metrics
}

// Metrics contains the metrics for a cleaner.
type Metrics struct {
	// ErrorsTotal reports the total number of errors during cleaning.
	ErrorsTotal metrics.Counter
	// RunsTotal reports the total number of successful runs.
	RunsTotal metrics.Counter
	// DeletedTotal reports the total number of deleted entries.
	DeletedTotal metrics.Counter
}

// NewMetrics creates the prometheus metrics of the cleaner of subsystem.
func NewMetrics(subsystem string, opts ...metrics.Option) Metrics {
	auto := metrics.ApplyOptions(opts...).Auto()
	labels := prometheus.Labels{"subsystem": subsystem}
	return Metrics{
		ErrorsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Name:        "keymgr_cleaner_errors_total",
			Help:        "Total number of failed cleaner runs.",
			ConstLabels: labels,
		}, nil),
		RunsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Name:        "keymgr_cleaner_runs_total",
			Help:        "Total number of successful cleaner runs.",
			ConstLabels: labels,
		}, nil),
		DeletedTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Name:        "keymgr_cleaner_deleted_total",
			Help:        "Total number of deleted entries.",
			ConstLabels: labels,
		}, nil),
	}
}

// New returns a new cleaner task that deletes expired data using deleter.
func New(deleter ExpiredDeleter, subsystem string, metrics Metrics) *Cleaner {
	return &Cleaner{
		deleter:   deleter,
		subsystem: subsystem,
		metrics:   metrics,
	}
}

// Name returns the tasks name.
func (c *Cleaner) Name() string {
	return fmt.Sprintf("%s_cleaner", c.subsystem)
}

// Run deletes expired entries using the deleter func. Partial failures still
// count the deleted entries.
func (c *Cleaner) Run(ctx context.Context) {
	count, err := c.deleter(ctx)
	logger := log.FromCtx(ctx)
	if count > 0 {
		logger.Info("Deleted expired", "subsystem", c.subsystem, "count", count)
		metrics.CounterAdd(c.metrics.DeletedTotal, float64(count))
	}
	if err != nil {
		logger.Error("Failed to delete", "subsystem", c.subsystem, "err", err)
		metrics.CounterInc(c.metrics.ErrorsTotal)
		return
	}
	metrics.CounterInc(c.metrics.RunsTotal)
}
