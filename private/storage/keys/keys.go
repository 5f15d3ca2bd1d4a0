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

// Package keys contains the key store backends and a wrapper that records
// metrics for any of them.
package keys

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/metrics"
	"github.com/scionproto/keymgr/pkg/private/prom"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/keymgr"
	dblib "github.com/scionproto/keymgr/private/storage/db"
)

const (
	promOpKeys       = "keys"
	promOpChainState = "chain_state"
	promOpCommit     = "commit"
	promOpRemove     = "remove"
	promOpPrivateKey = "private_key"
)

// PrivateKeyReader is implemented by backends that return the private part
// of stored keys.
type PrivateKeyReader interface {
	// PrivateKey returns the private key in BIND private-key file format.
	PrivateKey(ctx context.Context, zone string, id dnssec.ID) (string, error)
}

// Metrics are the counters of key store operations.
type Metrics struct {
	QueriesTotal metrics.Counter
	ResultsTotal metrics.Counter
	// Latency is the duration of an operation in seconds. Labels: operation.
	Latency metrics.Histogram
}

// NewMetrics creates the key store metrics.
func NewMetrics(opts ...metrics.Option) *Metrics {
	auto := metrics.ApplyOptions(opts...).Auto()
	return &Metrics{
		QueriesTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: prom.Namespace,
			Name:      "storage_queries_total",
			Help:      "Total number of key store operations.",
		}, []string{prom.LabelOperation}),
		ResultsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: prom.Namespace,
			Name:      "storage_results_total",
			Help:      "Results of key store operations.",
		}, []string{prom.LabelOperation, prom.LabelResult}),
		Latency: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prom.Namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Duration of key store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{prom.LabelOperation}),
	}
}

// Observe runs action and records its outcome for the operation op.
func (m *Metrics) Observe(ctx context.Context, op string, action func(context.Context) error) {
	if m == nil {
		_ = action(ctx)
		return
	}
	metrics.CounterInc(metrics.CounterWith(m.QueriesTotal, prom.LabelOperation, op))
	start := time.Now()
	err := action(ctx)
	metrics.ObserveSince(metrics.HistogramWith(m.Latency, prom.LabelOperation, op), start)
	label := dblib.ErrToMetricLabel(err)
	metrics.CounterInc(metrics.CounterWith(m.ResultsTotal,
		prom.LabelOperation, op, prom.LabelResult, label))
}

var _ keymgr.Store = (*Database)(nil)

// Database wraps a key store backend and records metrics for all its
// operations.
type Database struct {
	Backend keymgr.Store
	Metrics *Metrics
}

func (db *Database) Keys(ctx context.Context, zone string) (dnssec.KeyRing, error) {
	var ring dnssec.KeyRing
	var err error
	db.Metrics.Observe(ctx, promOpKeys, func(ctx context.Context) error {
		ring, err = db.Backend.Keys(ctx, zone)
		return err
	})
	return ring, err
}

func (db *Database) ChainState(ctx context.Context, zone string) (dnssec.ChainState, error) {
	var st dnssec.ChainState
	var err error
	db.Metrics.Observe(ctx, promOpChainState, func(ctx context.Context) error {
		st, err = db.Backend.ChainState(ctx, zone)
		return err
	})
	return st, err
}

func (db *Database) Commit(ctx context.Context, zone string, b keymgr.Batch) error {
	var err error
	db.Metrics.Observe(ctx, promOpCommit, func(ctx context.Context) error {
		err = db.Backend.Commit(ctx, zone, b)
		return err
	})
	return err
}

func (db *Database) Remove(ctx context.Context, zone string, id dnssec.ID) error {
	var err error
	db.Metrics.Observe(ctx, promOpRemove, func(ctx context.Context) error {
		err = db.Backend.Remove(ctx, zone, id)
		return err
	})
	return err
}

// PrivateKey returns the private key of a stored key. It fails if the backend
// does not implement PrivateKeyReader.
func (db *Database) PrivateKey(ctx context.Context, zone string,
	id dnssec.ID) (string, error) {

	r, ok := db.Backend.(PrivateKeyReader)
	if !ok {
		return "", serrors.New("storage backend does not provide private keys")
	}
	var private string
	var err error
	db.Metrics.Observe(ctx, promOpPrivateKey, func(ctx context.Context) error {
		private, err = r.PrivateKey(ctx, zone, id)
		return err
	})
	return private, err
}
