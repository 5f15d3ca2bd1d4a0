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

package keys_test

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/metrics"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/keymgr/mock_keymgr"
	"github.com/scionproto/keymgr/private/storage/db"
	"github.com/scionproto/keymgr/private/storage/keys"
)

func TestDatabaseMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()

	backend := mock_keymgr.NewMockStore(ctrl)
	ring := dnssec.KeyRing{{Tag: 1, Algorithm: dnssec.ED25519, Role: dnssec.RoleCSK}}
	backend.EXPECT().Keys(gomock.Any(), "example.com.").Return(ring, nil).Times(2)
	backend.EXPECT().Commit(gomock.Any(), "example.com.", gomock.Any()).
		Return(db.NewWriteError("disk full", nil))

	queries, results := metrics.NewTestCounter(), metrics.NewTestCounter()
	latency := metrics.NewTestHistogram()
	d := &keys.Database{
		Backend: backend,
		Metrics: &keys.Metrics{
			QueriesTotal: queries,
			ResultsTotal: results,
			Latency:      latency,
		},
	}
	for range 2 {
		got, err := d.Keys(ctx, "example.com.")
		require.NoError(t, err)
		assert.Equal(t, ring, got)
	}
	err := d.Commit(ctx, "example.com.", keymgr.Batch{Keys: ring})
	assert.ErrorIs(t, err, db.ErrWriteFailed)

	assert.Equal(t, 2.0, metrics.CounterValue(queries.With("operation", "keys")))
	assert.Equal(t, 2.0, metrics.CounterValue(results.With("operation", "keys",
		"result", db.ResultOk)))
	assert.Equal(t, 1.0, metrics.CounterValue(results.With("operation", "commit",
		"result", "err_db_write")))
	assert.Equal(t, 2, metrics.HistogramCount(latency.With("operation", "keys")))
	assert.Equal(t, 1, metrics.HistogramCount(latency.With("operation", "commit")))
}

func TestDatabaseNilMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	backend := mock_keymgr.NewMockStore(ctrl)
	backend.EXPECT().Remove(gomock.Any(), "example.com.", dnssec.ID{Tag: 1}).Return(nil)
	d := &keys.Database{Backend: backend}
	assert.NoError(t, d.Remove(context.Background(), "example.com.", dnssec.ID{Tag: 1}))
}

func TestDatabasePrivateKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	id := dnssec.ID{Tag: 1, Algorithm: dnssec.ED25519}

	// The mock store does not keep private keys.
	d := &keys.Database{Backend: mock_keymgr.NewMockStore(ctrl)}
	_, err := d.PrivateKey(ctx, "example.com.", id)
	assert.Error(t, err)

	results := metrics.NewTestCounter()
	d = &keys.Database{
		Backend: privateStore{Store: mock_keymgr.NewMockStore(ctrl),
			private: map[dnssec.ID]string{id: "secret"}},
		Metrics: &keys.Metrics{ResultsTotal: results},
	}
	private, err := d.PrivateKey(ctx, "example.com.", id)
	require.NoError(t, err)
	assert.Equal(t, "secret", private)
	_, err = d.PrivateKey(ctx, "example.com.", dnssec.ID{Tag: 2})
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Equal(t, 1.0, metrics.CounterValue(results.With("operation", "private_key",
		"result", db.ResultOk)))
	assert.Equal(t, 1.0, metrics.CounterValue(results.With("operation", "private_key",
		"result", "err_not_found")))
}

type privateStore struct {
	keymgr.Store
	private map[dnssec.ID]string
}

func (s privateStore) PrivateKey(_ context.Context, zone string,
	id dnssec.ID) (string, error) {

	p, ok := s.private[id]
	if !ok {
		return "", db.NewNotFoundError("key not found", "key", id)
	}
	return p, nil
}
