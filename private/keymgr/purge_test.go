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

package keymgr_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/keymgr/mock_keymgr"
)

func TestKeyMayBePurged(t *testing.T) {
	after := 10 * day
	deleted := t0.Add(40 * day)
	tests := map[string]struct {
		timing dnssec.Timing
		now    time.Time
		want   bool
	}{
		"no delete time": {
			timing: dnssec.Timing{Retire: t0},
			now:    t0.Add(1000 * day),
		},
		"just before": {
			timing: dnssec.Timing{Delete: deleted},
			now:    deleted.Add(after - time.Second),
		},
		"exactly": {
			timing: dnssec.Timing{Delete: deleted},
			now:    deleted.Add(after),
			want:   true,
		},
		"long after": {
			timing: dnssec.Timing{Delete: deleted},
			now:    deleted.Add(100 * after),
			want:   true,
		},
		"ds never removed": {
			timing: dnssec.Timing{Delete: deleted, DSPublish: t0},
			now:    deleted.Add(100 * after),
		},
		"ds removed after delete": {
			timing: dnssec.Timing{Delete: deleted, DSPublish: t0, DSRemoved: deleted.Add(day)},
			now:    deleted.Add(after),
		},
		"ds removed before delete": {
			timing: dnssec.Timing{Delete: deleted, DSPublish: t0, DSRemoved: deleted.Add(-day)},
			now:    deleted.Add(after),
			want:   true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			k := &dnssec.Key{Role: dnssec.RoleCSK, Timing: tc.timing}
			assert.Equal(t, tc.want, keymgr.KeyMayBePurged(k, after, tc.now))
		})
	}
}

func TestPurge(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	gone := func(tag uint16) *dnssec.Key {
		return &dnssec.Key{Tag: tag, Algorithm: dnssec.ECDSAP256SHA256, Role: dnssec.RoleZSK,
			Timing: dnssec.Timing{Active: t0, Retire: t0.Add(day), Delete: t0.Add(2 * day)}}
	}
	live := &dnssec.Key{Tag: 3, Algorithm: dnssec.ECDSAP256SHA256, Role: dnssec.RoleZSK,
		Timing: dnssec.Timing{Active: t0}}
	zone := &keymgr.Zone{Name: zoneID, Keys: dnssec.KeyRing{gone(1), live, gone(2)}}

	store := mock_keymgr.NewMockStore(ctrl)
	store.EXPECT().Remove(gomock.Any(), zoneID, gone(1).ID()).Return(nil)
	store.EXPECT().Remove(gomock.Any(), zoneID, gone(2).ID()).Return(errors.New("busy"))
	m := &keymgr.Manager{Store: store}

	n, err := m.Purge(context.Background(), zone, day, t0.Add(3*day))
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, zone.Keys, 2)
	assert.Equal(t, uint16(3), zone.Keys[0].Tag)
	assert.Equal(t, uint16(2), zone.Keys[1].Tag)

	// Purging disabled.
	n, err = m.Purge(context.Background(), zone, 0, t0.Add(300*day))
	assert.NoError(t, err)
	assert.Zero(t, n)
}
