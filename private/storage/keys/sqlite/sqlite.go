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

// Package sqlite stores DNSSEC keys and chain transition state in a sqlite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage/db"
)

const (
	// SchemaVersion is the version of the SQLite schema understood by this
	// backend.
	SchemaVersion = 1
	// Schema is the SQLite database layout. Timer columns are named like the
	// fields of key state files and hold unix seconds, NULL if unset.
	Schema = `CREATE TABLE Keys(
		Zone TEXT NOT NULL,
		Tag INTEGER NOT NULL,
		Algorithm INTEGER NOT NULL,
		Role INTEGER NOT NULL,
		Bits INTEGER NOT NULL,
		Lifetime INTEGER NOT NULL,
		Predecessor INTEGER NOT NULL,
		Successor INTEGER NOT NULL,
		Offline INTEGER NOT NULL,
		Public TEXT,
		Private TEXT,
		Generated INTEGER,
		Published INTEGER,
		Active INTEGER,
		Retired INTEGER,
		Removed INTEGER,
		PublishCDS INTEGER,
		DeleteCDS INTEGER,
		DSPublish INTEGER,
		DSRemoved INTEGER,
		PRIMARY KEY (Zone, Tag, Algorithm)
	);
	CREATE TABLE Chains(
		Zone TEXT NOT NULL PRIMARY KEY,
		Active TEXT NOT NULL,
		Target TEXT NOT NULL,
		Old TEXT NOT NULL,
		Iterations INTEGER NOT NULL,
		SaltLength INTEGER NOT NULL,
		OptOut INTEGER NOT NULL,
		CreateChain INTEGER NOT NULL,
		RemoveChain INTEGER NOT NULL,
		Initial INTEGER NOT NULL,
		NoNSECYet INTEGER NOT NULL
	);`
)

var (
	_ keymgr.Store = (*Backend)(nil)

	metaColumns = []string{"Zone", "Tag", "Algorithm", "Role", "Bits", "Lifetime",
		"Predecessor", "Successor", "Offline", "Public", "Private"}
)

// Backend implements the key store on top of sqlite.
type Backend struct {
	db *db.Sqlite
}

// New returns a new SQLite backend opening a database at the given path. If
// no database exists a new database is created. If the schema version of the
// stored database is different from the one in Schema, an error is returned.
func New(ctx context.Context, path string, cfg *db.SqliteConfig) (*Backend, error) {
	sdb, err := db.NewSqlite(path, cfg)
	if err != nil {
		return nil, err
	}
	if err := sdb.Setup(ctx, Schema, SchemaVersion); err != nil {
		sdb.Close()
		return nil, err
	}
	return &Backend{db: sdb}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func timerColumns() []string {
	cols := make([]string, 0, len(dnssec.Slots))
	for _, s := range dnssec.Slots {
		cols = append(cols, s.String())
	}
	return cols
}

func normalizeZone(zone string) string {
	return dns.Fqdn(strings.ToLower(zone))
}

// Keys loads the keys of zone, ordered by creation time.
func (b *Backend) Keys(ctx context.Context, zone string) (dnssec.KeyRing, error) {
	cols := append(append([]string{}, metaColumns[1:10]...), timerColumns()...)
	query := fmt.Sprintf(`SELECT %s FROM Keys WHERE Zone = ? ORDER BY Generated, Tag`,
		strings.Join(cols, ", "))
	rows, err := b.db.ReadOnly.QueryContext(ctx, query, normalizeZone(zone))
	if err != nil {
		return nil, db.NewReadError("querying keys", err, "zone", zone)
	}
	defer rows.Close()
	var ring dnssec.KeyRing
	for rows.Next() {
		k, err := scanKey(rows, normalizeZone(zone))
		if err != nil {
			return nil, err
		}
		ring = append(ring, k)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewReadError("iterating keys", err, "zone", zone)
	}
	return ring, nil
}

func scanKey(rows *sql.Rows, zone string) (*dnssec.Key, error) {
	var (
		k        = &dnssec.Key{Zone: zone}
		lifetime int64
		public   sql.NullString
		timers   = make([]sql.NullInt64, len(dnssec.Slots))
	)
	dst := []any{&k.Tag, &k.Algorithm, &k.Role, &k.Bits, &lifetime, &k.Predecessor,
		&k.Successor, &k.Offline, &public}
	for i := range timers {
		dst = append(dst, &timers[i])
	}
	if err := rows.Scan(dst...); err != nil {
		return nil, db.NewDataError("scanning key", err, "zone", zone)
	}
	k.Lifetime = time.Duration(lifetime) * time.Second
	for i, s := range dnssec.Slots {
		if timers[i].Valid {
			k.Timing.Set(s, time.Unix(timers[i].Int64, 0))
		}
	}
	if public.Valid {
		rr, err := dns.NewRR(public.String)
		if err != nil {
			return nil, db.NewDataError("parsing public key", err, "key", k.ID())
		}
		pub, ok := rr.(*dns.DNSKEY)
		if !ok {
			return nil, db.NewDataError("public key is not a DNSKEY", nil, "key", k.ID(),
				"type", dns.TypeToString[rr.Header().Rrtype])
		}
		k.Public = pub
	}
	return k, nil
}

// ChainState loads the chain transition state of zone. A zone without state
// has the zero state.
func (b *Backend) ChainState(ctx context.Context, zone string) (dnssec.ChainState, error) {
	var st dnssec.ChainState
	query := `SELECT Active, Target, Old, Iterations, SaltLength, OptOut,
		CreateChain, RemoveChain, Initial, NoNSECYet FROM Chains WHERE Zone = ?`
	var active, target, old string
	err := b.db.ReadOnly.QueryRowContext(ctx, query, normalizeZone(zone)).Scan(
		&active, &target, &old, &st.NSEC3.Iterations, &st.NSEC3.SaltLength, &st.NSEC3.OptOut,
		&st.Flags.CreateChain, &st.Flags.RemoveChain, &st.Flags.Initial, &st.Flags.NoNSECYet,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return dnssec.ChainState{}, nil
	case err != nil:
		return dnssec.ChainState{}, db.NewReadError("querying chain state", err, "zone", zone)
	}
	for _, m := range []struct {
		s   string
		dst *dnssec.Mechanism
	}{{active, &st.Active}, {target, &st.Target}, {old, &st.Old}} {
		if *m.dst, err = dnssec.ParseMechanism(m.s); err != nil {
			return dnssec.ChainState{}, db.NewDataError("parsing chain state", err,
				"zone", zone)
		}
	}
	return st, nil
}

// Commit stores the batch in a single transaction.
func (b *Backend) Commit(ctx context.Context, zone string, batch keymgr.Batch) error {
	if batch.Empty() {
		return nil
	}
	zone = normalizeZone(zone)
	err := b.db.DoInTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, k := range batch.Keys {
			if err := insertKey(ctx, tx, zone, k, batch.Material[k.ID()]); err != nil {
				return err
			}
		}
		if batch.Chain != nil {
			return insertChain(ctx, tx, zone, batch.Chain)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.FromCtx(ctx).Debug("Committed key batch", "zone", zone, "keys", len(batch.Keys),
		"chain", batch.Chain != nil)
	return nil
}

func insertKey(ctx context.Context, tx *sql.Tx, zone string, k *dnssec.Key,
	mat *dnssec.Material) error {

	var public, private sql.NullString
	if k.Public != nil {
		public = sql.NullString{String: k.Public.String(), Valid: true}
	}
	if mat != nil {
		if k.Public == nil {
			return db.NewInputDataError("new key without public part", nil, "key", k.ID())
		}
		private = sql.NullString{String: mat.Private, Valid: true}
	}
	args := []any{zone, k.Tag, uint8(k.Algorithm), uint8(k.Role), k.Bits,
		int64(k.Lifetime / time.Second), k.Predecessor, k.Successor, k.Offline, public, private}
	for _, s := range dnssec.Slots {
		var v sql.NullInt64
		if t := k.Timing.Get(s); !t.IsZero() {
			v = sql.NullInt64{Int64: t.Unix(), Valid: true}
		}
		args = append(args, v)
	}

	cols := append(append([]string{}, metaColumns...), timerColumns()...)
	var updates []string
	for _, c := range cols[3:] {
		switch c {
		case "Public", "Private":
			// Key material is immutable once stored.
			updates = append(updates, fmt.Sprintf("%s = COALESCE(%s, excluded.%s)", c, c, c))
		default:
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	query := fmt.Sprintf(`INSERT INTO Keys (%s) VALUES (%s)
		ON CONFLICT(Zone, Tag, Algorithm) DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return db.NewWriteError("storing key", err, "zone", zone, "key", k.ID())
	}
	return nil
}

func insertChain(ctx context.Context, tx *sql.Tx, zone string, st *dnssec.ChainState) error {
	query := `INSERT OR REPLACE INTO Chains (Zone, Active, Target, Old, Iterations,
		SaltLength, OptOut, CreateChain, RemoveChain, Initial, NoNSECYet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query, zone, st.Active.String(), st.Target.String(),
		st.Old.String(), st.NSEC3.Iterations, st.NSEC3.SaltLength, st.NSEC3.OptOut,
		st.Flags.CreateChain, st.Flags.RemoveChain, st.Flags.Initial, st.Flags.NoNSECYet)
	if err != nil {
		return db.NewWriteError("storing chain state", err, "zone", zone)
	}
	return nil
}

// Remove deletes the key. Removing an unknown key is not an error.
func (b *Backend) Remove(ctx context.Context, zone string, id dnssec.ID) error {
	_, err := b.db.Full.ExecContext(ctx,
		`DELETE FROM Keys WHERE Zone = ? AND Tag = ? AND Algorithm = ?`,
		normalizeZone(zone), id.Tag, uint8(id.Algorithm))
	if err != nil {
		return db.NewWriteError("removing key", err, "zone", zone, "key", id)
	}
	return nil
}

// PrivateKey returns the private key of a stored key in BIND private-key
// file format.
func (b *Backend) PrivateKey(ctx context.Context, zone string, id dnssec.ID) (string, error) {
	var private sql.NullString
	err := b.db.ReadOnly.QueryRowContext(ctx,
		`SELECT Private FROM Keys WHERE Zone = ? AND Tag = ? AND Algorithm = ?`,
		normalizeZone(zone), id.Tag, uint8(id.Algorithm)).Scan(&private)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", db.NewNotFoundError("key not found", "zone", zone, "key", id)
	case err != nil:
		return "", db.NewReadError("querying private key", err, "zone", zone, "key", id)
	case !private.Valid:
		return "", db.NewDataError("key has no private part", nil, "zone", zone, "key", id)
	}
	return private.String, nil
}
