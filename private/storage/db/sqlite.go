// Copyright 2025 ETH Zurich, Anapaya Systems
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

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"sync"

	"github.com/scionproto/keymgr/pkg/private/serrors"
)

type Reader interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Stats() sql.DBStats
}

// SqliteConfig allows configuring the sqlite database instance.
type SqliteConfig struct {
	MaxOpenReadConns int
	MaxIdleReadConns int
	InMemory         bool
}

// NewSqlite opens the sqlite database at path with a write pool of exactly
// one connection and a separate read pool.
//
// The [Sqlite.Full] connection can be used for any operation, including
// transactions. The [Sqlite.ReadOnly] connection is for plain queries.
func NewSqlite(path string, cfg *SqliteConfig) (*Sqlite, error) {
	c := SqliteConfig{}
	if cfg != nil {
		c = *cfg
	}

	// With shared cache, an anonymous memory database would be visible to
	// every connection of the process.
	if strings.Contains(path, ":memory:") {
		return nil, serrors.New("use explicitly named memory database", "path", path)
	}
	noFile, ok := strings.CutPrefix(path, "file:")

	connParams := make(url.Values)
	addPragmas(connParams)
	if c.InMemory {
		registerMemoryDB(noFile)
		connParams.Add("mode", "memory")
		connParams.Add("cache", "shared")
	}
	connURL := path + "?" + connParams.Encode()
	if !ok {
		connURL = "file:" + connURL
	}

	write, err := sql.Open(driverName(), connURL)
	if err != nil {
		return nil, serrors.Wrap("opening write database", err, "path", path)
	}
	// Writers serialize on the single connection instead of failing with
	// SQLITE_BUSY.
	write.SetMaxOpenConns(1)

	read, err := sql.Open(driverName(), connURL)
	if err != nil {
		write.Close()
		return nil, serrors.Wrap("opening read database", err, "path", path)
	}
	if c.MaxOpenReadConns == 0 {
		c.MaxOpenReadConns = max(4, runtime.NumCPU())
	}
	read.SetMaxOpenConns(c.MaxOpenReadConns)
	if c.MaxIdleReadConns != 0 {
		read.SetMaxIdleConns(c.MaxIdleReadConns)
	}

	db := &Sqlite{
		Full:     write,
		ReadOnly: read,
		read:     read,
	}
	if c.InMemory {
		runtime.AddCleanup(db, func(name string) { unregisterMemoryDB(name) }, noFile)
	}
	return db, nil
}

type Sqlite struct {
	Full     *sql.DB
	ReadOnly Reader

	read *sql.DB
}

// Setup applies schema to a fresh database and checks the version of an
// existing one.
func (db *Sqlite) Setup(ctx context.Context, schema string, schemaVersion int) error {
	var existingVersion int
	err := db.Full.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&existingVersion)
	if err != nil {
		return serrors.Wrap("checking database schema version", err)
	}
	switch {
	case existingVersion == 0:
		if _, err := db.Full.ExecContext(ctx, schema); err != nil {
			return serrors.Wrap("applying schema", err)
		}
		_, err = db.Full.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
		if err != nil {
			return serrors.Wrap("writing schema version", err)
		}
		return nil
	case existingVersion != schemaVersion:
		return serrors.New("database schema version mismatch",
			"expected", schemaVersion, "actual", existingVersion)
	default:
		return nil
	}
}

// DoInTx executes the given function in a transaction on the write
// connection. The transaction is rolled back if action returns an error.
func (db *Sqlite) DoInTx(ctx context.Context, action func(context.Context, *sql.Tx) error) error {
	tx, err := db.Full.BeginTx(ctx, nil)
	if err != nil {
		return NewTxError("create tx", err)
	}
	if err := action(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, NewTxError("rollback", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return NewTxError("commit", err)
	}
	return nil
}

func (db *Sqlite) Close() error {
	var errs serrors.List
	if err := db.Full.Close(); err != nil {
		errs = append(errs, serrors.Wrap("closing write db", err))
	}
	if err := db.read.Close(); err != nil {
		errs = append(errs, serrors.Wrap("closing read db", err))
	}
	return errs.ToError()
}

// memoryDBCheck prevents two in-memory databases with the same name, which
// would silently share their contents.
var memoryDBCheck = struct {
	mtx sync.Mutex
	dbs map[string]struct{}
}{
	dbs: make(map[string]struct{}),
}

func registerMemoryDB(name string) {
	memoryDBCheck.mtx.Lock()
	defer memoryDBCheck.mtx.Unlock()
	if _, ok := memoryDBCheck.dbs[name]; ok {
		panic(fmt.Sprintf("memory database with name %s already exists", name))
	}
	memoryDBCheck.dbs[name] = struct{}{}
}

func unregisterMemoryDB(name string) {
	memoryDBCheck.mtx.Lock()
	defer memoryDBCheck.mtx.Unlock()
	delete(memoryDBCheck.dbs, name)
}
