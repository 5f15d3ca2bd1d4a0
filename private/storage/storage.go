// Copyright 2020 Anapaya Systems
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

// Package storage provides factories for the key storage backends.
package storage

import (
	"context"
	"io"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/config"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage/db"
	"github.com/scionproto/keymgr/private/storage/keys"
	"github.com/scionproto/keymgr/private/storage/keys/fs"
	"github.com/scionproto/keymgr/private/storage/keys/sqlite"
)

// Backend indicates the key storage backend type.
type Backend string

const (
	// BackendFS stores keys in BIND compatible files in a key directory.
	BackendFS Backend = "fs"
	// BackendSqlite stores keys in an sqlite database.
	BackendSqlite Backend = "sqlite"

	// DefaultKeyDir is the default key directory of the fs backend.
	DefaultKeyDir = "/var/lib/keymgr/keys"
	// DefaultPath is the default database file of the sqlite backend.
	DefaultPath = "/var/lib/keymgr/keys.db"
)

// KeyStore is a key store that holds resources until closed. Both backends
// return the private keys they hold.
type KeyStore interface {
	io.Closer
	keymgr.Store
	keys.PrivateKeyReader
}

var _ (config.Config) = (*DBConfig)(nil)

// DBConfig is the configuration of the key storage.
type DBConfig struct {
	Backend Backend `toml:"backend,omitempty"`
	// Connection is the key directory for the fs backend and the database
	// path for the sqlite backend.
	Connection   string `toml:"connection,omitempty"`
	MaxOpenConns int    `toml:"max_open_conns,omitempty"`
	MaxIdleConns int    `toml:"max_idle_conns,omitempty"`
}

func (cfg *DBConfig) InitDefaults() {
	if cfg.Backend == "" {
		cfg.Backend = BackendFS
	}
	if cfg.Connection == "" {
		switch cfg.Backend {
		case BackendSqlite:
			cfg.Connection = DefaultPath
		default:
			cfg.Connection = DefaultKeyDir
		}
	}
}

func (cfg *DBConfig) Validate() error {
	switch cfg.Backend {
	case BackendFS, BackendSqlite:
	default:
		return serrors.New("unsupported storage backend", "backend", cfg.Backend)
	}
	if cfg.MaxOpenConns < 0 || cfg.MaxIdleConns < 0 {
		return serrors.New("connection limits must not be negative",
			"max_open_conns", cfg.MaxOpenConns, "max_idle_conns", cfg.MaxIdleConns)
	}
	return nil
}

// Sample writes a config sample to the writer.
func (cfg *DBConfig) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, sample)
}

// ConfigName is the key in the toml file.
func (cfg *DBConfig) ConfigName() string {
	return "storage"
}

// NewKeyStorage opens the key store described by c. Operations are counted
// in m, which may be nil.
func NewKeyStorage(ctx context.Context, c DBConfig, m *keys.Metrics) (KeyStore, error) {
	log.FromCtx(ctx).Info("Opening key storage", "backend", c.Backend,
		"connection", c.Connection)
	switch c.Backend {
	case BackendFS:
		s, err := fs.New(c.Connection)
		if err != nil {
			return nil, err
		}
		return withCloser{
			Database: &keys.Database{Backend: s, Metrics: m},
			close:    func() error { return nil },
		}, nil
	case BackendSqlite:
		b, err := sqlite.New(ctx, c.Connection, &db.SqliteConfig{
			MaxOpenReadConns: c.MaxOpenConns,
			MaxIdleReadConns: c.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		return withCloser{
			Database: &keys.Database{Backend: b, Metrics: m},
			close:    b.Close,
		}, nil
	default:
		return nil, serrors.New("unsupported storage backend", "backend", c.Backend)
	}
}

type withCloser struct {
	*keys.Database
	close func() error
}

func (w withCloser) Close() error {
	return w.close()
}

const sample = `# The storage backend, either "fs" or "sqlite". (default "fs")
backend = "fs"

# The key directory for the fs backend or the database file for the sqlite
# backend. (default "/var/lib/keymgr/keys" or "/var/lib/keymgr/keys.db")
connection = "/var/lib/keymgr/keys"

# The maximum number of open read connections of the sqlite backend.
# (default: max(4, number of CPUs))
max_open_conns = 0

# The maximum number of idle read connections of the sqlite backend.
# (default: Go default)
max_idle_conns = 0
`
