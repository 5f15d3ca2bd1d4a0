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

// Package fs stores DNSSEC keys in a key directory, one set of files per key
// named like BIND does: K<zone>+<alg>+<tag>.key holds the DNSKEY record,
// .private the private key and .state the lifecycle metadata. The chain
// transition state of a zone lives in <zone>.chain.toml.
//
// A commit writes all files of the batch to temporary files first and only
// then renames them into place. If a rename fails, the files that were
// already replaced are restored.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/pelletier/go-toml/v2"

	"github.com/scionproto/keymgr/pkg/dnssec"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/storage/db"
)

const (
	extKey     = ".key"
	extPrivate = ".private"
	extState   = ".state"
	extChain   = "chain.toml"

	permPublic  = 0o644
	permPrivate = 0o600
)

var _ keymgr.Store = (*Store)(nil)

// Store is a key store backed by a directory.
type Store struct {
	dir string
	// rename is os.Rename, replaced in tests to inject failures.
	rename func(oldpath, newpath string) error
}

// New opens the key directory dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, serrors.Wrap("creating key directory", err, "dir", dir)
	}
	return &Store{dir: dir, rename: os.Rename}, nil
}

// Dir returns the key directory.
func (s *Store) Dir() string {
	return s.dir
}

// Keys loads the keys of zone, ordered by creation time.
func (s *Store) Keys(ctx context.Context, zone string) (dnssec.KeyRing, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, db.NewReadError("listing key directory", err, "dir", s.dir)
	}
	prefix := "K" + dns.Fqdn(strings.ToLower(zone)) + "+"
	var ring dnssec.KeyRing
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, extState) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k, err := s.loadKey(zone, strings.TrimSuffix(name, extState))
		if err != nil {
			return nil, err
		}
		ring = append(ring, k)
	}
	slices.SortStableFunc(ring, func(a, b *dnssec.Key) int {
		if c := a.Timing.Created.Compare(b.Timing.Created); c != 0 {
			return c
		}
		return int(a.Tag) - int(b.Tag)
	})
	return ring, nil
}

func (s *Store) loadKey(zone, base string) (*dnssec.Key, error) {
	statePath := filepath.Join(s.dir, base+extState)
	raw, err := os.ReadFile(statePath)
	if err != nil {
		return nil, db.NewReadError("reading key state", err, "file", statePath)
	}
	k := &dnssec.Key{Zone: dns.Fqdn(strings.ToLower(zone))}
	if err := decodeState(bytes.NewReader(raw), k); err != nil {
		return nil, db.NewDataError("parsing key state", err, "file", statePath)
	}
	if k.Tag, err = tagFromBase(base); err != nil {
		return nil, db.NewDataError("parsing key file name", err, "file", statePath)
	}
	keyPath := filepath.Join(s.dir, base+extKey)
	f, err := os.Open(keyPath)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		// Metadata only, e.g. an offline KSK managed elsewhere.
		return k, nil
	case err != nil:
		return nil, db.NewReadError("opening public key", err, "file", keyPath)
	}
	defer f.Close()
	zp := dns.NewZoneParser(f, "", keyPath)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if pub, isKey := rr.(*dns.DNSKEY); isKey {
			k.Public = pub
			break
		}
	}
	if err := zp.Err(); err != nil {
		return nil, db.NewDataError("parsing public key", err, "file", keyPath)
	}
	if k.Public == nil {
		return nil, db.NewDataError("no DNSKEY record", nil, "file", keyPath)
	}
	if k.Public.KeyTag() != k.Tag {
		return nil, db.NewDataError("keytag does not match file name", nil,
			"file", keyPath, "keytag", k.Public.KeyTag())
	}
	return k, nil
}

// ChainState loads the chain transition state of zone. A zone without
// state file has the zero state.
func (s *Store) ChainState(_ context.Context, zone string) (dnssec.ChainState, error) {
	var st dnssec.ChainState
	path := s.chainPath(zone)
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return st, nil
	case err != nil:
		return st, db.NewReadError("reading chain state", err, "file", path)
	}
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return dnssec.ChainState{}, db.NewDataError("parsing chain state", err, "file", path)
	}
	return st, nil
}

type pending struct {
	path string
	data []byte
	perm os.FileMode
	tmp  string
	// old is the content the file had before the commit, nil if it did not
	// exist.
	old []byte
}

// Commit writes all keys of the batch and the chain state, if any.
func (s *Store) Commit(ctx context.Context, zone string, b keymgr.Batch) error {
	files, err := s.files(zone, b)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	defer func() {
		for _, f := range files {
			if f.tmp != "" {
				os.Remove(f.tmp)
			}
		}
	}()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeTemp(f); err != nil {
			return err
		}
	}
	for i, f := range files {
		if err := s.rename(f.tmp, f.path); err != nil {
			werr := db.NewWriteError("replacing file", err, "file", f.path)
			if rerr := s.revert(files[:i]); rerr != nil {
				return serrors.List{werr, rerr}.ToError()
			}
			return werr
		}
		f.tmp = ""
	}
	syncDir(s.dir)
	log.FromCtx(ctx).Debug("Committed key batch", "zone", zone, "keys", len(b.Keys),
		"chain", b.Chain != nil, "files", len(files))
	return nil
}

func (s *Store) files(zone string, b keymgr.Batch) ([]*pending, error) {
	var files []*pending
	for _, k := range b.Keys {
		base := filepath.Join(s.dir, k.FileBase())
		files = append(files, &pending{path: base + extState, data: encodeState(k),
			perm: permPublic})
		mat, ok := b.Material[k.ID()]
		if !ok {
			continue
		}
		if k.Public == nil {
			return nil, db.NewInputDataError("new key without public part", nil, "key", k.ID())
		}
		files = append(files,
			&pending{path: base + extKey, data: encodeKey(k), perm: permPublic},
			&pending{path: base + extPrivate, data: []byte(mat.Private), perm: permPrivate},
		)
	}
	if b.Chain != nil {
		raw, err := toml.Marshal(b.Chain)
		if err != nil {
			return nil, db.NewInputDataError("encoding chain state", err, "zone", zone)
		}
		files = append(files, &pending{path: s.chainPath(zone), data: raw, perm: permPublic})
	}
	for _, f := range files {
		old, err := os.ReadFile(f.path)
		switch {
		case errors.Is(err, iofs.ErrNotExist):
		case err != nil:
			return nil, db.NewReadError("reading previous content", err, "file", f.path)
		default:
			f.old = old
		}
	}
	return files, nil
}

func (s *Store) writeTemp(f *pending) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return db.NewWriteError("creating temporary file", err, "dir", s.dir)
	}
	f.tmp = tmp.Name()
	if _, err := tmp.Write(f.data); err != nil {
		tmp.Close()
		return db.NewWriteError("writing temporary file", err, "file", f.path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return db.NewWriteError("syncing temporary file", err, "file", f.path)
	}
	if err := tmp.Close(); err != nil {
		return db.NewWriteError("closing temporary file", err, "file", f.path)
	}
	if err := os.Chmod(f.tmp, f.perm); err != nil {
		return db.NewWriteError("setting permissions", err, "file", f.path)
	}
	return nil
}

// revert restores the files that were already renamed into place.
func (s *Store) revert(done []*pending) error {
	var errs serrors.List
	for _, f := range done {
		var err error
		if f.old == nil {
			err = os.Remove(f.path)
		} else {
			err = os.WriteFile(f.path, f.old, f.perm)
		}
		if err != nil {
			errs = append(errs, db.NewWriteError("restoring file", err, "file", f.path))
		}
	}
	return errs.ToError()
}

// Remove deletes all files of the key. Missing files are ignored.
func (s *Store) Remove(_ context.Context, zone string, id dnssec.ID) error {
	k := &dnssec.Key{Zone: zone, Tag: id.Tag, Algorithm: id.Algorithm}
	base := filepath.Join(s.dir, k.FileBase())
	var errs serrors.List
	// The state file goes last so a partial removal is retried.
	for _, ext := range []string{extPrivate, extKey, extState} {
		err := os.Remove(base + ext)
		if err != nil && !errors.Is(err, iofs.ErrNotExist) {
			errs = append(errs, db.NewWriteError("removing key file", err, "file", base+ext))
		}
	}
	return errs.ToError()
}

// PrivateKey returns the contents of the private key file of a stored key.
func (s *Store) PrivateKey(_ context.Context, zone string, id dnssec.ID) (string, error) {
	k := &dnssec.Key{Zone: zone, Tag: id.Tag, Algorithm: id.Algorithm}
	path := filepath.Join(s.dir, k.FileBase()+extPrivate)
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return "", db.NewNotFoundError("key not found", "zone", zone, "key", id)
	case err != nil:
		return "", db.NewReadError("reading private key", err, "file", path)
	}
	return string(raw), nil
}

func (s *Store) chainPath(zone string) string {
	return filepath.Join(s.dir, dns.Fqdn(strings.ToLower(zone))+extChain)
}

func encodeKey(k *dnssec.Key) []byte {
	var b bytes.Buffer
	kind := "zone-signing"
	if k.IsKSK() {
		kind = "key-signing"
	}
	fmt.Fprintf(&b, "; This is a %s key, keyid %d, for %s\n", kind, k.Tag, k.Zone)
	b.WriteString(k.Public.String())
	b.WriteString("\n")
	return b.Bytes()
}

func tagFromBase(base string) (uint16, error) {
	i := strings.LastIndexByte(base, '+')
	if i < 0 {
		return 0, serrors.New("missing keytag", "name", base)
	}
	tag, err := strconv.ParseUint(base[i+1:], 10, 16)
	if err != nil {
		return 0, serrors.Wrap("invalid keytag", err, "name", base)
	}
	return uint16(tag), nil
}

// syncDir flushes the directory entry updates. Not all platforms support
// syncing a directory, failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
