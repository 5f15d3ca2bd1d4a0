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

// Package db contains the plumbing shared by the key store backends: the
// sqlite connection handling and the error classes that every backend
// reports.
package db

import (
	"github.com/scionproto/keymgr/pkg/private/serrors"
)

// Error classes of the key stores. Errors returned by a store wrap exactly one
// of them, so callers and metrics can tell failures apart with errors.Is.
var (
	// ErrInvalidInputData indicates that a batch could not be stored as is,
	// e.g., a new key without key material.
	ErrInvalidInputData = serrors.New("db: input data invalid")
	// ErrDataInvalid indicates that stored data could not be decoded.
	ErrDataInvalid = serrors.New("db: db data invalid")
	// ErrReadFailed indicates that reading from the store failed.
	ErrReadFailed = serrors.New("db: read failed")
	// ErrWriteFailed indicates that writing to the store failed.
	ErrWriteFailed = serrors.New("db: write failed")
	// ErrTx indicates a transaction error.
	ErrTx = serrors.New("db: transaction error")
	// ErrNotFound indicates that the requested key does not exist.
	ErrNotFound = serrors.New("db: not found")
)

// newError joins class and cause. msg is attached as detailMsg before the
// caller's context.
func newError(class error, msg string, cause error, logCtx []any) error {
	ctx := make([]any, 0, len(logCtx)+2)
	ctx = append(ctx, "detailMsg", msg)
	return serrors.JoinNoStack(class, cause, append(ctx, logCtx...)...)
}

func NewTxError(msg string, err error, logCtx ...any) error {
	return newError(ErrTx, msg, err, logCtx)
}

func NewInputDataError(msg string, err error, logCtx ...any) error {
	return newError(ErrInvalidInputData, msg, err, logCtx)
}

func NewDataError(msg string, err error, logCtx ...any) error {
	return newError(ErrDataInvalid, msg, err, logCtx)
}

func NewReadError(msg string, err error, logCtx ...any) error {
	return newError(ErrReadFailed, msg, err, logCtx)
}

func NewWriteError(msg string, err error, logCtx ...any) error {
	return newError(ErrWriteFailed, msg, err, logCtx)
}

// NewNotFoundError reports a missing key. It never has a cause.
func NewNotFoundError(msg string, logCtx ...any) error {
	return newError(ErrNotFound, msg, nil, logCtx)
}
