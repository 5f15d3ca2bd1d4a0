// Copyright 2021 Anapaya Systems
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

// Package testlog provides loggers that write to the test output.
package testlog

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/scionproto/keymgr/pkg/log"
)

// NewLogger builds a new Logger that logs all messages to the given testing.TB.
func NewLogger(t testing.TB, opts ...zaptest.LoggerOption) log.Logger {
	return testLogger{zap: zaptest.NewLogger(t, opts...)}
}

// Context returns a context carrying a logger that writes to t. Components
// that log through log.FromCtx end up in the test output.
func Context(t testing.TB) context.Context {
	return log.CtxWith(context.Background(), NewLogger(t))
}

// Observed returns a context like Context whose entries are also recorded at
// debug level for inspection.
func Observed(t testing.TB) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	tee := zaptest.NewLogger(t, zaptest.WrapOptions(zap.WrapCore(
		func(c zapcore.Core) zapcore.Core { return zapcore.NewTee(c, core) },
	)))
	return log.CtxWith(context.Background(), testLogger{zap: tee}), logs
}

type testLogger struct {
	zap *zap.Logger
}

func (l testLogger) New(ctx ...any) log.Logger {
	return testLogger{zap: l.zap.With(fields(ctx)...)}
}

func (l testLogger) Debug(msg string, ctx ...any) {
	l.zap.Debug(msg, fields(ctx)...)
}

func (l testLogger) Info(msg string, ctx ...any) {
	l.zap.Info(msg, fields(ctx)...)
}

func (l testLogger) Error(msg string, ctx ...any) {
	l.zap.Error(msg, fields(ctx)...)
}

func (l testLogger) Enabled(lvl log.Level) bool {
	return l.zap.Core().Enabled(zapcore.Level(lvl))
}

// fields converts alternating keys and values. Keys that are not strings are
// formatted.
func fields(ctx []any) []zap.Field {
	r := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			key = fmt.Sprint(ctx[i])
		}
		r = append(r, zap.Any(key, ctx[i+1]))
	}
	return r
}
