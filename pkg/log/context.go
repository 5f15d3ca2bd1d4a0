// Copyright 2018 ETH Zurich
// Copyright 2019 ETH Zurich, Anapaya Systems
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

package log

import (
	"context"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	zoneKey
)

// CtxWith returns a new context, based on ctx, that embeds argument
// logger. The logger can be recovered using FromCtx. Attaching a logger to a
// context which already contains one will overwrite the existing value.
func CtxWith(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		panic("nil context")
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromCtx returns the logger embedded in ctx if one exists, or the root
// logger otherwise. FromCtx is guaranteed to never return nil.
func FromCtx(ctx context.Context) Logger {
	if ctx == nil {
		return Root()
	}
	if logger, ok := ctx.Value(loggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return Root()
}

// WithZone returns a context whose logger labels all entries with the zone.
// A context that is already scoped to the same zone is returned unchanged.
func WithZone(ctx context.Context, zone string) context.Context {
	if current, ok := ctx.Value(zoneKey).(string); ok && current == zone {
		return ctx
	}
	logger := FromCtx(ctx).New("zone", zone)
	return CtxWith(context.WithValue(ctx, zoneKey, zone), logger)
}

// ForZone returns the logger for entries about zone.
func ForZone(ctx context.Context, zone string) Logger {
	return FromCtx(WithZone(ctx, zone))
}
