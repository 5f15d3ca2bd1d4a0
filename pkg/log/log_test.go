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

package log_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/log/testlog"
)

func TestSetup(t *testing.T) {
	tests := map[string]struct {
		cfg       log.Config
		assertErr assert.ErrorAssertionFunc
	}{
		"empty, no error": {
			cfg:       log.Config{},
			assertErr: assert.NoError,
		},
		"invalid console level": {
			cfg:       log.Config{Console: log.ConsoleConfig{Level: "invalid"}},
			assertErr: assert.Error,
		},
		"invalid format": {
			cfg:       log.Config{Console: log.ConsoleConfig{Format: "xml"}},
			assertErr: assert.Error,
		},
		"invalid stacktrace level": {
			cfg:       log.Config{Console: log.ConsoleConfig{StacktraceLevel: "loud"}},
			assertErr: assert.Error,
		},
		"json with stacktraces": {
			cfg: log.Config{Console: log.ConsoleConfig{
				Level: "debug", Format: "json", StacktraceLevel: "error",
			}},
			assertErr: assert.NoError,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			test.assertErr(t, log.Setup(test.cfg, log.WithWriter(&buf)))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, log.Setup(log.Config{Console: log.ConsoleConfig{Level: "info"}},
		log.WithWriter(&buf)))
	defer log.Discard()

	logger := log.New("zone", "example.com.")
	logger.Debug("hidden")
	logger.Info("visible", "keytag", 4711)
	log.Flush()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "example.com.")
	assert.True(t, logger.Enabled(log.InfoLevel))
	assert.False(t, logger.Enabled(log.DebugLevel))

	log.ConsoleLevel().SetLevel(zapcore.DebugLevel)
	logger.Debug("raised")
	log.Flush()
	assert.Contains(t, buf.String(), "raised")
	assert.True(t, logger.Enabled(log.DebugLevel))
}

func TestWithZone(t *testing.T) {
	assert.NotNil(t, log.FromCtx(context.Background()))

	base, logs := testlog.Observed(t)
	ctx := log.WithZone(base, "example.com.")
	assert.Equal(t, ctx, log.WithZone(ctx, "example.com."))

	log.FromCtx(ctx).Info("scoped")
	log.ForZone(base, "example.org.").Info("other")
	log.ForZone(ctx, "example.com.").Info("again", "keytag", 4711)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "example.com.", entries[0].ContextMap()["zone"])
	assert.Equal(t, "example.org.", entries[1].ContextMap()["zone"])
	// The zone label is not repeated.
	assert.Len(t, entries[2].Context, 2)
}
