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

// Package log is the logging facade used throughout the key manager. It wraps
// a zap logger and exposes key/value style logging.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/config"
)

// Setup configures the logging library with the given config.
func Setup(cfg Config, opts ...Option) error {
	o := applyOptions(opts)
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	return setupConsole(cfg.Console, o)
}

func setupConsole(cfg ConsoleConfig, o options) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return serrors.Wrap("unable to parse log.console.level", err, "level", cfg.Level)
	}
	// Stack traces are disabled by raising their level above fatal.
	stacktraceLevel := zapcore.FatalLevel + 1
	if cfg.StacktraceLevel != "none" {
		if err := stacktraceLevel.UnmarshalText([]byte(cfg.StacktraceLevel)); err != nil {
			return serrors.Wrap("unable to parse log.console.stacktrace_level", err,
				"level", cfg.StacktraceLevel)
		}
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	consoleLevel.SetLevel(level)
	core := zapcore.NewCore(enc, zapcore.AddSync(o.writer), consoleLevel)

	zOpts := []zap.Option{zap.AddStacktrace(stacktraceLevel)}
	if !cfg.DisableCaller {
		zOpts = append(zOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	zap.ReplaceGlobals(zap.New(core, zOpts...))
	return nil
}

// consoleLevel is shared by all console loggers created by Setup.
var consoleLevel = zap.NewAtomicLevel()

// ConsoleLevel returns the level of the console logger. It can be changed at
// runtime, over HTTP it serves GET and PUT with a JSON body like
// {"level":"debug"}.
func ConsoleLevel() zap.AtomicLevel {
	return consoleLevel
}

// Flush writes the logs to the underlying buffer.
func Flush() {
	_ = zap.L().Sync()
}

// HandlePanic catches panics and logs them. Use it as deferred call at the
// top of every goroutine.
func HandlePanic() {
	if msg := recover(); msg != nil {
		zap.L().Error("Panic", zap.Any("msg", msg), zap.ByteString("stack", debug.Stack()))
		Flush()
		panic(msg)
	}
}

// Config is the configuration for the logger.
type Config struct {
	// Console is the configuration for the console logging.
	Console ConsoleConfig `toml:"console,omitempty"`
}

// InitDefaults populates unset fields in cfg to their default values (if they
// have one).
func (c *Config) InitDefaults() {
	c.Console.InitDefaults()
}

// Validate checks the logging configuration.
func (c *Config) Validate() error {
	return c.Console.Validate()
}

// Sample writes the sample configuration to the dst writer.
func (c *Config) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteSample(dst, path, ctx, &c.Console)
}

// ConfigName returns the name of the config block.
func (c *Config) ConfigName() string {
	return "log"
}

// ConsoleConfig is the config for the console logger.
type ConsoleConfig struct {
	// Level of console logging (defaults to info).
	Level string `toml:"level,omitempty"`
	// Format of the console logging. (human|json)
	Format string `toml:"format,omitempty"`
	// StacktraceLevel sets from which level stacktraces are printed.
	StacktraceLevel string `toml:"stacktrace_level,omitempty"`
	// DisableCaller stops annotating logs with the calling function's file
	// name and line number.
	DisableCaller bool `toml:"disable_caller,omitempty"`
}

// InitDefaults populates unset fields in cfg to their default values (if they
// have one).
func (c *ConsoleConfig) InitDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "human"
	}
	if c.StacktraceLevel == "" {
		c.StacktraceLevel = "none"
	}
}

// Validate checks the console logging configuration.
func (c *ConsoleConfig) Validate() error {
	if _, err := LevelFromString(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "human", "json":
	default:
		return serrors.New("unsupported log format", "format", c.Format)
	}
	return nil
}

// Sample writes the sample configuration to the dst writer.
func (c *ConsoleConfig) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, consoleSample)
}

// ConfigName returns the name of the config block.
func (c *ConsoleConfig) ConfigName() string {
	return "console"
}

const consoleSample = `
# Console logging level (debug|info|error). (default info)
level = "info"

# Console logging format (human|json). (default human)
format = "human"

# Level from which stacktraces are printed (debug|info|error|none). (default none)
stacktrace_level = "none"

# Disable caller annotations. (default false)
disable_caller = false
`

// Option is a functional option for the log setup.
type Option func(o *options)

type options struct {
	writer io.Writer
}

// WithWriter sets the writer the console logger writes to. The default is
// os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

func applyOptions(opts []Option) options {
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LevelFromString parses the log level.
func LevelFromString(lvl string) (Level, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return DebugLevel, serrors.New(fmt.Sprintf("unknown level: %v", lvl))
	}
}
