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

// Package launcher runs the key manager daemon: it loads the configuration,
// sets up logging and metrics, and passes control to the application logic
// until a termination signal arrives.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/prom"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app/command"
	"github.com/scionproto/keymgr/private/app/flag"
	libconfig "github.com/scionproto/keymgr/private/config"
	"github.com/scionproto/keymgr/private/env"
)

// LoggingConfig is implemented by configurations that carry a [log] block.
// Configurations without it log at the default level.
type LoggingConfig interface {
	LogConfig() log.Config
}

// IDConfig is implemented by configurations that carry an instance ID.
type IDConfig interface {
	InstanceID() string
}

// Application models the key manager daemon.
type Application struct {
	// TOMLConfig holds the Go data structure for the application-specific
	// TOML configuration. The Application launcher will check if the TOMLConfig
	// supports additional methods (e.g., custom logging or instance ID) and
	// extract them from the config if that is the case. See the XxxConfig interfaces
	// in this package for more information.
	TOMLConfig libconfig.Config

	// ShortName is the short name of the application. If empty, the executable name is used.
	ShortName string

	// Main is the custom logic of the application. If nil, no custom logic is executed
	// (and only the setup/teardown harness runs). If Main returns an error, the
	// Run method will return a non-zero exit code.
	Main func(ctx context.Context) error

	// ErrorWriter specifies where error output should be printed. If nil, os.Stderr is used.
	ErrorWriter io.Writer

	// cmd is the Cobra command of the application.
	cmd *cobra.Command

	// env resolves the configuration file.
	env flag.Environment
}

// Run sets up the common server harness, and then passes control to the Main
// function (if one exists).
//
// Run uses the following globals:
//
//	os.Args
//
// Run will exit the application if it encounters a fatal error.
func (a *Application) Run() {
	if err := a.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(a.getErrorWriter(), "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// Execute runs the command tree with the given arguments. The context is
// canceled on SIGINT and SIGTERM.
func (a *Application) Execute(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := a.Command()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// Command returns the root command of the application. Additional commands
// can be added to it before Run is called.
func (a *Application) Command() *cobra.Command {
	if a.cmd != nil {
		return a.cmd
	}
	executable := filepath.Base(os.Args[0])
	shortName := a.getShortName(executable)

	a.cmd = &cobra.Command{
		Use:           executable,
		Short:         shortName,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.executeCommand(cmd.Context(), shortName)
		},
	}
	a.env.Register(a.cmd.PersistentFlags())
	a.cmd.AddCommand(
		newSample(a.cmd, executable, a.TOMLConfig),
		newVersion(),
		command.NewGendocs(a.cmd),
	)
	return a.cmd
}

// LoadConfig loads the configuration file into TOMLConfig, initializes the
// defaults and validates the result.
func (a *Application) LoadConfig() error {
	a.env.LoadExternalVars()
	file := a.env.ConfigFile()
	if err := libconfig.LoadFile(file, a.TOMLConfig); err != nil {
		return serrors.Wrap("loading config from file", err, "file", file)
	}
	a.TOMLConfig.InitDefaults()
	if err := a.TOMLConfig.Validate(); err != nil {
		return serrors.Wrap("validating config", err, "file", file)
	}
	return nil
}

func (a *Application) getShortName(executable string) string {
	if a.ShortName != "" {
		return a.ShortName
	}
	return executable
}

func (a *Application) executeCommand(ctx context.Context, shortName string) error {
	os.Setenv("TZ", "UTC")

	if err := a.LoadConfig(); err != nil {
		return err
	}
	if err := log.Setup(a.getLogging()); err != nil {
		return serrors.Wrap("initialize logging", err)
	}
	defer log.Flush()
	id := a.getID()
	env.LogAppStarted(shortName, id)
	defer env.LogAppStopped(shortName, id)
	defer log.HandlePanic()

	prom.ExportBuildInfo()
	prom.ExportElementID(id)

	if a.Main == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		defer log.HandlePanic()
		done <- a.Main(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down", "grace_period", env.ShutdownGraceInterval)
	select {
	case err := <-done:
		return err
	case <-time.After(env.ShutdownGraceInterval):
		return serrors.New("main goroutine did not shut down in time, forcing shutdown",
			"waited", env.ShutdownGraceInterval)
	}
}

func (a *Application) getLogging() log.Config {
	if c, ok := a.TOMLConfig.(LoggingConfig); ok {
		return c.LogConfig()
	}
	return log.Config{}
}

func (a *Application) getID() string {
	if c, ok := a.TOMLConfig.(IDConfig); ok {
		return c.InstanceID()
	}
	return env.DefaultID
}

func (a *Application) getErrorWriter() io.Writer {
	if a.ErrorWriter != nil {
		return a.ErrorWriter
	}
	return os.Stderr
}

func newSample(pather command.Pather, executable string, cfg libconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Display sample files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "config",
		Short:   "Display sample configuration file",
		Example: fmt.Sprintf("  %s sample config > keymgr.toml", pather.CommandPath()),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Sample(cmd.OutOrStdout(), nil, map[string]string{libconfig.ID: executable})
			return nil
		},
	})
	return cmd
}

func newVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), env.VersionInfo())
			return nil
		},
	}
}
