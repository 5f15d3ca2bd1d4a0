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


// dnssec-keymgr manages the lifecycle of the DNSSEC keys of a set of zones.
// Without subcommand it runs as a daemon that generates, publishes, activates,
// retires and deletes keys according to the configured policies. The
// subcommands are operator tools that act on the same key store.
package main

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/scionproto/keymgr/dnssec-keymgr/config"
	"github.com/scionproto/keymgr/pkg/log"
	"github.com/scionproto/keymgr/pkg/private/serrors"
	"github.com/scionproto/keymgr/private/app"
	"github.com/scionproto/keymgr/private/app/launcher"
	"github.com/scionproto/keymgr/private/env"
	"github.com/scionproto/keymgr/private/keymgr"
	"github.com/scionproto/keymgr/private/mgmtapi"
	"github.com/scionproto/keymgr/private/periodic"
	"github.com/scionproto/keymgr/private/storage/cleaner"
	"github.com/scionproto/keymgr/private/storage/keys"
)

var globalCfg config.Config

func main() {
	application := &launcher.Application{
		TOMLConfig: &globalCfg,
		ShortName:  "DNSSEC Key Manager",
		Main:       realMain,
	}
	cmd := application.Command()
	cmd.AddCommand(
		newRun(cmd, application),
		newStatus(cmd, application),
		newList(cmd, application),
		newCheckDS(cmd, application),
		newRollover(cmd, application),
		newPurge(cmd, application),
		newChain(cmd, application),
		newExport(cmd, application),
	)
	application.Run()
}

func realMain(ctx context.Context) error {
	s, err := openSession(ctx, sessionOptions{
		storeMetrics:  keys.NewMetrics(),
		keymgrMetrics: keymgr.NewMetrics(),
	})
	if err != nil {
		return err
	}
	var cleanup app.Cleanup
	cleanup.Add(s.Close)

	g, errCtx := errgroup.WithContext(ctx)

	check := globalCfg.General.CheckInterval.Duration
	lifecycle := periodic.StartWithMetrics(s.scheduler,
		periodic.NewMetrics(s.scheduler.Name()), check, check)
	cleanup.Add(func() error { lifecycle.Stop(); return nil })

	purge := globalCfg.General.PurgeInterval.Duration
	purger := cleaner.New(s.scheduler.Purge, "keymgr_keys", cleaner.NewMetrics("keys"))
	purgeTask := periodic.StartWithMetrics(purger, periodic.NewMetrics(purger.Name()),
		purge, purge)
	cleanup.Add(func() error { purgeTask.Stop(); return nil })

	log.Info("Managing zones", "zones", s.scheduler.Zones(), "check_interval", check,
		"purge_interval", purge)

	if globalCfg.API.Addr != "" {
		server := mgmtapi.Server{
			Zones:    s.scheduler,
			Config:   mgmtapi.ConfigHandler(&globalCfg),
			Info:     mgmtapi.InfoHandler(env.VersionInfo()),
			LogLevel: log.ConsoleLevel(),
		}
		log.Info("Exposing API", "addr", globalCfg.API.Addr)
		mgmtServer := &http.Server{
			Addr:    globalCfg.API.Addr,
			Handler: server.Handler(),
		}
		cleanup.Add(mgmtServer.Close)
		g.Go(func() error {
			defer log.HandlePanic()
			err := mgmtServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return serrors.Wrap("serving management API", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer log.HandlePanic()
		return globalCfg.Metrics.ServePrometheus(errCtx)
	})
	g.Go(func() error {
		defer log.HandlePanic()
		<-errCtx.Done()
		return cleanup.Do()
	})
	if err := g.Wait(); err != nil {
		return serrors.Wrap("running key manager", err)
	}
	return nil
}
