// Copyright 2025 Mortem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package run

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/history"
	"github.com/mortem-dev/mortem/internal/log"
	"github.com/mortem-dev/mortem/internal/session"
	"github.com/mortem-dev/mortem/internal/watch"
)

// watchLoop runs the target once, then re-runs it every time the watcher
// reports a rebuild, until ctx is canceled. A failed run leaves watch
// mode alive; the next rebuild gets a fresh chance.
func watchLoop(ctx context.Context, cfg *config.Config, opts options, target []string, ctrlOpts []session.Option, store *history.Store, logger *slog.Logger) error {
	watcher, err := watch.New(target[0], cfg.Watch, slog.Default())
	if err != nil {
		return cli.NewConfigError("failed to watch target binary", err)
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	for {
		_, err := runOnce(ctx, cfg, target, ctrlOpts, store, runTimeout(opts), logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("run failed", log.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-watcher.Triggers():
			logger.Info("target rebuilt, starting new run")
		}
	}
}
