/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"thumbdraft/internal/backend"
	"thumbdraft/internal/config"
	"thumbdraft/internal/crash"
	"thumbdraft/internal/draft"
	"thumbdraft/internal/history"
	applog "thumbdraft/internal/log"
	"thumbdraft/internal/storage"
	"thumbdraft/internal/telemetry"
)

// cli carries what the commands share within one invocation.
type cli struct {
	out   io.Writer
	log   *slog.Logger
	cfg   config.AppConfig
	token string
	store *storage.Store
	crash *crash.Target

	hist     *history.Store
	histDone bool
	tel      *telemetry.Client
	ctrl     *draft.Controller
}

// setup loads .env and the config file, initializes logging and opens the drafts store.
func (c *cli) setup() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, token, fileErr := config.Load()
	c.cfg, c.token = cfg, token
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	c.log = applog.WithComponent("cli")
	if fileErr != nil {
		c.log.Warn("config file ignored, using defaults", slog.Any("err", fileErr))
	}

	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	c.tel = telemetry.New(tcfg)
	telemetry.SetDefault(c.tel)

	store, err := storage.NewStore(cfg.General.DraftsDir)
	if err != nil {
		return err
	}
	c.store = store
	return nil
}

func (c *cli) close() {
	if c.hist != nil {
		_ = c.hist.Close()
	}
	if c.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c.tel.Flush(ctx)
		cancel()
		c.tel.Close()
	}
}

// historyStore opens the history index once. It is optional: a failure is
// logged and the commands carry on without it.
func (c *cli) historyStore(ctx context.Context) *history.Store {
	if c.histDone {
		return c.hist
	}
	c.histDone = true
	h, err := history.Open(ctx, c.cfg.General.HistoryDSN, c.store.Dir)
	if err != nil {
		c.log.Warn("history unavailable", slog.Any("err", err))
		return nil
	}
	c.hist = h
	return h
}

func (c *cli) service() draft.Service {
	return backend.NewClient(c.cfg.Generation.BaseURL, c.token,
		backend.WithTimeout(c.cfg.Generation.Timeout()),
		backend.WithTLSInsecure(c.cfg.Generation.TLSInsecure))
}

func (c *cli) controllerOptions(ctx context.Context) []draft.Option {
	var opts []draft.Option
	if h := c.historyStore(ctx); h != nil {
		opts = append(opts, draft.WithEvents(history.Hook(h)))
	}
	if c.tel.Enabled() {
		opts = append(opts, draft.WithEvents(c.tel.DraftHook()))
	}
	return opts
}

// newDraft starts an empty draft bound to the generation service.
func (c *cli) newDraft(ctx context.Context) *draft.Controller {
	c.ctrl = draft.New(c.service(), c.controllerOptions(ctx)...)
	return c.ctrl
}

// openDraft restores the draft named by ref (an id or unique prefix), or the
// current one when ref is empty.
func (c *cli) openDraft(ctx context.Context, ref string) (*draft.Controller, error) {
	var (
		id  string
		err error
	)
	if ref != "" {
		id, err = c.store.Resolve(ref)
	} else {
		id, err = c.store.Current()
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.New("no draft yet, start one with 'thumbdraft new <idea>'")
		}
	}
	if err != nil {
		return nil, err
	}
	sess, err := c.store.Open(id)
	if err != nil {
		return nil, err
	}
	c.ctrl = draft.Restore(c.service(), sess.Draft, c.controllerOptions(ctx)...)
	return c.ctrl, nil
}

// save persists the open draft and makes it current.
func (c *cli) save() error {
	if c.ctrl == nil {
		return nil
	}
	st := c.ctrl.State()
	if err := c.store.Save(st); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return c.store.SetCurrent(st.ID)
}

// opContext bounds one service call a little above the HTTP timeout.
func (c *cli) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.Generation.Timeout()+10*time.Second)
}
