/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui is the optional desktop front-end. The window itself needs the
// fyne build tag and cgo; the pieces here are shared by every build.
package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"thumbdraft/internal/crash"
	"thumbdraft/internal/draft"
	"thumbdraft/internal/export"
	applog "thumbdraft/internal/log"
	"thumbdraft/internal/storage"
)

// Deps is what the window drives.
type Deps struct {
	Controller *draft.Controller
	// Store, when set, receives the draft after every settled change.
	Store   *storage.Store
	Fetcher *export.Fetcher
	// ExportDir is the folder suggested for downloads.
	ExportDir string
	Crash     *crash.Target
}

// Validate reports missing required dependencies.
func (d Deps) Validate() error {
	if d.Controller == nil {
		return fmt.Errorf("ui: controller is required")
	}
	return nil
}

// controls is the enabled/visible state of the action buttons.
type controls struct {
	Generate         bool
	ShowRegenerate   bool
	RegenerateImages bool
	RegenerateAll    bool
	UpdateText       bool
	Export           bool
}

func controlsFor(v draft.View) controls {
	return controls{
		Generate:         v.CanGenerate,
		ShowRegenerate:   v.ShowRegenerate,
		RegenerateImages: v.CanRegenerateImages,
		RegenerateAll:    v.CanRegenerateAll,
		UpdateText:       v.CanUpdateText,
		Export:           !v.Loading && len(v.Thumbnails) > 0,
	}
}

// statusLine is the text of the bottom status bar.
func statusLine(v draft.View) string {
	switch {
	case v.Loading:
		return "Working..."
	case v.Error != "":
		return v.Error
	case len(v.Thumbnails) == 0:
		return "Enter a video idea and press Generate"
	}
	sel := "none selected"
	for _, t := range v.Thumbnails {
		if t.Selected {
			sel = t.Title + " selected"
			break
		}
	}
	return fmt.Sprintf("%d thumbnails, %s", len(v.Thumbnails), sel)
}

// generateLabel mirrors the button caption while a request is out.
func generateLabel(v draft.View) string {
	if v.Loading {
		return "Generating..."
	}
	return "Generate Thumbnails"
}

// autosaver persists settled states. Pending states are skipped since the
// controller restores them as idle anyway, and identical saves are coalesced.
type autosaver struct {
	store *storage.Store
	log   *slog.Logger

	mu   sync.Mutex
	last draft.State
	have bool
}

func newAutosaver(store *storage.Store) *autosaver {
	return &autosaver{store: store, log: applog.WithComponent("ui")}
}

func (a *autosaver) observe(s draft.State) {
	if a == nil || a.store == nil || s.Status == draft.StatusPending {
		return
	}
	a.mu.Lock()
	if a.have && a.last.UpdatedAt.Equal(s.UpdatedAt) && a.last.ID == s.ID {
		a.mu.Unlock()
		return
	}
	a.last, a.have = s, true
	a.mu.Unlock()
	if err := a.store.Autosave(s); err != nil {
		a.log.Error("autosave failed", slog.Any("err", err))
		return
	}
	if err := a.store.SetCurrent(s.ID); err != nil {
		a.log.Error("remember current draft failed", slog.String("draft", s.ID), slog.Any("err", err))
	}
}
