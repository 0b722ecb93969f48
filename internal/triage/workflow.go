/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package triage

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	applog "thumbdraft/internal/log"
)

// Group is one bucket of a grouping result.
type Group struct {
	Key      string
	Messages []Message
}

// Workflow holds the message list of the last search, the selection on it
// and an optional grouping. When a grouping is present it replaces the flat
// list for display.
type Workflow struct {
	svc Service
	log *slog.Logger

	mu       sync.Mutex
	authURL  string
	loggedIn bool
	query    string
	messages []Message
	selected map[string]bool
	groups   map[string][]Message
}

// NewWorkflow returns an empty workflow over svc.
func NewWorkflow(svc Service) *Workflow {
	return &Workflow{svc: svc, log: applog.WithComponent("triage"), selected: map[string]bool{}}
}

// Init fetches the login link.
func (w *Workflow) Init(ctx context.Context) error {
	u, err := w.svc.AuthURL(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.authURL = u
	w.mu.Unlock()
	return nil
}

// ShowLogin reports whether the login affordance should be offered instead
// of the message list.
func (w *Workflow) ShowLogin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.loggedIn && w.authURL != ""
}

// AuthURL is the login link fetched by Init.
func (w *Workflow) AuthURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.authURL
}

// Search replaces the list, clears selection and grouping and marks the
// session logged in.
func (w *Workflow) Search(ctx context.Context, query string) error {
	msgs, err := w.svc.Search(ctx, query)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			w.mu.Lock()
			w.loggedIn = false
			w.mu.Unlock()
		}
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.query = query
	w.messages = msgs
	w.selected = map[string]bool{}
	w.groups = nil
	w.loggedIn = true
	w.log.Debug("search", slog.Int("messages", len(msgs)))
	return nil
}

// Toggle marks id selected or not. Unknown ids are ignored.
func (w *Workflow) Toggle(id string, on bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.messages {
		if m.ID == id {
			if on {
				w.selected[id] = true
			} else {
				delete(w.selected, id)
			}
			return true
		}
	}
	return false
}

// SelectedIDs returns the selected ids in list order.
func (w *Workflow) SelectedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectedLocked()
}

func (w *Workflow) selectedLocked() []string {
	var ids []string
	for _, m := range w.messages {
		if w.selected[m.ID] {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Bulk applies action to the selection and re-runs the last search. With
// nothing selected it does nothing and returns 0.
func (w *Workflow) Bulk(ctx context.Context, action Action) (int, error) {
	w.mu.Lock()
	ids := w.selectedLocked()
	query := w.query
	w.mu.Unlock()
	if len(ids) == 0 {
		return 0, nil
	}
	if err := w.svc.BulkAction(ctx, action, ids); err != nil {
		return 0, err
	}
	w.log.Info("bulk action", slog.String("action", string(action)), slog.Int("count", len(ids)))
	return len(ids), w.Search(ctx, query)
}

// Group asks the service to group the last search's query.
func (w *Workflow) Group(ctx context.Context, by GroupBy) error {
	w.mu.Lock()
	query := w.query
	w.mu.Unlock()
	groups, err := w.svc.Group(ctx, query, by)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.groups = groups
	w.mu.Unlock()
	return nil
}

// Query is the query of the last successful search.
func (w *Workflow) Query() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.query
}

// LoggedIn reports whether a search has succeeded since the last 401.
func (w *Workflow) LoggedIn() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loggedIn
}

// Messages returns a copy of the flat list.
func (w *Workflow) Messages() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Message(nil), w.messages...)
}

// Grouped reports whether a grouping is being shown.
func (w *Workflow) Grouped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.groups != nil
}

// Groups returns the grouping sorted by key.
func (w *Workflow) Groups() []Group {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Group, 0, len(w.groups))
	for k, msgs := range w.groups {
		out = append(out, Group{Key: k, Messages: append([]Message(nil), msgs...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
