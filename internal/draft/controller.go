/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	applog "thumbdraft/internal/log"
	"thumbdraft/internal/undo"
)

// Controller owns one draft. All methods are safe for concurrent use; at most one
// service request is in flight at any time and a second one is refused with ErrBusy.
//
// Service calls run without holding the lock. The request is built from a snapshot
// taken when the draft enters StatusPending and the response is applied in a single
// swap, so observers never see a half-applied result.
type Controller struct {
	svc Service
	now func() time.Time
	log *slog.Logger

	mu      sync.Mutex
	st      State
	hist    *undo.Manager
	events  []func(Event)
	subs    map[int]func(State)
	nextSub int
	seq     uint64 // bumped under mu for every state handed to subscribers

	// deliverMu orders deliveries; delivered is the newest seq handed out.
	deliverMu sync.Mutex
	delivered uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now, which is used for timestamps and the default date.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithID fixes the draft id instead of generating a UUID.
func WithID(id string) Option { return func(c *Controller) { c.st.ID = id } }

// WithHistory shares an undo manager for text edits.
func WithHistory(m *undo.Manager) Option { return func(c *Controller) { c.hist = m } }

// WithEvents registers fn to receive an Event after every completed request.
func WithEvents(fn func(Event)) Option {
	return func(c *Controller) { c.events = append(c.events, fn) }
}

// New returns an empty draft bound to svc.
func New(svc Service, opts ...Option) *Controller {
	c := &Controller{
		svc:  svc,
		now:  time.Now,
		log:  applog.WithComponent("draft"),
		st:   State{ID: uuid.NewString(), Selection: NoSelection},
		subs: map[int]func(State){},
	}
	for _, o := range opts {
		o(c)
	}
	if c.hist == nil {
		c.hist = undo.NewManager(undo.Config{MaxDepth: 200})
	}
	c.st.UpdatedAt = c.now()
	return c
}

// Restore returns a controller continuing a previously saved state. A saved pending
// status becomes idle because its request did not survive; a selection or preview
// pointing past the rendered set is dropped.
func Restore(svc Service, s State, opts ...Option) *Controller {
	c := New(svc, opts...)
	s = s.clone()
	if s.ID == "" {
		s.ID = c.st.ID
	}
	if s.Status == StatusPending {
		s.Status = StatusIdle
	}
	if s.Selection < 0 || s.Selection >= len(s.Rendered) {
		s.Selection = NoSelection
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = c.now()
	}
	c.st = s
	c.dropStalePreviewLocked()
	return c
}

// ID returns the draft id.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.ID
}

// State returns a deep copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.clone()
}

// Subscribe calls fn with a copy of the state after every change. fn runs on the
// goroutine that caused the change and must not block or modify the draft.
// A state overtaken by a newer one before delivery is skipped.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Generate creates a fresh set of thumbnails and text for the idea.
func (c *Controller) Generate(ctx context.Context) error {
	return c.regenerate(ctx, OpGenerate, c.svc.GenerateThumbnails)
}

// RegenerateAll starts over: new text and new images for the idea.
func (c *Controller) RegenerateAll(ctx context.Context) error {
	return c.regenerate(ctx, OpRegenerateAll, c.svc.RegenerateAll)
}

func (c *Controller) regenerate(ctx context.Context, op Op, call func(context.Context, string) (Result, error)) error {
	snap, err := c.begin(op, requireIdea)
	if err != nil {
		return err
	}
	started := c.now()
	res, err := call(ctx, snap.Idea)
	if err == nil {
		err = checkResult(res)
	}
	return c.finish(op, snap, started, err, func(st *State) {
		text := res.Text
		if text.Date == "" {
			text.Date = OrdinalDate(c.now())
		}
		st.Text = text
		st.Originals = append([]string(nil), res.Originals...)
		st.Rendered = append([]string(nil), res.Thumbnails...)
		st.Selection = NoSelection
		c.hist.Clear(st.ID)
	})
}

// RegenerateImages asks for new background images around the selected thumbnail,
// keeping the current text. Both image sets are replaced and the selection cleared.
func (c *Controller) RegenerateImages(ctx context.Context) error {
	snap, err := c.begin(OpRegenerateImages, requireSelection)
	if err != nil {
		return err
	}
	started := c.now()
	res, err := c.svc.RegenerateImages(ctx, snap.Idea, snap.Text, snap.Selection)
	if err == nil {
		err = checkResult(res)
	}
	return c.finish(OpRegenerateImages, snap, started, err, func(st *State) {
		st.Originals = append([]string(nil), res.Originals...)
		st.Rendered = append([]string(nil), res.Thumbnails...)
		st.Selection = NoSelection
	})
}

// UpdateTextOnly re-renders the current text onto the retained original images.
// Only the rendered set changes; the selection stays on the same index.
func (c *Controller) UpdateTextOnly(ctx context.Context) error {
	snap, err := c.begin(OpUpdateText, requireOriginals)
	if err != nil {
		return err
	}
	started := c.now()
	thumbs, err := c.svc.UpdateThumbnails(ctx, snap.Originals, snap.Text)
	if err == nil && len(thumbs) != len(snap.Originals) {
		err = fmt.Errorf("%w: %d thumbnails for %d originals", ErrInvalidResult, len(thumbs), len(snap.Originals))
	}
	return c.finish(OpUpdateText, snap, started, err, func(st *State) {
		st.Rendered = append([]string(nil), thumbs...)
	})
}

func requireIdea(s State) *ValidationError {
	if isBlank(s.Idea) {
		return &ValidationError{Message: MsgEnterIdea, Err: ErrEmptyIdea}
	}
	return nil
}

func requireSelection(s State) *ValidationError {
	if !s.HasSelection() {
		return &ValidationError{Message: MsgSelectThumbnail, Err: ErrNoSelection}
	}
	return nil
}

func requireOriginals(s State) *ValidationError {
	if len(s.Originals) == 0 {
		return &ValidationError{Message: MsgNoOriginals, Err: ErrNoOriginals}
	}
	return nil
}

func checkResult(r Result) error {
	if len(r.Thumbnails) != len(r.Originals) {
		return fmt.Errorf("%w: %d thumbnails for %d originals", ErrInvalidResult, len(r.Thumbnails), len(r.Originals))
	}
	return nil
}

// begin moves the draft into StatusPending and returns the request snapshot.
// A failed precondition puts the draft into StatusError instead.
func (c *Controller) begin(op Op, check func(State) *ValidationError) (State, error) {
	c.mu.Lock()
	if c.st.Status == StatusPending {
		c.mu.Unlock()
		return State{}, ErrBusy
	}
	if verr := check(c.st); verr != nil {
		verr.Op = op
		c.st.Status = StatusError
		c.st.Message = verr.Message
		c.st.UpdatedAt = c.now()
		s, seq := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Debug("precondition failed", slog.String("op", string(op)), slog.String("draft", s.ID), slog.String("reason", verr.Err.Error()))
		c.notify(s, seq)
		return State{}, verr
	}
	c.st.Status = StatusPending
	c.st.Message = ""
	c.st.UpdatedAt = c.now()
	s, seq := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(s, seq)
	return s, nil
}

// finish applies a successful result or records the failure, leaving every other
// field as it was.
func (c *Controller) finish(op Op, snap State, started time.Time, err error, apply func(*State)) error {
	c.mu.Lock()
	if err != nil {
		msg := failureMessage(op, err)
		c.st.Status = StatusError
		c.st.Message = msg
		err = &OperationError{Op: op, Message: msg, Err: err}
	} else {
		apply(&c.st)
		c.st.Status = StatusIdle
		c.st.Message = ""
		c.dropStalePreviewLocked()
	}
	c.st.UpdatedAt = c.now()
	s, seq := c.snapshotLocked()
	events := slices.Clone(c.events)
	c.mu.Unlock()

	dur := c.now().Sub(started)
	l := applog.WithOperation(c.log, string(op)).With(slog.String("draft", s.ID), slog.Duration("took", dur))
	if err != nil {
		l.Warn("operation failed", slog.String("error", err.Error()))
	} else {
		l.Info("operation finished", slog.Int("thumbnails", len(s.Rendered)))
	}
	c.notify(s, seq)
	ev := Event{Op: op, DraftID: s.ID, Idea: snap.Idea, Text: s.Text, Count: len(s.Rendered), Err: err, Started: started, Duration: dur}
	for _, fn := range events {
		fn(ev)
	}
	return err
}

func (c *Controller) dropStalePreviewLocked() {
	if p := c.st.Preview; p != nil && (p.Index < 0 || p.Index >= len(c.st.Rendered)) {
		c.st.Preview = nil
	}
}

// snapshotLocked copies the state for subscribers and numbers it. c.mu must be held.
func (c *Controller) snapshotLocked() (State, uint64) {
	c.seq++
	return c.st.clone(), c.seq
}

// notify hands s to the subscribers unless a newer state already went out,
// so the last state a subscriber sees is always the current one.
func (c *Controller) notify(s State, seq uint64) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if seq <= c.delivered {
		return
	}
	c.delivered = seq
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// mutate runs fn under the lock and notifies subscribers if it reports a change.
func (c *Controller) mutate(fn func(st *State) (bool, error)) error {
	c.mu.Lock()
	changed, err := fn(&c.st)
	if err != nil || !changed {
		c.mu.Unlock()
		return err
	}
	c.st.UpdatedAt = c.now()
	s, seq := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(s, seq)
	return nil
}

// SetIdea replaces the idea text. A request already in flight keeps the idea it was sent with.
func (c *Controller) SetIdea(idea string) {
	_ = c.mutate(func(st *State) (bool, error) {
		if st.Idea == idea {
			return false, nil
		}
		st.Idea = idea
		return true, nil
	})
}

// EditText changes a single overlay field. Edits are undoable with UndoText.
func (c *Controller) EditText(f Field, value string) error {
	if _, err := ParseField(string(f)); err != nil {
		return err
	}
	return c.mutate(func(st *State) (bool, error) {
		if st.Text.Get(f) == value {
			return false, nil
		}
		c.recordTextLocked(st)
		st.Text = st.Text.With(f, value)
		return true, nil
	})
}

// SetText replaces the whole overlay as one undoable edit.
func (c *Controller) SetText(t TextOverlay) {
	_ = c.mutate(func(st *State) (bool, error) {
		if st.Text == t {
			return false, nil
		}
		c.recordTextLocked(st)
		st.Text = t
		return true, nil
	})
}

func (c *Controller) recordTextLocked(st *State) {
	blob, _ := json.Marshal(st.Text)
	c.hist.Record(undo.Snapshot{Key: st.ID, Blob: blob, TS: c.now()})
}

// UndoText reverts the last overlay edit. It reports false when there is nothing to undo.
func (c *Controller) UndoText() bool { return c.stepText(c.hist.Undo) }

// RedoText reapplies an undone overlay edit.
func (c *Controller) RedoText() bool { return c.stepText(c.hist.Redo) }

func (c *Controller) stepText(step func(string, []byte) (undo.Snapshot, bool)) bool {
	ok := false
	_ = c.mutate(func(st *State) (bool, error) {
		cur, err := json.Marshal(st.Text)
		if err != nil {
			return false, err
		}
		snap, found := step(st.ID, cur)
		if !found {
			return false, nil
		}
		var t TextOverlay
		if err := json.Unmarshal(snap.Blob, &t); err != nil {
			return false, err
		}
		st.Text = t
		ok = true
		return true, nil
	})
	return ok
}

// Select marks the rendered thumbnail at index i.
func (c *Controller) Select(i int) error {
	return c.mutate(func(st *State) (bool, error) {
		if i < 0 || i >= len(st.Rendered) {
			return false, fmt.Errorf("%w: %d (have %d)", ErrIndexRange, i, len(st.Rendered))
		}
		if st.Selection == i {
			return false, nil
		}
		st.Selection = i
		return true, nil
	})
}

// ClearSelection removes the selection.
func (c *Controller) ClearSelection() {
	_ = c.mutate(func(st *State) (bool, error) {
		if st.Selection == NoSelection {
			return false, nil
		}
		st.Selection = NoSelection
		return true, nil
	})
}

// OpenPreview snapshots the rendered thumbnail at index i for full-size viewing.
// The preview keeps showing that image until closed or until the index disappears.
func (c *Controller) OpenPreview(i int) error {
	return c.mutate(func(st *State) (bool, error) {
		if i < 0 || i >= len(st.Rendered) {
			return false, fmt.Errorf("%w: %d (have %d)", ErrIndexRange, i, len(st.Rendered))
		}
		st.Preview = &Preview{Index: i, Ref: st.Rendered[i]}
		return true, nil
	})
}

// ClosePreview dismisses the preview.
func (c *Controller) ClosePreview() {
	_ = c.mutate(func(st *State) (bool, error) {
		if st.Preview == nil {
			return false, nil
		}
		st.Preview = nil
		return true, nil
	})
}

// DismissError returns an errored draft to idle without touching anything else.
func (c *Controller) DismissError() {
	_ = c.mutate(func(st *State) (bool, error) {
		if st.Status != StatusError {
			return false, nil
		}
		st.Status = StatusIdle
		st.Message = ""
		return true, nil
	})
}
