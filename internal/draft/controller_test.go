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
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type detailErr struct{ detail string }

func (e detailErr) Error() string         { return "service: " + e.detail }
func (e detailErr) ServiceDetail() string { return e.detail }

// stubService records calls and answers deterministically.
type stubService struct {
	mu    sync.Mutex
	calls []string
	round int
	err   error
	text  TextOverlay
	n     int

	lastText     TextOverlay
	lastSelected int
	lastOrigs    []string

	// block, when non-nil, holds every call until it is closed
	block chan struct{}
}

func newStub() *stubService {
	return &stubService{n: 3, text: TextOverlay{Heading: "PIZZA", Subheading: "at home", Label: "NEW"}}
}

func (s *stubService) result(kind string) (Result, error) {
	s.mu.Lock()
	s.round++
	r := s.round
	err, n, text := s.err, s.n, s.text
	s.mu.Unlock()
	if err != nil {
		return Result{}, err
	}
	var res Result
	res.Text = text
	for i := 0; i < n; i++ {
		res.Originals = append(res.Originals, fmt.Sprintf("orig-%s-%d-%d", kind, r, i))
		res.Thumbnails = append(res.Thumbnails, fmt.Sprintf("thumb-%s-%d-%d", kind, r, i))
	}
	return res, nil
}

func (s *stubService) enter(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	b := s.block
	s.mu.Unlock()
	if b != nil {
		<-b
	}
}

func (s *stubService) GenerateThumbnails(_ context.Context, idea string) (Result, error) {
	s.enter("generate")
	return s.result("gen")
}

func (s *stubService) RegenerateImages(_ context.Context, idea string, text TextOverlay, selected int) (Result, error) {
	s.enter("regenerate-images")
	s.mu.Lock()
	s.lastText, s.lastSelected = text, selected
	s.mu.Unlock()
	res, err := s.result("img")
	// the service echoes the text it was given; the controller must ignore it
	res.Text = TextOverlay{Heading: "ECHO"}
	return res, err
}

func (s *stubService) RegenerateAll(_ context.Context, idea string) (Result, error) {
	s.enter("regenerate-all")
	return s.result("all")
}

func (s *stubService) UpdateThumbnails(_ context.Context, originals []string, text TextOverlay) ([]string, error) {
	s.enter("update")
	s.mu.Lock()
	s.lastText, s.lastOrigs = text, append([]string(nil), originals...)
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(originals))
	for i, o := range originals {
		out[i] = o + "+" + text.Heading + "|" + text.Subheading + "|" + text.Label + "|" + text.Date
	}
	return out, nil
}

func (s *stubService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var fixedNow = time.Date(2025, time.July, 6, 9, 30, 0, 0, time.UTC)

func newController(svc Service, opts ...Option) *Controller {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithID("draft-1")}, opts...)
	return New(svc, opts...)
}

func mustGenerate(t *testing.T, c *Controller) {
	t.Helper()
	c.SetIdea("How to make pizza")
	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGenerateReplacesEverything(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)

	st := c.State()
	if st.Status != StatusIdle || st.Message != "" {
		t.Fatalf("status = %v %q, want idle", st.Status, st.Message)
	}
	if len(st.Rendered) != 3 || len(st.Originals) != 3 {
		t.Fatalf("want 3/3 assets, got %d/%d", len(st.Rendered), len(st.Originals))
	}
	if st.Text.Heading != "PIZZA" || st.Text.Date != "6th July, 2025" {
		t.Fatalf("unexpected text: %+v", st.Text)
	}
	if st.HasSelection() {
		t.Fatalf("selection should be cleared")
	}
}

func TestGenerateKeepsServiceDate(t *testing.T) {
	svc := newStub()
	svc.text.Date = "1st January, 2030"
	c := newController(svc)
	mustGenerate(t, c)
	if got := c.State().Text.Date; got != "1st January, 2030" {
		t.Fatalf("date = %q", got)
	}
}

func TestEmptyIdeaNeverCallsService(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	for _, idea := range []string{"", "   ", "\n\t"} {
		c.SetIdea(idea)
		for name, op := range map[string]func(context.Context) error{"generate": c.Generate, "regenerate-all": c.RegenerateAll} {
			err := op(context.Background())
			var verr *ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, ErrEmptyIdea) {
				t.Fatalf("%s(%q): err = %v, want ErrEmptyIdea", name, idea, err)
			}
			st := c.State()
			if st.Status != StatusError || st.Message != MsgEnterIdea {
				t.Fatalf("%s: status %v %q", name, st.Status, st.Message)
			}
		}
	}
	if n := svc.callCount(); n != 0 {
		t.Fatalf("service called %d times", n)
	}
}

func TestRegenerateImagesRequiresSelection(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)
	before := c.State()

	err := c.RegenerateImages(context.Background())
	if !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v, want ErrNoSelection", err)
	}
	after := c.State()
	if after.Message != MsgSelectThumbnail || after.Status != StatusError {
		t.Fatalf("unexpected status %v %q", after.Status, after.Message)
	}
	if !reflect.DeepEqual(before.Rendered, after.Rendered) || !reflect.DeepEqual(before.Originals, after.Originals) || before.Text != after.Text {
		t.Fatalf("validation failure mutated the draft")
	}
	if n := svc.callCount(); n != 1 {
		t.Fatalf("service calls = %d, want 1 (generate only)", n)
	}
}

func TestUpdateTextRequiresOriginals(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	err := c.UpdateTextOnly(context.Background())
	if !errors.Is(err, ErrNoOriginals) {
		t.Fatalf("err = %v, want ErrNoOriginals", err)
	}
	if svc.callCount() != 0 {
		t.Fatalf("service must not be called")
	}
}

// Generate, select the 2nd thumbnail, edit the heading, update text only.
func TestScenarioEditTextThenUpdate(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)
	if err := c.Select(1); err != nil {
		t.Fatalf("Select: %v", err)
	}
	before := c.State()
	if err := c.EditText(FieldHeading, "PERFECT PIZZA"); err != nil {
		t.Fatalf("EditText: %v", err)
	}
	if err := c.UpdateTextOnly(context.Background()); err != nil {
		t.Fatalf("UpdateTextOnly: %v", err)
	}
	st := c.State()
	if !reflect.DeepEqual(svc.lastOrigs, before.Originals) {
		t.Fatalf("update sent %v, want originals %v", svc.lastOrigs, before.Originals)
	}
	if !reflect.DeepEqual(st.Originals, before.Originals) {
		t.Fatalf("originals changed")
	}
	if st.Selection != 1 {
		t.Fatalf("selection = %d, want 1", st.Selection)
	}
	if st.Idea != before.Idea || st.Text.Heading != "PERFECT PIZZA" {
		t.Fatalf("idea or text changed: %+v", st)
	}
	if len(st.Rendered) != len(st.Originals) {
		t.Fatalf("length invariant broken")
	}
	for i, r := range st.Rendered {
		if r == before.Rendered[i] {
			t.Fatalf("thumbnail %d not re-rendered", i)
		}
	}
}

func TestUpdateTextIsIdempotent(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)
	if err := c.UpdateTextOnly(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := c.State()
	if err := c.UpdateTextOnly(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := c.State()
	if !reflect.DeepEqual(first.Rendered, second.Rendered) || !reflect.DeepEqual(first.Originals, second.Originals) || first.Text != second.Text {
		t.Fatalf("second update changed the draft")
	}
}

func TestScenarioRegenerateImagesKeepsText(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)
	c.SetText(TextOverlay{Heading: "MINE", Subheading: "sub", Label: "lbl", Date: "today"})
	if err := c.Select(0); err != nil {
		t.Fatal(err)
	}
	before := c.State()
	if err := c.RegenerateImages(context.Background()); err != nil {
		t.Fatalf("RegenerateImages: %v", err)
	}
	st := c.State()
	if svc.lastSelected != 0 || svc.lastText != before.Text {
		t.Fatalf("request carried selected=%d text=%+v", svc.lastSelected, svc.lastText)
	}
	if st.Text != before.Text {
		t.Fatalf("text replaced by response: %+v", st.Text)
	}
	if st.HasSelection() {
		t.Fatalf("selection should be cleared")
	}
	if reflect.DeepEqual(st.Originals, before.Originals) || reflect.DeepEqual(st.Rendered, before.Rendered) {
		t.Fatalf("asset sets not replaced")
	}
}

func TestScenarioRegenerateAll(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)
	_ = c.EditText(FieldLabel, "OLD")
	_ = c.Select(2)
	svc.text = TextOverlay{Heading: "FRESH"}
	if err := c.RegenerateAll(context.Background()); err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	st := c.State()
	if st.Text.Heading != "FRESH" || st.Text.Label != "" || st.Text.Date != "6th July, 2025" {
		t.Fatalf("unexpected text %+v", st.Text)
	}
	if st.HasSelection() {
		t.Fatalf("selection should be cleared")
	}
	if c.UndoText() {
		t.Fatalf("edit history should be reset by a fresh overlay")
	}
}

func TestServiceFailurePreservesState(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)
	_ = c.Select(1)
	before := c.State()

	cases := []struct {
		name string
		err  error
		want string
		run  func(context.Context) error
	}{
		{"detail", detailErr{"quota exceeded"}, "quota exceeded", c.RegenerateAll},
		{"no detail", errors.New("connection refused"), "Error regenerating all", c.RegenerateAll},
		{"generate fallback", errors.New("boom"), "Error generating thumbnails", c.Generate},
		{"update fallback", errors.New("boom"), "Error updating thumbnails", c.UpdateTextOnly},
		{"images fallback", detailErr{"  "}, "Error regenerating images", c.RegenerateImages},
	}
	for _, tc := range cases {
		svc.mu.Lock()
		svc.err = tc.err
		svc.mu.Unlock()
		err := tc.run(context.Background())
		var oerr *OperationError
		if !errors.As(err, &oerr) || oerr.Message != tc.want {
			t.Fatalf("%s: err = %v, want message %q", tc.name, err, tc.want)
		}
		if !errors.Is(err, tc.err) {
			t.Fatalf("%s: cause not wrapped", tc.name)
		}
		st := c.State()
		if st.Status != StatusError || st.Message != tc.want {
			t.Fatalf("%s: status %v %q", tc.name, st.Status, st.Message)
		}
		if st.Idea != before.Idea || st.Text != before.Text || st.Selection != before.Selection ||
			!reflect.DeepEqual(st.Rendered, before.Rendered) || !reflect.DeepEqual(st.Originals, before.Originals) {
			t.Fatalf("%s: failure mutated the draft", tc.name)
		}
	}
}

func TestMismatchedResultIsRejected(t *testing.T) {
	svc := &badLengthService{stubService: newStub()}
	c := newController(svc)
	c.SetIdea("x")
	err := c.Generate(context.Background())
	if !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("err = %v, want ErrInvalidResult", err)
	}
	if st := c.State(); len(st.Rendered) != 0 || st.Message != "Error generating thumbnails" {
		t.Fatalf("partial result applied: %+v", st)
	}
}

type badLengthService struct{ *stubService }

func (b *badLengthService) GenerateThumbnails(ctx context.Context, idea string) (Result, error) {
	r, err := b.stubService.GenerateThumbnails(ctx, idea)
	r.Originals = r.Originals[:1]
	return r, err
}

func TestBusyGuard(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)

	svc.mu.Lock()
	svc.block = make(chan struct{})
	svc.mu.Unlock()

	entered := make(chan struct{})
	cancel := c.Subscribe(func(s State) {
		if s.Status == StatusPending {
			close(entered)
		}
	})
	done := make(chan error, 1)
	go func() { done <- c.RegenerateAll(context.Background()) }()
	<-entered
	cancel()

	for name, op := range map[string]func(context.Context) error{
		"generate": c.Generate, "regenerate-all": c.RegenerateAll,
		"regenerate-images": c.RegenerateImages, "update": c.UpdateTextOnly,
	} {
		if err := op(context.Background()); !errors.Is(err, ErrBusy) {
			t.Fatalf("%s while pending: err = %v, want ErrBusy", name, err)
		}
	}
	if st := c.State(); st.Status != StatusPending {
		t.Fatalf("busy rejection changed status to %v", st.Status)
	}
	if !c.View().Loading {
		t.Fatalf("view should report loading")
	}

	close(svc.block)
	if err := <-done; err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if n := svc.callCount(); n != 2 {
		t.Fatalf("service calls = %d, want 2", n)
	}
}

func TestPreviewSnapshotAndClearing(t *testing.T) {
	svc := newStub()
	c := newController(svc)
	mustGenerate(t, c)
	if err := c.OpenPreview(2); err != nil {
		t.Fatal(err)
	}
	ref := c.State().Rendered[2]
	_ = c.Select(0)
	if p := c.State().Preview; p == nil || p.Index != 2 || p.Ref != ref {
		t.Fatalf("preview should be independent of selection: %+v", p)
	}

	// a smaller result removes index 2
	svc.n = 2
	if err := c.RegenerateAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p := c.State().Preview; p != nil {
		t.Fatalf("stale preview kept: %+v", p)
	}
	if err := c.OpenPreview(5); !errors.Is(err, ErrIndexRange) {
		t.Fatalf("err = %v, want ErrIndexRange", err)
	}
	_ = c.OpenPreview(1)
	c.ClosePreview()
	if c.State().Preview != nil {
		t.Fatalf("ClosePreview did not clear")
	}
}

func TestSelectOutOfRange(t *testing.T) {
	c := newController(newStub())
	if err := c.Select(0); !errors.Is(err, ErrIndexRange) {
		t.Fatalf("err = %v", err)
	}
}

func TestUndoRedoText(t *testing.T) {
	c := newController(newStub())
	mustGenerate(t, c)
	// clock is fixed, so consecutive edits coalesce into one undo step
	_ = c.EditText(FieldHeading, "A")
	_ = c.EditText(FieldHeading, "AB")
	if !c.UndoText() {
		t.Fatalf("expected undo")
	}
	if got := c.State().Text.Heading; got != "PIZZA" {
		t.Fatalf("heading after undo = %q, want PIZZA", got)
	}
	if !c.RedoText() {
		t.Fatalf("expected redo")
	}
	if got := c.State().Text.Heading; got != "AB" {
		t.Fatalf("heading after redo = %q, want AB", got)
	}
	if err := c.EditText(Field("color"), "red"); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestEventsAndSubscribers(t *testing.T) {
	var events []Event
	c := newController(newStub(), WithEvents(func(e Event) { events = append(events, e) }))
	var states []Status
	c.Subscribe(func(s State) { states = append(states, s.Status) })

	c.SetIdea("idea")
	_ = c.Generate(context.Background())
	_ = c.RegenerateImages(context.Background()) // validation failure, no event

	if len(events) != 1 || events[0].Op != OpGenerate || events[0].Count != 3 || events[0].Err != nil || events[0].Idea != "idea" {
		t.Fatalf("unexpected events: %+v", events)
	}
	want := []Status{StatusIdle, StatusPending, StatusIdle, StatusError}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
}

// armingService calls arm once the update request has been answered.
type armingService struct {
	*stubService
	arm func()
}

func (a armingService) UpdateThumbnails(ctx context.Context, originals []string, text TextOverlay) ([]string, error) {
	out, err := a.stubService.UpdateThumbnails(ctx, originals, text)
	a.arm()
	return out, err
}

func TestSubscribersEndOnLatestState(t *testing.T) {
	var (
		armed   atomic.Bool
		calls   atomic.Int32
		paused  = make(chan struct{})
		release = make(chan struct{})
	)
	// Once armed, the second clock read is the one finish makes after
	// releasing the lock; hold it there so an edit can land first.
	clock := func() time.Time {
		if armed.Load() && calls.Add(1) == 2 {
			close(paused)
			<-release
		}
		return fixedNow
	}
	c := New(armingService{newStub(), func() { armed.Store(true) }}, WithClock(clock), WithID("draft-1"))
	mustGenerate(t, c)

	var (
		mu   sync.Mutex
		last State
	)
	c.Subscribe(func(s State) {
		mu.Lock()
		last = s
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- c.UpdateTextOnly(context.Background()) }()
	<-paused
	if err := c.EditText(FieldHeading, "EDITED"); err != nil {
		t.Fatalf("EditText: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("UpdateTextOnly: %v", err)
	}

	mu.Lock()
	got := last
	mu.Unlock()
	if got.Text.Heading != "EDITED" {
		t.Fatalf("subscriber ended on heading %q, want EDITED", got.Text.Heading)
	}
	if want := c.State(); !reflect.DeepEqual(got, want) {
		t.Fatalf("subscriber state differs from controller:\n got %+v\nwant %+v", got, want)
	}
}

func TestRestore(t *testing.T) {
	saved := State{
		ID:        "abc",
		Idea:      "idea",
		Originals: []string{"o1", "o2"},
		Rendered:  []string{"r1", "r2"},
		Selection: 5,
		Status:    StatusPending,
		Preview:   &Preview{Index: 1, Ref: "r1"},
	}
	c := Restore(newStub(), saved, WithClock(func() time.Time { return fixedNow }))
	st := c.State()
	if st.ID != "abc" || st.Status != StatusIdle || st.HasSelection() {
		t.Fatalf("unexpected restored state: %+v", st)
	}
	if st.Preview == nil || st.Preview.Index != 1 {
		t.Fatalf("valid preview dropped")
	}
	saved.Rendered[0] = "mutated"
	if c.State().Rendered[0] != "r1" {
		t.Fatalf("Restore must copy slices")
	}
}
