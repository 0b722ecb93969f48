/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"os"
	"testing"
	"time"

	"thumbdraft/internal/draft"
	"thumbdraft/internal/storage"
)

var today = time.Date(2025, 7, 6, 9, 0, 0, 0, time.UTC)

func TestControlsFollowView(t *testing.T) {
	st := draft.State{Idea: "  ", Selection: draft.NoSelection}
	c := controlsFor(draft.Project(st, today))
	if c.Generate || c.ShowRegenerate || c.UpdateText || c.Export {
		t.Fatalf("empty draft controls = %+v", c)
	}

	st = draft.State{
		Idea:      "pizza",
		Originals: []string{"o1", "o2"},
		Rendered:  []string{"r1", "r2"},
		Selection: 1,
	}
	c = controlsFor(draft.Project(st, today))
	want := controls{Generate: true, ShowRegenerate: true, RegenerateImages: true, RegenerateAll: true, UpdateText: true, Export: true}
	if c != want {
		t.Fatalf("controls = %+v, want %+v", c, want)
	}

	st.Status = draft.StatusPending
	c = controlsFor(draft.Project(st, today))
	if c.Generate || c.RegenerateImages || c.RegenerateAll || c.UpdateText || c.Export || !c.ShowRegenerate {
		t.Fatalf("pending controls = %+v", c)
	}
}

func TestStatusLine(t *testing.T) {
	cases := []struct {
		name string
		st   draft.State
		want string
	}{
		{"empty", draft.State{Selection: draft.NoSelection}, "Enter a video idea and press Generate"},
		{"pending", draft.State{Status: draft.StatusPending, Selection: draft.NoSelection}, "Working..."},
		{"error", draft.State{Status: draft.StatusError, Message: "Error generating thumbnails", Selection: draft.NoSelection}, "Error generating thumbnails"},
		{"selected", draft.State{Rendered: []string{"a", "b", "c"}, Selection: 2}, "3 thumbnails, Thumbnail 3 selected"},
		{"unselected", draft.State{Rendered: []string{"a"}, Selection: draft.NoSelection}, "1 thumbnails, none selected"},
	}
	for _, tc := range cases {
		if got := statusLine(draft.Project(tc.st, today)); got != tc.want {
			t.Fatalf("%s: statusLine = %q, want %q", tc.name, got, tc.want)
		}
	}
	if generateLabel(draft.Project(draft.State{Status: draft.StatusPending}, today)) != "Generating..." {
		t.Fatalf("pending label")
	}
}

func TestAutosaverSkipsPendingAndDuplicates(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := newAutosaver(store)
	st := draft.State{ID: "d1", Idea: "pizza", Selection: draft.NoSelection, UpdatedAt: today}

	a.observe(draft.State{ID: "d1", Status: draft.StatusPending, UpdatedAt: today})
	if _, err := store.Open("d1"); err == nil {
		t.Fatalf("pending state must not be saved")
	}

	a.observe(st)
	sess, err := store.Open("d1")
	if err != nil || sess.Draft.Idea != "pizza" {
		t.Fatalf("Open = %+v, %v", sess, err)
	}
	if cur, err := store.Current(); err != nil || cur != "d1" {
		t.Fatalf("Current = %q, %v", cur, err)
	}

	// same UpdatedAt: no rewrite, so no backup is produced
	a.observe(st)
	list, _ := store.List()
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	var nilSaver *autosaver
	nilSaver.observe(st)
}

func TestAutosaverKeepsBackupsWhileTyping(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := newAutosaver(store)
	st := draft.State{ID: "d1", Idea: "pizza", Selection: draft.NoSelection}
	for i, r := range "PIZZA NIGHT" {
		st.Text.Heading += string(r)
		st.UpdatedAt = today.Add(time.Duration(i) * time.Second)
		a.observe(st)
	}
	sess, err := store.Open("d1")
	if err != nil || sess.Draft.Text.Heading != "PIZZA NIGHT" {
		t.Fatalf("Open = %+v, %v", sess.Draft.Text, err)
	}
	ents, err := os.ReadDir(store.BackupsDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) > 1 {
		t.Fatalf("typing produced %d backups, want at most 1", len(ents))
	}
}
