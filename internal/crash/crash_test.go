/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package crash

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"thumbdraft/internal/draft"
	"thumbdraft/internal/storage"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport(nil, "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "Thumbdraft Crash Report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
}

func TestWriteReportKeepsIdeaOut(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	target := &Target{Store: store, Draft: func() (draft.State, bool) {
		return draft.State{ID: "d1", Idea: "my private idea", Rendered: []string{"a", "b"}}, true
	}}
	path, err := writeReport(target, "kaboom", []byte("stack"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if filepath.Dir(path) != store.BackupsDir() {
		t.Fatalf("expected crash report under backups dir, got %s", path)
	}
	b, _ := os.ReadFile(path)
	if strings.Contains(string(b), "my private idea") {
		t.Fatalf("idea text leaked into report")
	}
	if !strings.Contains(string(b), "Draft: d1 (status idle, 2 thumbnails)") {
		t.Fatalf("draft line missing: %s", b)
	}
}

func TestRecoverSnapshotsDraft(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	code := 0
	oldExit := exitFn
	exitFn = func(c int) { code = c }
	defer func() { exitFn = oldExit }()

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	st := draft.State{ID: "d2", Idea: "unsaved idea", Selection: draft.NoSelection}
	target := &Target{Store: store, Draft: func() (draft.State, bool) { return st, true }}

	func() {
		defer Recover(target)
		panic("boom")
	}()

	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	var report, snap bool
	files, _ := os.ReadDir(store.BackupsDir())
	for _, f := range files {
		switch {
		case strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".log"):
			report = true
		case strings.HasPrefix(f.Name(), "d2.json.") && strings.HasSuffix(f.Name(), "-crash.bak"):
			snap = true
		}
	}
	if !report || !snap {
		t.Fatalf("report=%v snapshot=%v in %v", report, snap, files)
	}
	sess, err := store.Open("d2")
	if err != nil || sess.Draft.Idea != "unsaved idea" {
		t.Fatalf("snapshot not restorable: %+v, %v", sess, err)
	}
}

func TestRecoverWithoutPanicIsNoop(t *testing.T) {
	called := false
	oldExit := exitFn
	exitFn = func(int) { called = true }
	defer func() { exitFn = oldExit }()

	func() {
		defer Recover(nil)
	}()
	if called {
		t.Fatalf("exit must not be called without a panic")
	}
}
