/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a report file plus a snapshot of the open draft.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"thumbdraft/internal/draft"
	applog "thumbdraft/internal/log"
	"thumbdraft/internal/storage"
	"thumbdraft/internal/telemetry"
	"thumbdraft/internal/version"
)

// exitFn lets tests observe the exit code.
var exitFn = os.Exit

// Target is what a crash should preserve. Both fields are optional.
type Target struct {
	Store *storage.Store
	// Draft returns the draft to snapshot; false means nothing is open.
	Draft func() (draft.State, bool)
}

// Recover captures a panic, logs it with the stack, writes a crash report,
// snapshots the open draft and exits with status 2.
//
// Usage: defer crash.Recover(t)
func Recover(t *Target) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	reportPath, err := writeReport(t, r, stack)
	if err != nil {
		l.Error("crash report failed", slog.Any("err", err))
	}
	if path, err := snapshot(t); err != nil {
		l.Error("draft snapshot failed", slog.Any("err", err))
	} else if path != "" {
		l.Info("draft snapshot written", slog.String("path", path))
	}

	_, _ = fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath)
	_, _ = fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH)
	_ = applog.Close()
	exitFn(2)
}

func snapshot(t *Target) (string, error) {
	if t == nil || t.Store == nil || t.Draft == nil {
		return "", nil
	}
	st, ok := t.Draft()
	if !ok || st.ID == "" {
		return "", nil
	}
	return t.Store.AutosaveCrash(st)
}

func reportDir(t *Target) string {
	if t != nil && t.Store != nil {
		dir := t.Store.BackupsDir()
		if err := os.MkdirAll(dir, 0o755); err == nil {
			return dir
		}
	}
	return os.TempDir()
}

func writeReport(t *Target, panicVal any, stack []byte) (string, error) {
	now := time.Now()
	path := filepath.Join(reportDir(t), fmt.Sprintf("crash-%s.log", now.Format("20060102-150405")))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Thumbdraft Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", now.Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if t != nil && t.Store != nil {
		_, _ = fmt.Fprintf(&buf, "DraftsDir: %s\n", t.Store.Dir)
	}
	if t != nil && t.Draft != nil {
		if st, ok := t.Draft(); ok {
			// ids only, the idea text stays local
			_, _ = fmt.Fprintf(&buf, "Draft: %s (status %s, %d thumbnails)\n", st.ID, st.Status, len(st.Rendered))
		}
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
