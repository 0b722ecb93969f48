/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"thumbdraft/internal/backend"
	"thumbdraft/internal/config"
	applog "thumbdraft/internal/log"
	"thumbdraft/internal/telemetry"
	"thumbdraft/internal/triage"
)

type memTokens map[string]string

func (m memTokens) Get(service, key string) (string, error) { return m[service+"/"+key], nil }
func (m memTokens) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}
func (m memTokens) Delete(service, key string) error {
	delete(m, service+"/"+key)
	return nil
}

type harness struct {
	dev    *backend.DevServer
	dir    string
	tokens memTokens
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dev := backend.NewDevServer()
	gen := httptest.NewServer(dev.Handler())
	t.Cleanup(gen.Close)
	mail := httptest.NewServer(triage.NewMailbox(
		triage.Message{ID: "m1", Subject: "Newsletter one", From: "news@example.test", Date: "Mon, 7 Jul 2025"},
		triage.Message{ID: "m2", Subject: "Invoice", From: "billing@example.test", Date: "Mon, 7 Jul 2025"},
		triage.Message{ID: "m3", Subject: "Newsletter two", From: "news@example.test", Date: "Tue, 8 Jul 2025"},
	).Handler())
	t.Cleanup(mail.Close)

	dir := t.TempDir()
	t.Setenv(config.EnvConfigFile, filepath.Join(dir, "config.yaml"))
	t.Setenv(config.EnvDraftsDir, filepath.Join(dir, "drafts"))
	t.Setenv(config.EnvGenerationURL, gen.URL)
	t.Setenv(config.EnvTriageURL, mail.URL)
	t.Setenv(config.EnvHistoryDSN, "")
	t.Setenv(config.EnvToken, "")
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(telemetry.EnvOptIn, "")

	tokens := memTokens{}
	old := config.SetTokenStore(tokens)
	t.Cleanup(func() { config.SetTokenStore(old) })
	return &harness{dev: dev, dir: dir, tokens: tokens}
}

func (h *harness) run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var buf bytes.Buffer
	code := run(args, &buf)
	return buf.String(), code
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, code := h.run(t, args...)
	if code != 0 {
		t.Fatalf("%v: exit %d\n%s", args, code, out)
	}
	return out
}

func TestUsageAndVersion(t *testing.T) {
	h := newHarness(t)
	if out, code := h.run(t); code != 0 || !strings.Contains(out, "Usage:") {
		t.Fatalf("no args: %d %q", code, out)
	}
	if out := h.mustRun(t, "--version"); !strings.Contains(out, "thumbdraft ") {
		t.Fatalf("version output %q", out)
	}
	if _, code := h.run(t, "frobnicate"); code != 2 {
		t.Fatalf("unknown command exit = %d, want 2", code)
	}
	if _, code := h.run(t, "new"); code != 2 {
		t.Fatalf("new without idea exit = %d, want 2", code)
	}
}

func TestDraftWorkflowAcrossInvocations(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "generate", "How to make the perfect pizza at home")
	if !strings.Contains(out, "Heading: HOW TO MAKE THE") || !strings.Contains(out, "Thumbnail 3") {
		t.Fatalf("generate output:\n%s", out)
	}

	// selection survives into the next invocation
	h.mustRun(t, "select", "2")
	if out := h.mustRun(t, "show"); !strings.Contains(out, "* Thumbnail 2  thumbnail-2.png") {
		t.Fatalf("show after select:\n%s", out)
	}

	out = h.mustRun(t, "set-text", "heading", "PIZZA", "NIGHT")
	if !strings.Contains(out, "Heading: PIZZA NIGHT") {
		t.Fatalf("set-text output:\n%s", out)
	}
	h.mustRun(t, "update-text")
	h.mustRun(t, "regen-images")
	if out := h.mustRun(t, "show"); !strings.Contains(out, "Heading: PIZZA NIGHT") || strings.Contains(out, "* Thumbnail") {
		t.Fatalf("regen-images keeps the text and clears the selection:\n%s", out)
	}

	if out := h.mustRun(t, "list"); !strings.HasPrefix(out, "* ") {
		t.Fatalf("list should mark the current draft:\n%s", out)
	}

	dl := filepath.Join(h.dir, "dl")
	h.mustRun(t, "download", "2", dl)
	if _, err := os.Stat(filepath.Join(dl, "thumbnail-2.png")); err != nil {
		t.Fatalf("download: %v", err)
	}
	if _, code := h.run(t, "download", "9", dl); code != 1 {
		t.Fatalf("out of range download exit = %d", code)
	}

	out = h.mustRun(t, "export", "zip,png", filepath.Join(h.dir, "out"))
	if strings.Count(out, "Wrote ") != 2 {
		t.Fatalf("export output:\n%s", out)
	}

	out = h.mustRun(t, "history")
	for _, op := range []string{"generate", "update-text", "regenerate-images"} {
		if !strings.Contains(out, op) {
			t.Fatalf("history misses %s:\n%s", op, out)
		}
	}
	if h.dev.Requests() != 3 {
		t.Fatalf("service requests = %d, want 3", h.dev.Requests())
	}
}

func TestValidationFailsWithoutRequest(t *testing.T) {
	h := newHarness(t)
	if out, code := h.run(t, "show"); code != 1 || !strings.Contains(out, "no draft yet") {
		t.Fatalf("show without draft: %d %q", code, out)
	}
	h.mustRun(t, "new", "Budget travel hacks")
	out, code := h.run(t, "update-text")
	if code != 1 || !strings.Contains(out, "Generate thumbnails before updating the text") {
		t.Fatalf("update-text without originals: %d %q", code, out)
	}
	if h.dev.Requests() != 0 {
		t.Fatalf("validation failures must not reach the service")
	}
	if out := h.mustRun(t, "show"); !strings.Contains(out, "Error: Generate thumbnails before updating the text") {
		t.Fatalf("validation message should be kept on the draft:\n%s", out)
	}
}

func TestServiceFailureIsSaved(t *testing.T) {
	h := newHarness(t)
	h.dev.FailNext(http.StatusBadGateway, "image provider unavailable")
	out, code := h.run(t, "generate", "Night sky photography")
	if code != 1 || !strings.Contains(out, "image provider unavailable") {
		t.Fatalf("generate: %d %q", code, out)
	}
	out = h.mustRun(t, "show")
	if !strings.Contains(out, "(error)") || !strings.Contains(out, "No thumbnails yet.") {
		t.Fatalf("show after failure:\n%s", out)
	}
	// a retry on the same draft clears the error
	if out := h.mustRun(t, "generate"); !strings.Contains(out, "(idle)") {
		t.Fatalf("retry:\n%s", out)
	}
}

func TestOperationLogRecord(t *testing.T) {
	h := newHarness(t)
	logFile := filepath.Join(h.dir, "thumbdraft.log")
	t.Setenv(config.EnvLogLevel, "info")
	t.Setenv(config.EnvLogFile, logFile)
	t.Cleanup(func() { _ = applog.Close() })

	h.mustRun(t, "generate", "Budget travel hacks")
	if err := applog.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}
	b, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		var m map[string]any
		if json.Unmarshal([]byte(line), &m) == nil && m["msg"] == "operation done" {
			rec = m
		}
	}
	if rec == nil {
		t.Fatalf("no operation record in log:\n%s", b)
	}
	if _, ok := rec["took"].(float64); !ok {
		t.Fatalf("took should be a duration attribute: %v", rec)
	}
	if _, ok := rec["ms"]; ok {
		t.Fatalf("unexpected loose ms attribute: %v", rec)
	}
	if d, _ := rec["draft"].(string); d == "" {
		t.Fatalf("missing draft id: %v", rec)
	}
}

func TestMailCommands(t *testing.T) {
	h := newHarness(t)
	out, code := h.run(t, "mail", "search")
	if code != 1 || !strings.Contains(out, "log in at") {
		t.Fatalf("search without login: %d %q", code, out)
	}
	out = h.mustRun(t, "mail", "--login", "search", "newsletter")
	if !strings.Contains(out, "m1") || !strings.Contains(out, "m3") || strings.Contains(out, "m2") {
		t.Fatalf("search output:\n%s", out)
	}
	out = h.mustRun(t, "mail", "--login", "archive", "--query", "newsletter", "m1")
	if !strings.Contains(out, "Archived 1 message(s)") || strings.Contains(out, "m1 ") {
		t.Fatalf("archive output:\n%s", out)
	}
	if _, code := h.run(t, "mail", "--login", "delete", "--query", "newsletter", "m2"); code != 1 {
		t.Fatalf("ids outside the results must be rejected")
	}
	out = h.mustRun(t, "mail", "--login", "group", "from")
	if !strings.Contains(out, "news@example.test (1)") || !strings.Contains(out, "billing@example.test (1)") {
		t.Fatalf("group output:\n%s", out)
	}
	if _, code := h.run(t, "mail", "group", "label"); code != 2 {
		t.Fatalf("bad grouping should be a usage error")
	}
}

func TestConfigCommand(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "config")
	if !strings.Contains(out, "generation.base_url overridden by THUMBDRAFT_API_URL") || !strings.Contains(out, "# token: not set") {
		t.Fatalf("config output:\n%s", out)
	}
	h.mustRun(t, "config", "set-token", "s3cret")
	if len(h.tokens) != 1 {
		t.Fatalf("token not stored: %v", h.tokens)
	}
	if out := h.mustRun(t, "config"); !strings.Contains(out, "# token: set") || strings.Contains(out, "s3cret") {
		t.Fatalf("token must be reported, never printed:\n%s", out)
	}
	h.mustRun(t, "config", "clear-token")
	if len(h.tokens) != 0 {
		t.Fatalf("token not cleared")
	}
}
