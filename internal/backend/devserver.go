/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"thumbdraft/internal/draft"
	applog "thumbdraft/internal/log"
	"thumbdraft/internal/version"
)

// DevServer is a local stand-in for the generation service. It answers the four
// endpoints with placeholder images so the client can be driven without the real
// backend. Originals are random per request; rendered thumbnails depend only on the
// original and the text, so re-rendering the same text yields the same thumbnails.
type DevServer struct {
	count   int
	token   string
	origins []string
	log     *slog.Logger

	mu       sync.Mutex
	failures []devFailure
	requests int
}

type devFailure struct {
	status int
	detail string
}

// DevOption configures a DevServer.
type DevOption func(*DevServer)

// WithImageCount sets how many thumbnails each generation returns (default 3).
func WithImageCount(n int) DevOption { return func(s *DevServer) { s.count = n } }

// WithRequiredToken makes the API endpoints demand "Authorization: Bearer <tok>".
func WithRequiredToken(tok string) DevOption { return func(s *DevServer) { s.token = tok } }

// WithAllowedOrigins sets the CORS origins (default http://localhost:5173).
func WithAllowedOrigins(origins ...string) DevOption {
	return func(s *DevServer) { s.origins = origins }
}

func NewDevServer(opts ...DevOption) *DevServer {
	s := &DevServer{count: 3, origins: []string{"http://localhost:5173"}, log: applog.WithComponent("devserver")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FailNext queues a failure for the next API request. An empty detail produces an
// error body without a detail field.
func (s *DevServer) FailNext(status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, devFailure{status: status, detail: detail})
}

// Requests returns how many API requests were served.
func (s *DevServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Handler returns the routed handler with CORS and panic recovery.
func (s *DevServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "thumbdraft dev generation service is running"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String()))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.gate)
	api.HandleFunc("/generate-thumbnails", s.handleIdea).Methods(http.MethodPost)
	api.HandleFunc("/regenerate-all", s.handleIdea).Methods(http.MethodPost)
	api.HandleFunc("/regenerate-images", s.handleRegenerateImages).Methods(http.MethodPost)
	api.HandleFunc("/update-thumbnails", s.handleUpdate).Methods(http.MethodPost)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(cors(r))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *DevServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("dev generation service listening", slog.String("addr", addr))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// gate counts requests, enforces the token and serves queued failures.
func (s *DevServer) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		s.mu.Lock()
		s.requests++
		var f *devFailure
		if len(s.failures) > 0 {
			f = &s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()
		if f != nil {
			s.log.Debug("injected failure", slog.String("path", r.URL.Path), slog.Int("status", f.status))
			if f.detail == "" {
				writeJSON(w, f.status, map[string]string{"error": http.StatusText(f.status)})
			} else {
				writeJSON(w, f.status, map[string]string{"detail": f.detail})
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

type validationItem struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func unprocessable(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []validationItem{{Loc: []string{"body", field}, Msg: msg, Type: "value_error"}},
	})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func (s *DevServer) handleIdea(w http.ResponseWriter, r *http.Request) {
	var req ideaRequest
	if err := decodeBody(r, &req); err != nil {
		unprocessable(w, "video_idea", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.VideoIdea) == "" {
		unprocessable(w, "video_idea", "field required")
		return
	}
	writeJSON(w, http.StatusOK, s.render(req.VideoIdea, sampleText(req.VideoIdea)))
}

func (s *DevServer) handleRegenerateImages(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decodeBody(r, &req); err != nil {
		unprocessable(w, "text_data", "invalid JSON body")
		return
	}
	if req.SelectedIndex < 0 {
		unprocessable(w, "selected_index", "must be zero or greater")
		return
	}
	writeJSON(w, http.StatusOK, s.render(req.VideoIdea, req.TextData))
}

func (s *DevServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		unprocessable(w, "image_urls", "invalid JSON body")
		return
	}
	thumbs := make([]string, len(req.ImageURLs))
	for i, u := range req.ImageURLs {
		thumbs[i] = Placeholder(u, req.TextData)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thumbnails":    thumbs,
		"text_data":     req.TextData,
		"original_urls": req.ImageURLs,
	})
}

func (s *DevServer) render(idea string, text draft.TextOverlay) map[string]any {
	slug := slugify(idea)
	origs := make([]string, s.count)
	thumbs := make([]string, s.count)
	for i := range origs {
		origs[i] = fmt.Sprintf("https://images.dev.invalid/%s/%s.jpg", slug, uuid.NewString())
		thumbs[i] = Placeholder(origs[i], text)
	}
	return map[string]any{"thumbnails": thumbs, "text_data": text, "original_urls": origs}
}

// sampleText stands in for the text model: the first words of the idea as heading.
// The date is left empty.
func sampleText(idea string) draft.TextOverlay {
	words := strings.Fields(idea)
	if len(words) > 4 {
		words = words[:4]
	}
	return draft.TextOverlay{
		Heading:    strings.ToUpper(strings.Join(words, " ")),
		Subheading: "Everything you need to know",
		Label:      "NEW",
	}
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "untitled"
	}
	if len(out) > 40 {
		out = strings.TrimSuffix(out[:40], "-")
	}
	return out
}

// Placeholder renders a 160x90 PNG data URL whose colors derive from the original
// reference (background) and the text (lower band).
func Placeholder(original string, text draft.TextOverlay) string {
	bg := colorOf(original)
	band := colorOf(text.Heading + "\x00" + text.Subheading + "\x00" + text.Label + "\x00" + text.Date)
	img := image.NewRGBA(image.Rect(0, 0, 160, 90))
	for y := 0; y < 90; y++ {
		c := bg
		if y >= 60 {
			c = band
		}
		for x := 0; x < 160; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func colorOf(s string) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	v := h.Sum32()
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
