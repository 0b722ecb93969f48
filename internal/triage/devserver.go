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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	applog "thumbdraft/internal/log"
)

const sessionCookie = "thumbdraft_mail"

// Mailbox is an in-memory stand-in for the mailbox service. Login happens
// by visiting /oauth2callback, which sets a session cookie.
type Mailbox struct {
	mu       sync.Mutex
	messages []Message
	archived map[string]bool
	sessions map[string]bool
	open     bool
}

// NewMailbox seeds a mailbox. Messages without an id get one.
func NewMailbox(msgs ...Message) *Mailbox {
	m := &Mailbox{archived: map[string]bool{}, sessions: map[string]bool{}}
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()[:12]
		}
		m.messages = append(m.messages, msg)
	}
	return m
}

// DemoMessages is the seed used by serve-dev.
func DemoMessages() []Message {
	return []Message{
		{Subject: "Your weekly channel report", From: "reports@video.example", Date: "Mon, 7 Jul 2025"},
		{Subject: "Thumbnail feedback from Sam", From: "sam@studio.example", Date: "Mon, 7 Jul 2025"},
		{Subject: "Newsletter: editing tips", From: "news@tips.example", Date: "Tue, 8 Jul 2025"},
		{Subject: "Invoice 2025-07", From: "billing@host.example", Date: "Wed, 9 Jul 2025"},
		{Subject: "Newsletter: lighting on a budget", From: "news@tips.example", Date: "Wed, 9 Jul 2025"},
	}
}

// SkipLogin makes every request count as logged in.
func (m *Mailbox) SkipLogin() *Mailbox {
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()
	return m
}

// Handler routes the mailbox endpoints.
func (m *Mailbox) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "thumbdraft dev mailbox is running"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/auth-url", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"auth_url": "http://" + req.Host + "/oauth2callback"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/oauth2callback", m.handleLogin).Methods(http.MethodGet)

	api := r.PathPrefix("/messages").Subrouter()
	api.Use(m.requireSession)
	api.HandleFunc("/search", m.handleSearch).Methods(http.MethodPost)
	api.HandleFunc("/delete", m.handleBulk(ActionDelete)).Methods(http.MethodPost)
	api.HandleFunc("/archive", m.handleBulk(ActionArchive)).Methods(http.MethodPost)
	api.HandleFunc("/group", m.handleGroup).Methods(http.MethodPost)
	return handlers.RecoveryHandler()(r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (m *Mailbox) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	applog.WithComponent("triage").Info("dev mailbox listening", slog.String("addr", addr))
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

func (m *Mailbox) handleLogin(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = true
	m.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (m *Mailbox) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		ok := m.open
		if c, err := r.Cookie(sessionCookie); err == nil && m.sessions[c.Value] {
			ok = true
		}
		m.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type searchBody struct {
	Query   string   `json:"query"`
	GroupBy string   `json:"group_by"`
	IDs     []string `json:"ids"`
}

func decodeBody(r *http.Request) searchBody {
	var b searchBody
	_ = json.NewDecoder(r.Body).Decode(&b)
	return b
}

func (m *Mailbox) handleSearch(w http.ResponseWriter, r *http.Request) {
	b := decodeBody(r)
	writeJSON(w, http.StatusOK, map[string][]Message{"messages": m.match(b.Query)})
}

func (m *Mailbox) handleBulk(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := decodeBody(r)
		drop := map[string]bool{}
		for _, id := range b.IDs {
			drop[id] = true
		}
		m.mu.Lock()
		if action == ActionDelete {
			kept := m.messages[:0]
			for _, msg := range m.messages {
				if !drop[msg.ID] {
					kept = append(kept, msg)
				}
			}
			m.messages = kept
		} else {
			for id := range drop {
				m.archived[id] = true
			}
		}
		m.mu.Unlock()
		status := "deleted"
		if action == ActionArchive {
			status = "archived"
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": status, "count": len(b.IDs)})
	}
}

func (m *Mailbox) handleGroup(w http.ResponseWriter, r *http.Request) {
	b := decodeBody(r)
	by, err := ParseGroupBy(b.GroupBy)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	groups := map[string][]Message{}
	for _, msg := range m.match(b.Query) {
		var key string
		switch by {
		case GroupByFrom:
			key = msg.From
		case GroupByDate:
			key = msg.Date
		case GroupBySubject:
			key = msg.Subject
		}
		groups[key] = append(groups[key], msg)
	}
	writeJSON(w, http.StatusOK, groups)
}

// match is a case-insensitive substring search over subject and sender.
// Archived messages only show up for "in:anywhere".
func (m *Mailbox) match(query string) []Message {
	q := strings.ToLower(strings.TrimSpace(query))
	anywhere := strings.Contains(q, "in:anywhere")
	q = strings.TrimSpace(strings.ReplaceAll(q, "in:anywhere", ""))
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Message{}
	for _, msg := range m.messages {
		if m.archived[msg.ID] && !anywhere {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(msg.Subject), q) || strings.Contains(strings.ToLower(msg.From), q) {
			out = append(out, msg)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
