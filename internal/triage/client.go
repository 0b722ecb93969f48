/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package triage is a thin client for the mailbox service plus the small
// search, select and bulk-act workflow on top of it.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	applog "thumbdraft/internal/log"
	"thumbdraft/internal/version"
)

// ErrUnauthorized means the mailbox service has no credentials for this session.
var ErrUnauthorized = errors.New("mail service: not logged in")

const maxBody = 8 << 20

// Message is one search hit.
type Message struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
}

// Action is a bulk operation on selected messages.
type Action string

const (
	ActionDelete  Action = "delete"
	ActionArchive Action = "archive"
)

// GroupBy is the header messages are grouped on.
type GroupBy string

const (
	GroupByFrom    GroupBy = "from"
	GroupByDate    GroupBy = "date"
	GroupBySubject GroupBy = "subject"
)

// ParseAction accepts delete or archive.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionDelete, ActionArchive:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q (want delete or archive)", s)
}

// ParseGroupBy accepts from, date or subject.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupByFrom, GroupByDate, GroupBySubject:
		return g, nil
	}
	return "", fmt.Errorf("unknown grouping %q (want from, date or subject)", s)
}

// Service is the mailbox collaborator.
type Service interface {
	AuthURL(ctx context.Context) (string, error)
	Search(ctx context.Context, query string) ([]Message, error)
	BulkAction(ctx context.Context, action Action, ids []string) error
	Group(ctx context.Context, query string, by GroupBy) (map[string][]Message, error)
}

// Client implements Service over HTTP JSON. It keeps the service's session
// cookie between calls.
type Client struct {
	BaseURL string
	client  *http.Client
	log     *slog.Logger
}

var _ Service = (*Client)(nil)

// NewClient creates a client with a cookie jar and the given timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	jar, _ := cookiejar.New(nil)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout, Jar: jar},
		log:     applog.WithComponent("triage"),
	}
}

// AuthURL returns the login link, if the service offers one.
func (c *Client) AuthURL(ctx context.Context) (string, error) {
	var out struct {
		AuthURL string `json:"auth_url"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth-url", nil, &out); err != nil {
		return "", err
	}
	return out.AuthURL, nil
}

// Login follows the service's login link with the client's cookie jar. It only
// completes against services that log in without a browser, like the dev mailbox.
func (c *Client) Login(ctx context.Context) error {
	u, err := c.AuthURL(ctx)
	if err != nil {
		return err
	}
	if u == "" {
		return errors.New("mail service offers no login link")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("login: %s", resp.Status)
	}
	return nil
}

func (c *Client) Search(ctx context.Context, query string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages/search", map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) BulkAction(ctx context.Context, action Action, ids []string) error {
	if _, err := ParseAction(string(action)); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/messages/"+string(action), map[string][]string{"ids": ids}, nil)
}

func (c *Client) Group(ctx context.Context, query string, by GroupBy) (map[string][]Message, error) {
	out := map[string][]Message{}
	body := map[string]string{"query": query, "group_by": string(by)}
	if err := c.do(ctx, http.MethodPost, "/messages/group", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	l := applog.WithOperation(c.log, path)
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "thumbdraft/"+version.Version)

	resp, err := c.client.Do(req)
	if err != nil {
		l.Warn("request failed", slog.String("error", err.Error()))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	l.Debug("response", slog.Int("status", resp.StatusCode), slog.Int("bytes", len(data)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("mail service %s: %s%s", path, resp.Status, errorSuffix(data))
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// errorSuffix pulls {"error": "..."} out of a failure body.
func errorSuffix(body []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		return ": " + env.Error
	}
	return ""
}
