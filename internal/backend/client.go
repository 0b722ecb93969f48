/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package backend talks to the thumbnail generation service and ships a local
// stand-in of it for development and tests.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"thumbdraft/internal/draft"
	applog "thumbdraft/internal/log"
	"thumbdraft/internal/version"
)

// Endpoint paths of the generation service.
const (
	PathGenerate         = "/api/generate-thumbnails"
	PathRegenerateImages = "/api/regenerate-images"
	PathRegenerateAll    = "/api/regenerate-all"
	PathUpdate           = "/api/update-thumbnails"
)

// maxBody caps response bodies; rendered thumbnails usually arrive as data URLs.
const maxBody = 64 << 20

// Client implements draft.Service over HTTP.
type Client struct {
	BaseURL string
	Token   string // bearer token, optional
	client  *http.Client
	log     *slog.Logger
}

var _ draft.Service = (*Client)(nil)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithTLSInsecure disables certificate verification (self-signed dev setups).
func WithTLSInsecure(insecure bool) ClientOption {
	return func(c *Client) {
		if !insecure {
			return
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
		c.client.Transport = tr
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.client = hc } }

// NewClient creates a client. A trailing slash on baseURL is ignored.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   token,
		client:  &http.Client{Timeout: 2 * time.Minute},
		log:     applog.WithComponent("backend"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textData struct {
	Heading    *string `json:"heading,omitempty"`
	Subheading *string `json:"subheading,omitempty"`
	Label      *string `json:"label,omitempty"`
	Date       *string `json:"date,omitempty"`
}

func (t textData) overlay() draft.TextOverlay {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return draft.TextOverlay{Heading: deref(t.Heading), Subheading: deref(t.Subheading), Label: deref(t.Label), Date: deref(t.Date)}
}

type thumbnailSet struct {
	Thumbnails   []string `json:"thumbnails"`
	TextData     textData `json:"text_data"`
	OriginalURLs []string `json:"original_urls"`
}

func (s thumbnailSet) result() draft.Result {
	return draft.Result{Text: s.TextData.overlay(), Thumbnails: s.Thumbnails, Originals: s.OriginalURLs}
}

type ideaRequest struct {
	VideoIdea string `json:"video_idea"`
}

type regenerateRequest struct {
	VideoIdea     string            `json:"video_idea"`
	TextData      draft.TextOverlay `json:"text_data"`
	SelectedIndex int               `json:"selected_index"`
}

type updateRequest struct {
	ImageURLs []string          `json:"image_urls"`
	TextData  draft.TextOverlay `json:"text_data"`
}

// GenerateThumbnails posts the idea to the generate endpoint.
func (c *Client) GenerateThumbnails(ctx context.Context, idea string) (draft.Result, error) {
	var out thumbnailSet
	if err := c.postJSON(ctx, PathGenerate, ideaRequest{VideoIdea: idea}, setSchema, &out); err != nil {
		return draft.Result{}, err
	}
	return out.result(), nil
}

// RegenerateImages asks for new images for the given text and selected index.
func (c *Client) RegenerateImages(ctx context.Context, idea string, text draft.TextOverlay, selected int) (draft.Result, error) {
	var out thumbnailSet
	req := regenerateRequest{VideoIdea: idea, TextData: text, SelectedIndex: selected}
	if err := c.postJSON(ctx, PathRegenerateImages, req, setSchema, &out); err != nil {
		return draft.Result{}, err
	}
	return out.result(), nil
}

// RegenerateAll asks for new text and images.
func (c *Client) RegenerateAll(ctx context.Context, idea string) (draft.Result, error) {
	var out thumbnailSet
	if err := c.postJSON(ctx, PathRegenerateAll, ideaRequest{VideoIdea: idea}, setSchema, &out); err != nil {
		return draft.Result{}, err
	}
	return out.result(), nil
}

// UpdateThumbnails recomposites text onto the original images.
func (c *Client) UpdateThumbnails(ctx context.Context, originals []string, text draft.TextOverlay) ([]string, error) {
	var out struct {
		Thumbnails []string `json:"thumbnails"`
	}
	req := updateRequest{ImageURLs: originals, TextData: text}
	if req.ImageURLs == nil {
		req.ImageURLs = []string{}
	}
	if err := c.postJSON(ctx, PathUpdate, req, renderedSchema, &out); err != nil {
		return nil, err
	}
	return out.Thumbnails, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, schema func() (*gojsonschema.Schema, error), dest any) error {
	l := applog.WithOperation(c.log, path)
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "thumbdraft/"+version.Version)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		l.Warn("request failed", slog.String("error", err.Error()))
		return fmt.Errorf("POST %s: %w", u.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", u.Path, err)
	}
	if len(data) > maxBody {
		return &APIError{StatusCode: resp.StatusCode, Path: u.Path, Reason: "response too large"}
	}
	l.Debug("response", slog.Int("status", resp.StatusCode), slog.Int("bytes", len(data)), slog.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Path: u.Path, Detail: parseDetail(data), Reason: resp.Status}
	}
	if err := validate(schema, data); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Path: u.Path, Reason: err.Error(), Err: err}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Path: u.Path, Reason: "decode: " + err.Error(), Err: err}
	}
	return nil
}
