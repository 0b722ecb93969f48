/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package draft holds the thumbnail draft workflow: the idea, the editable text
// overlay, the original and rendered image sets, the current selection and the
// request status. A Controller is the only writer of that state.
package draft

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TextOverlay is the text composited onto every thumbnail.
type TextOverlay struct {
	Heading    string `json:"heading"`
	Subheading string `json:"subheading"`
	Label      string `json:"label"`
	Date       string `json:"date"`
}

// Field names one TextOverlay entry.
type Field string

const (
	FieldHeading    Field = "heading"
	FieldSubheading Field = "subheading"
	FieldLabel      Field = "label"
	FieldDate       Field = "date"
)

// Fields lists the overlay fields in display order.
var Fields = []Field{FieldHeading, FieldSubheading, FieldLabel, FieldDate}

// ParseField accepts a field name case-insensitively.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Fields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown text field %q (want heading, subheading, label or date)", s)
}

// Get returns the value of f.
func (t TextOverlay) Get(f Field) string {
	switch f {
	case FieldHeading:
		return t.Heading
	case FieldSubheading:
		return t.Subheading
	case FieldLabel:
		return t.Label
	case FieldDate:
		return t.Date
	}
	return ""
}

// With returns a copy of t with f set to v.
func (t TextOverlay) With(f Field, v string) TextOverlay {
	switch f {
	case FieldHeading:
		t.Heading = v
	case FieldSubheading:
		t.Subheading = v
	case FieldLabel:
		t.Label = v
	case FieldDate:
		t.Date = v
	}
	return t
}

// Status is the request state of a draft.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// NoSelection marks the absence of a selected thumbnail.
const NoSelection = -1

// Preview is a snapshot of one rendered thumbnail opened for full-size viewing.
type Preview struct {
	Index int    `json:"index"`
	Ref   string `json:"ref"`
}

// State is a copy of the draft. Originals and Rendered are index aligned.
type State struct {
	ID        string      `json:"id"`
	Idea      string      `json:"idea"`
	Text      TextOverlay `json:"text"`
	Originals []string    `json:"originals"`
	Rendered  []string    `json:"rendered"`
	Selection int         `json:"selection"`
	Status    Status      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Preview   *Preview    `json:"preview,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// HasSelection reports whether a thumbnail is selected.
func (s State) HasSelection() bool { return s.Selection != NoSelection }

func (s State) clone() State {
	c := s
	c.Originals = append([]string(nil), s.Originals...)
	c.Rendered = append([]string(nil), s.Rendered...)
	if s.Preview != nil {
		p := *s.Preview
		c.Preview = &p
	}
	return c
}

// Result is what the generation service returns for a full (re)generation.
type Result struct {
	Text       TextOverlay
	Thumbnails []string
	Originals  []string
}

// Service is the thumbnail generation backend.
type Service interface {
	GenerateThumbnails(ctx context.Context, idea string) (Result, error)
	RegenerateImages(ctx context.Context, idea string, text TextOverlay, selected int) (Result, error)
	RegenerateAll(ctx context.Context, idea string) (Result, error)
	// UpdateThumbnails recomposites text onto the given original images, returning
	// one rendered thumbnail per original in the same order.
	UpdateThumbnails(ctx context.Context, originals []string, text TextOverlay) ([]string, error)
}

// Op identifies a workflow operation.
type Op string

const (
	OpGenerate         Op = "generate"
	OpRegenerateImages Op = "regenerate-images"
	OpRegenerateAll    Op = "regenerate-all"
	OpUpdateText       Op = "update-text"
)

// Event describes a finished operation (successful or not). Validation failures
// and ErrBusy rejections produce no event since nothing was sent.
type Event struct {
	Op       Op
	DraftID  string
	Idea     string
	Text     TextOverlay
	Count    int // rendered thumbnails after the operation
	Err      error
	Started  time.Time
	Duration time.Duration
}
