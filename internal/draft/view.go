/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package draft

import (
	"strconv"
	"strings"
	"time"
)

// View is the render-ready projection of a State.
type View struct {
	Idea    string
	Loading bool
	Error   string

	Text TextOverlay
	// DateOrToday is the date field, or today's ordinal date while the field is empty.
	DateOrToday string

	Thumbnails []ThumbnailView
	Preview    *ThumbnailView

	CanGenerate         bool
	ShowRegenerate      bool // a thumbnail is selected
	CanRegenerateImages bool
	CanRegenerateAll    bool
	CanUpdateText       bool
}

// ThumbnailView describes one rendered thumbnail.
type ThumbnailView struct {
	Index    int
	Ref      string
	Selected bool
	Title    string
	Filename string
}

// ThumbnailTitle is the 1-based caption for index i.
func ThumbnailTitle(i int) string { return "Thumbnail " + strconv.Itoa(i+1) }

// DownloadName is the file name offered when saving thumbnail i.
func DownloadName(i int) string { return "thumbnail-" + strconv.Itoa(i+1) + ".png" }

// Project derives the View of s as of now.
func Project(s State, now time.Time) View {
	loading := s.Status == StatusPending
	v := View{
		Idea:                s.Idea,
		Loading:             loading,
		Text:                s.Text,
		DateOrToday:         s.Text.Date,
		CanGenerate:         !loading && !isBlank(s.Idea),
		ShowRegenerate:      s.HasSelection(),
		CanRegenerateImages: !loading && s.HasSelection(),
		CanRegenerateAll:    !loading && s.HasSelection(),
		CanUpdateText:       !loading && len(s.Originals) > 0,
	}
	if s.Status == StatusError {
		v.Error = s.Message
	}
	if v.DateOrToday == "" {
		v.DateOrToday = OrdinalDate(now)
	}
	v.Thumbnails = make([]ThumbnailView, len(s.Rendered))
	for i, ref := range s.Rendered {
		v.Thumbnails[i] = ThumbnailView{
			Index:    i,
			Ref:      ref,
			Selected: i == s.Selection,
			Title:    ThumbnailTitle(i),
			Filename: DownloadName(i),
		}
	}
	if p := s.Preview; p != nil {
		v.Preview = &ThumbnailView{Index: p.Index, Ref: p.Ref, Selected: p.Index == s.Selection, Title: ThumbnailTitle(p.Index), Filename: DownloadName(p.Index)}
	}
	return v
}

// View projects the controller's current state.
func (c *Controller) View() View { return Project(c.State(), c.now()) }

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
