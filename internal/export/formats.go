/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"thumbdraft/internal/draft"
	applog "thumbdraft/internal/log"
)

// Format names an export target.
type Format string

const (
	FormatFiles Format = "files" // thumbnail-N.png per rendered image
	FormatZip   Format = "zip"
	FormatPDF   Format = "pdf"
	FormatPNG   Format = "png" // contact sheet
)

// Formats lists the supported formats.
var Formats = []Format{FormatFiles, FormatZip, FormatPDF, FormatPNG}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format: %s", s)
}

// Options controls Run.
//
// Path semantics:
//   - OutDir defaults to the working directory.
//   - files writes OutDir/thumbnail-N.png.
//   - zip, pdf and png write one file named after the draft id
//     (<id-prefix>.zip, .pdf, -sheet.png) inside OutDir.
type Options struct {
	Formats []Format // empty means files only
	OutDir  string
	Now     time.Time
	Sheet   SheetOptions
	PDF     PDFOptions
}

// Run exports st in every requested format and returns the written paths.
func Run(ctx context.Context, f *Fetcher, st draft.State, opt Options) ([]string, error) {
	l := applog.WithOperation(applog.WithComponent("export"), "run")
	if len(st.Rendered) == 0 {
		return nil, ErrNoThumbnails
	}
	if f == nil {
		f = NewFetcher()
	}
	formats := opt.Formats
	if len(formats) == 0 {
		formats = []Format{FormatFiles}
	}
	dir := opt.OutDir
	if dir == "" {
		dir = "."
	}
	now := opt.Now
	if now.IsZero() {
		now = time.Now()
	}
	base := baseName(st)

	var written []string
	for _, fm := range formats {
		start := time.Now()
		switch fm {
		case FormatFiles:
			paths, err := DownloadAll(ctx, f, st, dir)
			written = append(written, paths...)
			if err != nil {
				return written, fmt.Errorf("files: %w", err)
			}
		case FormatZip:
			out := filepath.Join(dir, base+".zip")
			if err := ExportBundle(ctx, f, st, out, now); err != nil {
				return written, fmt.Errorf("zip: %w", err)
			}
			written = append(written, out)
		case FormatPDF:
			out := filepath.Join(dir, base+".pdf")
			if err := ExportPDF(ctx, f, st, out, opt.PDF); err != nil {
				return written, fmt.Errorf("pdf: %w", err)
			}
			written = append(written, out)
		case FormatPNG:
			out := filepath.Join(dir, base+"-sheet.png")
			if err := ExportSheetPNG(ctx, f, st, out, opt.Sheet); err != nil {
				return written, fmt.Errorf("png: %w", err)
			}
			written = append(written, out)
		default:
			return written, fmt.Errorf("unknown format: %s", fm)
		}
		l.Info("exported", "format", string(fm), "draft", st.ID, "ms", time.Since(start).Milliseconds())
	}
	return written, nil
}

func baseName(st draft.State) string {
	id := st.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "draft"
	}
	return "thumbdraft-" + id
}
