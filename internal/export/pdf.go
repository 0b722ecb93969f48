/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"thumbdraft/internal/draft"
	"thumbdraft/internal/version"
)

// PDFOptions controls the PDF contact sheet.
//   - PageSize: gofpdf size name, "A4" when empty
//   - Columns: thumbnails per row, 2 when zero
//   - Portrait: landscape is the default since thumbnails are wide
type PDFOptions struct {
	PageSize string
	Columns  int
	Portrait bool
}

const (
	pdfMargin   = 36.0 // pt
	pdfGutter   = 18.0
	pdfCaptionH = 14.0
)

// WritePDF renders st as a PDF contact sheet into w.
func WritePDF(ctx context.Context, f *Fetcher, st draft.State, w io.Writer, opt PDFOptions) error {
	if len(st.Rendered) == 0 {
		return ErrNoThumbnails
	}
	size := opt.PageSize
	if size == "" {
		size = "A4"
	}
	orientation := "L"
	if opt.Portrait {
		orientation = "P"
	}
	cols := opt.Columns
	if cols <= 0 {
		cols = 2
	}

	pdf := gofpdf.New(orientation, "pt", size, "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(titleFor(st)), false)
	pdf.SetCreator(version.String(), false)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	contentW := pageW - 2*pdfMargin

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(contentW, 20, tr(titleFor(st)), "", "L", false)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	for _, line := range overlayLines(st.Text) {
		pdf.MultiCell(contentW, 13, tr(line), "", "L", false)
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(8)

	cellW := (contentW - float64(cols-1)*pdfGutter) / float64(cols)
	y := pdf.GetY()
	rowH := 0.0
	for i, ref := range st.Rendered {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := f.Fetch(ctx, ref)
		if err != nil {
			return fmt.Errorf("thumbnail %d: %w", i+1, err)
		}
		data, err = asPNG(data)
		if err != nil {
			return fmt.Errorf("thumbnail %d: %w", i+1, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil || cfg.Width == 0 {
			return fmt.Errorf("thumbnail %d: unreadable image", i+1)
		}
		imgH := cellW * float64(cfg.Height) / float64(cfg.Width)

		col := i % cols
		if col == 0 && i > 0 {
			y += rowH
			rowH = 0
		}
		if col == 0 && y+imgH+pdfCaptionH > pageH-pdfMargin {
			pdf.AddPage()
			y = pdfMargin
		}
		x := pdfMargin + float64(col)*(cellW+pdfGutter)

		name := fmt.Sprintf("thumb-%d", i)
		opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		pdf.ImageOptions(name, x, y, cellW, imgH, false, opts, 0, "")
		if i == st.Selection {
			pdf.SetDrawColor(25, 118, 210)
			pdf.SetLineWidth(2)
			pdf.Rect(x, y, cellW, imgH, "D")
		}
		pdf.SetFont("Helvetica", "", 9)
		pdf.Text(x, y+imgH+pdfCaptionH-3, draft.ThumbnailTitle(i))
		rowH = max(rowH, imgH+pdfCaptionH+pdfGutter)
		if pdf.Err() {
			return fmt.Errorf("pdf: %w", pdf.Error())
		}
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// ExportPDF writes the contact sheet to out.
func ExportPDF(ctx context.Context, f *Fetcher, st draft.State, out string, opt PDFOptions) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	var buf bytes.Buffer
	if err := WritePDF(ctx, f, st, &buf, opt); err != nil {
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func titleFor(st draft.State) string {
	if t := strings.TrimSpace(st.Idea); t != "" {
		return t
	}
	if t := strings.TrimSpace(st.Text.Heading); t != "" {
		return t
	}
	return "Thumbnail draft"
}
