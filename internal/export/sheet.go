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
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"thumbdraft/internal/draft"
)

// SheetOptions controls the PNG contact sheet.
// Zero values fall back to 3 columns of 320px cells with 16px padding.
type SheetOptions struct {
	Columns   int
	CellWidth int
	Padding   int
	// HighlightSelection outlines the selected thumbnail.
	HighlightSelection bool
}

func (o SheetOptions) withDefaults() SheetOptions {
	if o.Columns <= 0 {
		o.Columns = 3
	}
	if o.CellWidth <= 0 {
		o.CellWidth = 320
	}
	if o.Padding <= 0 {
		o.Padding = 16
	}
	return o
}

var (
	sheetBackground = color.RGBA{R: 250, G: 250, B: 250, A: 255}
	sheetInk        = color.RGBA{R: 33, G: 33, B: 33, A: 255}
	sheetMuted      = color.RGBA{R: 110, G: 110, B: 110, A: 255}
	sheetHighlight  = color.RGBA{R: 25, G: 118, B: 210, A: 255}
)

// 16:9, the aspect the generator produces
func cellHeight(w int) int { return w * 9 / 16 }

// ContactSheet renders every thumbnail of st into one image, with the idea
// and the overlay text as a header and a caption under each cell.
func ContactSheet(ctx context.Context, f *Fetcher, st draft.State, opt SheetOptions) (*image.RGBA, error) {
	if len(st.Rendered) == 0 {
		return nil, ErrNoThumbnails
	}
	opt = opt.withDefaults()
	face := basicfont.Face7x13
	lineH := face.Metrics().Height.Ceil() + 2

	cols := opt.Columns
	if len(st.Rendered) < cols {
		cols = len(st.Rendered)
	}
	rows := (len(st.Rendered) + cols - 1) / cols
	width := cols*opt.CellWidth + (cols+1)*opt.Padding
	cellH := cellHeight(opt.CellWidth)

	header := wrapText(face, st.Idea, width-2*opt.Padding)
	meta := overlayLines(st.Text)
	headerH := opt.Padding + (len(header)+len(meta))*lineH
	rowH := cellH + lineH + opt.Padding
	height := headerH + opt.Padding + rows*rowH

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(img, img.Bounds(), &image.Uniform{C: sheetBackground}, image.Point{}, xdraw.Src)

	y := opt.Padding
	for _, line := range header {
		drawString(img, face, sheetInk, opt.Padding, y+face.Metrics().Ascent.Ceil(), line)
		y += lineH
	}
	for _, line := range meta {
		drawString(img, face, sheetMuted, opt.Padding, y+face.Metrics().Ascent.Ceil(), line)
		y += lineH
	}

	top := headerH + opt.Padding
	for i, ref := range st.Rendered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := f.FetchImage(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("thumbnail %d: %w", i+1, err)
		}
		col, row := i%cols, i/cols
		x0 := opt.Padding + col*(opt.CellWidth+opt.Padding)
		y0 := top + row*rowH
		cell := image.Rect(x0, y0, x0+opt.CellWidth, y0+cellH)
		xdraw.CatmullRom.Scale(img, fitRect(src.Bounds(), cell), src, src.Bounds(), xdraw.Over, nil)
		if opt.HighlightSelection && i == st.Selection {
			strokeRect(img, cell.Inset(-2), 3, sheetHighlight)
		}
		caption := draft.ThumbnailTitle(i)
		drawString(img, face, sheetInk, x0, y0+cellH+face.Metrics().Ascent.Ceil()+2, caption)
	}
	return img, nil
}

// ExportSheetPNG renders the contact sheet and writes it to out.
func ExportSheetPNG(ctx context.Context, f *Fetcher, st draft.State, out string, opt SheetOptions) error {
	img, err := ContactSheet(ctx, f, st, opt)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	fh, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(fh, img); err != nil {
		_ = fh.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}

// fitRect centers src's aspect ratio inside dst.
func fitRect(src, dst image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw == 0 || sh == 0 {
		return dst
	}
	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func strokeRect(img *image.RGBA, r image.Rectangle, width int, col color.RGBA) {
	u := &image.Uniform{C: col}
	for i := 0; i < width; i++ {
		edge := r.Inset(-i)
		xdraw.Draw(img, image.Rect(edge.Min.X, edge.Min.Y, edge.Max.X, edge.Min.Y+1), u, image.Point{}, xdraw.Src)
		xdraw.Draw(img, image.Rect(edge.Min.X, edge.Max.Y-1, edge.Max.X, edge.Max.Y), u, image.Point{}, xdraw.Src)
		xdraw.Draw(img, image.Rect(edge.Min.X, edge.Min.Y, edge.Min.X+1, edge.Max.Y), u, image.Point{}, xdraw.Src)
		xdraw.Draw(img, image.Rect(edge.Max.X-1, edge.Min.Y, edge.Max.X, edge.Max.Y), u, image.Point{}, xdraw.Src)
	}
}

func drawString(img *image.RGBA, face font.Face, col color.Color, x, baseline int, s string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

// overlayLines lists the non-empty overlay fields as "Label: value".
func overlayLines(t draft.TextOverlay) []string {
	var out []string
	for _, f := range draft.Fields {
		if v := strings.TrimSpace(t.Get(f)); v != "" {
			out = append(out, fieldLabel(f)+": "+v)
		}
	}
	return out
}

func fieldLabel(f draft.Field) string {
	s := string(f)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// wrapText breaks s on spaces so no line is wider than maxWidth pixels.
// A single word wider than maxWidth gets a line of its own.
func wrapText(face font.Face, s string, maxWidth int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	limit := fixed.I(maxWidth)
	space := font.MeasureString(face, " ")
	var lines []string
	cur := words[0]
	curW := font.MeasureString(face, cur)
	for _, w := range words[1:] {
		ww := font.MeasureString(face, w)
		if maxWidth > 0 && curW+space+ww > limit {
			lines = append(lines, cur)
			cur, curW = w, ww
			continue
		}
		cur += " " + w
		curW += space + ww
	}
	return append(lines, cur)
}
