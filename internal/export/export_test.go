/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/font/basicfont"

	"thumbdraft/internal/draft"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func dataURL(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func sampleState(t *testing.T, n int) draft.State {
	t.Helper()
	st := draft.State{
		ID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
		Idea:      "How I built a tiny house in the woods with no power tools",
		Text:      draft.TextOverlay{Heading: "TINY HOUSE", Subheading: "No power tools", Label: "BUILD", Date: "6th July, 2025"},
		Selection: draft.NoSelection,
	}
	for i := 0; i < n; i++ {
		c := color.RGBA{R: uint8(40 * i), G: 120, B: 200, A: 255}
		ref := dataURL("image/png", pngBytes(t, solid(160, 90, c)))
		st.Rendered = append(st.Rendered, ref)
		st.Originals = append(st.Originals, "https://img.example.test/orig-"+string(rune('a'+i))+".png")
	}
	return st
}

func TestFetchDataURL(t *testing.T) {
	f := NewFetcher()
	got, err := f.Fetch(context.Background(), "data:text/plain,hello%20world")
	if err != nil || string(got) != "hello world" {
		t.Fatalf("plain data url: %q, %v", got, err)
	}
	raw := []byte{1, 2, 3, 4, 5}
	unpadded := "data:application/octet-stream;base64," + base64.RawStdEncoding.EncodeToString(raw)
	got, err = f.Fetch(context.Background(), unpadded)
	if err != nil || !bytes.Equal(got, raw) {
		t.Fatalf("unpadded base64: %v, %v", got, err)
	}
	if _, err := f.Fetch(context.Background(), "data:image/png;base64"); !errors.Is(err, ErrUnsupportedRef) {
		t.Fatalf("missing payload: want ErrUnsupportedRef, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.test/a.png"); !errors.Is(err, ErrUnsupportedRef) {
		t.Fatalf("ftp: want ErrUnsupportedRef, got %v", err)
	}
	small := &Fetcher{MaxBytes: 2}
	if _, err := small.Fetch(context.Background(), "data:text/plain,abc"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
}

func TestFetchHTTPAndFile(t *testing.T) {
	body := pngBytes(t, solid(4, 4, color.RGBA{A: 255}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client()}
	got, err := f.Fetch(context.Background(), srv.URL+"/a.png")
	if err != nil || !bytes.Equal(got, body) {
		t.Fatalf("http fetch: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.png"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("want 404 error, got %v", err)
	}

	p := filepath.Join(t.TempDir(), "x.png")
	if err := os.WriteFile(p, body, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = f.Fetch(context.Background(), "file://"+filepath.ToSlash(p))
	if err != nil || !bytes.Equal(got, body) {
		t.Fatalf("file fetch: %v", err)
	}
}

func TestDownloadWritesNamedPNG(t *testing.T) {
	st := sampleState(t, 3)
	dir := filepath.Join(t.TempDir(), "out")
	p, err := Download(context.Background(), NewFetcher(), st, 1, dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if filepath.Base(p) != "thumbnail-2.png" {
		t.Fatalf("name = %s", filepath.Base(p))
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, pngMagic) {
		t.Fatalf("not a png")
	}
	if _, err := Download(context.Background(), NewFetcher(), st, 3, dir); !errors.Is(err, draft.ErrIndexRange) {
		t.Fatalf("want ErrIndexRange, got %v", err)
	}
}

func TestDownloadReencodesJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(32, 18, color.RGBA{R: 200, A: 255}), nil); err != nil {
		t.Fatal(err)
	}
	st := draft.State{Rendered: []string{dataURL("image/jpeg", buf.Bytes())}, Selection: draft.NoSelection}
	p, err := Download(context.Background(), NewFetcher(), st, 0, t.TempDir())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	b, _ := os.ReadFile(p)
	if !bytes.HasPrefix(b, pngMagic) {
		t.Fatalf("jpeg was not converted to png")
	}
}

func TestDownloadAllEmpty(t *testing.T) {
	if _, err := DownloadAll(context.Background(), NewFetcher(), draft.State{}, t.TempDir()); !errors.Is(err, ErrNoThumbnails) {
		t.Fatalf("want ErrNoThumbnails, got %v", err)
	}
}

func TestContactSheetLayout(t *testing.T) {
	st := sampleState(t, 2)
	st.Selection = 1
	img, err := ContactSheet(context.Background(), NewFetcher(), st, SheetOptions{HighlightSelection: true})
	if err != nil {
		t.Fatalf("sheet: %v", err)
	}
	// two thumbnails collapse the default three columns to two
	if got, want := img.Bounds().Dx(), 2*320+3*16; got != want {
		t.Fatalf("width = %d, want %d", got, want)
	}
	if img.Bounds().Dy() <= cellHeight(320) {
		t.Fatalf("height %d too small", img.Bounds().Dy())
	}
}

func TestWrapText(t *testing.T) {
	face := basicfont.Face7x13 // 7px advance
	lines := wrapText(face, "one two three four", 7*9)
	want := []string{"one two", "three", "four"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines = %q, want %q", lines, want)
		}
	}
	if wrapText(face, "   ", 100) != nil {
		t.Fatalf("blank text should yield no lines")
	}
}

func TestFitRect(t *testing.T) {
	dst := image.Rect(0, 0, 320, 180)
	got := fitRect(image.Rect(0, 0, 100, 100), dst)
	if got.Dx() != 180 || got.Dy() != 180 || got.Min.X != 70 {
		t.Fatalf("square fit = %v", got)
	}
	if got := fitRect(image.Rect(0, 0, 1600, 900), dst); got != dst {
		t.Fatalf("same aspect fit = %v", got)
	}
}

func TestWritePDF(t *testing.T) {
	st := sampleState(t, 5)
	st.Selection = 0
	var buf bytes.Buffer
	if err := WritePDF(context.Background(), NewFetcher(), st, &buf, PDFOptions{}); err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("missing pdf header")
	}
	if err := WritePDF(context.Background(), NewFetcher(), draft.State{}, io.Discard, PDFOptions{}); !errors.Is(err, ErrNoThumbnails) {
		t.Fatalf("want ErrNoThumbnails, got %v", err)
	}
}

func TestWriteBundle(t *testing.T) {
	st := sampleState(t, 2)
	st.Originals[1] = "data:image/png;base64,AAAA"
	var buf bytes.Buffer
	now := time.Date(2025, 7, 6, 12, 0, 0, 0, time.UTC)
	if err := WriteBundle(context.Background(), NewFetcher(), st, &buf, now); err != nil {
		t.Fatalf("bundle: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}
	for _, want := range []string{"thumbnails/thumbnail-1.png", "thumbnails/thumbnail-2.png", ManifestName} {
		if names[want] == nil {
			t.Fatalf("missing %s in %v", want, names)
		}
	}
	rc, err := names[ManifestName].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rc.Close() }()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.DraftID != st.ID || m.Text.Heading != "TINY HOUSE" || len(m.Files) != 2 {
		t.Fatalf("manifest = %+v", m)
	}
	if m.Files[0].Original == "" || m.Files[1].Original != "" {
		t.Fatalf("inline originals must be omitted: %+v", m.Files)
	}
	if !m.ExportedAt.Equal(now) {
		t.Fatalf("exported_at = %v", m.ExportedAt)
	}
}

func TestExportBundleRemovesPartialFile(t *testing.T) {
	st := draft.State{Rendered: []string{"ftp://nope"}, Selection: draft.NoSelection}
	out := filepath.Join(t.TempDir(), "b.zip")
	if err := ExportBundle(context.Background(), NewFetcher(), st, out, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("partial zip left behind: %v", err)
	}
}

func TestRunAllFormats(t *testing.T) {
	st := sampleState(t, 2)
	dir := t.TempDir()
	paths, err := Run(context.Background(), nil, st, Options{Formats: Formats, OutDir: dir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"thumbnail-1.png", "thumbnail-2.png", "thumbdraft-0f8fad5b.zip", "thumbdraft-0f8fad5b.pdf", "thumbdraft-0f8fad5b-sheet.png"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Fatalf("path %d = %s, want %s", i, filepath.Base(p), want[i])
		}
		if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
			t.Fatalf("%s missing or empty", p)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(" PDF "); err != nil || f != FormatPDF {
		t.Fatalf("ParseFormat = %q, %v", f, err)
	}
	if _, err := ParseFormat("svg"); err == nil {
		t.Fatalf("svg should be rejected")
	}
}
