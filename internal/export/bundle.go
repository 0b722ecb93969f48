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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"thumbdraft/internal/draft"
	"thumbdraft/internal/version"
)

// ManifestName is the bundle's index entry.
const ManifestName = "draft.json"

// Manifest describes a bundle.
type Manifest struct {
	App        string            `json:"app"`
	ExportedAt time.Time         `json:"exported_at"`
	DraftID    string            `json:"draft_id"`
	Idea       string            `json:"idea"`
	Text       draft.TextOverlay `json:"text"`
	Selection  int               `json:"selection"`
	Files      []ManifestFile    `json:"files"`
}

// ManifestFile is one thumbnail in a bundle. Original is the source image
// reference, omitted for inline data.
type ManifestFile struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Original string `json:"original,omitempty"`
}

// WriteBundle writes a ZIP with every rendered thumbnail under thumbnails/
// plus a draft.json manifest.
func WriteBundle(ctx context.Context, f *Fetcher, st draft.State, w io.Writer, now time.Time) error {
	if len(st.Rendered) == 0 {
		return ErrNoThumbnails
	}
	zw := zip.NewWriter(w)
	m := Manifest{
		App:        version.String(),
		ExportedAt: now.UTC(),
		DraftID:    st.ID,
		Idea:       st.Idea,
		Text:       st.Text,
		Selection:  st.Selection,
	}
	for i, ref := range st.Rendered {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		data, err := f.Fetch(ctx, ref)
		if err == nil {
			data, err = asPNG(data)
		}
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("thumbnail %d: %w", i+1, err)
		}
		name := path.Join("thumbnails", draft.DownloadName(i))
		if err := writeEntry(zw, name, data, now); err != nil {
			_ = zw.Close()
			return err
		}
		mf := ManifestFile{Index: i, Name: name}
		if i < len(st.Originals) && !strings.HasPrefix(st.Originals[i], "data:") {
			mf.Original = st.Originals[i]
		}
		m.Files = append(m.Files, mf)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeEntry(zw, ManifestName, b, now); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte, mod time.Time) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mod}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("zip write %s: %w", name, err)
	}
	return nil
}

// ExportBundle writes the bundle to out.
func ExportBundle(ctx context.Context, f *Fetcher, st draft.State, out string, now time.Time) (err error) {
	if len(st.Rendered) == 0 {
		return ErrNoThumbnails
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	fh, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer func() {
		if cerr := fh.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close zip: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(out)
		}
	}()
	return WriteBundle(ctx, f, st, fh, now)
}
