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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"thumbdraft/internal/draft"
)

// ErrNoThumbnails is returned when a draft has nothing to export.
var ErrNoThumbnails = errors.New("draft has no thumbnails")

// Download writes rendered thumbnail i of st into dir as thumbnail-<i+1>.png
// and returns the written path.
func Download(ctx context.Context, f *Fetcher, st draft.State, i int, dir string) (string, error) {
	if i < 0 || i >= len(st.Rendered) {
		return "", fmt.Errorf("%w: %d of %d", draft.ErrIndexRange, i, len(st.Rendered))
	}
	data, err := f.Fetch(ctx, st.Rendered[i])
	if err != nil {
		return "", fmt.Errorf("thumbnail %d: %w", i+1, err)
	}
	data, err = asPNG(data)
	if err != nil {
		return "", fmt.Errorf("thumbnail %d: %w", i+1, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure out dir: %w", err)
	}
	out := filepath.Join(dir, draft.DownloadName(i))
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// DownloadAll writes every rendered thumbnail into dir.
func DownloadAll(ctx context.Context, f *Fetcher, st draft.State, dir string) ([]string, error) {
	if len(st.Rendered) == 0 {
		return nil, ErrNoThumbnails
	}
	paths := make([]string, 0, len(st.Rendered))
	for i := range st.Rendered {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		p, err := Download(ctx, f, st, i, dir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
