/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"thumbdraft/internal/draft"
	applog "thumbdraft/internal/log"
	"thumbdraft/internal/version"
)

const (
	BackupsDirName  = "backups"
	sessionExt      = ".json"
	currentFileName = "current"

	// FormatVersion is written into every session file.
	FormatVersion = 1
)

var (
	ErrNotFound  = errors.New("draft session not found")
	ErrAmbiguous = errors.New("draft id prefix is ambiguous")
)

// Session is the on-disk envelope of a draft.
type Session struct {
	FormatVersion int         `json:"format_version"`
	App           string      `json:"app"`
	SavedAt       time.Time   `json:"saved_at"`
	Draft         draft.State `json:"draft"`
}

// Summary is a listing entry.
type Summary struct {
	ID         string
	Idea       string
	Heading    string
	Thumbnails int
	SavedAt    time.Time
}

// Store manages the sessions in Dir.
type Store struct {
	Dir string
	// KeepBackups bounds backups per draft; 0 keeps all.
	KeepBackups int
	// BackupEvery is the minimum spacing of backups taken by Autosave.
	BackupEvery time.Duration
	now         func() time.Time

	mu         sync.Mutex
	lastBackup map[string]time.Time
}

// NewStore returns a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("drafts directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, BackupsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create drafts dir: %w", err)
	}
	return &Store{Dir: dir, KeepBackups: 10, BackupEvery: 5 * time.Minute, now: time.Now, lastBackup: map[string]time.Time{}}, nil
}

// Path returns the session file of id.
func (s *Store) Path(id string) string { return filepath.Join(s.Dir, id+sessionExt) }

// BackupsDir is where previous versions are kept.
func (s *Store) BackupsDir() string { return filepath.Join(s.Dir, BackupsDirName) }

// Save writes st, backing up the previous version of the same draft first.
func (s *Store) Save(st draft.State) error { return s.save(st, true) }

// Autosave writes st like Save but backs up the previous version only when the
// last backup of this draft is at least BackupEvery old, so frequent saves
// while typing do not push the useful backups out.
func (s *Store) Autosave(st draft.State) error {
	s.mu.Lock()
	last, ok := s.lastBackup[st.ID]
	s.mu.Unlock()
	return s.save(st, !ok || s.now().Sub(last) >= s.BackupEvery)
}

func (s *Store) save(st draft.State, backup bool) error {
	if st.ID == "" || strings.ContainsAny(st.ID, `/\`) {
		return fmt.Errorf("invalid draft id %q", st.ID)
	}
	l := applog.WithOperation(applog.WithComponent("storage"), "save").With(slog.String("draft", st.ID))
	sess := Session{FormatVersion: FormatVersion, App: version.String(), SavedAt: s.now().UTC(), Draft: st}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	path := s.Path(st.ID)
	if _, err := os.Stat(path); err == nil && backup {
		now := s.now()
		stamp := now.Format("20060102-150405.000")
		bpath := filepath.Join(s.BackupsDir(), fmt.Sprintf("%s%s.%s.bak", st.ID, sessionExt, stamp))
		if err := copyFile(path, bpath); err != nil {
			return fmt.Errorf("backup session: %w", err)
		}
		s.mu.Lock()
		s.lastBackup[st.ID] = now
		s.mu.Unlock()
		s.pruneBackups(st.ID)
	}
	if err := writeAtomic(path, data); err != nil {
		l.Error("write failed", slog.Any("err", err))
		return err
	}
	l.Debug("session saved", slog.Int("bytes", len(data)))
	return nil
}

// AutosaveCrash writes st as a backup entry without touching the session
// file, so a later Open can fall back to it. It returns the written path.
func (s *Store) AutosaveCrash(st draft.State) (string, error) {
	if st.ID == "" || strings.ContainsAny(st.ID, `/\`) {
		return "", fmt.Errorf("invalid draft id %q", st.ID)
	}
	sess := Session{FormatVersion: FormatVersion, App: version.String(), SavedAt: s.now().UTC(), Draft: st}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	stamp := s.now().Format("20060102-150405.000")
	path := filepath.Join(s.BackupsDir(), fmt.Sprintf("%s%s.%s-crash.bak", st.ID, sessionExt, stamp))
	if err := writeFileSync(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("write crash snapshot: %w", err)
	}
	return path, nil
}

// Open loads the draft id. An unreadable or corrupt file is replaced by its newest backup.
func (s *Store) Open(id string) (Session, error) {
	b, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) && !s.hasBackups(id) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var sess Session
	if err == nil {
		if err = json.Unmarshal(b, &sess); err == nil {
			return sess, nil
		}
	}
	backup, berr := s.latestBackup(id)
	if berr != nil {
		return Session{}, fmt.Errorf("open session %s: %w; backup attempt: %v", id, err, berr)
	}
	applog.WithComponent("storage").Warn("session restored from backup", slog.String("draft", id), slog.Any("err", err))
	return backup, nil
}

// Delete removes the session and its backups.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, b := range s.backups(id) {
		_ = os.Remove(b)
	}
	if cur, _ := s.Current(); cur == id {
		_ = os.Remove(filepath.Join(s.Dir, currentFileName))
	}
	return nil
}

// List returns all sessions, most recently saved first. Unreadable files are skipped.
func (s *Store) List() ([]Summary, error) {
	ents, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, sessionExt) {
			continue
		}
		id := strings.TrimSuffix(name, sessionExt)
		sess, err := s.Open(id)
		if err != nil {
			continue
		}
		out = append(out, Summary{
			ID:         id,
			Idea:       sess.Draft.Idea,
			Heading:    sess.Draft.Text.Heading,
			Thumbnails: len(sess.Draft.Rendered),
			SavedAt:    sess.SavedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Resolve expands a unique id prefix to a full id.
func (s *Store) Resolve(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if _, err := os.Stat(s.Path(prefix)); err == nil {
		return prefix, nil
	}
	list, err := s.List()
	if err != nil {
		return "", err
	}
	var match string
	for _, sum := range list {
		if strings.HasPrefix(sum.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
			}
			match = sum.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	return match, nil
}

// SetCurrent remembers id as the draft commands operate on by default.
func (s *Store) SetCurrent(id string) error {
	return writeAtomic(filepath.Join(s.Dir, currentFileName), []byte(id+"\n"))
}

// Current returns the remembered draft id, falling back to the most recent session.
func (s *Store) Current() (string, error) {
	if b, err := os.ReadFile(filepath.Join(s.Dir, currentFileName)); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			if _, err := os.Stat(s.Path(id)); err == nil {
				return id, nil
			}
		}
	}
	list, err := s.List()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", ErrNotFound
	}
	return list[0].ID, nil
}

func (s *Store) backups(id string) []string {
	ents, err := os.ReadDir(s.BackupsDir())
	if err != nil {
		return nil
	}
	prefix := id + sessionExt + "."
	var out []string
	for _, e := range ents {
		if name := e.Name(); strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".bak") {
			out = append(out, filepath.Join(s.BackupsDir(), name))
		}
	}
	sort.Strings(out) // timestamps sort lexicographically
	return out
}

func (s *Store) hasBackups(id string) bool { return len(s.backups(id)) > 0 }

func (s *Store) latestBackup(id string) (Session, error) {
	list := s.backups(id)
	for i := len(list) - 1; i >= 0; i-- {
		b, err := os.ReadFile(list[i])
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(b, &sess); err == nil {
			return sess, nil
		}
	}
	return Session{}, errors.New("no usable backup")
}

func (s *Store) pruneBackups(id string) {
	if s.KeepBackups <= 0 {
		return
	}
	list := s.backups(id)
	for len(list) > s.KeepBackups {
		_ = os.Remove(list[0])
		list = list[1:]
	}
}
