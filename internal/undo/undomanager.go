/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package undo keeps bounded undo/redo histories of opaque state blobs, one history per key.
//
// Callers record the state as it was *before* a change. Records arriving within
// MinInterval of the previous one on the same key are coalesced so that a burst of
// keystrokes undoes as a single step.
package undo

import (
	"sync"
	"time"
)

// Snapshot is one captured state. Blob is opaque; its length is used for memory accounting.
type Snapshot struct {
	Key  string
	Blob []byte
	TS   time.Time
}

// Config controls caps and coalescing.
type Config struct {
	// MaxBytes is a soft cap over all undo entries; the oldest are pruned first.
	MaxBytes int
	// MaxDepth limits entries per key (0 means unlimited).
	MaxDepth int
	// MinInterval coalesces records on the same key that arrive faster than this.
	MinInterval time.Duration
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg        Config
	mu         sync.Mutex
	undo       map[string][]Snapshot
	redo       map[string][]Snapshot
	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 4 * 1024 * 1024
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 500 * time.Millisecond
	}
	return &Manager{cfg: cfg, undo: map[string][]Snapshot{}, redo: map[string][]Snapshot{}}
}

// Record stores the pre-change state s. Any redo history for the key is dropped.
// If the last record on the key is younger than MinInterval, s is discarded and the
// older record stays in place, only its timestamp moves forward.
func (m *Manager) Record(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redo[s.Key] = nil
	stack := m.undo[s.Key]
	if n := len(stack); n > 0 && s.TS.Sub(stack[n-1].TS) < m.cfg.MinInterval {
		stack[n-1].TS = s.TS
		return
	}
	m.undo[s.Key] = append(stack, s)
	m.totalBytes += len(s.Blob)
	m.enforceCapsLocked(s.Key)
}

// Undo returns the most recent pre-change state for key and remembers current for Redo.
func (m *Manager) Undo(key string, current []byte) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[key]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	s := stack[len(stack)-1]
	m.undo[key] = stack[:len(stack)-1]
	m.totalBytes -= len(s.Blob)
	m.redo[key] = append(m.redo[key], Snapshot{Key: key, Blob: current, TS: s.TS})
	return s, true
}

// Redo reverses the last Undo, remembering current so it can be undone again.
func (m *Manager) Redo(key string, current []byte) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redo[key]
	if len(r) == 0 {
		return Snapshot{}, false
	}
	s := r[len(r)-1]
	m.redo[key] = r[:len(r)-1]
	// a zero timestamp keeps the next Record from coalescing into this entry
	m.undo[key] = append(m.undo[key], Snapshot{Key: key, Blob: current})
	m.totalBytes += len(current)
	m.enforceCapsLocked(key)
	return s, true
}

// CanUndo reports whether key has undo history.
func (m *Manager) CanUndo(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo[key]) > 0
}

// CanRedo reports whether key has redo history.
func (m *Manager) CanRedo(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo[key]) > 0
}

// Clear forgets all history for key.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.undo[key] {
		m.totalBytes -= len(s.Blob)
	}
	delete(m.undo, key)
	delete(m.redo, key)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

// Stats returns sizes for diagnostics.
func (m *Manager) Stats() (totalBytes, keys, entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.undo {
		if len(v) > 0 {
			keys++
		}
		entries += len(v)
	}
	return m.totalBytes, keys, entries
}

func (m *Manager) enforceCapsLocked(key string) {
	if d := m.cfg.MaxDepth; d > 0 {
		if stack := m.undo[key]; len(stack) > d {
			drop := len(stack) - d
			for _, s := range stack[:drop] {
				m.totalBytes -= len(s.Blob)
			}
			m.undo[key] = append([]Snapshot(nil), stack[drop:]...)
		}
	}
	for m.totalBytes > m.cfg.MaxBytes {
		oldestKey, found := "", false
		var oldest time.Time
		for k, stack := range m.undo {
			if len(stack) == 0 {
				continue
			}
			if !found || stack[0].TS.Before(oldest) {
				oldestKey, oldest, found = k, stack[0].TS, true
			}
		}
		if !found {
			return
		}
		stack := m.undo[oldestKey]
		m.totalBytes -= len(stack[0].Blob)
		if len(stack) == 1 {
			delete(m.undo, oldestKey)
		} else {
			m.undo[oldestKey] = stack[1:]
		}
	}
}
