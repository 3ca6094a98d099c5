// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"os"
	"strings"
	"sync"
)

// PathStore remembers which endpoint path last worked so a client that was
// forced onto the fallback does not re-probe the broken primary on every
// startup.
type PathStore interface {
	Load() string
	Save(path string) error
}

// FilePathStore persists the working path to a small state file, the
// equivalent of browser localStorage for a headless client.
type FilePathStore struct {
	file string
}

func NewFilePathStore(file string) *FilePathStore {
	return &FilePathStore{file: file}
}

// Load returns the persisted path, or "" when none was saved.
func (s *FilePathStore) Load() string {
	raw, err := os.ReadFile(s.file)
	if err != nil {
		return ""
	}
	path := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(path, "/") {
		return ""
	}
	return path
}

// Save writes the path atomically via rename.
func (s *FilePathStore) Save(path string) error {
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, []byte(path+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.file)
}

// MemoryPathStore keeps the path in memory only. Used when persistence is
// not wanted and in tests.
type MemoryPathStore struct {
	mu   sync.Mutex
	path string
}

func (s *MemoryPathStore) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *MemoryPathStore) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	return nil
}
