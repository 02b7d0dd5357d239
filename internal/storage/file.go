// Package storage provides settlement persistence backends: an atomic JSON
// file store and a sqlite store. Both satisfy settlement.Store.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evotraders/evotraders/internal/analyst"
	"github.com/evotraders/evotraders/internal/baseline"
)

// fileDocument is the on-disk shape of the JSON store.
type fileDocument struct {
	UpdatedAt   string          `json:"updated_at"`
	Settlement  *baseline.State `json:"settlement,omitempty"`
	Leaderboard []analyst.Entry `json:"leaderboard,omitempty"`
}

// FileStore persists settlement state as one JSON document with atomic
// temp-file-plus-rename writes.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) LoadSettlementState() (*baseline.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return doc.Settlement, nil
}

func (s *FileStore) SaveSettlementState(st *baseline.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &fileDocument{}
	}
	doc.Settlement = st
	return s.write(doc)
}

func (s *FileStore) LoadLeaderboard() ([]analyst.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return doc.Leaderboard, nil
}

func (s *FileStore) SaveLeaderboard(entries []analyst.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &fileDocument{}
	}
	doc.Leaderboard = entries
	return s.write(doc)
}

func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read %s: %w", s.path, err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: unmarshal %s: %w", s.path, err)
	}
	return &doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
