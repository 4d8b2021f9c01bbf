// Package draftstore persists the participant's work-in-progress code and
// language selection between reloads of the same contest attempt. Drafts are
// a convenience for resuming; they are never authoritative over the
// backend's submitted record.
package draftstore

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps the last draft per contest+task. Keys follow the
// task_<contestId>_code / task_<contestId>_language convention of the
// original client-local storage.
type Store interface {
	SaveCode(ctx context.Context, contestID, taskID, code string) error
	LoadCode(ctx context.Context, contestID, taskID string) (string, bool, error)
	SaveLanguage(ctx context.Context, contestID, taskID, languageID string) error
	LoadLanguage(ctx context.Context, contestID, taskID string) (string, bool, error)
}

func codeKey(contestID, taskID string) string {
	return fmt.Sprintf("task_%s_code:%s", contestID, taskID)
}

func languageKey(contestID, taskID string) string {
	return fmt.Sprintf("task_%s_language:%s", contestID, taskID)
}

// MemStore is the in-process implementation, used by tests and by agents
// that run without a redis.
type MemStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

func (s *MemStore) SaveCode(ctx context.Context, contestID, taskID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[codeKey(contestID, taskID)] = code
	return nil
}

func (s *MemStore) LoadCode(ctx context.Context, contestID, taskID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[codeKey(contestID, taskID)]
	return v, ok, nil
}

func (s *MemStore) SaveLanguage(ctx context.Context, contestID, taskID, languageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[languageKey(contestID, taskID)] = languageID
	return nil
}

func (s *MemStore) LoadLanguage(ctx context.Context, contestID, taskID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[languageKey(contestID, taskID)]
	return v, ok, nil
}
