package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process DocStore used by tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any

	// FailPaths marks paths whose writes should fail, for failure-path
	// tests.
	FailPaths map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, path string, data map[string]any) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(path); err != nil {
		return OutcomeError, err
	}
	if _, exists := s.docs[path]; exists {
		return OutcomeAlreadyExists, nil
	}
	s.docs[path] = deepCopy(data)
	return OutcomeCreated, nil
}

func (s *MemoryStore) UpsertMerge(_ context.Context, path string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(path); err != nil {
		return err
	}
	doc, exists := s.docs[path]
	if !exists {
		doc = make(map[string]any)
		s.docs[path] = doc
	}
	deepMerge(doc, data)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, exists := s.docs[path]
	if !exists {
		return nil, ErrNotFound
	}
	return deepCopy(doc), nil
}

func (s *MemoryStore) BatchCommit(ctx context.Context, ops []Op) []OpResult {
	results := make([]OpResult, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case OpCreate:
			outcome, err := s.CreateIfAbsent(ctx, op.Path, op.Data)
			results[i] = OpResult{Path: op.Path, Outcome: outcome, Err: err}
		default:
			err := s.UpsertMerge(ctx, op.Path, op.Data)
			results[i] = OpResult{Path: op.Path, Outcome: OutcomeMerged, Err: err}
			if err != nil {
				results[i].Outcome = OutcomeError
			}
		}
	}
	return results
}

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Paths returns all stored document paths.
func (s *MemoryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	return paths
}

func (s *MemoryStore) failure(path string) error {
	if s.FailPaths == nil {
		return nil
	}
	return s.FailPaths[path]
}

func deepCopy(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				deepMerge(existing, nested)
				continue
			}
			dst[k] = deepCopy(nested)
			continue
		}
		dst[k] = v
	}
}
