package builds

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) MarkOutcome(_ context.Context, id string, status Status, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Status = status
			s.records[i].ArtifactID = artifactID
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) BySession(_ context.Context, sessionID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, limit)
	// Newest first.
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
