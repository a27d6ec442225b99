package builds

import (
	"context"
	"time"
)

// Status is the recorded lifecycle of one generation attempt.
type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is one generation attempt triggered from a conversation.
type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Idea       string    `json:"idea"`
	Status     Status    `json:"status"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists generation attempt records. Conversation history itself is
// session-scoped and never persisted here.
type Store interface {
	Save(ctx context.Context, record Record) error
	MarkOutcome(ctx context.Context, id string, status Status, artifactID string) error
	BySession(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}
