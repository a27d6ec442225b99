package builderapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trishajanath/AltX-sub003/internal/conversation"
	"github.com/trishajanath/AltX-sub003/internal/reliability"
)

// ErrSpecMissing means the dialogue backend signalled readiness without the
// structured project spec. The contract is spec-present iff ready.
var ErrSpecMissing = errors.New("dialogue ready without project spec")

// TransportError is a network-level failure (timeout, unreachable, non-2xx).
// It is distinct from semantic failures, which come back as results.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may reasonably be retried.
func (e *TransportError) Retryable() bool {
	if e.Status == 0 {
		return true
	}
	return reliability.IsRetryableHTTPStatus(e.Status)
}

// TranscriptionFailure is a routine semantic failure (silence, noise,
// unsupported accent). It is a first-class result shown to the user, not an
// error.
type TranscriptionFailure struct {
	Reason          string   `json:"reason"`
	Suggestions     []string `json:"suggestions,omitempty"`
	FallbackMessage string   `json:"fallback_message,omitempty"`
}

// TranscriptionResult carries either the recognized text or a semantic
// failure, never both.
type TranscriptionResult struct {
	Text    string
	Failure *TranscriptionFailure
}

func (r TranscriptionResult) OK() bool { return r.Failure == nil }

// Transcriber converts one finalized WAV clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (TranscriptionResult, error)
}

// DialogueReply is the reasoning backend's answer for one turn. Spec is
// non-nil exactly when ReadyToGenerate is true.
type DialogueReply struct {
	Text            string
	ReadyToGenerate bool
	Spec            json.RawMessage
}

// Dialoguer submits the running conversation plus the new utterance.
type Dialoguer interface {
	Send(ctx context.Context, history []conversation.Message, utterance string) (DialogueReply, error)
}

// GenerationOutcome is the generation backend's verdict for one submission.
// Success false is a reported outcome, not a transport error.
type GenerationOutcome struct {
	Success    bool
	ArtifactID string
}

// Generator submits a structured spec for asynchronous generation.
type Generator interface {
	StartGeneration(ctx context.Context, spec json.RawMessage) (GenerationOutcome, error)
}

// Backend bundles the three stateless remote clients.
type Backend struct {
	Transcriber Transcriber
	Dialoguer   Dialoguer
	Generator   Generator
}
