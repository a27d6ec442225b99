package builderapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/trishajanath/AltX-sub003/internal/conversation"
)

// MockBackend provides deterministic local behavior when no remote endpoints
// are configured. After a few exchanges it signals readiness with a minimal
// spec so the full turn pipeline can be exercised end to end.
type MockBackend struct {
	mu        sync.Mutex
	exchanges int
}

const mockReadyAfterExchanges = 3

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (m *MockBackend) Transcribe(ctx context.Context, wav []byte) (TranscriptionResult, error) {
	select {
	case <-ctx.Done():
		return TranscriptionResult{}, ctx.Err()
	default:
	}

	// A bare WAV header means no audio fragments were recorded.
	if len(wav) <= 44 {
		return TranscriptionResult{
			Failure: &TranscriptionFailure{
				Reason:          "no speech detected",
				Suggestions:     []string{"speak closer to the microphone", "check your input volume"},
				FallbackMessage: "You can also type your idea instead.",
			},
		}, nil
	}
	return TranscriptionResult{Text: "simulated voice input"}, nil
}

func (m *MockBackend) Send(ctx context.Context, history []conversation.Message, utterance string) (DialogueReply, error) {
	select {
	case <-ctx.Done():
		return DialogueReply{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	m.exchanges++
	ready := m.exchanges >= mockReadyAfterExchanges
	m.mu.Unlock()

	base := strings.TrimSpace(utterance)
	if base == "" {
		base = "your idea"
	}

	if !ready {
		return DialogueReply{
			Text: fmt.Sprintf("Got it: %s. What else should it do?", base),
		}, nil
	}

	spec, err := json.Marshal(map[string]any{
		"idea":     base,
		"messages": len(history) + 1,
	})
	if err != nil {
		return DialogueReply{}, fmt.Errorf("marshal mock spec: %w", err)
	}
	return DialogueReply{
		Text:            "I have everything I need. Starting the build now.",
		ReadyToGenerate: true,
		Spec:            spec,
	}, nil
}

func (m *MockBackend) StartGeneration(ctx context.Context, spec json.RawMessage) (GenerationOutcome, error) {
	select {
	case <-ctx.Done():
		return GenerationOutcome{}, ctx.Err()
	default:
	}

	name := ideaFromSpec(spec)
	if name == "" {
		name = "project"
	}
	return GenerationOutcome{Success: true, ArtifactID: slugify(name)}, nil
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
