package builderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trishajanath/AltX-sub003/internal/conversation"
)

const maxErrorBodyBytes = 4 << 10

// HTTPBackend talks to the remote builder endpoints over plain HTTP.
type HTTPBackend struct {
	transcribeURL string
	dialogueURL   string
	generateURL   string
	client        *http.Client
}

func NewHTTPBackend(transcribeURL, dialogueURL, generateURL string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		transcribeURL: strings.TrimSpace(transcribeURL),
		dialogueURL:   strings.TrimSpace(dialogueURL),
		generateURL:   strings.TrimSpace(generateURL),
		client:        &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Transcribe(ctx context.Context, wav []byte) (TranscriptionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.transcribeURL, bytes.NewReader(wav))
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	res, err := b.client.Do(req)
	if err != nil {
		return TranscriptionResult{}, &TransportError{Op: "transcribe", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		return TranscriptionResult{}, &TransportError{Op: "transcribe", Status: res.StatusCode, Body: string(body)}
	}

	var payload struct {
		Text            string   `json:"text"`
		Error           string   `json:"error"`
		Suggestions     []string `json:"suggestions"`
		FallbackMessage string   `json:"fallback_message"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return TranscriptionResult{}, fmt.Errorf("decode transcribe response: %w", err)
	}

	// Semantic failures arrive on 2xx with an error field; they are results,
	// not errors.
	if strings.TrimSpace(payload.Error) != "" {
		return TranscriptionResult{
			Failure: &TranscriptionFailure{
				Reason:          strings.TrimSpace(payload.Error),
				Suggestions:     payload.Suggestions,
				FallbackMessage: strings.TrimSpace(payload.FallbackMessage),
			},
		}, nil
	}
	return TranscriptionResult{Text: strings.TrimSpace(payload.Text)}, nil
}

type dialogueHistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (b *HTTPBackend) Send(ctx context.Context, history []conversation.Message, utterance string) (DialogueReply, error) {
	entries := make([]dialogueHistoryEntry, 0, len(history))
	for _, m := range history {
		// The store filters system messages already; keep the wire contract
		// strict even if a caller hands us an unfiltered slice.
		if m.Role == conversation.RoleSystem {
			continue
		}
		entries = append(entries, dialogueHistoryEntry{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(map[string]any{
		"message":              utterance,
		"conversation_history": entries,
	})
	if err != nil {
		return DialogueReply{}, fmt.Errorf("marshal dialogue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.dialogueURL, bytes.NewReader(payload))
	if err != nil {
		return DialogueReply{}, fmt.Errorf("create dialogue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return DialogueReply{}, &TransportError{Op: "dialogue", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		return DialogueReply{}, &TransportError{Op: "dialogue", Status: res.StatusCode, Body: string(body)}
	}

	var reply struct {
		Response       string          `json:"response"`
		ShouldGenerate bool            `json:"should_generate"`
		ProjectSpec    json.RawMessage `json:"project_spec"`
	}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return DialogueReply{}, fmt.Errorf("decode dialogue response: %w", err)
	}

	spec := reply.ProjectSpec
	if len(bytes.TrimSpace(spec)) == 0 || bytes.Equal(bytes.TrimSpace(spec), []byte("null")) {
		spec = nil
	}
	if reply.ShouldGenerate && spec == nil {
		return DialogueReply{}, ErrSpecMissing
	}
	if !reply.ShouldGenerate {
		// The explicit flag is the sole readiness authority; a stray spec on a
		// not-ready reply is dropped.
		spec = nil
	}

	return DialogueReply{
		Text:            strings.TrimSpace(reply.Response),
		ReadyToGenerate: reply.ShouldGenerate,
		Spec:            spec,
	}, nil
}

func (b *HTTPBackend) StartGeneration(ctx context.Context, spec json.RawMessage) (GenerationOutcome, error) {
	payload, err := json.Marshal(map[string]any{
		"idea":         ideaFromSpec(spec),
		"requirements": spec,
	})
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.generateURL, bytes.NewReader(payload))
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return GenerationOutcome{}, &TransportError{Op: "generation", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		return GenerationOutcome{}, &TransportError{Op: "generation", Status: res.StatusCode, Body: string(body)}
	}

	var outcome struct {
		Success     bool   `json:"success"`
		ProjectName string `json:"project_name"`
	}
	if err := json.NewDecoder(res.Body).Decode(&outcome); err != nil {
		return GenerationOutcome{}, fmt.Errorf("decode generation response: %w", err)
	}
	return GenerationOutcome{
		Success:    outcome.Success,
		ArtifactID: strings.TrimSpace(outcome.ProjectName),
	}, nil
}

// ideaFromSpec lifts a short human label out of the opaque spec for the wire
// payload. The spec itself is forwarded untouched as requirements.
func ideaFromSpec(spec json.RawMessage) string {
	var obj map[string]any
	if err := json.Unmarshal(spec, &obj); err != nil {
		return ""
	}
	for _, k := range []string{"idea", "project_name", "name", "description"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
