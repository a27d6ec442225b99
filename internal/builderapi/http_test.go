package builderapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trishajanath/AltX-sub003/internal/conversation"
)

func TestTranscribeSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "audio/wav" {
			t.Errorf("Content-Type = %q, want audio/wav", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "clip-bytes" {
			t.Errorf("body = %q, want clip bytes", string(body))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "build me a todo app"})
	}))
	defer ts.Close()

	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	res, err := b.Transcribe(context.Background(), []byte("clip-bytes"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if !res.OK() || res.Text != "build me a todo app" {
		t.Fatalf("Transcribe() = %+v, want ok text", res)
	}
}

func TestTranscribeSemanticFailureIsResultNotError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":            "low volume",
			"suggestions":      []string{"move closer"},
			"fallback_message": "try typing instead",
		})
	}))
	defer ts.Close()

	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	res, err := b.Transcribe(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v, semantic failure must not be an error", err)
	}
	if res.OK() {
		t.Fatalf("Transcribe() = %+v, want semantic failure", res)
	}
	if res.Failure.Reason != "low volume" || len(res.Failure.Suggestions) != 1 {
		t.Fatalf("Failure = %+v", res.Failure)
	}
}

func TestTranscribeTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	_, err := b.Transcribe(context.Background(), []byte("x"))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Transcribe() error = %v, want TransportError", err)
	}
	if !te.Retryable() {
		t.Fatalf("TransportError(503).Retryable() = false, want true")
	}
}

func TestSendPayloadShapeAndReply(t *testing.T) {
	var captured map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":        "Got it, what else?",
			"should_generate": false,
		})
	}))
	defer ts.Close()

	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "hello"},
		{Role: conversation.RoleSystem, Content: "local note"},
		{Role: conversation.RoleAssistant, Content: "hi"},
	}

	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	reply, err := b.Send(context.Background(), history, "build me a todo app")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Text != "Got it, what else?" || reply.ReadyToGenerate {
		t.Fatalf("reply = %+v", reply)
	}

	if captured["message"] != "build me a todo app" {
		t.Fatalf("message = %v", captured["message"])
	}
	sent, _ := captured["conversation_history"].([]any)
	if len(sent) != 2 {
		t.Fatalf("conversation_history length = %d, want 2 (system entries excluded)", len(sent))
	}
}

func TestSendReadyWithoutSpecIsContractViolation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":        "ready!",
			"should_generate": true,
		})
	}))
	defer ts.Close()

	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	_, err := b.Send(context.Background(), nil, "go")
	if !errors.Is(err, ErrSpecMissing) {
		t.Fatalf("Send() error = %v, want ErrSpecMissing", err)
	}
}

func TestSendDropsSpecWhenNotReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":        "not yet",
			"should_generate": false,
			"project_spec":    map[string]any{"idea": "stray"},
		})
	}))
	defer ts.Close()

	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	reply, err := b.Send(context.Background(), nil, "go")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Spec != nil {
		t.Fatalf("Spec = %s, want nil when should_generate is false", reply.Spec)
	}
}

func TestStartGenerationForwardsSpecUnmodified(t *testing.T) {
	var captured struct {
		Idea         string          `json:"idea"`
		Requirements json.RawMessage `json:"requirements"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "project_name": "foo"})
	}))
	defer ts.Close()

	spec := json.RawMessage(`{"idea":"todo app","pages":3}`)
	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	outcome, err := b.StartGeneration(context.Background(), spec)
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}
	if !outcome.Success || outcome.ArtifactID != "foo" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if captured.Idea != "todo app" {
		t.Fatalf("idea = %q, want lifted from spec", captured.Idea)
	}
	var got, want map[string]any
	if err := json.Unmarshal(captured.Requirements, &got); err != nil {
		t.Fatalf("requirements unmarshal: %v", err)
	}
	_ = json.Unmarshal(spec, &want)
	if got["pages"] != want["pages"] || got["idea"] != want["idea"] {
		t.Fatalf("requirements = %v, want spec passed unmodified", got)
	}
}

func TestStartGenerationReportedFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer ts.Close()

	b := NewHTTPBackend(ts.URL, ts.URL, ts.URL, time.Second)
	outcome, err := b.StartGeneration(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("StartGeneration() error = %v, reported failure must not be an error", err)
	}
	if outcome.Success {
		t.Fatalf("outcome.Success = true, want false")
	}
}
