package synth

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
	format string
}

func (s *recordingSink) PlayChunk(_ int, format string, audio []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk := make([]byte, len(audio))
	copy(chunk, audio)
	s.chunks = append(s.chunks, chunk)
	s.format = format
}

func (s *recordingSink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

// blockingClient holds Synthesize until released or the context is cancelled.
type blockingClient struct {
	release chan struct{}
}

func (c *blockingClient) Synthesize(ctx context.Context, text, _ string) ([]byte, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-c.release:
		return []byte(text), "mock_text_bytes", nil
	}
}

func (c *blockingClient) Voices(_ context.Context) ([]Voice, error) { return nil, nil }

func waitDone(t *testing.T, u *Utterance) {
	t.Helper()
	select {
	case <-u.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("utterance did not resolve")
	}
}

func TestSpeakFinishesAndStreamsAudio(t *testing.T) {
	sink := &recordingSink{}
	s := New(NewMockClient(), sink, "en-US")

	utt := s.Speak(context.Background(), "hello there")
	waitDone(t, utt)

	if utt.Outcome() != OutcomeFinished {
		t.Fatalf("Outcome() = %q, want %q", utt.Outcome(), OutcomeFinished)
	}
	if got := string(sink.joined()); got != "hello there" {
		t.Fatalf("sink audio = %q, want %q", got, "hello there")
	}
	if s.Speaking() {
		t.Fatalf("Speaking() = true after completion")
	}
}

func TestSpeakIsLastWriteWins(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	sink := &recordingSink{}
	s := New(client, sink, "")

	first := s.Speak(context.Background(), "first")
	second := s.Speak(context.Background(), "second")

	waitDone(t, first)
	if first.Outcome() != OutcomeCancelled {
		t.Fatalf("first Outcome() = %q, want %q", first.Outcome(), OutcomeCancelled)
	}

	close(client.release)
	waitDone(t, second)
	if second.Outcome() != OutcomeFinished {
		t.Fatalf("second Outcome() = %q, want %q", second.Outcome(), OutcomeFinished)
	}
	if got := string(sink.joined()); got != "second" {
		t.Fatalf("sink audio = %q, want only the second utterance", got)
	}
}

func TestStopCancelsAndIsIdempotent(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	s := New(client, &recordingSink{}, "")

	utt := s.Speak(context.Background(), "to be interrupted")
	s.Stop()
	s.Stop()

	waitDone(t, utt)
	if utt.Outcome() != OutcomeCancelled {
		t.Fatalf("Outcome() = %q, want %q", utt.Outcome(), OutcomeCancelled)
	}
	if utt.Err() != nil {
		t.Fatalf("Err() = %v, cancellation must not report an error", utt.Err())
	}
}

func TestSelectVoicePrefersLocaleThenLanguageThenDefault(t *testing.T) {
	voices := []Voice{
		{ID: "c", Locale: "it-IT"},
		{ID: "b", Locale: "en-GB"},
		{ID: "a", Locale: "en-US", Default: true},
	}

	v, ok := SelectVoice(voices, "en-GB")
	if !ok || v.ID != "b" {
		t.Fatalf("SelectVoice(en-GB) = %+v, want exact locale match b", v)
	}

	v, ok = SelectVoice(voices, "en-AU")
	if !ok || v.ID != "a" {
		t.Fatalf("SelectVoice(en-AU) = %+v, want first same-language voice a", v)
	}

	v, ok = SelectVoice(voices, "ja-JP")
	if !ok || v.ID != "a" {
		t.Fatalf("SelectVoice(ja-JP) = %+v, want default voice a", v)
	}

	if _, ok := SelectVoice(nil, "en-US"); ok {
		t.Fatalf("SelectVoice(nil) should report no voice")
	}
}
