package synth

import (
	"context"
	"sync"
)

// Outcome reports how an utterance's playback resolved.
type Outcome string

const (
	OutcomeFinished  Outcome = "finished"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Utterance is the handle for one narration. Done resolves exactly once, on
// completion, cancellation, or synthesis failure.
type Utterance struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
	err     error
}

func newUtterance() *Utterance {
	return &Utterance{done: make(chan struct{})}
}

func (u *Utterance) Done() <-chan struct{} { return u.done }

// Outcome is valid only after Done is closed.
func (u *Utterance) Outcome() Outcome { return u.outcome }

// Err is non-nil only for OutcomeFailed. Cancellation is not an error.
func (u *Utterance) Err() error { return u.err }

func (u *Utterance) finish(outcome Outcome, err error) {
	u.once.Do(func() {
		u.outcome = outcome
		u.err = err
		close(u.done)
	})
}

// Client converts text to one audio payload.
type Client interface {
	Synthesize(ctx context.Context, text, voiceID string) (audio []byte, format string, err error)
	Voices(ctx context.Context) ([]Voice, error)
}

// Sink receives playback audio chunks in sequence order.
type Sink interface {
	PlayChunk(seq int, format string, audio []byte)
}

const playbackChunkBytes = 4096

type speaking struct {
	utt    *Utterance
	cancel context.CancelFunc
}

// Synthesizer narrates text through a Sink, at most one utterance at a time.
// Speak has last-write-wins semantics: starting a new utterance cancels the
// previous one immediately.
type Synthesizer struct {
	mu      sync.Mutex
	client  Client
	sink    Sink
	locale  string
	voiceID string
	picked  bool
	current *speaking
}

func New(client Client, sink Sink, locale string) *Synthesizer {
	return &Synthesizer{client: client, sink: sink, locale: locale}
}

// Speaking reports whether an utterance is currently playing.
func (s *Synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Speak starts narrating text and returns the utterance handle. Any in-flight
// utterance is cancelled first and its completion is not reported.
func (s *Synthesizer) Speak(ctx context.Context, text string) *Utterance {
	s.mu.Lock()
	if s.current != nil {
		s.current.cancel()
		s.current.utt.finish(OutcomeCancelled, nil)
		s.current = nil
	}
	utt := newUtterance()
	speakCtx, cancel := context.WithCancel(ctx)
	s.current = &speaking{utt: utt, cancel: cancel}
	s.mu.Unlock()

	go s.run(speakCtx, cancel, text, utt)
	return utt
}

// Stop cancels any in-progress utterance. Idempotent when nothing is playing.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.current.cancel()
	s.current.utt.finish(OutcomeCancelled, nil)
	s.current = nil
}

func (s *Synthesizer) run(ctx context.Context, cancel context.CancelFunc, text string, utt *Utterance) {
	defer cancel()
	defer s.clear(utt)

	voiceID := s.resolveVoice(ctx)

	audio, format, err := s.client.Synthesize(ctx, text, voiceID)
	if ctx.Err() != nil {
		utt.finish(OutcomeCancelled, nil)
		return
	}
	if err != nil {
		utt.finish(OutcomeFailed, err)
		return
	}

	seq := 0
	for off := 0; off < len(audio); off += playbackChunkBytes {
		if ctx.Err() != nil {
			utt.finish(OutcomeCancelled, nil)
			return
		}
		end := off + playbackChunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		s.sink.PlayChunk(seq, format, audio[off:end])
		seq++
	}
	utt.finish(OutcomeFinished, nil)
}

func (s *Synthesizer) clear(utt *Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.utt == utt {
		s.current = nil
	}
}

// resolveVoice picks a voice once per synthesizer. A failed listing falls back
// to the backend default (empty voice id).
func (s *Synthesizer) resolveVoice(ctx context.Context) string {
	s.mu.Lock()
	if s.picked {
		id := s.voiceID
		s.mu.Unlock()
		return id
	}
	s.mu.Unlock()

	voices, err := s.client.Voices(ctx)
	id := ""
	if err == nil {
		if v, ok := SelectVoice(voices, s.locale); ok {
			id = v.ID
		}
	}

	s.mu.Lock()
	if !s.picked {
		s.picked = true
		s.voiceID = id
	}
	id = s.voiceID
	s.mu.Unlock()
	return id
}
