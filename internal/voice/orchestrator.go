package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trishajanath/AltX-sub003/internal/builderapi"
	"github.com/trishajanath/AltX-sub003/internal/builds"
	"github.com/trishajanath/AltX-sub003/internal/capture"
	"github.com/trishajanath/AltX-sub003/internal/conversation"
	"github.com/trishajanath/AltX-sub003/internal/observability"
	"github.com/trishajanath/AltX-sub003/internal/protocol"
	"github.com/trishajanath/AltX-sub003/internal/synth"
)

// State is the orchestrator's phase within one voice turn.
type State string

const (
	StateIdle         State = "idle"
	StateCapturing    State = "capturing"
	StateTranscribing State = "transcribing"
	StateDialoguing   State = "dialoguing"
	StateSpeaking     State = "speaking"
	StateGenerating   State = "generating"
)

// ErrTurnInProgress means a new turn was requested while a previous one is
// still in a non-interruptible stage.
var ErrTurnInProgress = errors.New("turn already in progress")

// TurnTracker mirrors turn lifecycle onto the session record so REST reads
// see which turn a session is working on. The session manager satisfies it.
type TurnTracker interface {
	StartTurn(sessionID, turnID string) error
	EndTurn(sessionID string) error
}

const (
	fallbackNoSpeech      = "I didn't catch that. Hold the button, speak, then release."
	fallbackTranscription = "I couldn't make that out. Try speaking a bit closer to the microphone."
	fallbackMicBusy       = "I can't access the microphone right now. Check that no other app is using it, then try again."
	fallbackDialogueDown  = "The assistant is unreachable right now. Your message is saved, try again shortly."
	fallbackGeneration    = "Something went wrong while building your project. Let's refine the idea and try again."
)

// Orchestrator drives the turn state machine for one session: capture,
// transcription, dialogue, then narration and optionally generation. Every
// store or state mutation made by a background stage is guarded by the turn
// token taken when the stage was launched, so responses landing after a
// cancel or a newer turn are dropped.
type Orchestrator struct {
	mu           sync.Mutex
	state        State
	turnSeq      int64
	turnID       string
	turnCancel   context.CancelFunc
	pendingStart bool
	generating   bool

	sessionID      string
	store          *conversation.Store
	capture        *capture.Manager
	synth          *synth.Synthesizer
	backend        builderapi.Backend
	builds         builds.Store
	metrics        *observability.Metrics
	logger         *zap.Logger
	outbound       chan<- any
	navigate       func(artifactID string)
	turns          TurnTracker
	backendTimeout time.Duration
}

func NewOrchestrator(
	sessionID string,
	store *conversation.Store,
	captureMgr *capture.Manager,
	synthesizer *synth.Synthesizer,
	backend builderapi.Backend,
	buildStore builds.Store,
	metrics *observability.Metrics,
	logger *zap.Logger,
	backendTimeout time.Duration,
	outbound chan<- any,
) *Orchestrator {
	if backendTimeout <= 0 {
		backendTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		state:          StateIdle,
		sessionID:      sessionID,
		store:          store,
		capture:        captureMgr,
		synth:          synthesizer,
		backend:        backend,
		builds:         buildStore,
		metrics:        metrics,
		logger:         logger,
		outbound:       outbound,
		backendTimeout: backendTimeout,
	}
	o.navigate = func(artifactID string) {
		o.send(protocol.Navigate{
			Type:       protocol.TypeNavigate,
			SessionID:  sessionID,
			ArtifactID: artifactID,
		})
	}
	return o
}

// SetNavigateHook replaces the default navigate event with a custom callback.
// It fires once per successful generation with the artifact id.
func (o *Orchestrator) SetNavigateHook(fn func(artifactID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fn != nil {
		o.navigate = fn
	}
}

// SetTurnTracker wires session-level turn bookkeeping. Optional.
func (o *Orchestrator) SetTurnTracker(t TurnTracker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = t
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// TurnID returns the id of the in-flight turn, or empty when idle.
func (o *Orchestrator) TurnID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnID
}

// StartTurn begins recording a new utterance. While a generation is in
// flight the request is queued and runs as soon as the generation resolves;
// during transcription or dialogue it is rejected. Starting a turn while the
// assistant is speaking interrupts the narration, capture and playback never
// hold the audio path at the same time.
func (o *Orchestrator) StartTurn(ctx context.Context) error {
	o.mu.Lock()
	if o.generating {
		o.pendingStart = true
		o.mu.Unlock()
		return nil
	}
	switch o.state {
	case StateIdle, StateSpeaking:
	default:
		o.mu.Unlock()
		return ErrTurnInProgress
	}
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
	o.turnSeq++
	token := o.turnSeq
	turnID := uuid.NewString()
	o.turnID = turnID
	o.mu.Unlock()

	o.synth.Stop()

	if err := o.capture.Start(ctx); err != nil {
		o.logger.Warn("capture start failed",
			zap.String("session_id", o.sessionID),
			zap.Error(err))
		o.appendSystemIfCurrent(token, fallbackMicBusy)
		o.setStateIfCurrent(token, StateIdle, "device_unavailable")
		o.sendError("device_unavailable", "capture", false, err.Error())
		o.metrics.ObserveTurnOutcome("device_unavailable")
		return err
	}
	if !o.setStateIfCurrent(token, StateCapturing, "") {
		// A cancel slipped in between acquire and the state flip.
		o.capture.Cancel()
		return nil
	}
	o.reportTurnStarted(turnID)
	return nil
}

// PushAudio buffers one capture fragment. Fragments arriving outside an
// active recording are rejected by the capture manager.
func (o *Orchestrator) PushAudio(pcm []byte, sampleRate int) error {
	err := o.capture.Push(pcm, sampleRate)
	if errors.Is(err, capture.ErrClipTooLarge) {
		o.mu.Lock()
		token := o.turnSeq
		o.mu.Unlock()
		o.capture.Cancel()
		o.appendSystemIfCurrent(token, "That recording ran too long. Try a shorter description.")
		o.setStateIfCurrent(token, StateIdle, "clip_too_large")
		o.metrics.ObserveTurnOutcome("clip_too_large")
	}
	return err
}

// EndTurn finalizes the recording and runs the turn pipeline in the
// background: transcribe, converse, then narrate and possibly generate.
func (o *Orchestrator) EndTurn(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateCapturing {
		o.mu.Unlock()
		return capture.ErrInvalidState
	}
	token := o.turnSeq
	turnID := o.turnID
	o.mu.Unlock()

	clip, err := o.capture.Stop()
	if err != nil {
		o.setStateIfCurrent(token, StateIdle, "capture_stop_failed")
		return err
	}
	if clip.Empty() {
		o.appendSystemIfCurrent(token, fallbackNoSpeech)
		o.setStateIfCurrent(token, StateIdle, "empty_clip")
		o.metrics.ObserveTurnOutcome("empty_clip")
		return nil
	}
	o.setStateIfCurrent(token, StateTranscribing, "")

	turnCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	if o.turnSeq != token {
		o.mu.Unlock()
		cancel()
		return nil
	}
	o.turnCancel = cancel
	o.mu.Unlock()

	go o.runTurn(turnCtx, token, turnID, clip)
	return nil
}

// Cancel aborts whatever the current turn is doing and returns to idle.
// Buffered audio is discarded, narration stops, and any in-flight backend
// response becomes stale. Idempotent when idle.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	prev := o.state
	o.turnSeq++
	cancelFn := o.turnCancel
	o.turnCancel = nil
	o.turnID = ""
	o.pendingStart = false
	o.state = StateIdle
	o.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	o.capture.Cancel()
	o.synth.Stop()

	if prev != StateIdle {
		o.reportTurnEnded()
		o.send(protocol.TurnState{
			Type:      protocol.TypeTurnState,
			SessionID: o.sessionID,
			State:     string(StateIdle),
			Detail:    "cancelled",
		})
		o.metrics.ObserveTurnOutcome("cancelled")
	}
}

// SubmitText runs a turn from typed text, skipping capture and
// transcription. It enters the pipeline at the dialogue stage.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty text input")
	}

	o.mu.Lock()
	if o.generating {
		o.mu.Unlock()
		return ErrTurnInProgress
	}
	switch o.state {
	case StateIdle, StateSpeaking:
	default:
		o.mu.Unlock()
		return ErrTurnInProgress
	}
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
	o.turnSeq++
	token := o.turnSeq
	turnID := uuid.NewString()
	o.turnID = turnID
	o.mu.Unlock()

	o.synth.Stop()

	turnCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	if o.turnSeq != token {
		o.mu.Unlock()
		cancel()
		return nil
	}
	o.turnCancel = cancel
	o.mu.Unlock()

	o.reportTurnStarted(turnID)
	go o.runDialogue(turnCtx, token, turnID, text)
	return nil
}

// Run consumes decoded client messages until the context ends or the inbound
// channel closes. Unknown payloads are ignored by the websocket layer before
// they get here.
func (o *Orchestrator) Run(ctx context.Context, inbound <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			o.Cancel()
			return nil
		case msg, ok := <-inbound:
			if !ok {
				o.Cancel()
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				o.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeClientAudioChunk)).Inc()
				pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil {
					o.sendError("bad_audio_chunk", "client", false, err.Error())
					continue
				}
				if err := o.PushAudio(pcm, m.SampleRate); err != nil && !errors.Is(err, capture.ErrInvalidState) && !errors.Is(err, capture.ErrClipTooLarge) {
					o.sendError("audio_buffer_failed", "capture", false, err.Error())
				}
			case protocol.ClientControl:
				o.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeClientControl)).Inc()
				switch m.Action {
				case protocol.ActionStartTurn:
					if err := o.StartTurn(ctx); errors.Is(err, ErrTurnInProgress) {
						o.sendError("turn_in_progress", "orchestrator", false, "finish or cancel the current turn first")
					}
				case protocol.ActionEndTurn:
					if err := o.EndTurn(ctx); errors.Is(err, capture.ErrInvalidState) {
						o.sendError("no_active_recording", "orchestrator", false, "end_turn without start_turn")
					}
				case protocol.ActionCancel:
					o.Cancel()
				case protocol.ActionTextInput:
					if err := o.SubmitText(ctx, m.Text); errors.Is(err, ErrTurnInProgress) {
						o.sendError("turn_in_progress", "orchestrator", false, "finish or cancel the current turn first")
					}
				}
			}
		}
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, token int64, turnID string, clip capture.Clip) {
	wav, err := clip.WAV()
	if err != nil {
		o.appendSystemIfCurrent(token, fallbackTranscription)
		o.setStateIfCurrent(token, StateIdle, "encode_failed")
		o.metrics.ObserveTurnOutcome("encode_failed")
		return
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, o.backendTimeout)
	result, err := o.backend.Transcriber.Transcribe(callCtx, wav)
	cancel()
	o.metrics.ObserveTurnStage("transcribe", time.Since(start))

	if err != nil {
		retryable := true
		var te *builderapi.TransportError
		if errors.As(err, &te) {
			retryable = te.Retryable()
		}
		o.logger.Warn("transcription transport failure",
			zap.String("session_id", o.sessionID),
			zap.Error(err))
		o.metrics.ProviderErrors.WithLabelValues("transcriber", "transport").Inc()
		o.sendError("transcription_unavailable", "transcriber", retryable, err.Error())
		o.appendSystemIfCurrent(token, "I couldn't reach the transcription service. Please try again in a moment.")
		o.setStateIfCurrent(token, StateIdle, "transcription_transport_error")
		o.metrics.ObserveTurnOutcome("transcription_transport_error")
		return
	}
	if !result.OK() {
		o.appendSystemIfCurrent(token, transcriptionFailureMessage(result.Failure))
		o.setStateIfCurrent(token, StateIdle, "transcription_failed")
		o.metrics.ObserveTurnOutcome("transcription_failed")
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		o.appendSystemIfCurrent(token, fallbackTranscription)
		o.setStateIfCurrent(token, StateIdle, "empty_transcript")
		o.metrics.ObserveTurnOutcome("empty_transcript")
		return
	}

	o.runDialogue(ctx, token, turnID, text)
}

func (o *Orchestrator) runDialogue(ctx context.Context, token int64, turnID string, text string) {
	// Snapshot before appending so the new utterance travels separately from
	// the history it responds to.
	history := o.store.History()
	if !o.appendIfCurrent(token, conversation.RoleUser, text) {
		return
	}
	o.setStateIfCurrent(token, StateDialoguing, "")

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, o.backendTimeout)
	reply, err := o.backend.Dialoguer.Send(callCtx, history, text)
	cancel()
	o.metrics.ObserveTurnStage("dialogue", time.Since(start))

	if err != nil {
		retryable := true
		var te *builderapi.TransportError
		if errors.As(err, &te) {
			retryable = te.Retryable()
		}
		o.logger.Warn("dialogue failure",
			zap.String("session_id", o.sessionID),
			zap.Error(err))
		o.metrics.ProviderErrors.WithLabelValues("dialogue", "transport").Inc()
		o.sendError("dialogue_unavailable", "dialogue", retryable, err.Error())
		// The user's utterance stays in the history; only this turn fails.
		o.appendSystemIfCurrent(token, fallbackDialogueDown)
		o.setStateIfCurrent(token, StateIdle, "dialogue_error")
		o.metrics.ObserveTurnOutcome("dialogue_error")
		return
	}

	if !o.appendIfCurrent(token, conversation.RoleAssistant, reply.Text) {
		return
	}

	if !reply.ReadyToGenerate {
		o.speakAndIdle(ctx, token, reply.Text)
		return
	}
	o.runGeneration(ctx, token, turnID, text, reply)
}

// speakAndIdle narrates the assistant reply and returns the turn to idle
// once playback resolves. Narration failure is non-fatal.
func (o *Orchestrator) speakAndIdle(ctx context.Context, token int64, text string) {
	if !o.setStateIfCurrent(token, StateSpeaking, "") {
		return
	}
	utt := o.synth.Speak(ctx, text)
	select {
	case <-ctx.Done():
		return
	case <-utt.Done():
	}
	if utt.Outcome() == synth.OutcomeFailed {
		o.metrics.ProviderErrors.WithLabelValues("synthesizer", "synthesis").Inc()
		o.sendError("tts_failed", "synthesizer", true, utt.Err().Error())
	}
	if o.setStateIfCurrent(token, StateIdle, "") {
		o.metrics.ObserveTurnOutcome("completed")
	}
}

// runGeneration submits the structured spec while the confirmation line is
// narrated concurrently. The backend's response is authoritative: success
// navigates, failure returns the conversation to idle for refinement. A
// start request queued while generating runs once the outcome lands.
func (o *Orchestrator) runGeneration(ctx context.Context, token int64, turnID string, idea string, reply builderapi.DialogueReply) {
	o.mu.Lock()
	if o.turnSeq != token {
		o.mu.Unlock()
		return
	}
	o.generating = true
	o.mu.Unlock()
	o.setStateIfCurrent(token, StateGenerating, "")

	utt := o.synth.Speak(ctx, reply.Text)

	record := builds.Record{
		ID:        uuid.NewString(),
		SessionID: o.sessionID,
		Idea:      idea,
		Status:    builds.StatusStarted,
	}
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	if err := o.builds.Save(saveCtx, record); err != nil {
		o.logger.Warn("build record save failed",
			zap.String("session_id", o.sessionID),
			zap.Error(err))
	}
	cancelSave()

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, o.backendTimeout)
	outcome, err := o.backend.Generator.StartGeneration(callCtx, reply.Spec)
	cancel()
	o.metrics.ObserveTurnStage("generate", time.Since(start))

	switch {
	case err != nil:
		o.logger.Warn("generation transport failure",
			zap.String("session_id", o.sessionID),
			zap.Error(err))
		o.metrics.ProviderErrors.WithLabelValues("generator", "transport").Inc()
		o.markBuild(record.ID, builds.StatusFailed, "")
		o.sendError("generation_unavailable", "generator", true, err.Error())
		o.appendSystemIfCurrent(token, fallbackGeneration)
		o.metrics.ObserveTurnOutcome("generation_error")
	case !outcome.Success:
		o.markBuild(record.ID, builds.StatusFailed, "")
		o.appendSystemIfCurrent(token, fallbackGeneration)
		o.metrics.ObserveTurnOutcome("generation_rejected")
	default:
		o.markBuild(record.ID, builds.StatusSucceeded, outcome.ArtifactID)
		o.mu.Lock()
		navigate := o.navigate
		current := o.turnSeq == token
		o.mu.Unlock()
		if current {
			navigate(outcome.ArtifactID)
			o.appendSystemIfCurrent(token, "Your project is ready.")
		}
		o.metrics.ObserveTurnOutcome("generated")
	}

	// Let any in-flight narration resolve before going idle.
	select {
	case <-ctx.Done():
	case <-utt.Done():
	}

	o.mu.Lock()
	o.generating = false
	pending := o.pendingStart
	o.pendingStart = false
	o.mu.Unlock()

	o.setStateIfCurrent(token, StateIdle, "")

	if pending {
		go func() {
			_ = o.StartTurn(context.Background())
		}()
	}
}

// transcriptionFailureMessage composes the system message for a semantic
// transcription failure: the reason, the backend's suggestions, then its
// fallback guidance. Nothing the backend reported is dropped.
func transcriptionFailureMessage(f *builderapi.TranscriptionFailure) string {
	parts := make([]string, 0, 3)
	if reason := strings.TrimSpace(f.Reason); reason != "" {
		parts = append(parts, "I couldn't transcribe that: "+reason+".")
	}
	if len(f.Suggestions) > 0 {
		parts = append(parts, "Try: "+strings.Join(f.Suggestions, ", ")+".")
	}
	if fb := strings.TrimSpace(f.FallbackMessage); fb != "" {
		parts = append(parts, fb)
	}
	if len(parts) == 0 {
		return fallbackTranscription
	}
	return strings.Join(parts, " ")
}

func (o *Orchestrator) markBuild(id string, status builds.Status, artifactID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.builds.MarkOutcome(ctx, id, status, artifactID); err != nil {
		o.logger.Warn("build record update failed",
			zap.String("build_id", id),
			zap.Error(err))
	}
}

// appendIfCurrent appends to the conversation only when the token still
// identifies the live turn, and mirrors the message to the client.
func (o *Orchestrator) appendIfCurrent(token int64, role conversation.Role, content string) bool {
	o.mu.Lock()
	if o.turnSeq != token {
		o.mu.Unlock()
		return false
	}
	msg := o.store.Append(conversation.Message{Role: role, Content: content})
	o.mu.Unlock()

	o.send(protocol.ConversationMessage{
		Type:      protocol.TypeConversationMessage,
		SessionID: o.sessionID,
		Role:      string(role),
		Content:   content,
		TSMs:      msg.CreatedAt.UnixMilli(),
	})
	return true
}

func (o *Orchestrator) appendSystemIfCurrent(token int64, content string) bool {
	return o.appendIfCurrent(token, conversation.RoleSystem, content)
}

// setStateIfCurrent flips the state machine only for the live turn and
// mirrors the transition to the client.
func (o *Orchestrator) setStateIfCurrent(token int64, st State, detail string) bool {
	o.mu.Lock()
	if o.turnSeq != token {
		o.mu.Unlock()
		return false
	}
	o.state = st
	turnID := o.turnID
	if st == StateIdle {
		o.turnID = ""
		o.turnCancel = nil
	}
	o.mu.Unlock()

	if st == StateIdle {
		o.reportTurnEnded()
	}
	o.send(protocol.TurnState{
		Type:      protocol.TypeTurnState,
		SessionID: o.sessionID,
		TurnID:    turnID,
		State:     string(st),
		Detail:    detail,
	})
	return true
}

func (o *Orchestrator) reportTurnStarted(turnID string) {
	o.mu.Lock()
	tracker := o.turns
	o.mu.Unlock()
	if tracker != nil {
		_ = tracker.StartTurn(o.sessionID, turnID)
	}
}

func (o *Orchestrator) reportTurnEnded() {
	o.mu.Lock()
	tracker := o.turns
	o.mu.Unlock()
	if tracker != nil {
		_ = tracker.EndTurn(o.sessionID)
	}
}

func (o *Orchestrator) sendError(code, source string, retryable bool, detail string) {
	o.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: o.sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

// send delivers without blocking the pipeline; a saturated client connection
// drops the event rather than stalling the turn.
func (o *Orchestrator) send(msg any) {
	if o.outbound == nil {
		return
	}
	select {
	case o.outbound <- msg:
		o.metrics.WSMessages.WithLabelValues("out", outboundType(msg)).Inc()
	default:
		o.metrics.WSMessages.WithLabelValues("drop", outboundType(msg)).Inc()
	}
}

func outboundType(msg any) string {
	switch msg.(type) {
	case protocol.ConversationMessage:
		return string(protocol.TypeConversationMessage)
	case protocol.TurnState:
		return string(protocol.TypeTurnState)
	case protocol.AssistantAudioChunk:
		return string(protocol.TypeAssistantAudioChunk)
	case protocol.Navigate:
		return string(protocol.TypeNavigate)
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent)
	default:
		return "unknown"
	}
}
