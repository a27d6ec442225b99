package protocol

import (
	"errors"
	"testing"
)

func TestParseClientAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":3,"pcm16_base64":"AAAA","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	chunk, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("parsed type = %T, want ClientAudioChunk", msg)
	}
	if chunk.SessionID != "s1" || chunk.Seq != 3 || chunk.SampleRate != 16000 {
		t.Fatalf("chunk = %+v", chunk)
	}
}

func TestParseClientControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"start_turn"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ctl, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("parsed type = %T, want ClientControl", msg)
	}
	if ctl.Action != ActionStartTurn {
		t.Fatalf("Action = %q, want %q", ctl.Action, ActionStartTurn)
	}
}

func TestParseTextInputRequiresText(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"text_input"}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatalf("ParseClientMessage() expected error for text_input without text")
	}

	raw = []byte(`{"type":"client_control","session_id":"s1","action":"text_input","text":"a todo app"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if ctl := msg.(ClientControl); ctl.Text != "a todo app" {
		t.Fatalf("Text = %q", ctl.Text)
	}
}

func TestParseRejectsUnknownAndInvalid(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"mystery"}`)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk","session_id":"s1"}`)); err == nil {
		t.Fatalf("expected error for audio chunk without payload")
	}
	if _, err := ParseClientMessage([]byte(`not-json`)); err == nil {
		t.Fatalf("expected error for invalid envelope")
	}
}
