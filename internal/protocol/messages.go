package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk    MessageType = "client_audio_chunk"
	TypeClientControl       MessageType = "client_control"
	TypeConversationMessage MessageType = "conversation_message"
	TypeTurnState           MessageType = "turn_state"
	TypeAssistantAudioChunk MessageType = "assistant_audio_chunk"
	TypeNavigate            MessageType = "navigate"
	TypeErrorEvent          MessageType = "error_event"
)

// Control actions accepted from the client.
const (
	ActionStartTurn = "start_turn"
	ActionEndTurn   = "end_turn"
	ActionCancel    = "cancel"
	ActionTextInput = "text_input"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	// Text carries the utterance for the text_input fallback action.
	Text string `json:"text,omitempty"`
}

type ConversationMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	TSMs      int64       `json:"ts_ms"`
}

type TurnState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	State     string      `json:"state"`
	Detail    string      `json:"detail,omitempty"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type Navigate struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	ArtifactID string      `json:"artifact_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if msg.Action == ActionTextInput && msg.Text == "" {
			return nil, errors.New("text_input requires text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
