package conversation

import (
	"sync"
	"time"
)

// Role classifies who contributed a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks local status/error annotations. They are shown to the
	// user but never sent to the dialogue backend.
	RoleSystem Role = "system"
)

// Message is one turn's contribution to the dialogue. Messages are immutable
// once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds the ordered message history for a single session. It only ever
// appends; nothing is edited or removed for the lifetime of the session.
type Store struct {
	mu       sync.RWMutex
	messages []Message
}

func NewStore() *Store {
	return &Store{}
}

// Append adds a message to the end of the sequence and returns the stored copy.
func (s *Store) Append(msg Message) Message {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return msg
}

// History returns the sequence with system-role entries filtered out. This is
// the exact payload shape sent to the dialogue backend.
func (s *Store) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Messages returns a copy of the full sequence, system entries included.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
