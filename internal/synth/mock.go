package synth

import "context"

// MockClient is a local fallback TTS backend used when no real one is
// configured. It emits the utterance text itself as "audio" bytes.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Synthesize(_ context.Context, text, _ string) ([]byte, string, error) {
	return []byte(text), "mock_text_bytes", nil
}

func (c *MockClient) Voices(_ context.Context) ([]Voice, error) {
	return []Voice{
		{ID: "mock-en-1", Name: "Mock English", Locale: "en-US", Default: true},
		{ID: "mock-it-1", Name: "Mock Italian", Locale: "it-IT"},
	}, nil
}
