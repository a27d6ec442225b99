package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trishajanath/AltX-sub003/internal/audio"
)

var (
	// ErrDeviceUnavailable means the microphone could not be acquired
	// (permission denied, no device, or another holder of the lease).
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrInvalidState means an operation was called outside its legal
	// lifecycle state. This is a programming error, not a runtime condition.
	ErrInvalidState = errors.New("invalid capture state")
	// ErrClipTooLarge means buffered audio exceeded the configured cap.
	ErrClipTooLarge = errors.New("clip exceeds maximum size")
)

// State is the lifecycle phase of a recording session.
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateFinalizing State = "finalizing"
)

// Device is an exclusive audio input resource. Acquire fails immediately when
// the device is held elsewhere; there is no waiting.
type Device interface {
	Acquire(ctx context.Context) error
	Release()
}

// Lease is a single-slot in-process Device. One holder at a time.
type Lease struct {
	slot chan struct{}
}

func NewLease() *Lease {
	l := &Lease{slot: make(chan struct{}, 1)}
	l.slot <- struct{}{}
	return l
}

func (l *Lease) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.slot:
		return nil
	default:
		return ErrDeviceUnavailable
	}
}

func (l *Lease) Release() {
	select {
	case l.slot <- struct{}{}:
	default:
	}
}

// Clip is an immutable finalized recording.
type Clip struct {
	pcm        []byte
	sampleRate int
}

func (c Clip) SampleRate() int { return c.sampleRate }

func (c Clip) Empty() bool { return len(c.pcm) == 0 }

func (c Clip) Duration() time.Duration {
	return audio.DurationPCM16LE(c.pcm, c.sampleRate)
}

// WAV renders the clip as a WAV byte stream for upload.
func (c Clip) WAV() ([]byte, error) {
	return audio.EncodeWAVPCM16LE(c.pcm, c.sampleRate)
}

// Manager owns the microphone lease and accumulates audio fragments for one
// recording at a time. All methods are safe for concurrent use.
type Manager struct {
	mu           sync.Mutex
	device       Device
	state        State
	chunks       [][]byte
	buffered     int
	sampleRate   int
	maxClipBytes int
}

func NewManager(device Device, maxClipBytes int) *Manager {
	if maxClipBytes <= 0 {
		maxClipBytes = 10 << 20
	}
	return &Manager{
		device:       device,
		state:        StateIdle,
		sampleRate:   16000,
		maxClipBytes: maxClipBytes,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start acquires the device and begins buffering. The device is released on
// every later exit path (Stop, Cancel), success or failure.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, m.state)
	}
	if err := m.device.Acquire(ctx); err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	m.state = StateCapturing
	m.chunks = nil
	m.buffered = 0
	return nil
}

// Push appends one audio fragment in arrival order. Legal only while Capturing.
func (m *Manager) Push(pcm []byte, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCapturing {
		return fmt.Errorf("%w: push while %s", ErrInvalidState, m.state)
	}
	if m.buffered+len(pcm) > m.maxClipBytes {
		return ErrClipTooLarge
	}
	if sampleRate > 0 {
		m.sampleRate = sampleRate
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	m.chunks = append(m.chunks, chunk)
	m.buffered += len(chunk)
	return nil
}

// Stop freezes the fragment sequence, concatenates it into one immutable clip
// in original order, and releases the device.
func (m *Manager) Stop() (Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCapturing {
		return Clip{}, fmt.Errorf("%w: stop while %s", ErrInvalidState, m.state)
	}
	m.state = StateFinalizing

	pcm := make([]byte, 0, m.buffered)
	for _, chunk := range m.chunks {
		pcm = append(pcm, chunk...)
	}
	clip := Clip{pcm: pcm, sampleRate: m.sampleRate}

	m.chunks = nil
	m.buffered = 0
	m.device.Release()
	m.state = StateIdle
	return clip, nil
}

// Cancel discards buffered fragments and releases the device. Idempotent when
// nothing is being captured.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCapturing {
		return
	}
	m.chunks = nil
	m.buffered = 0
	m.device.Release()
	m.state = StateIdle
}
