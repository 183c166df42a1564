// Package stt defines the speech-to-text provider boundary. A Session owns
// its event channel: consumers range over Events() instead of registering
// callbacks, and the channel closes when the session does.
package stt

import "context"

// EventKind discriminates session events.
type EventKind string

const (
	// EventPartial is an interim transcript, subject to revision.
	EventPartial EventKind = "partial"
	// EventTranscript is a finalized transcript segment.
	EventTranscript EventKind = "transcript"
	// EventSpeechStart marks detected onset of caller speech.
	EventSpeechStart EventKind = "speech-start"
	// EventError reports a session-level failure. The session keeps running
	// unless the channel closes after it.
	EventError EventKind = "error"
)

// Event is one item on a session's event stream.
type Event struct {
	Kind       EventKind
	Transcript string
	Confidence float64
	Err        error
}

// SessionConfig carries per-session audio and model parameters.
type SessionConfig struct {
	// Encoding of audio passed to SendAudio, e.g. "mulaw".
	Encoding string
	// SampleRate in Hz of audio passed to SendAudio.
	SampleRate int
	// Language hint, e.g. "en".
	Language string
	// InterimResults requests partial transcripts.
	InterimResults bool
}

// Provider creates transcription sessions.
type Provider interface {
	Name() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is one live transcription stream.
type Session interface {
	// Connect establishes the upstream connection. It must be called before
	// SendAudio.
	Connect(ctx context.Context) error

	// SendAudio submits raw audio in the configured encoding.
	SendAudio(p []byte) error

	// Events returns the session's event stream. The channel is closed when
	// the session closes.
	Events() <-chan Event

	// Close tears the session down and closes the event channel.
	Close() error
}
