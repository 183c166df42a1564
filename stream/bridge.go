// Package stream bridges carrier media streams to speech-to-text and paced
// audio playback. The Bridge authorizes one WebSocket leg per call with a
// single-use token; each accepted leg becomes a Session that forwards inbound
// mu-law to the transcriber and serializes outbound playback through a
// cancelable FIFO queue.
package stream

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentplexus/voicegate"
	"github.com/agentplexus/voicegate/stt"
)

// ErrNoSession is returned when no live media stream exists for the call.
var ErrNoSession = errors.New("stream: no session for call")

// Hooks receive transcription activity from live sessions. Nil fields are
// skipped.
type Hooks struct {
	OnPartial     func(callID, transcript string)
	OnTranscript  func(callID, transcript string, confidence float64)
	OnSpeechStart func(callID string)
	OnDTMF        func(callID, digit string)
}

func (h Hooks) partial(callID, transcript string) {
	if h.OnPartial != nil {
		h.OnPartial(callID, transcript)
	}
}

func (h Hooks) transcript(callID, transcript string, confidence float64) {
	if h.OnTranscript != nil {
		h.OnTranscript(callID, transcript, confidence)
	}
}

func (h Hooks) speechStart(callID string) {
	if h.OnSpeechStart != nil {
		h.OnSpeechStart(callID)
	}
}

func (h Hooks) dtmf(callID, digit string) {
	if h.OnDTMF != nil {
		h.OnDTMF(callID, digit)
	}
}

// Bridge accepts authorized media-stream connections and owns their sessions.
type Bridge struct {
	sttProvider stt.Provider
	hooks       Hooks
	language    string
	logger      *zap.Logger
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	tokens   map[string]string // call id -> auth token
	sessions map[string]*Session
}

// Option configures the Bridge.
type Option func(*Bridge)

// WithHooks sets the transcription hooks.
func WithHooks(h Hooks) Option {
	return func(b *Bridge) { b.hooks = h }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(b *Bridge) { b.language = lang }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// SetHooks replaces the transcription hooks. Set them before traffic
// arrives; sessions read the hooks unlocked.
func (b *Bridge) SetHooks(h Hooks) { b.hooks = h }

// NewBridge creates a bridge. sttProvider may be nil, in which case sessions
// carry playback only.
func NewBridge(sttProvider stt.Provider, opts ...Option) *Bridge {
	b := &Bridge{
		sttProvider: sttProvider,
		language:    "en",
		logger:      zap.NewNop(),
		tokens:      make(map[string]string),
		sessions:    make(map[string]*Session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Authorize issues the stream auth token for a call. Reissuing replaces the
// prior token.
func (b *Bridge) Authorize(callID string) string {
	token := uuid.NewString()
	b.mu.Lock()
	b.tokens[callID] = token
	b.mu.Unlock()
	return token
}

// Revoke invalidates the call's token and closes its live session if any.
func (b *Bridge) Revoke(callID string) {
	b.mu.Lock()
	delete(b.tokens, callID)
	sess := b.sessions[callID]
	b.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// Session returns the live session for a call.
func (b *Bridge) Session(callID string) (*Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[callID]
	return sess, ok
}

// Speak queues mu-law audio on the call's stream.
func (b *Bridge) Speak(callID string, mulaw []byte) (*Task, error) {
	sess, ok := b.Session(callID)
	if !ok {
		return nil, ErrNoSession
	}
	return sess.EnqueueTTS(mulaw), nil
}

// CancelPlayback aborts playback on the call's stream, if one is live.
func (b *Bridge) CancelPlayback(callID string) {
	if sess, ok := b.Session(callID); ok {
		sess.CancelPlayback()
	}
}

// ServeHTTP upgrades a media-stream connection. The call id and token travel
// as query parameters; a bad pair is refused after upgrade with close code
// 1008 so the carrier sees a policy violation rather than a handshake error.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call")
	token := r.URL.Query().Get("token")

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("media stream upgrade failed", zap.Error(err))
		return
	}

	if !b.authorized(callID, token) {
		b.logger.Warn("unauthorized media stream rejected", zap.String("callId", callID))
		deadline := time.Now().Add(2 * time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
		_ = conn.Close()
		return
	}

	sess := newSession(b, callID, conn)
	b.mu.Lock()
	if prior, ok := b.sessions[callID]; ok {
		b.mu.Unlock()
		_ = prior.Close()
		b.mu.Lock()
	}
	b.sessions[callID] = sess
	b.mu.Unlock()

	// The socket outlives the handler; the upgrade hijacked the request.
	go sess.run(context.WithoutCancel(r.Context()))
}

// Close tears down every live session.
func (b *Bridge) Close() error {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.tokens = make(map[string]string)
	b.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

func (b *Bridge) authorized(callID, token string) bool {
	if callID == "" || token == "" {
		return false
	}
	b.mu.Lock()
	want, ok := b.tokens[callID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

func (b *Bridge) newTranscriber(ctx context.Context) (stt.Session, error) {
	if b.sttProvider == nil {
		return nil, errors.New("stream: no transcription provider configured")
	}
	sess, err := b.sttProvider.NewSession(ctx, stt.SessionConfig{
		Encoding:       "mulaw",
		SampleRate:     voicegate.TelephonySampleRate,
		Language:       b.language,
		InterimResults: true,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func (b *Bridge) dropSession(s *Session) {
	b.mu.Lock()
	if b.sessions[s.callID] == s {
		delete(b.sessions, s.callID)
	}
	b.mu.Unlock()
}
