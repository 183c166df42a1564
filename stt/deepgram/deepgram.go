// Package deepgram implements the stt boundary against the Deepgram realtime
// WebSocket API. The wire protocol is spoken directly over gorilla/websocket:
// query-parameter configuration, binary audio frames up, JSON results down,
// periodic keepalive messages, and bounded reconnect on unexpected disconnect.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentplexus/voicegate/stt"
)

// Verify interface compliance at compile time.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Session  = (*Session)(nil)
)

// DefaultEndpoint is the Deepgram realtime listen endpoint.
const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

const (
	keepaliveInterval = 5 * time.Second
	maxReconnects     = 3
	backoffBase       = 500 * time.Millisecond
)

// Provider creates Deepgram sessions.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	logger   *zap.Logger
	dialer   *websocket.Dialer
}

// Option configures the Provider.
type Option func(*Provider)

// WithEndpoint overrides the realtime endpoint (tests).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithModel selects the transcription model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Deepgram provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key is required")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		model:    "nova-2",
		logger:   zap.NewNop(),
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return "deepgram" }

// NewSession creates an unconnected session.
func (p *Provider) NewSession(_ context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	return &Session{
		provider: p,
		cfg:      cfg,
		events:   make(chan stt.Event, 16),
		done:     make(chan struct{}),
	}, nil
}

// Session is one realtime transcription stream.
type Session struct {
	provider *Provider
	cfg      stt.SessionConfig
	events   chan stt.Event
	done     chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *Session) listenURL() string {
	q := url.Values{}
	q.Set("encoding", s.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(s.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("model", s.provider.model)
	q.Set("vad_events", "true")
	if s.cfg.Language != "" {
		q.Set("language", s.cfg.Language)
	}
	if s.cfg.InterimResults {
		q.Set("interim_results", "true")
	}
	return s.provider.endpoint + "?" + q.Encode()
}

// Connect dials the realtime endpoint and starts the read and keepalive
// loops.
func (s *Session) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.keepaliveLoop()
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Token "+s.provider.apiKey)
	conn, resp, err := s.provider.dialer.DialContext(ctx, s.listenURL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return conn, nil
}

// SendAudio submits one chunk of audio in the configured encoding.
func (s *Session) SendAudio(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return fmt.Errorf("deepgram: session is not connected")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

// Events returns the session event stream.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Close sends the close-stream message, tears the connection down, and closes
// the event channel.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		_ = conn.Close()
	}
	close(s.events)
	return nil
}

func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.provider.logger.Debug("deepgram keepalive failed", zap.Error(err))
			}
		}
	}
}

// resultMessage is the subset of the Deepgram realtime result schema the
// session consumes.
type resultMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.reconnect()
			return
		}
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	var msg resultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.provider.logger.Debug("deepgram: undecodable message", zap.Error(err))
		return
	}
	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		kind := stt.EventPartial
		if msg.IsFinal {
			kind = stt.EventTranscript
		}
		s.emit(stt.Event{Kind: kind, Transcript: alt.Transcript, Confidence: alt.Confidence})
	case "SpeechStarted":
		s.emit(stt.Event{Kind: stt.EventSpeechStart})
	}
}

// reconnect redials with exponential backoff. When the attempts are exhausted
// the session reports the failure and shuts down.
func (s *Session) reconnect() {
	for attempt := 1; attempt <= maxReconnects; attempt++ {
		delay := backoffBase << (attempt - 1)
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := s.dial(ctx)
		cancel()
		if err != nil {
			s.provider.logger.Warn("deepgram reconnect failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		old := s.conn
		s.conn = conn
		s.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}

		s.provider.logger.Info("deepgram reconnected", zap.Int("attempt", attempt))
		go s.readLoop(conn)
		return
	}

	s.emit(stt.Event{Kind: stt.EventError, Err: fmt.Errorf("deepgram: connection lost after %d reconnect attempts", maxReconnects)})
	_ = s.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// A stalled consumer drops events rather than blocking the read loop.
	}
}
