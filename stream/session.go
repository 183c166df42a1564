package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentplexus/voicegate/stt"
)

// mediaMessage is the carrier media-stream wire envelope, shared by inbound
// and outbound frames.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startFrame   `json:"start,omitempty"`
	Media     *mediaFrame   `json:"media,omitempty"`
	Mark      *markFrame    `json:"mark,omitempty"`
	DTMF      *dtmfFrame    `json:"dtmf,omitempty"`
}

type startFrame struct {
	StreamSID    string            `json:"streamSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaFrame struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"` // base64 mu-law
}

type markFrame struct {
	Name string `json:"name"`
}

type dtmfFrame struct {
	Digit string `json:"digit"`
}

// Session is one live media stream: a WebSocket leg to the carrier plus a
// transcription session, bridged frame by frame. Inbound mu-law passes
// through to the transcriber untranscoded; outbound playback is serialized by
// the session's queue.
type Session struct {
	bridge *Bridge
	callID string
	conn   *websocket.Conn
	logger *zap.Logger
	queue  *PlaybackQueue

	mu        sync.Mutex
	streamSID string
	transcr   stt.Session
	closed    bool
	closeOnce sync.Once
}

func newSession(b *Bridge, callID string, conn *websocket.Conn) *Session {
	s := &Session{
		bridge: b,
		callID: callID,
		conn:   conn,
		logger: b.logger.With(zap.String("callId", callID)),
	}
	s.queue = NewPlaybackQueue(s.sendMedia, s.sendClear)
	return s
}

// CallID returns the internal call id the stream is bound to.
func (s *Session) CallID() string { return s.callID }

// EnqueueTTS queues mu-law audio for paced playback and returns its task
// handle.
func (s *Session) EnqueueTTS(mulaw []byte) *Task {
	return s.queue.Enqueue(mulaw)
}

// CancelPlayback aborts in-flight and queued playback and flushes the
// carrier's jitter buffer.
func (s *Session) CancelPlayback() {
	s.queue.CancelAll()
}

// Close tears down the transcriber, the playback queue, and the socket, and
// deregisters the session from the bridge.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		transcr := s.transcr
		s.mu.Unlock()

		s.queue.Close()
		if transcr != nil {
			_ = transcr.Close()
		}
		_ = s.conn.Close()
		s.bridge.dropSession(s)
	})
	return nil
}

// run is the socket read pump. It returns when the stream stops or the socket
// errors, closing the session either way.
func (s *Session) run(ctx context.Context) {
	defer func() { _ = s.Close() }()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("media stream read ended", zap.Error(err))
			}
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "connected":
			// Protocol preamble, nothing to do until start.

		case "start":
			if msg.Start != nil {
				s.handleStart(ctx, msg.Start)
			}

		case "media":
			if msg.Media != nil && msg.Media.Payload != "" {
				s.handleMedia(msg.Media)
			}

		case "dtmf":
			if msg.DTMF != nil {
				s.bridge.hooks.dtmf(s.callID, msg.DTMF.Digit)
			}

		case "mark":
			// Playback sync point, unused.

		case "stop":
			return
		}
	}
}

func (s *Session) handleStart(ctx context.Context, start *startFrame) {
	s.mu.Lock()
	s.streamSID = start.StreamSID
	s.mu.Unlock()

	transcr, err := s.bridge.newTranscriber(ctx)
	if err != nil {
		s.logger.Warn("transcriber start failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = transcr.Close()
		return
	}
	s.transcr = transcr
	s.mu.Unlock()

	go s.drainTranscriber(transcr)
	s.logger.Info("media stream started", zap.String("streamSid", start.StreamSID))
}

func (s *Session) handleMedia(media *mediaFrame) {
	raw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	transcr := s.transcr
	s.mu.Unlock()
	if transcr == nil {
		return
	}
	if err := transcr.SendAudio(raw); err != nil {
		s.logger.Debug("audio forward failed", zap.Error(err))
	}
}

// drainTranscriber fans transcription events out to the bridge hooks.
// Detected speech onset barges in on playback.
func (s *Session) drainTranscriber(transcr stt.Session) {
	for ev := range transcr.Events() {
		switch ev.Kind {
		case stt.EventPartial:
			s.bridge.hooks.partial(s.callID, ev.Transcript)
		case stt.EventTranscript:
			s.bridge.hooks.transcript(s.callID, ev.Transcript, ev.Confidence)
		case stt.EventSpeechStart:
			s.CancelPlayback()
			s.bridge.hooks.speechStart(s.callID)
		case stt.EventError:
			s.logger.Warn("transcriber error", zap.Error(ev.Err))
		}
	}
}

func (s *Session) sendMedia(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteJSON(mediaMessage{
		Event:     "media",
		StreamSID: s.streamSID,
		Media:     &mediaFrame{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

func (s *Session) sendClear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn.WriteJSON(mediaMessage{Event: "clear", StreamSID: s.streamSID})
}
