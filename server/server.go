// Package server is the HTTP front door: it terminates carrier webhooks,
// hands media-stream upgrades to the bridge, and exposes the call-control
// surface as plain methods that never panic across the boundary.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/provider"
	"github.com/agentplexus/voicegate/stream"
	"github.com/agentplexus/voicegate/webhook"
)

const (
	// DefaultMaxBodyBytes caps webhook bodies; carriers send kilobytes.
	DefaultMaxBodyBytes = 1 << 20

	DefaultWebhookPath = "/webhook"
	DefaultStreamPath  = "/stream"
)

// Config configures the server.
type Config struct {
	Addr        string
	WebhookPath string
	StreamPath  string
	// MaxBodyBytes caps webhook request bodies; zero means the default.
	MaxBodyBytes int64
}

// Server couples one carrier adapter, one call manager, and an optional media
// bridge behind an HTTP listener.
type Server struct {
	cfg     Config
	adapter provider.Adapter
	manager *call.Manager
	bridge  *stream.Bridge
	logger  *zap.Logger
	httpSrv *http.Server
}

// Option configures the Server.
type Option func(*Server)

// WithBridge attaches a media-stream bridge at the stream path.
func WithBridge(b *stream.Bridge) Option {
	return func(s *Server) { s.bridge = b }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server.
func New(adapter provider.Adapter, manager *call.Manager, cfg Config, opts ...Option) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = DefaultWebhookPath
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = DefaultStreamPath
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		cfg:     cfg,
		adapter: adapter,
		manager: manager,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(s.cfg.WebhookPath, s.handleWebhook).Methods(http.MethodPost)
	if s.bridge != nil {
		r.Handle(s.cfg.StreamPath, s.bridge).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	}).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening",
		zap.String("addr", s.cfg.Addr),
		zap.String("provider", s.adapter.Name()))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.bridge != nil {
		_ = s.bridge.Close()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleWebhook runs one carrier delivery through verify, parse, and the
// event pipeline. Verification failures always get the same generic 401; the
// reason stays in the log.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	req, err := webhook.NewRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := s.adapter.VerifyWebhook(r.Context(), req); err != nil {
		s.logger.Warn("webhook verification failed",
			zap.String("provider", s.adapter.Name()),
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	reply, err := s.adapter.ParseWebhookEvent(r.Context(), req)
	if err != nil {
		s.logger.Warn("webhook parse failed",
			zap.String("provider", s.adapter.Name()),
			zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, ev := range reply.Events {
		if err := s.manager.ProcessEvent(r.Context(), ev); err != nil {
			s.logger.Warn("event dispatch failed",
				zap.String("eventId", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if reply.Body != "" {
		w.Header().Set("Content-Type", reply.ContentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply.Body)
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, "OK")
}

// Call-control surface. These delegate to the manager and report failures as
// values, never panics.

// InitiateCall places an outbound call.
func (s *Server) InitiateCall(ctx context.Context, to string, opts call.InitiateOptions) call.InitiateResult {
	return s.manager.InitiateCall(ctx, to, opts)
}

// Speak plays text on a live call.
func (s *Server) Speak(ctx context.Context, callID, text string) error {
	return s.manager.Speak(ctx, callID, text)
}

// ContinueCall speaks a prompt and waits for the caller's next final
// transcript.
func (s *Server) ContinueCall(ctx context.Context, callID, prompt string) (string, error) {
	return s.manager.ContinueCall(ctx, callID, prompt)
}

// EndCall hangs up and finalizes a call.
func (s *Server) EndCall(ctx context.Context, callID string) error {
	return s.manager.EndCall(ctx, callID)
}

// GetCall returns a snapshot of one call.
func (s *Server) GetCall(callID string) (*call.Record, error) {
	rec, ok := s.manager.GetCall(callID)
	if !ok {
		return nil, fmt.Errorf("call %q not found", callID)
	}
	return rec, nil
}

// ActiveCalls lists snapshots of all live calls.
func (s *Server) ActiveCalls() []*call.Record {
	return s.manager.ActiveCalls()
}

// CallHistory lists recently ended calls, newest first.
func (s *Server) CallHistory(limit int) []*call.Record {
	return s.manager.CallHistory(limit)
}
