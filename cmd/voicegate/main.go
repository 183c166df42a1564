// Command voicegate runs the telephony gateway: one carrier adapter, the call
// ledger, the webhook server, and optionally the media-stream bridge with
// realtime transcription.
//
// Configuration is environment-driven; a .env file in the working directory
// is loaded when present.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agentplexus/voicegate"
	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/provider"
	"github.com/agentplexus/voicegate/provider/mock"
	"github.com/agentplexus/voicegate/provider/plivo"
	"github.com/agentplexus/voicegate/provider/telnyx"
	"github.com/agentplexus/voicegate/provider/twilio"
	"github.com/agentplexus/voicegate/server"
	"github.com/agentplexus/voicegate/stream"
	"github.com/agentplexus/voicegate/stt"
	"github.com/agentplexus/voicegate/stt/deepgram"
	"github.com/agentplexus/voicegate/webhook"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("voicegate exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	trust := webhook.TrustConfig{
		AllowedHosts:        splitEnv("VOICEGATE_ALLOWED_HOSTS"),
		TrustForwarding:     envBool("VOICEGATE_TRUST_FORWARDING"),
		TrustedProxies:      splitEnv("VOICEGATE_TRUSTED_PROXIES"),
		AllowTunnelLoopback: envBool("VOICEGATE_ALLOW_TUNNEL_LOOPBACK"),
		SkipVerification:    envBool("VOICEGATE_SKIP_VERIFICATION"),
	}
	verifier := webhook.NewVerifier(trust, logger)

	bridge := buildBridge(logger)

	adapter, err := buildAdapter(verifier, bridge, logger)
	if err != nil {
		return err
	}

	cfg := call.Config{
		WebhookBaseURL:    os.Getenv("VOICEGATE_WEBHOOK_URL"),
		FromNumber:        os.Getenv("VOICEGATE_FROM_NUMBER"),
		MaxConcurrent:     envInt("VOICEGATE_MAX_CONCURRENT"),
		MaxDuration:       envDuration("VOICEGATE_MAX_DURATION"),
		TranscriptTimeout: envDuration("VOICEGATE_TRANSCRIPT_TIMEOUT"),
		PostSpeechDelay:   envDuration("VOICEGATE_POST_SPEECH_DELAY"),
		InboundPolicy:     call.InboundPolicy(os.Getenv("VOICEGATE_INBOUND_POLICY")),
		Allowlist:         splitEnv("VOICEGATE_ALLOWLIST"),
	}
	if bridge != nil {
		// Invalidate the stream token and close any live media session when
		// the call ends; tokens are keyed by carrier call id.
		cfg.StreamRevoke = bridge.Revoke
	}

	opts := []call.Option{call.WithLogger(logger)}
	if path := os.Getenv("VOICEGATE_CALL_LOG"); path != "" {
		log, err := call.OpenLog(path, logger)
		if err != nil {
			return fmt.Errorf("open call log: %w", err)
		}
		defer func() { _ = log.Close() }()
		opts = append(opts, call.WithLog(log))
	}

	manager := call.NewManager(adapter, cfg, opts...)
	if err := manager.Recover(); err != nil {
		return fmt.Errorf("recover call log: %w", err)
	}
	defer manager.Close()

	if bridge != nil {
		wireBridge(bridge, manager, logger)
	}

	addr := os.Getenv("VOICEGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := server.New(adapter, manager, server.Config{Addr: addr},
		server.WithLogger(logger), server.WithBridge(bridge))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildBridge creates the media bridge when a transcription key is present.
func buildBridge(logger *zap.Logger) *stream.Bridge {
	key := os.Getenv("DEEPGRAM_API_KEY")
	if key == "" {
		return nil
	}
	var sttProvider stt.Provider
	dg, err := deepgram.New(key, deepgram.WithLogger(logger))
	if err != nil {
		logger.Warn("deepgram disabled", zap.Error(err))
		return nil
	}
	sttProvider = dg
	return stream.NewBridge(sttProvider, stream.WithLogger(logger))
}

// wireBridge feeds stream transcription back into the ledger. Sessions are
// keyed by the id the adapter put in the stream URL (the carrier call id), so
// events route through the ledger's provider-id mapping.
func wireBridge(bridge *stream.Bridge, manager *call.Manager, logger *zap.Logger) {
	bridge.SetHooks(stream.Hooks{
		OnTranscript: func(callID, transcript string, confidence float64) {
			ev := call.Event{
				ID:             "stream:" + callID + ":" + strconv.FormatInt(time.Now().UnixNano(), 10),
				ProviderCallID: callID,
				Kind:           call.EventSpeech,
				Timestamp:      time.Now(),
				Transcript:     transcript,
				Confidence:     confidence,
				Final:          true,
			}
			if err := manager.ProcessEvent(context.Background(), ev); err != nil {
				logger.Warn("stream transcript dispatch failed", zap.Error(err))
			}
		},
		OnDTMF: func(callID, digit string) {
			ev := call.Event{
				ID:             "stream:" + callID + ":dtmf:" + strconv.FormatInt(time.Now().UnixNano(), 10),
				ProviderCallID: callID,
				Kind:           call.EventDTMF,
				Timestamp:      time.Now(),
				Digit:          digit,
			}
			if err := manager.ProcessEvent(context.Background(), ev); err != nil {
				logger.Warn("stream dtmf dispatch failed", zap.Error(err))
			}
		},
	})
}

func buildAdapter(verifier *webhook.Verifier, bridge *stream.Bridge, logger *zap.Logger) (provider.Adapter, error) {
	name := os.Getenv("VOICEGATE_PROVIDER")
	if name == "" {
		name = voicegate.ProviderMock
	}

	switch name {
	case voicegate.ProviderTwilio:
		opts := []twilio.Option{
			twilio.WithAccountSID(os.Getenv("TWILIO_ACCOUNT_SID")),
			twilio.WithAuthToken(os.Getenv("TWILIO_AUTH_TOKEN")),
			twilio.WithVerifier(verifier),
			twilio.WithLogger(logger),
		}
		if streamURL := os.Getenv("VOICEGATE_STREAM_URL"); streamURL != "" && bridge != nil {
			opts = append(opts, twilio.WithMediaStream(streamURL, bridge.Authorize))
		}
		return twilio.New(opts...)

	case voicegate.ProviderPlivo:
		return plivo.New(
			plivo.WithAuthID(os.Getenv("PLIVO_AUTH_ID")),
			plivo.WithAuthToken(os.Getenv("PLIVO_AUTH_TOKEN")),
			plivo.WithVerifier(verifier),
			plivo.WithLogger(logger),
		)

	case voicegate.ProviderTelnyx:
		opts := []telnyx.Option{
			telnyx.WithAPIKey(os.Getenv("TELNYX_API_KEY")),
			telnyx.WithConnectionID(os.Getenv("TELNYX_CONNECTION_ID")),
			telnyx.WithPublicKey(os.Getenv("TELNYX_PUBLIC_KEY")),
			telnyx.WithVerifier(verifier),
			telnyx.WithLogger(logger),
		}
		if envBool("TELNYX_ALLOW_UNVERIFIED") {
			opts = append(opts, telnyx.WithAllowUnverified())
		}
		return telnyx.New(opts...)

	case voicegate.ProviderMock:
		return mock.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func splitEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envInt(key string) int {
	v, _ := strconv.Atoi(os.Getenv(key))
	return v
}

func envDuration(key string) time.Duration {
	v, _ := time.ParseDuration(os.Getenv(key))
	return v
}
