// Package telnyx implements the provider.Adapter contract for Telnyx: the v2
// JSON call-control API, JSON webhooks, and Ed25519 webhook verification.
//
// Telnyx coordinates the queued initial message itself: the message rides in
// the call's client_state and the adapter issues the speak command when the
// answered webhook arrives, so the ledger skips its own trigger.
package telnyx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/internal/client"
	"github.com/agentplexus/voicegate/provider"
	"github.com/agentplexus/voicegate/webhook"
)

// Verify interface compliance at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// DefaultAPIBaseURL is the Telnyx v2 API base URL.
const DefaultAPIBaseURL = "https://api.telnyx.com/v2"

// Adapter drives calls through the Telnyx call-control API.
type Adapter struct {
	apiKey          string
	connectionID    string
	publicKey       string // base64 Ed25519 webhook signing key
	voice           string
	language        string
	allowUnverified bool
	client          *client.Client
	verifier        *webhook.Verifier
	logger          *zap.Logger
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithAPIKey sets the Telnyx API key.
func WithAPIKey(key string) Option {
	return func(a *Adapter) { a.apiKey = key }
}

// WithConnectionID sets the call-control connection id outbound calls use.
func WithConnectionID(id string) Option {
	return func(a *Adapter) { a.connectionID = id }
}

// WithPublicKey sets the base64 Ed25519 public key webhooks are verified
// against.
func WithPublicKey(key string) Option {
	return func(a *Adapter) { a.publicKey = key }
}

// WithVoice sets the TTS voice and language for speak commands.
func WithVoice(voice, language string) Option {
	return func(a *Adapter) {
		a.voice = voice
		a.language = language
	}
}

// WithAllowUnverified accepts webhooks with a warning when no public key is
// configured instead of failing closed.
func WithAllowUnverified() Option {
	return func(a *Adapter) { a.allowUnverified = true }
}

// WithVerifier sets the webhook verifier.
func WithVerifier(v *webhook.Verifier) Option {
	return func(a *Adapter) { a.verifier = v }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithAPIBaseURL overrides the API base URL (tests).
func WithAPIBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		a.client = client.New(baseURL, client.WithBearer(a.apiKey))
	}
}

// New creates a Telnyx adapter.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		voice:    "female",
		language: "en-US",
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.apiKey == "" {
		return nil, fmt.Errorf("telnyx: API key is required")
	}
	if a.client == nil {
		a.client = client.New(DefaultAPIBaseURL, client.WithBearer(a.apiKey))
	}
	if a.verifier == nil {
		a.verifier = webhook.NewVerifier(webhook.TrustConfig{}, a.logger)
	}
	return a, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "telnyx" }

// CoordinatesInitialMessage is true: the adapter speaks the queued message
// itself when the answered webhook arrives.
func (a *Adapter) CoordinatesInitialMessage() bool { return true }

// VerifyWebhook checks the Ed25519 signature and replay window.
func (a *Adapter) VerifyWebhook(_ context.Context, req *webhook.Request) error {
	return a.verifier.VerifyEd25519(req, a.publicKey,
		req.Header.Get("Telnyx-Signature-Ed25519"),
		req.Header.Get("Telnyx-Timestamp"),
		webhook.Ed25519Options{AllowUnverified: a.allowUnverified})
}

// clientState rides base64-encoded on the call and is echoed in webhooks.
type clientState struct {
	CallID  string `json:"callId"`
	Message string `json:"message,omitempty"`
}

func encodeClientState(s clientState) string {
	data, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(data)
}

func decodeClientState(raw string) clientState {
	var s clientState
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return s
	}
	_ = json.Unmarshal(data, &s)
	return s
}

type createCallRequest struct {
	ConnectionID     string `json:"connection_id"`
	To               string `json:"to"`
	From             string `json:"from"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	WebhookURLMethod string `json:"webhook_url_method,omitempty"`
	ClientState      string `json:"client_state,omitempty"`
}

type createCallResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
		IsAlive       bool   `json:"is_alive"`
	} `json:"data"`
}

// InitiateCall places an outbound call. The initial message travels in
// client_state so the answered webhook can trigger it without ledger help.
func (a *Adapter) InitiateCall(ctx context.Context, params call.InitiateParams) (*call.InitiateResponse, error) {
	req := createCallRequest{
		ConnectionID:     a.connectionID,
		To:               params.To,
		From:             params.From,
		WebhookURL:       params.WebhookBaseURL,
		WebhookURLMethod: "POST",
		ClientState: encodeClientState(clientState{
			CallID:  params.CallID,
			Message: params.InitialMessage,
		}),
	}

	var created createCallResponse
	if err := a.client.PostJSON(ctx, "/calls", req, &created); err != nil {
		return nil, fmt.Errorf("telnyx initiate: %w", err)
	}
	return &call.InitiateResponse{
		ProviderCallID: created.Data.CallControlID,
		Status:         "initiated",
	}, nil
}

// HangupCall ends the call; already-gone calls are success.
func (a *Adapter) HangupCall(ctx context.Context, providerCallID string) error {
	err := a.command(ctx, providerCallID, "hangup", map[string]string{})
	if err != nil && !client.IsNotFound(err) {
		return fmt.Errorf("telnyx hangup: %w", err)
	}
	return nil
}

// PlayTTS speaks text on the live call.
func (a *Adapter) PlayTTS(ctx context.Context, providerCallID, text string) error {
	if err := a.command(ctx, providerCallID, "speak", map[string]string{
		"payload":  text,
		"voice":    a.voice,
		"language": a.language,
	}); err != nil {
		return fmt.Errorf("telnyx play tts: %w", err)
	}
	return nil
}

// StartListening starts realtime transcription on the call.
func (a *Adapter) StartListening(ctx context.Context, providerCallID string) error {
	if err := a.command(ctx, providerCallID, "transcription_start", map[string]string{
		"language":             strings.SplitN(a.language, "-", 2)[0],
		"transcription_engine": "B",
	}); err != nil {
		return fmt.Errorf("telnyx start listening: %w", err)
	}
	return nil
}

// StopListening stops transcription; already-stopped is success.
func (a *Adapter) StopListening(ctx context.Context, providerCallID string) error {
	err := a.command(ctx, providerCallID, "transcription_stop", map[string]string{})
	if err != nil && !client.IsNotFound(err) {
		return fmt.Errorf("telnyx stop listening: %w", err)
	}
	return nil
}

func (a *Adapter) command(ctx context.Context, callControlID, action string, body map[string]string) error {
	return a.client.PostJSON(ctx, "/calls/"+callControlID+"/actions/"+action, body, nil)
}

// webhookEnvelope is the Telnyx webhook wire shape.
type webhookEnvelope struct {
	Data struct {
		EventType  string    `json:"event_type"`
		ID         string    `json:"id"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			CallControlID     string `json:"call_control_id"`
			ClientState       string `json:"client_state"`
			Direction         string `json:"direction"`
			From              string `json:"from"`
			To                string `json:"to"`
			HangupCause       string `json:"hangup_cause"`
			Digit             string `json:"digit"`
			Result            string `json:"result"`
			TranscriptionData struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				IsFinal    bool    `json:"is_final"`
			} `json:"transcription_data"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseWebhookEvent normalizes one Telnyx webhook delivery. Telnyx webhooks
// carry a real event id; no digest is needed.
func (a *Adapter) ParseWebhookEvent(ctx context.Context, req *webhook.Request) (*provider.WebhookReply, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		return nil, fmt.Errorf("telnyx: parse webhook: %w", err)
	}
	if env.Data.EventType == "" || env.Data.Payload.CallControlID == "" {
		return nil, fmt.Errorf("telnyx: incomplete webhook payload")
	}

	payload := env.Data.Payload
	state := decodeClientState(payload.ClientState)

	direction := call.DirectionOutbound
	if payload.Direction == "incoming" {
		direction = call.DirectionInbound
	}

	ev := call.Event{
		ID:             env.Data.ID,
		CallID:         state.CallID,
		ProviderCallID: payload.CallControlID,
		Timestamp:      env.Data.OccurredAt,
		Direction:      direction,
		From:           payload.From,
		To:             payload.To,
	}

	switch env.Data.EventType {
	case "call.initiated":
		ev.Kind = call.EventInitiated
		if direction == call.DirectionInbound {
			// Inbound legs must be answered explicitly; policy rejection
			// hangs the answered leg right back up.
			a.answerAsync(ctx, payload.CallControlID)
		}

	case "call.answered":
		ev.Kind = call.EventAnswered
		if state.Message != "" {
			a.speakAsync(ctx, payload.CallControlID, state.Message)
		}

	case "call.speak.started":
		ev.Kind = call.EventSpeaking

	case "call.speak.ended":
		ev.Kind = call.EventSilence

	case "call.transcription":
		ev.Kind = call.EventSpeech
		ev.Transcript = payload.TranscriptionData.Transcript
		ev.Confidence = payload.TranscriptionData.Confidence
		ev.Final = payload.TranscriptionData.IsFinal

	case "call.dtmf.received":
		ev.Kind = call.EventDTMF
		ev.Digit = payload.Digit

	case "call.machine.detection.ended":
		if !strings.HasPrefix(payload.Result, "machine") {
			return provider.OK(), nil
		}
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndVoicemail

	case "call.hangup":
		ev.Kind = call.EventEnded
		ev.EndReason = mapHangupCause(payload.HangupCause)

	default:
		a.logger.Debug("unrecognized telnyx event type",
			zap.String("eventType", env.Data.EventType))
		return provider.OK(), nil
	}

	return provider.OK(ev), nil
}

func (a *Adapter) answerAsync(ctx context.Context, callControlID string) {
	go func() {
		if err := a.command(context.WithoutCancel(ctx), callControlID, "answer", map[string]string{}); err != nil {
			a.logger.Warn("telnyx answer failed",
				zap.String("callControlId", callControlID), zap.Error(err))
		}
	}()
}

func (a *Adapter) speakAsync(ctx context.Context, callControlID, text string) {
	go func() {
		if err := a.PlayTTS(context.WithoutCancel(ctx), callControlID, text); err != nil {
			a.logger.Warn("telnyx initial message failed",
				zap.String("callControlId", callControlID), zap.Error(err))
		}
	}()
}

// mapHangupCause collapses Telnyx cause codes into the shared end-reason
// vocabulary.
func mapHangupCause(cause string) call.EndReason {
	switch strings.ToLower(cause) {
	case "user_busy", "busy":
		return call.EndBusy
	case "no_answer", "originator_cancel", "timeout":
		return call.EndNoAnswer
	case "call_rejected", "unspecified", "invalid_number":
		return call.EndFailed
	case "normal_clearing", "":
		return call.EndHangupUser
	default:
		return call.EndCompleted
	}
}
