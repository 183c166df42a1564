// Package plivo implements the provider.Adapter contract for Plivo:
// JSON call API, Plivo XML call control, and HMAC-SHA256 v2/v3 webhook
// verification.
//
// Plivo answers an outbound call request with a provisional request UUID and
// assigns the final call UUID only in the first webhook; the adapter carries
// the internal call id across that gap so the ledger can repoint its
// provider-id mapping.
package plivo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/internal/client"
	"github.com/agentplexus/voicegate/provider"
	"github.com/agentplexus/voicegate/webhook"
)

// Verify interface compliance at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// DefaultAPIBaseURL is the Plivo REST API base URL.
const DefaultAPIBaseURL = "https://api.plivo.com/v1"

// Adapter drives calls through the Plivo API.
type Adapter struct {
	authID    string
	authToken string
	voice     string
	client    *client.Client
	verifier  *webhook.Verifier
	logger    *zap.Logger

	mu sync.Mutex
	// requestIDs maps Plivo's provisional request UUID to the internal
	// call id until the first webhook carries the final call UUID.
	requestIDs map[string]string
	// webhookURLs caches the webhook endpoint per carrier call id.
	webhookURLs map[string]string
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithAuthID sets the Plivo auth ID.
func WithAuthID(id string) Option {
	return func(a *Adapter) { a.authID = id }
}

// WithAuthToken sets the Plivo auth token, used for both API auth and
// webhook signature verification.
func WithAuthToken(token string) Option {
	return func(a *Adapter) { a.authToken = token }
}

// WithVoice sets the TTS voice for <Speak>.
func WithVoice(voice string) Option {
	return func(a *Adapter) { a.voice = voice }
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
		a.client = client.New(baseURL, client.WithBasicAuth(a.authID, a.authToken))
	}
}

// New creates a Plivo adapter.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		logger:      zap.NewNop(),
		requestIDs:  make(map[string]string),
		webhookURLs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.authID == "" || a.authToken == "" {
		return nil, fmt.Errorf("plivo: auth ID and auth token are required")
	}
	if a.client == nil {
		a.client = client.New(DefaultAPIBaseURL, client.WithBasicAuth(a.authID, a.authToken))
	}
	if a.verifier == nil {
		a.verifier = webhook.NewVerifier(webhook.TrustConfig{}, a.logger)
	}
	return a, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "plivo" }

// CoordinatesInitialMessage is false: the ledger triggers the queued message
// once Plivo reports the call answered.
func (a *Adapter) CoordinatesInitialMessage() bool { return false }

// VerifyWebhook checks the V3 signature when present, falling back to V2.
func (a *Adapter) VerifyWebhook(_ context.Context, req *webhook.Request) error {
	if sig := req.Header.Get("X-Plivo-Signature-V3"); sig != "" {
		return a.verifier.VerifyHMACSHA256V3(req, a.authToken, sig,
			req.Header.Get("X-Plivo-Signature-V3-Nonce"))
	}
	return a.verifier.VerifyHMACSHA256V2(req, a.authToken,
		req.Header.Get("X-Plivo-Signature-V2"),
		req.Header.Get("X-Plivo-Signature-V2-Nonce"))
}

type createCallResponse struct {
	RequestUUID string `json:"request_uuid"`
	Message     string `json:"message"`
}

// InitiateCall places an outbound call. The returned provider call id is the
// provisional request UUID; webhooks reassign it to the final call UUID.
func (a *Adapter) InitiateCall(ctx context.Context, params call.InitiateParams) (*call.InitiateResponse, error) {
	body := map[string]string{
		"to":            params.To,
		"from":          params.From,
		"answer_url":    params.WebhookBaseURL,
		"answer_method": "POST",
		"hangup_url":    params.WebhookBaseURL,
		"hangup_method": "POST",
		"ring_url":      params.WebhookBaseURL,
		"ring_method":   "POST",
	}

	var created createCallResponse
	if err := a.client.PostJSON(ctx, a.callPath(""), body, &created); err != nil {
		return nil, fmt.Errorf("plivo initiate: %w", err)
	}

	a.mu.Lock()
	a.requestIDs[created.RequestUUID] = params.CallID
	a.webhookURLs[created.RequestUUID] = params.WebhookBaseURL
	a.mu.Unlock()

	return &call.InitiateResponse{ProviderCallID: created.RequestUUID, Status: created.Message}, nil
}

// HangupCall deletes the call; already-gone calls are success.
func (a *Adapter) HangupCall(ctx context.Context, providerCallID string) error {
	err := a.client.Delete(ctx, a.callPath(providerCallID))
	if err != nil && !client.IsNotFound(err) {
		return fmt.Errorf("plivo hangup: %w", err)
	}
	a.mu.Lock()
	delete(a.webhookURLs, providerCallID)
	a.mu.Unlock()
	return nil
}

// PlayTTS speaks text on the live call.
func (a *Adapter) PlayTTS(ctx context.Context, providerCallID, text string) error {
	body := map[string]string{"text": text}
	if a.voice != "" {
		body["voice"] = a.voice
	}
	if err := a.client.PostJSON(ctx, a.callPath(providerCallID)+"/Speak/", body, nil); err != nil {
		return fmt.Errorf("plivo play tts: %w", err)
	}
	return nil
}

// StartListening transfers the call leg to speech capture markup served from
// the cached webhook endpoint.
func (a *Adapter) StartListening(ctx context.Context, providerCallID string) error {
	body := map[string]string{
		"legs":        "aleg",
		"aleg_url":    a.webhookURL(providerCallID) + "?action=listen",
		"aleg_method": "POST",
	}
	if err := a.client.PostJSON(ctx, a.callPath(providerCallID)+"/Transfer/", body, nil); err != nil {
		return fmt.Errorf("plivo start listening: %w", err)
	}
	return nil
}

// StopListening transfers the call leg back to hold; already-gone is success.
func (a *Adapter) StopListening(ctx context.Context, providerCallID string) error {
	body := map[string]string{
		"legs":        "aleg",
		"aleg_url":    a.webhookURL(providerCallID) + "?action=hold",
		"aleg_method": "POST",
	}
	err := a.client.PostJSON(ctx, a.callPath(providerCallID)+"/Transfer/", body, nil)
	if err != nil && !client.IsNotFound(err) {
		return fmt.Errorf("plivo stop listening: %w", err)
	}
	return nil
}

// ParseWebhookEvent normalizes one Plivo webhook delivery.
func (a *Adapter) ParseWebhookEvent(_ context.Context, req *webhook.Request) (*provider.WebhookReply, error) {
	form := req.PostForm
	if form == nil {
		return nil, fmt.Errorf("plivo: missing form body")
	}
	callUUID := form.Get("CallUUID")
	requestUUID := form.Get("RequestUUID")
	if callUUID == "" && requestUUID == "" {
		return nil, fmt.Errorf("plivo: missing CallUUID")
	}

	providerCallID := callUUID
	if providerCallID == "" {
		providerCallID = requestUUID
	}
	a.cacheWebhookURL(providerCallID, req)

	// Transfer callbacks serve the markup the live action asked for.
	switch req.Query().Get("action") {
	case "listen":
		return provider.XMLReply(getSpeech(a.webhookURL(providerCallID))), nil
	case "hold":
		return provider.XMLReply(holdOpen()), nil
	}

	status := form.Get("CallStatus")
	direction := call.DirectionOutbound
	if strings.HasPrefix(form.Get("Direction"), "inbound") {
		direction = call.DirectionInbound
	}

	ev := call.Event{
		ID: provider.EventID(providerCallID, status, form.Get("Event"),
			form.Get("Speech"), form.Get("HangupCause"), form.Get("Machine")),
		CallID:         a.internalID(requestUUID),
		ProviderCallID: providerCallID,
		Timestamp:      time.Now(),
		Direction:      direction,
		From:           form.Get("From"),
		To:             form.Get("To"),
	}

	// Machine-detection callback: a voicemail pickup ends the call with
	// hangup markup rather than speaking into the recording.
	if strings.EqualFold(form.Get("Machine"), "true") {
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndVoicemail
		return provider.XMLReply(hangupDoc(), ev), nil
	}

	if speech := form.Get("Speech"); speech != "" {
		ev.Kind = call.EventSpeech
		ev.Transcript = speech
		ev.Final = true
		if conf, err := strconv.ParseFloat(form.Get("Confidence"), 64); err == nil {
			ev.Confidence = conf
		}
		return provider.XMLReply(holdOpen(), ev), nil
	}
	if digits := form.Get("Digits"); digits != "" {
		ev.Kind = call.EventDTMF
		ev.Digit = digits
		return provider.XMLReply(holdOpen(), ev), nil
	}

	switch status {
	case "ringing":
		ev.Kind = call.EventRinging
	case "in-progress":
		ev.Kind = call.EventAnswered
	case "completed":
		ev.Kind = call.EventEnded
		ev.EndReason = mapHangupCause(form.Get("HangupCause"), form.Get("HangupSource"))
	case "busy":
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndBusy
	case "no-answer", "timeout":
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndNoAnswer
	case "failed":
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndFailed
	default:
		a.logger.Debug("unrecognized plivo call status", zap.String("status", status))
		return provider.OK(), nil
	}

	if direction == call.DirectionInbound && ev.Kind != call.EventEnded {
		events := []call.Event{ev}
		if ev.Kind != call.EventInitiated {
			created := ev
			created.ID = ev.ID + ":init"
			created.Kind = call.EventInitiated
			events = []call.Event{created, ev}
		}
		return provider.XMLReply(holdOpen(), events...), nil
	}
	return provider.OK(ev), nil
}

// mapHangupCause collapses Plivo cause codes into the shared end-reason
// vocabulary.
func mapHangupCause(cause, source string) call.EndReason {
	switch strings.ToUpper(cause) {
	case "USER_BUSY":
		return call.EndBusy
	case "NO_ANSWER", "ORIGINATOR_CANCEL", "NO_USER_RESPONSE":
		return call.EndNoAnswer
	case "MACHINE_DETECTED", "ANSWERING_MACHINE":
		return call.EndVoicemail
	case "", "NORMAL_CLEARING":
		if strings.EqualFold(source, "API") {
			return call.EndCompleted
		}
		return call.EndHangupUser
	default:
		return call.EndFailed
	}
}

func (a *Adapter) callPath(callUUID string) string {
	if callUUID == "" {
		return "/Account/" + a.authID + "/Call/"
	}
	return "/Account/" + a.authID + "/Call/" + callUUID
}

func (a *Adapter) internalID(requestUUID string) string {
	if requestUUID == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requestIDs[requestUUID]
}

func (a *Adapter) cacheWebhookURL(providerCallID string, req *webhook.Request) {
	full := a.verifier.RequestURL(req)
	if i := strings.IndexByte(full, '?'); i >= 0 {
		full = full[:i]
	}
	a.mu.Lock()
	a.webhookURLs[providerCallID] = full
	a.mu.Unlock()
}

func (a *Adapter) webhookURL(providerCallID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.webhookURLs[providerCallID]
}
