// Package twilio implements the provider.Adapter contract for Twilio:
// form-encoded webhooks, TwiML call control, and HMAC-SHA1 webhook
// verification.
package twilio

import (
	"context"
	"fmt"
	"net/url"
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

// DefaultAPIBaseURL is the Twilio REST API base URL.
const DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

// Adapter drives calls through the Twilio API.
type Adapter struct {
	accountSID string
	authToken  string
	voice      string
	client     *client.Client
	verifier   *webhook.Verifier
	logger     *zap.Logger

	// MediaStreamURL, when set, is returned as <Connect><Stream> markup on
	// answered inbound webhooks. StreamToken appends the per-call auth
	// token issued by the media bridge.
	streamURL   string
	streamToken func(providerCallID string) string

	mu sync.Mutex
	// webhookURLs caches, per carrier call id, the webhook endpoint mid-call
	// actions should direct Twilio back to.
	webhookURLs map[string]string
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithAccountSID sets the Twilio Account SID.
func WithAccountSID(sid string) Option {
	return func(a *Adapter) { a.accountSID = sid }
}

// WithAuthToken sets the Twilio Auth Token, used for both API auth and
// webhook signature verification.
func WithAuthToken(token string) Option {
	return func(a *Adapter) { a.authToken = token }
}

// WithVoice sets the TTS voice for <Say>.
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
		a.client = client.New(baseURL, client.WithBasicAuth(a.accountSID, a.authToken))
	}
}

// WithMediaStream attaches a media stream to answered calls. tokenFor issues
// the per-call stream auth token; it may be nil when the stream endpoint is
// unauthenticated.
func WithMediaStream(streamURL string, tokenFor func(providerCallID string) string) Option {
	return func(a *Adapter) {
		a.streamURL = streamURL
		a.streamToken = tokenFor
	}
}

// New creates a Twilio adapter.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		voice:       "alice",
		logger:      zap.NewNop(),
		webhookURLs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.accountSID == "" || a.authToken == "" {
		return nil, fmt.Errorf("twilio: account SID and auth token are required")
	}
	if a.client == nil {
		a.client = client.New(DefaultAPIBaseURL, client.WithBasicAuth(a.accountSID, a.authToken))
	}
	if a.verifier == nil {
		a.verifier = webhook.NewVerifier(webhook.TrustConfig{}, a.logger)
	}
	return a, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "twilio" }

// CoordinatesInitialMessage is false: the ledger triggers the queued message
// once Twilio reports the call answered.
func (a *Adapter) CoordinatesInitialMessage() bool { return false }

// VerifyWebhook checks the X-Twilio-Signature header.
func (a *Adapter) VerifyWebhook(_ context.Context, req *webhook.Request) error {
	return a.verifier.VerifyHMACSHA1(req, a.authToken, req.Header.Get("X-Twilio-Signature"))
}

type apiCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// InitiateCall places an outbound call. The initial TwiML holds the line
// open; status callbacks drive the ledger from there.
func (a *Adapter) InitiateCall(ctx context.Context, params call.InitiateParams) (*call.InitiateResponse, error) {
	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", params.From)
	data.Set("Twiml", holdOpen())
	data.Set("StatusCallback", params.WebhookBaseURL)
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		data.Add("StatusCallbackEvent", ev)
	}

	var created apiCall
	if err := a.client.PostForm(ctx, a.callsPath(""), data, &created); err != nil {
		return nil, fmt.Errorf("twilio initiate: %w", err)
	}

	a.mu.Lock()
	a.webhookURLs[created.SID] = params.WebhookBaseURL
	a.mu.Unlock()

	return &call.InitiateResponse{ProviderCallID: created.SID, Status: created.Status}, nil
}

// HangupCall completes the call; already-gone calls are success.
func (a *Adapter) HangupCall(ctx context.Context, providerCallID string) error {
	data := url.Values{}
	data.Set("Status", "completed")
	err := a.client.PostForm(ctx, a.callsPath(providerCallID), data, nil)
	if err != nil && !client.IsNotFound(err) {
		return fmt.Errorf("twilio hangup: %w", err)
	}
	a.mu.Lock()
	delete(a.webhookURLs, providerCallID)
	a.mu.Unlock()
	return nil
}

// PlayTTS replaces the live call's TwiML with a <Say>.
func (a *Adapter) PlayTTS(ctx context.Context, providerCallID, text string) error {
	data := url.Values{}
	data.Set("Twiml", sayAndHold(text, a.voice))
	if err := a.client.PostForm(ctx, a.callsPath(providerCallID), data, nil); err != nil {
		return fmt.Errorf("twilio play tts: %w", err)
	}
	return nil
}

// StartListening points the call at a speech <Gather> that posts results back
// to the cached webhook endpoint.
func (a *Adapter) StartListening(ctx context.Context, providerCallID string) error {
	data := url.Values{}
	data.Set("Twiml", gatherSpeech(a.webhookURL(providerCallID)))
	if err := a.client.PostForm(ctx, a.callsPath(providerCallID), data, nil); err != nil {
		return fmt.Errorf("twilio start listening: %w", err)
	}
	return nil
}

// StopListening replaces the gather with a hold; already-gone is success.
func (a *Adapter) StopListening(ctx context.Context, providerCallID string) error {
	data := url.Values{}
	data.Set("Twiml", holdOpen())
	err := a.client.PostForm(ctx, a.callsPath(providerCallID), data, nil)
	if err != nil && !client.IsNotFound(err) {
		return fmt.Errorf("twilio stop listening: %w", err)
	}
	return nil
}

// ParseWebhookEvent normalizes one Twilio webhook delivery. Twilio assigns no
// event ids, so one is derived from the delivery payload.
func (a *Adapter) ParseWebhookEvent(_ context.Context, req *webhook.Request) (*provider.WebhookReply, error) {
	form := req.PostForm
	if form == nil {
		return nil, fmt.Errorf("twilio: missing form body")
	}
	callSID := form.Get("CallSid")
	if callSID == "" {
		return nil, fmt.Errorf("twilio: missing CallSid")
	}

	a.cacheWebhookURL(callSID, req)

	status := form.Get("CallStatus")
	direction := call.DirectionOutbound
	if strings.HasPrefix(form.Get("Direction"), "inbound") {
		direction = call.DirectionInbound
	}

	ev := call.Event{
		ID: provider.EventID(callSID, status, form.Get("SequenceNumber"),
			form.Get("SpeechResult"), form.Get("Digits")),
		ProviderCallID: callSID,
		Timestamp:      time.Now(),
		Direction:      direction,
		From:           form.Get("From"),
		To:             form.Get("To"),
	}

	if speech := form.Get("SpeechResult"); speech != "" {
		ev.Kind = call.EventSpeech
		ev.Transcript = speech
		ev.Final = true
		if conf, err := strconv.ParseFloat(form.Get("Confidence"), 64); err == nil {
			ev.Confidence = conf
		}
		// Keep the line open while the ledger decides the next turn.
		return provider.XMLReply(holdOpen(), ev), nil
	}
	if digits := form.Get("Digits"); digits != "" {
		ev.Kind = call.EventDTMF
		ev.Digit = digits
		return provider.XMLReply(holdOpen(), ev), nil
	}

	if strings.HasPrefix(form.Get("AnsweredBy"), "machine") {
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndVoicemail
		return provider.XMLReply(hangupDoc(), ev), nil
	}

	switch status {
	case "queued", "initiated":
		ev.Kind = call.EventInitiated
	case "ringing":
		ev.Kind = call.EventRinging
	case "in-progress", "answered":
		ev.Kind = call.EventAnswered
	case "completed":
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndCompleted
	case "busy":
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndBusy
	case "no-answer":
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndNoAnswer
	case "failed", "canceled":
		ev.Kind = call.EventEnded
		ev.EndReason = call.EndFailed
	default:
		a.logger.Debug("unrecognized twilio call status", zap.String("status", status))
		return provider.OK(), nil
	}

	// Inbound calls arrive without a separate initiated callback, so the
	// first contact carries a synthetic initiated event ahead of the state
	// event; on later deliveries it is a no-op transition. The markup
	// reply attaches the media stream when configured, otherwise holds the
	// line open for call control.
	if direction == call.DirectionInbound && ev.Kind != call.EventEnded && ev.Kind != call.EventFailure {
		events := []call.Event{ev}
		if ev.Kind != call.EventInitiated {
			created := ev
			created.ID = ev.ID + ":init"
			created.Kind = call.EventInitiated
			events = []call.Event{created, ev}
		}
		body := holdOpen()
		if a.streamURL != "" {
			body = connectStream(a.streamURLFor(callSID))
		}
		return provider.XMLReply(body, events...), nil
	}

	return provider.OK(ev), nil
}

func (a *Adapter) streamURLFor(providerCallID string) string {
	u := a.streamURL
	if a.streamToken != nil {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "call=" + url.QueryEscape(providerCallID) +
			"&token=" + url.QueryEscape(a.streamToken(providerCallID))
	}
	return u
}

func (a *Adapter) callsPath(callSID string) string {
	if callSID == "" {
		return "/Accounts/" + a.accountSID + "/Calls.json"
	}
	return "/Accounts/" + a.accountSID + "/Calls/" + callSID + ".json"
}

func (a *Adapter) cacheWebhookURL(callSID string, req *webhook.Request) {
	full := a.verifier.RequestURL(req)
	if i := strings.IndexByte(full, '?'); i >= 0 {
		full = full[:i]
	}
	a.mu.Lock()
	a.webhookURLs[callSID] = full
	a.mu.Unlock()
}

func (a *Adapter) webhookURL(callSID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.webhookURLs[callSID]
}
