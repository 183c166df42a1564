package call

import "context"

// InitiateParams are the carrier-facing parameters for placing a call.
type InitiateParams struct {
	// CallID is the internal call id; adapters key their per-call
	// bookkeeping (webhook URLs, provisional ids) on it.
	CallID string

	To   string
	From string

	// WebhookBaseURL is where the carrier should deliver call events.
	WebhookBaseURL string

	// SessionKey correlates the call with an external conversation.
	SessionKey string

	// InitialMessage, when set, is rendered into the carrier's markup for
	// immediate playback once the call is answered.
	InitialMessage string
}

// InitiateResponse is the carrier's answer to a placed call.
type InitiateResponse struct {
	// ProviderCallID may be provisional; some carriers reassign a final id
	// in a later webhook.
	ProviderCallID string
	Status         string
}

// Adapter is the call-control surface the Manager needs from a carrier.
// The provider package extends it with webhook verification and parsing.
type Adapter interface {
	Name() string

	InitiateCall(ctx context.Context, params InitiateParams) (*InitiateResponse, error)

	// HangupCall ends the call at the carrier. A call that is already gone
	// (404) is success.
	HangupCall(ctx context.Context, providerCallID string) error

	// PlayTTS speaks text on the live call.
	PlayTTS(ctx context.Context, providerCallID, text string) error

	// StartListening asks the carrier to begin capturing caller speech.
	StartListening(ctx context.Context, providerCallID string) error

	// StopListening stops speech capture. Already-stopped (404) is success.
	StopListening(ctx context.Context, providerCallID string) error

	// CoordinatesInitialMessage reports whether the carrier integration
	// delivers the queued initial message itself when the call is
	// answered. When false the Manager triggers it.
	CoordinatesInitialMessage() bool
}
