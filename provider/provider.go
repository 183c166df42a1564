// Package provider defines the adapter contract every telephony carrier
// integration implements, translating carrier-specific call-control APIs and
// webhook payloads into the normalized event vocabulary of the call package.
//
// The supported carriers form a closed set: Telnyx, Twilio, Plivo, and an
// in-memory mock for tests. Each lives in its own subpackage.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/webhook"
)

// WebhookReply is everything an adapter produces from one webhook delivery:
// the normalized events to fold into the ledger plus the synchronous response
// the carrier expects. Carriers that drive the call with markup (speak this,
// keep the line open) return it in Body; others get a plain OK.
type WebhookReply struct {
	Events      []call.Event
	Body        string
	ContentType string
	Status      int
}

// Adapter is the uniform carrier contract. It extends the call-control
// surface the Manager drives with webhook verification and parsing.
type Adapter interface {
	call.Adapter

	// VerifyWebhook authenticates an inbound webhook delivery.
	VerifyWebhook(ctx context.Context, req *webhook.Request) error

	// ParseWebhookEvent translates one verified webhook delivery into
	// normalized events and the carrier's expected response.
	ParseWebhookEvent(ctx context.Context, req *webhook.Request) (*WebhookReply, error)
}

// OK is a plain-text acknowledgment reply carrying the given events.
func OK(events ...call.Event) *WebhookReply {
	return &WebhookReply{Events: events, Status: http.StatusOK}
}

// XMLReply is a markup reply carrying the given events.
func XMLReply(body string, events ...call.Event) *WebhookReply {
	return &WebhookReply{
		Events:      events,
		Body:        body,
		ContentType: "text/xml; charset=utf-8",
		Status:      http.StatusOK,
	}
}

// EventID derives a stable event id from a webhook delivery for carriers that
// do not assign one: a redelivered identical payload hashes to the same id
// and dedupes naturally.
func EventID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
