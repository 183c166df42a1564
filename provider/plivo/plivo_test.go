package plivo

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/webhook"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(WithAuthID("MA123"), WithAuthToken("token"))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func webhookReq(form url.Values, rawQuery string) *webhook.Request {
	return &webhook.Request{
		Method:     http.MethodPost,
		Host:       "gw.example.com",
		Path:       "/webhook",
		RawQuery:   rawQuery,
		Header:     http.Header{},
		RemoteAddr: "3.3.3.3:443",
		Body:       []byte(form.Encode()),
		PostForm:   form,
	}
}

func TestParseStatusEvents(t *testing.T) {
	tests := []struct {
		status string
		kind   call.EventKind
		reason call.EndReason
	}{
		{"ringing", call.EventRinging, ""},
		{"in-progress", call.EventAnswered, ""},
		{"busy", call.EventEnded, call.EndBusy},
		{"no-answer", call.EventEnded, call.EndNoAnswer},
		{"timeout", call.EventEnded, call.EndNoAnswer},
		{"failed", call.EventEnded, call.EndFailed},
	}
	a := testAdapter(t)
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			form := url.Values{}
			form.Set("CallUUID", "uuid-1")
			form.Set("CallStatus", tt.status)
			form.Set("Direction", "outbound")

			reply, err := a.ParseWebhookEvent(context.Background(), webhookReq(form, ""))
			if err != nil {
				t.Fatal(err)
			}
			if len(reply.Events) != 1 {
				t.Fatalf("got %d events, want 1", len(reply.Events))
			}
			ev := reply.Events[0]
			if ev.Kind != tt.kind || ev.EndReason != tt.reason {
				t.Errorf("got %s/%s, want %s/%s", ev.Kind, ev.EndReason, tt.kind, tt.reason)
			}
		})
	}
}

// The create-call API answers with a provisional request UUID; the first
// webhook carries both ids, and the adapter resolves the internal call id
// from the request UUID so the ledger can repoint its mapping.
func TestParseCarriesInternalIDAcrossReassignment(t *testing.T) {
	a := testAdapter(t)
	a.mu.Lock()
	a.requestIDs["req-123"] = "internal-abc"
	a.mu.Unlock()

	form := url.Values{}
	form.Set("CallUUID", "uuid-final")
	form.Set("RequestUUID", "req-123")
	form.Set("CallStatus", "ringing")
	form.Set("Direction", "outbound")

	reply, err := a.ParseWebhookEvent(context.Background(), webhookReq(form, ""))
	if err != nil {
		t.Fatal(err)
	}
	ev := reply.Events[0]
	if ev.CallID != "internal-abc" {
		t.Errorf("internal id = %q, want internal-abc", ev.CallID)
	}
	if ev.ProviderCallID != "uuid-final" {
		t.Errorf("provider id = %q, want uuid-final", ev.ProviderCallID)
	}
}

func TestParseSpeech(t *testing.T) {
	a := testAdapter(t)
	form := url.Values{}
	form.Set("CallUUID", "uuid-1")
	form.Set("Direction", "outbound")
	form.Set("Speech", "yes please")
	form.Set("Confidence", "0.93")

	reply, err := a.ParseWebhookEvent(context.Background(), webhookReq(form, ""))
	if err != nil {
		t.Fatal(err)
	}
	ev := reply.Events[0]
	if ev.Kind != call.EventSpeech || ev.Transcript != "yes please" || ev.Confidence != 0.93 {
		t.Errorf("got %+v", ev)
	}
	if !strings.Contains(reply.Body, "<Wait") {
		t.Errorf("speech reply should hold the line, got %q", reply.Body)
	}
}

func TestParseTransferActions(t *testing.T) {
	a := testAdapter(t)
	form := url.Values{}
	form.Set("CallUUID", "uuid-1")

	reply, err := a.ParseWebhookEvent(context.Background(), webhookReq(form, "action=listen"))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Events) != 0 {
		t.Errorf("transfer callback must emit no events, got %d", len(reply.Events))
	}
	if !strings.Contains(reply.Body, "<GetInput") {
		t.Errorf("listen action should return speech capture markup, got %q", reply.Body)
	}

	reply, err = a.ParseWebhookEvent(context.Background(), webhookReq(form, "action=hold"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply.Body, "<Wait") || strings.Contains(reply.Body, "<GetInput") {
		t.Errorf("hold action should return wait markup, got %q", reply.Body)
	}
}

func TestParseMachineDetection(t *testing.T) {
	a := testAdapter(t)
	form := url.Values{}
	form.Set("CallUUID", "uuid-1")
	form.Set("Machine", "true")

	reply, err := a.ParseWebhookEvent(context.Background(), webhookReq(form, ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(reply.Events))
	}
	ev := reply.Events[0]
	if ev.Kind != call.EventEnded || ev.EndReason != call.EndVoicemail {
		t.Errorf("got %s/%s, want ended/voicemail", ev.Kind, ev.EndReason)
	}
	if !strings.Contains(reply.Body, "<Hangup") {
		t.Errorf("voicemail reply should hang up, got %q", reply.Body)
	}
}

func TestParseInboundSynthesizesInitiated(t *testing.T) {
	a := testAdapter(t)
	form := url.Values{}
	form.Set("CallUUID", "uuid-in")
	form.Set("CallStatus", "ringing")
	form.Set("Direction", "inbound")
	form.Set("From", "15551234567")

	reply, err := a.ParseWebhookEvent(context.Background(), webhookReq(form, ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(reply.Events))
	}
	if reply.Events[0].Kind != call.EventInitiated || reply.Events[1].Kind != call.EventRinging {
		t.Errorf("got %s,%s", reply.Events[0].Kind, reply.Events[1].Kind)
	}
}

func TestParseMissingIdentifiers(t *testing.T) {
	a := testAdapter(t)
	if _, err := a.ParseWebhookEvent(context.Background(), webhookReq(url.Values{}, "")); err == nil {
		t.Error("missing CallUUID and RequestUUID should be a parse error")
	}
}

func TestMapHangupCause(t *testing.T) {
	tests := []struct {
		cause  string
		source string
		want   call.EndReason
	}{
		{"USER_BUSY", "", call.EndBusy},
		{"NO_ANSWER", "", call.EndNoAnswer},
		{"ORIGINATOR_CANCEL", "", call.EndNoAnswer},
		{"MACHINE_DETECTED", "", call.EndVoicemail},
		{"NORMAL_CLEARING", "Caller", call.EndHangupUser},
		{"NORMAL_CLEARING", "API", call.EndCompleted},
		{"", "api", call.EndCompleted},
		{"WEIRD_NEW_CAUSE", "", call.EndFailed},
	}
	for _, tt := range tests {
		if got := mapHangupCause(tt.cause, tt.source); got != tt.want {
			t.Errorf("mapHangupCause(%q, %q) = %s, want %s", tt.cause, tt.source, got, tt.want)
		}
	}
}
