package telnyx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/webhook"
)

func testAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	opts = append([]Option{WithAPIKey("KEY123"), WithConnectionID("conn-1")}, opts...)
	a, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func jsonReq(t *testing.T, v any) *webhook.Request {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return &webhook.Request{
		Method:     http.MethodPost,
		Host:       "gw.example.com",
		Path:       "/webhook",
		Header:     http.Header{},
		RemoteAddr: "3.3.3.3:443",
		Body:       body,
	}
}

func envelope(eventType, id, callControlID string, payload map[string]any) map[string]any {
	base := map[string]any{
		"call_control_id": callControlID,
	}
	for k, v := range payload {
		base[k] = v
	}
	return map[string]any{
		"data": map[string]any{
			"event_type":  eventType,
			"id":          id,
			"occurred_at": time.Now().UTC().Format(time.RFC3339),
			"payload":     base,
		},
	}
}

func TestClientStateRoundTrip(t *testing.T) {
	in := clientState{CallID: "call-42", Message: "hello"}
	out := decodeClientState(encodeClientState(in))
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if s := decodeClientState("not-base64!"); s != (clientState{}) {
		t.Errorf("bad input should decode to zero state, got %+v", s)
	}
}

func TestParseAnsweredCarriesClientState(t *testing.T) {
	a := testAdapter(t)
	state := encodeClientState(clientState{CallID: "call-42"})

	reply, err := a.ParseWebhookEvent(context.Background(), jsonReq(t,
		envelope("call.answered", "evt-1", "cc-1", map[string]any{
			"client_state": state,
			"direction":    "outgoing",
			"from":         "+15550001111",
			"to":           "+15552223333",
		})))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(reply.Events))
	}
	ev := reply.Events[0]
	if ev.Kind != call.EventAnswered {
		t.Errorf("kind = %s, want answered", ev.Kind)
	}
	if ev.CallID != "call-42" {
		t.Errorf("internal id = %q, want call-42 from client_state", ev.CallID)
	}
	if ev.ID != "evt-1" {
		t.Errorf("event id = %q, want the native webhook id", ev.ID)
	}
	if ev.ProviderCallID != "cc-1" {
		t.Errorf("provider id = %q", ev.ProviderCallID)
	}
}

func TestParseTranscription(t *testing.T) {
	a := testAdapter(t)
	reply, err := a.ParseWebhookEvent(context.Background(), jsonReq(t,
		envelope("call.transcription", "evt-2", "cc-1", map[string]any{
			"transcription_data": map[string]any{
				"transcript": "send the invoice",
				"confidence": 0.91,
				"is_final":   true,
			},
		})))
	if err != nil {
		t.Fatal(err)
	}
	ev := reply.Events[0]
	if ev.Kind != call.EventSpeech || !ev.Final {
		t.Errorf("kind/final = %s/%v", ev.Kind, ev.Final)
	}
	if ev.Transcript != "send the invoice" || ev.Confidence != 0.91 {
		t.Errorf("transcript %q confidence %v", ev.Transcript, ev.Confidence)
	}
}

func TestParseHangupCauses(t *testing.T) {
	tests := []struct {
		cause string
		want  call.EndReason
	}{
		{"user_busy", call.EndBusy},
		{"no_answer", call.EndNoAnswer},
		{"originator_cancel", call.EndNoAnswer},
		{"timeout", call.EndNoAnswer},
		{"call_rejected", call.EndFailed},
		{"normal_clearing", call.EndHangupUser},
		{"", call.EndHangupUser},
		{"some_future_cause", call.EndCompleted},
	}
	a := testAdapter(t)
	for _, tt := range tests {
		reply, err := a.ParseWebhookEvent(context.Background(), jsonReq(t,
			envelope("call.hangup", "evt-h-"+tt.cause, "cc-1", map[string]any{
				"hangup_cause": tt.cause,
			})))
		if err != nil {
			t.Fatal(err)
		}
		ev := reply.Events[0]
		if ev.Kind != call.EventEnded || ev.EndReason != tt.want {
			t.Errorf("cause %q: got %s/%s, want ended/%s", tt.cause, ev.Kind, ev.EndReason, tt.want)
		}
	}
}

func TestParseMachineDetection(t *testing.T) {
	a := testAdapter(t)

	reply, err := a.ParseWebhookEvent(context.Background(), jsonReq(t,
		envelope("call.machine.detection.ended", "evt-m1", "cc-1", map[string]any{
			"result": "machine",
		})))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Events) != 1 || reply.Events[0].EndReason != call.EndVoicemail {
		t.Errorf("machine result should end the call as voicemail, got %+v", reply.Events)
	}

	reply, err = a.ParseWebhookEvent(context.Background(), jsonReq(t,
		envelope("call.machine.detection.ended", "evt-m2", "cc-1", map[string]any{
			"result": "human",
		})))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Events) != 0 {
		t.Errorf("human result should be a no-op, got %+v", reply.Events)
	}
}

func TestParseUnknownEventTypeIgnored(t *testing.T) {
	a := testAdapter(t)
	reply, err := a.ParseWebhookEvent(context.Background(), jsonReq(t,
		envelope("call.fork.started", "evt-3", "cc-1", nil)))
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Events) != 0 {
		t.Errorf("got %d events, want 0", len(reply.Events))
	}
}

func TestParseMalformedBody(t *testing.T) {
	a := testAdapter(t)
	req := &webhook.Request{Method: http.MethodPost, Header: http.Header{}, Body: []byte("{not json")}
	if _, err := a.ParseWebhookEvent(context.Background(), req); err == nil {
		t.Error("malformed body should be a parse error")
	}
	if _, err := a.ParseWebhookEvent(context.Background(), jsonReq(t, map[string]any{"data": map[string]any{}})); err == nil {
		t.Error("envelope without event type should be a parse error")
	}
}

func TestInitiateCallSendsClientState(t *testing.T) {
	var mu sync.Mutex
	var got createCallRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calls" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer KEY123" {
			t.Errorf("auth = %q", auth)
		}
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"call_control_id":"cc-9","is_alive":true}}`))
	}))
	defer srv.Close()

	a := testAdapter(t, WithAPIBaseURL(srv.URL))
	resp, err := a.InitiateCall(context.Background(), call.InitiateParams{
		CallID:         "call-42",
		To:             "+15552223333",
		From:           "+15550001111",
		WebhookBaseURL: "https://gw.example.com/webhook",
		InitialMessage: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ProviderCallID != "cc-9" {
		t.Errorf("provider id = %s", resp.ProviderCallID)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.ConnectionID != "conn-1" || got.To != "+15552223333" {
		t.Errorf("request = %+v", got)
	}
	state := decodeClientState(got.ClientState)
	if state.CallID != "call-42" || state.Message != "hello" {
		t.Errorf("client state = %+v", state)
	}
}

func TestInboundInitiatedAnswersCall(t *testing.T) {
	answered := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		answered <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	a := testAdapter(t, WithAPIBaseURL(srv.URL))
	reply, err := a.ParseWebhookEvent(context.Background(), jsonReq(t,
		envelope("call.initiated", "evt-in", "cc-in", map[string]any{
			"direction": "incoming",
			"from":      "+15551234567",
			"to":        "+15550001111",
		})))
	if err != nil {
		t.Fatal(err)
	}
	ev := reply.Events[0]
	if ev.Kind != call.EventInitiated || ev.Direction != call.DirectionInbound {
		t.Errorf("got %s/%s", ev.Kind, ev.Direction)
	}

	select {
	case path := <-answered:
		if path != "/calls/cc-in/actions/answer" {
			t.Errorf("answer path = %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound leg was never answered")
	}
}
