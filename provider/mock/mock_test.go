package mock

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/webhook"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func formReq(fields url.Values) *webhook.Request {
	return &webhook.Request{
		Method:   http.MethodPost,
		Host:     "gw.example.com",
		Path:     "/webhook",
		Header:   http.Header{},
		Body:     []byte(fields.Encode()),
		PostForm: fields,
	}
}

func TestParseWebhookEvent(t *testing.T) {
	a := New()

	if _, err := a.ParseWebhookEvent(context.Background(), formReq(url.Values{})); err == nil {
		t.Error("missing kind should be a parse error")
	}

	fields := url.Values{}
	fields.Set("kind", "speech")
	fields.Set("providerCallId", "mock-call-1")
	fields.Set("transcript", "hello")
	reply, err := a.ParseWebhookEvent(context.Background(), formReq(fields))
	if err != nil {
		t.Fatal(err)
	}
	ev := reply.Events[0]
	if ev.Kind != call.EventSpeech || !ev.Final || ev.Transcript != "hello" {
		t.Errorf("got %+v", ev)
	}
	if ev.ID == "" {
		t.Error("event id should be derived when absent")
	}

	again, err := a.ParseWebhookEvent(context.Background(), formReq(fields))
	if err != nil {
		t.Fatal(err)
	}
	if again.Events[0].ID != ev.ID {
		t.Error("identical deliveries must derive the same event id")
	}
}

func TestScriptedFailure(t *testing.T) {
	a := New()
	a.FailWith("tts", errors.New("carrier down"))
	if err := a.PlayTTS(context.Background(), "mock-call-1", "hi"); err == nil {
		t.Error("scripted failure should surface")
	}
	a.FailWith("tts", nil)
	if err := a.PlayTTS(context.Background(), "mock-call-1", "hi"); err != nil {
		t.Errorf("cleared script should succeed, got %v", err)
	}
	if got := a.LastCommand(); got.Op != "tts" || got.Text != "hi" {
		t.Errorf("last command = %+v", got)
	}
}

// End-to-end notify flow over the real event pipeline: initiate, answer,
// speak the message, auto-hangup after the post-speech delay.
func TestNotifyFlow(t *testing.T) {
	a := New()
	mgr := call.NewManager(a, call.Config{
		WebhookBaseURL:  "https://gw.example.com/webhook",
		FromNumber:      "+15550001111",
		PostSpeechDelay: 20 * time.Millisecond,
	})
	defer mgr.Close()

	res := mgr.InitiateCall(context.Background(), "+15552223333", call.InitiateOptions{
		Message: "your order has shipped",
		Mode:    call.ModeNotify,
	})
	if !res.Success {
		t.Fatalf("initiate failed: %s", res.Error)
	}

	fields := url.Values{}
	fields.Set("kind", "answered")
	fields.Set("providerCallId", "mock-call-1")
	reply, err := a.ParseWebhookEvent(context.Background(), formReq(fields))
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range reply.Events {
		if err := mgr.ProcessEvent(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool {
		rec, ok := mgr.GetCall(res.CallID)
		return ok && rec.State == call.StateHangupBot
	})

	var tts, hangup int
	for _, cmd := range a.Commands() {
		switch cmd.Op {
		case "tts":
			tts++
			if cmd.Text != "your order has shipped" {
				t.Errorf("spoke %q", cmd.Text)
			}
		case "hangup":
			hangup++
		}
	}
	if tts != 1 || hangup != 1 {
		t.Errorf("tts=%d hangup=%d, want one of each", tts, hangup)
	}
}
