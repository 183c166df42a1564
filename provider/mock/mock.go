// Package mock provides an in-memory carrier adapter for tests. It records
// every call-control command, hands out deterministic call ids, and can be
// scripted to fail any operation.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentplexus/voicegate/call"
	"github.com/agentplexus/voicegate/provider"
	"github.com/agentplexus/voicegate/webhook"
)

// Verify interface compliance at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// Command is one recorded call-control operation.
type Command struct {
	Op             string // "initiate", "hangup", "tts", "listen", "stop-listen"
	ProviderCallID string
	Text           string
}

// Adapter is the in-memory test double.
type Adapter struct {
	mu       sync.Mutex
	seq      int
	commands []Command
	fail     map[string]error // op -> scripted error

	// Coordinates flips CoordinatesInitialMessage, mimicking carriers that
	// deliver the queued answer message themselves.
	Coordinates bool
}

// New creates a mock adapter.
func New() *Adapter {
	return &Adapter{fail: make(map[string]error)}
}

// FailWith scripts op ("initiate", "hangup", "tts", "listen", "stop-listen")
// to return err. A nil err clears the script.
func (a *Adapter) FailWith(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.fail, op)
		return
	}
	a.fail[op] = err
}

// Commands returns a copy of every recorded operation in order.
func (a *Adapter) Commands() []Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Command, len(a.commands))
	copy(out, a.commands)
	return out
}

// LastCommand returns the most recent operation, or a zero Command.
func (a *Adapter) LastCommand() Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.commands) == 0 {
		return Command{}
	}
	return a.commands[len(a.commands)-1]
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "mock" }

// CoordinatesInitialMessage reports the scripted coordination mode.
func (a *Adapter) CoordinatesInitialMessage() bool { return a.Coordinates }

func (a *Adapter) record(op string, cmd Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail[op]; err != nil {
		return err
	}
	cmd.Op = op
	a.commands = append(a.commands, cmd)
	return nil
}

// InitiateCall hands out "mock-call-N" ids in sequence.
func (a *Adapter) InitiateCall(_ context.Context, params call.InitiateParams) (*call.InitiateResponse, error) {
	a.mu.Lock()
	if err := a.fail["initiate"]; err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.seq++
	id := fmt.Sprintf("mock-call-%d", a.seq)
	a.commands = append(a.commands, Command{Op: "initiate", ProviderCallID: id, Text: params.To})
	a.mu.Unlock()
	return &call.InitiateResponse{ProviderCallID: id, Status: "initiated"}, nil
}

func (a *Adapter) HangupCall(_ context.Context, providerCallID string) error {
	return a.record("hangup", Command{ProviderCallID: providerCallID})
}

func (a *Adapter) PlayTTS(_ context.Context, providerCallID, text string) error {
	return a.record("tts", Command{ProviderCallID: providerCallID, Text: text})
}

func (a *Adapter) StartListening(_ context.Context, providerCallID string) error {
	return a.record("listen", Command{ProviderCallID: providerCallID})
}

func (a *Adapter) StopListening(_ context.Context, providerCallID string) error {
	return a.record("stop-listen", Command{ProviderCallID: providerCallID})
}

// VerifyWebhook accepts everything.
func (a *Adapter) VerifyWebhook(context.Context, *webhook.Request) error { return nil }

// ParseWebhookEvent treats the form field "kind" as the event kind and passes
// the rest of the fields through, so tests can inject arbitrary events over
// the real HTTP surface.
func (a *Adapter) ParseWebhookEvent(_ context.Context, req *webhook.Request) (*provider.WebhookReply, error) {
	form := req.PostForm
	if form == nil || form.Get("kind") == "" {
		return nil, fmt.Errorf("mock: missing kind")
	}
	ev := call.Event{
		ID:             form.Get("id"),
		CallID:         form.Get("callId"),
		ProviderCallID: form.Get("providerCallId"),
		Kind:           call.EventKind(form.Get("kind")),
		Timestamp:      time.Now(),
		Direction:      call.Direction(form.Get("direction")),
		From:           form.Get("from"),
		To:             form.Get("to"),
		Transcript:     form.Get("transcript"),
		Digit:          form.Get("digit"),
		EndReason:      call.EndReason(form.Get("reason")),
	}
	if ev.Transcript != "" {
		ev.Final = true
	}
	if ev.ID == "" {
		ev.ID = provider.EventID(ev.ProviderCallID, string(ev.Kind), ev.Transcript, form.Get("seq"))
	}
	return provider.OK(ev), nil
}
