package call

import "time"

// Mode selects how a call behaves once connected.
type Mode string

const (
	// ModeConversation keeps the call open for turn-taking.
	ModeConversation Mode = "conversation"

	// ModeNotify speaks the initial message and hangs up after a short delay.
	ModeNotify Mode = "notify"
)

// Speaker tags a transcript entry.
type Speaker string

const (
	SpeakerBot  Speaker = "bot"
	SpeakerUser Speaker = "user"
)

// TranscriptEntry is one utterance in a call's ordered transcript.
type TranscriptEntry struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
	Final   bool      `json:"final"`
}

// Metadata carries per-call behavior that is not lifecycle state.
type Metadata struct {
	// InitialMessage is spoken once the call connects.
	InitialMessage string `json:"initialMessage,omitempty"`

	// Mode is the call's response mode.
	Mode Mode `json:"mode,omitempty"`
}

// Record is the unit of truth for one call. It is exclusively owned by the
// Manager; everything else reads copies through the Manager's accessors.
//
// Invariant: EndedAt and EndReason are set if and only if State is terminal.
type Record struct {
	// ID is the internal call id, stable for the call's lifetime.
	ID string `json:"id"`

	// ProviderCallID is the carrier-assigned id. Some carriers issue a
	// provisional id first and reassign a final one mid-call.
	ProviderCallID string `json:"providerCallId,omitempty"`

	Provider  string    `json:"provider"`
	Direction Direction `json:"direction"`
	State     State     `json:"state"`
	From      string    `json:"from"`
	To        string    `json:"to"`

	// SessionKey links the call to an external conversation, if any.
	SessionKey string `json:"sessionKey,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	EndReason  EndReason  `json:"endReason,omitempty"`

	Transcript []TranscriptEntry `json:"transcript,omitempty"`

	// ProcessedEvents dedupes webhook deliveries by event id.
	ProcessedEvents map[string]bool `json:"processedEvents,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// Clone returns a deep copy safe to hand outside the Manager.
func (r *Record) Clone() *Record {
	cp := *r
	if r.AnsweredAt != nil {
		t := *r.AnsweredAt
		cp.AnsweredAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	cp.Transcript = make([]TranscriptEntry, len(r.Transcript))
	copy(cp.Transcript, r.Transcript)
	cp.ProcessedEvents = make(map[string]bool, len(r.ProcessedEvents))
	for id := range r.ProcessedEvents {
		cp.ProcessedEvents[id] = true
	}
	return &cp
}

// markEnded sets the terminal bookkeeping in one place so the
// EndedAt/EndReason invariant cannot be half-applied.
func (r *Record) markEnded(reason EndReason, at time.Time) {
	r.State = Transition(r.State, reason.TerminalState())
	if r.State.Terminal() && r.EndedAt == nil {
		r.EndedAt = &at
		r.EndReason = reason
	}
}
