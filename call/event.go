package call

import "time"

// EventKind is the closed set of normalized event kinds a provider adapter
// may emit after parsing a carrier webhook.
type EventKind string

const (
	EventInitiated EventKind = "initiated"
	EventRinging   EventKind = "ringing"
	EventAnswered  EventKind = "answered"
	EventActive    EventKind = "active"
	EventSpeaking  EventKind = "speaking"
	EventSpeech    EventKind = "speech"
	EventSilence   EventKind = "silence"
	EventDTMF      EventKind = "dtmf"
	EventEnded     EventKind = "ended"
	EventFailure   EventKind = "error"
)

// Event is one normalized call event. Constructed by a provider adapter from
// a single webhook delivery, consumed exactly once by the Manager, and folded
// into the Record rather than persisted independently.
type Event struct {
	// ID dedupes deliveries. Carriers without native event ids get a
	// digest of the delivery body, so a redelivered webhook hashes to the
	// same id.
	ID string

	// CallID is the internal call id; empty until the Manager assigns one
	// for a fresh inbound call.
	CallID string

	// ProviderCallID is the carrier's id for the call.
	ProviderCallID string

	Kind      EventKind
	Timestamp time.Time

	// Direction, From, and To are set on call-creating events. Only an
	// inbound initiated event may create a new record.
	Direction Direction
	From      string
	To        string

	// Transcript payload for EventSpeech.
	Transcript string
	Final      bool
	Confidence float64

	// Digit payload for EventDTMF.
	Digit string

	// EndReason payload for EventEnded.
	EndReason EndReason

	// Retryable marks an EventFailure that does not end the call.
	Retryable bool
}

// stateFor maps pure state-progress events onto the state machine.
func (e *Event) stateFor() (State, bool) {
	switch e.Kind {
	case EventInitiated:
		return StateInitiated, true
	case EventRinging:
		return StateRinging, true
	case EventAnswered:
		return StateAnswered, true
	case EventActive:
		return StateActive, true
	case EventSpeaking:
		return StateSpeaking, true
	}
	return "", false
}
