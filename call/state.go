// Package call owns the call ledger: one Record per call, the state machine
// that guards its transitions, the normalized event vocabulary carriers are
// translated into, and the append-only log the ledger recovers from.
package call

// State is a call lifecycle state. States partition into non-terminal
// progress states and terminal end states; once terminal a call never
// changes state again.
type State string

// Non-terminal states, in canonical progress order.
const (
	StateInitiated State = "initiated"
	StateRinging   State = "ringing"
	StateAnswered  State = "answered"
	StateActive    State = "active"
	StateSpeaking  State = "speaking"
	StateListening State = "listening"
)

// Terminal states.
const (
	StateCompleted  State = "completed"
	StateHangupUser State = "hangup-user"
	StateHangupBot  State = "hangup-bot"
	StateTimeout    State = "timeout"
	StateError      State = "error"
	StateFailed     State = "failed"
	StateNoAnswer   State = "no-answer"
	StateBusy       State = "busy"
	StateVoicemail  State = "voicemail"
)

// stateRank orders the non-terminal states. Webhooks may arrive duplicated or
// out of order; a transition that would rewind progress is refused.
var stateRank = map[State]int{
	StateInitiated: 0,
	StateRinging:   1,
	StateAnswered:  2,
	StateActive:    3,
	StateSpeaking:  4,
	StateListening: 5,
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	_, nonTerminal := stateRank[s]
	return !nonTerminal && s != ""
}

// Connected reports whether the call can carry audio in state s.
func (s State) Connected() bool {
	switch s {
	case StateAnswered, StateActive, StateSpeaking, StateListening:
		return true
	}
	return false
}

// Transition returns the state a call in cur moves to when next is requested.
//
// Rules: a same-state transition or any transition out of a terminal state is
// a no-op; a transition to a terminal state always applies; the two
// conversational states speaking and listening may oscillate freely; any other
// transition applies only when next ranks strictly later than cur in the
// canonical progress order.
func Transition(cur, next State) State {
	if cur == next || cur.Terminal() {
		return cur
	}
	if next.Terminal() {
		return next
	}
	if conversational(cur) && conversational(next) {
		return next
	}
	if stateRank[next] > stateRank[cur] {
		return next
	}
	return cur
}

func conversational(s State) bool {
	return s == StateSpeaking || s == StateListening
}

// Direction distinguishes who placed the call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// EndReason explains why a call ended, shared across carriers. Each adapter
// collapses its carrier's cause codes into this vocabulary.
type EndReason string

const (
	EndCompleted  EndReason = "completed"
	EndHangupUser EndReason = "hangup-user"
	EndHangupBot  EndReason = "hangup-bot"
	EndTimeout    EndReason = "timeout"
	EndError      EndReason = "error"
	EndFailed     EndReason = "failed"
	EndNoAnswer   EndReason = "no-answer"
	EndBusy       EndReason = "busy"
	EndVoicemail  EndReason = "voicemail"
)

// TerminalState maps an end reason to the terminal state it implies.
func (r EndReason) TerminalState() State {
	switch r {
	case EndCompleted:
		return StateCompleted
	case EndHangupUser:
		return StateHangupUser
	case EndHangupBot:
		return StateHangupBot
	case EndTimeout:
		return StateTimeout
	case EndFailed:
		return StateFailed
	case EndNoAnswer:
		return StateNoAnswer
	case EndBusy:
		return StateBusy
	case EndVoicemail:
		return StateVoicemail
	default:
		return StateError
	}
}
