package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownCall       = errors.New("call: unknown call")
	ErrCallEnded         = errors.New("call: call already ended")
	ErrCallNotConnected  = errors.New("call: call not connected")
	ErrTranscriptTimeout = errors.New("call: timed out waiting for transcript")
	ErrWaitSuperseded    = errors.New("call: transcript wait superseded")
)

// InboundPolicy decides what happens when an unknown caller rings in.
type InboundPolicy string

const (
	// PolicyDisabled rejects every inbound call.
	PolicyDisabled InboundPolicy = "disabled"

	// PolicyOpen accepts every inbound call.
	PolicyOpen InboundPolicy = "open"

	// PolicyAllowlist accepts callers whose digit-only number exactly
	// matches a configured entry.
	PolicyAllowlist InboundPolicy = "allowlist"

	// PolicyPairing accepts callers paired at runtime via PairNumber.
	PolicyPairing InboundPolicy = "pairing"
)

// Config configures a Manager.
type Config struct {
	// WebhookBaseURL is the externally reachable base URL carriers call
	// back to. Required before any call can be placed.
	WebhookBaseURL string

	// FromNumber is the default caller id for outbound calls.
	FromNumber string

	// MaxConcurrent caps simultaneously active calls. Default 1.
	MaxConcurrent int

	// MaxDuration is the call-wide ceiling; a call still running when it
	// elapses is ended with reason timeout. Default 5 minutes.
	MaxDuration time.Duration

	// TranscriptTimeout bounds how long ContinueCall waits for a final
	// transcript. Default 30 seconds.
	TranscriptTimeout time.Duration

	// PostSpeechDelay is how long a notify-mode call stays up after its
	// initial message finishes before the bot hangs up. Default 3 seconds.
	PostSpeechDelay time.Duration

	InboundPolicy InboundPolicy
	Allowlist     []string

	// StreamAuth, when set, is called once a call is answered to issue its
	// media-stream auth token; StreamRevoke runs when the call ends.
	// Both receive the carrier call id, since stream markup and sessions
	// are addressed by it.
	StreamAuth   func(providerCallID string) string
	StreamRevoke func(providerCallID string)
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 5 * time.Minute
	}
	if c.TranscriptTimeout <= 0 {
		c.TranscriptTimeout = 30 * time.Second
	}
	if c.PostSpeechDelay <= 0 {
		c.PostSpeechDelay = 3 * time.Second
	}
	if c.InboundPolicy == "" {
		c.InboundPolicy = PolicyDisabled
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithLog sets the append-only call log used for persistence and recovery.
func WithLog(log *Log) Option {
	return func(m *Manager) { m.log = log }
}

const historyCap = 200

// Manager is the call ledger and state machine. It exclusively owns every
// Record; all maps are keyed by call id so calls never share mutable state.
type Manager struct {
	adapter Adapter
	cfg     Config
	log     *Log
	logger  *zap.Logger

	mu         sync.Mutex
	active     map[string]*Record
	byProvider map[string]string // provider call id -> internal call id
	timers     map[string]*time.Timer
	waiters    map[string]chan string
	paired     map[string]bool
	history    []*Record // ended calls, oldest first
}

// NewManager creates a Manager driving calls through adapter.
func NewManager(adapter Adapter, cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		adapter:    adapter,
		cfg:        cfg,
		logger:     zap.NewNop(),
		active:     make(map[string]*Record),
		byProvider: make(map[string]string),
		timers:     make(map[string]*time.Timer),
		waiters:    make(map[string]chan string),
		paired:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover replays the persisted log. Non-terminal records are reloaded into
// the active set and provider map with their processed-event ids intact, so
// webhooks redelivered across a restart cannot double-apply; terminal records
// go to history.
func (m *Manager) Recover() error {
	if m.log == nil {
		return nil
	}
	records, err := m.log.Replay()
	if err != nil {
		return fmt.Errorf("recover call log: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if rec.ProcessedEvents == nil {
			rec.ProcessedEvents = make(map[string]bool)
		}
		if rec.State.Terminal() {
			m.pushHistoryLocked(rec)
			continue
		}
		m.active[rec.ID] = rec
		if rec.ProviderCallID != "" {
			m.byProvider[rec.ProviderCallID] = rec.ID
		}
		m.startDurationTimerLocked(rec.ID)
		m.logger.Info("recovered active call",
			zap.String("callId", rec.ID),
			zap.String("state", string(rec.State)))
	}
	return nil
}

// InitiateOptions shape an outbound call.
type InitiateOptions struct {
	SessionKey string
	Message    string
	Mode       Mode
	From       string // overrides Config.FromNumber
}

// InitiateResult is the plain success/error shape returned across the
// call-control boundary.
type InitiateResult struct {
	CallID  string `json:"callId,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func initiateFailure(reason string) InitiateResult {
	return InitiateResult{Success: false, Error: reason}
}

// InitiateCall places an outbound call. Failures are reported in the result,
// never as a panic or error across the boundary.
func (m *Manager) InitiateCall(ctx context.Context, to string, opts InitiateOptions) InitiateResult {
	if m.adapter == nil {
		return initiateFailure("provider not initialized")
	}
	if m.cfg.WebhookBaseURL == "" {
		return initiateFailure("webhook base URL not configured")
	}
	from := opts.From
	if from == "" {
		from = m.cfg.FromNumber
	}
	if from == "" {
		return initiateFailure("no from number configured")
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeConversation
	}

	rec := &Record{
		ID:              uuid.NewString(),
		Provider:        m.adapter.Name(),
		Direction:       DirectionOutbound,
		State:           StateInitiated,
		From:            from,
		To:              to,
		SessionKey:      opts.SessionKey,
		StartedAt:       time.Now(),
		ProcessedEvents: make(map[string]bool),
		Metadata:        Metadata{InitialMessage: opts.Message, Mode: mode},
	}

	m.mu.Lock()
	if len(m.active) >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return initiateFailure("concurrent call limit reached")
	}
	m.active[rec.ID] = rec
	m.persistLocked(rec)
	m.mu.Unlock()

	resp, err := m.adapter.InitiateCall(ctx, InitiateParams{
		CallID:         rec.ID,
		To:             to,
		From:           from,
		WebhookBaseURL: m.cfg.WebhookBaseURL,
		SessionKey:     opts.SessionKey,
		InitialMessage: opts.Message,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// Do not leave a dangling record: mark failed and evict.
		rec.markEnded(EndFailed, time.Now())
		delete(m.active, rec.ID)
		m.pushHistoryLocked(rec)
		m.persistLocked(rec)
		m.logger.Warn("call initiation failed",
			zap.String("callId", rec.ID),
			zap.Error(err))
		return initiateFailure(fmt.Sprintf("provider error: %v", err))
	}

	rec.ProviderCallID = resp.ProviderCallID
	if resp.ProviderCallID != "" {
		m.byProvider[resp.ProviderCallID] = rec.ID
	}
	m.persistLocked(rec)
	m.logger.Info("call initiated",
		zap.String("callId", rec.ID),
		zap.String("providerCallId", resp.ProviderCallID),
		zap.String("to", to))
	return InitiateResult{CallID: rec.ID, Success: true}
}

// Speak transitions the call to speaking, records the utterance, and delegates
// audio delivery to the adapter.
func (m *Manager) Speak(ctx context.Context, callID, text string) error {
	m.mu.Lock()
	rec, ok := m.active[callID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownCall
	}
	if rec.State.Terminal() {
		m.mu.Unlock()
		return ErrCallEnded
	}
	if !rec.State.Connected() {
		m.mu.Unlock()
		return ErrCallNotConnected
	}
	rec.State = Transition(rec.State, StateSpeaking)
	rec.Transcript = append(rec.Transcript, TranscriptEntry{
		Speaker: SpeakerBot, Text: text, Time: time.Now(), Final: true,
	})
	providerCallID := rec.ProviderCallID
	m.persistLocked(rec)
	m.mu.Unlock()

	if err := m.adapter.PlayTTS(ctx, providerCallID, text); err != nil {
		return fmt.Errorf("play tts: %w", err)
	}
	return nil
}

// ContinueCall speaks prompt, starts listening, and waits for one final
// transcript. Speech capture is always stopped afterward, even on error.
func (m *Manager) ContinueCall(ctx context.Context, callID, prompt string) (string, error) {
	if err := m.Speak(ctx, callID, prompt); err != nil {
		return "", err
	}

	m.mu.Lock()
	rec, ok := m.active[callID]
	if !ok {
		m.mu.Unlock()
		return "", ErrUnknownCall
	}
	rec.State = Transition(rec.State, StateListening)
	providerCallID := rec.ProviderCallID
	waiter := m.newWaiterLocked(callID)
	m.persistLocked(rec)
	m.mu.Unlock()

	if err := m.adapter.StartListening(ctx, providerCallID); err != nil {
		m.clearWaiter(callID)
		return "", fmt.Errorf("start listening: %w", err)
	}
	defer func() {
		if err := m.adapter.StopListening(context.WithoutCancel(ctx), providerCallID); err != nil {
			m.logger.Warn("stop listening failed", zap.String("callId", callID), zap.Error(err))
		}
	}()

	timer := time.NewTimer(m.cfg.TranscriptTimeout)
	defer timer.Stop()

	select {
	case text, open := <-waiter:
		if !open {
			return "", ErrWaitSuperseded
		}
		return text, nil
	case <-timer.C:
		m.clearWaiter(callID)
		return "", ErrTranscriptTimeout
	case <-ctx.Done():
		m.clearWaiter(callID)
		return "", ctx.Err()
	}
}

// EndCall hangs up the call and finalizes its record. Ending a call that is
// already gone is success.
func (m *Manager) EndCall(ctx context.Context, callID string) error {
	return m.endWithReason(ctx, callID, EndHangupBot)
}

func (m *Manager) endWithReason(ctx context.Context, callID string, reason EndReason) error {
	m.mu.Lock()
	rec, ok := m.active[callID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	providerCallID := rec.ProviderCallID
	m.mu.Unlock()

	var hangupErr error
	if providerCallID != "" {
		if err := m.adapter.HangupCall(ctx, providerCallID); err != nil {
			m.logger.Warn("hangup failed, finalizing locally",
				zap.String("callId", callID), zap.Error(err))
			hangupErr = fmt.Errorf("hangup call: %w", err)
		}
	}

	m.mu.Lock()
	if rec, ok := m.active[callID]; ok {
		m.finalizeLocked(rec, reason, time.Now())
	}
	m.mu.Unlock()
	return hangupErr
}

// ProcessEvent folds one normalized carrier event into the ledger. Duplicate
// event ids are silently absorbed. This is the only write path for inbound
// call state.
func (m *Manager) ProcessEvent(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	m.mu.Lock()
	rec := m.lookupLocked(ev)
	if rec == nil {
		if ev.Kind == EventInitiated && ev.Direction == DirectionInbound {
			m.admitInboundLocked(ctx, ev)
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		m.logger.Debug("event for unknown call dropped",
			zap.String("eventId", ev.ID),
			zap.String("providerCallId", ev.ProviderCallID),
			zap.String("kind", string(ev.Kind)))
		return nil
	}

	if ev.ID != "" && rec.ProcessedEvents[ev.ID] {
		m.mu.Unlock()
		return nil
	}

	m.remapProviderIDLocked(rec, ev.ProviderCallID)
	if ev.ID != "" {
		rec.ProcessedEvents[ev.ID] = true
	}

	m.dispatchLocked(ctx, rec, ev)

	// Persist unconditionally so the log is a complete audit trail, even
	// when the event changed nothing.
	m.persistLocked(rec)
	m.mu.Unlock()
	return nil
}

// lookupLocked resolves an event's record by internal id first, then by
// provider call id.
func (m *Manager) lookupLocked(ev Event) *Record {
	if ev.CallID != "" {
		if rec, ok := m.active[ev.CallID]; ok {
			return rec
		}
	}
	if ev.ProviderCallID != "" {
		if id, ok := m.byProvider[ev.ProviderCallID]; ok {
			return m.active[id]
		}
	}
	return nil
}

// remapProviderIDLocked repoints the provider-id mapping when a carrier
// reassigns a provisional id. The old mapping is removed only if it still
// points at this call, so a concurrent reassignment is never clobbered.
func (m *Manager) remapProviderIDLocked(rec *Record, providerCallID string) {
	if providerCallID == "" || providerCallID == rec.ProviderCallID {
		return
	}
	if old := rec.ProviderCallID; old != "" {
		if m.byProvider[old] == rec.ID {
			delete(m.byProvider, old)
		}
	}
	rec.ProviderCallID = providerCallID
	m.byProvider[providerCallID] = rec.ID
	m.logger.Info("provider call id reassigned",
		zap.String("callId", rec.ID),
		zap.String("providerCallId", providerCallID))
}

// admitInboundLocked applies the inbound policy to a fresh inbound call and
// either creates its record or triggers the reject-and-hangup path.
func (m *Manager) admitInboundLocked(ctx context.Context, ev Event) *Record {
	if !m.inboundAllowedLocked(ev.From) {
		m.logger.Info("inbound call rejected by policy",
			zap.String("from", ev.From),
			zap.String("policy", string(m.cfg.InboundPolicy)))
		m.hangupRejected(ctx, ev.ProviderCallID)
		return nil
	}
	if len(m.active) >= m.cfg.MaxConcurrent {
		m.logger.Info("inbound call rejected: concurrent call limit reached",
			zap.String("from", ev.From))
		m.hangupRejected(ctx, ev.ProviderCallID)
		return nil
	}

	rec := &Record{
		ID:              uuid.NewString(),
		ProviderCallID:  ev.ProviderCallID,
		Provider:        m.adapter.Name(),
		Direction:       DirectionInbound,
		State:           StateInitiated,
		From:            ev.From,
		To:              ev.To,
		StartedAt:       ev.Timestamp,
		ProcessedEvents: map[string]bool{},
	}
	if ev.ID != "" {
		rec.ProcessedEvents[ev.ID] = true
	}
	m.active[rec.ID] = rec
	if ev.ProviderCallID != "" {
		m.byProvider[ev.ProviderCallID] = rec.ID
	}
	m.persistLocked(rec)
	m.logger.Info("inbound call accepted",
		zap.String("callId", rec.ID),
		zap.String("from", ev.From))
	return rec
}

// hangupRejected ends the carrier leg of a refused inbound call so the caller
// is not left on dead air.
func (m *Manager) hangupRejected(ctx context.Context, providerCallID string) {
	if providerCallID == "" {
		return
	}
	go func() {
		if err := m.adapter.HangupCall(context.WithoutCancel(ctx), providerCallID); err != nil {
			m.logger.Warn("reject hangup failed", zap.Error(err))
		}
	}()
}

func (m *Manager) inboundAllowedLocked(from string) bool {
	switch m.cfg.InboundPolicy {
	case PolicyOpen:
		return true
	case PolicyAllowlist:
		caller := normalizeDigits(from)
		if caller == "" {
			return false
		}
		for _, entry := range m.cfg.Allowlist {
			if normalizeDigits(entry) == caller {
				return true
			}
		}
		return false
	case PolicyPairing:
		return m.paired[normalizeDigits(from)]
	default:
		return false
	}
}

func (m *Manager) dispatchLocked(ctx context.Context, rec *Record, ev Event) {
	if st, ok := ev.stateFor(); ok {
		prev := rec.State
		rec.State = Transition(prev, st)
		if ev.Kind == EventAnswered && rec.AnsweredAt == nil && rec.State.Connected() {
			now := ev.Timestamp
			rec.AnsweredAt = &now
			m.startDurationTimerLocked(rec.ID)
			if m.cfg.StreamAuth != nil && rec.ProviderCallID != "" {
				m.cfg.StreamAuth(rec.ProviderCallID)
			}
			if rec.Metadata.InitialMessage != "" {
				if m.adapter.CoordinatesInitialMessage() {
					// The carrier speaks the queued message itself; for
					// notify mode only the auto-end remains ours.
					if rec.Metadata.Mode == ModeNotify {
						delay := m.cfg.PostSpeechDelay + speechEstimate(rec.Metadata.InitialMessage)
						callID := rec.ID
						time.AfterFunc(delay, func() {
							if err := m.EndCall(context.Background(), callID); err != nil {
								m.logger.Warn("notify auto-end failed",
									zap.String("callId", callID), zap.Error(err))
							}
						})
					}
				} else {
					go m.deliverInitialMessage(rec.ID, rec.Metadata.InitialMessage, rec.Metadata.Mode)
				}
			}
		}
		if prev != rec.State {
			m.logger.Info("call state changed",
				zap.String("callId", rec.ID),
				zap.String("from", string(prev)),
				zap.String("to", string(rec.State)))
		}
		return
	}

	switch ev.Kind {
	case EventSpeech:
		if !ev.Final {
			return
		}
		rec.Transcript = append(rec.Transcript, TranscriptEntry{
			Speaker: SpeakerUser, Text: ev.Transcript, Time: ev.Timestamp, Final: true,
		})
		m.resolveWaiterLocked(rec.ID, ev.Transcript)
		rec.State = Transition(rec.State, StateListening)

	case EventSilence:
		m.logger.Debug("silence detected", zap.String("callId", rec.ID))

	case EventDTMF:
		m.logger.Info("dtmf received",
			zap.String("callId", rec.ID),
			zap.String("digit", ev.Digit))

	case EventEnded:
		reason := ev.EndReason
		if reason == "" {
			reason = EndCompleted
		}
		m.finalizeLocked(rec, reason, ev.Timestamp)

	case EventFailure:
		if ev.Retryable {
			m.logger.Warn("retryable provider error",
				zap.String("callId", rec.ID))
			return
		}
		m.finalizeLocked(rec, EndError, ev.Timestamp)
	}
}

// deliverInitialMessage speaks the queued message once the call connects and,
// in notify mode, hangs up after the post-speech delay.
func (m *Manager) deliverInitialMessage(callID, message string, mode Mode) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Speak(ctx, callID, message); err != nil {
		m.logger.Warn("initial message failed",
			zap.String("callId", callID), zap.Error(err))
		return
	}
	if mode == ModeNotify {
		time.AfterFunc(m.cfg.PostSpeechDelay, func() {
			if err := m.EndCall(context.Background(), callID); err != nil {
				m.logger.Warn("notify auto-end failed",
					zap.String("callId", callID), zap.Error(err))
			}
		})
	}
}

// finalizeLocked applies terminal bookkeeping exactly once: end metadata,
// timer and waiter teardown, eviction from the active set and provider map.
func (m *Manager) finalizeLocked(rec *Record, reason EndReason, at time.Time) {
	rec.markEnded(reason, at)
	m.stopDurationTimerLocked(rec.ID)
	m.closeWaiterLocked(rec.ID)
	delete(m.active, rec.ID)
	if rec.ProviderCallID != "" && m.byProvider[rec.ProviderCallID] == rec.ID {
		delete(m.byProvider, rec.ProviderCallID)
	}
	m.pushHistoryLocked(rec)
	m.persistLocked(rec)
	if m.cfg.StreamRevoke != nil && rec.ProviderCallID != "" {
		m.cfg.StreamRevoke(rec.ProviderCallID)
	}
	m.logger.Info("call ended",
		zap.String("callId", rec.ID),
		zap.String("reason", string(reason)))
}

// startDurationTimerLocked arms the max-duration timer, clearing any prior
// one for the call first.
func (m *Manager) startDurationTimerLocked(callID string) {
	m.stopDurationTimerLocked(callID)
	m.timers[callID] = time.AfterFunc(m.cfg.MaxDuration, func() {
		if err := m.endWithReason(context.Background(), callID, EndTimeout); err != nil {
			m.logger.Warn("timeout hangup failed",
				zap.String("callId", callID), zap.Error(err))
		}
	})
}

func (m *Manager) stopDurationTimerLocked(callID string) {
	if t, ok := m.timers[callID]; ok {
		t.Stop()
		delete(m.timers, callID)
	}
}

// newWaiterLocked registers a transcript waiter, superseding any prior one
// for the call.
func (m *Manager) newWaiterLocked(callID string) chan string {
	m.closeWaiterLocked(callID)
	ch := make(chan string, 1)
	m.waiters[callID] = ch
	return ch
}

func (m *Manager) closeWaiterLocked(callID string) {
	if ch, ok := m.waiters[callID]; ok {
		close(ch)
		delete(m.waiters, callID)
	}
}

func (m *Manager) clearWaiter(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.waiters[callID]; ok {
		delete(m.waiters, callID)
		close(ch)
	}
}

func (m *Manager) resolveWaiterLocked(callID, text string) {
	ch, ok := m.waiters[callID]
	if !ok {
		return
	}
	delete(m.waiters, callID)
	ch <- text
}

func (m *Manager) pushHistoryLocked(rec *Record) {
	m.history = append(m.history, rec)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

func (m *Manager) persistLocked(rec *Record) {
	if m.log == nil {
		return
	}
	if err := m.log.Append(rec); err != nil {
		m.logger.Warn("persist call record failed",
			zap.String("callId", rec.ID), zap.Error(err))
	}
}

// PairNumber admits a caller under the pairing policy.
func (m *Manager) PairNumber(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paired[normalizeDigits(number)] = true
}

// UnpairNumber removes a paired caller.
func (m *Manager) UnpairNumber(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.paired, normalizeDigits(number))
}

// GetCall returns a copy of the call record, from the active set or history.
func (m *Manager) GetCall(callID string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.active[callID]; ok {
		return rec.Clone(), true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == callID {
			return m.history[i].Clone(), true
		}
	}
	return nil, false
}

// ActiveCalls returns copies of all non-terminal call records.
func (m *Manager) ActiveCalls() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.active))
	for _, rec := range m.active {
		out = append(out, rec.Clone())
	}
	return out
}

// CallHistory returns copies of up to limit recently ended calls, most
// recent first.
func (m *Manager) CallHistory(limit int) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]*Record, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i].Clone())
	}
	return out
}

// Close stops all timers and releases waiters. Active calls are left in the
// log for recovery.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	for id := range m.waiters {
		m.closeWaiterLocked(id)
	}
}

// speechEstimate approximates how long the carrier needs to speak text, for
// carriers whose playback completion is not webhooked.
func speechEstimate(text string) time.Duration {
	d := time.Duration(len(text)) * 70 * time.Millisecond
	if d < 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func normalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
