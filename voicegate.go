// Package voicegate is a multi-provider voice-telephony gateway.
//
// VoiceGate places and receives phone calls through interchangeable carrier
// backends and bridges live call audio to speech-to-text and text-to-speech
// engines for conversational use:
//   - call.Manager: call ledger, state machine, crash-recoverable event log
//   - provider: carrier adapters (Telnyx, Twilio, Plivo, mock)
//   - webhook: per-provider webhook authentication
//   - stream.Bridge: bidirectional media streaming over WebSocket
//   - audio: G.711 mu-law and sample-rate conversion
//
// # Installation
//
//	go get github.com/agentplexus/voicegate
//
// # Quick Start
//
//	import (
//	    "github.com/agentplexus/voicegate/call"
//	    "github.com/agentplexus/voicegate/provider/telnyx"
//	)
//
//	adapter, _ := telnyx.New(telnyx.WithAPIKey(key))
//	mgr := call.NewManager(adapter, call.Config{WebhookBaseURL: base, FromNumber: from})
package voicegate

// Version is the SDK version.
const Version = "0.1.0"

// Provider names used to select a carrier backend.
const (
	ProviderTelnyx = "telnyx"
	ProviderTwilio = "twilio"
	ProviderPlivo  = "plivo"
	ProviderMock   = "mock"
)

// Audio format constants for carrier media streams.
const (
	// AudioEncodingMulaw is the μ-law encoding (8-bit, 8kHz).
	AudioEncodingMulaw = "audio/x-mulaw"

	// AudioEncodingPCM is the PCM encoding (16-bit, 8kHz).
	AudioEncodingPCM = "audio/x-l16"

	// TelephonySampleRate is the sample rate carriers expect (8kHz).
	TelephonySampleRate = 8000

	// FrameBytes is the μ-law payload size of one 20ms media frame at 8kHz.
	FrameBytes = 160
)
