// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice model that accepts audio input and
// returns synthesised audio output in a single, stateful, bidirectional
// session. Examples include the Gemini Live API.
//
// Providers carry audio as transport frames ([audio.EncodedFrame]): the
// outbound chain in package audio produces them and the inbound chain decodes
// them, so a provider never touches PCM samples itself.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"time"

	"github.com/knearme/livevoice/pkg/audio"
)

// Role identifies the speaker of a [Transcript].
type Role string

const (
	// RoleUser marks speech recognised from the captured audio.
	RoleUser Role = "user"

	// RoleModel marks text produced by the model alongside its audio.
	RoleModel Role = "model"
)

// Transcript is a piece of text emitted by a session.
type Transcript struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Instructions is the system-level prompt for the assistant.
	Instructions string

	// ManualActivity disables the provider's automatic voice-activity
	// detection. Set it for push-to-talk capture, where the caller marks the
	// end of each utterance with [SessionHandle.EndAudio].
	ManualActivity bool
}

// Capabilities describes static properties of the S2S provider.
// The values are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputSampleRate is the PCM rate the provider expects from the caller.
	InputSampleRate int

	// OutputSampleRate is the PCM rate the provider replies at when its
	// frames carry no rate hint.
	OutputSampleRate int

	// MaxSessionDuration is the hard upper bound on session lifetime imposed by
	// the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice names the provider offers.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// The session sits on the audio hot path; every method must return quickly.
// Audio I/O is channel-based to avoid blocking the caller's audio thread.
// All methods must be safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one encoded PCM chunk to the provider. The frame's
	// MIME type must describe the rate reported by [Capabilities.InputSampleRate].
	// Returns an error if the session is closed or the write fails.
	SendAudio(frame audio.EncodedFrame) error

	// EndAudio tells the provider the current utterance is complete. Used in
	// push-to-talk mode when the talk button is released.
	EndAudio() error

	// SendText sends a complete user text turn.
	SendText(text string) error

	// Audio returns a read-only channel that emits the model's encoded audio
	// frames in arrival order. The channel is closed when the session ends or
	// when a mid-stream error occurs; call [SessionHandle.Err] afterwards.
	// Consumers must drain this channel promptly to prevent backpressure from
	// stalling the provider's receive loop.
	Audio() <-chan audio.EncodedFrame

	// Transcripts returns a read-only channel that emits recognised user
	// speech and model text. The channel is closed when the session ends.
	Transcripts() <-chan Transcript

	// Err returns the error that caused the Audio channel to close prematurely,
	// or nil if the session ended cleanly.
	Err() error

	// OnError registers a callback for non-fatal errors reported by the
	// provider. Passing nil clears the handler.
	OnError(handler func(error))

	// Close terminates the session, releases all resources, and closes the Audio and
	// Transcripts channels. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open at the same time.
type Provider interface {
	// Connect establishes a new S2S session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (e.g., authentication
	// failure or ctx already cancelled). The caller owns the SessionHandle and
	// is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's model.
	Capabilities() Capabilities
}
