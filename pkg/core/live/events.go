// Package live drives a full-duplex voice session with a remote realtime
// model: microphone frames go out, audio chunks, transcripts and tool calls
// come back.
package live

import (
	"context"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// ToolName is the only tool the realtime model may call.
const ToolName = "getFarmingAdvice"

// Event is one item of an inbound message. The set of implementations is
// closed; see the is* marker.
type Event interface {
	isEvent()
}

// AudioChunk is model speech.
type AudioChunk struct {
	Payload audio.Payload
}

// ToolCall asks the client to run a tool and answer with CallID.
type ToolCall struct {
	CallID string
	Name   string
	Args   map[string]any
}

// OutputTranscript is a delta of the model's spoken words.
type OutputTranscript struct {
	Text string
}

// InputTranscript is a delta of the user's recognized speech.
type InputTranscript struct {
	Text string
}

// Interrupted means the user barged in; queued model audio must be dropped.
type Interrupted struct{}

// TurnComplete closes the current turn.
type TurnComplete struct{}

func (AudioChunk) isEvent()       {}
func (ToolCall) isEvent()         {}
func (OutputTranscript) isEvent() {}
func (InputTranscript) isEvent()  {}
func (Interrupted) isEvent()      {}
func (TurnComplete) isEvent()     {}

// Message is one server message. Events keep the server's order.
type Message struct {
	Events []Event
}

// rank orders events within a message: audio, tool calls, output transcript,
// input transcript, then turn control.
func rank(ev Event) int {
	switch ev.(type) {
	case AudioChunk:
		return 0
	case ToolCall:
		return 1
	case OutputTranscript:
		return 2
	case InputTranscript:
		return 3
	case Interrupted:
		return 4
	case TurnComplete:
		return 5
	default:
		return 6
	}
}

// ToolResponse answers exactly one ToolCall.
type ToolResponse struct {
	CallID string
	Name   string
	Output string
}

// SessionConfig configures the remote session.
type SessionConfig struct {
	Language     i18n.Language
	Voice        string
	SystemPrompt string
}

// Transport opens realtime sessions.
type Transport interface {
	// Connect returns once the session is open.
	Connect(ctx context.Context, cfg SessionConfig) (Conn, error)
}

// Conn is an open realtime session.
type Conn interface {
	// Events is closed when the remote side closes or the read loop fails.
	Events() <-chan Message
	// Err is the terminal error after Events is closed; nil for a clean close.
	Err() error
	SendAudio(ctx context.Context, pcm []byte) error
	SendToolResponse(ctx context.Context, resp ToolResponse) error
	Close() error
}

// Capture opens the microphone.
type Capture interface {
	Open(ctx context.Context, f audio.Format, frameSamples int) (CaptureStream, error)
}

// CaptureStream yields fixed-size mono frames.
type CaptureStream interface {
	ReadFrame(ctx context.Context) ([]int16, error)
	Close() error
}

// ToolRunner runs the farming-advice tool and returns the spoken summary.
type ToolRunner interface {
	RunAdviceTool(ctx context.Context, location string) (string, error)
}
