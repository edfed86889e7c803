package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// Client command types.
const (
	CmdRequestAdvice = "request_advice"
	CmdCancelAdvice  = "cancel_advice"
	CmdStartVoice    = "start_voice"
	CmdStopVoice     = "stop_voice"
	CmdPlaySummary   = "play_summary"
	CmdStopSummary   = "stop_summary"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Command is one decoded client frame. Only the fields its Type uses are set.
type Command struct {
	Type     string        `json:"type"`
	ID       string        `json:"id,omitempty"`
	Location string        `json:"location,omitempty"`
	Language i18n.Language `json:"language,omitempty"`
	Target   advice.Target `json:"target,omitempty"`
}

// DecodeCommand parses and validates a client text frame.
func DecodeCommand(data []byte) (Command, error) {
	var raw struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		Location string `json:"location"`
		Language string `json:"language"`
		Target   string `json:"target"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, badRequest("invalid json frame", "")
	}
	cmd := Command{Type: strings.TrimSpace(raw.Type), ID: strings.TrimSpace(raw.ID)}
	if cmd.Type == "" {
		return cmd, badRequest("missing type", "type")
	}
	if len(cmd.ID) > 64 {
		return cmd, badRequest("id is longer than 64 bytes", "id")
	}

	switch cmd.Type {
	case CmdRequestAdvice:
		cmd.Location = strings.TrimSpace(raw.Location)
		if cmd.Location == "" {
			return cmd, badRequest("request_advice.location is required", "location")
		}
		if raw.Language != "" {
			lang, ok := i18n.Parse(raw.Language)
			if !ok {
				return cmd, &DecodeError{Code: "unsupported", Message: "unsupported language", Param: "language"}
			}
			cmd.Language = lang
		}
	case CmdPlaySummary:
		target, ok := advice.ParseTarget(raw.Target)
		if !ok {
			return cmd, badRequest("play_summary.target must be one of weather|soil|market|planner", "target")
		}
		cmd.Target = target
	case CmdCancelAdvice, CmdStartVoice, CmdStopVoice, CmdStopSummary:
	default:
		return cmd, &DecodeError{Code: "unsupported", Message: "unknown command type", Param: "type"}
	}
	return cmd, nil
}

// Server frame types.
const (
	FrameState   = "state"
	FrameAck     = "ack"
	FrameError   = "error"
	FrameWarning = "warning"
)

type StateFrame struct {
	Type  string    `json:"type"`
	Seq   uint64    `json:"seq"`
	State app.State `json:"state"`
}

// AckFrame confirms a command completed. RequestID is set for request_advice.
type AckFrame struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorFrame struct {
	Type    string      `json:"type"`
	Command string      `json:"command,omitempty"`
	ID      string      `json:"id,omitempty"`
	Error   *core.Error `json:"error"`
}

type WarningFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
