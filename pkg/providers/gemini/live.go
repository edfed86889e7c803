package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/live"
)

const liveSystemPrompt = `You are a friendly farming advisor speaking with a farmer by voice.
When the farmer asks what to grow, when to sow, or about weather, soil or crop prices for a place,
call getFarmingAdvice with that place and then explain the result in plain words.
Keep answers short. Speak in %s.`

var adviceTool = &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{{
	Name:        live.ToolName,
	Description: "Analyze weather, soil and market conditions for a farming location and return a spoken summary.",
	Parameters: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"location": {Type: genai.TypeString, Description: "Village, district or region name."},
		},
		Required: []string{"location"},
	},
}}}

// Transport implements live.Transport on the Live API.
type Transport struct {
	c *Client
}

// Transport returns the realtime transport for this client.
func (c *Client) Transport() *Transport {
	return &Transport{c: c}
}

// Connect implements live.Transport. It returns once the session is set up.
func (t *Transport) Connect(ctx context.Context, cfg live.SessionConfig) (live.Conn, error) {
	if t.c.live == nil {
		return nil, errors.New("gemini: live API unavailable")
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = fmt.Sprintf(liveSystemPrompt, cfg.Language.Name())
	}
	voice := cfg.Voice
	if voice == "" {
		voice = t.c.voice
	}
	sess, err := t.c.live.Connect(ctx, t.c.liveModel, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice}},
		},
		SystemInstruction:        genai.NewContentFromText(system, genai.RoleUser),
		Tools:                    []*genai.Tool{adviceTool},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, classify(err)
	}
	return newConn(sess, t.c), nil
}

// session is the subset of *genai.Session a conn uses.
type session interface {
	SendRealtimeInput(genai.LiveRealtimeInput) error
	SendToolResponse(genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type conn struct {
	sess   session
	c      *Client
	events chan live.Message
	quit   chan struct{}

	sendMu sync.Mutex

	mu      sync.Mutex
	closing bool
	err     error
	once    sync.Once
}

func newConn(sess session, c *Client) *conn {
	cn := &conn{
		sess:   sess,
		c:      c,
		events: make(chan live.Message, 16),
		quit:   make(chan struct{}),
	}
	go cn.readLoop()
	return cn
}

func (cn *conn) readLoop() {
	defer close(cn.events)
	for {
		msg, err := cn.sess.Receive()
		if err != nil {
			cn.mu.Lock()
			if !cn.closing {
				cn.err = classify(err)
			}
			cn.mu.Unlock()
			return
		}
		if msg.GoAway != nil {
			cn.c.log.Info("live session going away", "time_left", msg.GoAway.TimeLeft)
		}
		out := translate(msg)
		if len(out.Events) == 0 {
			continue
		}
		select {
		case cn.events <- out:
		case <-cn.quit:
			return
		}
	}
}

// translate converts one server message into ordered events.
func translate(msg *genai.LiveServerMessage) live.Message {
	var out live.Message
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					continue
				}
				out.Events = append(out.Events, live.AudioChunk{Payload: audio.Payload{
					Format:   audio.Format{SampleRate: pcmRate(part.InlineData.MIMEType, audio.PlaybackFormat.SampleRate), Channels: 1},
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				}})
			}
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			out.Events = append(out.Events, live.OutputTranscript{Text: t.Text})
		}
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			out.Events = append(out.Events, live.InputTranscript{Text: t.Text})
		}
		if sc.Interrupted {
			out.Events = append(out.Events, live.Interrupted{})
		}
		if sc.TurnComplete {
			out.Events = append(out.Events, live.TurnComplete{})
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			out.Events = append(out.Events, live.ToolCall{CallID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	return out
}

func (cn *conn) Events() <-chan live.Message { return cn.events }

func (cn *conn) Err() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.err
}

func (cn *conn) SendAudio(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cn.sendMu.Lock()
	defer cn.sendMu.Unlock()
	return cn.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", audio.CaptureFormat.SampleRate)},
	})
}

func (cn *conn) SendToolResponse(ctx context.Context, resp live.ToolResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cn.sendMu.Lock()
	defer cn.sendMu.Unlock()
	return cn.sess.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       resp.CallID,
			Name:     resp.Name,
			Response: map[string]any{"output": resp.Output},
		}},
	})
}

func (cn *conn) Close() error {
	var err error
	cn.once.Do(func() {
		cn.mu.Lock()
		cn.closing = true
		cn.mu.Unlock()
		close(cn.quit)
		err = cn.sess.Close()
	})
	return err
}
