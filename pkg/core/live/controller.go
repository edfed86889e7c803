package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// State is the session lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = Disconnected
	case "connecting":
		*s = Connecting
	case "open":
		*s = Open
	case "closing":
		*s = Closing
	default:
		return fmt.Errorf("live: unknown state %q", text)
	}
	return nil
}

var (
	ErrAlreadyActive = errors.New("live: session already active")
	ErrStopped       = errors.New("live: session stopped while connecting")
	ErrRemoteClosed  = errors.New("live: remote closed the session")
)

// TransportError is a failure of the realtime connection or the microphone.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("live %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Observer receives tool call outcomes. metrics.Metrics implements it.
type Observer interface {
	ObserveToolCall(outcome string)
}

// DefaultFrameSamples is 20 ms at 16 kHz.
const DefaultFrameSamples = 320

type Dependencies struct {
	Transport Transport
	Capture   Capture
	Tools     ToolRunner
	Output    audio.Output
	Config    SessionConfig
	Logger    *slog.Logger
	Observer  Observer
	// FrameSamples is the capture frame size; zero means DefaultFrameSamples.
	FrameSamples int
	// OnChange is called after every visible change, outside the lock.
	OnChange func()
}

// Snapshot is the observable session state.
type Snapshot struct {
	State         State   `json:"state"`
	Speaking      bool    `json:"speaking"`
	Recording     bool    `json:"recording"`
	InputLevel    float64 `json:"input_level"`
	Transcript    []Entry `json:"transcript"`
	PartialInput  string  `json:"partial_input,omitempty"`
	PartialOutput string  `json:"partial_output,omitempty"`
}

// Controller owns one realtime session at a time.
type Controller struct {
	transport    Transport
	capture      Capture
	tools        ToolRunner
	cfg          SessionConfig
	log          *slog.Logger
	observer     Observer
	frameSamples int
	onChange     func()
	sched        *audio.Scheduler

	wg sync.WaitGroup

	mu         sync.Mutex
	state      State
	session    uint64
	cancel     context.CancelFunc
	done       chan struct{}
	conn       Conn
	stream     CaptureStream
	recording  bool
	level      float64
	transcript []Entry
	partialIn  string
	partialOut string
	toolGen    uint64
	toolCancel context.CancelFunc
}

func New(deps Dependencies) (*Controller, error) {
	if deps.Transport == nil {
		return nil, errors.New("live: missing transport")
	}
	if deps.Capture == nil {
		return nil, errors.New("live: missing capture")
	}
	if deps.Tools == nil {
		return nil, errors.New("live: missing tool runner")
	}
	if deps.Output == nil {
		return nil, errors.New("live: missing audio output")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FrameSamples <= 0 {
		deps.FrameSamples = DefaultFrameSamples
	}
	if !deps.Config.Language.Supported() {
		deps.Config.Language = i18n.English
	}
	c := &Controller{
		transport:    deps.Transport,
		capture:      deps.Capture,
		tools:        deps.Tools,
		cfg:          deps.Config,
		log:          deps.Logger,
		observer:     deps.Observer,
		frameSamples: deps.FrameSamples,
		onChange:     deps.OnChange,
	}
	c.sched = audio.NewScheduler(deps.Output, func(bool) { c.changed() })
	return c, nil
}

// Start opens the microphone and the remote session, then runs the sender
// and receiver loops until Stop or a transport failure. ctx bounds only the
// connection attempt.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.session++
	sess := c.session
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.state = Connecting
	c.cancel = cancel
	c.done = make(chan struct{})
	c.transcript = nil
	c.partialIn, c.partialOut = "", ""
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()
	c.changed()

	stream, conn, err := c.connect(ctx, sessCtx)
	if err != nil {
		c.log.Warn("live session failed to open", "error", err)
		cancel()
		c.mu.Lock()
		// A concurrent Stop owns the teardown once it has moved us to Closing.
		owned := c.session == sess && c.state == Connecting
		done := c.done
		if owned {
			c.state = Disconnected
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
		if owned {
			close(done)
			c.changed()
		}
		return err
	}

	c.mu.Lock()
	if c.session != sess || c.state != Connecting {
		c.mu.Unlock()
		_ = conn.Close()
		_ = stream.Close()
		return ErrStopped
	}
	c.state = Open
	c.conn = conn
	c.stream = stream
	c.recording = true
	c.wg.Add(2)
	c.mu.Unlock()

	go c.sendLoop(sessCtx, sess, stream, conn)
	go c.receiveLoop(sessCtx, sess, conn)

	c.log.Info("live session open", "language", string(c.cfg.Language))
	c.changed()
	return nil
}

func (c *Controller) connect(ctx, sessCtx context.Context) (CaptureStream, Conn, error) {
	stream, err := c.capture.Open(sessCtx, audio.CaptureFormat, c.frameSamples)
	if err != nil {
		return nil, nil, &TransportError{Op: "capture", Err: err}
	}
	connectCtx, stop := context.WithCancel(sessCtx)
	defer stop()
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-connectCtx.Done():
		}
	}()
	conn, err := c.transport.Connect(connectCtx, c.cfg)
	if err != nil {
		_ = stream.Close()
		return nil, nil, &TransportError{Op: "connect", Err: err}
	}
	return stream, conn, nil
}

// Stop ends the session and waits until it is disconnected. It is a no-op
// when nothing is running.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess, done := c.session, c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	go c.teardown(sess, false)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail ends the session after a transport failure. It must not block the
// loop that observed the failure.
func (c *Controller) fail(sess uint64, err error) {
	c.log.Warn("live session ended", "error", err)
	go c.teardown(sess, true)
}

// teardown ends session sess. Only the first caller for a session does the
// work; later callers return immediately.
func (c *Controller) teardown(sess uint64, remote bool) {
	c.mu.Lock()
	if c.session != sess || c.state == Disconnected || c.state == Closing {
		c.mu.Unlock()
		return
	}
	c.state = Closing
	conn, stream := c.conn, c.stream
	cancel, toolCancel := c.cancel, c.toolCancel
	done := c.done
	c.recording = false
	c.mu.Unlock()
	c.changed()

	if cancel != nil {
		cancel()
	}
	if toolCancel != nil {
		toolCancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Debug("live close", "error", err)
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.log.Debug("capture close", "error", err)
		}
	}
	c.sched.Reset()
	c.wg.Wait()

	c.mu.Lock()
	c.state = Disconnected
	c.conn, c.stream = nil, nil
	c.cancel, c.toolCancel = nil, nil
	c.done = nil
	c.level = 0
	c.partialIn, c.partialOut = "", ""
	c.mu.Unlock()
	close(done)

	c.log.Info("live session closed", "remote", remote)
	c.changed()
}

func (c *Controller) sendLoop(ctx context.Context, sess uint64, stream CaptureStream, conn Conn) {
	defer c.wg.Done()
	for {
		frame, err := stream.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.fail(sess, &TransportError{Op: "capture", Err: err})
			}
			return
		}
		c.mu.Lock()
		c.level = audio.Level(frame)
		c.mu.Unlock()
		if err := conn.SendAudio(ctx, audio.EncodeFrame(frame)); err != nil {
			if ctx.Err() == nil {
				c.fail(sess, &TransportError{Op: "send", Err: err})
			}
			return
		}
	}
}

func (c *Controller) receiveLoop(ctx context.Context, sess uint64, conn Conn) {
	defer c.wg.Done()
	for msg := range conn.Events() {
		if ctx.Err() != nil {
			continue
		}
		c.handle(ctx, conn, msg)
	}
	if ctx.Err() != nil {
		return
	}
	err := conn.Err()
	if err == nil {
		err = ErrRemoteClosed
	}
	c.fail(sess, &TransportError{Op: "receive", Err: err})
}

func (c *Controller) handle(ctx context.Context, conn Conn, msg Message) {
	events := slices.Clone(msg.Events)
	slices.SortStableFunc(events, func(a, b Event) int { return rank(a) - rank(b) })

	transcriptChanged := false
	for _, ev := range events {
		switch ev := ev.(type) {
		case AudioChunk:
			c.playChunk(ev)
		case ToolCall:
			c.handleToolCall(ctx, conn, ev)
		case OutputTranscript:
			c.mu.Lock()
			c.transcript = AppendDelta(c.transcript, RoleAssistant, ev.Text)
			c.partialOut += ev.Text
			c.mu.Unlock()
			transcriptChanged = true
		case InputTranscript:
			c.mu.Lock()
			c.transcript = AppendDelta(c.transcript, RoleUser, ev.Text)
			c.partialIn += ev.Text
			c.mu.Unlock()
			transcriptChanged = true
		case Interrupted:
			c.sched.Reset()
			c.mu.Lock()
			c.partialOut = ""
			c.mu.Unlock()
			transcriptChanged = true
		case TurnComplete:
			c.mu.Lock()
			c.partialIn, c.partialOut = "", ""
			c.mu.Unlock()
			transcriptChanged = true
		default:
			c.log.Warn("live: unhandled event", "type", fmt.Sprintf("%T", ev))
		}
	}
	if transcriptChanged {
		c.changed()
	}
}

func (c *Controller) playChunk(ev AudioChunk) {
	buf, err := audio.Decode(ev.Payload)
	if err != nil {
		c.log.Warn("live: dropping audio chunk", "error", err)
		return
	}
	if _, err := c.sched.Schedule(buf); err != nil {
		c.log.Warn("live: schedule audio", "error", err)
	}
}

func (c *Controller) handleToolCall(ctx context.Context, conn Conn, call ToolCall) {
	lang := c.cfg.Language
	location, _ := call.Args["location"].(string)
	location = strings.TrimSpace(location)
	if call.Name != ToolName || location == "" {
		c.log.Warn("live: rejecting tool call", "name", call.Name, "call_id", call.CallID)
		c.respond(ctx, conn, call, lang.Text(i18n.KeyToolApology), "rejected")
		return
	}

	toolCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.transcript = append(slices.Clone(c.transcript), Entry{Role: RoleSystem, Text: lang.Text(i18n.KeyAnalyzing, location)})
	c.toolGen++
	gen := c.toolGen
	prev := c.toolCancel
	c.toolCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()
	c.changed()
	if prev != nil {
		prev()
	}

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			if c.toolGen == gen {
				c.toolCancel = nil
			}
			c.mu.Unlock()
			cancel()
		}()

		summary, err := c.tools.RunAdviceTool(toolCtx, location)
		summary = strings.TrimSpace(summary)
		switch {
		case err != nil:
			c.log.Warn("live: advice tool failed", "call_id", call.CallID, "location", location, "error", err)
			c.respond(ctx, conn, call, lang.Text(i18n.KeyToolApology), "error")
		case summary == "":
			c.respond(ctx, conn, call, lang.Text(i18n.KeyToolApology), "empty")
		default:
			c.respond(ctx, conn, call, summary, "ok")
		}
	}()
}

func (c *Controller) respond(ctx context.Context, conn Conn, call ToolCall, output, outcome string) {
	if c.observer != nil {
		c.observer.ObserveToolCall(outcome)
	}
	err := conn.SendToolResponse(ctx, ToolResponse{CallID: call.CallID, Name: call.Name, Output: output})
	if err != nil && ctx.Err() == nil {
		c.log.Warn("live: send tool response", "call_id", call.CallID, "error", err)
	}
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	speaking := c.sched.Speaking()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:         c.state,
		Speaking:      speaking,
		Recording:     c.recording,
		InputLevel:    c.level,
		Transcript:    slices.Clone(c.transcript),
		PartialInput:  c.partialIn,
		PartialOutput: c.partialOut,
	}
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
