package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

type fakeConn struct {
	in   chan Message
	out  chan Message
	quit chan struct{}
	once sync.Once

	mu        sync.Mutex
	err       error
	audio     [][]byte
	responses []ToolResponse
	closed    bool
}

func newFakeConn() *fakeConn {
	c := &fakeConn{in: make(chan Message), out: make(chan Message), quit: make(chan struct{})}
	go func() {
		defer close(c.out)
		for {
			select {
			case m := <-c.in:
				select {
				case c.out <- m:
				case <-c.quit:
					return
				}
			case <-c.quit:
				return
			}
		}
	}()
	return c
}

func (c *fakeConn) Events() <-chan Message { return c.out }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, pcm)
	return nil
}

func (c *fakeConn) SendToolResponse(_ context.Context, resp ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.quit) })
	return nil
}

func (c *fakeConn) remoteClose(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.quit) })
}

func (c *fakeConn) push(t *testing.T, events ...Event) {
	t.Helper()
	select {
	case c.in <- Message{Events: events}:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not reading")
	}
}

func (c *fakeConn) sent() []ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolResponse(nil), c.responses...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	conn *fakeConn
	err  error
}

func (t *fakeTransport) Connect(context.Context, SessionConfig) (Conn, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.conn, nil
}

type fakeStream struct {
	frames chan []int16
	quit   chan struct{}
	once   sync.Once
}

func (s *fakeStream) ReadFrame(ctx context.Context) ([]int16, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.quit:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.quit) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

type fakeCapture struct{ stream *fakeStream }

func (c *fakeCapture) Open(context.Context, audio.Format, int) (CaptureStream, error) {
	return c.stream, nil
}

type toolFunc func(ctx context.Context, location string) (string, error)

func (f toolFunc) RunAdviceTool(ctx context.Context, location string) (string, error) {
	return f(ctx, location)
}

type harness struct {
	ctrl   *Controller
	conn   *fakeConn
	stream *fakeStream
	tl     *audio.Timeline
}

func newHarness(t *testing.T, tools toolFunc) *harness {
	t.Helper()
	h := &harness{
		conn:   newFakeConn(),
		stream: &fakeStream{frames: make(chan []int16, 8), quit: make(chan struct{})},
		tl:     audio.NewTimeline(audio.PlaybackFormat),
	}
	if tools == nil {
		tools = func(context.Context, string) (string, error) { return "Plant millet next week.", nil }
	}
	ctrl, err := New(Dependencies{
		Transport: &fakeTransport{conn: h.conn},
		Capture:   &fakeCapture{stream: h.stream},
		Tools:     tools,
		Output:    h.tl,
		Config:    SessionConfig{Language: i18n.English},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Stop(ctx)
	})
	return h
}

func waitResponses(t *testing.T, c *fakeConn, n int) []ToolResponse {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.sent()) >= n }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	return c.sent()
}

func TestToolCallSuccessSendsOneResponse(t *testing.T) {
	var got string
	h := newHarness(t, func(_ context.Context, location string) (string, error) {
		got = location
		return "Plant sorghum before the rains.", nil
	})

	h.conn.push(t, ToolCall{CallID: "call-1", Name: ToolName, Args: map[string]any{"location": "Napa Valley"}})

	resp := waitResponses(t, h.conn, 1)
	require.Len(t, resp, 1)
	assert.Equal(t, ToolResponse{CallID: "call-1", Name: ToolName, Output: "Plant sorghum before the rains."}, resp[0])
	assert.Equal(t, "Napa Valley", got)

	snap := h.ctrl.Snapshot()
	require.NotEmpty(t, snap.Transcript)
	assert.Equal(t, Entry{Role: RoleSystem, Text: "Now analyzing farming conditions for Napa Valley..."}, snap.Transcript[0])
}

func TestToolCallFailureSendsApology(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (string, error) {
		return "", errors.New("soil service down")
	})

	h.conn.push(t, ToolCall{CallID: "call-9", Name: ToolName, Args: map[string]any{"location": "Pune"}})

	resp := waitResponses(t, h.conn, 1)
	require.Len(t, resp, 1)
	assert.Equal(t, "call-9", resp[0].CallID)
	assert.Equal(t, i18n.English.Text(i18n.KeyToolApology), resp[0].Output)
}

func TestSupersededToolCallStillAnswered(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, location string) (string, error) {
		if location == "first" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "second summary", nil
	})

	h.conn.push(t, ToolCall{CallID: "a", Name: ToolName, Args: map[string]any{"location": "first"}})
	h.conn.push(t, ToolCall{CallID: "b", Name: ToolName, Args: map[string]any{"location": "second"}})

	resp := waitResponses(t, h.conn, 2)
	require.Len(t, resp, 2)
	byID := map[string]string{}
	for _, r := range resp {
		_, dup := byID[r.CallID]
		require.False(t, dup, "duplicate response for %s", r.CallID)
		byID[r.CallID] = r.Output
	}
	assert.Equal(t, i18n.English.Text(i18n.KeyToolApology), byID["a"])
	assert.Equal(t, "second summary", byID["b"])
}

func TestUnknownToolGetsApology(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (string, error) {
		t.Error("tool runner must not run")
		return "", nil
	})

	h.conn.push(t, ToolCall{CallID: "x", Name: "launchRocket", Args: map[string]any{"location": "Mars"}})
	h.conn.push(t, ToolCall{CallID: "y", Name: ToolName, Args: map[string]any{}})

	resp := waitResponses(t, h.conn, 2)
	require.Len(t, resp, 2)
	for _, r := range resp {
		assert.Equal(t, i18n.English.Text(i18n.KeyToolApology), r.Output)
	}
}

func TestStartWhileActiveRejected(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, Open, h.ctrl.State())
	assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrAlreadyActive)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Stop(ctx))
	require.NoError(t, h.ctrl.Stop(ctx))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Disconnected, snap.State)
	assert.False(t, snap.Recording)
	assert.False(t, snap.Speaking)
	assert.True(t, h.conn.isClosed())
	assert.True(t, h.stream.isClosed())
}

func TestRemoteCloseEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.remoteClose(errors.New("socket reset"))

	require.Eventually(t, func() bool { return h.ctrl.State() == Disconnected }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.ctrl.Snapshot().Recording)
	assert.True(t, h.stream.isClosed())
	assert.NoError(t, h.ctrl.Stop(context.Background()))
}

func TestCaptureFramesAreSent(t *testing.T) {
	h := newHarness(t, nil)
	h.stream.frames <- []int16{1, -1}

	require.Eventually(t, func() bool {
		h.conn.mu.Lock()
		defer h.conn.mu.Unlock()
		return len(h.conn.audio) == 1
	}, 2*time.Second, 5*time.Millisecond)
	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	assert.Equal(t, []byte{0x01, 0x00, 0xFF, 0xFF}, h.conn.audio[0])
}

func TestAudioChunksDriveSpeaking(t *testing.T) {
	h := newHarness(t, nil)
	chunk := AudioChunk{Payload: audio.Payload{Format: audio.PlaybackFormat, Data: make([]byte, 4800)}}

	h.conn.push(t, chunk)
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Speaking }, 2*time.Second, 5*time.Millisecond)

	h.conn.push(t, Interrupted{})
	require.Eventually(t, func() bool { return !h.ctrl.Snapshot().Speaking }, 2*time.Second, 5*time.Millisecond)
}

func TestTranscriptOrderWithinMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.push(t, InputTranscript{Text: "what should I plant"}, OutputTranscript{Text: "Let me check."})
	h.conn.push(t, TurnComplete{})

	require.Eventually(t, func() bool { return len(h.ctrl.Snapshot().Transcript) == 2 }, 2*time.Second, 5*time.Millisecond)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, RoleAssistant, snap.Transcript[0].Role)
	assert.Equal(t, RoleUser, snap.Transcript[1].Role)
	require.Eventually(t, func() bool {
		s := h.ctrl.Snapshot()
		return s.PartialInput == "" && s.PartialOutput == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectFailure(t *testing.T) {
	stream := &fakeStream{frames: make(chan []int16), quit: make(chan struct{})}
	ctrl, err := New(Dependencies{
		Transport: &fakeTransport{err: errors.New("401 unauthorized")},
		Capture:   &fakeCapture{stream: stream},
		Tools:     toolFunc(func(context.Context, string) (string, error) { return "", nil }),
		Output:    audio.NewTimeline(audio.PlaybackFormat),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	err = ctrl.Start(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connect", te.Op)
	assert.Equal(t, Disconnected, ctrl.State())
	assert.True(t, stream.isClosed())
	assert.NoError(t, ctrl.Stop(context.Background()))
}

func TestAppendDelta(t *testing.T) {
	var entries []Entry
	entries = AppendDelta(entries, RoleUser, "hello ")
	entries = AppendDelta(entries, RoleUser, "there")
	entries = AppendDelta(entries, RoleAssistant, "Hi")
	entries = AppendDelta(entries, RoleAssistant, "")
	assert.Equal(t, []Entry{{RoleUser, "hello there"}, {RoleAssistant, "Hi"}}, entries)

	before := []Entry{{RoleUser, "a"}}
	after := AppendDelta(before, RoleUser, "b")
	assert.Equal(t, "a", before[0].Text, "input is not modified")
	assert.Equal(t, "ab", after[0].Text)
}
