package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/gateway/apierror"
)

var errSessionClosed = errors.New("stream: session closed")

// Advisor is the part of app.Advisor a stream session drives.
type Advisor interface {
	RequestAdvice(ctx context.Context, location string, opts ...app.RequestOption) (string, error)
	CancelAdvice()
	StartVoice(ctx context.Context) error
	StopVoice(ctx context.Context) error
	PlaySummary(ctx context.Context, target advice.Target) error
	StopSummary()
	Subscribe() (<-chan app.State, func())
}

type Config struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// CommandTimeout bounds one blocking command such as start_voice.
	CommandTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 16 << 10
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	return c
}

type wsConn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session is one /v1/stream connection. It pushes every advisor State and
// runs client commands in arrival order.
type Session struct {
	id   string
	conn wsConn
	adv  Advisor
	cfg  Config
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	priority chan []byte
	commands chan Command

	closeOnce sync.Once
	closed    chan struct{}
	seq       uint64
}

func NewSession(ctx context.Context, id string, conn wsConn, adv Advisor, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:       id,
		conn:     conn,
		adv:      adv,
		cfg:      cfg.withDefaults(),
		log:      logger.With("session_id", id),
		ctx:      ctx,
		cancel:   cancel,
		priority: make(chan []byte, 16),
		commands: make(chan Command, 8),
		closed:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Cancel closes the session; Run returns shortly after.
func (s *Session) Cancel() {
	if s != nil {
		s.cancel()
	}
}

// SendWarning queues a warning frame ahead of any state frame.
func (s *Session) SendWarning(code, message string) error {
	return s.sendPriority(WarningFrame{Type: FrameWarning, Code: code, Message: message})
}

func (s *Session) sendPriority(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	select {
	case s.priority <- data:
		return nil
	case <-s.closed:
		return errSessionClosed
	default:
		return errors.New("stream: outbound queue full")
	}
}

// Run serves the connection until the client leaves, the session is
// cancelled, or the advisor closes.
func (s *Session) Run() error {
	defer s.closeOnce.Do(func() { close(s.closed) })
	defer s.cancel()

	states, unsubscribe := s.adv.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		defer s.cancel()
		return s.readLoop(ctx)
	})
	g.Go(func() error {
		return s.commandLoop(ctx)
	})
	g.Go(func() error {
		defer s.cancel()
		return s.writeLoop(ctx, states)
	})
	return g.Wait()
}

func (s *Session) readLoop(ctx context.Context) error {
	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	readWindow := 3 * s.cfg.PingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(readWindow))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWindow))
		if typ != websocket.TextMessage {
			_ = s.sendError(Command{}, &core.Error{Type: core.ErrInvalidRequest, Message: "binary frames are not supported", Code: "bad_request"})
			continue
		}

		cmd, err := DecodeCommand(data)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				_ = s.sendError(cmd, &core.Error{Type: core.ErrInvalidRequest, Message: de.Message, Param: de.Param, Code: de.Code})
			}
			continue
		}
		select {
		case s.commands <- cmd:
		default:
			_ = s.sendError(cmd, &core.Error{Type: core.ErrOverloaded, Message: "too many pending commands", Code: "busy"})
		}
	}
}

func (s *Session) commandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			s.execute(ctx, cmd)
		}
	}
}

func (s *Session) execute(ctx context.Context, cmd Command) {
	ack := AckFrame{Type: FrameAck, Command: cmd.Type, ID: cmd.ID}
	var err error
	switch cmd.Type {
	case CmdRequestAdvice:
		var opts []app.RequestOption
		if cmd.Language != "" {
			opts = append(opts, app.WithLanguage(cmd.Language))
		}
		ack.RequestID, err = s.adv.RequestAdvice(ctx, cmd.Location, opts...)
	case CmdCancelAdvice:
		s.adv.CancelAdvice()
	case CmdStartVoice:
		// The voice session outlives this stream connection.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommandTimeout)
		err = s.adv.StartVoice(cctx)
		cancel()
	case CmdStopVoice:
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		err = s.adv.StopVoice(cctx)
		cancel()
	case CmdPlaySummary:
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		err = s.adv.PlaySummary(cctx, cmd.Target)
		cancel()
	case CmdStopSummary:
		s.adv.StopSummary()
	}

	if err != nil {
		s.log.Debug("stream command failed", "command", cmd.Type, "error", err)
		ce, _ := apierror.FromError(err, "")
		_ = s.sendError(cmd, ce)
		return
	}
	_ = s.sendPriority(ack)
}

func (s *Session) sendError(cmd Command, ce *core.Error) error {
	return s.sendPriority(ErrorFrame{Type: FrameError, Command: cmd.Type, ID: cmd.ID, Error: ce})
}

func (s *Session) writeLoop(ctx context.Context, states <-chan app.State) error {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		// Queued acks, errors and warnings go out before the next state.
		select {
		case data := <-s.priority:
			if err := s.write(data); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			s.shutdown("")
			return nil
		case <-pingTicker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return err
			}
		case data := <-s.priority:
			if err := s.write(data); err != nil {
				return err
			}
		case st, ok := <-states:
			if !ok {
				s.log.Debug("advisor closed; ending stream")
				s.shutdown("advisor closed")
				return nil
			}
			s.seq++
			data, err := json.Marshal(StateFrame{Type: FrameState, Seq: s.seq, State: st})
			if err != nil {
				return err
			}
			if err := s.write(data); err != nil {
				return err
			}
		}
	}
}

// shutdown flushes pending priority frames, then closes the connection.
func (s *Session) shutdown(reason string) {
	s.closeOnce.Do(func() { close(s.closed) })
	deadline := time.Now().Add(100 * time.Millisecond)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case data := <-s.priority:
			_ = s.write(data)
			continue
		default:
		}
		break
	}
	code := websocket.CloseNormalClosure
	if reason != "" {
		code = websocket.CloseGoingAway
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(s.cfg.WriteTimeout))
	_ = s.conn.Close()
}

func (s *Session) write(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
