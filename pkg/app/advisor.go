// Package app wires the orchestrator, the narration player and the voice
// session into one Advisor with a single observable State.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
	"github.com/vango-go/agrivoice/pkg/core/live"
	"github.com/vango-go/agrivoice/pkg/core/orchestrator"
	"github.com/vango-go/agrivoice/pkg/core/phase"
	"github.com/vango-go/agrivoice/pkg/core/playback"
	"github.com/vango-go/agrivoice/pkg/metrics"
)

var (
	ErrNoReport             = errors.New("app: no advice report yet")
	ErrVoiceUnavailable     = errors.New("app: voice sessions are not configured")
	ErrNarrationUnavailable = errors.New("app: narration is not configured")
	ErrClosed               = errors.New("app: advisor closed")
)

type Config struct {
	Language     i18n.Language
	Orchestrator orchestrator.Config
	Voice        live.SessionConfig
	// FrameSamples is the microphone frame size; zero uses the live default.
	FrameSamples int
}

type Dependencies struct {
	Service orchestrator.DataService
	// Narrator, Transport and Capture are optional; the matching features
	// report unavailable when they are nil.
	Narrator  playback.Narrator
	Transport live.Transport
	Capture   live.Capture
	Output    audio.Output
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Config    Config
	NewID     func() string
}

// State is everything a client renders.
type State struct {
	Location  string          `json:"location,omitempty"`
	Language  i18n.Language   `json:"language"`
	RequestID string          `json:"request_id,omitempty"`
	Busy      bool            `json:"busy"`
	Phases    phase.Snapshot  `json:"phases"`
	Playback  []playback.Slot `json:"playback"`
	Voice     live.Snapshot   `json:"voice"`
	Alert     *advice.Alert   `json:"alert,omitempty"`
	Report    *advice.Report  `json:"report,omitempty"`
	Banner    string          `json:"error,omitempty"`
	Features  map[string]bool `json:"features"`
}

// requestScope is the one live advice request.
type requestScope struct {
	id       string
	cancel   context.CancelFunc
	epoch    phase.Epoch
	location string
	lang     i18n.Language
	started  time.Time
	done     chan struct{}
	report   *advice.Report
	err      error
}

// Advisor is safe for concurrent use.
type Advisor struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config
	newID    func() string
	tracker  *phase.Tracker
	engine   *orchestrator.Engine
	playback *playback.Controller
	voice    *live.Controller

	base     context.Context
	stopBase context.CancelFunc
	dirty    chan struct{}
	fanout   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	scope    *requestScope
	location string
	lang     i18n.Language
	report   *advice.Report
	alert    *advice.Alert
	banner   string

	voiceOpened   time.Time
	voiceStopping bool

	subsMu  sync.Mutex
	subs    map[uint64]chan State
	nextSub uint64
}

func New(deps Dependencies) (*Advisor, error) {
	if deps.Service == nil {
		return nil, errors.New("app: missing data service")
	}
	if deps.Output == nil && (deps.Narrator != nil || deps.Transport != nil) {
		return nil, errors.New("app: narration and voice need an audio output")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if !deps.Config.Language.Supported() {
		deps.Config.Language = i18n.English
	}
	if deps.Config.Voice.Language == "" {
		deps.Config.Voice.Language = deps.Config.Language
	}

	a := &Advisor{
		log:     deps.Logger,
		metrics: deps.Metrics,
		cfg:     deps.Config,
		newID:   deps.NewID,
		lang:    deps.Config.Language,
		dirty:   make(chan struct{}, 1),
		subs:    make(map[uint64]chan State),
	}
	a.base, a.stopBase = context.WithCancel(context.Background())
	a.tracker = phase.NewTracker(func(phase.Snapshot) { a.changed() })

	engine, err := orchestrator.New(orchestrator.Dependencies{
		Service:  deps.Service,
		Tracker:  a.tracker,
		Logger:   deps.Logger,
		Observer: deps.Metrics,
		Config:   deps.Config.Orchestrator,
	})
	if err != nil {
		return nil, err
	}
	a.engine = engine

	if deps.Narrator != nil {
		a.playback, err = playback.New(playback.Dependencies{
			Narrator: deps.Narrator,
			Output:   deps.Output,
			Logger:   deps.Logger.With("component", "playback"),
			Observer: deps.Metrics,
			OnChange: a.changed,
		})
		if err != nil {
			return nil, err
		}
	}
	if deps.Transport != nil {
		if deps.Capture == nil {
			return nil, errors.New("app: voice transport configured without capture")
		}
		a.voice, err = live.New(live.Dependencies{
			Transport:    deps.Transport,
			Capture:      deps.Capture,
			Tools:        a,
			Output:       deps.Output,
			Config:       deps.Config.Voice,
			FrameSamples: deps.Config.FrameSamples,
			Logger:       deps.Logger.With("component", "live"),
			Observer:     deps.Metrics,
			OnChange:     a.voiceChanged,
		})
		if err != nil {
			return nil, err
		}
	}

	a.fanout.Add(1)
	go a.runFanout()
	return a, nil
}

// RequestOption customizes one advice request.
type RequestOption func(*requestScope)

// WithLanguage overrides the advisor's default language for one request.
// Later requests without the option use the default again.
func WithLanguage(lang i18n.Language) RequestOption {
	return func(s *requestScope) {
		if lang != "" {
			s.lang = lang
		}
	}
}

// RequestAdvice starts an advice request for location, cancelling any
// request in flight, and returns its id. The request runs in the background.
func (a *Advisor) RequestAdvice(ctx context.Context, location string, opts ...RequestOption) (string, error) {
	scope, err := a.start(ctx, location, opts...)
	if err != nil {
		return "", err
	}
	return scope.id, nil
}

func (a *Advisor) start(ctx context.Context, location string, opts ...RequestOption) (*requestScope, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: location is required", orchestrator.ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	scope := &requestScope{
		id:       a.newID(),
		location: location,
		lang:     a.lang,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(scope)
	}
	if !scope.lang.Supported() {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: unsupported language %q", orchestrator.ErrInvalidRequest, scope.lang)
	}
	if prev := a.scope; prev != nil {
		prev.cancel()
	}
	var runCtx context.Context
	runCtx, scope.cancel = context.WithCancel(a.base)
	scope.epoch = a.tracker.Reset()
	a.scope = scope
	a.location = location
	a.report, a.alert, a.banner = nil, nil, ""
	a.mu.Unlock()

	if a.playback != nil {
		a.playback.Stop()
	}
	go a.run(runCtx, scope)
	a.changed()
	return scope, nil
}

func (a *Advisor) run(ctx context.Context, scope *requestScope) {
	defer scope.cancel()
	report, err := a.engine.Run(ctx, scope.epoch, orchestrator.Request{
		ID:       scope.id,
		Location: scope.location,
		Language: scope.lang,
		OnAlert:  func(al advice.Alert) { a.setAlert(scope, al) },
	})

	outcome := "ok"
	a.mu.Lock()
	current := a.scope == scope
	switch {
	case orchestrator.IsCancelled(err) || (err == nil && !current):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
		if current {
			a.banner = banner(err, scope.lang)
		}
	default:
		a.report = report
		alert := report.Alert
		a.alert = &alert
	}
	scope.report, scope.err = report, err
	if !current && scope.err == nil {
		scope.err = orchestrator.ErrCancelled
	}
	close(scope.done)
	a.mu.Unlock()

	a.metrics.RecordAdvice(outcome, time.Since(scope.started))
	a.changed()
}

func (a *Advisor) setAlert(scope *requestScope, al advice.Alert) {
	a.mu.Lock()
	if a.scope != scope {
		a.mu.Unlock()
		return
	}
	a.alert = &al
	a.mu.Unlock()
	a.changed()
}

func banner(err error, lang i18n.Language) string {
	var fe *orchestrator.FetchError
	var se *orchestrator.SynthesisError
	switch {
	case errors.As(err, &fe):
		return lang.Text(i18n.KeyFetchFailed, string(fe.Pipeline))
	case errors.As(err, &se):
		return lang.Text(i18n.KeySynthesisFailed)
	default:
		return lang.Text(i18n.KeyFetchFailed, "advice")
	}
}

// CancelAdvice cancels the request in flight, resets every phase to idle, and
// clears the alert, report and error banner.
func (a *Advisor) CancelAdvice() {
	a.mu.Lock()
	scope := a.scope
	a.scope = nil
	if scope != nil {
		scope.cancel()
	}
	a.tracker.Reset()
	a.report, a.alert, a.banner = nil, nil, ""
	a.mu.Unlock()

	if a.playback != nil {
		a.playback.Stop()
	}
	a.changed()
}

// RunAdviceTool implements live.ToolRunner: it starts a request, superseding
// any in flight, and waits for its outcome.
func (a *Advisor) RunAdviceTool(ctx context.Context, location string) (string, error) {
	scope, err := a.start(ctx, location)
	if err != nil {
		return "", err
	}
	select {
	case <-scope.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if scope.err != nil {
		return "", scope.err
	}
	summary := strings.TrimSpace(scope.report.Advice.Summary)
	if scope.report.Alert.Severe() {
		summary = strings.TrimSpace(scope.report.Alert.Message + " " + summary)
	}
	return summary, nil
}

// StartVoice opens a realtime voice session.
func (a *Advisor) StartVoice(ctx context.Context) error {
	if a.voice == nil {
		return ErrVoiceUnavailable
	}
	a.mu.Lock()
	closed := a.closed
	a.voiceStopping = false
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return a.voice.Start(ctx)
}

// StopVoice ends the voice session; it is a no-op when none is open.
func (a *Advisor) StopVoice(ctx context.Context) error {
	if a.voice == nil {
		return nil
	}
	a.mu.Lock()
	a.voiceStopping = true
	a.mu.Unlock()
	return a.voice.Stop(ctx)
}

func (a *Advisor) voiceChanged() {
	st := a.voice.State()
	a.mu.Lock()
	var opened, ended bool
	var d time.Duration
	status := "failed"
	switch {
	case st == live.Open && a.voiceOpened.IsZero():
		a.voiceOpened = time.Now()
		opened = true
	case st == live.Disconnected && !a.voiceOpened.IsZero():
		d = time.Since(a.voiceOpened)
		a.voiceOpened = time.Time{}
		if a.voiceStopping {
			status = "stopped"
		}
		ended = true
	}
	a.mu.Unlock()

	if opened {
		a.metrics.RecordLiveSessionStart()
	}
	if ended {
		a.metrics.RecordLiveSessionEnd(status, d)
	}
	a.changed()
}

// PlaySummary narrates one section of the current report.
func (a *Advisor) PlaySummary(ctx context.Context, target advice.Target) error {
	if a.playback == nil {
		return ErrNarrationUnavailable
	}
	a.mu.Lock()
	report, lang := a.report, a.lang
	a.mu.Unlock()
	if report == nil {
		return ErrNoReport
	}
	if report.Language.Supported() {
		lang = report.Language
	}
	return a.playback.Play(ctx, target, advice.NarrationText(report, target), lang)
}

// StopSummary silences narration.
func (a *Advisor) StopSummary() {
	if a.playback != nil {
		a.playback.Stop()
	}
}

// Snapshot returns the current State. Phases, Report and Banner are read
// together; Playback and Voice are read just before and may lead them.
func (a *Advisor) Snapshot() State {
	s := State{
		Features: map[string]bool{
			"narration": a.playback != nil,
			"voice":     a.voice != nil,
		},
	}
	if a.playback != nil {
		s.Playback = a.playback.Snapshot()
	}
	if a.voice != nil {
		s.Voice = a.voice.Snapshot()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s.Phases = a.tracker.Snapshot()
	s.Location = a.location
	s.Language = a.lang
	s.Report = a.report
	s.Alert = a.alert
	s.Banner = a.banner
	if a.scope != nil {
		s.Language = a.scope.lang
		s.RequestID = a.scope.id
		select {
		case <-a.scope.done:
		default:
			s.Busy = true
		}
	}
	return s
}

// Subscribe returns a feed of States. The feed holds at most one pending
// State; slow readers see only the latest. cancel must be called to release
// the feed.
func (a *Advisor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	ch <- a.Snapshot()

	a.subsMu.Lock()
	if a.subs == nil {
		a.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subsMu.Lock()
			if c, ok := a.subs[id]; ok {
				delete(a.subs, id)
				close(c)
			}
			a.subsMu.Unlock()
		})
	}
}

func (a *Advisor) changed() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

func (a *Advisor) runFanout() {
	defer a.fanout.Done()
	for {
		select {
		case <-a.base.Done():
			return
		case <-a.dirty:
		}
		s := a.Snapshot()
		a.subsMu.Lock()
		for _, ch := range a.subs {
			select {
			case ch <- s:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- s:
				default:
				}
			}
		}
		a.subsMu.Unlock()
	}
}

// Close stops every activity and closes all subscriptions.
func (a *Advisor) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.CancelAdvice()
	var err error
	if a.voice != nil {
		err = a.StopVoice(ctx)
	}
	a.stopBase()
	a.fanout.Wait()

	a.subsMu.Lock()
	for id, ch := range a.subs {
		close(ch)
		delete(a.subs, id)
	}
	a.subs = nil
	a.subsMu.Unlock()
	return err
}
