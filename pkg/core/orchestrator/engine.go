// Package orchestrator runs the weather, soil, and market pipelines for one
// advice request and synthesizes their results into a plan.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/alerts"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
	"github.com/vango-go/agrivoice/pkg/core/phase"
)

// DataService is the external advice-generation service.
type DataService interface {
	FetchForecast(ctx context.Context, location string, lang i18n.Language) (advice.Forecast, error)
	FetchSoil(ctx context.Context, location string, lang i18n.Language) (advice.SoilReport, error)
	FetchMarket(ctx context.Context, location string, lang i18n.Language) (advice.Market, error)
	Synthesize(ctx context.Context, in advice.SynthesisInput) (advice.Advice, error)
}

// Observer receives per-phase timings. metrics.Metrics implements it.
type Observer interface {
	ObservePhase(pipeline, phase, status string, d time.Duration)
}

type Config struct {
	// PhaseDelay is slept before every phase. Soil and market sleep 1.25x and
	// 1.5x as long so the pipelines visibly stagger. Zero disables pacing.
	PhaseDelay time.Duration
	Thresholds alerts.Thresholds
}

type Dependencies struct {
	Service  DataService
	Tracker  *phase.Tracker
	Logger   *slog.Logger
	Observer Observer
	Config   Config
	Now      func() time.Time
}

// Engine is safe for concurrent use; each Run is scoped by its ctx and epoch.
type Engine struct {
	svc      DataService
	tracker  *phase.Tracker
	log      *slog.Logger
	observer Observer
	cfg      Config
	now      func() time.Time
}

func New(deps Dependencies) (*Engine, error) {
	if deps.Service == nil {
		return nil, errors.New("orchestrator: missing data service")
	}
	if deps.Tracker == nil {
		return nil, errors.New("orchestrator: missing phase tracker")
	}
	if deps.Config.PhaseDelay < 0 {
		return nil, fmt.Errorf("orchestrator: phase delay must be >= 0, got %s", deps.Config.PhaseDelay)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.Thresholds == (alerts.Thresholds{}) {
		deps.Config.Thresholds = alerts.DefaultThresholds
	}
	return &Engine{
		svc:      deps.Service,
		tracker:  deps.Tracker,
		log:      deps.Logger,
		observer: deps.Observer,
		cfg:      deps.Config,
		now:      deps.Now,
	}, nil
}

// Request is one advice request.
type Request struct {
	ID       string
	Location string
	Language i18n.Language
	// OnAlert is called once the weather pipeline has derived its alert, and
	// only while the request is still current.
	OnAlert func(advice.Alert)
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Location) == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidRequest)
	}
	if !r.Language.Supported() {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, r.Language)
	}
	return nil
}

// results is written by one pipeline per field and read only after all
// pipelines have returned.
type results struct {
	forecast advice.Forecast
	alert    advice.Alert
	soil     advice.SoilProfile
	market   advice.MarketOutlook
}

var pacing = map[phase.Pipeline]float64{
	phase.Weather: 1,
	phase.Soil:    1.25,
	phase.Market:  1.5,
}

// Run executes the request. epoch must be the value returned by the
// tracker's Reset for this request.
//
// It returns ErrCancelled once ctx is done or the epoch is superseded, a
// *FetchError when a pipeline fails, or a *SynthesisError when the planner
// fails. After a cancellation the tracker is never written again.
func (e *Engine) Run(ctx context.Context, epoch phase.Epoch, req Request) (*advice.Report, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if e.cancelled(ctx, epoch) {
		return nil, ErrCancelled
	}
	log := e.log.With("request_id", req.ID, "location", req.Location, "language", string(req.Language))
	log.Info("advice request started")

	var res results
	failed := make(chan *FetchError, len(phase.Pipelines))
	g, gctx := errgroup.WithContext(ctx)
	pipelines := map[phase.Pipeline]func(context.Context) error{
		phase.Weather: func(ctx context.Context) error { return e.runWeather(ctx, epoch, req, &res) },
		phase.Soil:    func(ctx context.Context) error { return e.runSoil(ctx, epoch, req, &res) },
		phase.Market:  func(ctx context.Context) error { return e.runMarket(ctx, epoch, req, &res) },
	}
	for _, p := range phase.Pipelines {
		run := pipelines[p]
		g.Go(func() error {
			err := run(gctx)
			var fe *FetchError
			if errors.As(err, &fe) {
				failed <- fe
			}
			return err
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var fail *FetchError
	select {
	case <-ctx.Done():
		log.Info("advice request cancelled")
		return nil, ErrCancelled
	case fail = <-failed:
	case err := <-done:
		if err != nil {
			select {
			case fail = <-failed:
			default:
				if e.cancelled(ctx, epoch) {
					return nil, ErrCancelled
				}
				return nil, err
			}
		}
	}
	if fail != nil {
		if e.cancelled(ctx, epoch) {
			return nil, ErrCancelled
		}
		e.tracker.Fail(epoch)
		log.Warn("advice pipeline failed", "pipeline", string(fail.Pipeline), "phase", string(fail.Phase), "error", fail.Err)
		return nil, fail
	}

	report, err := e.synthesize(ctx, epoch, req, res)
	if err != nil {
		if IsCancelled(err) {
			log.Info("advice request cancelled")
		} else {
			log.Warn("advice synthesis failed", "error", err)
		}
		return nil, err
	}
	log.Info("advice request completed", "crops", len(report.Advice.RecommendedCrops))
	return report, nil
}

func (e *Engine) synthesize(ctx context.Context, epoch phase.Epoch, req Request, res results) (*advice.Report, error) {
	if e.cancelled(ctx, epoch) {
		return nil, ErrCancelled
	}
	e.tracker.SetPipelineMain(epoch, phase.Planner, phase.Working)
	start := e.now()

	plan, err := e.svc.Synthesize(ctx, advice.SynthesisInput{
		Location: req.Location,
		Language: req.Language,
		Forecast: res.forecast,
		Soil:     res.soil,
		Market:   res.market,
		Alert:    res.alert,
	})
	if e.cancelled(ctx, epoch) {
		return nil, ErrCancelled
	}
	if err != nil {
		e.tracker.SetPipelineMain(epoch, phase.Planner, phase.Error)
		e.observe(phase.Planner, "synthesis", phase.Error, start)
		return nil, &SynthesisError{Err: err}
	}
	e.tracker.SetPipelineMain(epoch, phase.Planner, phase.Done)
	e.observe(phase.Planner, "synthesis", phase.Done, start)

	return &advice.Report{
		Location:  req.Location,
		Language:  req.Language,
		Forecast:  res.forecast,
		Alert:     res.alert,
		Soil:      res.soil,
		Market:    res.market,
		Advice:    plan,
		Citations: advice.MergeCitations(res.forecast.Citations, res.soil.Report.Citations, res.market.Citations, plan.Citations),
	}, nil
}

func (e *Engine) runWeather(ctx context.Context, epoch phase.Epoch, req Request, res *results) error {
	err := e.step(ctx, epoch, phase.Weather, phase.Forecast, func(ctx context.Context) error {
		f, err := e.svc.FetchForecast(ctx, req.Location, req.Language)
		if err != nil {
			return err
		}
		res.forecast = f
		return nil
	})
	if err != nil {
		return err
	}
	return e.step(ctx, epoch, phase.Weather, phase.Alerts, func(ctx context.Context) error {
		res.alert = e.cfg.Thresholds.Derive(res.forecast, req.Language)
		if req.OnAlert != nil && !e.cancelled(ctx, epoch) {
			req.OnAlert(res.alert)
		}
		return nil
	})
}

func (e *Engine) runSoil(ctx context.Context, epoch phase.Epoch, req Request, res *results) error {
	var report advice.SoilReport
	err := e.step(ctx, epoch, phase.Soil, phase.Nutrients, func(ctx context.Context) error {
		r, err := e.svc.FetchSoil(ctx, req.Location, req.Language)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return err
	}
	err = e.step(ctx, epoch, phase.Soil, phase.PHMoisture, func(context.Context) error {
		p, err := profileSoil(report)
		if err != nil {
			return err
		}
		res.soil = p
		return nil
	})
	if err != nil {
		return err
	}
	return e.step(ctx, epoch, phase.Soil, phase.SoilType, func(context.Context) error {
		res.soil.Type = soilType(report)
		return nil
	})
}

func (e *Engine) runMarket(ctx context.Context, epoch phase.Epoch, req Request, res *results) error {
	var market advice.Market
	err := e.step(ctx, epoch, phase.Market, phase.Prices, func(ctx context.Context) error {
		m, err := e.svc.FetchMarket(ctx, req.Location, req.Language)
		if err != nil {
			return err
		}
		market = m
		return nil
	})
	if err != nil {
		return err
	}
	return e.step(ctx, epoch, phase.Market, phase.Export, func(context.Context) error {
		res.market = advice.MarketOutlook{
			Prices:              market.Prices,
			ExportOpportunities: exportOpportunities(market.Prices),
			Citations:           market.Citations,
		}
		return nil
	})
}

// step runs one phase: pace, mark working, do the work, mark done or error.
// Every tracker write is preceded by a cancellation check, so a late result
// from a superseded request is dropped.
func (e *Engine) step(ctx context.Context, epoch phase.Epoch, p phase.Pipeline, ph phase.Phase, work func(context.Context) error) error {
	if err := e.pace(ctx, p); err != nil {
		return err
	}
	if e.cancelled(ctx, epoch) {
		return ErrCancelled
	}
	e.tracker.SetPhase(epoch, p, ph, phase.Working)
	start := e.now()

	err := work(ctx)
	if e.cancelled(ctx, epoch) {
		return ErrCancelled
	}
	if err != nil {
		e.tracker.SetPhase(epoch, p, ph, phase.Error)
		e.observe(p, string(ph), phase.Error, start)
		return &FetchError{Pipeline: p, Phase: ph, Err: err}
	}
	e.tracker.SetPhase(epoch, p, ph, phase.Done)
	e.observe(p, string(ph), phase.Done, start)
	return nil
}

func (e *Engine) pace(ctx context.Context, p phase.Pipeline) error {
	if e.cfg.PhaseDelay <= 0 {
		return nil
	}
	d := time.Duration(float64(e.cfg.PhaseDelay) * pacing[p])
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-t.C:
		return nil
	}
}

func (e *Engine) cancelled(ctx context.Context, epoch phase.Epoch) bool {
	return ctx.Err() != nil || !e.tracker.Current(epoch)
}

func (e *Engine) observe(p phase.Pipeline, ph string, s phase.Status, start time.Time) {
	if e.observer == nil {
		return
	}
	e.observer.ObservePhase(string(p), ph, string(s), e.now().Sub(start))
}
