// Package uplink implements the measurement and uplink loop: sample, estimate,
// encode, select the data rate from the sweep counter, send, interpret the
// result and pace.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/itohio/lorameter/pkg/meter"
	"github.com/itohio/lorameter/pkg/payload"
	"github.com/itohio/lorameter/pkg/sample"
	"github.com/itohio/lorameter/pkg/store"
)

var (
	errIntervalNotPositive = errors.New("uplink interval must be positive")
	errNoEncoder           = errors.New("payload encoder is required")
)

// Stages at which an iteration can be aborted before sending.
const (
	StageSample   = "sample"
	StageEstimate = "estimate"
	StageEncode   = "encode"
)

// Sampler acquires one batch of raw ADC codes.
type Sampler interface {
	Sample(ctx context.Context, n int) (sample.Batch, error)
}

// Ensure *sample.Sampler implements Sampler.
var _ Sampler = (*sample.Sampler)(nil)

// Options configures a Scheduler.
type Options struct {
	Samples     int // samples per measurement, fixed for the scheduler lifetime
	Calibration meter.Calibration
	Encoder     payload.Encoder
	Schedule    Schedule
	Interval    time.Duration // pause after every attempt
	Clock       clock.Clock
	Logger      log.Logger
	// Store, when set, persists the sweep counter.
	Store store.CounterStore
}

// Scheduler owns the sweep counter and runs the uplink loop.
// It is not safe for concurrent use, except for Status and OnUpdate.
type Scheduler struct {
	sampler  Sampler
	session  Session
	encoder  payload.Encoder
	calib    meter.Calibration
	schedule Schedule
	samples  int
	interval time.Duration
	clock    clock.Clock
	logger   log.Logger
	store    store.CounterStore

	counter  Counter
	restored bool

	board statusBoard
}

// New creates a scheduler. Invalid options are rejected before any
// hardware is touched.
func New(sampler Sampler, session Session, opts Options) (*Scheduler, error) {
	if opts.Samples <= 0 {
		return nil, fmt.Errorf("%w: %d", meter.ErrInvalidSampleCount, opts.Samples)
	}
	if opts.Interval <= 0 {
		return nil, errIntervalNotPositive
	}
	if opts.Encoder == nil {
		return nil, errNoEncoder
	}
	if err := opts.Calibration.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Schedule.BinWidth == 0 {
		opts.Schedule = NewSchedule(0)
	}

	return &Scheduler{
		sampler:  sampler,
		session:  session,
		encoder:  opts.Encoder,
		calib:    opts.Calibration,
		schedule: opts.Schedule,
		samples:  opts.Samples,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   log.With(opts.Logger, "component", "uplink"),
		store:    opts.Store,
	}, nil
}

// Counter returns the value the next send attempt will use.
func (s *Scheduler) Counter() Counter {
	return s.counter
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	return s.board.get()
}

// OnUpdate registers a callback invoked after every iteration.
// The callback should return quickly.
func (s *Scheduler) OnUpdate(cb func(Status)) {
	s.board.onUpdate(cb)
}

// Restore loads the sweep counter from the store, if any.
func (s *Scheduler) Restore(ctx context.Context) error {
	s.restored = true
	if s.store == nil {
		return nil
	}

	v, err := store.LoadOr(ctx, s.store, store.Sweep, 0)
	if err != nil {
		return fmt.Errorf("failed to restore sweep counter: %w", err)
	}
	s.counter = s.schedule.Normalize(Counter(v))
	s.board.update(func(st *Status) { st.Counter = s.counter }, false)

	level.Info(s.logger).Log("msg", "sweep counter restored", "counter", s.counter, "data_rate", s.schedule.DataRate(s.counter))
	return nil
}

// Run loops Step and pacing until ctx is cancelled. A stop request is
// honoured between iterations and during pacing, never between a send
// and its pacing delay elapsing.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.restored {
		if err := s.Restore(ctx); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			s.setState(Idle)
			return nil
		}

		if _, err := s.Step(ctx); err != nil {
			level.Error(s.logger).Log("msg", "iteration aborted", "error", err)
		}

		if err := s.pace(ctx); err != nil {
			s.setState(Idle)
			return nil
		}
	}
}

// Step performs one iteration without pacing. Errors returned by Step
// happened before sending: no send took place and the counter did not
// change. Transmission errors are reported in the Result, not as errors.
func (s *Scheduler) Step(ctx context.Context) (Result, error) {
	s.setState(Sampling)
	batch, err := s.sampler.Sample(ctx, s.samples)
	if err != nil {
		return Result{}, s.abort(StageSample, fmt.Errorf("failed to sample: %w", err))
	}

	s.setState(Estimating)
	m, err := meter.Estimate(batch, s.calib)
	if err != nil {
		return Result{}, s.abort(StageEstimate, fmt.Errorf("failed to estimate: %w", err))
	}

	s.setState(Encoding)
	b, err := s.encoder.Encode(m)
	if err != nil {
		return Result{}, s.abort(StageEncode, fmt.Errorf("failed to encode payload: %w", err))
	}

	level.Debug(s.logger).Log(
		"msg", "measured",
		"sampling_ms", m.SampleDurationMillis(),
		"current", m.RMSCurrent,
		"power", m.ApparentPower,
		"payload", string(b),
	)

	s.setState(SelectingDataRate)
	s.counter = s.schedule.Normalize(s.counter)
	dr := s.schedule.DataRate(s.counter)
	if err := s.session.SetDataRate(ctx, dr); err != nil {
		level.Warn(s.logger).Log("msg", "failed to set data rate", "data_rate", dr, "error", err)
	}

	s.setState(Sending)
	code := s.session.SendReceive(ctx, b)
	sent := s.counter
	s.counter = s.schedule.Next(s.counter)
	s.persist(ctx)

	s.setState(InterpretingResult)
	res := Interpret(code)

	kv := []interface{}{
		"msg", "uplink",
		"counter", sent,
		"data_rate", dr,
		"current", m.RMSCurrent,
		"power", m.ApparentPower,
		"sampling_ms", m.SampleDurationMillis(),
		"result", res.Kind,
	}
	switch res.Kind {
	case TransmissionError:
		level.Error(s.logger).Log(append(kv, "code", res.Code)...)
	case DownlinkReceived:
		level.Info(s.logger).Log(append(kv, "window", res.Window)...)
	default:
		level.Info(s.logger).Log(kv...)
	}

	s.board.update(func(st *Status) {
		st.Counter = s.counter
		st.DataRate = dr
		st.Iterations++
		st.Sent++
		if res.Kind == TransmissionError {
			st.Errors++
		}
		st.Measurement = m
		st.LastResult = res
		st.LastError = ""
		st.LastStage = ""
		st.UpdatedAt = s.clock.Now()
	}, true)

	return res, nil
}

func (s *Scheduler) abort(stage string, err error) error {
	s.board.update(func(st *Status) {
		st.Iterations++
		st.Aborted++
		st.LastError = err.Error()
		st.LastStage = stage
		st.UpdatedAt = s.clock.Now()
	}, true)
	return err
}

func (s *Scheduler) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, store.Sweep, uint32(s.counter)); err != nil {
		level.Warn(s.logger).Log("msg", "failed to persist sweep counter", "counter", s.counter, "error", err)
	}
}

// pace blocks for the configured interval on the scheduler clock.
func (s *Scheduler) pace(ctx context.Context) error {
	t := s.clock.Timer(s.interval)
	defer t.Stop()
	s.setState(Pacing)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		s.setState(Idle)
		return nil
	}
}

func (s *Scheduler) setState(state State) {
	s.board.update(func(st *Status) { st.State = state }, false)
}
