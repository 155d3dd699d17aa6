package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/clockkit/base/metrics"
	"example.com/clockkit/base/timebase"
	"example.com/clockkit/base/timemath"

	"example.com/clockkit/core/client"
	"example.com/clockkit/core/measurements"
)

const (
	DefaultInterval    = 1 * time.Second
	DefaultPhasePanic  = 5000 * time.Microsecond
	DefaultUpdatePanic = 5000000 * time.Microsecond
)

type State int32

const (
	StateUnsynchronized State = iota
	StateSynchronized
	StatePhasePanic
	StateUpdatePanic
)

func (s State) String() string {
	switch s {
	case StateUnsynchronized:
		return "unsynchronized"
	case StateSynchronized:
		return "synchronized"
	case StatePhasePanic:
		return "phase panic"
	case StateUpdatePanic:
		return "update panic"
	default:
		panic("unexpected synchronization state")
	}
}

type plcMetrics struct {
	offset          prometheus.Gauge
	drift           prometheus.Gauge
	corr            prometheus.Gauge
	state           prometheus.Gauge
	samplesAccepted prometheus.Counter
	samplesRejected prometheus.Counter
	phasePanics     prometheus.Counter
	updatePanics    prometheus.Counter
}

func newPLCMetrics() *plcMetrics {
	return &plcMetrics{
		offset: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncOffsetN,
			Help: metrics.SyncOffsetH,
		}),
		drift: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncDriftN,
			Help: metrics.SyncDriftH,
		}),
		corr: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncCorrN,
			Help: metrics.SyncCorrH,
		}),
		state: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncStateN,
			Help: metrics.SyncStateH,
		}),
		samplesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncSamplesAcceptedN,
			Help: metrics.SyncSamplesAcceptedH,
		}),
		samplesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncSamplesRejectedN,
			Help: metrics.SyncSamplesRejectedH,
		}),
		phasePanics: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncPhasePanicsN,
			Help: metrics.SyncPhasePanicsH,
		}),
		updatePanics: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncUpdatePanicsN,
			Help: metrics.SyncUpdatePanicsH,
		}),
	}
}

var syncMetrics atomic.Pointer[plcMetrics]

func init() {
	syncMetrics.Store(newPLCMetrics())
}

// PhaseLockedClock locks a corrected view of the local clock to a
// remote reference. A single loop (Run or explicit Step calls) is the
// only writer of the committed estimate; Now, Offset, Drift, and State
// may be called concurrently and never block on the network.
type PhaseLockedClock struct {
	log      *zap.Logger
	lclk     timebase.LocalClock
	clk      *client.ClockClient
	fltr     measurements.Filter
	interval time.Duration

	phasePanic  atomic.Int64
	updatePanic atomic.Int64
	state       atomic.Int32
	est         atomic.Pointer[measurements.Estimate]
}

func NewPhaseLockedClock(log *zap.Logger, lclk timebase.LocalClock,
	clk *client.ClockClient, fltr measurements.Filter, interval time.Duration) *PhaseLockedClock {
	if lclk == nil {
		panic("local clock must not be nil")
	}
	if clk == nil {
		panic("clock client must not be nil")
	}
	if fltr == nil {
		panic("sample filter must not be nil")
	}
	if interval <= 0 {
		panic("invalid synchronization interval")
	}
	p := &PhaseLockedClock{
		log:      log,
		lclk:     lclk,
		clk:      clk,
		fltr:     fltr,
		interval: interval,
	}
	p.phasePanic.Store(int64(DefaultPhasePanic))
	p.updatePanic.Store(int64(DefaultUpdatePanic))
	return p
}

// SetPhasePanic bounds the magnitude of a single committed phase
// correction. Takes effect on the next synchronization step.
func (p *PhaseLockedClock) SetPhasePanic(d time.Duration) {
	if d <= 0 {
		panic("invalid phase panic threshold")
	}
	p.phasePanic.Store(int64(d))
}

func (p *PhaseLockedClock) PhasePanic() time.Duration {
	return time.Duration(p.phasePanic.Load())
}

// SetUpdatePanic bounds the time the clock may run without an accepted
// sample. Takes effect on the next check.
func (p *PhaseLockedClock) SetUpdatePanic(d time.Duration) {
	if d <= 0 {
		panic("invalid update panic threshold")
	}
	p.updatePanic.Store(int64(d))
}

func (p *PhaseLockedClock) UpdatePanic() time.Duration {
	return time.Duration(p.updatePanic.Load())
}

func (p *PhaseLockedClock) setState(s State) {
	p.state.Store(int32(s))
	syncMetrics.Load().state.Set(float64(s))
}

// checkUpdatePanic transitions to the update panic state if too much
// local time has passed since the last accepted sample. It runs on
// every reader call and every step, so a silent outage is detected
// even if no probe ever fails explicitly.
func (p *PhaseLockedClock) checkUpdatePanic(now time.Time) {
	e := p.est.Load()
	if e == nil {
		return
	}
	if now.Sub(e.Time) <= p.UpdatePanic() {
		return
	}
	for {
		s := State(p.state.Load())
		if s == StateUnsynchronized || s == StateUpdatePanic {
			return
		}
		if p.state.CompareAndSwap(int32(s), int32(StateUpdatePanic)) {
			mtrcs := syncMetrics.Load()
			mtrcs.updatePanics.Inc()
			mtrcs.state.Set(float64(StateUpdatePanic))
			p.log.Warn("entering update panic state",
				zap.Time("last update", e.Time),
				zap.Duration("threshold", p.UpdatePanic()),
			)
			return
		}
	}
}

// State returns the current synchronization state, re-evaluating the
// update panic condition first.
func (p *PhaseLockedClock) State() State {
	p.checkUpdatePanic(p.lclk.Now())
	return State(p.state.Load())
}

func (p *PhaseLockedClock) Synchronized() bool {
	return p.State() == StateSynchronized
}

// Now returns the corrected timestamp: the raw local reading adjusted
// by the committed offset estimate extrapolated with the drift. It
// always yields a value; callers that need correctness guarantees must
// check State separately.
func (p *PhaseLockedClock) Now() time.Time {
	now := p.lclk.Now()
	p.checkUpdatePanic(now)
	e := p.est.Load()
	if e == nil {
		return now
	}
	return now.Add(e.OffsetAt(now))
}

// Offset returns the current estimated offset to the reference clock.
func (p *PhaseLockedClock) Offset() time.Duration {
	now := p.lclk.Now()
	p.checkUpdatePanic(now)
	e := p.est.Load()
	if e == nil {
		return 0
	}
	return e.OffsetAt(now)
}

// Drift returns the current estimated drift in seconds per second.
func (p *PhaseLockedClock) Drift() float64 {
	e := p.est.Load()
	if e == nil {
		return 0
	}
	return e.Drift
}

func (p *PhaseLockedClock) commit(e measurements.Estimate, corr time.Duration) {
	mtrcs := syncMetrics.Load()
	p.est.Store(&e)
	p.setState(StateSynchronized)
	mtrcs.samplesAccepted.Inc()
	mtrcs.offset.Set(timemath.Seconds(e.Offset))
	mtrcs.drift.Set(e.Drift)
	mtrcs.corr.Set(timemath.Seconds(corr))
}

// Step performs one synchronization step: a single probe exchange fed
// through the sample filter. Probe failures are returned for
// diagnostics but leave the committed estimate untouched; they only
// ever surface to readers as degraded state.
func (p *PhaseLockedClock) Step(ctx context.Context) error {
	mtrcs := syncMetrics.Load()

	s, err := p.clk.Probe(ctx)
	if err != nil {
		switch {
		case errors.Is(err, client.ErrTimeout):
			p.log.Info("probe timed out")
		case errors.Is(err, client.ErrProtocol):
			p.log.Info("probe yielded an unusable response", zap.Error(err))
		default:
			p.log.Info("probe failed", zap.Error(err))
		}
		p.checkUpdatePanic(p.lclk.Now())
		return err
	}

	prev := p.est.Load()

	// A late-arriving exchange must not revert a fresher estimate;
	// samples are applied in the order they were taken.
	if prev != nil && !s.SendTime.After(prev.SendTime) {
		mtrcs.samplesRejected.Inc()
		p.checkUpdatePanic(p.lclk.Now())
		return nil
	}

	state := State(p.state.Load())
	if prev == nil || state == StatePhasePanic || state == StateUpdatePanic {
		// (Re)acquire the reference from scratch.
		p.fltr.Reset()
		next, ok := p.fltr.Do(measurements.Estimate{}, s)
		if !ok {
			mtrcs.samplesRejected.Inc()
			return nil
		}
		p.log.Info("synchronized to reference",
			zap.Duration("offset", next.Offset),
		)
		p.commit(next, 0)
		return nil
	}

	next, ok := p.fltr.Do(*prev, s)
	if !ok {
		mtrcs.samplesRejected.Inc()
		p.checkUpdatePanic(p.lclk.Now())
		return nil
	}

	corr := next.Offset - prev.OffsetAt(next.Time)
	if timemath.Abs(corr) > p.PhasePanic() {
		p.setState(StatePhasePanic)
		mtrcs.phasePanics.Inc()
		p.log.Warn("entering phase panic state",
			zap.Duration("correction", corr),
			zap.Duration("threshold", p.PhasePanic()),
		)
		return nil
	}

	p.commit(next, corr)
	p.log.Debug("synchronization step",
		zap.Duration("offset", next.Offset),
		zap.Float64("drift", next.Drift),
		zap.Duration("correction", corr),
	)
	return nil
}

// sleep waits one synchronization interval on the local clock but
// returns as soon as ctx is canceled. The sleeping goroutine may
// outlive an early return by at most one interval.
func (p *PhaseLockedClock) sleep(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.lclk.Sleep(p.interval)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Run drives synchronization steps at the configured interval until
// ctx is canceled or the server kills the client. Closing the clock
// client aborts an in-flight probe.
func (p *PhaseLockedClock) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.Step(ctx)
		if errors.Is(err, client.ErrKilled) {
			p.log.Info("stopping synchronization", zap.Error(err))
			return err
		}
		if err := p.sleep(ctx); err != nil {
			return err
		}
	}
}
