// Package ck exposes the synchronization engine behind opaque handles,
// so that embedding code can run several independently configured
// instances side by side.

package ck

import (
	"context"
	"errors"
	"sync"
	"time"

	"example.com/clockkit/base/zaplog"

	"example.com/clockkit/core/client"
	"example.com/clockkit/core/config"
	coresync "example.com/clockkit/core/sync"
	"example.com/clockkit/core/timebase"

	"example.com/clockkit/net/ckp"
	"example.com/clockkit/net/udp"
)

var (
	ErrInvalidHandle = errors.New("invalid clock handle")
	ErrOutOfSync     = errors.New("clock out of sync")
)

// Handle identifies one running engine instance. The zero value is
// never a valid handle.
type Handle uint64

type instance struct {
	conn   *udp.Conn
	clk    *client.ClockClient
	plc    *coresync.PhaseLockedClock
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	mu        sync.Mutex
	instances = make(map[Handle]*instance)
	next      Handle
)

func filterConfig(cfg config.Config) client.SampleFilterConfig {
	return client.SampleFilterConfig{
		WindowCap:  cfg.FilterWindow,
		WindowPick: cfg.FilterPick,
		Gain:       cfg.FilterGain,
		DriftGain:  cfg.FilterDriftGain,
		MaxStep:    time.Duration(cfg.FilterMaxStep) * time.Microsecond,
		RTTCeiling: time.Duration(cfg.FilterRTTCeiling) * time.Microsecond,
	}
}

// Open starts an engine instance for the given configuration and
// returns its handle. The instance keeps synchronizing in the
// background until Close is called or the server kills it.
func Open(cfg config.Config) (Handle, error) {
	err := cfg.Validate()
	if err != nil {
		return 0, err
	}
	log := zaplog.Logger()
	lclk := timebase.Clock()

	conn, err := udp.Dial(cfg.Address())
	if err != nil {
		return 0, err
	}

	c := client.NewClockClient(log, lclk, conn)
	c.SetTimeout(cfg.TimeoutDuration())
	c.SetAcknowledge(cfg.Acknowledge)
	f := client.NewSampleFilter(filterConfig(cfg))
	p := coresync.NewPhaseLockedClock(log, lclk, c, f, cfg.IntervalDuration())
	p.SetPhasePanic(cfg.PhasePanicDuration())
	p.SetUpdatePanic(cfg.UpdatePanicDuration())

	ctx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		conn:   conn,
		clk:    c,
		plc:    p,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(inst.done)
		_ = p.Run(ctx)
	}()

	mu.Lock()
	defer mu.Unlock()
	next++
	instances[next] = inst
	return next, nil
}

func lookup(h Handle) (*instance, error) {
	mu.Lock()
	defer mu.Unlock()
	inst, ok := instances[h]
	if !ok {
		return nil, ErrInvalidHandle
	}
	return inst, nil
}

// Close stops the instance and releases its socket. The handle is
// invalid afterwards.
func Close(h Handle) error {
	mu.Lock()
	inst, ok := instances[h]
	if ok {
		delete(instances, h)
	}
	mu.Unlock()
	if !ok {
		return ErrInvalidHandle
	}
	inst.cancel()
	err := inst.conn.Close()
	<-inst.done
	return err
}

// IsSynchronized reports whether the instance currently holds a valid
// estimate. An invalid handle is never synchronized.
func IsSynchronized(h Handle) bool {
	inst, err := lookup(h)
	if err != nil {
		return false
	}
	return inst.plc.Synchronized()
}

// Value returns the corrected time as microseconds since the Unix
// epoch, or ErrOutOfSync while the instance holds no valid estimate.
func Value(h Handle) (int64, error) {
	t, err := Time(h)
	if err != nil {
		return 0, err
	}
	return ckp.UsecFromTime(t), nil
}

// Time returns the corrected time, or ErrOutOfSync while the instance
// holds no valid estimate.
func Time(h Handle) (time.Time, error) {
	inst, err := lookup(h)
	if err != nil {
		return time.Time{}, err
	}
	if !inst.plc.Synchronized() {
		return time.Time{}, ErrOutOfSync
	}
	return inst.plc.Now(), nil
}

// Offset returns the estimated offset to the reference clock, or
// ErrOutOfSync while the instance holds no valid estimate.
func Offset(h Handle) (time.Duration, error) {
	inst, err := lookup(h)
	if err != nil {
		return 0, err
	}
	if !inst.plc.Synchronized() {
		return 0, ErrOutOfSync
	}
	return inst.plc.Offset(), nil
}

// State returns the synchronization state of the instance.
func State(h Handle) (coresync.State, error) {
	inst, err := lookup(h)
	if err != nil {
		return 0, err
	}
	return inst.plc.State(), nil
}

func SetTimeout(h Handle, d time.Duration) error {
	inst, err := lookup(h)
	if err != nil {
		return err
	}
	inst.clk.SetTimeout(d)
	return nil
}

func SetPhasePanic(h Handle, d time.Duration) error {
	inst, err := lookup(h)
	if err != nil {
		return err
	}
	inst.plc.SetPhasePanic(d)
	return nil
}

func SetUpdatePanic(h Handle, d time.Duration) error {
	inst, err := lookup(h)
	if err != nil {
		return err
	}
	inst.plc.SetUpdatePanic(d)
	return nil
}
