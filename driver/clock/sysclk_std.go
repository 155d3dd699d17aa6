//go:build !linux

package clock

import (
	"time"

	"go.uber.org/zap"

	"example.com/clockkit/base/timebase"
)

type SystemClock struct {
	Log *zap.Logger
}

var _ timebase.LocalClock = (*SystemClock)(nil)

func (c *SystemClock) Epoch() uint64 {
	return 0
}

func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *SystemClock) Sleep(duration time.Duration) {
	c.Log.Debug("sleeping", zap.Duration("duration", duration))
	if duration < 0 {
		panic("invalid duration value")
	}
	time.Sleep(duration)
}
