package timebase

import (
	"time"
)

// LocalClock is a free-running clock supplying raw readings on demand.
// Readings must be monotonically non-decreasing. Epoch changes whenever
// the clock restarts from scratch, invalidating all prior readings.
type LocalClock interface {
	Epoch() uint64
	Now() time.Time
	Sleep(duration time.Duration)
}
