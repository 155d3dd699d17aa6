package measurements

import (
	"slices"
	"time"
)

// Sample is the raw result of one probe exchange: both local
// timestamps are readings of the same local clock, RemoteTime is the
// reference server's own reading carried in the reply.
type Sample struct {
	SendTime    time.Time
	ReceiveTime time.Time
	RemoteTime  time.Time
}

func (s Sample) RTT() time.Duration {
	return s.ReceiveTime.Sub(s.SendTime)
}

// Midpoint is the local time at which RemoteTime is assumed to have
// been read, under the symmetric network delay assumption.
func (s Sample) Midpoint() time.Time {
	return s.SendTime.Add(s.RTT() / 2)
}

// Offset is the implied difference between the remote and the local
// clock at the sample's midpoint.
func (s Sample) Offset() time.Duration {
	return s.RemoteTime.Sub(s.Midpoint())
}

// Valid reports whether the sample is usable at all. A receive time
// before the send time indicates a local clock anomaly or corrupted
// transport data.
func (s Sample) Valid() bool {
	return !s.ReceiveTime.Before(s.SendTime)
}

// Estimate is the committed local-to-remote relation: at local time
// Time the remote clock was Offset ahead, diverging at Drift seconds
// per local second. SendTime identifies the sample that produced the
// estimate and orders estimates by when their samples were taken.
type Estimate struct {
	Offset   time.Duration
	Drift    float64
	Time     time.Time
	SendTime time.Time
}

// OffsetAt extrapolates the offset to local time t using the drift.
func (e Estimate) OffsetAt(t time.Time) time.Duration {
	return e.Offset + time.Duration(e.Drift*float64(t.Sub(e.Time)))
}

// MedianOffset returns the median implied offset of the samples. For an
// even count it is the midpoint of the two middle offsets.
func MedianOffset(ss []Sample) time.Duration {
	n := len(ss)
	if n == 0 {
		panic("unexpected number of values")
	}
	offs := make([]time.Duration, n)
	for i, s := range ss {
		offs[i] = s.Offset()
	}
	slices.Sort(offs)
	i := n / 2
	if n%2 != 0 {
		return offs[i]
	}
	return offs[i-1] + (offs[i]-offs[i-1])/2
}

// Filter updates an estimate with a new raw sample. Implementations
// keep internal selection state; ok reports whether the sample was
// accepted and the estimate advanced.
type Filter interface {
	Do(prev Estimate, s Sample) (next Estimate, ok bool)
	Reset()
}
