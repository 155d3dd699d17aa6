package client

// Sample selection is a lucky packet filter: measurements are kept in a
// FIFO window and the subset with the lowest round-trip time is assumed
// to have seen the least network jitter (based on flashptpd,
// https://github.com/meinberg-sync/flashptpd). The median implied
// offset of that subset is the target the committed estimate is pulled
// towards; each pull is an exponentially smoothed, bounded step so that
// the corrected clock stays continuous. Drift is the smoothed slope of
// successive window offsets over local time.

import (
	"time"

	"example.com/clockkit/base/timemath"

	"example.com/clockkit/core/measurements"
)

const (
	defaultWindowCap  = 8
	defaultWindowPick = 3
	defaultGain       = 0.1
	defaultDriftGain  = 0.1
	defaultMaxStep    = 100 * time.Millisecond

	// Samples with a round-trip time above this multiple of the window
	// median are discarded as congestion outliers.
	rttOutlierFactor = 3

	// Minimum number of window samples before outlier rejection kicks
	// in; below this the median is too noisy to trust.
	rttOutlierMinSamples = 3

	// Drift estimates beyond this bound indicate a broken measurement
	// rather than a real clock rate mismatch.
	maxDriftPPM = 500
)

type SampleFilterConfig struct {
	WindowCap  int           // FIFO window capacity
	WindowPick int           // number of lowest-RTT samples to select
	Gain       float64       // per-step pull towards the window target, (0, 1]
	DriftGain  float64       // per-step pull of the drift estimate, (0, 1]
	MaxStep    time.Duration // hard bound on a single phase correction
	RTTCeiling time.Duration // fixed RTT ceiling; 0 selects the adaptive one
}

func (cfg *SampleFilterConfig) applyDefaults() {
	if cfg.WindowCap == 0 {
		cfg.WindowCap = defaultWindowCap
	}
	if cfg.WindowPick == 0 {
		cfg.WindowPick = defaultWindowPick
	}
	if cfg.Gain == 0 {
		cfg.Gain = defaultGain
	}
	if cfg.DriftGain == 0 {
		cfg.DriftGain = defaultDriftGain
	}
	if cfg.MaxStep == 0 {
		cfg.MaxStep = defaultMaxStep
	}
}

type SampleFilter struct {
	cfg    SampleFilterConfig
	window []measurements.Sample
	rtts   []time.Duration
}

var _ measurements.Filter = (*SampleFilter)(nil)

func NewSampleFilter(cfg SampleFilterConfig) *SampleFilter {
	cfg.applyDefaults()
	if cfg.WindowCap <= 0 {
		panic("window capacity must be greater than 0")
	}
	if cfg.WindowPick <= 0 {
		panic("window pick must be greater than 0")
	}
	if cfg.Gain <= 0 || cfg.Gain > 1 {
		panic("invalid gain value")
	}
	if cfg.DriftGain <= 0 || cfg.DriftGain > 1 {
		panic("invalid drift gain value")
	}
	if cfg.MaxStep <= 0 {
		panic("invalid maximum step value")
	}
	if cfg.RTTCeiling < 0 {
		panic("invalid round-trip time ceiling value")
	}
	if cfg.WindowPick > cfg.WindowCap {
		cfg.WindowPick = cfg.WindowCap
	}
	return &SampleFilter{
		cfg:    cfg,
		window: make([]measurements.Sample, 0, cfg.WindowCap),
		rtts:   make([]time.Duration, 0, cfg.WindowCap),
	}
}

func (f *SampleFilter) medianRTT() time.Duration {
	f.rtts = f.rtts[:0]
	for _, s := range f.window {
		f.rtts = append(f.rtts, s.RTT())
	}
	return timemath.Median(f.rtts)
}

// reject reports whether the sample's round-trip time disqualifies it.
func (f *SampleFilter) reject(s measurements.Sample) bool {
	if f.cfg.RTTCeiling != 0 {
		return s.RTT() > f.cfg.RTTCeiling
	}
	if len(f.window) < rttOutlierMinSamples {
		return false
	}
	return s.RTT() > rttOutlierFactor*f.medianRTT()
}

// target is the median implied offset of the lowest-RTT window subset,
// evaluated together with the local midpoint of the newest selected
// sample.
func (f *SampleFilter) target() time.Duration {
	n := len(f.window)
	lucky := f.window
	if f.cfg.WindowPick < n {
		lucky = make([]measurements.Sample, n)
		copy(lucky, f.window)
		for i := 0; i != f.cfg.WindowPick; i++ {
			k := i
			for j := i + 1; j != n; j++ {
				if lucky[j].RTT() < lucky[k].RTT() {
					k = j
				}
			}
			lucky[i], lucky[k] = lucky[k], lucky[i]
		}
		lucky = lucky[:f.cfg.WindowPick]
	}
	return measurements.MedianOffset(lucky)
}

// slope is the average drift across successive window samples, in
// seconds of divergence per local second.
func (f *SampleFilter) slope() (float64, bool) {
	if len(f.window) < 2 {
		return 0, false
	}
	var d float64
	for i := 1; i != len(f.window); i++ {
		dt := f.window[i].Midpoint().Sub(f.window[i-1].Midpoint())
		if dt <= 0 {
			return 0, false
		}
		d += float64(f.window[i].Offset()-f.window[i-1].Offset()) / float64(dt)
	}
	return d / float64(len(f.window)-1), true
}

// Do feeds one raw sample through the filter. With ok == true, next is
// the estimate to commit; the sample was discarded otherwise and prev
// remains in force. A zero prev (no accepted sample yet) is initialized
// directly from the sample.
func (f *SampleFilter) Do(prev measurements.Estimate, s measurements.Sample) (
	next measurements.Estimate, ok bool) {
	if !s.Valid() {
		return prev, false
	}
	if f.reject(s) {
		return prev, false
	}

	if len(f.window) == f.cfg.WindowCap {
		copy(f.window, f.window[1:])
		f.window = f.window[:len(f.window)-1]
	}
	f.window = append(f.window, s)

	now := s.Midpoint()

	if prev.Time.IsZero() {
		return measurements.Estimate{
			Offset:   s.Offset(),
			Drift:    0,
			Time:     now,
			SendTime: s.SendTime,
		}, true
	}

	predicted := prev.OffsetAt(now)
	residual := f.target() - predicted
	step := timemath.Clamp(
		time.Duration(f.cfg.Gain*float64(residual)), f.cfg.MaxStep)

	drift := prev.Drift
	if sl, ok := f.slope(); ok {
		drift += f.cfg.DriftGain * (sl - drift)
		maxDrift := maxDriftPPM * 1e-6
		if drift > maxDrift {
			drift = maxDrift
		} else if drift < -maxDrift {
			drift = -maxDrift
		}
	}

	return measurements.Estimate{
		Offset:   predicted + step,
		Drift:    drift,
		Time:     now,
		SendTime: s.SendTime,
	}, true
}

func (f *SampleFilter) Reset() {
	f.window = f.window[:0]
}
