package timemath_test

import (
	"math"
	"testing"
	"time"

	"example.com/clockkit/base/timemath"
)

func TestSeconds(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     float64
	}{
		{1500 * time.Millisecond, 1.5},
		{time.Second, 1},
		{0, 0},
		{-time.Second, -1},
		{-1500 * time.Millisecond, -1.5},
	}

	for _, tt := range tests {
		got := timemath.Seconds(tt.duration)
		if got != tt.want {
			t.Errorf("timemath.Seconds(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    time.Duration
	}{
		{1.5, 1500 * time.Millisecond},
		{1, time.Second},
		{0, 0},
		{-1, -time.Second},
		{-1.5, -1500 * time.Millisecond},
	}

	for _, tt := range tests {
		got := timemath.Duration(tt.seconds)
		if got != tt.want {
			t.Errorf("timemath.Duration(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestSgn(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     int
	}{
		{time.Second, 1},
		{0, 0},
		{-time.Second, -1},
	}

	for _, tt := range tests {
		got := timemath.Sgn(tt.duration)
		if got != tt.want {
			t.Errorf("timemath.Sgn(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestAbs(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     time.Duration
	}{
		{time.Second, time.Second},
		{0, 0},
		{-time.Second, time.Second},
		{math.MinInt64, math.MaxInt64},
	}

	for _, tt := range tests {
		got := timemath.Abs(tt.duration)
		if got != tt.want {
			t.Errorf("timemath.Abs(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestInv(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     time.Duration
	}{
		{time.Second, -time.Second},
		{0, 0},
		{-time.Second, time.Second},
		{math.MinInt64, math.MaxInt64},
	}

	for _, tt := range tests {
		got := timemath.Inv(tt.duration)
		if got != tt.want {
			t.Errorf("timemath.Inv(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		duration time.Duration
		limit    time.Duration
		want     time.Duration
	}{
		{2 * time.Second, time.Second, time.Second},
		{-2 * time.Second, time.Second, -time.Second},
		{500 * time.Millisecond, time.Second, 500 * time.Millisecond},
		{-500 * time.Millisecond, time.Second, -500 * time.Millisecond},
		{0, 0, 0},
	}

	for _, tt := range tests {
		got := timemath.Clamp(tt.duration, tt.limit)
		if got != tt.want {
			t.Errorf("timemath.Clamp(%v, %v) = %v, want %v", tt.duration, tt.limit, got, tt.want)
		}
	}
}

func TestClampInvalidLimit(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for negative limit")
		}
	}()
	_ = timemath.Clamp(time.Second, -time.Second)
}

func TestMedian(t *testing.T) {
	tests := []struct {
		durations []time.Duration
		want      time.Duration
	}{
		{[]time.Duration{time.Second}, time.Second},
		{[]time.Duration{time.Second, 3 * time.Second}, 2 * time.Second},
		{[]time.Duration{3 * time.Second, time.Second, 2 * time.Second}, 2 * time.Second},
		{[]time.Duration{-time.Second, time.Second}, 0},
	}

	for _, tt := range tests {
		got := timemath.Median(tt.durations)
		if got != tt.want {
			t.Errorf("timemath.Median(%v) = %v, want %v", tt.durations, got, tt.want)
		}
	}
}

func TestMedianEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for empty slice")
		}
	}()
	_ = timemath.Median(nil)
}
