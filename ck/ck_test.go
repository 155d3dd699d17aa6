package ck_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/clockkit/ck"

	"example.com/clockkit/core/config"
	"example.com/clockkit/core/server"
	"example.com/clockkit/core/timebase"

	"example.com/clockkit/driver/clock"
)

func init() {
	timebase.RegisterClock(&clock.SystemClock{Log: zap.NewNop()})
}

func startTestServer(t *testing.T) *server.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := server.NewServer(zap.NewNop())
	if err := s.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	return s
}

func testConfig(s *server.Server) config.Config {
	cfg := config.Default()
	cfg.Server = "127.0.0.1"
	cfg.Port = s.LocalAddr().Port
	cfg.Timeout = 100000 // 100ms, tolerate slow test machines
	cfg.Interval = 10000 // 10ms
	return cfg
}

func waitSynchronized(t *testing.T, h ck.Handle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !ck.IsSynchronized(h) {
		if time.Now().After(deadline) {
			t.Fatal("instance failed to synchronize")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpenSynchronizes(t *testing.T) {
	s := startTestServer(t)
	h, err := ck.Open(testConfig(s))
	if err != nil {
		t.Fatalf("failed to open instance: %v", err)
	}
	defer ck.Close(h)
	waitSynchronized(t, h)

	v, err := ck.Value(h)
	if err != nil {
		t.Fatalf("failed to read value: %v", err)
	}
	now := time.Now().UnixMicro()
	if d := v - now; d < -1000000 || d > 1000000 {
		t.Errorf("got value %d, want within 1s of %d", v, now)
	}

	// Reference and client share the machine clock, so the estimated
	// offset must stay small.
	off, err := ck.Offset(h)
	if err != nil {
		t.Fatalf("failed to read offset: %v", err)
	}
	if off < -50*time.Millisecond || off > 50*time.Millisecond {
		t.Errorf("got offset %v, want near zero", off)
	}
}

func TestOutOfSync(t *testing.T) {
	// No server is listening, so the instance can never acquire an
	// estimate.
	cfg := config.Default()
	cfg.Server = "127.0.0.1"
	cfg.Port = 4
	cfg.Timeout = 1000
	cfg.Interval = 1000
	h, err := ck.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open instance: %v", err)
	}
	defer ck.Close(h)

	if ck.IsSynchronized(h) {
		t.Error("instance must not report synchronization")
	}
	if _, err := ck.Value(h); !errors.Is(err, ck.ErrOutOfSync) {
		t.Errorf("got %v, want ErrOutOfSync", err)
	}
	if _, err := ck.Offset(h); !errors.Is(err, ck.ErrOutOfSync) {
		t.Errorf("got %v, want ErrOutOfSync", err)
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Timeout = 0
	if _, err := ck.Open(cfg); err == nil {
		t.Error("expected error for invalid configuration")
	}
}

func TestInvalidHandle(t *testing.T) {
	const h = ck.Handle(0)
	if ck.IsSynchronized(h) {
		t.Error("invalid handle must not report synchronization")
	}
	if _, err := ck.Value(h); !errors.Is(err, ck.ErrInvalidHandle) {
		t.Errorf("got %v, want ErrInvalidHandle", err)
	}
	if _, err := ck.State(h); !errors.Is(err, ck.ErrInvalidHandle) {
		t.Errorf("got %v, want ErrInvalidHandle", err)
	}
	if err := ck.SetPhasePanic(h, time.Second); !errors.Is(err, ck.ErrInvalidHandle) {
		t.Errorf("got %v, want ErrInvalidHandle", err)
	}
	if err := ck.Close(h); !errors.Is(err, ck.ErrInvalidHandle) {
		t.Errorf("got %v, want ErrInvalidHandle", err)
	}
}

func TestClose(t *testing.T) {
	s := startTestServer(t)
	h, err := ck.Open(testConfig(s))
	if err != nil {
		t.Fatalf("failed to open instance: %v", err)
	}
	if err := ck.Close(h); err != nil {
		t.Fatalf("failed to close instance: %v", err)
	}
	if _, err := ck.Value(h); !errors.Is(err, ck.ErrInvalidHandle) {
		t.Errorf("got %v, want ErrInvalidHandle after close", err)
	}
}

func TestSetters(t *testing.T) {
	s := startTestServer(t)
	h, err := ck.Open(testConfig(s))
	if err != nil {
		t.Fatalf("failed to open instance: %v", err)
	}
	defer ck.Close(h)

	if err := ck.SetTimeout(h, 50*time.Millisecond); err != nil {
		t.Errorf("failed to set timeout: %v", err)
	}
	if err := ck.SetPhasePanic(h, 10*time.Millisecond); err != nil {
		t.Errorf("failed to set phase panic threshold: %v", err)
	}
	if err := ck.SetUpdatePanic(h, 10*time.Second); err != nil {
		t.Errorf("failed to set update panic threshold: %v", err)
	}
}
