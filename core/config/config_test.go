package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/clockkit/core/config"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := config.Default()
	if err := c.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
	if got, want := c.Address(), "localhost:4444"; got != want {
		t.Errorf("got address %q, want %q", got, want)
	}
	if got, want := c.TimeoutDuration(), 1000*time.Microsecond; got != want {
		t.Errorf("got timeout %v, want %v", got, want)
	}
	if got, want := c.PhasePanicDuration(), 5*time.Millisecond; got != want {
		t.Errorf("got phase panic %v, want %v", got, want)
	}
	if got, want := c.UpdatePanicDuration(), 5*time.Second; got != want {
		t.Errorf("got update panic %v, want %v", got, want)
	}
}

func TestLoadTOML(t *testing.T) {
	path := write(t, "clockkit.toml", `
server = "ref.example.org"
port = 5555
timeout = 2000
phase_panic = 10000
update_panic = 10000000
acknowledge = true
metrics_address = "127.0.0.1:8080"
filter_window = 16
filter_gain = 0.2
`)
	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if got, want := c.Address(), "ref.example.org:5555"; got != want {
		t.Errorf("got address %q, want %q", got, want)
	}
	if got, want := c.TimeoutDuration(), 2*time.Millisecond; got != want {
		t.Errorf("got timeout %v, want %v", got, want)
	}
	if !c.Acknowledge {
		t.Error("got acknowledge false, want true")
	}
	if c.FilterWindow != 16 || c.FilterGain != 0.2 {
		t.Errorf("got filter settings %d/%v, want 16/0.2", c.FilterWindow, c.FilterGain)
	}
	// Unset keys keep their defaults.
	if got, want := c.IntervalDuration(), time.Second; got != want {
		t.Errorf("got interval %v, want %v", got, want)
	}
}

func TestLoadLegacy(t *testing.T) {
	path := write(t, "clockkit.conf", `server:ref.example.org
port:5555
timeout:2000
phasePanic:10000
updatePanic:10000000
`)
	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if got, want := c.Address(), "ref.example.org:5555"; got != want {
		t.Errorf("got address %q, want %q", got, want)
	}
	if got, want := c.PhasePanicDuration(), 10*time.Millisecond; got != want {
		t.Errorf("got phase panic %v, want %v", got, want)
	}
	if got, want := c.UpdatePanicDuration(), 10*time.Second; got != want {
		t.Errorf("got update panic %v, want %v", got, want)
	}
}

func TestLoadLegacyComments(t *testing.T) {
	path := write(t, "clockkit.conf", `# reference server
server:localhost

port:4444
`)
	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if got, want := c.Address(), "localhost:4444"; got != want {
		t.Errorf("got address %q, want %q", got, want)
	}
}

func TestLoadLegacyUnknownKey(t *testing.T) {
	path := write(t, "clockkit.conf", "frequency:60\n")
	_, err := config.Load(path)
	if err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadLegacyMalformed(t *testing.T) {
	path := write(t, "clockkit.conf", "port=4444\n")
	_, err := config.Load(path)
	if err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.conf"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty server", func(c *config.Config) { c.Server = "" }},
		{"port too small", func(c *config.Config) { c.Port = 0 }},
		{"port too large", func(c *config.Config) { c.Port = 70000 }},
		{"non-positive timeout", func(c *config.Config) { c.Timeout = 0 }},
		{"non-positive phase panic", func(c *config.Config) { c.PhasePanic = -1 }},
		{"non-positive update panic", func(c *config.Config) { c.UpdatePanic = 0 }},
		{"non-positive interval", func(c *config.Config) { c.Interval = 0 }},
		{"negative filter window", func(c *config.Config) { c.FilterWindow = -1 }},
		{"pick above window", func(c *config.Config) { c.FilterWindow = 4; c.FilterPick = 8 }},
		{"filter gain above 1", func(c *config.Config) { c.FilterGain = 1.5 }},
		{"negative drift gain", func(c *config.Config) { c.FilterDriftGain = -0.1 }},
		{"negative max step", func(c *config.Config) { c.FilterMaxStep = -1 }},
	}
	for _, tt := range tests {
		c := config.Default()
		tt.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
