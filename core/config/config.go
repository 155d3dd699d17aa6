// Package config loads the engine configuration. Two file formats are
// supported: TOML, and the legacy line format with one colon-separated
// key:value pair per line (server, port, timeout, phasePanic,
// updatePanic).

package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"example.com/clockkit/net/ckp"
)

const (
	DefaultServer      = "localhost"
	DefaultPort        = ckp.ServerPort
	DefaultTimeout     = 1000    // µs
	DefaultPhasePanic  = 5000    // µs
	DefaultUpdatePanic = 5000000 // µs
	DefaultInterval    = 1000000 // µs
)

// Config carries the construction-time surface of one engine instance.
// All durations are in microseconds.
type Config struct {
	Server      string `toml:"server,omitempty"`
	Port        int    `toml:"port,omitempty"`
	Timeout     int64  `toml:"timeout,omitempty"`
	PhasePanic  int64  `toml:"phase_panic,omitempty"`
	UpdatePanic int64  `toml:"update_panic,omitempty"`
	Interval    int64  `toml:"interval,omitempty"`
	Acknowledge bool   `toml:"acknowledge,omitempty"`
	MetricsAddr string `toml:"metrics_address,omitempty"`

	FilterWindow     int     `toml:"filter_window,omitempty"`
	FilterPick       int     `toml:"filter_pick,omitempty"`
	FilterGain       float64 `toml:"filter_gain,omitempty"`
	FilterDriftGain  float64 `toml:"filter_drift_gain,omitempty"`
	FilterMaxStep    int64   `toml:"filter_max_step,omitempty"`
	FilterRTTCeiling int64   `toml:"filter_rtt_ceiling,omitempty"`
}

var errUnexpectedConfigEntry = errors.New("unexpected configuration entry")

func Default() Config {
	return Config{
		Server:      DefaultServer,
		Port:        DefaultPort,
		Timeout:     DefaultTimeout,
		PhasePanic:  DefaultPhasePanic,
		UpdatePanic: DefaultUpdatePanic,
		Interval:    DefaultInterval,
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

func (c Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Microsecond
}

func (c Config) PhasePanicDuration() time.Duration {
	return time.Duration(c.PhasePanic) * time.Microsecond
}

func (c Config) UpdatePanicDuration() time.Duration {
	return time.Duration(c.UpdatePanic) * time.Microsecond
}

func (c Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Microsecond
}

func (c Config) Validate() error {
	if c.Server == "" {
		return errors.New("server must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %d", c.Timeout)
	}
	if c.PhasePanic <= 0 {
		return fmt.Errorf("phase panic threshold must be positive: %d", c.PhasePanic)
	}
	if c.UpdatePanic <= 0 {
		return fmt.Errorf("update panic threshold must be positive: %d", c.UpdatePanic)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive: %d", c.Interval)
	}
	if c.FilterWindow < 0 || c.FilterPick < 0 {
		return fmt.Errorf("invalid filter window: %d/%d", c.FilterWindow, c.FilterPick)
	}
	if c.FilterWindow != 0 && c.FilterPick > c.FilterWindow {
		return fmt.Errorf("filter pick must not exceed the window: %d/%d",
			c.FilterPick, c.FilterWindow)
	}
	if c.FilterGain < 0 || c.FilterGain > 1 {
		return fmt.Errorf("filter gain out of range: %v", c.FilterGain)
	}
	if c.FilterDriftGain < 0 || c.FilterDriftGain > 1 {
		return fmt.Errorf("filter drift gain out of range: %v", c.FilterDriftGain)
	}
	if c.FilterMaxStep < 0 || c.FilterRTTCeiling < 0 {
		return fmt.Errorf("filter durations must not be negative: %d/%d",
			c.FilterMaxStep, c.FilterRTTCeiling)
	}
	return nil
}

// Load reads the configuration at path, selecting the format by file
// extension: ".toml" for TOML, the legacy line format otherwise.
func Load(path string) (Config, error) {
	if strings.HasSuffix(path, ".toml") {
		return loadTOML(path)
	}
	return loadLegacy(path)
}

func loadTOML(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c := Default()
	err = toml.Unmarshal(raw, &c)
	if err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func loadLegacy(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	c := Default()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Config{}, fmt.Errorf("%w: %q", errUnexpectedConfigEntry, line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "server":
			c.Server = value
		case "port":
			c.Port, err = strconv.Atoi(value)
		case "timeout":
			c.Timeout, err = strconv.ParseInt(value, 10, 64)
		case "phasePanic":
			c.PhasePanic, err = strconv.ParseInt(value, 10, 64)
		case "updatePanic":
			c.UpdatePanic, err = strconv.ParseInt(value, 10, 64)
		default:
			return Config{}, fmt.Errorf("%w: %q", errUnexpectedConfigEntry, key)
		}
		if err != nil {
			return Config{}, fmt.Errorf("invalid value for %q: %w", key, err)
		}
	}
	if err := s.Err(); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}
