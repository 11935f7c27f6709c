// ABOUTME: Player configuration loaded from flags and SENDSPIN_* environment variables
// ABOUTME: Environment supplies defaults, flags override, Validate reports every problem
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

// Output backends
const (
	BackendMalgo = "malgo"
	BackendOto   = "oto"
	BackendWAV   = "wav"
)

// Config holds all player runtime configuration
type Config struct {
	// Connection
	ServerAddr        string // empty = mDNS
	Name              string
	ClientID          string
	ReconnectInterval time.Duration

	// Audio
	Backend       string
	WAVPath       string
	Volume        int
	StaticDelayMs int
	StartBuffer   time.Duration

	// Diagnostics
	LogFile     string
	LogLevel    string
	NoTUI       bool
	MetricsAddr string // empty = disabled
	ShowVersion bool
}

// Load parses args (without the program name) on top of environment defaults
func Load(args []string) (Config, error) {
	var c Config
	fs := pflag.NewFlagSet("sendspin-player", pflag.ContinueOnError)

	fs.StringVarP(&c.ServerAddr, "server", "s", envStr("SENDSPIN_SERVER", ""), "Server address host:port (skip mDNS)")
	fs.StringVarP(&c.Name, "name", "n", envStr("SENDSPIN_NAME", defaultName()), "Player friendly name")
	fs.StringVar(&c.ClientID, "client-id", envStr("SENDSPIN_CLIENT_ID", ""), "Stable client id (default: random per run)")
	fs.DurationVar(&c.ReconnectInterval, "reconnect-interval", envDuration("SENDSPIN_RECONNECT_INTERVAL", 2*time.Second), "Wait between reconnect attempts")

	fs.StringVarP(&c.Backend, "output", "o", envStr("SENDSPIN_OUTPUT", BackendMalgo), "Output backend: malgo, oto or wav")
	fs.StringVar(&c.WAVPath, "wav-path", envStr("SENDSPIN_WAV_PATH", "sendspin-capture.wav"), "File written by the wav backend")
	fs.IntVar(&c.Volume, "volume", envInt("SENDSPIN_VOLUME", 100), "Initial volume 0-100")
	fs.IntVar(&c.StaticDelayMs, "static-delay-ms", envInt("SENDSPIN_STATIC_DELAY_MS", 0), "Output delay trim in ms (positive plays later)")
	fs.DurationVar(&c.StartBuffer, "start-buffer", envDuration("SENDSPIN_START_BUFFER", 200*time.Millisecond), "Audio buffered before playback starts")

	fs.StringVar(&c.LogFile, "log-file", envStr("SENDSPIN_LOG_FILE", "sendspin-player.log"), "Log file path")
	fs.StringVar(&c.LogLevel, "log-level", envStr("SENDSPIN_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.BoolVar(&c.NoTUI, "no-tui", envBool("SENDSPIN_NO_TUI", false), "Disable TUI, stream logs to stdout")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", envStr("SENDSPIN_METRICS_ADDR", ""), "Serve Prometheus metrics on this address")
	fs.BoolVarP(&c.ShowVersion, "version", "v", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if c.ShowVersion {
		return c, nil
	}
	return c, c.Validate()
}

// Validate reports every invalid field
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendMalgo, BackendOto:
	case BackendWAV:
		if c.WAVPath == "" {
			errs = append(errs, errors.New("wav backend needs --wav-path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown output backend %q", c.Backend))
	}
	if c.Volume < 0 || c.Volume > 100 {
		errs = append(errs, fmt.Errorf("volume %d out of range 0-100", c.Volume))
	}
	if c.StartBuffer <= 0 {
		errs = append(errs, fmt.Errorf("start buffer must be positive, got %v", c.StartBuffer))
	}
	if c.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconnect interval must be positive, got %v", c.ReconnectInterval))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("player name is empty"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level (info when invalid)
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func defaultName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return hostname + "-sendspin-player"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
