// ABOUTME: Tests for player configuration loading
// ABOUTME: Defaults, environment overrides, flag precedence and validation
package config

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Backend != BackendMalgo || c.Volume != 100 || c.StartBuffer != 200*time.Millisecond {
		t.Errorf("unexpected defaults %+v", c)
	}
	if !strings.HasSuffix(c.Name, "-sendspin-player") {
		t.Errorf("unexpected default name %q", c.Name)
	}
	if c.Level() != log.InfoLevel {
		t.Errorf("expected info level, got %v", c.Level())
	}
}

func TestEnvironmentAndFlags(t *testing.T) {
	t.Setenv("SENDSPIN_SERVER", "10.0.0.5:8927")
	t.Setenv("SENDSPIN_VOLUME", "40")
	t.Setenv("SENDSPIN_OUTPUT", "wav")
	t.Setenv("SENDSPIN_START_BUFFER", "350ms")
	t.Setenv("SENDSPIN_NO_TUI", "true")

	c, err := Load([]string{"--volume", "70", "--static-delay-ms=-15"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ServerAddr != "10.0.0.5:8927" || c.Backend != BackendWAV || !c.NoTUI {
		t.Errorf("expected environment values, got %+v", c)
	}
	if c.StartBuffer != 350*time.Millisecond {
		t.Errorf("expected 350ms start buffer, got %v", c.StartBuffer)
	}
	if c.Volume != 70 {
		t.Errorf("expected flag to override env volume, got %d", c.Volume)
	}
	if c.StaticDelayMs != -15 {
		t.Errorf("expected -15ms static delay, got %d", c.StaticDelayMs)
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("SENDSPIN_VOLUME", "loud")
	c, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Volume != 100 {
		t.Errorf("expected default volume, got %d", c.Volume)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Name: "p", Backend: BackendOto, Volume: 50, StartBuffer: time.Millisecond,
		ReconnectInterval: time.Second, LogLevel: "debug",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"backend", func(c *Config) { c.Backend = "alsa" }, "unknown output backend"},
		{"wav without path", func(c *Config) { c.Backend = BackendWAV }, "wav-path"},
		{"volume", func(c *Config) { c.Volume = 101 }, "volume 101"},
		{"start buffer", func(c *Config) { c.StartBuffer = 0 }, "start buffer"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	c := Config{Backend: "x", Volume: -1, LogLevel: "info"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"backend", "volume", "start buffer", "reconnect", "name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestUnknownFlag(t *testing.T) {
	if _, err := Load([]string{"--bogus"}); err == nil {
		t.Error("expected unknown flag to fail")
	}
}
