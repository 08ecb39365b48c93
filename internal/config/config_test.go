package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	if errs := Default().Validate(); len(errs) > 0 {
		t.Errorf("Default().Validate() returned %d errors: %v", len(errs), errs)
	}
}

func TestSetDefaultsThenLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Registry != want.Registry {
		t.Errorf("Registry = %+v, want %+v", cfg.Registry, want.Registry)
	}
	if cfg.Watcher != want.Watcher {
		t.Errorf("Watcher = %+v, want %+v", cfg.Watcher, want.Watcher)
	}
	if cfg.Logging != want.Logging {
		t.Errorf("Logging = %+v, want %+v", cfg.Logging, want.Logging)
	}
	if cfg.Session.GracefulTimeoutSeconds != want.Session.GracefulTimeoutSeconds {
		t.Errorf("GracefulTimeoutSeconds = %d, want %d",
			cfg.Session.GracefulTimeoutSeconds, want.Session.GracefulTimeoutSeconds)
	}
	if cfg.Session.Command == "" {
		t.Error("Session.Command is empty")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{
		Registry: RegistryConfig{
			LockInitialBackoffMs: 25,
			LockMaxBackoffMs:     500,
			LockStalenessSeconds: 30,
		},
		Session: SessionConfig{
			GracefulTimeoutSeconds: 5,
			FinalMarginSeconds:     3,
		},
		Watcher: WatcherConfig{
			DebounceMs:          100,
			PollIntervalSeconds: 30,
			RetryDelaySeconds:   1,
		},
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"lock initial backoff", cfg.Registry.LockInitialBackoff(), 25 * time.Millisecond},
		{"lock max backoff", cfg.Registry.LockMaxBackoff(), 500 * time.Millisecond},
		{"lock staleness", cfg.Registry.LockStaleness(), 30 * time.Second},
		{"graceful timeout", cfg.Session.GracefulTimeout(), 5 * time.Second},
		{"final margin", cfg.Session.FinalMargin(), 3 * time.Second},
		{"debounce", cfg.Watcher.Debounce(), 100 * time.Millisecond},
		{"poll interval", cfg.Watcher.PollInterval(), 30 * time.Second},
		{"retry delay", cfg.Watcher.RetryDelay(), time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestResolveStateDir(t *testing.T) {
	t.Run("explicit absolute path", func(t *testing.T) {
		p := PathsConfig{StateDir: "/var/lib/corral"}
		if got := p.ResolveStateDir(); got != "/var/lib/corral" {
			t.Errorf("ResolveStateDir() = %q", got)
		}
	})

	t.Run("xdg state home", func(t *testing.T) {
		t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")
		p := PathsConfig{}
		want := filepath.Join("/tmp/xdg-state", "corral")
		if got := p.ResolveStateDir(); got != want {
			t.Errorf("ResolveStateDir() = %q, want %q", got, want)
		}
	})

	t.Run("home expansion", func(t *testing.T) {
		t.Setenv("HOME", "/tmp/corral-home")
		p := PathsConfig{StateDir: "~/state"}
		want := filepath.Join("/tmp/corral-home", "state")
		if got := p.ResolveStateDir(); got != want {
			t.Errorf("ResolveStateDir() = %q, want %q", got, want)
		}
	})
}

func TestRegistryFile(t *testing.T) {
	p := PathsConfig{StateDir: "/var/lib/corral"}
	want := filepath.Join("/var/lib/corral", "sessions.json")
	if got := p.RegistryFile(); got != want {
		t.Errorf("RegistryFile() = %q, want %q", got, want)
	}
}

func TestViperOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("watcher.debounce_ms", 250)
	viper.Set("session.graceful_timeout_seconds", 9)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watcher.DebounceMs != 250 {
		t.Errorf("DebounceMs = %d, want 250", cfg.Watcher.DebounceMs)
	}
	if cfg.Session.GracefulTimeout() != 9*time.Second {
		t.Errorf("GracefulTimeout() = %v, want 9s", cfg.Session.GracefulTimeout())
	}
}
