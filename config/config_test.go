package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bcdannyboy/volsmile/cache"
	"github.com/bcdannyboy/volsmile/calendar"
	"github.com/bcdannyboy/volsmile/smile"
)

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir from Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volsmile.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TRADIER_KEY", "legacy")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tradier.Token != "legacy" {
		t.Errorf("token = %q, want the TRADIER_KEY fallback", cfg.Tradier.Token)
	}
	if cfg.Run.MinDTE != 5 || cfg.Run.MaxDTE != 45 || len(cfg.Run.Symbols) != 1 {
		t.Errorf("run = %+v", cfg.Run)
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Model != calendar.Calendar || opts.Quotes.Mode != smile.Mid || opts.Parametric.Exponent != smile.DefaultExponent {
		t.Errorf("options = %+v", opts)
	}
	if opts.RiskFreeRate != 0.0379 || opts.Concurrency != 4 {
		t.Errorf("engine options = %+v", opts)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
calendar:
  model: no-weekends
  timezone: UTC
  holidays: ["2024-07-04"]
  sessions:
    - {name: regular, start: "09:30", end: "16:00", weight: 1}
quotes:
  mode: ask
  nudge: 0.01
transform:
  mode: log
  weight: 0.5
cache:
  throttle: 3
`)
	t.Setenv("VOLSMILE_TRADIER_TOKEN", "from-env")
	t.Setenv("VOLSMILE_ENGINE_UNATTENDED", "true")
	t.Setenv("VOLSMILE_CACHE_REDIS_TTL", "1h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tradier.Token != "from-env" || !cfg.Engine.Unattended {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Tradier, cfg.Engine)
	}
	if cfg.Cache.RedisTTL != time.Hour {
		t.Errorf("redis ttl = %v", cfg.Cache.RedisTTL)
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Model != calendar.NoWeekends || opts.Quotes.Mode != smile.Ask || opts.Transform != smile.LogSymmetric || opts.Weight != 0.5 {
		t.Errorf("options = %+v", opts)
	}

	cal, err := cfg.CalendarEngine()
	if err != nil {
		t.Fatal(err)
	}
	if cal.IsTradingDay(time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)) {
		t.Error("configured holiday is a trading day")
	}

	store, closeFn, err := cfg.OpenStore(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := store.(*cache.Throttled); !ok {
		t.Errorf("store = %T, want a throttled store", store)
	}
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"model", func(c *Config) { c.Calendar.Model = "lunar" }},
		{"timezone", func(c *Config) { c.Calendar.Timezone = "Mars/Olympus" }},
		{"holiday", func(c *Config) { c.Calendar.Holidays = []string{"04/07/2024"} }},
		{"session", func(c *Config) { c.Calendar.Sessions = []SessionConfig{{Name: "x", Start: "16:00", End: "09:30"}} }},
		{"price mode", func(c *Config) { c.Quotes.Mode = "last" }},
		{"ceiling", func(c *Config) { c.Quotes.VolCeiling = 0 }},
		{"window", func(c *Config) { c.Quotes.MinStrike, c.Quotes.MaxStrike = 200, 100 }},
		{"transform", func(c *Config) { c.Transform.Mode = "cubic" }},
		{"weight", func(c *Config) { c.Transform.Weight = 1.5 }},
		{"bump", func(c *Config) { c.Greeks.BumpDays = 0 }},
		{"dte", func(c *Config) { c.Run.MinDTE, c.Run.MaxDTE = 30, 10 }},
		{"concurrency", func(c *Config) { c.Engine.Concurrency = 0 }},
		{"tail length", func(c *Config) { c.Parametric.TailLength = 0 }},
		{"backend", func(c *Config) { c.Cache.Backend = "etcd" }},
		{"slack", func(c *Config) { c.Slack.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestOpenStoreBackends(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	cfg.Cache.Backend = "sqlite"
	cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "db", "volsmile.db")
	store, closeFn, err := cfg.OpenStore(ctx, nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := store.Append(ctx, "k", time.Unix(0, 0), 1); err != nil {
		t.Errorf("sqlite append: %v", err)
	}
	closeFn()

	mr := miniredis.RunT(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = mr.Addr()
	store, closeFn, err = cfg.OpenStore(ctx, nil)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer closeFn()
	if err := store.Save(ctx, "doc", map[string]int{"a": 1}); err != nil {
		t.Errorf("redis save: %v", err)
	}

	cfg.Cache.RedisAddr = "127.0.0.1:1"
	if _, _, err := cfg.OpenStore(ctx, nil); err == nil {
		t.Error("expected an error for an unreachable redis")
	}
}
