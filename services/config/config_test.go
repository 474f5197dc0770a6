package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsLookback(t *testing.T) {
	cfg := Defaults()
	if cfg.Lookback() != 200 {
		t.Fatalf("expected derived lookback 200, got %d", cfg.Lookback())
	}
	cfg.Windows.Long = 400
	if cfg.Lookback() != 400 {
		t.Fatalf("long window should raise lookback, got %d", cfg.Lookback())
	}
	cfg.MinLookback = 250
	if cfg.Lookback() != 250 {
		t.Fatalf("explicit override should win, got %d", cfg.Lookback())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.json")
	raw := []byte(`{"leverage": 8, "signal_direction": {"long_threshold": 0.6, "short_threshold": -0.25}}`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Leverage != 8 {
		t.Fatalf("leverage not overridden: %v", cfg.Leverage)
	}
	if cfg.Direction.LongThreshold != 0.6 || cfg.Direction.ShortThreshold != -0.25 {
		t.Fatalf("direction thresholds not overridden: %+v", cfg.Direction)
	}
	// Untouched keys keep their defaults.
	if cfg.TradingFee != 0.001 {
		t.Fatalf("trading fee default lost: %v", cfg.TradingFee)
	}
	if cfg.Filters.RSIOverbought != 85 {
		t.Fatalf("rsi default lost: %v", cfg.Filters.RSIOverbought)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("LEVERAGE", "3")
	t.Setenv("SYMBOL", "ETHUSDT")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Leverage != 3 {
		t.Fatalf("env leverage not applied: %v", cfg.Leverage)
	}
	if cfg.Symbol != "ETHUSDT" {
		t.Fatalf("env symbol not applied: %q", cfg.Symbol)
	}
}

func TestLoadBadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Defaults()
	b := Defaults()
	if a.Fingerprint() == "" {
		t.Fatal("empty fingerprint")
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical configs must share a fingerprint")
	}
	b.Leverage = 10
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprint must change with the config")
	}
}

func TestCooldownLevelFactor(t *testing.T) {
	cd := Defaults().Cooldown
	cases := []struct {
		level int
		want  float64
	}{
		{0, 1.0}, {1, 0.8}, {2, 0.6}, {3, 0.4}, {4, 1.0},
	}
	for _, c := range cases {
		if got := cd.LevelFactor(c.level); got != c.want {
			t.Fatalf("level %d: got %v want %v", c.level, got, c.want)
		}
	}
}

func TestLevelHoursCapped(t *testing.T) {
	cd := Defaults().Cooldown
	cd.Level3Hours = 100
	if got := cd.LevelHours(3); got != cd.MaxHours {
		t.Fatalf("expected cap at %v, got %v", cd.MaxHours, got)
	}
}
