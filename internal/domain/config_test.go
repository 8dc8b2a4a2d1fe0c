package domain

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tier != TierCommunity {
		t.Errorf("expected tier %s, got %s", TierCommunity, cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "channel" {
		t.Errorf("expected channel bus, got %s", cfg.EventBus.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}

func TestProConfig(t *testing.T) {
	cfg := ProConfig()

	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "redis" || !cfg.Cache.EnableTwoPhase {
		t.Errorf("expected two-phase redis cache, got %+v", cfg.Cache)
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats bus, got %s", cfg.EventBus.Type)
	}
	if !cfg.Worker.Enabled {
		t.Error("expected worker enabled on pro tier")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected pro config to validate, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("expected port 8080, got %d", cfg.Server.Port)
		}
	})

	t.Run("YAMLFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forensics.yaml")
		yamlDoc := `
server:
  port: 9090
access:
  row_limit: 100
  report_ttl: 2h
analysis:
  contamination: 0.1
`
		if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Access.RowLimit != 100 {
			t.Errorf("expected row limit 100, got %d", cfg.Access.RowLimit)
		}
		if cfg.Access.ReportTTL != 2*time.Hour {
			t.Errorf("expected report ttl 2h, got %v", cfg.Access.ReportTTL)
		}
		if cfg.Analysis.Contamination != 0.1 {
			t.Errorf("expected contamination 0.1, got %f", cfg.Analysis.Contamination)
		}
		// Unset keys keep their defaults.
		if cfg.Analysis.Trees != 200 {
			t.Errorf("expected 200 trees, got %d", cfg.Analysis.Trees)
		}
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forensics.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("FORENSICS_SERVER_PORT", "7070")
		t.Setenv("FORENSICS_ACCESS_ADMIN_KEY", "secret")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected port 7070, got %d", cfg.Server.Port)
		}
		if cfg.Access.AdminKey != "secret" {
			t.Errorf("expected admin key from env, got %q", cfg.Access.AdminKey)
		}
	})

	t.Run("ProTierFromEnv", func(t *testing.T) {
		t.Setenv("FORENSICS_TIER", "pro")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" {
			t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("InvalidValue", func(t *testing.T) {
		t.Setenv("FORENSICS_BUS_TYPE", "carrier-pigeon")

		_, err := LoadConfig("")
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestAnalysisOptions(t *testing.T) {
	t.Run("WithDefaults", func(t *testing.T) {
		opts := AnalysisOptions{Contamination: 0.2}.WithDefaults()
		if opts.Contamination != 0.2 {
			t.Errorf("expected contamination kept at 0.2, got %f", opts.Contamination)
		}
		if opts.Neighbors != 20 || opts.Trees != 200 || opts.Seed != 42 {
			t.Errorf("expected defaults filled, got %+v", opts)
		}
	})

	t.Run("ExplicitZeroThreshold", func(t *testing.T) {
		opts := AnalysisOptions{RoundThreshold: Float64(0)}.WithDefaults()
		if *opts.RoundThreshold != 0 {
			t.Errorf("expected explicit round threshold 0 kept, got %f", *opts.RoundThreshold)
		}
		if *opts.HighAmountThreshold != 5000 {
			t.Errorf("expected default high amount threshold 5000, got %f", *opts.HighAmountThreshold)
		}
		if err := opts.Validate(); err != nil {
			t.Errorf("expected zero threshold to validate, got %v", err)
		}
	})

	t.Run("DecodeZeroThreshold", func(t *testing.T) {
		opts := DefaultAnalysisOptions()
		if err := json.Unmarshal([]byte(`{"highAmountThreshold": 0}`), &opts); err != nil {
			t.Fatal(err)
		}
		if got := *opts.WithDefaults().HighAmountThreshold; got != 0 {
			t.Errorf("expected decoded threshold 0 kept, got %f", got)
		}
	})

	t.Run("CloneIsolatesDecode", func(t *testing.T) {
		base := DefaultAnalysisOptions()
		opts := base.Clone()
		if err := json.Unmarshal([]byte(`{"roundThreshold": 100}`), &opts); err != nil {
			t.Fatal(err)
		}
		if *base.RoundThreshold != 500 {
			t.Errorf("expected base threshold unchanged at 500, got %f", *base.RoundThreshold)
		}
	})

	t.Run("NegativeThreshold", func(t *testing.T) {
		opts := DefaultAnalysisOptions()
		opts.HighAmountThreshold = Float64(-1)
		if err := opts.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ValidateRange", func(t *testing.T) {
		opts := DefaultAnalysisOptions()
		opts.Contamination = 0.9
		if err := opts.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRuleConfigValidate(t *testing.T) {
	valid := &RuleConfig{ID: "r1", Name: "Rule", Expression: "amount > 1.0", Severity: SeverityHigh}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid rule, got %v", err)
	}

	invalid := &RuleConfig{ID: "r2", Name: "Rule", Expression: "amount > 1.0", Severity: "critical"}
	if err := invalid.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown severity, got %v", err)
	}
}
