package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("explicit missing config file should error")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}

	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("scheduler.interval = %s, want 5m", cfg.Scheduler.Interval)
	}
	if cfg.Comps.WindowDays != 30 || cfg.Comps.MinInterval != 6*time.Hour || cfg.Comps.KeepPerKey != 60 {
		t.Fatalf("unexpected comps defaults: %+v", cfg.Comps)
	}
	if cfg.Pricing.FeeRate != 0.13 || cfg.Pricing.MinProfit != 50.0 || cfg.Pricing.MinROI != 0.25 {
		t.Fatalf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Milestones.BucketStep != 0.25 || cfg.Milestones.SirenWindow != time.Hour || cfg.Milestones.SirenCooldown != 5*time.Minute {
		t.Fatalf("unexpected milestone defaults: %+v", cfg.Milestones)
	}
	if cfg.Digest.Name != "roi_listings_digest" || cfg.Digest.Cooldown != 30*time.Minute || cfg.Digest.MaxItems != 20 {
		t.Fatalf("unexpected digest defaults: %+v", cfg.Digest)
	}
	if cfg.HotRadar.Window != 4*time.Hour || cfg.HotRadar.Threshold != 0.70 || cfg.HotRadar.MaxEmailsPerTick != 10 {
		t.Fatalf("unexpected hot radar defaults: %+v", cfg.HotRadar)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}

	cfg.Pricing.FeeRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("fee rate above 1 must fail validation")
	}
	cfg.Pricing.FeeRate = 0.13

	cfg.Mail.Enabled = true
	cfg.Mail.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled mail without host must fail validation")
	}
	cfg.Mail.Host = "smtp.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled mail without recipient must fail validation")
	}
	cfg.Mail.To = "ops@example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config must pass: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("zero override should use config, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(10); got != 10 {
		t.Fatalf("positive override wins, got %d", got)
	}
}
