package karaoke

import (
	"context"
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("karaoke", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.HealthAddr != ":8091" {
		t.Fatalf("expected default health addr, got %q", cfg.HealthAddr)
	}
	if cfg.CodeDigits != 4 {
		t.Fatalf("expected default code digits, got %d", cfg.CodeDigits)
	}
	if cfg.MaxMembers != 0 || cfg.MaxQueueLength != 0 {
		t.Fatalf("expected unbounded defaults, got members=%d queue=%d", cfg.MaxMembers, cfg.MaxQueueLength)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("KARAOKE_SPACE_HTTP_ADDR", "env-http")
	t.Setenv("KARAOKE_SPACE_HEALTH_ADDR", "env-health")
	t.Setenv("KARAOKE_SPACE_MAX_MEMBERS", "8")

	fs := flag.NewFlagSet("karaoke", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-http",
		"-max-queue-length", "25",
		"-summary-db-path", "",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-http" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.HealthAddr != "env-health" {
		t.Fatalf("expected env health addr, got %q", cfg.HealthAddr)
	}
	if cfg.MaxMembers != 8 {
		t.Fatalf("expected env max members, got %d", cfg.MaxMembers)
	}
	if cfg.MaxQueueLength != 25 {
		t.Fatalf("expected flag max queue length, got %d", cfg.MaxQueueLength)
	}
	if cfg.SummaryDBPath != "" {
		t.Fatalf("expected archive disabled by flag, got %q", cfg.SummaryDBPath)
	}
}

func TestParseConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("KARAOKE_SPACE_CODE_DIGITS", "four")

	fs := flag.NewFlagSet("karaoke", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected error for non-numeric code digits")
	}
}

func TestRunFailsWithoutHTTPAddr(t *testing.T) {
	t.Setenv("KARAOKE_SPACE_OTEL_ENABLED", "false")

	err := Run(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty http addr")
	}
}
