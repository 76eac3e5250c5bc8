// Package karaoke parses karaoke command flags and composes the relay entrypoint.
package karaoke

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/karaoke.space/internal/platform/cmd"
	server "github.com/louisbranch/karaoke.space/internal/services/karaoke/app"
)

// Config holds karaoke command configuration.
type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR"        envDefault:":8090"`
	HealthAddr     string `env:"HEALTH_ADDR"      envDefault:":8091"`
	SummaryDBPath  string `env:"SUMMARY_DB_PATH"  envDefault:"data/karaoke-summaries.db"`
	MaxQueueLength int    `env:"MAX_QUEUE_LENGTH" envDefault:"0"`
	MaxMembers     int    `env:"MAX_MEMBERS"      envDefault:"0"`
	CodeDigits     int    `env:"CODE_DIGITS"      envDefault:"4"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "karaoke HTTP/WebSocket listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.SummaryDBPath, "summary-db-path", cfg.SummaryDBPath, "SQLite path for archived session summaries (empty disables)")
	fs.IntVar(&cfg.MaxQueueLength, "max-queue-length", cfg.MaxQueueLength, "maximum waiting songs per session (0 is unbounded)")
	fs.IntVar(&cfg.MaxMembers, "max-members", cfg.MaxMembers, "maximum members per session (0 is unbounded)")
	fs.IntVar(&cfg.CodeDigits, "code-digits", cfg.CodeDigits, "join code length")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the karaoke relay and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceKaraoke, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			HealthAddr:     cfg.HealthAddr,
			SummaryDBPath:  cfg.SummaryDBPath,
			MaxQueueLength: cfg.MaxQueueLength,
			MaxMembers:     cfg.MaxMembers,
			CodeDigits:     cfg.CodeDigits,
		}); err != nil {
			return fmt.Errorf("serve karaoke: %w", err)
		}
		return nil
	})
}
