package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/decksync/internal"
	pkgconfig "github.com/starford/decksync/pkg/config"
)

// loadConfig reads the optional config file and lets set flags (or their
// environment variables) override it.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	var (
		level    slog.Level
		levelSet = cmd.IsSet("log-level")
	)
	if levelSet {
		l, err := parseLogLevel(cmd.String("log-level"))
		if err != nil {
			return nil, err
		}
		level = l
	}

	cfg := internal.NewDefaultConfig()
	err := pkgconfig.LoadOptional(cmd.String("config"), cfg, func(c *internal.Config) {
		if cmd.IsSet("joplin-url") {
			c.Joplin.URL = cmd.String("joplin-url")
		}
		if cmd.IsSet("joplin-token") {
			c.Joplin.Token = cmd.String("joplin-token")
		}
		if cmd.IsSet("anki-url") {
			c.Anki.URL = cmd.String("anki-url")
		}
		if cmd.IsSet("since") {
			c.Sync.Since = cmd.String("since")
		}
		if cmd.IsSet("batch-size") {
			c.Sync.BatchSize = int(cmd.Int("batch-size"))
		}
		if cmd.IsSet("always-update") {
			c.Sync.AlwaysUpdate = cmd.Bool("always-update")
		}
		if cmd.IsSet("ledger") {
			c.Sync.LedgerPath = cmd.String("ledger")
		}
		if cmd.IsSet("anki-sync") {
			c.Anki.SyncAfterRun = cmd.Bool("anki-sync")
		}
		if levelSet {
			c.App.LogLevel = level
		}
		if cmd.IsSet("port") {
			c.Server.HTTP.Port = int(cmd.Int("port"))
		}
		if cmd.IsSet("interval") {
			c.Server.Interval = cmd.Duration("interval")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

func syncAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Sync(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app sync error: %w", err)
	}
	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Serve(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app serve error: %w", err)
	}
	return nil
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file (optional)",
			DefaultText: "config/config.yaml",
			Value:       "config/config.yaml",
			Sources:     cli.EnvVars("APP_CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "joplin-url",
			Usage:   "Joplin data API base URL",
			Sources: cli.EnvVars("JOPLIN_URL"),
		},
		&cli.StringFlag{
			Name:    "joplin-token",
			Usage:   "Joplin data API token",
			Sources: cli.EnvVars("JOPLIN_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "anki-url",
			Usage:   "AnkiConnect endpoint",
			Sources: cli.EnvVars("ANKI_URL"),
		},
		&cli.StringFlag{
			Name:  "since",
			Usage: "Only export notes updated since this date (RFC 3339 or YYYY-MM-DD)",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Items reconciled concurrently per batch",
		},
		&cli.BoolFlag{
			Name:  "always-update",
			Usage: "Update existing notes even when the ledger says they are unchanged",
		},
		&cli.StringFlag{
			Name:    "ledger",
			Usage:   "Path to the SQLite sync ledger; empty disables it",
			Sources: cli.EnvVars("DECKSYNC_LEDGER"),
		},
		&cli.BoolFlag{
			Name:  "anki-sync",
			Usage: "Sync Anki with AnkiWeb after a clean run",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "decksync",
		Usage: "Turn quiz blocks in Joplin notes into Anki flashcards",
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Run one sync and print its summary",
				Flags:  commonFlags(),
				Action: syncAction,
			},
			{
				Name:  "serve",
				Usage: "Sync periodically and serve run status over HTTP",
				Flags: append(commonFlags(),
					&cli.IntFlag{
						Name:    "port",
						Usage:   "HTTP port",
						Sources: cli.EnvVars("PORT"),
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between scheduled runs; 0 disables them",
					},
				),
				Action: serveAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
