package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/starford/decksync/internal"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// runLoad parses args with the sync flags and returns what loadConfig built.
func runLoad(t *testing.T, args ...string) (*internal.Config, error) {
	t.Helper()
	var (
		cfg     *internal.Config
		loadErr error
	)
	cmd := &cli.Command{
		Name:  "decksync",
		Flags: commonFlags(),
		Action: func(_ context.Context, c *cli.Command) error {
			cfg, loadErr = loadConfig(c)
			return nil
		},
	}
	base := []string{"decksync",
		"--config", filepath.Join(t.TempDir(), "absent.yaml"),
		"--joplin-token", "tok",
	}
	if err := cmd.Run(context.Background(), append(base, args...)); err != nil {
		t.Fatalf("cli run: %v", err)
	}
	return cfg, loadErr
}

func TestLoadConfig_LogLevel(t *testing.T) {
	cfg, err := runLoad(t, "--log-level", "debug")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("level = %v, want debug", cfg.App.LogLevel)
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	cfg, err := runLoad(t, "--log-level", "loud")
	if err == nil {
		t.Fatalf("loadConfig accepted an unknown level, cfg = %+v", cfg)
	}
	if !strings.Contains(err.Error(), `"loud"`) {
		t.Errorf("err = %v, want it to name the bad level", err)
	}
}
