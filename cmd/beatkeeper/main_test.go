package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"github.com/yok-tottii/beatkeeper/internal/history"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("beatkeeper"), kong.Vars{"version": version})
	if err != nil {
		t.Fatalf("Failed to build parser: %v", err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("Failed to parse %v: %v", args, err)
	}
	return cli, ctx
}

func TestParseDefaultsToTray(t *testing.T) {
	_, ctx := parse(t)
	if ctx.Command() != "tray" {
		t.Errorf("Expected tray to be the default command, got %q", ctx.Command())
	}
}

func TestParseGlobals(t *testing.T) {
	cli, ctx := parse(t, "--log-level", "debug", "tui", "--no-server")
	if ctx.Command() != "tui" {
		t.Errorf("Expected tui, got %q", ctx.Command())
	}
	if cli.LogLevel != "debug" || !cli.TUI.NoServer {
		t.Errorf("Unexpected flags: %+v", cli)
	}
}

func TestParseHistory(t *testing.T) {
	cli, _ := parse(t, "history")
	if cli.History.Limit != 20 || cli.History.Prune != 0 {
		t.Errorf("Unexpected defaults: %+v", cli.History)
	}

	cli, _ = parse(t, "history", "-n", "5", "--prune", "30")
	if cli.History.Limit != 5 || cli.History.Prune != 30 {
		t.Errorf("Unexpected flags: %+v", cli.History)
	}
}

func TestParseCheck(t *testing.T) {
	cli, _ := parse(t, "check", "-t", "90", "-d", "2s")
	if cli.Check.Tempo != 90 || cli.Check.Duration != 2*time.Second {
		t.Errorf("Unexpected flags: %+v", cli.Check)
	}
}

func TestPrintSessions(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	sessions := []history.Session{
		{ID: "a", Mode: "drums", StartedAt: start, EndedAt: &end, Beats: 180, FinalTempo: 118, AverageTempo: 117.5},
		{ID: "b", Mode: "other", StartedAt: start},
	}

	var buf bytes.Buffer
	printSessions(&buf, sessions)
	out := buf.String()

	for _, want := range []string{"STARTED", "1m35s", "drums", "118", "117.5", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines != 3 {
		t.Errorf("Expected header and two rows, got %d lines", lines)
	}
}

func TestAbs(t *testing.T) {
	if abs(-3) != 3 || abs(4) != 4 {
		t.Error("abs is wrong")
	}
}
