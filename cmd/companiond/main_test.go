package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dbehnke/companionlink/internal/database"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companion.ini")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile, outputFormat, eventKind = "", "table", ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "companiond version "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "[Link]\nAdapter=carrier-pigeon\n")
	if _, err := execute(t, "--config", path, "stats"); err == nil {
		t.Fatal("unknown adapter accepted")
	}
	if _, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.ini"), "stats"); err == nil {
		t.Fatal("missing config accepted")
	}
}

func TestStatsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	path := writeConfig(t, "[Database]\nEnabled=1\nPath="+dbPath+"\n")

	db, err := database.NewDB(database.Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	repo := database.NewSessionRepository(db.GetDB())
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, flapping := range []bool{true, false} {
		s := &database.SessionRecord{
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
			EndedAt:    start.Add(time.Duration(i)*time.Minute + 2*time.Second),
			DurationMs: 2000,
			Flapping:   flapping,
			Reason:     "remote",
		}
		if err := repo.RecordSession(s); err != nil {
			t.Fatalf("RecordSession() error = %v", err)
		}
	}
	if err := repo.RecordEvent(&database.LinkEvent{At: start, Kind: "stale_timeout"}); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	_ = db.Close()

	out, err := execute(t, "--config", path, "stats", "-o", "json")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	var summary database.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("stats output is not JSON: %v\n%s", err, out)
	}
	if summary.Sessions != 2 || summary.FlapRate != 0.5 || summary.StaleTimeouts != 1 {
		t.Errorf("summary = %+v", summary)
	}

	out, err = execute(t, "--config", path, "stats", "sessions", "-o", "table")
	if err != nil {
		t.Fatalf("stats sessions error = %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("sessions table:\n%s", out)
	}

	out, err = execute(t, "--config", path, "stats", "events", "--kind", "auth_failed", "-o", "table")
	if err != nil {
		t.Fatalf("stats events error = %v", err)
	}
	if out != "No records found.\n" {
		t.Errorf("events output = %q", out)
	}
}

func TestStatsCommand_JournalDisabled(t *testing.T) {
	path := writeConfig(t, "[General]\nDeviceName=test\n")
	if _, err := execute(t, "--config", path, "stats"); err == nil {
		t.Fatal("stats succeeded with the journal disabled")
	}
}
