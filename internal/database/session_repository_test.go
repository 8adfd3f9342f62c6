package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dbehnke/companionlink/internal/transport"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) (*DB, *SessionRepository) {
	t.Helper()
	db, err := NewDB(Config{Path: filepath.Join(t.TempDir(), "journal", "test.db")}, nil)
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, NewSessionRepository(db.GetDB())
}

func session(offset, length time.Duration, flapping bool) *SessionRecord {
	start := base.Add(offset)
	return &SessionRecord{
		StartedAt:      start,
		EndedAt:        start.Add(length),
		DurationMs:     length.Milliseconds(),
		Flapping:       flapping,
		Reason:         "remote",
		FramesSent:     10,
		FramesReceived: 4,
	}
}

func TestNewDB_Health(t *testing.T) {
	db, repo := openTestDB(t)
	if err := db.Health(); err != nil {
		t.Errorf("Health() error = %v", err)
	}
	if err := repo.HealthCheck(); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRecordSession_Validation(t *testing.T) {
	_, repo := openTestDB(t)

	tests := []struct {
		name    string
		s       *SessionRecord
		wantErr bool
	}{
		{name: "nil", s: nil, wantErr: true},
		{name: "zero start", s: &SessionRecord{EndedAt: base}, wantErr: true},
		{name: "ends before start", s: &SessionRecord{StartedAt: base, EndedAt: base.Add(-time.Second)}, wantErr: true},
		{name: "valid", s: session(0, time.Minute, false)},
		{name: "zero length", s: session(time.Hour, 0, true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.RecordSession(tt.s)
			if (err != nil) != tt.wantErr {
				t.Errorf("RecordSession() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if n, err := repo.Count(); err != nil || n != 2 {
		t.Errorf("Count() = %d, %v; want 2", n, err)
	}
}

func TestRecordEvent_Validation(t *testing.T) {
	_, repo := openTestDB(t)

	if err := repo.RecordEvent(nil); err == nil {
		t.Error("RecordEvent(nil) succeeded")
	}
	if err := repo.RecordEvent(&LinkEvent{At: base}); err == nil {
		t.Error("RecordEvent without kind succeeded")
	}
	if err := repo.RecordEvent(&LinkEvent{At: base, Kind: "stack_reset"}); err != nil {
		t.Errorf("RecordEvent() error = %v", err)
	}
}

func TestRecentSessions_NewestFirst(t *testing.T) {
	_, repo := openTestDB(t)

	for i := 0; i < 5; i++ {
		if err := repo.RecordSession(session(time.Duration(i)*time.Minute, 10*time.Second, false)); err != nil {
			t.Fatalf("RecordSession() error = %v", err)
		}
	}

	recent, err := repo.RecentSessions(3)
	if err != nil {
		t.Fatalf("RecentSessions() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("RecentSessions() returned %d, want 3", len(recent))
	}
	if !recent[0].StartedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest session started %v, want %v", recent[0].StartedAt, base.Add(4*time.Minute))
	}
	if recent[0].Duration() != 10*time.Second {
		t.Errorf("Duration() = %v, want 10s", recent[0].Duration())
	}
}

func TestSummary(t *testing.T) {
	_, repo := openTestDB(t)

	empty, err := repo.Summary()
	if err != nil {
		t.Fatalf("Summary() on empty journal error = %v", err)
	}
	if empty.Sessions != 0 || empty.FlapRate != 0 || !empty.LastSessionEnded.IsZero() {
		t.Errorf("empty summary = %+v", empty)
	}

	records := []*SessionRecord{
		session(0, time.Second, true),
		session(time.Minute, 3*time.Second, true),
		session(2*time.Minute, 20*time.Second, false),
		session(3*time.Minute, 40*time.Second, false),
	}
	for _, s := range records {
		if err := repo.RecordSession(s); err != nil {
			t.Fatalf("RecordSession() error = %v", err)
		}
	}
	events := []*LinkEvent{
		{At: base, Kind: "stale_timeout"},
		{At: base, Kind: "auth_failed"},
		{At: base, Kind: "auth_failed"},
		{At: base, Kind: "rx_overflow", Dropped: 3},
		{At: base, Kind: "rx_overflow", Dropped: 2},
		{At: base, Kind: "stack_reset"},
		{At: base, Kind: "advertising_restarted"},
	}
	for _, e := range events {
		if err := repo.RecordEvent(e); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	s, err := repo.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.Sessions != 4 || s.FlappingSessions != 2 || s.FlapRate != 0.5 {
		t.Errorf("sessions = %d flapping = %d rate = %v", s.Sessions, s.FlappingSessions, s.FlapRate)
	}
	if s.TotalConnected != 64*time.Second || s.AverageSession != 16*time.Second {
		t.Errorf("total = %v average = %v", s.TotalConnected, s.AverageSession)
	}
	if s.FramesSent != 40 || s.FramesReceived != 16 {
		t.Errorf("frames = %d/%d, want 40/16", s.FramesSent, s.FramesReceived)
	}
	if s.StaleTimeouts != 1 || s.AuthFailures != 2 || s.StackResets != 1 || s.AdvertisingRestarts != 1 {
		t.Errorf("event counts = %+v", s)
	}
	if s.RxDropped != 5 {
		t.Errorf("RxDropped = %d, want 5", s.RxDropped)
	}
	if !s.LastSessionEnded.Equal(base.Add(3*time.Minute + 40*time.Second)) {
		t.Errorf("LastSessionEnded = %v", s.LastSessionEnded)
	}
}

func TestPrune(t *testing.T) {
	_, repo := openTestDB(t)

	_ = repo.RecordSession(session(0, time.Second, true))
	_ = repo.RecordSession(session(time.Hour, time.Second, true))
	_ = repo.RecordEvent(&LinkEvent{At: base, Kind: "stack_reset"})

	removed, err := repo.Prune(base.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d, want 2", removed)
	}
	if n, _ := repo.Count(); n != 1 {
		t.Errorf("Count() after prune = %d, want 1", n)
	}
}

func TestJournal_PersistsEvents(t *testing.T) {
	_, repo := openTestDB(t)
	j := NewJournal(repo, nil)

	j.Handle(transport.Event{Kind: transport.EventConnected, At: base})
	j.Handle(transport.Event{
		Kind:           transport.EventDisconnected,
		At:             base.Add(2 * time.Second),
		SessionStart:   base,
		Duration:       2 * time.Second,
		Flapping:       true,
		Reason:         "remote closed",
		RestartDelay:   time.Second,
		FramesSent:     3,
		FramesReceived: 1,
	})
	j.Handle(transport.Event{Kind: transport.EventRxOverflow, At: base, Dropped: 7})
	j.Handle(transport.Event{Kind: transport.EventStaleTimeout, At: base, Duration: 46 * time.Second})
	j.Close()
	j.Close()

	sessions, err := repo.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	got := sessions[0]
	if !got.Flapping || got.Reason != "remote closed" || got.DurationMs != 2000 || got.RestartDelayMs != 1000 {
		t.Errorf("session = %+v", got)
	}

	events, err := repo.RecentEvents("", 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	stale, _ := repo.RecentEvents("stale_timeout", 10)
	if len(stale) != 1 || stale[0].IdleMs != 46000 {
		t.Errorf("stale events = %+v", stale)
	}
	if j.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", j.Dropped())
	}
}
