package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SessionRepository provides database operations for the session journal
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new repository instance
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// RecordSession stores one closed session
func (r *SessionRepository) RecordSession(s *SessionRecord) error {
	if s == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if s.StartedAt.IsZero() || s.EndedAt.Before(s.StartedAt) {
		return fmt.Errorf("session has invalid bounds: started=%v ended=%v", s.StartedAt, s.EndedAt)
	}
	return r.db.Create(s).Error
}

// RecordEvent stores one link event
func (r *SessionRepository) RecordEvent(e *LinkEvent) error {
	if e == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if e.Kind == "" {
		return fmt.Errorf("event kind cannot be empty")
	}
	return r.db.Create(e).Error
}

// RecentSessions returns the newest sessions first
func (r *SessionRepository) RecentSessions(limit int) ([]SessionRecord, error) {
	var sessions []SessionRecord
	err := r.db.Order("ended_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// RecentEvents returns the newest link events first, optionally of one kind
func (r *SessionRepository) RecentEvents(kind string, limit int) ([]LinkEvent, error) {
	var events []LinkEvent
	q := r.db.Order("at DESC").Order("id DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.Find(&events).Error
	return events, err
}

// Count returns the number of recorded sessions
func (r *SessionRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&SessionRecord{}).Count(&count).Error
	return count, err
}

// Prune removes sessions and events older than before
func (r *SessionRepository) Prune(before time.Time) (int64, error) {
	var removed int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("ended_at < ?", before).Delete(&SessionRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("at < ?", before).Delete(&LinkEvent{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	return removed, nil
}

// Summary aggregates every recorded session and event
func (r *SessionRepository) Summary() (*Summary, error) {
	var totals struct {
		Sessions       int64
		Flapping       int64
		DurationMs     int64
		FramesSent     int64
		FramesReceived int64
	}
	err := r.db.Model(&SessionRecord{}).
		Select("COUNT(*) AS sessions, " +
			"COALESCE(SUM(CASE WHEN flapping THEN 1 ELSE 0 END), 0) AS flapping, " +
			"COALESCE(SUM(duration_ms), 0) AS duration_ms, " +
			"COALESCE(SUM(frames_sent), 0) AS frames_sent, " +
			"COALESCE(SUM(frames_received), 0) AS frames_received").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Sessions:         totals.Sessions,
		FlappingSessions: totals.Flapping,
		TotalConnected:   time.Duration(totals.DurationMs) * time.Millisecond,
		FramesSent:       totals.FramesSent,
		FramesReceived:   totals.FramesReceived,
	}
	if totals.Sessions > 0 {
		summary.FlapRate = float64(totals.Flapping) / float64(totals.Sessions)
		summary.AverageSession = summary.TotalConnected / time.Duration(totals.Sessions)
	}

	var latest SessionRecord
	err = r.db.Order("ended_at DESC").First(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		summary.LastSessionEnded = latest.EndedAt
	}

	var kinds []struct {
		Kind    string
		Events  int64
		Dropped int64
	}
	err = r.db.Model(&LinkEvent{}).
		Select("kind, COUNT(*) AS events, COALESCE(SUM(dropped), 0) AS dropped").
		Group("kind").
		Find(&kinds).Error
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		switch k.Kind {
		case "stale_timeout":
			summary.StaleTimeouts = k.Events
		case "auth_failed":
			summary.AuthFailures = k.Events
		case "advertising_restarted":
			summary.AdvertisingRestarts = k.Events
		case "stack_reset":
			summary.StackResets = k.Events
		case "rx_overflow":
			summary.RxDropped = k.Dropped
		}
	}

	return summary, nil
}

// HealthCheck verifies the repository is working correctly
func (r *SessionRepository) HealthCheck() error {
	var count int64
	return r.db.Model(&LinkEvent{}).Count(&count).Error
}
