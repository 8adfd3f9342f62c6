package database

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dbehnke/companionlink/internal/transport"
)

// journalBuffer is how many events may wait for the writer
const journalBuffer = 64

// Journal persists transport events. Handle never blocks the transport
// tick: events are queued for a writer goroutine and dropped when the queue
// is full.
type Journal struct {
	repo *SessionRepository
	log  *zap.Logger

	events  chan transport.Event
	dropped atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once
}

// NewJournal starts the writer goroutine
func NewJournal(repo *SessionRepository, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	j := &Journal{
		repo:   repo,
		log:    log,
		events: make(chan transport.Event, journalBuffer),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

// Handle queues ev for writing. Its signature matches transport.EventHandler.
func (j *Journal) Handle(ev transport.Event) {
	select {
	case j.events <- ev:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.log.Warn("journal queue full, event dropped", zap.Uint64("dropped", n))
		}
	}
}

// Dropped returns how many events were lost to a full queue
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close writes every queued event and stops the writer. Handle must not be
// called afterwards.
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.events)
		j.wg.Wait()
	})
}

func (j *Journal) run() {
	defer j.wg.Done()
	for ev := range j.events {
		if err := j.write(ev); err != nil {
			j.log.Warn("journal write failed", zap.String("kind", ev.Kind.String()), zap.Error(err))
		}
	}
}

func (j *Journal) write(ev transport.Event) error {
	switch ev.Kind {
	case transport.EventDisconnected:
		start := ev.SessionStart
		if start.IsZero() {
			start = ev.At.Add(-ev.Duration)
		}
		return j.repo.RecordSession(&SessionRecord{
			StartedAt:           start,
			EndedAt:             ev.At,
			DurationMs:          ev.Duration.Milliseconds(),
			Flapping:            ev.Flapping,
			Reason:              ev.Reason,
			FramesSent:          ev.FramesSent,
			FramesReceived:      ev.FramesReceived,
			RestartDelayMs:      ev.RestartDelay.Milliseconds(),
			ConsecutiveFailures: ev.ConsecutiveFailures,
		})
	default:
		return j.repo.RecordEvent(&LinkEvent{
			At:                  ev.At,
			Kind:                ev.Kind.String(),
			ConsecutiveFailures: ev.ConsecutiveFailures,
			Dropped:             ev.Dropped,
			IdleMs:              ev.Duration.Milliseconds(),
		})
	}
}
