// Package recovery decides when advertising resumes after a session ends.
//
// Short sessions count as failures. Below MaxConsecutiveFailures the link
// re-advertises after a fixed delay; at or above it the delay grows
// exponentially from RecoveryDelayBase up to RecoveryDelayMax. Sustained
// failure (twice the threshold) escalates to a full radio-stack reset.
package recovery

import (
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/companionlink/internal/clock"
	"github.com/dbehnke/companionlink/internal/protocol"
)

// Policy holds the recovery timing, fixed at construction
type Policy struct {
	AdvertRestartDelay     time.Duration
	MaxConsecutiveFailures uint32
	RecoveryDelayBase      time.Duration
	RecoveryDelayMax       time.Duration
	StableConnection       time.Duration
	StackResetPause        time.Duration
}

// DefaultPolicy returns the firmware defaults
func DefaultPolicy() Policy {
	return Policy{
		AdvertRestartDelay:     protocol.ADVERT_RESTART_DELAY * time.Millisecond,
		MaxConsecutiveFailures: protocol.MAX_CONSECUTIVE_FAILURES,
		RecoveryDelayBase:      protocol.RECOVERY_DELAY_BASE * time.Millisecond,
		RecoveryDelayMax:       protocol.RECOVERY_DELAY_MAX * time.Millisecond,
		StableConnection:       protocol.STABLE_CONNECTION * time.Millisecond,
		StackResetPause:        protocol.STACK_RESET_PAUSE * time.Millisecond,
	}
}

// Action is what the caller must do when a scheduled restart comes due
type Action int

const (
	ActionNone Action = iota
	ActionResumeAdvertising
	ActionResetStack
)

func (a Action) String() string {
	switch a {
	case ActionResumeAdvertising:
		return "resume_advertising"
	case ActionResetStack:
		return "reset_stack"
	default:
		return "none"
	}
}

// State is a snapshot of the recovery counters
type State struct {
	ConsecutiveFailures uint32        `json:"consecutive_failures" yaml:"consecutive_failures"`
	TotalFailures       uint32        `json:"total_failures" yaml:"total_failures"`
	TotalConnections    uint32        `json:"total_connections" yaml:"total_connections"`
	TotalDisconnections uint32        `json:"total_disconnections" yaml:"total_disconnections"`
	StackResets         uint32        `json:"stack_resets" yaml:"stack_resets"`
	RecoveryActive      bool          `json:"recovery_active" yaml:"recovery_active"`
	RecoveryStartedAt   time.Time     `json:"recovery_started_at" yaml:"recovery_started_at"`
	ScheduledRestartAt  time.Time     `json:"scheduled_restart_at" yaml:"scheduled_restart_at"`
	RestartIn           time.Duration `json:"restart_in" yaml:"restart_in"`
	LastDelay           time.Duration `json:"last_delay" yaml:"last_delay"`
}

// Scheduler owns the recovery state. It is driven from the transport tick
// and is not safe for concurrent use.
type Scheduler struct {
	policy  Policy
	clock   clock.Clock
	restart *clock.Timer
	log     *zap.Logger

	consecutiveFailures uint32
	totalFailures       uint32
	totalConnections    uint32
	totalDisconnections uint32
	stackResets         uint32
	recoveryActive      bool
	recoveryStartedAt   time.Time
	lastDelay           time.Duration
}

// NewScheduler creates a scheduler with zeroed counters
func NewScheduler(policy Policy, c clock.Clock, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		policy:  policy,
		clock:   c,
		restart: clock.NewTimer(c, policy.AdvertRestartDelay),
		log:     log,
	}
}

// BackoffDelay returns the advertising restart delay for a failure streak.
// Every path that schedules a restart uses this one formula.
func (s *Scheduler) BackoffDelay(failures uint32) time.Duration {
	if failures < s.policy.MaxConsecutiveFailures {
		return s.policy.AdvertRestartDelay
	}

	exp := failures - s.policy.MaxConsecutiveFailures
	if exp >= 31 {
		return s.policy.RecoveryDelayMax
	}
	delay := s.policy.RecoveryDelayBase << exp
	if delay > s.policy.RecoveryDelayMax || delay <= 0 {
		delay = s.policy.RecoveryDelayMax
	}
	return delay
}

// RecordConnect counts a new usable session
func (s *Scheduler) RecordConnect() {
	s.totalConnections++
	s.recoveryActive = false
}

// MarkStable clears the failure streak once a session has proven itself
func (s *Scheduler) MarkStable() {
	if s.consecutiveFailures > 0 || s.recoveryActive {
		s.log.Debug("recovery: session stable, clearing failure streak",
			zap.Uint32("previous_failures", s.consecutiveFailures))
	}
	s.consecutiveFailures = 0
	s.recoveryActive = false
}

// RecordFailure adds one failure to the streak without scheduling anything
func (s *Scheduler) RecordFailure() {
	s.consecutiveFailures++
	s.totalFailures++
}

// RecordDisconnect counts a finished link. A flapping link also counts as
// a failure. Nothing is scheduled.
func (s *Scheduler) RecordDisconnect(flapping bool) {
	s.totalDisconnections++

	if flapping {
		s.RecordFailure()
		s.log.Debug("recovery: short session counted as failure",
			zap.Uint32("consecutive_failures", s.consecutiveFailures))
	}
}

// OnDisconnect applies the disconnect policy and arms the restart timer.
// Returns the chosen delay.
func (s *Scheduler) OnDisconnect(flapping bool) time.Duration {
	s.RecordDisconnect(flapping)
	return s.Schedule()
}

// Schedule arms the restart timer using the current failure streak
func (s *Scheduler) Schedule() time.Duration {
	now := s.clock.Now()
	delay := s.BackoffDelay(s.consecutiveFailures)

	if s.consecutiveFailures >= s.policy.MaxConsecutiveFailures {
		if !s.recoveryActive {
			s.recoveryStartedAt = now
		}
		s.recoveryActive = true
		s.log.Info("recovery: backing off",
			zap.Duration("delay", delay),
			zap.Uint32("consecutive_failures", s.consecutiveFailures))
	}

	s.lastDelay = delay
	s.restart.SetTimeout(delay)
	s.restart.StartAt(now)
	return delay
}

// ScheduleAfter arms the restart timer with an explicit delay
func (s *Scheduler) ScheduleAfter(delay time.Duration) {
	s.lastDelay = delay
	s.restart.StartWith(delay)
}

// Due reports whether a scheduled restart may run now. A restart never runs
// while a peer is still attached.
func (s *Scheduler) Due(peerAttached bool) bool {
	return !peerAttached && s.restart.HasExpired()
}

// Restart consumes a due restart and returns what the caller must do.
// Under sustained failure it escalates to a stack reset, clamps the streak
// back to the threshold and re-arms itself for after the reset pause.
func (s *Scheduler) Restart() Action {
	if !s.restart.HasExpired() {
		return ActionNone
	}
	s.restart.Stop()

	if s.recoveryActive {
		s.log.Info("recovery: restart after backoff",
			zap.Duration("since_recovery_start", s.clock.Now().Sub(s.recoveryStartedAt)))
	} else {
		s.log.Debug("recovery: normal restart")
	}

	if s.consecutiveFailures >= 2*s.policy.MaxConsecutiveFailures {
		s.log.Warn("recovery: too many failures, resetting radio stack",
			zap.Uint32("consecutive_failures", s.consecutiveFailures))
		s.consecutiveFailures = s.policy.MaxConsecutiveFailures
		s.stackResets++
		s.ScheduleAfter(s.policy.StackResetPause)
		return ActionResetStack
	}
	return ActionResumeAdvertising
}

// Clear cancels any scheduled restart
func (s *Scheduler) Clear() {
	s.restart.Stop()
}

// ScheduledAt returns the armed restart time, zero when none
func (s *Scheduler) ScheduledAt() time.Time {
	return s.restart.Deadline()
}

func (s *Scheduler) ConsecutiveFailures() uint32 { return s.consecutiveFailures }
func (s *Scheduler) RecoveryActive() bool        { return s.recoveryActive }

// Snapshot returns a copy of the counters
func (s *Scheduler) Snapshot() State {
	return State{
		ConsecutiveFailures: s.consecutiveFailures,
		TotalFailures:       s.totalFailures,
		TotalConnections:    s.totalConnections,
		TotalDisconnections: s.totalDisconnections,
		StackResets:         s.stackResets,
		RecoveryActive:      s.recoveryActive,
		RecoveryStartedAt:   s.recoveryStartedAt,
		ScheduledRestartAt:  s.ScheduledAt(),
		RestartIn:           s.restart.Remaining(),
		LastDelay:           s.lastDelay,
	}
}
