package clock

import "time"

// Timer is a polled one-shot deadline measured against a Clock.
// Nothing fires; callers ask HasExpired on their own tick.
type Timer struct {
	clock    Clock
	timeout  time.Duration
	deadline time.Time
	running  bool
}

// NewTimer creates a stopped timer with the given default timeout
func NewTimer(c Clock, timeout time.Duration) *Timer {
	return &Timer{clock: c, timeout: timeout}
}

// SetTimeout sets the duration used by the next Start
func (t *Timer) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// Timeout returns the configured duration
func (t *Timer) Timeout() time.Duration {
	return t.timeout
}

// Start arms the timer using the configured timeout
func (t *Timer) Start() {
	t.StartAt(t.clock.Now())
}

// StartAt arms the timer as if it had been started at from
func (t *Timer) StartAt(from time.Time) {
	t.deadline = from.Add(t.timeout)
	t.running = true
}

// StartWith arms the timer with a one-off timeout
func (t *Timer) StartWith(timeout time.Duration) {
	t.timeout = timeout
	t.Start()
}

// Stop disarms the timer
func (t *Timer) Stop() {
	t.running = false
	t.deadline = time.Time{}
}

// IsRunning returns true if the timer is armed
func (t *Timer) IsRunning() bool {
	return t.running
}

// HasExpired reports whether an armed timer has reached its deadline.
// A stopped timer never reports expiry.
func (t *Timer) HasExpired() bool {
	if !t.running {
		return false
	}
	return !t.clock.Now().Before(t.deadline)
}

// Deadline returns the armed deadline, zero when stopped
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// Remaining returns the time left before expiry, zero when stopped or expired
func (t *Timer) Remaining() time.Duration {
	if !t.running {
		return 0
	}
	remaining := t.deadline.Sub(t.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
