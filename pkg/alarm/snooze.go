package alarm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/carenest/reminderd/internal/models"
)

// SnoozeManager defers alarms by a fixed delay. Each snooze captures
// the alarm's identity and message at snooze time and arms a single
// one-shot timer; a second snooze for the same alarm id before the
// first expires supersedes it.
type SnoozeManager struct {
	fire   func(*models.ActiveAlarm)
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewSnoozeManager creates a snooze manager. The fire callback is
// invoked from the timer goroutine when a snooze expires.
func NewSnoozeManager(fire func(*models.ActiveAlarm), logger *slog.Logger) *SnoozeManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnoozeManager{
		fire:   fire,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Snooze arms a re-fire timer for the alarm. Any pending snooze for
// the same alarm id is cancelled first.
func (m *SnoozeManager) Snooze(a *models.ActiveAlarm, delay time.Duration) {
	snoozed := *a
	snoozed.VoiceScript = "Snooze reminder: " + a.Message

	m.mu.Lock()
	if prev, ok := m.timers[a.ID]; ok {
		prev.Stop()
		m.logger.Debug("Superseding pending snooze", "alarm_id", a.ID)
	}
	m.timers[a.ID] = time.AfterFunc(delay, func() {
		m.expire(&snoozed)
	})
	m.mu.Unlock()

	m.logger.Info("Alarm snoozed",
		"alarm_id", a.ID,
		"kind", a.Kind,
		"delay", delay)
}

func (m *SnoozeManager) expire(a *models.ActiveAlarm) {
	m.mu.Lock()
	delete(m.timers, a.ID)
	m.mu.Unlock()

	m.logger.Info("Snooze expired, re-firing alarm", "alarm_id", a.ID)
	m.fire(a)
}

// Pending returns the number of outstanding snooze timers.
func (m *SnoozeManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Cancel drops a pending snooze for the alarm id, if any.
func (m *SnoozeManager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
}

// CancelAll stops every pending snooze timer. Used on shutdown.
func (m *SnoozeManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}
