package alarm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/carenest/reminderd/internal/models"
)

// Sounder delivers an alarm through the audio and notification tiers.
// Start replaces any delivery already in progress, so a Sounder never
// has two deliveries audible at once.
type Sounder interface {
	Start(ctx context.Context, a *models.ActiveAlarm)
	Pause()
	Resume(ctx context.Context)
	StopAll()
}

// Holder is the single active-alarm slot. At most one interruptive
// alarm is visible at a time; a new fire replaces the previous one
// rather than queueing behind it.
type Holder struct {
	sounder Sounder
	logger  *slog.Logger

	mu    sync.Mutex
	alarm *models.ActiveAlarm
}

// NewHolder creates an empty alarm slot backed by the given sounder.
func NewHolder(sounder Sounder, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{
		sounder: sounder,
		logger:  logger,
	}
}

// Set installs a new active alarm, replacing any previous one. The
// sounder stops the previous delivery before the new one starts.
func (h *Holder) Set(ctx context.Context, a *models.ActiveAlarm) {
	h.mu.Lock()
	prev := h.alarm
	h.alarm = a
	h.mu.Unlock()

	if prev != nil {
		h.logger.Info("Replacing active alarm",
			"previous_id", prev.ID,
			"alarm_id", a.ID,
			"kind", a.Kind)
	}

	h.sounder.Start(ctx, a)
}

// Get returns the current active alarm, or nil when the slot is empty.
func (h *Holder) Get() *models.ActiveAlarm {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alarm
}

// Clear empties the slot and stops any live delivery. Returns the
// alarm that was removed, or nil if the slot was already empty.
func (h *Holder) Clear() *models.ActiveAlarm {
	h.mu.Lock()
	a := h.alarm
	h.alarm = nil
	h.mu.Unlock()

	h.sounder.StopAll()
	return a
}

// PauseDelivery silences delivery without emptying the slot.
func (h *Holder) PauseDelivery() {
	h.sounder.Pause()
}

// ResumeDelivery restarts a paused delivery.
func (h *Holder) ResumeDelivery(ctx context.Context) {
	h.sounder.Resume(ctx)
}
