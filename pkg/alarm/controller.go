package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carenest/reminderd/internal/models"
	"github.com/carenest/reminderd/pkg/metrics"
)

// State is the presentation state of the alarm surface.
type State int

const (
	// StateIdle means no alarm is present.
	StateIdle State = iota
	// StateRinging means an alarm is present and delivery is live.
	StateRinging
	// StateSnoozeMenuOpen means the snooze duration picker is open and
	// delivery is paused while the user chooses.
	StateSnoozeMenuOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateSnoozeMenuOpen:
		return "snooze_menu_open"
	default:
		return "unknown"
	}
}

// Store is the subset of the persistence layer the controller mutates
// when the user resolves an alarm.
type Store interface {
	RecordMedicationTaken(ctx context.Context, id, slot string, takenAt time.Time) error
	MarkAppointmentComplete(ctx context.Context, id string) error
}

// Publisher emits alarm lifecycle events. May be nil when event
// publishing is not configured.
type Publisher interface {
	PublishAlarmEvent(ctx context.Context, event *models.AlarmEvent) error
}

// Controller owns the alarm surface: it rings new fires into the
// holder and handles the user's resolution intents. All intents go
// through here; nothing else mutates the holder directly.
type Controller struct {
	holder        *Holder
	store         Store
	publisher     Publisher
	metrics       *metrics.Metrics
	snoozeMinutes []int
	logger        *slog.Logger

	snooze *SnoozeManager

	mu    sync.Mutex
	state State
}

// NewController wires the alarm surface together. snoozeMinutes is the
// fixed set of durations the snooze menu offers.
func NewController(holder *Holder, store Store, publisher Publisher, m *metrics.Metrics, snoozeMinutes []int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		holder:        holder,
		store:         store,
		publisher:     publisher,
		metrics:       m,
		snoozeMinutes: snoozeMinutes,
		logger:        logger,
		state:         StateIdle,
	}
	c.snooze = NewSnoozeManager(c.refire, logger)
	return c
}

// State returns the current presentation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the alarm occupying the holder, nil when idle.
func (c *Controller) Current() *models.ActiveAlarm {
	return c.holder.Get()
}

// Ring surfaces a new alarm, replacing any alarm already ringing.
func (c *Controller) Ring(ctx context.Context, a *models.ActiveAlarm) {
	c.mu.Lock()
	c.state = StateRinging
	c.mu.Unlock()

	c.holder.Set(ctx, a)
	c.metrics.ObserveFire(string(a.Kind))

	c.logger.Info("Alarm ringing",
		"alarm_id", a.ID,
		"kind", a.Kind,
		"title", a.Title)

	c.publish(ctx, "fired", a)
}

// refire is the snooze expiry path: same identity, snoozed message.
func (c *Controller) refire(a *models.ActiveAlarm) {
	c.Ring(context.Background(), a)
}

// Dismiss silences and removes the current alarm without touching the
// underlying medication or appointment. No-op when nothing is ringing.
func (c *Controller) Dismiss(ctx context.Context) {
	a := c.holder.Clear()

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	if a == nil {
		c.logger.Debug("Dismiss with no active alarm")
		return
	}

	c.logger.Info("Alarm dismissed", "alarm_id", a.ID, "kind", a.Kind)
	c.publish(ctx, "dismissed", a)
}

// OpenSnoozeMenu pauses delivery while the user picks a duration.
func (c *Controller) OpenSnoozeMenu() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRinging {
		return
	}
	c.state = StateSnoozeMenuOpen
	c.holder.PauseDelivery()
}

// CloseSnoozeMenu resumes delivery when the menu is closed without a
// choice being made.
func (c *Controller) CloseSnoozeMenu(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSnoozeMenuOpen {
		return
	}
	c.state = StateRinging
	c.holder.ResumeDelivery(ctx)
}

// Snooze clears the current alarm and arms a re-fire timer. minutes
// must be one of the configured snooze durations.
func (c *Controller) Snooze(ctx context.Context, minutes int) error {
	if !c.snoozeAllowed(minutes) {
		return fmt.Errorf("invalid snooze duration %d minutes", minutes)
	}

	a := c.holder.Clear()
	if a == nil {
		return fmt.Errorf("no active alarm to snooze")
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.snooze.Snooze(a, time.Duration(minutes)*time.Minute)
	c.metrics.ObserveSnooze()
	c.publish(ctx, "snoozed", a)
	return nil
}

func (c *Controller) snoozeAllowed(minutes int) bool {
	for _, m := range c.snoozeMinutes {
		if m == minutes {
			return true
		}
	}
	return false
}

// MarkTaken records the medication as taken and clears the alarm. On
// persistence failure the alarm stays ringing and the error is
// returned so the user can retry or dismiss explicitly.
func (c *Controller) MarkTaken(ctx context.Context) error {
	a := c.holder.Get()
	if a == nil {
		return fmt.Errorf("no active alarm to mark taken")
	}
	if a.Kind != models.KindMedication {
		return fmt.Errorf("alarm %s is not a medication reminder", a.ID)
	}

	if err := c.store.RecordMedicationTaken(ctx, a.ID, a.Slot, time.Now()); err != nil {
		c.metrics.ObservePersistenceFailure()
		c.logger.Error("Failed to record medication taken",
			"alarm_id", a.ID,
			"error", err)
		return fmt.Errorf("failed to record medication taken: %w", err)
	}

	c.holder.Clear()
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Info("Medication marked taken", "alarm_id", a.ID, "slot", a.Slot)
	c.publish(ctx, "taken", a)
	return nil
}

// Acknowledge marks the appointment complete and clears the alarm.
// Failure behaves like MarkTaken: the alarm stays put.
func (c *Controller) Acknowledge(ctx context.Context) error {
	a := c.holder.Get()
	if a == nil {
		return fmt.Errorf("no active alarm to acknowledge")
	}
	if a.Kind != models.KindAppointment {
		return fmt.Errorf("alarm %s is not an appointment reminder", a.ID)
	}

	if err := c.store.MarkAppointmentComplete(ctx, a.ID); err != nil {
		c.metrics.ObservePersistenceFailure()
		c.logger.Error("Failed to mark appointment complete",
			"alarm_id", a.ID,
			"error", err)
		return fmt.Errorf("failed to mark appointment complete: %w", err)
	}

	c.holder.Clear()
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Info("Appointment acknowledged", "alarm_id", a.ID)
	c.publish(ctx, "acknowledged", a)
	return nil
}

// Shutdown cancels pending snoozes and silences any live alarm.
func (c *Controller) Shutdown() {
	c.snooze.CancelAll()
	c.holder.Clear()

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Controller) publish(ctx context.Context, action string, a *models.ActiveAlarm) {
	if c.publisher == nil {
		return
	}

	event := &models.AlarmEvent{
		Action:   action,
		SourceID: a.ID,
		Kind:     a.Kind,
		Title:    a.Title,
		At:       time.Now(),
	}
	if err := c.publisher.PublishAlarmEvent(ctx, event); err != nil {
		c.logger.Warn("Failed to publish alarm event",
			"action", action,
			"alarm_id", a.ID,
			"error", err)
	}
}
