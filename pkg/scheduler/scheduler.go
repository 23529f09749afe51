package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carenest/reminderd/internal/models"
)

// Source is the data-access collaborator the scheduler derives fire
// times from. Implemented by the store.
type Source interface {
	ListMedications(ctx context.Context) ([]*models.Medication, error)
	ListAppointments(ctx context.Context) ([]*models.Appointment, error)
	GetMedication(ctx context.Context, id string) (*models.Medication, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	MarkNotificationSent(ctx context.Context, id string) error
}

// Ringer surfaces a fired alarm. Implemented by the alarm controller.
type Ringer interface {
	Ring(ctx context.Context, a *models.ActiveAlarm)
}

// Config holds the scheduler configuration
type Config struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ArmWindow       time.Duration `yaml:"arm_window"`
}

// DefaultConfig returns a default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval: time.Minute,
		ArmWindow:       24 * time.Hour,
	}
}

// ReminderScheduler derives future fire times from the medication and
// appointment lists and keeps exactly one armed timer per fire-time
// key. Any data change triggers a re-derivation that cancels stale
// timers strictly before arming replacements.
type ReminderScheduler struct {
	config *Config
	source Source
	ringer Ringer
	logger *slog.Logger

	// Internal state
	mu      sync.Mutex
	timers  map[string]*armedTimer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// Coalesced change-notification channel
	kickChan chan struct{}
}

// armedTimer pairs a derived fire event with its pending timer.
type armedTimer struct {
	event models.FireEvent
	timer *time.Timer
}

// NewReminderScheduler creates a new reminder scheduler
func NewReminderScheduler(config *Config, source Source, ringer Ringer, logger *slog.Logger) *ReminderScheduler {
	if config == nil {
		config = DefaultConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ReminderScheduler{
		config:   config,
		source:   source,
		ringer:   ringer,
		logger:   logger,
		timers:   make(map[string]*armedTimer),
		ctx:      ctx,
		cancel:   cancel,
		kickChan: make(chan struct{}, 1),
	}
}

// Start performs an initial derivation and begins the refresh loop.
func (s *ReminderScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting reminder scheduler",
		"refresh_interval", s.config.RefreshInterval,
		"arm_window", s.config.ArmWindow)

	s.Refresh()

	s.wg.Add(1)
	go s.run()

	return nil
}

// Stop cancels all armed timers and waits for the refresh loop to exit.
func (s *ReminderScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false

	for key, armed := range s.timers {
		armed.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.logger.Info("Reminder scheduler stopped")
	return nil
}

// Kick requests a re-derivation without blocking. Wired to the store's
// change subscription so edits take effect immediately.
func (s *ReminderScheduler) Kick() {
	select {
	case s.kickChan <- struct{}{}:
	default:
	}
}

// run refreshes on a fixed interval and whenever kicked.
func (s *ReminderScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		case <-s.kickChan:
			s.Refresh()
		}
	}
}

// Refresh re-derives the full set of fire events and reconciles the
// armed-timer registry against it. Safe to call concurrently.
func (s *ReminderScheduler) Refresh() {
	now := time.Now()
	desired := s.deriveFireEvents(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	// Cancel timers whose key vanished or whose fire time moved. Stale
	// timers stop strictly before any replacement is armed for the
	// same key.
	for key, armed := range s.timers {
		event, keep := desired[key]
		if keep && event.At.Equal(armed.event.At) {
			continue
		}
		armed.timer.Stop()
		delete(s.timers, key)
		s.logger.Debug("Cancelled stale timer", "key", key, "was", armed.event.At.Format(time.RFC3339))
	}

	for key, event := range desired {
		if _, exists := s.timers[key]; exists {
			continue
		}

		delay := event.At.Sub(now)
		if delay <= 0 || delay > s.config.ArmWindow {
			continue
		}

		s.timers[key] = &armedTimer{
			event: event,
			timer: time.AfterFunc(delay, func() {
				s.fire(event)
			}),
		}

		s.logger.Debug("Armed reminder timer",
			"key", key,
			"fire_at", event.At.Format(time.RFC3339),
			"delay", delay.Round(time.Second))
	}
}

// deriveFireEvents computes every future fire event from the current
// lists. A bad row never blocks the rest.
func (s *ReminderScheduler) deriveFireEvents(now time.Time) map[string]models.FireEvent {
	desired := make(map[string]models.FireEvent)

	medications, err := s.source.ListMedications(s.ctx)
	if err != nil {
		s.logger.Error("Failed to list medications", "error", err)
	}
	for _, med := range medications {
		events, errs := med.FireEvents(now)
		for _, derr := range errs {
			s.logger.Warn("Skipping medication reminder slot",
				"medication_id", med.ID,
				"error", derr)
		}
		for _, event := range events {
			desired[event.Key()] = event
		}
	}

	appointments, err := s.source.ListAppointments(s.ctx)
	if err != nil {
		s.logger.Error("Failed to list appointments", "error", err)
	}
	for _, appt := range appointments {
		if event := appt.FireEvent(now); event != nil {
			desired[event.Key()] = *event
		}
	}

	return desired
}

// fire runs on timer expiry. The source row is re-checked first: the
// timer may have raced an edit or delete that the registry has not
// reconciled yet, in which case the firing is discarded.
func (s *ReminderScheduler) fire(event models.FireEvent) {
	s.mu.Lock()
	if armed, ok := s.timers[event.Key()]; ok && armed.event.At.Equal(event.At) {
		delete(s.timers, event.Key())
	}
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}

	if !s.stillCurrent(event) {
		s.logger.Info("Discarding stale reminder firing",
			"key", event.Key(),
			"fire_at", event.At.Format(time.RFC3339))
		s.Kick()
		return
	}

	s.logger.Info("Reminder fired",
		"key", event.Key(),
		"kind", event.Kind,
		"title", event.Title)

	s.ringer.Ring(s.ctx, event.Alarm())

	if event.Kind == models.KindAppointment {
		if err := s.source.MarkNotificationSent(s.ctx, event.SourceID); err != nil {
			s.logger.Error("Failed to mark appointment notification sent",
				"appointment_id", event.SourceID,
				"error", err)
		}
	}

	// Re-derive so recurring medication slots re-arm for the next day
	s.Kick()
}

// stillCurrent re-validates a fire event against the live source row.
func (s *ReminderScheduler) stillCurrent(event models.FireEvent) bool {
	switch event.Kind {
	case models.KindMedication:
		med, err := s.source.GetMedication(s.ctx, event.SourceID)
		if err != nil {
			return false
		}
		if !med.Active || !med.NotifyEnabled {
			return false
		}
		if event.SlotIndex >= len(med.ReminderTimes) {
			return false
		}
		return med.ReminderTimes[event.SlotIndex] == event.Slot

	case models.KindAppointment:
		appt, err := s.source.GetAppointment(s.ctx, event.SourceID)
		if err != nil {
			return false
		}
		current := appt.FireEvent(event.At.Add(-time.Second))
		return current != nil && current.At.Equal(event.At)

	default:
		return false
	}
}

// ArmedCount returns the number of currently armed timers.
func (s *ReminderScheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// ArmedKeys returns the keys of all currently armed timers.
func (s *ReminderScheduler) ArmedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.timers))
	for key := range s.timers {
		keys = append(keys, key)
	}
	return keys
}
