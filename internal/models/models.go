package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceKind identifies which kind of reminder source produced an alarm.
type SourceKind string

const (
	KindMedication  SourceKind = "medication"
	KindAppointment SourceKind = "appointment"
)

// DefaultReminderMinutes is the appointment lead time used when none is set.
const DefaultReminderMinutes = 30

// Medication represents a medication with its reminder schedule
type Medication struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Dosage        string     `json:"dosage"`
	Instructions  string     `json:"instructions,omitempty"`
	ReminderTimes []string   `json:"reminder_times"` // "HH:MM", local time
	Active        bool       `json:"is_active"`
	NotifyEnabled bool       `json:"enable_notifications"`
	SoundAlert    bool       `json:"sound_alert"`
	LastTaken     *time.Time `json:"last_taken,omitempty"`
}

// Appointment represents a doctor appointment with an optional pre-reminder
type Appointment struct {
	ID               string    `json:"id"`
	DoctorName       string    `json:"doctor_name"`
	Type             string    `json:"appointment_type"`
	When             time.Time `json:"appointment_date"`
	ReminderMinutes  int       `json:"reminder_minutes"`
	Notes            string    `json:"notes,omitempty"`
	NotifyEnabled    bool      `json:"enable_notifications"`
	NotificationSent bool      `json:"notification_sent"`
	Completed        bool      `json:"completed"`
	SourceUID        string    `json:"source_uid,omitempty"` // calendar-feed UID for import de-duplication
}

// FireEvent is a computed future instant at which a reminder should alert
// the user. It is derived, never persisted.
type FireEvent struct {
	SourceID    string     `json:"source_id"`
	Kind        SourceKind `json:"kind"`
	At          time.Time  `json:"at"`
	SlotIndex   int        `json:"slot_index"` // medication reminder-time index, 0 for appointments
	Slot        string     `json:"slot,omitempty"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	VoiceScript string     `json:"voice_script"`
	SoundAlert  bool       `json:"sound_alert"`
}

// Key returns the stable identity of the event's timer slot.
// At most one armed timer may exist per key at any moment.
func (f *FireEvent) Key() string {
	return fmt.Sprintf("%s:%s:%d", f.Kind, f.SourceID, f.SlotIndex)
}

// Alarm converts the fire event into the alarm it should surface.
func (f *FireEvent) Alarm() *ActiveAlarm {
	return &ActiveAlarm{
		ID:          f.SourceID,
		Kind:        f.Kind,
		Title:       f.Title,
		Message:     f.Body,
		VoiceScript: f.VoiceScript,
		ScheduledAt: f.At,
		Slot:        f.Slot,
		SoundAlert:  f.SoundAlert,
	}
}

// ActiveAlarm is the single currently-displayed interruptive reminder.
type ActiveAlarm struct {
	ID          string     `json:"id"`
	Kind        SourceKind `json:"kind"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	VoiceScript string     `json:"voice_script"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Slot        string     `json:"slot,omitempty"` // "HH:MM" label for history de-duplication
	SoundAlert  bool       `json:"sound_alert"`
}

// AlarmEvent is the lifecycle record published for an alarm occurrence.
type AlarmEvent struct {
	Action   string     `json:"action"` // fired, snoozed, dismissed, taken, acknowledged
	SourceID string     `json:"source_id"`
	Kind     SourceKind `json:"kind"`
	Title    string     `json:"title"`
	At       time.Time  `json:"at"`
}

// ParseClock parses an "HH:MM" reminder time.
func ParseClock(clock string) (hour, minute int, err error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid reminder time %q", clock)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid reminder time %q: %v", clock, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid reminder time %q: %v", clock, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("reminder time %q out of range", clock)
	}
	return hour, minute, nil
}

// NextOccurrence returns the next instant at or after now matching the
// given "HH:MM" clock time: today if the time has not yet passed, else
// tomorrow.
func NextOccurrence(clock string, now time.Time) (time.Time, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// Notifiable reports whether the medication can produce fire events at all.
func (m *Medication) Notifiable() bool {
	return m.Active && m.NotifyEnabled && len(m.ReminderTimes) > 0
}

// FireEvents derives one upcoming fire event per reminder clock-time.
// A malformed clock time skips that slot and is reported in the returned
// error list; valid slots are unaffected.
func (m *Medication) FireEvents(now time.Time) ([]FireEvent, []error) {
	if !m.Notifiable() {
		return nil, nil
	}

	var (
		events []FireEvent
		errs   []error
	)
	for i, clock := range m.ReminderTimes {
		at, err := NextOccurrence(clock, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("medication %s slot %d: %w", m.ID, i, err))
			continue
		}
		events = append(events, FireEvent{
			SourceID:    m.ID,
			Kind:        KindMedication,
			At:          at,
			SlotIndex:   i,
			Slot:        clock,
			Title:       "Medication Reminder",
			Body:        fmt.Sprintf("Time to take %s (%s)", m.Name, m.Dosage),
			VoiceScript: m.voiceScript(),
			SoundAlert:  m.SoundAlert,
		})
	}
	return events, errs
}

func (m *Medication) voiceScript() string {
	script := fmt.Sprintf("Medication reminder. Time to take %s, %s.", m.Name, m.Dosage)
	if m.Instructions != "" {
		script += " " + m.Instructions
	}
	return script
}

// Notifiable reports whether the appointment can still produce a fire event.
func (a *Appointment) Notifiable() bool {
	return a.NotifyEnabled && !a.NotificationSent && !a.Completed
}

// LeadMinutes returns the reminder offset, applying the default when unset.
func (a *Appointment) LeadMinutes() int {
	if a.ReminderMinutes <= 0 {
		return DefaultReminderMinutes
	}
	return a.ReminderMinutes
}

// FireEvent derives the single pre-appointment fire event, or nil if the
// reminder instant has already passed or notifications are disabled or
// already sent.
func (a *Appointment) FireEvent(now time.Time) *FireEvent {
	if !a.Notifiable() {
		return nil
	}

	lead := a.LeadMinutes()
	at := a.When.Add(-time.Duration(lead) * time.Minute)
	if !at.After(now) {
		return nil
	}

	return &FireEvent{
		SourceID:    a.ID,
		Kind:        KindAppointment,
		At:          at,
		SlotIndex:   0,
		Title:       "Appointment Reminder",
		Body:        fmt.Sprintf("You have an appointment with Dr. %s in %d minutes", a.DoctorName, lead),
		VoiceScript: a.voiceScript(lead),
		SoundAlert:  true,
	}
}

func (a *Appointment) voiceScript(lead int) string {
	script := fmt.Sprintf("Appointment reminder. You have a %s appointment with Doctor %s in %d minutes.",
		a.Type, a.DoctorName, lead)
	if a.Notes != "" {
		script += " " + a.Notes
	}
	return script
}
