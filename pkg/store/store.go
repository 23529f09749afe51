package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/carenest/reminderd/internal/models"
)

// HistoryEntry records one medication dose the user confirmed taking.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	MedicationID  string    `json:"medication_id"`
	ScheduledSlot string    `json:"scheduled_slot,omitempty"`
	TakenAt       time.Time `json:"taken_at"`
}

// Store is the SQLite-backed persistence layer for medications,
// appointments, and dose history. Mutations notify subscribers so the
// scheduler can re-derive its timers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu          sync.Mutex
	subscribers []func()
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS medications (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			dosage TEXT NOT NULL DEFAULT '',
			instructions TEXT NOT NULL DEFAULT '',
			reminder_times TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			enable_notifications BOOLEAN NOT NULL DEFAULT 1,
			sound_alert BOOLEAN NOT NULL DEFAULT 1,
			last_taken DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			doctor_name TEXT NOT NULL,
			appointment_type TEXT NOT NULL DEFAULT '',
			appointment_date DATETIME NOT NULL,
			reminder_minutes INTEGER NOT NULL DEFAULT 30,
			notes TEXT NOT NULL DEFAULT '',
			enable_notifications BOOLEAN NOT NULL DEFAULT 1,
			notification_sent BOOLEAN NOT NULL DEFAULT 0,
			completed BOOLEAN NOT NULL DEFAULT 0,
			source_uid TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS medication_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			medication_id TEXT NOT NULL,
			scheduled_slot TEXT NOT NULL DEFAULT '',
			taken_at DATETIME NOT NULL,
			FOREIGN KEY (medication_id) REFERENCES medications (id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_date ON appointments(appointment_date)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_source_uid ON appointments(source_uid) WHERE source_uid != ''`,
		`CREATE INDEX IF NOT EXISTS idx_history_medication ON medication_history(medication_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// Subscribe registers a callback invoked after every mutation. Used by
// the scheduler to re-derive timers when rows change.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) notify() {
	s.mu.Lock()
	subscribers := make([]func(), len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn()
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMedication inserts a medication, assigning an id if empty.
func (s *Store) CreateMedication(ctx context.Context, m *models.Medication) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	times, err := json.Marshal(m.ReminderTimes)
	if err != nil {
		return fmt.Errorf("failed to encode reminder times: %w", err)
	}

	query := `INSERT INTO medications (id, name, dosage, instructions, reminder_times, is_active, enable_notifications, sound_alert, last_taken)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query, m.ID, m.Name, m.Dosage, m.Instructions,
		string(times), m.Active, m.NotifyEnabled, m.SoundAlert, m.LastTaken)
	if err != nil {
		return fmt.Errorf("failed to create medication: %w", err)
	}

	s.notify()
	return nil
}

// GetMedication fetches a single medication by id.
func (s *Store) GetMedication(ctx context.Context, id string) (*models.Medication, error) {
	query := `SELECT id, name, dosage, instructions, reminder_times, is_active, enable_notifications, sound_alert, last_taken
			  FROM medications WHERE id = ?`

	m, err := scanMedication(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get medication %s: %w", id, err)
	}
	return m, nil
}

// ListMedications returns all medications, newest first.
func (s *Store) ListMedications(ctx context.Context) ([]*models.Medication, error) {
	query := `SELECT id, name, dosage, instructions, reminder_times, is_active, enable_notifications, sound_alert, last_taken
			  FROM medications ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	defer rows.Close()

	var medications []*models.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		medications = append(medications, m)
	}

	return medications, rows.Err()
}

// UpdateMedication replaces all mutable fields of a medication.
func (s *Store) UpdateMedication(ctx context.Context, m *models.Medication) error {
	times, err := json.Marshal(m.ReminderTimes)
	if err != nil {
		return fmt.Errorf("failed to encode reminder times: %w", err)
	}

	query := `UPDATE medications SET name = ?, dosage = ?, instructions = ?, reminder_times = ?,
			  is_active = ?, enable_notifications = ?, sound_alert = ?, last_taken = ?, updated_at = CURRENT_TIMESTAMP
			  WHERE id = ?`

	_, err = s.db.ExecContext(ctx, query, m.Name, m.Dosage, m.Instructions, string(times),
		m.Active, m.NotifyEnabled, m.SoundAlert, m.LastTaken, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update medication %s: %w", m.ID, err)
	}

	s.notify()
	return nil
}

// DeleteMedication removes a medication and its history.
func (s *Store) DeleteMedication(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM medication_history WHERE medication_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete medication history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete medication %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.notify()
	return nil
}

// RecordMedicationTaken appends a history entry and stamps last_taken,
// atomically.
func (s *Store) RecordMedicationTaken(ctx context.Context, id, slot string, takenAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO medication_history (medication_id, scheduled_slot, taken_at) VALUES (?, ?, ?)`,
		id, slot, takenAt); err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE medications SET last_taken = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		takenAt, id)
	if err != nil {
		return fmt.Errorf("failed to update last taken: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("medication %s not found", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.notify()
	return nil
}

// ListHistory returns the most recent dose records for a medication.
func (s *Store) ListHistory(ctx context.Context, medicationID string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, medication_id, scheduled_slot, taken_at
			  FROM medication_history WHERE medication_id = ? ORDER BY taken_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, medicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry := &HistoryEntry{}
		if err := rows.Scan(&entry.ID, &entry.MedicationID, &entry.ScheduledSlot, &entry.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CreateAppointment inserts an appointment, assigning an id if empty.
func (s *Store) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `INSERT INTO appointments (id, doctor_name, appointment_type, appointment_date, reminder_minutes, notes, enable_notifications, notification_sent, completed, source_uid)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, a.ID, a.DoctorName, a.Type, a.When,
		a.ReminderMinutes, a.Notes, a.NotifyEnabled, a.NotificationSent, a.Completed, a.SourceUID)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	s.notify()
	return nil
}

// GetAppointment fetches a single appointment by id.
func (s *Store) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT id, doctor_name, appointment_type, appointment_date, reminder_minutes, notes, enable_notifications, notification_sent, completed, source_uid
			  FROM appointments WHERE id = ?`

	a, err := scanAppointment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment %s: %w", id, err)
	}
	return a, nil
}

// ListAppointments returns all appointments not yet marked complete,
// soonest first.
func (s *Store) ListAppointments(ctx context.Context) ([]*models.Appointment, error) {
	query := `SELECT id, doctor_name, appointment_type, appointment_date, reminder_minutes, notes, enable_notifications, notification_sent, completed, source_uid
			  FROM appointments WHERE completed = 0 ORDER BY appointment_date ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}

	return appointments, rows.Err()
}

// UpdateAppointment replaces all mutable fields of an appointment.
func (s *Store) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	query := `UPDATE appointments SET doctor_name = ?, appointment_type = ?, appointment_date = ?,
			  reminder_minutes = ?, notes = ?, enable_notifications = ?, notification_sent = ?,
			  completed = ?, updated_at = CURRENT_TIMESTAMP
			  WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, a.DoctorName, a.Type, a.When, a.ReminderMinutes,
		a.Notes, a.NotifyEnabled, a.NotificationSent, a.Completed, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update appointment %s: %w", a.ID, err)
	}

	s.notify()
	return nil
}

// DeleteAppointment removes an appointment.
func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete appointment %s: %w", id, err)
	}

	s.notify()
	return nil
}

// MarkNotificationSent flags an appointment's reminder as delivered so
// it does not fire again.
func (s *Store) MarkNotificationSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET notification_sent = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent for %s: %w", id, err)
	}
	return nil
}

// MarkAppointmentComplete marks an appointment as done.
func (s *Store) MarkAppointmentComplete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET completed = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark appointment complete: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("appointment %s not found", id)
	}

	s.notify()
	return nil
}

// UpsertImportedAppointment inserts a calendar-feed appointment or
// refreshes an existing row with the same source UID. Returns true when
// a new row was created.
func (s *Store) UpsertImportedAppointment(ctx context.Context, a *models.Appointment) (bool, error) {
	if a.SourceUID == "" {
		return false, fmt.Errorf("imported appointment has no source uid")
	}

	var existingID string
	var when time.Time
	var sent, completed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT id, appointment_date, notification_sent, completed
		 FROM appointments WHERE source_uid = ?`, a.SourceUID).
		Scan(&existingID, &when, &sent, &completed)
	switch {
	case err == sql.ErrNoRows:
		if err := s.CreateAppointment(ctx, a); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up imported appointment: %w", err)
	}

	// A re-import must not erase what the user or the reminder pipeline
	// already resolved. The sent flag resets only when the event moved.
	a.ID = existingID
	a.Completed = completed
	if a.When.Equal(when) {
		a.NotificationSent = sent
	}
	if err := s.UpdateAppointment(ctx, a); err != nil {
		return false, err
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedication(row rowScanner) (*models.Medication, error) {
	m := &models.Medication{}
	var times string
	var lastTaken sql.NullTime

	if err := row.Scan(&m.ID, &m.Name, &m.Dosage, &m.Instructions, &times,
		&m.Active, &m.NotifyEnabled, &m.SoundAlert, &lastTaken); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(times), &m.ReminderTimes); err != nil {
		return nil, fmt.Errorf("invalid reminder times for %s: %w", m.ID, err)
	}
	if lastTaken.Valid {
		t := lastTaken.Time
		m.LastTaken = &t
	}
	return m, nil
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	a := &models.Appointment{}
	if err := row.Scan(&a.ID, &a.DoctorName, &a.Type, &a.When, &a.ReminderMinutes,
		&a.Notes, &a.NotifyEnabled, &a.NotificationSent, &a.Completed, &a.SourceUID); err != nil {
		return nil, err
	}
	return a, nil
}
