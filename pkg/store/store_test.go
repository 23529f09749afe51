package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/carenest/reminderd/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "reminderd.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMedicationCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	med := &models.Medication{
		Name:          "Lisinopril",
		Dosage:        "10mg",
		Instructions:  "Take with water",
		ReminderTimes: []string{"08:00", "20:00"},
		Active:        true,
		NotifyEnabled: true,
		SoundAlert:    true,
	}

	if err := s.CreateMedication(ctx, med); err != nil {
		t.Fatalf("Failed to create medication: %v", err)
	}
	if med.ID == "" {
		t.Fatal("Expected an id to be assigned")
	}

	got, err := s.GetMedication(ctx, med.ID)
	if err != nil {
		t.Fatalf("Failed to get medication: %v", err)
	}
	if got.Name != "Lisinopril" || got.Dosage != "10mg" {
		t.Errorf("Unexpected medication: %+v", got)
	}
	if len(got.ReminderTimes) != 2 || got.ReminderTimes[0] != "08:00" {
		t.Errorf("Unexpected reminder times: %v", got.ReminderTimes)
	}
	if got.LastTaken != nil {
		t.Error("Expected no last taken time on a new medication")
	}

	got.Dosage = "20mg"
	got.ReminderTimes = []string{"09:00"}
	if err := s.UpdateMedication(ctx, got); err != nil {
		t.Fatalf("Failed to update medication: %v", err)
	}

	updated, err := s.GetMedication(ctx, med.ID)
	if err != nil {
		t.Fatalf("Failed to get updated medication: %v", err)
	}
	if updated.Dosage != "20mg" || len(updated.ReminderTimes) != 1 {
		t.Errorf("Update not applied: %+v", updated)
	}

	if err := s.DeleteMedication(ctx, med.ID); err != nil {
		t.Fatalf("Failed to delete medication: %v", err)
	}
	if _, err := s.GetMedication(ctx, med.ID); err == nil {
		t.Error("Expected get of deleted medication to fail")
	}
}

func TestRecordMedicationTaken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	med := &models.Medication{Name: "Metformin", Active: true, NotifyEnabled: true}
	if err := s.CreateMedication(ctx, med); err != nil {
		t.Fatalf("Failed to create medication: %v", err)
	}

	takenAt := time.Now().Truncate(time.Second)
	if err := s.RecordMedicationTaken(ctx, med.ID, "08:00", takenAt); err != nil {
		t.Fatalf("Failed to record taken: %v", err)
	}

	got, err := s.GetMedication(ctx, med.ID)
	if err != nil {
		t.Fatalf("Failed to get medication: %v", err)
	}
	if got.LastTaken == nil {
		t.Fatal("Expected last taken to be set")
	}

	history, err := s.ListHistory(ctx, med.ID, 10)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	if history[0].ScheduledSlot != "08:00" {
		t.Errorf("Expected scheduled slot 08:00, got %q", history[0].ScheduledSlot)
	}

	// Unknown medication leaves no partial history behind
	if err := s.RecordMedicationTaken(ctx, "nope", "", time.Now()); err == nil {
		t.Error("Expected recording for unknown medication to fail")
	}
	history, err = s.ListHistory(ctx, "nope", 10)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected rollback to drop the history entry, got %d", len(history))
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	appt := &models.Appointment{
		DoctorName:      "Patel",
		Type:            "checkup",
		When:            time.Now().Add(48 * time.Hour).Truncate(time.Second),
		ReminderMinutes: 30,
		NotifyEnabled:   true,
	}

	if err := s.CreateAppointment(ctx, appt); err != nil {
		t.Fatalf("Failed to create appointment: %v", err)
	}

	list, err := s.ListAppointments(ctx)
	if err != nil {
		t.Fatalf("Failed to list appointments: %v", err)
	}
	if len(list) != 1 || list[0].DoctorName != "Patel" {
		t.Fatalf("Unexpected appointment list: %+v", list)
	}

	if err := s.MarkNotificationSent(ctx, appt.ID); err != nil {
		t.Fatalf("Failed to mark notification sent: %v", err)
	}
	got, err := s.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("Failed to get appointment: %v", err)
	}
	if !got.NotificationSent {
		t.Error("Expected notification_sent to be set")
	}

	if err := s.MarkAppointmentComplete(ctx, appt.ID); err != nil {
		t.Fatalf("Failed to mark complete: %v", err)
	}

	// Completed appointments drop out of the scheduler's view
	list, err = s.ListAppointments(ctx)
	if err != nil {
		t.Fatalf("Failed to list appointments: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected completed appointment to be excluded, got %d", len(list))
	}

	if err := s.MarkAppointmentComplete(ctx, "nope"); err == nil {
		t.Error("Expected marking unknown appointment to fail")
	}
}

func TestUpsertImportedAppointment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	appt := &models.Appointment{
		DoctorName:    "Chen",
		Type:          "dental",
		When:          time.Now().Add(72 * time.Hour).Truncate(time.Second),
		NotifyEnabled: true,
		SourceUID:     "uid-123@clinic.example.com",
	}

	created, err := s.UpsertImportedAppointment(ctx, appt)
	if err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if !created {
		t.Error("Expected first upsert to create a row")
	}

	// Same UID again updates in place instead of duplicating
	appt2 := &models.Appointment{
		DoctorName:    "Chen",
		Type:          "dental",
		When:          appt.When.Add(time.Hour),
		NotifyEnabled: true,
		SourceUID:     "uid-123@clinic.example.com",
	}
	created, err = s.UpsertImportedAppointment(ctx, appt2)
	if err != nil {
		t.Fatalf("Failed to upsert again: %v", err)
	}
	if created {
		t.Error("Expected second upsert to update, not create")
	}

	list, err := s.ListAppointments(ctx)
	if err != nil {
		t.Fatalf("Failed to list appointments: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected exactly 1 appointment after re-import, got %d", len(list))
	}
	if !list[0].When.Equal(appt.When.Add(time.Hour)) {
		t.Errorf("Expected re-import to move the appointment time, got %v", list[0].When)
	}

	if _, err := s.UpsertImportedAppointment(ctx, &models.Appointment{DoctorName: "X"}); err == nil {
		t.Error("Expected upsert without a source uid to fail")
	}
}

func TestUpsertImportedAppointmentKeepsResolutionFlags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	when := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	feedEvent := func() *models.Appointment {
		return &models.Appointment{
			DoctorName:    "Patel",
			Type:          "checkup",
			When:          when,
			NotifyEnabled: true,
			SourceUID:     "uid-777@clinic.example.com",
		}
	}

	first := feedEvent()
	if _, err := s.UpsertImportedAppointment(ctx, first); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	if err := s.MarkNotificationSent(ctx, first.ID); err != nil {
		t.Fatalf("Failed to mark notification sent: %v", err)
	}
	if err := s.MarkAppointmentComplete(ctx, first.ID); err != nil {
		t.Fatalf("Failed to mark complete: %v", err)
	}

	// Re-importing the unchanged feed event must not reopen the
	// appointment or re-arm its reminder
	if _, err := s.UpsertImportedAppointment(ctx, feedEvent()); err != nil {
		t.Fatalf("Failed to re-upsert: %v", err)
	}

	got, err := s.GetAppointment(ctx, first.ID)
	if err != nil {
		t.Fatalf("Failed to fetch appointment: %v", err)
	}
	if !got.NotificationSent {
		t.Error("Re-import reset notification_sent")
	}
	if !got.Completed {
		t.Error("Re-import reset completed")
	}

	// When the event moves, the reminder re-arms but the completion
	// state still belongs to the user
	moved := feedEvent()
	moved.When = when.Add(2 * time.Hour)
	if _, err := s.UpsertImportedAppointment(ctx, moved); err != nil {
		t.Fatalf("Failed to upsert moved event: %v", err)
	}

	got, err = s.GetAppointment(ctx, first.ID)
	if err != nil {
		t.Fatalf("Failed to fetch appointment: %v", err)
	}
	if got.NotificationSent {
		t.Error("Expected moved appointment to re-arm its reminder")
	}
	if !got.Completed {
		t.Error("Expected completion to survive a rescheduled import")
	}
}

func TestSubscribeNotifiesOnMutation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var notified int
	s.Subscribe(func() { notified++ })

	med := &models.Medication{Name: "Aspirin", Active: true}
	if err := s.CreateMedication(ctx, med); err != nil {
		t.Fatalf("Failed to create medication: %v", err)
	}
	if notified != 1 {
		t.Errorf("Expected 1 notification after create, got %d", notified)
	}

	if err := s.UpdateMedication(ctx, med); err != nil {
		t.Fatalf("Failed to update medication: %v", err)
	}
	if notified != 2 {
		t.Errorf("Expected 2 notifications after update, got %d", notified)
	}

	// Reads do not notify
	if _, err := s.ListMedications(ctx); err != nil {
		t.Fatalf("Failed to list medications: %v", err)
	}
	if notified != 2 {
		t.Errorf("Expected no notification from a read, got %d", notified)
	}
}
