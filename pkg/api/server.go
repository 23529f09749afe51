// Package api exposes the daemon's local control surface over HTTP:
// medication and appointment management plus the intents that resolve a
// ringing alarm. It is meant to bind to a loopback address for the UI
// process; there is no authentication.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/carenest/reminderd/internal/models"
	"github.com/carenest/reminderd/pkg/alarm"
	"github.com/carenest/reminderd/pkg/store"
)

// Store is the persistence surface the control API manages.
type Store interface {
	CreateMedication(ctx context.Context, m *models.Medication) error
	GetMedication(ctx context.Context, id string) (*models.Medication, error)
	ListMedications(ctx context.Context) ([]*models.Medication, error)
	UpdateMedication(ctx context.Context, m *models.Medication) error
	DeleteMedication(ctx context.Context, id string) error
	ListHistory(ctx context.Context, medicationID string, limit int) ([]*store.HistoryEntry, error)

	CreateAppointment(ctx context.Context, a *models.Appointment) error
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	ListAppointments(ctx context.Context) ([]*models.Appointment, error)
	UpdateAppointment(ctx context.Context, a *models.Appointment) error
	DeleteAppointment(ctx context.Context, id string) error
}

// AlarmSurface is the presentation intent set. Implemented by the alarm
// controller.
type AlarmSurface interface {
	State() alarm.State
	Current() *models.ActiveAlarm
	Dismiss(ctx context.Context)
	OpenSnoozeMenu()
	CloseSnoozeMenu(ctx context.Context)
	Snooze(ctx context.Context, minutes int) error
	MarkTaken(ctx context.Context) error
	Acknowledge(ctx context.Context) error
}

// Server routes control requests to the store and the alarm controller.
type Server struct {
	store  Store
	alarms AlarmSurface
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(addr string, st Store, alarms AlarmSurface, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:  st,
		alarms: alarms,
		logger: logger,
	}

	r := mux.NewRouter()

	r.HandleFunc("/medications", s.handleMedicationList).Methods(http.MethodGet)
	r.HandleFunc("/medications", s.handleMedicationCreate).Methods(http.MethodPost)
	r.HandleFunc("/medications/{id}", s.handleMedicationGet).Methods(http.MethodGet)
	r.HandleFunc("/medications/{id}", s.handleMedicationUpdate).Methods(http.MethodPut)
	r.HandleFunc("/medications/{id}", s.handleMedicationDelete).Methods(http.MethodDelete)
	r.HandleFunc("/medications/{id}/history", s.handleMedicationHistory).Methods(http.MethodGet)

	r.HandleFunc("/appointments", s.handleAppointmentList).Methods(http.MethodGet)
	r.HandleFunc("/appointments", s.handleAppointmentCreate).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{id}", s.handleAppointmentGet).Methods(http.MethodGet)
	r.HandleFunc("/appointments/{id}", s.handleAppointmentUpdate).Methods(http.MethodPut)
	r.HandleFunc("/appointments/{id}", s.handleAppointmentDelete).Methods(http.MethodDelete)

	r.HandleFunc("/alarm", s.handleAlarmState).Methods(http.MethodGet)
	r.HandleFunc("/alarm/dismiss", s.handleAlarmDismiss).Methods(http.MethodPost)
	r.HandleFunc("/alarm/snooze", s.handleAlarmSnooze).Methods(http.MethodPost)
	r.HandleFunc("/alarm/taken", s.handleAlarmTaken).Methods(http.MethodPost)
	r.HandleFunc("/alarm/acknowledge", s.handleAlarmAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/alarm/snooze-menu/open", s.handleSnoozeMenuOpen).Methods(http.MethodPost)
	r.HandleFunc("/alarm/snooze-menu/close", s.handleSnoozeMenuClose).Methods(http.MethodPost)

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("Control API listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", "error", err)
	}
}

// storeError maps persistence errors to a status code, treating a
// missing row as 404.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error("Store operation failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleMedicationList(w http.ResponseWriter, r *http.Request) {
	meds, err := s.store.ListMedications(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if meds == nil {
		meds = []*models.Medication{}
	}
	s.writeJSON(w, http.StatusOK, meds)
}

func (s *Server) handleMedicationCreate(w http.ResponseWriter, r *http.Request) {
	var m models.Medication
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, fmt.Sprintf("invalid medication: %v", err), http.StatusBadRequest)
		return
	}
	if m.Name == "" {
		http.Error(w, "medication name is required", http.StatusBadRequest)
		return
	}
	if err := s.store.CreateMedication(r.Context(), &m); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &m)
}

func (s *Server) handleMedicationGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMedication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMedicationUpdate(w http.ResponseWriter, r *http.Request) {
	var m models.Medication
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, fmt.Sprintf("invalid medication: %v", err), http.StatusBadRequest)
		return
	}
	m.ID = mux.Vars(r)["id"]
	if _, err := s.store.GetMedication(r.Context(), m.ID); err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.store.UpdateMedication(r.Context(), &m); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &m)
}

func (s *Server) handleMedicationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMedication(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMedicationHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.store.ListHistory(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if entries == nil {
		entries = []*store.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAppointmentList(w http.ResponseWriter, r *http.Request) {
	appts, err := s.store.ListAppointments(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if appts == nil {
		appts = []*models.Appointment{}
	}
	s.writeJSON(w, http.StatusOK, appts)
}

func (s *Server) handleAppointmentCreate(w http.ResponseWriter, r *http.Request) {
	var a models.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, fmt.Sprintf("invalid appointment: %v", err), http.StatusBadRequest)
		return
	}
	if a.DoctorName == "" {
		http.Error(w, "doctor name is required", http.StatusBadRequest)
		return
	}
	if err := s.store.CreateAppointment(r.Context(), &a); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &a)
}

func (s *Server) handleAppointmentGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAppointmentUpdate(w http.ResponseWriter, r *http.Request) {
	var a models.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, fmt.Sprintf("invalid appointment: %v", err), http.StatusBadRequest)
		return
	}
	a.ID = mux.Vars(r)["id"]
	if _, err := s.store.GetAppointment(r.Context(), a.ID); err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.store.UpdateAppointment(r.Context(), &a); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &a)
}

func (s *Server) handleAppointmentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAppointment(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// alarmStateResponse is what the UI polls to render the alarm surface.
type alarmStateResponse struct {
	State string              `json:"state"`
	Alarm *models.ActiveAlarm `json:"alarm,omitempty"`
}

func (s *Server) handleAlarmState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, alarmStateResponse{
		State: s.alarms.State().String(),
		Alarm: s.alarms.Current(),
	})
}

func (s *Server) handleAlarmDismiss(w http.ResponseWriter, r *http.Request) {
	s.alarms.Dismiss(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleAlarmSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid snooze request: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.alarms.Snooze(r.Context(), req.Minutes); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlarmTaken(w http.ResponseWriter, r *http.Request) {
	if err := s.alarms.MarkTaken(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlarmAcknowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.alarms.Acknowledge(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnoozeMenuOpen(w http.ResponseWriter, r *http.Request) {
	s.alarms.OpenSnoozeMenu()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnoozeMenuClose(w http.ResponseWriter, r *http.Request) {
	s.alarms.CloseSnoozeMenu(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
