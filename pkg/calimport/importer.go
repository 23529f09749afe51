package calimport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/carenest/reminderd/internal/models"
	"github.com/carenest/reminderd/pkg/retry"
)

// Sink receives imported appointments. Implemented by the store.
type Sink interface {
	UpsertImportedAppointment(ctx context.Context, a *models.Appointment) (bool, error)
}

// Config holds the calendar-feed import configuration
type Config struct {
	URL             string `yaml:"url"`
	ReminderMinutes int    `yaml:"reminder_minutes"`
}

// Importer pulls doctor appointments out of an iCal feed (a clinic's
// published calendar) and upserts them into the store, keyed by the
// feed's event UIDs so re-imports update rather than duplicate.
type Importer struct {
	config  *Config
	sink    Sink
	client  *http.Client
	retryer *retry.Retryer
	logger  *slog.Logger
}

// NewImporter creates a calendar-feed importer
func NewImporter(config *Config, sink Sink, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}

	retryConfig := &retry.Config{
		MaxAttempts:   3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		RetriableStatuses: []int{
			http.StatusRequestTimeout,      // 408
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		},
		RetriableErrors: []string{
			"connection refused",
			"timeout",
			"network unreachable",
			"no such host",
			"connection reset",
		},
	}

	return &Importer{
		config: config,
		sink:   sink,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryer: retry.NewRetryer(retryConfig, logger),
		logger:  logger,
	}
}

// ImportURL fetches the configured feed and imports its events.
// Returns the number of newly created appointments.
func (i *Importer) ImportURL(ctx context.Context) (int, error) {
	if i.config.URL == "" {
		return 0, fmt.Errorf("calendar feed URL not configured")
	}

	var body string
	err := i.retryer.Do(ctx, func() error {
		data, err := i.fetch(ctx)
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch calendar feed: %w", err)
	}

	return i.ImportReader(ctx, strings.NewReader(body))
}

func (i *Importer) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", i.config.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Accept", "text/calendar,application/calendar")
	req.Header.Set("User-Agent", "reminderd/1.0")

	i.logger.Debug("Fetching calendar feed", "url", i.config.URL)

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", retry.NewHTTPError(resp.StatusCode, resp.Status, i.config.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %v", err)
	}

	return string(body), nil
}

// ImportReader parses iCal data and upserts future events as
// appointments. A malformed event never blocks the rest of the feed.
func (i *Importer) ImportReader(ctx context.Context, r io.Reader) (int, error) {
	calendar, err := ics.ParseCalendar(r)
	if err != nil {
		return 0, fmt.Errorf("failed to parse calendar feed: %v", err)
	}

	now := time.Now()
	created := 0

	for _, event := range calendar.Events() {
		appt, err := i.convertEvent(event, now)
		if err != nil {
			i.logger.Warn("Skipping calendar event", "uid", event.Id(), "error", err)
			continue
		}
		if appt == nil {
			continue
		}

		isNew, err := i.sink.UpsertImportedAppointment(ctx, appt)
		if err != nil {
			i.logger.Error("Failed to import appointment",
				"uid", appt.SourceUID,
				"doctor", appt.DoctorName,
				"error", err)
			continue
		}
		if isNew {
			created++
			i.logger.Info("Imported appointment",
				"uid", appt.SourceUID,
				"doctor", appt.DoctorName,
				"when", appt.When.Format(time.RFC3339))
		}
	}

	return created, nil
}

// convertEvent maps a VEVENT to an appointment. Past events map to nil.
func (i *Importer) convertEvent(event *ics.VEvent, now time.Time) (*models.Appointment, error) {
	uid := event.Id()
	if uid == "" {
		return nil, fmt.Errorf("event missing UID")
	}

	startTime, err := event.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time: %v", err)
	}
	if !startTime.After(now) {
		return nil, nil
	}

	appt := &models.Appointment{
		When:            startTime,
		ReminderMinutes: i.defaultReminderMinutes(),
		NotifyEnabled:   true,
		SourceUID:       uid,
		Type:            "appointment",
	}

	if summary := event.GetProperty(ics.ComponentPropertySummary); summary != nil {
		appt.DoctorName = doctorNameFromSummary(summary.Value)
	}
	if appt.DoctorName == "" {
		return nil, fmt.Errorf("event missing summary")
	}

	if description := event.GetProperty(ics.ComponentPropertyDescription); description != nil {
		appt.Notes = description.Value
	}
	if location := event.GetProperty(ics.ComponentPropertyLocation); location != nil {
		if appt.Notes != "" {
			appt.Notes += " "
		}
		appt.Notes += "Location: " + location.Value
	}
	if categories := event.GetProperty(ics.ComponentPropertyCategories); categories != nil {
		appt.Type = strings.ToLower(categories.Value)
	}

	// A VALARM trigger overrides the default reminder offset
	for _, alarm := range event.Alarms() {
		trigger := alarm.GetProperty(ics.ComponentPropertyTrigger)
		if trigger == nil {
			continue
		}
		duration, err := parseTriggerDuration(trigger.Value)
		if err != nil {
			i.logger.Warn("Ignoring unparseable alarm trigger",
				"uid", uid,
				"trigger", trigger.Value,
				"error", err)
			continue
		}
		if minutes := int(duration.Abs().Minutes()); minutes > 0 {
			appt.ReminderMinutes = minutes
		}
		break
	}

	return appt, nil
}

func (i *Importer) defaultReminderMinutes() int {
	if i.config.ReminderMinutes > 0 {
		return i.config.ReminderMinutes
	}
	return models.DefaultReminderMinutes
}

// doctorNameFromSummary strips common prefixes so "Appointment with
// Dr. Patel" and "Dr. Patel" both yield "Patel".
func doctorNameFromSummary(summary string) string {
	name := strings.TrimSpace(summary)
	for _, prefix := range []string{"Appointment with ", "appointment with "} {
		name = strings.TrimPrefix(name, prefix)
	}
	for _, prefix := range []string{"Dr. ", "Dr ", "Doctor "} {
		name = strings.TrimPrefix(name, prefix)
	}
	return strings.TrimSpace(name)
}

// parseTriggerDuration parses iCal trigger durations such as "-PT30M"
// or "-P0DT1H0M0S". Absolute trigger times are not supported.
func parseTriggerDuration(value string) (time.Duration, error) {
	s := strings.TrimSpace(value)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "+")

	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("unsupported trigger format: %s", value)
	}
	s = strings.TrimPrefix(s, "P")

	var result time.Duration

	// Day component precedes the time part
	if idx := strings.Index(s, "D"); idx >= 0 && (strings.Index(s, "T") == -1 || idx < strings.Index(s, "T")) {
		days, err := parseUint(s[:idx])
		if err != nil {
			return 0, fmt.Errorf("invalid days in trigger %s", value)
		}
		result += time.Duration(days) * 24 * time.Hour
		s = s[idx+1:]
	}
	s = strings.TrimPrefix(s, "T")

	for _, unit := range []struct {
		suffix string
		scale  time.Duration
	}{
		{"H", time.Hour},
		{"M", time.Minute},
		{"S", time.Second},
	} {
		idx := strings.Index(s, unit.suffix)
		if idx < 0 {
			continue
		}
		n, err := parseUint(s[:idx])
		if err != nil {
			return 0, fmt.Errorf("invalid %s component in trigger %s", unit.suffix, value)
		}
		result += time.Duration(n) * unit.scale
		s = s[idx+1:]
	}

	if s != "" {
		return 0, fmt.Errorf("trailing data in trigger %s", value)
	}
	if negative {
		result = -result
	}
	return result, nil
}

func parseUint(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid digit %q", r)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
