package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
store:
  path: "/tmp/reminderd.db"

tts:
  url: "https://tts.example.com/v1/speak"
  voice_id: "EXAVITQu4vr4xnSDxMaL"
  timeout: "5s"

delivery:
  repeat_pause: "2s"
  max_ring: "8m"

scheduler:
  refresh_interval: "30s"
  snooze_minutes: [5, 10, 15, 30]

nats:
  url: "nats://localhost:4222"
  subject: "carenest.alarms"

logging:
  level: "info"
  format: "json"
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	t.Setenv(TTSAPIKeyEnv, "test-key")

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Store.Path != "/tmp/reminderd.db" {
		t.Errorf("Expected store path '/tmp/reminderd.db', got '%s'", config.Store.Path)
	}

	if config.TTS.URL != "https://tts.example.com/v1/speak" {
		t.Errorf("Expected TTS URL 'https://tts.example.com/v1/speak', got '%s'", config.TTS.URL)
	}

	if config.TTS.APIKey != "test-key" {
		t.Errorf("Expected TTS API key from environment, got '%s'", config.TTS.APIKey)
	}

	if config.TTS.Timeout != 5*time.Second {
		t.Errorf("Expected TTS timeout 5s, got %v", config.TTS.Timeout)
	}

	if config.Delivery.RepeatPause != 2*time.Second {
		t.Errorf("Expected repeat pause 2s, got %v", config.Delivery.RepeatPause)
	}

	if config.Delivery.MaxRing != 8*time.Minute {
		t.Errorf("Expected max ring 8m, got %v", config.Delivery.MaxRing)
	}

	if config.Scheduler.RefreshInterval != 30*time.Second {
		t.Errorf("Expected refresh interval 30s, got %v", config.Scheduler.RefreshInterval)
	}

	if config.NATS.Subject != "carenest.alarms" {
		t.Errorf("Expected NATS subject 'carenest.alarms', got '%s'", config.NATS.Subject)
	}
}

func TestConfigDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
store:
  path: "/tmp/reminderd.db"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Delivery.RepeatPause != 3*time.Second {
		t.Errorf("Expected default repeat pause 3s, got %v", config.Delivery.RepeatPause)
	}
	if config.Delivery.MaxRing != 10*time.Minute {
		t.Errorf("Expected default max ring 10m, got %v", config.Delivery.MaxRing)
	}
	if config.Scheduler.ArmWindow != 24*time.Hour {
		t.Errorf("Expected default arm window 24h, got %v", config.Scheduler.ArmWindow)
	}
	if len(config.Scheduler.SnoozeMinutes) != 4 {
		t.Errorf("Expected default snooze options [5 10 15 30], got %v", config.Scheduler.SnoozeMinutes)
	}
	if config.API.ListenAddr != "127.0.0.1:8350" {
		t.Errorf("Expected default control API address, got %s", config.API.ListenAddr)
	}
	if config.Logging.Level != "info" || config.Logging.Format != "json" {
		t.Errorf("Expected default logging info/json, got %s/%s", config.Logging.Level, config.Logging.Format)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		expectErr bool
	}{
		{
			name: "valid config",
			config: Config{
				Store: StoreConfig{Path: "/tmp/db"},
			},
			expectErr: false,
		},
		{
			name:      "missing store path",
			config:    Config{},
			expectErr: true,
		},
		{
			name: "negative snooze option",
			config: Config{
				Store:     StoreConfig{Path: "/tmp/db"},
				Scheduler: SchedulerConfig{SnoozeMinutes: []int{5, -1}},
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no validation error, got: %v", err)
			}
		})
	}
}

func TestConfigNATSSubjectDefault(t *testing.T) {
	config := Config{
		Store: StoreConfig{Path: "/tmp/db"},
		NATS:  NATSConfig{URL: "nats://localhost:4222"},
	}

	if err := config.validate(); err != nil {
		t.Fatalf("Unexpected validation error: %v", err)
	}

	if config.NATS.Subject != "carenest.alarms" {
		t.Errorf("Expected NATS subject default 'carenest.alarms', got '%s'", config.NATS.Subject)
	}
}
