package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	TTS       TTSConfig       `yaml:"tts"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	NATS      NATSConfig      `yaml:"nats"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type TTSConfig struct {
	URL     string        `yaml:"url"`
	VoiceID string        `yaml:"voice_id"`
	APIKey  string        `yaml:"-"` // from environment, never from file
	Timeout time.Duration `yaml:"timeout"`
}

type DeliveryConfig struct {
	RepeatPause   time.Duration `yaml:"repeat_pause"`
	ToneInterval  time.Duration `yaml:"tone_interval"`
	MaxRing       time.Duration `yaml:"max_ring"`
	SpeechCommand string        `yaml:"speech_command"`
}

type SchedulerConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ArmWindow       time.Duration `yaml:"arm_window"`
	SnoozeMinutes   []int         `yaml:"snooze_minutes"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type CalendarConfig struct {
	URL             string `yaml:"url"`
	ReminderMinutes int    `yaml:"reminder_minutes"`
}

// APIConfig configures the local control surface the UI process talks
// to. Defaults to a loopback port.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TTSAPIKeyEnv is the environment variable holding the speech-synthesis
// API key. It is read at load time so the key never lives in the config file.
const TTSAPIKeyEnv = "ELEVENLABS_API_KEY"

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.TTS.APIKey = os.Getenv(TTSAPIKeyEnv)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	if c.TTS.URL != "" && c.TTS.Timeout == 0 {
		c.TTS.Timeout = 10 * time.Second
	}

	if c.Delivery.RepeatPause == 0 {
		c.Delivery.RepeatPause = 3 * time.Second
	}
	if c.Delivery.ToneInterval == 0 {
		c.Delivery.ToneInterval = 500 * time.Millisecond
	}
	if c.Delivery.MaxRing == 0 {
		c.Delivery.MaxRing = 10 * time.Minute
	}

	if c.Scheduler.RefreshInterval == 0 {
		c.Scheduler.RefreshInterval = time.Minute
	}
	if c.Scheduler.ArmWindow == 0 {
		c.Scheduler.ArmWindow = 24 * time.Hour
	}
	if len(c.Scheduler.SnoozeMinutes) == 0 {
		c.Scheduler.SnoozeMinutes = []int{5, 10, 15, 30}
	}
	for _, m := range c.Scheduler.SnoozeMinutes {
		if m <= 0 {
			return fmt.Errorf("snooze minutes must be positive, got %d", m)
		}
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		c.NATS.Subject = "carenest.alarms"
	}

	if c.Calendar.URL != "" && c.Calendar.ReminderMinutes == 0 {
		c.Calendar.ReminderMinutes = 30
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = "127.0.0.1:8350"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
