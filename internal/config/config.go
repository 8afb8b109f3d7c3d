package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// NOTE: YAML holds the non-secret settings and is created on first run.
// SMTP credentials come from the process environment (or a .env file next to
// the config) and are never written back to disk.

// MailConfig holds the SMTP transport settings for the notifier.
type MailConfig struct {
	Sender   string `yaml:"sender"   json:"sender"   env:"SENDER_EMAIL"`
	To       string `yaml:"to"       json:"to"       env:"SEND_TO_EMAIL"`
	Password string `yaml:"-"        json:"-"        env:"EMAIL_PASSWORD"`
	Host     string `yaml:"host"     json:"host"     env:"SMTP_SERVER"`
	Port     int    `yaml:"port"     json:"port"     env:"SMTP_PORT" env-default:"587"`

	// Timeout bounds a single send, dial included.
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"SMTP_TIMEOUT" env-default:"30s"`
}

// Enabled reports whether enough is configured to attempt a send.
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.Sender != "" && m.To != ""
}

// ReminderConfig controls the calendar reminder file.
type ReminderConfig struct {
	// Path of the reminder file; overwritten on each submission.
	Path string `yaml:"path" json:"path"`

	// RRule optionally repeats the reminder, e.g. "FREQ=DAILY;COUNT=3".
	RRule string `yaml:"rrule" json:"rrule"`

	// AlarmMinutes is how long before the event window the alarm fires.
	AlarmMinutes int `yaml:"alarm_minutes" json:"alarm_minutes"`
}

// ReceiptConfig controls PDF receipt rendering.
type ReceiptConfig struct {
	// LogoPath is drawn at the top of the receipt when the file exists.
	LogoPath string        `yaml:"logo_path" json:"logo_path"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the form UI.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataDir holds the record table and receipts.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Timezone is an IANA zone used to anchor reminder times. Empty means
	// floating local time.
	Timezone string `yaml:"timezone" json:"timezone"`

	// FirstYear / LastYear bound the year dropdowns.
	FirstYear int `yaml:"first_year" json:"first_year"`
	LastYear  int `yaml:"last_year" json:"last_year"`

	Reminder ReminderConfig `yaml:"reminder" json:"reminder"`
	Receipt  ReceiptConfig  `yaml:"receipt" json:"receipt"`
	Mail     MailConfig     `yaml:"mail" json:"mail"`

	// DigestCron schedules the "loans ending today" email. Empty disables it.
	DigestCron string `yaml:"digest_cron" json:"digest_cron"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		LogLevel:  "info",
		DataDir:   "data",
		FirstYear: 2024,
		LastYear:  2030,
		Reminder: ReminderConfig{
			Path: "appointment.ics",
		},
		Receipt: ReceiptConfig{
			LogoPath: "placeholder.jpg",
			Timeout:  30 * time.Second,
		},
		Mail: MailConfig{
			Port:    587,
			Timeout: 30 * time.Second,
		},
		DigestCron: "",
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.FirstYear <= 0 {
		c.FirstYear = def.FirstYear
	}
	if c.LastYear < c.FirstYear {
		c.LastYear = c.FirstYear + (def.LastYear - def.FirstYear)
	}
	if c.Reminder.Path == "" {
		c.Reminder.Path = def.Reminder.Path
	}
	if c.Reminder.AlarmMinutes < 0 {
		c.Reminder.AlarmMinutes = 0
	}
	if c.Receipt.Timeout <= 0 {
		c.Receipt.Timeout = def.Receipt.Timeout
	}
	if c.Mail.Port <= 0 {
		c.Mail.Port = def.Mail.Port
	}
	if c.Mail.Timeout <= 0 {
		c.Mail.Timeout = def.Mail.Timeout
	}
}

// Load loads configuration from the given YAML path and overlays mail
// settings from the environment.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600 perms.
//   - If a ".env" file exists next to the config, it is read into the
//     environment first.
//   - SENDER_EMAIL, SEND_TO_EMAIL, EMAIL_PASSWORD, SMTP_SERVER, SMTP_PORT and
//     SMTP_TIMEOUT override the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := overlayEnv(filepath.Join(filepath.Dir(path), ".env"), &cfg.Mail); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

func overlayEnv(dotenv string, mail *MailConfig) error {
	if _, err := os.Stat(dotenv); err == nil {
		if err := cleanenv.ReadConfig(dotenv, mail); err != nil {
			return fmt.Errorf("config: read %s: %w", dotenv, err)
		}
		return nil
	}
	if err := cleanenv.ReadEnv(mail); err != nil {
		return fmt.Errorf("config: read env: %w", err)
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".loanbook-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Location resolves Timezone, or nil for floating local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return nil, nil
	}
	return time.LoadLocation(c.Timezone)
}
