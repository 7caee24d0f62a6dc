package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Sources  SourcesConfig  `json:"sources"`
	Notifier NotifierConfig `json:"notifier"`
	Schedule ScheduleConfig `json:"schedule"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via the
	// TELEGRAM_TOKEN environment variable instead.
	Token string `json:"token,omitempty"`

	// AllowedUsernames restricts who the bot talks to. Empty means open.
	AllowedUsernames []string `json:"allowed_usernames,omitempty"`
}

type LoggingConfig struct {
	Level    string            `json:"level,omitempty"`
	Console  *bool             `json:"console,omitempty"`
	File     LogFileConfig     `json:"file,omitempty"`
	Telegram LogTelegramConfig `json:"telegram,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path,omitempty"`

	// BusyTimeout is a Go duration string (e.g. "2s").
	BusyTimeout string `json:"busy_timeout,omitempty"`

	MaxSubscriptions int `json:"max_subscriptions,omitempty"`
}

type SourcesConfig struct {
	// Timezone interprets upstream timestamps that carry no offset.
	Timezone string `json:"timezone,omitempty"`

	// Timeout is a Go duration string bounding one upstream request.
	Timeout string `json:"timeout,omitempty"`

	// SkipTLSVerify disables certificate checks. The ticketing sites this
	// talks to serve certificates that fail validation, so it defaults on.
	SkipTLSVerify *bool `json:"skip_tls_verify,omitempty"`

	Kupat     SourceConfig `json:"kupat,omitempty"`
	ComedyBar SourceConfig `json:"comedybar,omitempty"`
	Castilia  SourceConfig `json:"castilia,omitempty"`
}

type SourceConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type NotifierConfig struct {
	MessageLimit int `json:"message_limit,omitempty"`

	// SearchTimeout is a Go duration string.
	SearchTimeout string `json:"search_timeout,omitempty"`

	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type ScheduleConfig struct {
	Timezone string `json:"timezone,omitempty"`

	// Music and Comedy are cron specs, 5-field or 6-field with seconds.
	// Empty disables that sweep.
	Music  string `json:"music,omitempty"`
	Comedy string `json:"comedy,omitempty"`

	RunOnStart bool `json:"run_on_start,omitempty"`
}

// Validate checks the parts that cannot be defaulted away. Duration strings
// are parsed here so a bad value is caught at load time, not at first use.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout":    c.Storage.BusyTimeout,
		"sources.timeout":         c.Sources.Timeout,
		"notifier.search_timeout": c.Notifier.SearchTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	for path, tz := range map[string]string{
		"sources.timezone":  c.Sources.Timezone,
		"schedule.timezone": c.Schedule.Timezone,
	} {
		if tz = strings.TrimSpace(tz); tz == "" {
			continue
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if c.Storage.MaxSubscriptions < 0 {
		return errors.New("storage.max_subscriptions must be >= 0")
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
