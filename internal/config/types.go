// Package config loads the daemon's YAML configuration. YAML is coerced to
// JSON so one strict decoder (DisallowUnknownFields) covers both formats,
// and a fsnotify-based watcher re-parses on change, keeping the last good
// config when an edit doesn't validate.
package config

import (
	"errors"
	"strings"
)

type Config struct {
	// Listen is the HTTP bind address. Default ":8080".
	Listen string `json:"listen,omitempty"`

	// Timezone is the IANA zone rule times of day are expressed in.
	// Unknown or empty falls back to the engine default.
	Timezone string `json:"timezone,omitempty"`

	Auth    AuthConfig    `json:"auth"`
	Logging LoggingConfig `json:"logging,omitempty"`
	Storage StorageConfig `json:"storage"`
	Push    PushConfig    `json:"push,omitempty"`
	Notify  NotifyConfig  `json:"notify,omitempty"`
}

type AuthConfig struct {
	// JWTSecret verifies bearer tokens issued by the board backend (HS256).
	JWTSecret string `json:"jwt_secret"`
}

type LoggingConfig struct {
	// Level: trace, debug, info, warn, error. Default "info".
	Level string `json:"level,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// PushConfig selects the external push channel.
type PushConfig struct {
	Channel    string             `json:"channel,omitempty"` // "line" (default), "telegram", "none"
	RatePerSec int                `json:"rate_per_sec,omitempty"`
	Line       LinePushConfig     `json:"line,omitempty"`
	Telegram   TelegramPushConfig `json:"telegram,omitempty"`
}

type LinePushConfig struct {
	AccessToken string `json:"access_token,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // override for testing
}

type TelegramPushConfig struct {
	Token string `json:"token,omitempty"`
}

// NotifyConfig tunes the scheduler loop. Durations are Go duration strings.
type NotifyConfig struct {
	CheckInterval string `json:"check_interval,omitempty"` // default "60s"
	LoadSlack     string `json:"load_slack,omitempty"`     // default "10m"
	Reload        string `json:"reload,omitempty"`         // cron spec; "off" disables
	ChannelBuffer int    `json:"channel_buffer,omitempty"` // per-device queue depth
}

// Validate checks the fields that must be usable at startup. Duration
// fields are parsed where they are consumed; this only rejects what would
// make the process unable to come up at all.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Push.Channel)) {
	case "", "line":
		if strings.TrimSpace(c.Push.Line.AccessToken) == "" {
			return errors.New("push.line.access_token is required for the line channel")
		}
	case "telegram":
		if strings.TrimSpace(c.Push.Telegram.Token) == "" {
			return errors.New("push.telegram.token is required for the telegram channel")
		}
	case "none":
	default:
		return errors.New("push.channel must be line, telegram, or none")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("notify.check_interval", c.Notify.CheckInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("notify.load_slack", c.Notify.LoadSlack); err != nil {
		return err
	}
	return nil
}
