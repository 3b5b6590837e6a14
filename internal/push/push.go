// Package push sends fired-notification text to an external messaging
// channel. Delivery is best-effort: the caller logs failures and moves on.
package push

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidAddress is returned by Push when the delivery address does not
// match the adapter's format. Callers should pre-check with ValidAddress.
var ErrInvalidAddress = errors.New("invalid delivery address")

// Pusher is one external messaging channel.
type Pusher interface {
	// ValidAddress reports whether addr matches the channel's address format.
	ValidAddress(addr string) bool
	// Push sends text to addr. Blocking; rate-limited by the adapter.
	Push(ctx context.Context, addr, text string) error
}

// Config selects and configures the push channel.
type Config struct {
	Channel    string // "line" (default), "telegram", or "none"
	RatePerSec int    // outbound rate limit; 0 means default
	Line       LineConfig
	Telegram   TelegramConfig
}

// Open returns the configured adapter, mirroring how the storage layer
// switches drivers.
func Open(cfg Config, log zerolog.Logger) (Pusher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Channel)) {
	case "", "line":
		return newLine(cfg.Line, cfg.RatePerSec, log)
	case "telegram":
		return newTelegram(cfg.Telegram, cfg.RatePerSec, log)
	case "none":
		log.Warn().Msg("push channel disabled; external notifications will be dropped")
		return nopPusher{}, nil
	default:
		return nil, errors.New("unknown push channel: " + cfg.Channel)
	}
}

type nopPusher struct{}

func (nopPusher) ValidAddress(string) bool { return true }

func (nopPusher) Push(context.Context, string, string) error { return nil }
