package push

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token string
}

// telegramPusher delivers over the Telegram Bot API. Addresses are decimal
// chat ids.
type telegramPusher struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newTelegram(cfg TelegramConfig, ratePerSec int, log zerolog.Logger) (*telegramPusher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if ratePerSec <= 0 {
		ratePerSec = 3
	}
	return &telegramPusher{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}, nil
}

func (p *telegramPusher) ValidAddress(addr string) bool {
	_, err := strconv.ParseInt(addr, 10, 64)
	return err == nil
}

func (p *telegramPusher) Push(ctx context.Context, addr, text string) error {
	id, err := strconv.ParseInt(addr, 10, 64)
	if err != nil {
		return ErrInvalidAddress
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = p.bot.Send(tele.ChatID(id), text)
	return err
}
