package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultLineEndpoint = "https://api.line.me/v2/bot/message/push"

// LINE user ids are a literal 'U' followed by 32 alphanumerics.
var lineAddrRe = regexp.MustCompile(`^U[a-zA-Z0-9]{32}$`)

type LineConfig struct {
	AccessToken string
	Endpoint    string // override for tests; default is the LINE push API
}

type linePusher struct {
	cfg     LineConfig
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newLine(cfg LineConfig, ratePerSec int, log zerolog.Logger) (*linePusher, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("line access token is empty")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultLineEndpoint
	}
	if ratePerSec <= 0 {
		ratePerSec = 3
	}
	return &linePusher{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}, nil
}

func (p *linePusher) ValidAddress(addr string) bool {
	return lineAddrRe.MatchString(addr)
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type linePushRequest struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

func (p *linePusher) Push(ctx context.Context, addr, text string) error {
	if !p.ValidAddress(addr) {
		return ErrInvalidAddress
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(linePushRequest{
		To:       addr,
		Messages: []lineMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("line push: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
