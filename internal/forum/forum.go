// Package forum relays group chatter to a forum endpoint.
package forum

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "xiaov/pkg/logx"
)

// Relay posts a message on behalf of an author. Failures never propagate.
type Relay interface {
	Post(ctx context.Context, msg, author string)
}

type Config struct {
	Enabled bool
	API     string
	Key     string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// Post form-encodes key, msg and user and logs anything but a 200.
func (c *Client) Post(ctx context.Context, msg, author string) {
	if !c.cfg.Enabled || strings.TrimSpace(c.cfg.API) == "" {
		return
	}
	form := url.Values{}
	form.Set("key", c.cfg.Key)
	form.Set("msg", msg)
	form.Set("user", author)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.API, strings.NewReader(form.Encode()))
	if err != nil {
		c.log.Error("forum request build failed", logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("forum relay failed", logx.Err(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("forum relay non-200", logx.Int("status", resp.StatusCode))
	}
}

// Nop drops everything.
type Nop struct{}

func (Nop) Post(context.Context, string, string) {}
