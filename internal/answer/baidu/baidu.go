// Package baidu is a client for the Baidu UNIT chat API.
package baidu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var ErrEmptyReply = errors.New("baidu: empty reply")

type Config struct {
	API       string
	Token     string
	ServiceID string
	Timeout   time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, now: time.Now}
}

type query struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

type request struct {
	Version   string `json:"version"`
	ServiceID string `json:"service_id"`
	LogID     string `json:"log_id"`
	SessionID string `json:"session_id"`
	Request   query  `json:"request"`
}

type response struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Result    struct {
		ResponseList []struct {
			ActionList []struct {
				Say string `json:"say"`
			} `json:"action_list"`
		} `json:"response_list"`
	} `json:"result"`
}

func (c *Client) Chat(ctx context.Context, userHandle, text string) (string, error) {
	body, err := json.Marshal(request{
		Version:   "2.0",
		ServiceID: c.cfg.ServiceID,
		LogID:     strconv.FormatInt(c.now().UnixNano(), 36),
		Request:   query{Query: text, UserID: userHandle},
	})
	if err != nil {
		return "", err
	}

	u, err := url.Parse(c.cfg.API)
	if err != nil {
		return "", fmt.Errorf("baidu api url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", c.cfg.Token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("baidu request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("baidu read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("baidu status %d", resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("baidu decode: %w", err)
	}
	if r.ErrorCode != 0 {
		return "", fmt.Errorf("baidu error %d: %s", r.ErrorCode, r.ErrorMsg)
	}
	for _, rl := range r.Result.ResponseList {
		for _, a := range rl.ActionList {
			if a.Say != "" {
				return a.Say, nil
			}
		}
	}
	return "", ErrEmptyReply
}
