// Package turing is a client for the Turing robot open API.
package turing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	codeText = 100000
	codeLink = 200000
	codeNews = 302000
	codeMenu = 308000

	maxListItems = 3
)

type Config struct {
	API     string
	Key     string
	Persona string // replaces the provider's self-introduction
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Persona == "" {
		cfg.Persona = "小薇机器人"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type request struct {
	Key    string `json:"key"`
	Info   string `json:"info"`
	UserID string `json:"userid"`
}

type listItem struct {
	Article   string `json:"article"`
	Name      string `json:"name"`
	Info      string `json:"info"`
	DetailURL string `json:"detailurl"`
}

type response struct {
	Code int        `json:"code"`
	Text string     `json:"text"`
	URL  string     `json:"url"`
	List []listItem `json:"list"`
}

func (c *Client) Chat(ctx context.Context, userHandle, text string) (string, error) {
	body, err := json.Marshal(request{Key: c.cfg.Key, Info: text, UserID: userHandle})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.API, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("turing request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("turing read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("turing status %d", resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("turing decode: %w", err)
	}
	return c.render(r)
}

func (c *Client) render(r response) (string, error) {
	var out string
	switch r.Code {
	case codeText:
		out = r.Text
	case codeLink:
		out = r.Text + " " + r.URL
	case codeNews, codeMenu:
		var b strings.Builder
		b.WriteString(r.Text)
		for i, it := range r.List {
			if i == maxListItems {
				break
			}
			title := it.Article
			if title == "" {
				title = it.Name
			}
			fmt.Fprintf(&b, "\n%s %s", title, it.DetailURL)
		}
		out = b.String()
	default:
		return "", fmt.Errorf("turing code %d: %s", r.Code, r.Text)
	}
	out = strings.ReplaceAll(out, "图灵机器人", c.cfg.Persona)
	out = strings.ReplaceAll(out, "<br>", "\n")
	return out, nil
}
