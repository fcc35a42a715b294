package ai

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
	DefaultIdleTimeout = 30 * time.Second
	sessionCookie      = "session_id"
)

// Client talks to the custom bot backend: chat streaming and file upload.
type Client struct {
	Endpoint string
	APIBase  string
	Token    string
	// IdleTimeout bounds the gap between two stream events.
	IdleTimeout time.Duration

	Locale       string
	RespLanguage string

	// Client is used for chat streams and has no global timeout.
	Client *http.Client
	// FileClient is used for the upload calls and the image download.
	FileClient *http.Client
}

func NewClient(endpoint, apiBase, token string) *Client {
	return &Client{
		Endpoint:     endpoint,
		APIBase:      strings.TrimRight(apiBase, "/"),
		Token:        token,
		IdleTimeout:  DefaultIdleTimeout,
		Locale:       "zh_CN",
		RespLanguage: "Chinese (Simplified)",
		Client:       &http.Client{},
		FileClient:   &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Client) authorize(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.Token})
}

// postJSON posts body as JSON with the session cookie and decodes a JSON reply into out.
func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.FileClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("backend: %s", msg)
}
