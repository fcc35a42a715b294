package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	dedupeTTL      = 10 * time.Minute
	dedupeMaxSize  = 4096
	reconnectDelay = 3 * time.Second
)

// Client is a websocket connection to a OneBot implementation. Every inbound
// event is handled in its own goroutine; replies are written back on the same
// connection.
type Client struct {
	addr    string
	token   string
	handler *Handler
	log     *slog.Logger
	seen    *seenCache

	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

func NewClient(addr, token string, handler *Handler, log *slog.Logger) *Client {
	return &Client{
		addr:           addr,
		token:          token,
		handler:        handler,
		log:            log,
		seen:           newSeenCache(dedupeTTL, dedupeMaxSize),
		Dialer:         websocket.DefaultDialer,
		ReconnectDelay: reconnectDelay,
	}
}

// Run keeps a connection open until ctx is done, reconnecting after failures.
func (c *Client) Run(ctx context.Context) error {
	defer c.inflight.Wait()
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("relay connection lost", "err", err, "retry_in", c.ReconnectDelay)

		t := time.NewTimer(c.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.addr)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if c.token != "" {
		q := u.Query()
		q.Set("access_token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) connectAndServe(ctx context.Context) error {
	addr, err := c.dialURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.Dialer.DialContext(ctx, addr, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	c.log.Info("relay connected", "url", c.addr)
	return c.serve(ctx, conn)
}

// serve reads frames from conn until it fails or ctx is done.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	go c.pingLoop(conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.handleFrame(context.WithoutCancel(ctx), conn, data)
		}()
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Warn("undecodable frame", "err", err)
		return
	}
	if f.Status != "" {
		if f.Status != "ok" {
			c.log.Warn("action failed", "status", f.Status, "retcode", f.RetCode, "wording", f.Wording)
		}
		return
	}
	if f.PostType != "message" {
		return
	}
	if f.MessageID != 0 {
		key := strconv.FormatUint(f.SelfID, 10) + ":" + strconv.FormatInt(f.MessageID, 10)
		if c.seen.CheckAndMark(key) {
			c.log.Debug("duplicate message", "message_id", f.MessageID)
			return
		}
	}

	act := c.handler.Handle(ctx, f.Event)
	if act == nil {
		return
	}
	if err := c.send(conn, act); err != nil {
		c.log.Error("send failed", "action", act.Action, "err", err)
	}
}

func (c *Client) send(conn *websocket.Conn, act *Action) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(act)
}
