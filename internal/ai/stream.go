package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Chat performs one round trip and returns the aggregated reply text.
// A stream that ends without a finished event still counts as complete.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var b strings.Builder
	if err := c.stream(ctx, req, func(text string) { b.WriteString(text) }); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *Client) stream(ctx context.Context, req ChatRequest, emit func(string)) error {
	if c.Client == nil {
		return streamErr(StreamTransport, errors.New("ai: http client is nil"))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return streamErr(StreamParse, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	idle := c.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	// The watchdog cancels the request when no event arrives within idle.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(idle, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return streamErr(StreamTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq)

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		if timedOut.Load() {
			return streamErr(StreamTimeout, ErrStreamTimeout)
		}
		return streamErr(StreamTransport, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return streamErr(StreamTransport, err)
	}

	sc := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	var dataLines []string
	// dispatch decodes the pending event and reports whether it finished the stream.
	dispatch := func() (bool, error) {
		if len(dataLines) == 0 {
			return false, nil
		}
		raw := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		watchdog.Reset(idle)

		var p streamPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return false, streamErr(StreamParse, fmt.Errorf("decoding event: %w", err))
		}
		emit(p.Text)
		return p.Finished, nil
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			finished, err := dispatch()
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := sc.Err(); err != nil {
		if timedOut.Load() {
			return streamErr(StreamTimeout, ErrStreamTimeout)
		}
		return streamErr(StreamTransport, err)
	}

	// trailing event without a blank line
	_, err = dispatch()
	return err
}
