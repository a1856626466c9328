package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Event is one server-sent event from the daemon.
type Event struct {
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Events streams daemon events whose kind starts with prefix ("" for all)
// until ctx ends or fn returns an error. Keepalive pings are skipped.
func (c *Client) Events(ctx context.Context, prefix string, fn func(Event) error) error {
	q := url.Values{}
	if prefix != "" {
		q.Set("kind", prefix)
	}
	// The stream is long-lived; only ctx bounds it.
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		Get(withQuery("/v1/events", q))
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if resp.StatusCode() != http.StatusOK {
		return &APIError{Status: resp.StatusCode()}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(rest, " "))
			continue
		}
		if line != "" || data.Len() == 0 {
			continue
		}
		var evt Event
		err := json.Unmarshal([]byte(data.String()), &evt)
		data.Reset()
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if evt.Kind == "ping" {
			continue
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}
