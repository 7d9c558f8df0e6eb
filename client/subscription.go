package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/bprzybys-nc/manager-sub001/stream"
)

// Watch streams the lifecycle events of one incident. The channel is
// closed when ctx ends or the connection is lost for good.
func (c *Client) Watch(ctx context.Context, incidentID string) (<-chan *stream.Event, error) {
	return c.subscribe(ctx, "/v1/incidents/"+url.PathEscape(incidentID)+"/watch")
}

// WatchAll streams workflow and incident events of every incident.
func (c *Client) WatchAll(ctx context.Context) (<-chan *stream.Event, error) {
	return c.subscribe(ctx, "/v1/watch")
}

func (c *Client) subscribe(ctx context.Context, path string) (<-chan *stream.Event, error) {
	wsURL, err := c.wsURL(path)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}

	ch := make(chan *stream.Event, 64)
	go func() {
		defer close(ch)
		for {
			c.readLoop(ctx, conn, ch)
			_ = conn.Close()
			if ctx.Err() != nil || !c.reconnect {
				return
			}
			if conn = c.redial(ctx, wsURL); conn == nil {
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, wsURL string) (net.Conn, error) {
	d := ws.Dialer{Timeout: 10 * time.Second}
	if c.token != "" {
		d.Header = ws.HandshakeHeaderHTTP(http.Header{"Authorization": []string{"Bearer " + c.token}})
	}
	conn, _, _, err := d.Dial(ctx, wsURL)
	if err != nil {
		var se ws.StatusError
		if errors.As(err, &se) {
			return nil, &Error{Status: int(se), Message: http.StatusText(int(se))}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// readLoop decodes text frames into events until the connection fails or
// ctx ends.
func (c *Client) readLoop(ctx context.Context, conn net.Conn, ch chan<- *stream.Event) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() == nil && !isClosed(err) {
				c.logger.Warn("watch read error", slog.String("error", err.Error()))
			}
			return
		}
		var evt stream.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn("watch: invalid event", slog.String("error", err.Error()))
			continue
		}
		select {
		case ch <- &evt:
		case <-ctx.Done():
			return
		}
	}
}

// redial reconnects with exponential backoff. It returns nil when the
// attempts are exhausted or ctx ends.
func (c *Client) redial(ctx context.Context, wsURL string) net.Conn {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("watch reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		conn, err := c.dial(ctx, wsURL)
		if err != nil {
			c.logger.Warn("watch reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}
		c.logger.Info("watch reconnected")
		return conn
	}
	c.logger.Error("watch: max reconnection attempts reached")
	return nil
}

func isClosed(err error) bool {
	var ce wsutil.ClosedError
	return errors.As(err, &ce) || errors.Is(err, net.ErrClosed)
}
