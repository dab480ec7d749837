package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Listener consumes inbound platform events over a websocket and
// delivers them to a channel. Disconnects trigger reconnection with
// exponential backoff.
type Listener struct {
	wsURL  string
	token  string
	events chan Event
	logger *slog.Logger
}

const (
	reconnectMin = time.Second
	reconnectMax = time.Minute
)

// NewListener creates a websocket event listener. Events are delivered
// on the channel returned by Events.
func NewListener(wsURL, token string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		wsURL:  wsURL,
		token:  token,
		events: make(chan Event, 64),
		logger: logger.With("component", "listener"),
	}
}

// Events returns the inbound event channel. Closed when Run returns.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Run connects and reads events until ctx is cancelled. Each dropped
// connection is retried with backoff.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.events)

	backoff := reconnectMin
	for {
		err := l.readOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("event stream dropped, reconnecting", "error", err, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (l *Listener) readOnce(ctx context.Context) error {
	u, err := url.Parse(l.wsURL)
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	dialer := websocket.Dialer{
		ReadBufferSize:  256 * 1024,
		WriteBufferSize: 16 * 1024,
	}
	header := map[string][]string{}
	if l.token != "" {
		header["Authorization"] = []string{"Bearer " + l.token}
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()
	l.logger.Info("event stream connected", "url", u.String())

	// Unblock ReadJSON on shutdown.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		select {
		case l.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
