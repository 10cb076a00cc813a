package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/model"
)

// closeWait bounds the close handshake of a subscription.
const closeWait = time.Second

// ChangesPath returns the change feed path of a database.
func ChangesPath(database string) string {
	return "databases/" + url.PathEscape(database) + "/changes"
}

// Subscription is an open change feed.
type Subscription struct {
	conn      *websocket.Conn
	logger    *zap.Logger
	closeOnce sync.Once
}

// Subscribe opens the change feed of database. The websocket handshake
// carries the pipeline headers and answers challenges like Do: at most one
// retry after a resolved 401. Integrated (NTLM/Negotiate) authentication
// is not available on the handshake.
func (c *Client) Subscribe(ctx context.Context, database string) (*Subscription, error) {
	httpURL := c.URL(ChangesPath(database))
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http")

	handshake, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating handshake request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		prepared := c.pipeline.Prepare(handshake)

		conn, resp, err := c.dialer.DialContext(ctx, wsURL, prepared.Header)
		if err == nil {
			c.logger.Debug("change subscription opened", zap.String("database", database))
			return &Subscription{conn: conn, logger: c.logger}, nil
		}
		if resp == nil || !errors.Is(err, websocket.ErrBadHandshake) {
			return nil, fmt.Errorf("subscribe %s: %w", database, err)
		}

		if resp.Request == nil {
			resp.Request = prepared
		}
		retry, herr := c.handleChallenge(ctx, resp)
		drainAndClose(resp)
		if herr != nil {
			return nil, fmt.Errorf("subscribe %s: %w", database, herr)
		}
		if !retry || attempt > 0 {
			return nil, fmt.Errorf("subscribe %s: %w", database, statusErrorOf(resp.StatusCode))
		}
	}
}

// Next blocks until the next notification arrives or ctx is done. A
// cancelled Next leaves the subscription unusable.
func (s *Subscription) Next(ctx context.Context) (model.ChangeNotification, error) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	var n model.ChangeNotification
	if err := s.conn.ReadJSON(&n); err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("reading change notification: %w", err)
	}
	return n, nil
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		err = s.conn.Close()
		s.logger.Debug("change subscription closed")
	})
	return err
}

func statusErrorOf(code int) *StatusError {
	return &StatusError{StatusCode: code, Message: http.StatusText(code)}
}
