package fakestore

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/model"
)

// WebSocket configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// subscriber is one open change feed.
type subscriber struct {
	database string
	send     chan model.ChangeNotification
	cancel   context.CancelFunc
}

// changesHub fans change notifications out to websocket subscribers.
type changesHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	mu       sync.RWMutex
	subs     map[*websocket.Conn]*subscriber
	wg       sync.WaitGroup
}

func newChangesHub(logger *zap.Logger) *changesHub {
	return &changesHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger: logger,
		subs:   make(map[*websocket.Conn]*subscriber),
	}
}

// registerRoutes registers the change feed route with the router.
func (h *changesHub) registerRoutes(router *mux.Router) {
	router.HandleFunc("/databases/{db}/changes", h.handleSubscribe).Methods(http.MethodGet)
}

// handleSubscribe upgrades the connection and starts streaming changes of
// the database in the path.
//
//nolint:contextcheck // the subscription outlives the upgrade request
func (h *changesHub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		database: mux.Vars(r)["db"],
		send:     make(chan model.ChangeNotification, sendBuffer),
		cancel:   cancel,
	}

	h.mu.Lock()
	h.subs[conn] = sub
	h.mu.Unlock()

	h.logger.Info("change subscriber connected",
		zap.String("database", sub.database),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	h.wg.Add(2)
	go h.writePump(ctx, conn, sub)
	go h.readPump(ctx, conn, cancel)
}

// publish delivers n to every subscriber of its database. Slow subscribers
// drop notifications instead of blocking writers.
func (h *changesHub) publish(n model.ChangeNotification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.database != n.Database {
			continue
		}
		select {
		case sub.send <- n:
		default:
			h.logger.Warn("change subscriber too slow, notification dropped",
				zap.String("database", n.Database),
				zap.String("document_id", n.DocumentID),
			)
		}
	}
}

// readPump drains control frames until the peer goes away.
func (h *changesHub) readPump(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		cancel()
		h.removeSubscriber(conn)
		h.wg.Done()
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warn("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}
}

// writePump sends queued notifications and keepalive pings.
func (h *changesHub) writePump(ctx context.Context, conn *websocket.Conn, sub *subscriber) {
	pingTicker := time.NewTicker(pingPeriod)

	defer func() {
		pingTicker.Stop()
		if err := conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
		h.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			h.sendCloseMessage(conn)
			return
		case n := <-sub.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(n); err != nil {
				h.logger.Debug("failed to send change notification", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// sendCloseMessage sends a close message to the connection.
func (h *changesHub) sendCloseMessage(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to set write deadline for close", zap.Error(err))
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		h.logger.Debug("failed to send close message", zap.Error(err))
	}
}

// removeSubscriber forgets a subscriber.
func (h *changesHub) removeSubscriber(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, exists := h.subs[conn]; exists {
		sub.cancel()
		delete(h.subs, conn)
		h.logger.Info("change subscriber disconnected", zap.String("database", sub.database))
	}
}

// subscribers returns the number of open change feeds.
func (h *changesHub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// closeAll ends every subscription and waits for the pumps to exit.
func (h *changesHub) closeAll() {
	h.mu.RLock()
	for _, sub := range h.subs {
		sub.cancel()
	}
	h.mu.RUnlock()

	h.wg.Wait()
	h.logger.Info("all change subscriptions closed")
}
