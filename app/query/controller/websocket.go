package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/bakerx/app/query/live"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action  string `json:"action"`  // "subscribe" or "unsubscribe"
	Account string `json:"account"` // Account address, or "*" for every account
}

// HandleWebSocket upgrades the connection and streams block.ingested events for the accounts
// the client subscribes to.
//
// Protocol:
// Client sends: {"action": "subscribe", "account": "4x..."}
// Client sends: {"action": "subscribe", "account": "*"}
// Client sends: {"action": "unsubscribe", "account": "4x..."}
//
// Server sends:
// - {"type": "block.ingested", "payload": {...}}
// - {"type": "subscribed", "payload": {"account": "4x..."}}
// - {"type": "unsubscribed", "payload": {"account": "4x..."}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live events disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Warn("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	id, client := c.App.Hub.Register(sendBuffer)
	defer c.App.Hub.Unregister(id)
	c.App.Logger.Info("WebSocket client connected", zap.Uint64("client", id), zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in WebSocket writer",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())))
			}
			cancel()
			// unblocks the reader
			_ = conn.Close()
		}()
		c.writeMessages(ctx, conn, client)
	}()

	c.readClientMessages(ctx, conn, client)
	cancel()
	client.Close()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.Uint64("client", id))
}

// writeMessages owns every write to conn: queued frames and keep-alive pings.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, client *live.Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done:
			return
		case msg := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// readClientMessages handles subscription requests until the connection closes.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, client *live.Client) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	reply := func(msg live.ServerMessage) {
		select {
		case client.Send <- msg:
		case <-ctx.Done():
		}
	}

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.App.Logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.Account == "" && (msg.Action == "subscribe" || msg.Action == "unsubscribe") {
			reply(live.ServerMessage{Type: live.TypeError, Payload: map[string]string{"message": "account is required"}})
			continue
		}
		switch msg.Action {
		case "subscribe":
			client.Subs.Subscribe(msg.Account)
			reply(live.ServerMessage{Type: live.TypeSubscribed, Payload: map[string]string{"account": msg.Account}})
		case "unsubscribe":
			client.Subs.Unsubscribe(msg.Account)
			reply(live.ServerMessage{Type: live.TypeUnsubscribed, Payload: map[string]string{"account": msg.Account}})
		default:
			reply(live.ServerMessage{Type: live.TypeError, Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
