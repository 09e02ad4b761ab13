// Package api - WebSocket handler for the live crash round
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitboss/gse/internal/crash"
	"github.com/pitboss/gse/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient represents a WebSocket client connection
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	accountID string
	mu        sync.Mutex
}

// HandleCrashWebSocket streams round events to the client and accepts
// bet and cash-out commands over the same connection.
func (h *Handler) HandleCrashWebSocket(w http.ResponseWriter, r *http.Request) {
	accountID := r.Context().Value("account_id").(string)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		accountID: accountID,
	}

	events, unsubscribe := h.crash.Subscribe()

	go client.writePump()
	go h.forwardEvents(client, events)
	go h.readPump(client, unsubscribe)
}

// forwardEvents pushes engine broadcasts into the client send queue.
// It exits when the subscription channel is drained after unsubscribe
// or the client send queue is closed by readPump.
func (h *Handler) forwardEvents(c *WSClient, events <-chan crash.Event) {
	defer func() {
		// readPump closes c.send on disconnect; a racing send panics.
		recover()
	}()

	for ev := range events {
		h.sendMessage(c, ev.Type, ev)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the handler
func (h *Handler) readPump(c *WSClient, unsubscribe func()) {
	defer func() {
		unsubscribe()
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Send welcome message with the current round snapshot
	h.sendMessage(c, "connected", h.crash.Info())

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("WebSocket closed")
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "INVALID_MESSAGE", "Invalid message format")
			continue
		}

		h.handleWSMessage(c, &msg)
	}
}

// handleWSMessage processes incoming WebSocket messages
func (h *Handler) handleWSMessage(c *WSClient, msg *WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Type {
	case "bet":
		var payload struct {
			Stake       float64 `json:"stake"`
			AutoCashout float64 `json:"auto_cashout,omitempty"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Stake <= 0 {
			h.sendError(c, "INVALID_PAYLOAD", "Invalid bet payload")
			return
		}

		cfg, err := h.coord.Config(domain.GameCrash)
		if err != nil {
			h.sendError(c, "UNKNOWN_GAME", "Crash is not available")
			return
		}

		stake := domain.NewMoney(payload.Stake, cfg.MinStake.Currency)
		betID, err := h.crash.PlaceBet(ctx, c.accountID, stake, payload.AutoCashout)
		if err != nil {
			h.sendError(c, "BET_REJECTED", err.Error())
			return
		}
		h.sendMessage(c, "bet_placed", map[string]interface{}{
			"bet_id": betID,
			"stake":  stake.Float64(),
		})

	case "cashout":
		result, err := h.crash.Cashout(ctx, c.accountID)
		if err != nil {
			h.sendError(c, "CASHOUT_REJECTED", err.Error())
			return
		}
		h.sendMessage(c, "cashed_out", map[string]interface{}{
			"bet_id":  result.Bet.ID,
			"payout":  result.Bet.Payout.Float64(),
			"balance": result.NewBalance.Float64(),
		})

	case "balance":
		balance, err := h.coord.GetBalance(ctx, c.accountID)
		if err != nil {
			h.sendError(c, "BALANCE_ERROR", "Failed to get balance")
			return
		}
		h.sendMessage(c, "balance", map[string]interface{}{
			"balance":  balance.Float64(),
			"currency": balance.Currency,
		})

	case "ping":
		h.sendMessage(c, "pong", map[string]interface{}{
			"timestamp": time.Now().Unix(),
		})

	default:
		h.sendError(c, "UNKNOWN_MESSAGE", "Unknown message type: "+msg.Type)
	}
}

// sendMessage sends a message to the client
func (h *Handler) sendMessage(c *WSClient, msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	msg := WSMessage{
		Type:    msgType,
		Payload: payloadBytes,
	}
	msgBytes, _ := json.Marshal(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case c.send <- msgBytes:
	default:
		// Channel full, drop message
	}
}

// sendError sends an error message to the client
func (h *Handler) sendError(c *WSClient, code, message string) {
	h.sendMessage(c, "error", map[string]string{
		"code":    code,
		"message": message,
	})
}
