// Package relay implements the WebSocket client side of the signaling relay.
// It dials one connection per room and pumps envelopes between the wire and
// the call core.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/constants"
)

// EnvelopeHandler consumes envelopes received from the relay.
type EnvelopeHandler interface {
	HandleEnvelope(env *domain.SignalEnvelope)
}

// Config holds relay client configuration.
type Config struct {
	// URL is the relay WebSocket endpoint, without the room query parameter.
	URL string

	// Token is the bearer token presented during the upgrade handshake.
	Token string
}

// Client is one authenticated relay connection scoped to a room.
// Send may be called from any goroutine.
type Client struct {
	roomID  uuid.UUID
	conn    *websocket.Conn
	handler EnvelopeHandler
	log     *zap.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// Dial connects to the relay for one room and starts the read/write pumps.
func Dial(ctx context.Context, cfg Config, roomID uuid.UUID, handler EnvelopeHandler, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	query := endpoint.Query()
	query.Set("room_id", roomID.String())
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay handshake rejected (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	c := &Client{
		roomID:  roomID,
		conn:    conn,
		handler: handler,
		log:     log,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

// Send delivers one envelope to the relay.
func (c *Client) Send(ctx context.Context, env *domain.SignalEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("relay connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
	})
	return nil
}

// readPump feeds received envelopes into the handler.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("relay connection closed",
					zap.String("room_id", c.roomID.String()), zap.Error(err))
			}
			return
		}

		var env domain.SignalEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.Warn("invalid envelope from relay",
				zap.String("room_id", c.roomID.String()), zap.Error(err))
			continue
		}
		if env.RoomID == uuid.Nil {
			env.RoomID = c.roomID
		}

		c.handler.HandleEnvelope(&env)
	}
}

// writePump drains the send queue onto the wire.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("relay write failed",
					zap.String("room_id", c.roomID.String()), zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
