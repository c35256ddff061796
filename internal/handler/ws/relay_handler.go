// Package ws implements the WebSocket relay that routes call signaling
// between room participants. The relay is mostly transparent: it stamps
// sender identity, fans envelopes out room-wide or point-to-point, and
// translates the few caller-only message types into their room-facing
// counterparts.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/constants"
	pkgcontext "voicelink-backend/pkg/context"
	"voicelink-backend/pkg/logger"
	"voicelink-backend/pkg/metrics"
	"voicelink-backend/pkg/sanitize"
)

// CallRecorder persists finished calls for history lookups.
type CallRecorder interface {
	Record(ctx context.Context, rec *domain.CallRecord) error
}

// PresenceChecker reports whether a user currently has any live connection.
type PresenceChecker interface {
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// RoomRoster lists the members of a room, connected or not.
type RoomRoster interface {
	Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// RelayHub routes signaling envelopes between the WebSocket clients of each
// room. Multiple relay instances stay in sync through Redis Pub/Sub; each
// instance tags its published frames so it can ignore its own echoes.
type RelayHub struct {
	// Connected clients per room, at most one per user
	rooms map[uuid.UUID]map[uuid.UUID]*RelayClient

	// Users that joined the room's call. Being connected only means
	// reachable; ringing clients are not in here until they join.
	callParticipants map[uuid.UUID]map[uuid.UUID]bool

	// Cancel functions for room subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	redisClient *redis.Client
	instanceID  string

	recorder CallRecorder
	presence PresenceChecker
	roster   RoomRoster

	mu sync.RWMutex

	register   chan *RelayClient
	unregister chan *RelayClient
	inbound    chan *inboundFrame

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// RelayClient represents one WebSocket connection of a user in a room.
type RelayClient struct {
	hub    *RelayHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	roomID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// inboundFrame pairs an envelope with the client that sent it.
type inboundFrame struct {
	client   *RelayClient
	envelope *domain.SignalEnvelope
}

// relayFrame is the Pub/Sub wire format between relay instances.
type relayFrame struct {
	Relay    string                 `json:"relay"`
	Envelope *domain.SignalEnvelope `json:"envelope"`
}

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}
		return allowedOrigins()[origin]
	},
}

// allowedOrigins returns the origin allow-list for WebSocket upgrades.
func allowedOrigins() map[string]bool {
	allowed := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
	}
	return allowed
}

// NewRelayHub creates a relay hub and starts its routing loop.
func NewRelayHub(redisClient *redis.Client, recorder CallRecorder, presence PresenceChecker, roster RoomRoster) *RelayHub {
	// Default max connections: 1000 (configurable via environment if needed)
	maxConns := 1000
	if val := os.Getenv("WS_MAX_RELAY_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &RelayHub{
		rooms:               make(map[uuid.UUID]map[uuid.UUID]*RelayClient),
		callParticipants:    make(map[uuid.UUID]map[uuid.UUID]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		redisClient:         redisClient,
		instanceID:          uuid.New().String(),
		recorder:            recorder,
		presence:            presence,
		roster:              roster,
		register:            make(chan *RelayClient),
		unregister:          make(chan *RelayClient),
		inbound:             make(chan *inboundFrame, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *RelayHub) run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case frame := <-h.inbound:
			h.route(frame.client, frame.envelope)
		}
	}
}

func (h *RelayHub) addClient(client *RelayClient) {
	h.mu.Lock()
	if h.rooms[client.roomID] == nil {
		h.rooms[client.roomID] = make(map[uuid.UUID]*RelayClient)

		// Create cancelable context for subscription
		ctx, cancel := context.WithCancel(context.Background())
		h.subscriptionCancels[client.roomID] = cancel
		go h.subscribeToRoom(ctx, client.roomID)
	}

	// A reconnect from the same user replaces the stale connection
	if old, ok := h.rooms[client.roomID][client.userID]; ok {
		close(old.send)
		old.cancel()
	}
	h.rooms[client.roomID][client.userID] = client
	h.mu.Unlock()

	metrics.RelayConnectionsActive.Inc()
	metrics.RelayConnectionTotal.Inc()
}

func (h *RelayHub) removeClient(client *RelayClient) {
	h.mu.Lock()
	clients, ok := h.rooms[client.roomID]
	if ok && clients[client.userID] == client {
		h.detachClientLocked(client)
	}
	// A reconnect may have replaced this client already; the user then
	// keeps their seat in the call.
	_, stillConnected := h.rooms[client.roomID][client.userID]
	h.mu.Unlock()

	metrics.RelayConnectionsActive.Dec()
	metrics.RelayDisconnectionTotal.Inc()

	if !stillConnected && h.removeParticipant(client.roomID, client.userID) {
		// The connection died before the participant could say goodbye.
		h.announceLeft(client.roomID, client.userID)
	}
}

// detachClientLocked drops a client from its room and closes its pumps. The
// last client takes the room's bookkeeping (map entry, subscription) with it.
// Callers must hold h.mu.
func (h *RelayHub) detachClientLocked(client *RelayClient) {
	clients := h.rooms[client.roomID]
	if clients[client.userID] != client {
		return
	}
	delete(clients, client.userID)
	close(client.send)
	client.cancel()

	if len(clients) == 0 {
		if cancel, ok := h.subscriptionCancels[client.roomID]; ok {
			cancel()
			delete(h.subscriptionCancels, client.roomID)
		}
		delete(h.rooms, client.roomID)
	}
}

// route applies the relay's translation rules to one client envelope and
// delivers the result locally and to the other relay instances.
func (h *RelayHub) route(client *RelayClient, env *domain.SignalEnvelope) {
	env.From = client.userID
	env.RoomID = client.roomID
	env.Timestamp = time.Now()

	metrics.RelaySignalsTotal.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case domain.SignalJoin:
		h.handleJoin(client, env)
		return

	case domain.SignalCallEnd:
		// Terminal report from the last participant; persisted, not relayed.
		h.removeParticipant(client.roomID, client.userID)
		h.recordCall(env)
		return

	case domain.SignalCallStart:
		env.Type = domain.SignalCallIncoming
		env.CallerName = sanitize.SanitizeDisplayName(env.CallerName)
		h.noteUnreachableMembers(client.ctx, env)

	case domain.SignalCallDecline:
		// The decline travels back room-wide so every ringing member stands down.
		env.Type = domain.SignalCallDeclined
		env.PeerID = client.userID
		env.To = nil

	case domain.SignalCallCancel:
		env.Type = domain.SignalCallCancelled
		env.PeerID = client.userID

	case domain.SignalLeft:
		env.PeerID = client.userID
		h.removeParticipant(client.roomID, client.userID)

	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICE:
		if !env.PointToPoint() {
			logger.Warn("Discarding negotiation message without target",
				zap.String("type", string(env.Type)),
				zap.String("room_id", env.RoomID.String()),
				zap.String("user_id", client.userID.String()))
			return
		}

	default:
		logger.Warn("Discarding unroutable message type",
			zap.String("type", string(env.Type)),
			zap.String("room_id", env.RoomID.String()),
			zap.String("user_id", client.userID.String()))
		return
	}

	h.dispatchLocal(env)
	h.publish(client.ctx, env)
}

// handleJoin seats the sender in the room's call, answers with the
// participants already there, and announces the newcomer to them. Connected
// clients that are still ringing hear nothing.
func (h *RelayHub) handleJoin(client *RelayClient, env *domain.SignalEnvelope) {
	h.addParticipant(client.ctx, client.roomID, client.userID)

	h.sendTo(client.roomID, client.userID, &domain.SignalEnvelope{
		Type:      domain.SignalPeers,
		RoomID:    client.roomID,
		Peers:     h.callPeers(client.ctx, client.roomID, client.userID),
		Timestamp: time.Now(),
	})

	joined := &domain.SignalEnvelope{
		Type:      domain.SignalJoined,
		RoomID:    client.roomID,
		From:      client.userID,
		PeerID:    client.userID,
		Timestamp: env.Timestamp,
	}
	h.deliverParticipants(joined)
	h.publish(client.ctx, joined)
}

// addParticipant records a user as joined to the room's call, locally and in
// the shared Redis set the other relay instances read.
func (h *RelayHub) addParticipant(ctx context.Context, roomID, userID uuid.UUID) {
	h.mu.Lock()
	if h.callParticipants[roomID] == nil {
		h.callParticipants[roomID] = make(map[uuid.UUID]bool)
	}
	h.callParticipants[roomID][userID] = true
	h.mu.Unlock()

	if h.redisClient == nil {
		return
	}
	key := participantsKey(roomID)
	if err := h.redisClient.SAdd(ctx, key, userID.String()).Err(); err != nil {
		logger.Warn("Failed to share call participant",
			zap.String("room_id", roomID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	// The set outlives crashed instances; cap it at the longest legal call
	h.redisClient.Expire(ctx, key, constants.MaxCallDuration)
}

// removeParticipant unseats a user from the room's call. Reports whether the
// user actually held a seat.
func (h *RelayHub) removeParticipant(roomID, userID uuid.UUID) bool {
	h.mu.Lock()
	seated := h.callParticipants[roomID][userID]
	if seated {
		delete(h.callParticipants[roomID], userID)
		if len(h.callParticipants[roomID]) == 0 {
			delete(h.callParticipants, roomID)
		}
	}
	h.mu.Unlock()

	if seated && h.redisClient != nil {
		ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
		defer cancel()
		if err := h.redisClient.SRem(ctx, participantsKey(roomID), userID.String()).Err(); err != nil {
			logger.Warn("Failed to unshare call participant",
				zap.String("room_id", roomID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
	return seated
}

// callPeers lists the call participants of a room, minus the asker. The
// shared Redis set is authoritative when several instances carry the room.
func (h *RelayHub) callPeers(ctx context.Context, roomID, except uuid.UUID) []uuid.UUID {
	if h.redisClient != nil {
		ids, err := h.redisClient.SMembers(ctx, participantsKey(roomID)).Result()
		if err == nil {
			peers := make([]uuid.UUID, 0, len(ids))
			for _, raw := range ids {
				id, parseErr := uuid.Parse(raw)
				if parseErr != nil || id == except {
					continue
				}
				peers = append(peers, id)
			}
			return peers
		}
		logger.Warn("Failed to read shared call participants, using local view",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]uuid.UUID, 0, len(h.callParticipants[roomID]))
	for id := range h.callParticipants[roomID] {
		if id != except {
			peers = append(peers, id)
		}
	}
	return peers
}

// announceLeft synthesizes the leave a vanished participant never sent, so
// the remaining mesh tears down that peer's links.
func (h *RelayHub) announceLeft(roomID, userID uuid.UUID) {
	env := &domain.SignalEnvelope{
		Type:      domain.SignalLeft,
		RoomID:    roomID,
		From:      userID,
		PeerID:    userID,
		Timestamp: time.Now(),
	}
	h.deliverParticipants(env)

	ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
	defer cancel()
	h.publish(ctx, env)

	metrics.RelaySignalsTotal.WithLabelValues(string(domain.SignalLeft)).Inc()
}

func participantsKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:call:participants", roomID)
}

// recordCall persists the outcome reported by a call-end envelope. Cancelled
// calls never produce one, so everything arriving here is history-worthy.
func (h *RelayHub) recordCall(env *domain.SignalEnvelope) {
	if h.recorder == nil {
		return
	}

	now := time.Now()
	started := now
	if env.StartedAt != nil {
		started = *env.StartedAt
	}
	rec := &domain.CallRecord{
		CallID:    uuid.New(),
		RoomID:    env.RoomID,
		CallerID:  env.From,
		Status:    env.Status,
		StartedAt: started,
		EndedAt:   &now,
		Duration:  int(now.Sub(started).Seconds()),
	}
	if rec.Status == "" {
		rec.Status = domain.StatusCompleted
	}

	ctx, cancel := pkgcontext.WithMediumTimeout(context.Background())
	defer cancel()
	if err := h.recorder.Record(ctx, rec); err != nil {
		logger.Error("Failed to persist call record",
			zap.String("room_id", env.RoomID.String()),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
		return
	}
	metrics.CallRecordsPersistedTotal.WithLabelValues(string(rec.Status)).Inc()
}

// noteUnreachableMembers checks the room roster against presence so missed
// rings are visible in the logs. Members online elsewhere receive the ring
// through the Pub/Sub fanout.
func (h *RelayHub) noteUnreachableMembers(ctx context.Context, env *domain.SignalEnvelope) {
	if h.roster == nil || h.presence == nil {
		return
	}

	members, err := h.roster.Members(ctx, env.RoomID)
	if err != nil {
		logger.Warn("Failed to load room roster",
			zap.String("room_id", env.RoomID.String()),
			zap.Error(err))
		return
	}

	for _, member := range members {
		if member == env.From {
			continue
		}
		online, err := h.presence.IsUserOnline(ctx, member)
		if err != nil {
			logger.Warn("Presence lookup failed",
				zap.String("user_id", member.String()),
				zap.Error(err))
			continue
		}
		if !online {
			metrics.RelayMissedRingsTotal.Inc()
			logger.Debug("Room member offline, ring not deliverable",
				zap.String("room_id", env.RoomID.String()),
				zap.String("user_id", member.String()))
		}
	}
}

// dispatchLocal picks the local fanout for one envelope. Mesh membership
// notices only concern clients seated in the call; everything else goes
// room-wide or point-to-point.
func (h *RelayHub) dispatchLocal(env *domain.SignalEnvelope) {
	switch env.Type {
	case domain.SignalJoined, domain.SignalLeft:
		h.deliverParticipants(env)
	default:
		h.deliverLocal(env)
	}
}

// deliverLocal fans an envelope out to the clients of this instance.
func (h *RelayHub) deliverLocal(env *domain.SignalEnvelope) {
	if env.PointToPoint() {
		h.sendTo(env.RoomID, *env.To, env)
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		logger.Error("Failed to marshal envelope", zap.Error(err))
		return
	}

	h.mu.Lock()
	for userID, client := range h.rooms[env.RoomID] {
		if userID == env.From {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer; detach it, the read pump finishes the cleanup
			h.detachClientLocked(client)
			metrics.RelayDroppedSendsTotal.Inc()
		}
	}
	h.mu.Unlock()
}

// deliverParticipants fans an envelope out to the local clients seated in
// the room's call.
func (h *RelayHub) deliverParticipants(env *domain.SignalEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Error("Failed to marshal envelope", zap.Error(err))
		return
	}

	h.mu.Lock()
	seated := h.callParticipants[env.RoomID]
	for userID, client := range h.rooms[env.RoomID] {
		if userID == env.From || !seated[userID] {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.detachClientLocked(client)
			metrics.RelayDroppedSendsTotal.Inc()
		}
	}
	h.mu.Unlock()
}

// sendTo delivers an envelope to a single user in a room, if connected here.
func (h *RelayHub) sendTo(roomID, userID uuid.UUID, env *domain.SignalEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Error("Failed to marshal envelope", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.rooms[roomID][userID]
	if !ok {
		return
	}
	select {
	case client.send <- payload:
	default:
		h.detachClientLocked(client)
		metrics.RelayDroppedSendsTotal.Inc()
	}
}

// publish forwards an envelope to the other relay instances.
func (h *RelayHub) publish(ctx context.Context, env *domain.SignalEnvelope) {
	if h.redisClient == nil {
		return
	}

	frame, err := json.Marshal(&relayFrame{Relay: h.instanceID, Envelope: env})
	if err != nil {
		logger.Error("Failed to marshal relay frame", zap.Error(err))
		return
	}

	channel := fmt.Sprintf("room:%s:signals", env.RoomID)
	if err := h.redisClient.Publish(ctx, channel, frame).Err(); err != nil {
		logger.Warn("Failed to publish relay frame",
			zap.String("room_id", env.RoomID.String()),
			zap.Error(err))
	}
}

// subscribeToRoom mirrors envelopes published by other relay instances into
// the local clients of the room.
func (h *RelayHub) subscribeToRoom(ctx context.Context, roomID uuid.UUID) {
	if h.redisClient == nil {
		return
	}

	channel := fmt.Sprintf("room:%s:signals", roomID)

	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to Redis channel",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		return
	}

	metrics.RelayRoomSubscriptionsActive.Inc()
	defer metrics.RelayRoomSubscriptionsActive.Dec()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Warn("Failed to unmarshal relay frame",
					zap.String("room_id", roomID.String()),
					zap.Error(err))
				continue
			}
			if frame.Relay == h.instanceID || frame.Envelope == nil {
				continue
			}
			// Local delivery only; the origin instance already published
			h.dispatchLocal(frame.Envelope)
		}
	}
}

// ServeWS handles WebSocket requests from call clients.
func (h *RelayHub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		// No available slots, reject connection
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	roomIDStr := c.Query("room_id")
	if roomIDStr == "" {
		release()
		c.JSON(400, gin.H{"error": "room_id required"})
		return
	}

	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		release()
		c.JSON(400, gin.H{"error": "invalid room_id"})
		return
	}

	// Get user ID from context (set by auth middleware)
	userIDVal, exists := c.Get("user_id")
	if !exists {
		release()
		c.JSON(401, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		release()
		c.JSON(500, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := relayUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("WebSocket upgrade failed",
			zap.String("room_id", roomID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RelayClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		roomID: roomID,
		ctx:    ctx,
		cancel: cancel,
	}

	client.hub.register <- client

	go func() {
		client.writePump()
		release()
	}()
	go client.readPump()
}

// readPump reads envelopes from the WebSocket into the hub.
func (c *RelayClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("room_id", c.roomID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var env domain.SignalEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("room_id", c.roomID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		select {
		case c.hub.inbound <- &inboundFrame{client: c, envelope: &env}:
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump writes messages to WebSocket
func (c *RelayClient) writePump() {
	// Ping slightly ahead of the read deadline on the other side
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
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

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
