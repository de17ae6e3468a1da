// Package realtime routes chat events between websocket connections and
// conversation rooms.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradechat-backend/internal/models"
	"tradechat-backend/internal/services"
)

// Event names on the wire.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventMessageError   = "message_error"

	// Room-agnostic events kept for older clients.
	EventLegacySend      = "sendMessage"
	EventLegacyBroadcast = "newMessage"
)

// MessageAppender persists a message before it is fanned out.
type MessageAppender interface {
	AppendMessage(ctx context.Context, conversationID string, req models.AppendMessageRequest) (*models.Conversation, *models.Message, error)
}

type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Router owns the room registry and dispatches client events.
type Router struct {
	registry   *Registry
	messages   MessageAppender
	upgrader   websocket.Upgrader
	sendBuffer int
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// RouterConfig tunes connection handling.
type RouterConfig struct {
	SendBuffer     int
	AllowedOrigins []string // Empty or "*" accepts any origin
}

func NewRouter(registry *Registry, messages MessageAppender, cfg RouterConfig, logger *slog.Logger) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		registry:   registry,
		messages:   messages,
		sendBuffer: cfg.SendBuffer,
		log:        logger.With("component", "RealtimeRouter"),
		ctx:        ctx,
		cancel:     cancel,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return r
}

// ServeWS upgrades the request and starts the connection pumps.
func (r *Router) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		r.log.Warn("websocket upgrade failed", "error", err, "remote", req.RemoteAddr)
		return
	}

	client := NewClient(conn, r.sendBuffer)
	r.Connect(client)
	r.log.Info("client connected", "client_id", client.ID, "remote", req.RemoteAddr, "total", r.registry.Len())

	go client.writePump(r.log)
	go client.readPump(r)
}

// Connect registers c so it takes part in legacy broadcasts and may join rooms.
func (r *Router) Connect(c *Client) {
	r.registry.Register(c)
}

// HandleEvent decodes one inbound frame and dispatches it.
func (r *Router) HandleEvent(ctx context.Context, c *Client, raw []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		r.sendError(c, "malformed event", nil)
		return
	}

	switch ev.Event {
	case EventJoinRoom, EventLeaveRoom:
		var payload models.JoinRoomPayload
		if err := decodeData(ev.Data, &payload); err != nil || strings.TrimSpace(payload.ConversationID) == "" {
			r.sendError(c, "conversationId is required", nil)
			return
		}
		if ev.Event == EventJoinRoom {
			r.Join(c, payload.ConversationID)
		} else {
			r.Leave(c, payload.ConversationID)
		}

	case EventSendMessage:
		var payload models.SendMessagePayload
		if err := decodeData(ev.Data, &payload); err != nil {
			r.sendError(c, "malformed send_message payload", nil)
			return
		}
		r.SendMessage(ctx, c, payload)

	case EventLegacySend:
		r.BroadcastLegacy(ev.Data)

	default:
		r.sendError(c, "unknown event "+ev.Event, nil)
	}
}

// Join subscribes c to a conversation room. Room ids are not checked against
// the store. Joining twice is a no-op.
func (r *Router) Join(c *Client, conversationID string) {
	room := roomKey(conversationID)
	if r.registry.Join(c, room) {
		r.log.Debug("joined room", "client_id", c.ID, "room", room)
	}
}

// Leave unsubscribes c from a room. Leaving a room that was never joined is a no-op.
func (r *Router) Leave(c *Client, conversationID string) {
	room := roomKey(conversationID)
	if r.registry.Leave(c, room) {
		r.log.Debug("left room", "client_id", c.ID, "room", room)
	}
}

// SendMessage persists the message, then delivers receive_message to every
// member of the room, the sender included. Failures are reported to the
// sender alone and nothing is broadcast.
func (r *Router) SendMessage(ctx context.Context, c *Client, payload models.SendMessagePayload) {
	conv, msg, err := r.messages.AppendMessage(ctx, payload.ConversationID, models.AppendMessageRequest{
		SenderID: payload.Message.Sender,
		Text:     payload.Message.Text,
		SentAt:   payload.Message.Timestamp,
	})
	if err != nil {
		var convID *uuid.UUID
		if id, parseErr := uuid.Parse(payload.ConversationID); parseErr == nil {
			convID = &id
		}
		r.log.Debug("send_message rejected", "client_id", c.ID, "conversation_id", payload.ConversationID, "error", err)
		r.sendError(c, errorText(err), convID)
		return
	}

	frame, err := encode(EventReceiveMessage, models.ReceiveMessagePayload{ConversationID: conv.ID, Message: *msg})
	if err != nil {
		r.log.Error("failed to encode receive_message", "conversation_id", conv.ID, "error", err)
		return
	}
	r.fanOut(r.registry.Members(conv.ID.String()), frame, EventReceiveMessage)
}

// BroadcastLegacy relays data as newMessage to every connected client,
// regardless of room membership.
func (r *Router) BroadcastLegacy(data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	frame, err := encode(EventLegacyBroadcast, data)
	if err != nil {
		r.log.Error("failed to encode newMessage", "error", err)
		return
	}
	r.fanOut(r.registry.Clients(), frame, EventLegacyBroadcast)
}

// Disconnect removes c from all rooms and closes its outbound queue.
func (r *Router) Disconnect(c *Client) {
	rooms, ok := r.registry.Remove(c)
	c.Close()
	if !ok {
		return
	}
	r.log.Info("client disconnected", "client_id", c.ID, "rooms_left", len(rooms), "total", r.registry.Len())
}

// Shutdown disconnects every client and cancels in-flight event handling.
func (r *Router) Shutdown() {
	r.cancel()
	for _, c := range r.registry.Clients() {
		r.Disconnect(c)
	}
}

func (r *Router) fanOut(targets []*Client, frame []byte, event string) {
	dropped := 0
	for _, target := range targets {
		if !target.Deliver(frame) {
			dropped++
		}
	}
	if dropped > 0 {
		r.log.Warn("delivery dropped", "event", event, "dropped", dropped, "targets", len(targets))
	}
}

func (r *Router) sendError(c *Client, text string, conversationID *uuid.UUID) {
	frame, err := encode(EventMessageError, models.MessageErrorPayload{Error: text, ConversationID: conversationID})
	if err != nil {
		r.log.Error("failed to encode message_error", "error", err)
		return
	}
	if !c.Deliver(frame) {
		r.log.Warn("delivery dropped", "event", EventMessageError, "client_id", c.ID)
	}
}

// decodeData keeps numbers exact so int64 sender ids above 2^53 survive.
func decodeData(data json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(models.Event{Event: event, Data: data})
}

// roomKey canonicalizes uuid room ids so case differences share a room.
func roomKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return raw
}

func errorText(err error) string {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, services.ErrConversationNotFound):
		return services.ErrConversationNotFound.Error()
	case errors.Is(err, services.ErrInvalidIdentifier):
		return services.ErrInvalidIdentifier.Error()
	case errors.Is(err, services.ErrSenderNotParticipant):
		return services.ErrSenderNotParticipant.Error()
	case errors.Is(err, services.ErrStoreUnavailable):
		return services.ErrStoreUnavailable.Error()
	default:
		return "failed to send message"
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
