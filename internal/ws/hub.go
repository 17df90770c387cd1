package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/repositories"
)

const (
	// historyLimit is the number of messages replayed to a new connection.
	historyLimit = 7

	// storeTimeout bounds every persistence call so a hung store cannot
	// stall a connection's frame processing indefinitely.
	storeTimeout = 5 * time.Second

	sendQueueSize = 64
)

// Hub relays inbound frames: classified messages are persisted and broadcast
// to every registered connection; reactions increment stored counts and
// broadcast the increment notification.
type Hub struct {
	registry *Registry
	messages repositories.MessageRepository

	// clock state keeps server-assigned sent_time values non-decreasing
	// across concurrent connections.
	clockMu  sync.Mutex
	lastTime time.Time
}

// NewHub constructs a Hub over the given registry and message store.
func NewHub(registry *Registry, messages repositories.MessageRepository) *Hub {
	return &Hub{registry: registry, messages: messages}
}

// Registry exposes the session registry the hub fans out to.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// now returns the server receipt time, monotonically non-decreasing for the
// life of the process.
func (h *Hub) now() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	t := time.Now().UTC()
	if !t.After(h.lastTime) {
		t = h.lastTime
	}
	h.lastTime = t
	return t
}

// HandleFrame processes one inbound frame from a registered connection.
// Frames from a single connection are handled in arrival order by the
// connection's read loop calling this synchronously.
func (h *Hub) HandleFrame(ctx context.Context, connID string, payload []byte) {
	info, ok := h.registry.Lookup(connID)
	if !ok {
		// Connection already deregistered; drop the frame.
		return
	}

	in, err := Classify(payload)
	if err != nil {
		log.Printf("malformed frame from %s, degrading to text: %v", info.Identity.Username, err)
	}

	if in.Type == models.TypeReaction {
		h.applyReaction(ctx, info, in)
		return
	}

	msg := h.buildMessage(info, in)

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := h.messages.InsertMessage(storeCtx, msg); err != nil {
		// Best-effort delivery takes precedence over durability: the
		// message still goes out to connected clients.
		log.Printf("failed to persist message %s: %v", msg.ID, err)
		observability.IncStoreError("insert")
	}

	h.Broadcast(msg)
}

// buildMessage assembles the broadcast/persistence form of a classified frame.
// Message identity is assigned here, once, so reactions always have a stable
// target id regardless of store availability.
func (h *Hub) buildMessage(info ConnInfo, in Inbound) models.Message {
	msg := models.Message{
		ID:        uuid.NewString(),
		Sender:    info.Identity.Username,
		FullName:  info.Identity.FullName,
		AvatarURL: info.Identity.AvatarURL,
		Type:      in.Type,
		Reactions: models.ReactionCounts{},
		SentTime:  h.now(),
	}

	switch in.Type {
	case models.TypeMedia:
		msg.Message = in.Message
		msg.MediaType = in.MediaType
	case models.TypeFile:
		msg.FileName = in.FileName
		msg.FileData = in.FileData
		msg.MimeType = in.MimeType
	case models.TypeVoice:
		msg.AudioData = in.AudioData
		msg.MediaType = in.MediaType
	default:
		msg.Message = in.Message
	}
	return msg
}

// applyReaction increments the stored count for the target message and
// broadcasts the increment notification. Clients apply the increment to their
// own local view; the aggregate is only ever read back through history.
func (h *Hub) applyReaction(ctx context.Context, info ConnInfo, in Inbound) {
	event := models.ReactionEvent{
		Type:      models.TypeReaction,
		MessageID: in.MessageID,
		Reaction:  in.Reaction,
		ReactedBy: info.Identity.Username,
		ReactedAt: h.now(),
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if _, err := h.messages.IncrementReaction(storeCtx, in.MessageID, in.Reaction); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			// The target never existed; nothing for clients to apply.
			log.Printf("reaction from %s references unknown message %s", info.Identity.Username, in.MessageID)
			return
		}
		// Store failure: same best-effort policy as inserts, the live
		// notification still goes out.
		log.Printf("failed to persist reaction on %s: %v", in.MessageID, err)
		observability.IncStoreError("increment_reaction")
	}

	h.Broadcast(event)
}

// Broadcast serializes event once and delivers the identical bytes to every
// registered connection, best-effort. A full queue means the peer is too slow
// or dead; the frame is dropped for that peer and its own disconnect path
// cleans it up.
func (h *Hub) Broadcast(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("failed to serialize broadcast event: %v", err)
		return
	}

	h.registry.each(func(c *client) {
		select {
		case c.send <- payload:
		default:
			log.Printf("dropping broadcast for %s: send queue full", c.info.ConnID)
			observability.IncBroadcastDropped()
		}
	})
}

// sendHistory enqueues the replay batch for a new connection. Called before
// the client is registered, so the history event is always first in the queue
// and precedes any live broadcast. A store failure yields an empty batch
// rather than a failed connection.
func (h *Hub) sendHistory(ctx context.Context, c *client) {
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	batch := []models.Message{}
	msgs, err := h.messages.RecentMessages(storeCtx, historyLimit)
	if err != nil {
		log.Printf("failed to load chat history: %v", err)
		observability.IncStoreError("recent_messages")
	} else {
		// Store order is newest first; replay is chronological.
		for i := len(msgs) - 1; i >= 0; i-- {
			batch = append(batch, msgs[i])
		}
	}

	payload, err := json.Marshal(models.HistoryEvent{Type: models.TypeHistory, Data: batch})
	if err != nil {
		log.Printf("failed to serialize history event: %v", err)
		return
	}
	c.send <- payload
}
