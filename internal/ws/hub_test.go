package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

func testIdentity(username string) models.Identity {
	return models.Identity{Username: username, FullName: username + " Test", AvatarURL: "https://example.com/" + username}
}

func registerTestClient(t *testing.T, registry *Registry, connID, username string, queueSize int) *client {
	t.Helper()
	c := newClient(ConnInfo{ConnID: connID, Identity: testIdentity(username)}, queueSize)
	require.NoError(t, registry.Register(connID, c))
	return c
}

func receiveEvent(t *testing.T, c *client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	default:
		t.Fatalf("expected a queued event for %s", c.info.ConnID)
		return nil
	}
}

func requireNoEvent(t *testing.T, c *client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected queued event for %s: %s", c.info.ConnID, payload)
	default:
	}
}

func TestHandleFrameTextPersistsAndBroadcastsToAllIncludingSender(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	alice := registerTestClient(t, hub.Registry(), "conn-alice", "alice", 8)
	bob := registerTestClient(t, hub.Registry(), "conn-bob", "bob", 8)

	repo.On("InsertMessage", mock.Anything, mock.AnythingOfType("models.Message")).Return(nil).Once()

	hub.HandleFrame(context.Background(), "conn-alice", []byte(`{"type":"text","message":"hi"}`))

	// The sender receives its own echo, identical bytes to every peer.
	fromAlice := receiveEvent(t, alice)
	fromBob := receiveEvent(t, bob)
	require.Equal(t, fromAlice, fromBob)

	var msg models.Message
	require.NoError(t, json.Unmarshal(fromBob, &msg))
	require.Equal(t, "alice", msg.Sender)
	require.Equal(t, models.TypeText, msg.Type)
	require.Equal(t, "hi", msg.Message)
	require.NotNil(t, msg.Reactions)
	require.Empty(t, msg.Reactions)
	require.NotEmpty(t, msg.ID)
	require.False(t, msg.SentTime.IsZero())

	repo.AssertExpectations(t)
}

func TestHandleFrameStoreFailureStillBroadcasts(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	carol := registerTestClient(t, hub.Registry(), "conn-carol", "carol", 8)
	peer := registerTestClient(t, hub.Registry(), "conn-peer", "peer", 8)

	repo.On("InsertMessage", mock.Anything, mock.AnythingOfType("models.Message")).Return(assert.AnError).Once()

	hub.HandleFrame(context.Background(), "conn-carol", []byte(`{"type":"text","message":"best effort"}`))

	var msg models.Message
	require.NoError(t, json.Unmarshal(receiveEvent(t, peer), &msg))
	require.Equal(t, "best effort", msg.Message)
	receiveEvent(t, carol)

	repo.AssertExpectations(t)
}

func TestHandleFrameUnknownTypeTreatedAsText(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	sender := registerTestClient(t, hub.Registry(), "conn-1", "alice", 8)

	var stored models.Message
	repo.On("InsertMessage", mock.Anything, mock.AnythingOfType("models.Message")).Run(func(args mock.Arguments) {
		stored = args.Get(1).(models.Message)
	}).Return(nil).Once()

	hub.HandleFrame(context.Background(), "conn-1", []byte(`{"type":"sticker","message":"wave"}`))

	require.Equal(t, models.TypeText, stored.Type)
	require.Equal(t, "wave", stored.Message)
	receiveEvent(t, sender)
	repo.AssertExpectations(t)
}

func TestHandleFrameFromDeregisteredConnectionIsDropped(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	peer := registerTestClient(t, hub.Registry(), "conn-peer", "peer", 8)

	hub.HandleFrame(context.Background(), "conn-gone", []byte(`{"type":"text","message":"ghost"}`))

	requireNoEvent(t, peer)
	repo.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
}

func TestApplyReactionIncrementsStoreAndBroadcastsNotification(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	alice := registerTestClient(t, hub.Registry(), "conn-alice", "alice", 8)
	bob := registerTestClient(t, hub.Registry(), "conn-bob", "bob", 8)

	// Reactions are deliberately not idempotent: each frame is one increment.
	repo.On("IncrementReaction", mock.Anything, "m1", "thumbs_up").Return(1, nil).Once()
	repo.On("IncrementReaction", mock.Anything, "m1", "thumbs_up").Return(2, nil).Once()

	frame := []byte(`{"type":"reaction","messageId":"m1","reaction":"thumbs_up"}`)
	hub.HandleFrame(context.Background(), "conn-bob", frame)
	hub.HandleFrame(context.Background(), "conn-bob", frame)

	var event models.ReactionEvent
	require.NoError(t, json.Unmarshal(receiveEvent(t, alice), &event))
	require.Equal(t, models.TypeReaction, event.Type)
	require.Equal(t, "m1", event.MessageID)
	require.Equal(t, "thumbs_up", event.Reaction)
	require.Equal(t, "bob", event.ReactedBy)
	require.False(t, event.ReactedAt.IsZero())

	// Second increment broadcast as well.
	receiveEvent(t, alice)
	receiveEvent(t, bob)
	receiveEvent(t, bob)

	repo.AssertExpectations(t)
}

func TestApplyReactionUnknownMessageNotBroadcast(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	peer := registerTestClient(t, hub.Registry(), "conn-peer", "peer", 8)
	sender := registerTestClient(t, hub.Registry(), "conn-s", "sender", 8)

	repo.On("IncrementReaction", mock.Anything, "missing", "heart").Return(0, repositories.ErrMessageNotFound).Once()

	hub.HandleFrame(context.Background(), "conn-s", []byte(`{"type":"reaction","messageId":"missing","reaction":"heart"}`))

	requireNoEvent(t, peer)
	requireNoEvent(t, sender)
	repo.AssertExpectations(t)
}

func TestApplyReactionStoreFailureStillBroadcasts(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	peer := registerTestClient(t, hub.Registry(), "conn-peer", "peer", 8)
	registerTestClient(t, hub.Registry(), "conn-s", "sender", 8)

	repo.On("IncrementReaction", mock.Anything, "m1", "heart").Return(0, assert.AnError).Once()

	hub.HandleFrame(context.Background(), "conn-s", []byte(`{"type":"reaction","messageId":"m1","reaction":"heart"}`))

	var event models.ReactionEvent
	require.NoError(t, json.Unmarshal(receiveEvent(t, peer), &event))
	require.Equal(t, "m1", event.MessageID)
	repo.AssertExpectations(t)
}

func TestBroadcastFullQueueDoesNotBlockOthers(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	// Slow peer with a single-slot queue that is already full.
	slow := newClient(ConnInfo{ConnID: "conn-slow", Identity: testIdentity("slow")}, 1)
	slow.send <- []byte("stale")
	require.NoError(t, hub.Registry().Register("conn-slow", slow))

	healthy := registerTestClient(t, hub.Registry(), "conn-ok", "ok", 8)

	hub.Broadcast(models.ReactionEvent{Type: models.TypeReaction, MessageID: "m1", Reaction: "heart"})

	// The healthy connection got the event; the slow one only holds its
	// stale entry.
	receiveEvent(t, healthy)
	require.Equal(t, []byte("stale"), receiveEvent(t, slow))
	requireNoEvent(t, slow)
}

func TestSendHistoryReplaysChronologicallyBeforeLiveBroadcast(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	older := models.Message{ID: "m1", Sender: "alice", Type: models.TypeText, Message: "first", Reactions: models.ReactionCounts{}, SentTime: time.Now().Add(-time.Minute)}
	newer := models.Message{ID: "m2", Sender: "bob", Type: models.TypeText, Message: "second", Reactions: models.ReactionCounts{"thumbs_up": 2, "heart": 1}, SentTime: time.Now()}

	// Store order is newest first.
	repo.On("RecentMessages", mock.Anything, 7).Return([]models.Message{newer, older}, nil).Once()

	c := newClient(ConnInfo{ConnID: "conn-new", Identity: testIdentity("new")}, 8)
	hub.sendHistory(context.Background(), c)
	require.NoError(t, hub.Registry().Register("conn-new", c))
	hub.Broadcast(models.ReactionEvent{Type: models.TypeReaction, MessageID: "m2", Reaction: "heart"})

	var history models.HistoryEvent
	require.NoError(t, json.Unmarshal(receiveEvent(t, c), &history))
	require.Equal(t, models.TypeHistory, history.Type)
	require.Len(t, history.Data, 2)
	require.Equal(t, "m1", history.Data[0].ID)
	require.Equal(t, "m2", history.Data[1].ID)
	require.Equal(t, models.ReactionCounts{"thumbs_up": 2, "heart": 1}, history.Data[1].Reactions)

	// The live event arrives strictly after the single history event.
	var live models.ReactionEvent
	require.NoError(t, json.Unmarshal(receiveEvent(t, c), &live))
	require.Equal(t, models.TypeReaction, live.Type)
	requireNoEvent(t, c)

	repo.AssertExpectations(t)
}

func TestSendHistoryStoreFailureYieldsEmptyBatch(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(NewRegistry(), repo)

	repo.On("RecentMessages", mock.Anything, 7).Return(([]models.Message)(nil), assert.AnError).Once()

	c := newClient(ConnInfo{ConnID: "conn-new", Identity: testIdentity("new")}, 8)
	hub.sendHistory(context.Background(), c)

	payload := receiveEvent(t, c)
	require.Contains(t, string(payload), `"data":[]`)

	var history models.HistoryEvent
	require.NoError(t, json.Unmarshal(payload, &history))
	require.Equal(t, models.TypeHistory, history.Type)
	require.Empty(t, history.Data)
	repo.AssertExpectations(t)
}

func TestNowIsMonotonicallyNonDecreasing(t *testing.T) {
	hub := NewHub(NewRegistry(), new(mocks.MessageRepositoryMock))

	prev := hub.now()
	for i := 0; i < 1000; i++ {
		next := hub.now()
		require.False(t, next.Before(prev))
		prev = next
	}
}
