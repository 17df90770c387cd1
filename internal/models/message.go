package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Message kinds accepted on inbound frames.
const (
	TypeText     = "text"
	TypeMedia    = "media"
	TypeFile     = "file"
	TypeVoice    = "voice"
	TypeReaction = "reaction"
	TypeHistory  = "history"
)

// ReactionCounts maps a reaction kind to the number of times it was applied.
// Counts only ever go up; there is no remove-reaction operation.
type ReactionCounts map[string]int

// Value serializes the counts as JSONB for storage.
func (r ReactionCounts) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

// Scan reads the counts back from a JSONB column.
func (r *ReactionCounts) Scan(src any) error {
	if src == nil {
		*r = ReactionCounts{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported reactions column type %T", src)
	}
	if len(data) == 0 {
		*r = ReactionCounts{}
		return nil
	}
	return json.Unmarshal(data, r)
}

// Message is a persisted, broadcastable chat message. JSON field names mirror
// the wire format the frontend consumes; variant-specific fields are omitted
// when empty.
type Message struct {
	ID        string         `db:"id" json:"id"`
	Sender    string         `db:"sender" json:"sender"`
	FullName  string         `db:"full_name" json:"fullName"`
	AvatarURL string         `db:"avatar_url" json:"avatarUrl"`
	Type      string         `db:"type" json:"type"`
	Message   string         `db:"message" json:"message,omitempty"`
	MediaType string         `db:"media_type" json:"mediaType,omitempty"`
	FileName  string         `db:"file_name" json:"fileName,omitempty"`
	FileData  string         `db:"file_data" json:"fileData,omitempty"`
	MimeType  string         `db:"mime_type" json:"mimeType,omitempty"`
	AudioData string         `db:"audio_data" json:"audioData,omitempty"`
	Reactions ReactionCounts `db:"reactions" json:"reactions"`
	SentTime  time.Time      `db:"sent_time" json:"sent_time"`
}

// ReactionEvent notifies connected clients of a single reaction increment.
// Clients apply the increment to their own local view; the aggregate count is
// only ever read back through history.
type ReactionEvent struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	Reaction  string    `json:"reaction"`
	ReactedBy string    `json:"reacted_by"`
	ReactedAt time.Time `json:"reacted_at"`
}

// HistoryEvent carries the replayed message batch, oldest first. Sent exactly
// once per connection, before any live broadcast.
type HistoryEvent struct {
	Type string    `json:"type"`
	Data []Message `json:"data"`
}
