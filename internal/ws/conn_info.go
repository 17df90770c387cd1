package ws

import (
	"time"

	"chat-relay/internal/models"
)

// ConnInfo describes one registered connection.
type ConnInfo struct {
	ConnID      string
	Identity    models.Identity
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
