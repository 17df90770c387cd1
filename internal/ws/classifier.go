package ws

import (
	"encoding/json"

	"chat-relay/internal/models"
)

// Inbound is one decoded client frame. A single flat envelope carries every
// variant; Classify normalizes the discriminant.
type Inbound struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	MediaType string `json:"mediaType"`
	FileName  string `json:"fileName"`
	FileData  string `json:"fileData"`
	MimeType  string `json:"mimeType"`
	AudioData string `json:"audioData"`
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// Classify decodes a raw frame into a typed envelope. Frames from a registered
// connection are never hard-rejected: unknown types are treated as text, and
// missing variant fields decode to empty strings. A malformed payload yields a
// degraded empty text frame along with the decode error so the caller can log
// it.
func Classify(payload []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return Inbound{Type: models.TypeText}, err
	}

	switch in.Type {
	case models.TypeText, models.TypeMedia, models.TypeFile, models.TypeVoice, models.TypeReaction:
	default:
		in.Type = models.TypeText
	}
	return in, nil
}
