package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeDocumentCommitted MessageType = "document_committed"
	TypePing              MessageType = "ping"
	TypePong              MessageType = "pong"
	TypeError             MessageType = "error"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DocumentCommittedPayload tells a client which document moved to which
// version. Clients holding an older version must re-read before writing.
type DocumentCommittedPayload struct {
	DocumentType string    `json:"document_type"`
	DocumentID   string    `json:"document_id"`
	Operation    string    `json:"operation"`
	DocVersion   int64     `json:"doc_version"`
	ETag         string    `json:"etag"`
	CommittedAt  time.Time `json:"committed_at"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
