package queue

import (
	"encoding/json"
	"time"
)

const (
	// KindBlobDelete asks the worker to remove a blob left behind by a failed cleanup.
	KindBlobDelete = "blob.delete"
	// MessageVersion is bumped when the payload shape changes.
	MessageVersion = 1
)

// Message is the payload sent to downstream queue consumers.
type Message struct {
	Kind       string `json:"kind"`
	StorageKey string `json:"storageKey"`
	OwnerID    string `json:"ownerId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewBlobDelete builds a blob.delete message stamped with now.
func NewBlobDelete(storageKey, ownerID, reason, requestID string, now time.Time) Message {
	return Message{
		Kind:       KindBlobDelete,
		StorageKey: storageKey,
		OwnerID:    ownerID,
		Reason:     reason,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
