// Package workerproc turns blob-cleanup queue payloads into storage deletes. It is
// shared by the long-poll worker and the SQS-triggered Lambda.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"medsnap-backend/internal/queue"
	"medsnap-backend/internal/shared/metrics"
	"medsnap-backend/internal/shared/storage/object"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrInvalidMessage is a well-formed payload the worker can never act on.
type ErrInvalidMessage struct {
	Meta      MessageMeta
	RequestID string
	Reason    string
}

func (e ErrInvalidMessage) Error() string { return "invalid message: " + e.Reason }

// ErrProcess indicates the delete failed and the message should be retried.
type ErrProcess struct {
	StorageKey string
	RequestID  string
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "delete blob"
	}
	return "delete blob: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message should be dropped instead of retried.
func Unrecoverable(err error) bool {
	switch err.(type) {
	case ErrEmptyBody, ErrDecode, ErrInvalidMessage:
		return true
	default:
		return false
	}
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if msg.Kind != queue.KindBlobDelete {
		return msg, meta, ErrInvalidMessage{Meta: meta, RequestID: msg.RequestID, Reason: "unsupported kind " + msg.Kind}
	}
	if strings.TrimSpace(msg.StorageKey) == "" {
		return msg, meta, ErrInvalidMessage{Meta: meta, RequestID: msg.RequestID, Reason: "missing storage key"}
	}
	if msg.Version > queue.MessageVersion {
		return msg, meta, ErrInvalidMessage{Meta: meta, RequestID: msg.RequestID, Reason: "unsupported version"}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// HandleMessage parses, validates and deletes the referenced blob. A blob that is
// already gone counts as success.
func HandleMessage(ctx context.Context, store object.Store, body string) error {
	if store == nil {
		return errors.New("object store not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			metrics.IncCleanupJob("invalid")
			return err
		}
	}

	err := store.Delete(ctx, msg.StorageKey)
	switch {
	case err == nil, errors.Is(err, object.ErrNotFound):
		metrics.IncCleanupJob("deleted")
		return nil
	case errors.Is(err, object.ErrInvalidKey):
		metrics.IncCleanupJob("invalid")
		return ErrInvalidMessage{Meta: ComputeMeta(body), RequestID: msg.RequestID, Reason: "invalid storage key"}
	default:
		metrics.IncCleanupJob("failed")
		return ErrProcess{StorageKey: msg.StorageKey, RequestID: msg.RequestID, Err: err}
	}
}
