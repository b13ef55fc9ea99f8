// Package storage defines the persistence interface for chats and messages.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/recall/internal/models"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("message not found")

// Storage defines message persistence operations.
type Storage interface {
	// SaveMessage upserts the message's chat and stores the message. inserted is false
	// when the id was already stored; the existing row is left as is.
	SaveMessage(ctx context.Context, msg *models.Message) (inserted bool, err error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// GetMessageContent returns "sender: content" for id, or "" when the message is unknown.
	GetMessageContent(ctx context.Context, id string) (string, error)
	// ListRecent returns up to limit messages with content, newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.Message, error)

	CountMessages(ctx context.Context) (int64, error)
	CountChats(ctx context.Context) (int64, error)

	Close() error
}
