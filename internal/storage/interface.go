package storage

import (
	"context"

	"vtuber-backend/internal/model"
)

// HistoryStore keeps per-character conversation history so replies can
// refer back to earlier chat.
type HistoryStore interface {
	Append(ctx context.Context, key string, messages ...model.Message) error
	// Recent returns up to n of the latest messages, oldest first. A
	// non-positive n returns everything kept.
	Recent(ctx context.Context, key string, n int) ([]model.Message, error)
	Clear(ctx context.Context, key string) error

	Init() error
	Close() error
}
