// Package chatlog persists the companion's conversation history so a fresh
// process (or a reconnected live session) can replay recent context.
package chatlog

import (
	"context"
	"errors"
	"time"
)

// ErrLogClosed is returned by operations on a closed log.
var ErrLogClosed = errors.New("chat log is closed")

// Turn is one finalized conversation turn.
type Turn struct {
	// Sender is "user" or "assistant".
	Sender string `json:"sender"`
	// Text is the finalized transcript text for the turn.
	Text string `json:"text"`
	// Timestamp is when the turn completed.
	Timestamp time.Time `json:"timestamp"`
}

// Log is an append-only conversation store.
type Log interface {
	// Append persists one finalized turn.
	Append(ctx context.Context, turn Turn) error
	// Recent returns up to n of the most recent turns, oldest first.
	Recent(ctx context.Context, n int) ([]Turn, error)
	// Close releases resources held by the log.
	Close() error
}
