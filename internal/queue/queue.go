// Package queue carries item processing messages between the poller and
// the processor.
package queue

import (
	"context"
	"fmt"

	"github.com/elonfeng/marketnews/internal/config"
)

// Queue is an at-least-once work queue of encoded messages.
type Queue interface {
	Enqueue(ctx context.Context, m Message) error
	// Dequeue blocks up to the poll timeout and returns ErrEmpty if nothing arrived.
	Dequeue(ctx context.Context) ([]byte, error)
	DeadLetter(ctx context.Context, body []byte, reason string) error
	Len(ctx context.Context) (int64, error)
	Close() error
}

// New builds the queue selected by cfg.Driver.
func New(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.ParsePollTimeout()), nil
	case "redis":
		return NewRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}
