package queue

import (
	"context"
	"sync"
	"time"
)

// DeadLetter is a message set aside with the reason it could not be processed.
type DeadLetter struct {
	Body   []byte
	Reason string
}

// Memory is an in-process queue for single-binary deployments and tests.
type Memory struct {
	mu      sync.Mutex
	items   [][]byte
	dead    []DeadLetter
	notify  chan struct{}
	timeout time.Duration
}

// NewMemory creates an empty in-memory queue.
func NewMemory(pollTimeout time.Duration) *Memory {
	return &Memory{notify: make(chan struct{}, 1), timeout: pollTimeout}
}

func (m *Memory) Enqueue(_ context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	m.Push(body)
	return nil
}

// Push appends a raw body.
func (m *Memory) Push(body []byte) {
	m.mu.Lock()
	m.items = append(m.items, body)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Dequeue(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	for {
		if body, ok := m.pop(); ok {
			return body, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrEmpty
		case <-m.notify:
		}
	}
}

func (m *Memory) pop() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, false
	}
	body := m.items[0]
	m.items = m.items[1:]
	return body, true
}

func (m *Memory) DeadLetter(_ context.Context, body []byte, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, DeadLetter{Body: body, Reason: reason})
	return nil
}

// DeadLetters returns a copy of the dead-lettered messages.
func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.dead...)
}

func (m *Memory) Len(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.items)), nil
}

func (m *Memory) Close() error { return nil }
