package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/marketnews/internal/config"
	"github.com/elonfeng/marketnews/internal/logging"
	"github.com/elonfeng/marketnews/internal/pipeline"
	"github.com/elonfeng/marketnews/internal/queue"
)

type countingPoller struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (c *countingPoller) Poll(context.Context, bool) (pipeline.PollStats, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.block != nil {
		<-c.block
	}
	return pipeline.PollStats{}, nil
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New(config.ScheduleConfig{PollCron: "every now and then"}, time.UTC, &countingPoller{}, nil, logging.Discard())
	assert.Error(t, err)
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(config.Default().Schedule, time.UTC, &countingPoller{}, nil, logging.Discard())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestGuardSkipsOverlappingRuns(t *testing.T) {
	p := &countingPoller{block: make(chan struct{})}
	s, err := New(config.Default().Schedule, time.UTC, p, nil, logging.Discard())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.guard("poll", s.poll)
		close(done)
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.calls == 1
	}, time.Second, 5*time.Millisecond)

	s.guard("poll", s.poll) // returns immediately
	close(p.block)
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.calls)
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []int64
}

func (r *recordingHandler) HandleMessage(_ context.Context, body []byte) error {
	m, err := queue.Decode(body)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, m.ItemID)
	if m.ItemID == 13 {
		return errors.New("unlucky")
	}
	return nil
}

func TestWorkDrainsQueue(t *testing.T) {
	q := queue.NewMemory(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []int64{1, 2, 13} {
		require.NoError(t, q.Enqueue(ctx, queue.Message{ItemID: id}))
	}

	h := &recordingHandler{}
	errc := make(chan error, 1)
	go func() { errc <- Work(ctx, q, h, 2, logging.Discard()) }()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.seen) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	h.mu.Lock()
	assert.ElementsMatch(t, []int64{1, 2, 13}, h.seen)
	h.mu.Unlock()

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "unlucky", dead[0].Reason)
}
