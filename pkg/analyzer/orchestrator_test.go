package analyzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elonfeng/marketnews/internal/logging"
	"github.com/elonfeng/marketnews/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	video bool
	fail  int // number of leading calls that fail
	err   error

	calls atomic.Int32
	mu    sync.Mutex
	reqs  []Request
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) Model() string       { return f.name + "-model" }
func (f *fakeProvider) SupportsVideo() bool { return f.video }

func (f *fakeProvider) Analyze(_ context.Context, req Request) (*Result, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if n <= f.fail {
		return nil, errors.New("upstream 529")
	}
	return &Result{Sentiment: Bullish, SentimentScore: 0.5, ImpactScore: 0.8, KeyTopics: []string{}}, nil
}

func noSleep() retry.Policy {
	return retry.Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Sleep:     func(context.Context, time.Duration) error { return nil },
	}
}

func TestEligibleRouting(t *testing.T) {
	claude := &fakeProvider{name: "anthropic"}
	gpt := &fakeProvider{name: "openai"}
	gemini := &fakeProvider{name: "google", video: true}
	o := NewOrchestrator([]Provider{claude, gpt, gemini}, logging.Discard())

	article := o.Eligible("https://www.reuters.com/a", nil)
	assert.Len(t, article, 3)

	video := o.Eligible("https://youtu.be/abc", nil)
	require.Len(t, video, 1)
	assert.Equal(t, "google", video[0].Name())

	skipped := o.Eligible("https://www.reuters.com/a", map[string]bool{"openai": true})
	assert.Len(t, skipped, 2)
}

func TestEligibleVideoWithoutCapableProvider(t *testing.T) {
	o := NewOrchestrator([]Provider{&fakeProvider{name: "anthropic"}}, logging.Discard())
	assert.Empty(t, o.Eligible("https://www.youtube.com/watch?v=abc", nil))
}

func TestRunCollectsAllProviders(t *testing.T) {
	claude := &fakeProvider{name: "anthropic"}
	gemini := &fakeProvider{name: "google", video: true}
	o := NewOrchestrator([]Provider{claude, gemini}, logging.Discard(), WithRetry(noSleep()))

	out, err := o.Run(context.Background(), Item{Title: "t", URL: "https://www.cnbc.com/x", Content: "body"}, o.Providers())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "anthropic", out[0].Provider)
	assert.Equal(t, "anthropic-model", out[0].Model)
	assert.Equal(t, "google", out[1].Provider)

	// Non-video items reach the video-capable provider in text mode.
	require.Len(t, gemini.reqs, 1)
	assert.Empty(t, gemini.reqs[0].VideoURL)
	assert.Equal(t, "body", gemini.reqs[0].Content)
}

func TestRunPassesVideoURL(t *testing.T) {
	gemini := &fakeProvider{name: "google", video: true}
	o := NewOrchestrator([]Provider{gemini}, logging.Discard(), WithRetry(noSleep()))

	_, err := o.Run(context.Background(), Item{URL: "https://youtu.be/abc", Content: "placeholder"}, o.Providers())
	require.NoError(t, err)
	require.Len(t, gemini.reqs, 1)
	assert.Equal(t, "https://youtu.be/abc", gemini.reqs[0].VideoURL)
	assert.Empty(t, gemini.reqs[0].Content)
}

func TestRunRetriesWholeBatch(t *testing.T) {
	steady := &fakeProvider{name: "anthropic"}
	flaky := &fakeProvider{name: "openai", fail: 2}
	o := NewOrchestrator([]Provider{steady, flaky}, logging.Discard(), WithRetry(noSleep()))

	out, err := o.Run(context.Background(), Item{URL: "https://a.test/x"}, o.Providers())
	require.NoError(t, err)
	assert.Len(t, out, 2)
	// The healthy provider is re-run with every batch attempt.
	assert.Equal(t, int32(3), steady.calls.Load())
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRunAllOrNothing(t *testing.T) {
	steady := &fakeProvider{name: "anthropic"}
	broken := &fakeProvider{name: "openai", err: ErrInvalidResponse}
	o := NewOrchestrator([]Provider{steady, broken}, logging.Discard(), WithRetry(noSleep()))

	out, err := o.Run(context.Background(), Item{URL: "https://a.test/x"}, o.Providers())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Nil(t, out)
	assert.Equal(t, int32(1), broken.calls.Load())
}

func TestRunSurfacesLastTransientError(t *testing.T) {
	down := &fakeProvider{name: "openai", fail: 5}
	o := NewOrchestrator([]Provider{down}, logging.Discard(), WithRetry(noSleep()))

	_, err := o.Run(context.Background(), Item{URL: "https://a.test/x"}, o.Providers())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 529")
	assert.Equal(t, int32(3), down.calls.Load())
}

func TestRunAllowPartial(t *testing.T) {
	steady := &fakeProvider{name: "anthropic"}
	broken := &fakeProvider{name: "openai", err: errors.New("down")}
	o := NewOrchestrator([]Provider{steady, broken}, logging.Discard(), WithRetry(noSleep()), WithAllowPartial(true))

	out, err := o.Run(context.Background(), Item{URL: "https://a.test/x"}, o.Providers())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "anthropic", out[0].Provider)
	assert.Equal(t, int32(1), steady.calls.Load())
}

func TestRunAllowPartialStillFailsWhenNothingSucceeds(t *testing.T) {
	broken := &fakeProvider{name: "openai", err: errors.New("down")}
	o := NewOrchestrator([]Provider{broken}, logging.Discard(), WithRetry(noSleep()), WithAllowPartial(true))

	_, err := o.Run(context.Background(), Item{URL: "https://a.test/x"}, o.Providers())
	assert.Error(t, err)
}

func TestRunNoProviders(t *testing.T) {
	o := NewOrchestrator(nil, logging.Discard())
	out, err := o.Run(context.Background(), Item{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}
