package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/marketnews/internal/retry"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
)

// Item is the input to one orchestrated analysis.
type Item struct {
	Title       string
	Source      string
	PublishedAt *time.Time
	URL         string
	Content     string
}

// Outcome is one provider's part of a batch.
type Outcome struct {
	Provider string
	Model    string
	Result   *Result
	Err      error
}

// Orchestrator runs every eligible provider for an item in parallel.
type Orchestrator struct {
	providers    []Provider
	retry        retry.Policy
	allowPartial bool
	logger       *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetry sets the whole-batch retry policy.
func WithRetry(p retry.Policy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithAllowPartial keeps successful outcomes when some providers fail.
// Without it any provider failure fails the batch.
func WithAllowPartial(allow bool) Option {
	return func(o *Orchestrator) { o.allowPartial = allow }
}

// NewOrchestrator creates an orchestrator over providers.
func NewOrchestrator(providers []Provider, logger *log.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		retry:     retry.Default(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers returns the configured providers.
func (o *Orchestrator) Providers() []Provider { return o.providers }

// Eligible returns the providers that may analyze an item at itemURL,
// excluding names in skip. Video items only go to video-capable providers.
func (o *Orchestrator) Eligible(itemURL string, skip map[string]bool) []Provider {
	video := IsVideoURL(itemURL)
	var out []Provider
	for _, p := range o.providers {
		if skip[p.Name()] {
			continue
		}
		if video && !p.SupportsVideo() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Run analyzes item with providers, retrying the whole batch on failure.
// A batch that failed on an invalid response is not retried. Successful
// outcomes come back in provider order. An empty provider list returns
// nil, nil.
func (o *Orchestrator) Run(ctx context.Context, item Item, providers []Provider) ([]Outcome, error) {
	if len(providers) == 0 {
		return nil, nil
	}
	policy := o.retry
	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool { return !errors.Is(err, ErrInvalidResponse) }
	}
	attempt := 0
	return retry.DoValue(ctx, policy, func(ctx context.Context) ([]Outcome, error) {
		attempt++
		outcomes, err := o.runOnce(ctx, item, providers)
		if err != nil {
			o.logger.Warn().Err(err).Int("attempt", attempt).Str("url", item.URL).Msg("analyzer batch failed")
		}
		return outcomes, err
	})
}

func (o *Orchestrator) runOnce(ctx context.Context, item Item, providers []Provider) ([]Outcome, error) {
	video := IsVideoURL(item.URL)
	outcomes := make([]Outcome, len(providers))

	// Every provider runs to completion; the group context is not used to
	// cancel siblings so a slow provider's result is still collected.
	var g errgroup.Group
	for i, p := range providers {
		req := Request{
			Title:       item.Title,
			Source:      item.Source,
			PublishedAt: item.PublishedAt,
			Content:     item.Content,
		}
		if video && p.SupportsVideo() {
			req.VideoURL = item.URL
			req.Content = ""
		}
		g.Go(func() error {
			res, err := p.Analyze(ctx, req)
			if err != nil {
				err = fmt.Errorf("%s: %w", p.Name(), err)
			}
			outcomes[i] = Outcome{Provider: p.Name(), Model: p.Model(), Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	ok := make([]Outcome, 0, len(outcomes))
	for _, out := range outcomes {
		if out.Err != nil {
			errs = append(errs, out.Err)
			continue
		}
		ok = append(ok, out)
	}
	if len(errs) == 0 {
		return ok, nil
	}
	if o.allowPartial && len(ok) > 0 {
		o.logger.Warn().Err(errors.Join(errs...)).Int("succeeded", len(ok)).Int("failed", len(errs)).Msg("partial analyzer batch")
		return ok, nil
	}
	return nil, errors.Join(errs...)
}
