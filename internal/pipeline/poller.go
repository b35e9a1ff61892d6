// Package pipeline wires collectors, analyzers, the store and notifiers
// into the poll, process and digest jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/queue"
	"github.com/elonfeng/marketnews/internal/store"
	"github.com/elonfeng/marketnews/pkg/source"
)

// Poller fetches news from every source, stores new items and enqueues
// them for processing.
type Poller struct {
	sources []source.Source
	filter  *source.Filter
	store   store.Store
	queue   queue.Queue
	loc     *time.Location
	logger  *log.Logger
	now     func() time.Time
}

// NewPoller creates a poller. loc is the market timezone used by ShouldPoll.
func NewPoller(sources []source.Source, filter *source.Filter, st store.Store, q queue.Queue, loc *time.Location, logger *log.Logger) *Poller {
	if loc == nil {
		loc = time.UTC
	}
	return &Poller{
		sources: sources,
		filter:  filter,
		store:   st,
		queue:   q,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}
}

// PollStats summarizes one poll.
type PollStats struct {
	RunID    string `json:"run_id"`
	Skipped  bool   `json:"skipped"`
	Inserted int    `json:"inserted"`
	Enqueued int    `json:"enqueued"`
	source.Stats
}

// ShouldPoll reports whether a scheduled poll at now runs. Weekdays always
// run; on weekends only the top-of-hour invocation does.
func ShouldPoll(now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return local.Minute() == 0
	default:
		return true
	}
}

// Poll runs one ingestion pass. force ignores the weekend throttle.
func (p *Poller) Poll(ctx context.Context, force bool) (PollStats, error) {
	stats := PollStats{RunID: uuid.NewString()}

	if !force && !ShouldPoll(p.now(), p.loc) {
		stats.Skipped = true
		p.logger.Info().Str("run_id", stats.RunID).Msg("weekend invocation outside top of hour, skipping poll")
		return stats, nil
	}
	if len(p.sources) == 0 {
		return stats, errors.New("no news sources configured")
	}

	var (
		articles []source.Article
		errs     []error
	)
	for _, src := range p.sources {
		got, err := src.Fetch(ctx)
		if err != nil {
			p.logger.Error().Str("run_id", stats.RunID).Str("source", src.Name()).Err(err).Msg("fetch failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		p.logger.Debug().Str("source", src.Name()).Int("count", len(got)).Msg("fetched")
		articles = append(articles, got...)
	}
	if len(errs) == len(p.sources) {
		return stats, errors.Join(errs...)
	}

	urls := make([]string, 0, len(articles))
	for _, a := range articles {
		urls = append(urls, a.URL)
	}
	existing, err := p.store.ExistingURLs(ctx, urls)
	if err != nil {
		return stats, fmt.Errorf("lookup existing urls: %w", err)
	}

	fresh, fs := p.filter.Apply(articles, existing)
	stats.Stats = fs

	for _, a := range fresh {
		item := &store.Item{
			URL:         a.URL,
			Title:       a.Title,
			Source:      a.Source,
			Topics:      a.Topics,
			PublishedAt: a.PublishedAt,
		}
		inserted, err := p.store.InsertItem(ctx, item)
		if err != nil {
			return stats, err
		}
		if !inserted {
			// Another poller stored it between the lookup and the insert.
			stats.Duplicates++
			continue
		}
		stats.Inserted++

		msg := queue.Message{ItemID: item.ID, URL: item.URL, Source: item.Source, PublishedAt: item.PublishedAt}
		if err := p.queue.Enqueue(ctx, msg); err != nil {
			p.logger.Error().Int64("item_id", item.ID).Err(err).Msg("enqueue failed")
			continue
		}
		stats.Enqueued++
	}

	p.logger.Info().
		Str("run_id", stats.RunID).
		Int("fetched", stats.Fetched).
		Int("inserted", stats.Inserted).
		Int("enqueued", stats.Enqueued).
		Int("paywalled", stats.Paywalled).
		Int("duplicates", stats.Duplicates).
		Msg("poll complete")
	return stats, nil
}
