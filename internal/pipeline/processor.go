package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/queue"
	"github.com/elonfeng/marketnews/internal/retry"
	"github.com/elonfeng/marketnews/internal/store"
	"github.com/elonfeng/marketnews/pkg/alert"
	"github.com/elonfeng/marketnews/pkg/analyzer"
	"github.com/elonfeng/marketnews/pkg/consensus"
	"github.com/elonfeng/marketnews/pkg/digest"
	"github.com/elonfeng/marketnews/pkg/scraper"
)

// ClaimTTL is how long an alert or digest claim blocks other workers. A
// claim older than this is treated as abandoned by a crashed worker.
const ClaimTTL = 10 * time.Minute

// Processor scrapes, analyzes and alerts on a single stored item.
type Processor struct {
	store     store.Store
	scraper   scraper.Scraper
	orch      *analyzer.Orchestrator
	alerts    *alert.Manager
	queue     queue.Queue
	threshold float64
	retry     retry.Policy
	logger    *log.Logger
}

// ProcessorConfig holds the collaborators of a Processor. Scraper and Queue
// may be nil.
type ProcessorConfig struct {
	Store        store.Store
	Scraper      scraper.Scraper
	Orchestrator *analyzer.Orchestrator
	Alerts       *alert.Manager
	Queue        queue.Queue
	Threshold    float64
	Retry        retry.Policy
	Logger       *log.Logger
}

// NewProcessor creates a processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Alerts == nil {
		cfg.Alerts = alert.NewManager(nil)
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Default()
	}
	return &Processor{
		store:     cfg.Store,
		scraper:   cfg.Scraper,
		orch:      cfg.Orchestrator,
		alerts:    cfg.Alerts,
		queue:     cfg.Queue,
		threshold: cfg.Threshold,
		retry:     cfg.Retry,
		logger:    cfg.Logger,
	}
}

// ItemReport describes what processing an item did.
type ItemReport struct {
	RunID    string             `json:"run_id"`
	ItemID   int64              `json:"item_id"`
	Skipped  string             `json:"skipped,omitempty"`
	Analyzed []string           `json:"analyzed"`
	Decision consensus.Decision `json:"decision"`
	Alerted  bool               `json:"alerted"`
	Scrape   string             `json:"scrape_status,omitempty"`
	AlertErr string             `json:"alert_error,omitempty"`
	Analyses int                `json:"analysis_count"`
}

// HandleMessage decodes a queue body and processes its item. Malformed
// bodies are dead-lettered and reported as handled.
func (p *Processor) HandleMessage(ctx context.Context, body []byte) error {
	msg, err := queue.Decode(body)
	if err != nil {
		p.logger.Error().Err(err).Str("body", truncate(string(body), 200)).Msg("dropping malformed message")
		if p.queue != nil {
			if dlErr := p.queue.DeadLetter(ctx, body, err.Error()); dlErr != nil {
				p.logger.Error().Err(dlErr).Msg("dead letter failed")
			}
		}
		return nil
	}
	_, err = p.Process(ctx, msg.ItemID)
	return err
}

// Process runs the item pipeline: scrape, analyze with providers that have
// no stored result yet, persist, decide and alert. Re-running it for the
// same item is safe.
func (p *Processor) Process(ctx context.Context, itemID int64) (*ItemReport, error) {
	out := &ItemReport{RunID: uuid.NewString(), ItemID: itemID, Analyzed: []string{}}

	item, err := p.store.GetItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn().Int64("item_id", itemID).Msg("item not found, skipping")
		out.Skipped = "item not found"
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	done, err := p.store.AnalyzedProviders(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	eligible := p.orch.Eligible(item.URL, done)

	if len(eligible) > 0 {
		content, ok, err := p.content(ctx, item, out)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}

		outcomes, err := p.orch.Run(ctx, analyzer.Item{
			Title:       item.Title,
			Source:      item.Source,
			PublishedAt: item.PublishedAt,
			URL:         item.URL,
			Content:     content,
		}, eligible)
		if err != nil {
			p.fail(ctx, item.ID, err)
			return nil, fmt.Errorf("analyze item %d: %w", item.ID, err)
		}
		if err := p.persist(ctx, item.ID, outcomes, out); err != nil {
			p.fail(ctx, item.ID, err)
			return nil, err
		}
	} else if len(done) == 0 {
		p.logger.Info().Int64("item_id", item.ID).Str("url", item.URL).Msg("no eligible providers, nothing to analyze")
		out.Skipped = "no eligible providers"
		return out, nil
	}

	analyses, err := p.store.ListAnalyses(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	out.Analyses = len(analyses)
	out.Decision = consensus.Decide(Votes(analyses), p.threshold)

	p.logger.Info().
		Str("run_id", out.RunID).
		Int64("item_id", item.ID).
		Bool("eligible", out.Decision.Eligible).
		Str("reason", out.Decision.Reason).
		Int("analyses", len(analyses)).
		Msg("alert decision")

	if out.Decision.Eligible {
		p.alert(ctx, item, analyses, out)
	}

	if err := p.store.ResolveFailures(ctx, item.ID); err != nil {
		p.logger.Warn().Int64("item_id", item.ID).Err(err).Msg("resolve failures")
	}
	return out, nil
}

// content returns the text to analyze. ok is false when the item cannot be
// analyzed because scraping produced nothing.
func (p *Processor) content(ctx context.Context, item *store.Item, out *ItemReport) (string, bool, error) {
	if analyzer.IsVideoURL(item.URL) {
		out.Scrape = store.ScrapeNotApplicable
		if item.ScrapeStatus != store.ScrapeNotApplicable {
			if err := p.store.MarkScraped(ctx, item.ID, store.ScrapeNotApplicable, ""); err != nil {
				return "", false, err
			}
		}
		return "", true, nil
	}

	if item.ScrapeStatus == store.ScrapeSucceeded && strings.TrimSpace(item.Content) != "" {
		out.Scrape = store.ScrapeSucceeded
		return item.Content, true, nil
	}

	var (
		content string
		err     error
	)
	if p.scraper == nil {
		err = errors.New("no scraper configured")
	} else {
		content, err = retry.DoValue(ctx, p.retry, func(ctx context.Context) (string, error) {
			return p.scraper.Scrape(ctx, item.URL)
		})
	}
	if err == nil && strings.TrimSpace(content) == "" {
		err = scraper.ErrNoContent
	}
	if err != nil {
		p.logger.Warn().Int64("item_id", item.ID).Str("url", item.URL).Err(err).Msg("scrape failed")
		out.Scrape = store.ScrapeFailed
		out.Skipped = "scrape failed"
		if mErr := p.store.MarkScraped(ctx, item.ID, store.ScrapeFailed, ""); mErr != nil {
			return "", false, mErr
		}
		p.fail(ctx, item.ID, fmt.Errorf("scrape: %w", err))
		return "", false, nil
	}

	out.Scrape = store.ScrapeSucceeded
	if err := p.store.MarkScraped(ctx, item.ID, store.ScrapeSucceeded, content); err != nil {
		return "", false, err
	}
	return content, true, nil
}

func (p *Processor) persist(ctx context.Context, itemID int64, outcomes []analyzer.Outcome, out *ItemReport) error {
	for _, o := range outcomes {
		raw, _ := json.Marshal(o.Result)
		a := &store.Analysis{
			ItemID:         itemID,
			Provider:       o.Provider,
			Model:          o.Model,
			Summary:        o.Result.Summary,
			Sentiment:      o.Result.Sentiment,
			SentimentScore: o.Result.SentimentScore,
			ImpactScore:    o.Result.ImpactScore,
			Confidence:     o.Result.Confidence,
			KeyTopics:      o.Result.KeyTopics,
			RawResponse:    string(raw),
		}
		inserted, err := p.store.InsertAnalysis(ctx, a)
		if err != nil {
			return err
		}
		if !inserted {
			p.logger.Info().Int64("item_id", itemID).Str("provider", o.Provider).Msg("analysis already stored")
			continue
		}
		out.Analyzed = append(out.Analyzed, o.Provider)
	}
	return nil
}

func (p *Processor) alert(ctx context.Context, item *store.Item, analyses []store.Analysis, out *ItemReport) {
	if item.AlertedAt != nil {
		p.logger.Info().Int64("item_id", item.ID).Msg("already alerted")
		return
	}
	if !p.alerts.HasNotifiers() {
		p.logger.Warn().Int64("item_id", item.ID).Msg("alert eligible but no notifiers configured")
		return
	}

	claimed, err := p.store.ClaimAlert(ctx, item.ID, ClaimTTL)
	if err != nil {
		out.AlertErr = err.Error()
		p.logger.Error().Int64("item_id", item.ID).Err(err).Msg("claim alert")
		return
	}
	if !claimed {
		p.logger.Info().Int64("item_id", item.ID).Msg("alert already sent or in flight")
		return
	}

	a := BuildAlert(item, analyses, out.Decision.Leader)
	delivered, err := p.alerts.BroadcastAlert(ctx, a)
	if err != nil {
		out.AlertErr = err.Error()
		p.logger.Error().Int64("item_id", item.ID).Err(err).Bool("delivered", delivered).Msg("alert dispatch")
	}
	if !delivered {
		if err := p.store.ReleaseAlert(context.WithoutCancel(ctx), item.ID); err != nil {
			p.logger.Error().Int64("item_id", item.ID).Err(err).Msg("release alert claim")
		}
		return
	}

	marked, err := p.store.MarkAlerted(ctx, item.ID)
	if err != nil {
		p.logger.Error().Int64("item_id", item.ID).Err(err).Msg("mark alerted")
	}
	out.Alerted = marked
}

func (p *Processor) fail(ctx context.Context, itemID int64, cause error) {
	id := itemID
	if err := p.store.RecordFailure(ctx, &id, cause.Error()); err != nil {
		p.logger.Error().Int64("item_id", itemID).Err(err).Msg("record failure")
	}
}

// Votes converts stored analyses to consensus votes.
func Votes(analyses []store.Analysis) []consensus.Vote {
	votes := make([]consensus.Vote, len(analyses))
	for i, a := range analyses {
		impact := a.ImpactScore
		votes[i] = consensus.Vote{Provider: a.Provider, Sentiment: a.Sentiment, Impact: &impact}
	}
	return votes
}

// BuildAlert renders the alert payload for item from its full analysis set.
func BuildAlert(item *store.Item, analyses []store.Analysis, leader string) *alert.Alert {
	views := make([]alert.ProviderView, len(analyses))
	topics := make([][]string, len(analyses))
	for i, a := range analyses {
		views[i] = alert.ProviderView{
			Provider:       a.Provider,
			Model:          a.Model,
			Sentiment:      a.Sentiment,
			SentimentScore: a.SentimentScore,
			ImpactScore:    a.ImpactScore,
			Confidence:     a.Confidence,
			Summary:        a.Summary,
		}
		topics[i] = a.KeyTopics
	}
	return (&alert.Alert{
		ItemID:      item.ID,
		Title:       item.Title,
		Source:      item.Source,
		URL:         item.URL,
		PublishedAt: item.PublishedAt,
		Sentiment:   digest.Capitalize(leader),
		Analyses:    views,
		Topics:      alert.DedupTopics(topics...),
	}).Finalize()
}

// truncate caps s at n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
