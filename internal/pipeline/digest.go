package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/store"
	"github.com/elonfeng/marketnews/pkg/alert"
	"github.com/elonfeng/marketnews/pkg/consensus"
	"github.com/elonfeng/marketnews/pkg/digest"
)

// DigestRunner dispatches due digest windows.
type DigestRunner struct {
	store        store.Store
	schedule     *digest.Schedule
	alerts       *alert.Manager
	displayLimit int
	logger       *log.Logger
	now          func() time.Time
}

// NewDigestRunner creates a digest runner.
func NewDigestRunner(st store.Store, schedule *digest.Schedule, alerts *alert.Manager, displayLimit int, logger *log.Logger) *DigestRunner {
	if alerts == nil {
		alerts = alert.NewManager(nil)
	}
	return &DigestRunner{
		store:        st,
		schedule:     schedule,
		alerts:       alerts,
		displayLimit: displayLimit,
		logger:       logger,
		now:          time.Now,
	}
}

// DigestReport describes one digest run.
type DigestReport struct {
	RunID        string         `json:"run_id"`
	Type         digest.Type    `json:"digest_type,omitempty"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	PeriodStart  time.Time      `json:"period_start"`
	PeriodEnd    time.Time      `json:"period_end"`
	Entries      []digest.Entry `json:"entries"`
	Skipped      string         `json:"skipped,omitempty"`
	Sent         bool           `json:"sent"`
	Recorded     bool           `json:"recorded"`
	MessageID    string         `json:"message_id,omitempty"`
}

// Run dispatches the window due now, if any and not already sent.
func (r *DigestRunner) Run(ctx context.Context) (*DigestReport, error) {
	now := r.now()
	report := &DigestReport{RunID: uuid.NewString()}

	pending, ok := r.schedule.DeterminePending(now)
	if !ok {
		report.Skipped = "no window due"
		r.logger.Debug().Time("now", now).Msg("no digest window due")
		return report, nil
	}
	report.Type = pending.Type
	report.ScheduledFor = pending.ScheduledFor

	return report, r.dispatch(ctx, report, now, false, false)
}

// Force sends a digest of type t for its most recent window regardless of
// the due check and the watermark. Recording stays idempotent on the
// window, so a window that was already recorded is sent but not recorded
// again. dryRun ranks without sending or recording.
func (r *DigestRunner) Force(ctx context.Context, t digest.Type, dryRun bool) (*DigestReport, error) {
	now := r.now()
	pending, err := r.schedule.Previous(t, now)
	if err != nil {
		return nil, err
	}
	report := &DigestReport{RunID: uuid.NewString(), Type: pending.Type, ScheduledFor: pending.ScheduledFor}
	return report, r.dispatch(ctx, report, now, dryRun, true)
}

// dispatch ranks and sends the report's window. Unless dryRun, the window
// is claimed first so concurrent runs cannot both send it. The watermark is
// read under the claim; force skips the already-sent check.
func (r *DigestRunner) dispatch(ctx context.Context, report *DigestReport, now time.Time, dryRun, force bool) error {
	typ := string(report.Type)
	if !dryRun && r.alerts.HasNotifiers() {
		claimed, err := r.store.ClaimDigest(ctx, typ, report.ScheduledFor, ClaimTTL)
		if err != nil {
			return err
		}
		if !claimed {
			report.Skipped = "dispatch in progress"
			r.logger.Info().Str("digest_type", typ).Time("scheduled_for", report.ScheduledFor).Msg("digest window claimed by another run")
			return nil
		}
		defer func() {
			if err := r.store.ReleaseDigest(context.WithoutCancel(ctx), typ, report.ScheduledFor); err != nil {
				r.logger.Error().Str("digest_type", typ).Err(err).Msg("release digest claim")
			}
		}()
	}

	last, err := r.store.LatestDigest(ctx, typ)
	if err != nil {
		return err
	}
	var lastSent *time.Time
	if last != nil {
		lastSent = &last.SentAt
	}
	if !force && r.schedule.AlreadySent(lastSent, report.ScheduledFor) {
		report.Skipped = "already sent"
		r.logger.Info().
			Str("digest_type", typ).
			Time("scheduled_for", report.ScheduledFor).
			Time("last_sent_at", last.SentAt).
			Msg("digest already sent for window")
		return nil
	}
	start, err := r.schedule.PeriodStart(report.Type, lastSent, now)
	if err != nil {
		return err
	}
	report.PeriodStart, report.PeriodEnd = start, now

	items, err := r.store.ItemsAnalyzedBetween(ctx, start, now)
	if err != nil {
		return err
	}
	report.Entries = digest.Rank(Candidates(items))

	if dryRun {
		report.Skipped = "dry run"
		return nil
	}
	if !r.alerts.HasNotifiers() {
		report.Skipped = "no notifiers configured"
		r.logger.Warn().Str("digest_type", string(report.Type)).Msg("digest due but no notifiers configured")
		return nil
	}

	msgID, delivered, err := r.alerts.BroadcastDigest(ctx, &alert.Digest{
		Type:         string(report.Type),
		PeriodStart:  start,
		PeriodEnd:    now,
		Entries:      report.Entries,
		DisplayLimit: r.displayLimit,
	})
	if !delivered {
		if err == nil {
			err = errors.New("no notifier accepted the digest")
		}
		return fmt.Errorf("dispatch %s digest: %w", report.Type, err)
	}
	if err != nil {
		r.logger.Warn().Str("digest_type", string(report.Type)).Err(err).Msg("some digest notifiers failed")
	}
	report.Sent = true
	report.MessageID = msgID

	rec := &store.Digest{
		DigestType:   string(report.Type),
		ScheduledFor: report.ScheduledFor,
		SentAt:       now,
		PeriodStart:  start,
		PeriodEnd:    now,
		ItemCount:    len(report.Entries),
	}
	if msgID != "" {
		rec.MessageID = &msgID
	}
	links := make([]store.DigestItem, len(report.Entries))
	for i, e := range report.Entries {
		links[i] = store.DigestItem{ItemID: e.ItemID, Rank: e.Rank}
	}
	recorded, err := r.store.RecordDigest(ctx, rec, links)
	if err != nil {
		return fmt.Errorf("record %s digest: %w", report.Type, err)
	}
	report.Recorded = recorded

	r.logger.Info().
		Str("run_id", report.RunID).
		Str("digest_type", string(report.Type)).
		Time("scheduled_for", report.ScheduledFor).
		Int("items", len(report.Entries)).
		Bool("recorded", recorded).
		Str("message_id", msgID).
		Msg("digest sent")
	return nil
}

// Candidates converts stored items with analyses into ranker input.
func Candidates(items []store.ItemAnalyses) []digest.Candidate {
	out := make([]digest.Candidate, 0, len(items))
	for _, ia := range items {
		c := digest.Candidate{
			ItemID:      ia.Item.ID,
			Title:       ia.Item.Title,
			Source:      ia.Item.Source,
			URL:         ia.Item.URL,
			PublishedAt: ia.Item.PublishedAt,
			Analyses:    make([]digest.Analysis, len(ia.Analyses)),
		}
		for i, a := range ia.Analyses {
			s, imp := a.SentimentScore, a.ImpactScore
			c.Analyses[i] = digest.Analysis{
				Provider:       a.Provider,
				Sentiment:      a.Sentiment,
				SentimentScore: &s,
				ImpactScore:    &imp,
			}
		}
		out = append(out, c)
	}
	return out
}

// EligibilityRow is one re-evaluated alert decision.
type EligibilityRow struct {
	ItemID   int64              `json:"item_id"`
	Title    string             `json:"title"`
	Alerted  bool               `json:"alerted"`
	Decision consensus.Decision `json:"decision"`
}

// Eligibility re-runs the alert decision over items created since since.
func Eligibility(ctx context.Context, st store.Store, since, until time.Time, threshold float64) ([]EligibilityRow, error) {
	items, err := st.ItemsAnalyzedBetween(ctx, since, until)
	if err != nil {
		return nil, err
	}
	rows := make([]EligibilityRow, 0, len(items))
	for _, ia := range items {
		rows = append(rows, EligibilityRow{
			ItemID:   ia.Item.ID,
			Title:    ia.Item.Title,
			Alerted:  ia.Item.AlertedAt != nil,
			Decision: consensus.Decide(Votes(ia.Analyses), threshold),
		})
	}
	return rows, nil
}
