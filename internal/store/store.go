package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Scrape statuses.
const (
	ScrapePending       = "pending"
	ScrapeSucceeded     = "succeeded"
	ScrapeFailed        = "failed"
	ScrapeNotApplicable = "not_applicable"
)

// Item is a news article or video, unique by URL.
type Item struct {
	ID                 int64      `db:"id" json:"id"`
	URL                string     `db:"url" json:"url"`
	Title              string     `db:"title" json:"title"`
	Source             string     `db:"source" json:"source"`
	TopicsJSON         string     `db:"topics" json:"-"`
	Topics             []string   `db:"-" json:"topics"`
	PublishedAt        *time.Time `db:"published_at" json:"published_at,omitempty"`
	ScrapeStatus       string     `db:"scrape_status" json:"scrape_status"`
	ScrapedAt          *time.Time `db:"scraped_at" json:"scraped_at,omitempty"`
	Content            string     `db:"content" json:"-"`
	AlertedAt          *time.Time `db:"alerted_at" json:"alerted_at,omitempty"`
	IncludedInDigestAt *time.Time `db:"included_in_digest_at" json:"included_in_digest_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// Analysis is one provider's stored result for an item.
type Analysis struct {
	ID             int64     `db:"id" json:"id"`
	ItemID         int64     `db:"item_id" json:"item_id"`
	Provider       string    `db:"provider" json:"provider"`
	Model          string    `db:"model" json:"model"`
	Summary        *string   `db:"summary" json:"summary,omitempty"`
	Sentiment      string    `db:"sentiment" json:"sentiment"`
	SentimentScore float64   `db:"sentiment_score" json:"sentiment_score"`
	ImpactScore    float64   `db:"impact_score" json:"impact_score"`
	Confidence     *float64  `db:"confidence" json:"confidence,omitempty"`
	KeyTopicsJSON  string    `db:"key_topics" json:"-"`
	KeyTopics      []string  `db:"-" json:"key_topics"`
	RawResponse    string    `db:"raw_response" json:"-"`
	AnalyzedAt     time.Time `db:"analyzed_at" json:"analyzed_at"`
}

// ItemAnalyses pairs an item with its stored analyses.
type ItemAnalyses struct {
	Item     Item       `json:"item"`
	Analyses []Analysis `json:"analyses"`
}

// Digest records one dispatched digest window.
type Digest struct {
	ID           int64     `db:"id" json:"id"`
	DigestType   string    `db:"digest_type" json:"digest_type"`
	ScheduledFor time.Time `db:"scheduled_for" json:"scheduled_for"`
	SentAt       time.Time `db:"sent_at" json:"sent_at"`
	PeriodStart  time.Time `db:"period_start" json:"period_start"`
	PeriodEnd    time.Time `db:"period_end" json:"period_end"`
	ItemCount    int       `db:"item_count" json:"item_count"`
	MessageID    *string   `db:"message_id" json:"message_id,omitempty"`
}

// DigestItem links an item into a digest at a 1-based rank.
type DigestItem struct {
	DigestID int64 `db:"digest_id" json:"digest_id"`
	ItemID   int64 `db:"item_id" json:"item_id"`
	Rank     int   `db:"rank" json:"rank"`
}

// Failure is an item processing failure kept for visibility.
type Failure struct {
	ID             int64     `db:"id" json:"id"`
	ItemID         *int64    `db:"item_id" json:"item_id,omitempty"`
	Error          string    `db:"error" json:"error"`
	AttemptCount   int       `db:"attempt_count" json:"attempt_count"`
	FirstFailureAt time.Time `db:"first_failure_at" json:"first_failure_at"`
	LastFailureAt  time.Time `db:"last_failure_at" json:"last_failure_at"`
	Resolved       bool      `db:"resolved" json:"resolved"`
}

// ItemFilter controls item listing.
type ItemFilter struct {
	Source  string
	Since   time.Time
	Until   time.Time
	Alerted *bool
	Limit   int
	Offset  int
}

// DigestFilter controls digest listing.
type DigestFilter struct {
	DigestType string
	Limit      int
}

// Store is the persistence interface. Insert methods report whether a row
// was created; a uniqueness conflict is (false, nil), not an error.
type Store interface {
	InsertItem(ctx context.Context, item *Item) (bool, error)
	ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItems(ctx context.Context, f ItemFilter) ([]Item, error)
	MarkScraped(ctx context.Context, id int64, status, content string) error
	ClaimAlert(ctx context.Context, id int64, ttl time.Duration) (bool, error)
	ReleaseAlert(ctx context.Context, id int64) error
	MarkAlerted(ctx context.Context, id int64) (bool, error)

	AnalyzedProviders(ctx context.Context, itemID int64) (map[string]bool, error)
	InsertAnalysis(ctx context.Context, a *Analysis) (bool, error)
	ListAnalyses(ctx context.Context, itemID int64) ([]Analysis, error)
	ItemsAnalyzedBetween(ctx context.Context, start, end time.Time) ([]ItemAnalyses, error)

	LatestDigest(ctx context.Context, digestType string) (*Digest, error)
	ClaimDigest(ctx context.Context, digestType string, scheduledFor time.Time, ttl time.Duration) (bool, error)
	ReleaseDigest(ctx context.Context, digestType string, scheduledFor time.Time) error
	RecordDigest(ctx context.Context, d *Digest, items []DigestItem) (bool, error)
	ListDigests(ctx context.Context, f DigestFilter) ([]Digest, error)
	DigestItems(ctx context.Context, digestID int64) ([]DigestItem, error)

	RecordFailure(ctx context.Context, itemID *int64, errText string) error
	ResolveFailures(ctx context.Context, itemID int64) error
	ListFailures(ctx context.Context, unresolvedOnly bool, limit int) ([]Failure, error)

	Close() error
}

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// New opens the database for driver ("sqlite" or "postgres") and runs migrations.
func New(driver, dsn string) (*SQLStore, error) {
	var (
		db  *sqlx.DB
		err error
	)
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)

	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		db, err = sqlx.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// One writer avoids SQLITE_BUSY between goroutines.
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sqlx.Open("postgres", dsn)
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if _, err := db.Exec(schemaFor(driver)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{
		db:      db,
		builder: builder,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "./marketnews.db"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders for the open driver.
func (s *SQLStore) rebind(query string) string {
	return s.db.Rebind(query)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
