// Package journal persists an append-only activity log in SQLite.
//
// Every trade, skipped opportunity, error and settlement gets one row.
// Rows are never updated or deleted. Reads are aggregate-only (counts and
// USD sums per category) so the journal can answer "how did today go"
// without becoming a query surface.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// Category partitions journal entries.
type Category string

const (
	CategoryTrade      Category = "trades"
	CategorySkip       Category = "skips"
	CategoryError      Category = "errors"
	CategorySettlement Category = "settlements"
)

// Entry is one append-only record. AmountUSD carries the signed display
// value of the entry (net profit, realized loss) and feeds the sums; it is
// never used for trading math.
type Entry struct {
	Category  Category
	Kind      string
	Reference string
	AmountUSD float64
	Fields    map[string]any
}

// Aggregate is the read-back shape: per-category count and USD sum.
type Aggregate struct {
	Count    int64
	TotalUSD float64
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	category   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	reference  TEXT NOT NULL DEFAULT '',
	amount_usd REAL NOT NULL DEFAULT 0,
	detail     TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_category_time ON entries(category, created_at);
`

// Journal is the SQLite-backed activity log.
type Journal struct {
	db      *sql.DB
	log     logger.LoggerInterface
	tracer  trace.Tracer
	metrics *journalMetrics
	now     func() time.Time
}

type journalMetrics struct {
	appends        metric.Int64Counter
	appendFailures metric.Int64Counter
}

func initMetrics() (*journalMetrics, error) {
	meter := otel.Meter("journal")

	appends, err := meter.Int64Counter(
		"journal_appends_total",
		metric.WithDescription("Journal entries written, by category"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"journal_append_failures_total",
		metric.WithDescription("Journal writes that failed"),
	)
	if err != nil {
		return nil, err
	}

	return &journalMetrics{appends: appends, appendFailures: failures}, nil
}

// Open opens (or creates) the journal database at path and runs the schema.
// Use ":memory:" for throwaway journals in tests.
func Open(path string, log logger.LoggerInterface) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apperror.New(apperror.CodeJournalWrite,
			apperror.WithMessage("open journal database"),
			apperror.WithCause(err),
			apperror.WithContext("path", path),
		)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// from our own process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperror.New(apperror.CodeJournalWrite,
			apperror.WithMessage("apply journal schema"),
			apperror.WithCause(err),
		)
	}

	m, err := initMetrics()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal metrics: %w", err)
	}

	return &Journal{
		db:      db,
		log:     log,
		tracer:  otel.Tracer("journal"),
		metrics: m,
		now:     time.Now,
	}, nil
}

// Append writes one entry. Errors are reported but callers are expected to
// log and continue; a journal failure must never stop the engine.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	ctx, span := j.tracer.Start(ctx, "Journal.Append",
		trace.WithAttributes(
			attribute.String("journal.category", string(e.Category)),
			attribute.String("journal.kind", e.Kind),
		),
	)
	defer span.End()

	detail := "{}"
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			j.log.Warn(ctx, "journal detail not serializable, storing empty",
				"kind", e.Kind, "error", err.Error())
		} else {
			detail = string(b)
		}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (category, kind, reference, amount_usd, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Category), e.Kind, e.Reference, e.AmountUSD, detail, j.now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		j.metrics.appendFailures.Add(ctx, 1)
		return apperror.New(apperror.CodeJournalWrite,
			apperror.WithCause(err),
			apperror.WithContext("category", string(e.Category)),
			apperror.WithContext("kind", e.Kind),
		)
	}

	j.metrics.appends.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", string(e.Category))))
	return nil
}

// AggregateSince returns count and USD sum for one category since the cutoff.
func (j *Journal) AggregateSince(ctx context.Context, c Category, since time.Time) (Aggregate, error) {
	var agg Aggregate
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount_usd), 0)
		 FROM entries WHERE category = ? AND created_at >= ?`,
		string(c), since.UTC(),
	).Scan(&agg.Count, &agg.TotalUSD)
	if err != nil {
		return Aggregate{}, fmt.Errorf("journal aggregate %s: %w", c, err)
	}
	return agg, nil
}

// TotalsSince returns aggregates for all categories since the cutoff.
// Categories with no rows are absent from the map.
func (j *Journal) TotalsSince(ctx context.Context, since time.Time) (map[Category]Aggregate, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT category, COUNT(*), COALESCE(SUM(amount_usd), 0)
		 FROM entries WHERE created_at >= ? GROUP BY category`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("journal totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[Category]Aggregate)
	for rows.Next() {
		var cat string
		var agg Aggregate
		if err := rows.Scan(&cat, &agg.Count, &agg.TotalUSD); err != nil {
			return nil, fmt.Errorf("journal totals scan: %w", err)
		}
		totals[Category(cat)] = agg
	}
	return totals, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
