package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/ports"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const listingsTable = "listings"

type dialect struct {
	driver      string
	placeholder sq.PlaceholderFormat
	goose       goose.Dialect
}

var (
	sqliteDialect   = dialect{driver: "sqlite3", placeholder: sq.Question, goose: goose.DialectSQLite3}
	postgresDialect = dialect{driver: "postgres", placeholder: sq.Dollar, goose: goose.DialectPostgres}
)

func (d dialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.placeholder)
}

// Options configures Open.
type Options struct {
	Driver string
	DSN    string
	// Strict makes Exists report true on storage failures so the listing is
	// skipped for this run instead of risking a duplicate notification.
	Strict bool
	Logger *slog.Logger
}

// SQLStore persists delivered listing identities in SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	builder sq.StatementBuilderType
	strict  bool
	logger  *slog.Logger
	now     func() time.Time
}

var _ ports.ListingStore = (*SQLStore)(nil)

// Open connects to the configured database. Call Migrate before use.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	d, err := resolveDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}

	if d.driver == sqliteDialect.driver {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}

	if d.driver == sqliteDialect.driver {
		if err := applyPragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLStore{
		db:      db,
		dialect: d,
		builder: d.builder(),
		strict:  opts.Strict,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies the embedded schema migrations. It is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(s.dialect.goose, s.db, sub)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Debug("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}

	return nil
}

// Exists reports whether identity was stored before. Storage failures are
// logged and reported as "not seen", or as "seen" in strict mode.
func (s *SQLStore) Exists(ctx context.Context, identity string) bool {
	query, args, err := s.builder.
		Select("1").
		From(listingsTable).
		Where(sq.Eq{"identity": identity}).
		Limit(1).
		ToSql()
	if err != nil {
		return s.existsFailed(identity, fmt.Errorf("build exists query: %w", err))
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case err == nil:
		return true
	case errors.Is(err, sql.ErrNoRows):
		return false
	default:
		return s.existsFailed(identity, fmt.Errorf("query exists: %w", err))
	}
}

func (s *SQLStore) existsFailed(identity string, err error) bool {
	s.logger.Warn("dedup lookup failed", "identity", identity, "strict", s.strict, "error", err)
	return s.strict
}

// Insert records the listing and returns true only when a new row was
// created. Duplicates and storage failures return false.
func (s *SQLStore) Insert(ctx context.Context, listing domain.Listing) bool {
	query, args, err := s.builder.
		Insert(listingsTable).
		Columns("identity", "title", "source_tag", "created_at").
		Values(listing.Identity, listing.Title, listing.SourceTag, s.now().UTC()).
		Suffix("ON CONFLICT (identity) DO NOTHING").
		ToSql()
	if err != nil {
		s.logger.Error("build insert failed", "identity", listing.Identity, "error", err)
		return false
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("insert listing failed", "identity", listing.Identity, "error", err)
		return false
	}

	affected, err := res.RowsAffected()
	if err != nil {
		s.logger.Error("insert rows affected unavailable", "identity", listing.Identity, "error", err)
		return false
	}

	return affected > 0
}

// Stats returns row totals, counts per source tag and rows added today (UTC).
func (s *SQLStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	stats := domain.StoreStats{BySource: map[string]int{}}

	query, args, err := s.builder.Select("COUNT(*)").From(listingsTable).ToSql()
	if err != nil {
		return stats, fmt.Errorf("build total query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("count listings: %w", err)
	}

	query, args, err = s.builder.
		Select("source_tag", "COUNT(*)").
		From(listingsTable).
		GroupBy("source_tag").
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build by-source query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, fmt.Errorf("count by source: %w", err)
	}
	for rows.Next() {
		var (
			tag   string
			count int
		)
		if err := rows.Scan(&tag, &count); err != nil {
			_ = rows.Close()
			return stats, fmt.Errorf("scan source count: %w", err)
		}
		stats.BySource[tag] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return stats, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return stats, fmt.Errorf("close rows: %w", closeErr)
	}

	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	query, args, err = s.builder.
		Select("COUNT(*)").
		From(listingsTable).
		Where(sq.GtOrEq{"created_at": startOfDay}).
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build today query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.AddedToday); err != nil {
		return stats, fmt.Errorf("count today: %w", err)
	}

	return stats, nil
}

func resolveDialect(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pq":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}
