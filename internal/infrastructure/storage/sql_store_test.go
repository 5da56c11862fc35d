package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/logging"
)

func openTestStore(t *testing.T, strict bool) *SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fundbot.db")
	store, err := Open(context.Background(), Options{
		Driver: "sqlite3",
		DSN:    path,
		Strict: strict,
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestInsertThenExists(t *testing.T) {
	store := openTestStore(t, false)
	ctx := context.Background()

	url := "https://www.cdti.es/ayudas/neotec-2026"
	assert.False(t, store.Exists(ctx, url))

	created := store.Insert(ctx, domain.Listing{Identity: url, Title: "NEOTEC 2026", SourceTag: "cdti"})
	assert.True(t, created)
	assert.True(t, store.Exists(ctx, url))
	assert.False(t, store.Exists(ctx, "https://www.cdti.es/ayudas/other"))
}

func TestInsertIsIdempotent(t *testing.T) {
	store := openTestStore(t, false)
	ctx := context.Background()

	listing := domain.Listing{Identity: "https://red.es/convocatoria/1", Title: "Kit Digital", SourceTag: "red.es"}
	assert.True(t, store.Insert(ctx, listing))
	assert.False(t, store.Insert(ctx, listing))

	listing.Title = "Kit Digital (updated)"
	assert.False(t, store.Insert(ctx, listing))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestStats(t *testing.T) {
	store := openTestStore(t, false)
	ctx := context.Background()

	today := time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)
	store.now = func() time.Time { return today.Add(-48 * time.Hour) }
	require.True(t, store.Insert(ctx, domain.Listing{Identity: "https://cdti.es/a", SourceTag: "cdti"}))

	store.now = func() time.Time { return today.Add(-time.Hour) }
	require.True(t, store.Insert(ctx, domain.Listing{Identity: "https://cdti.es/b", SourceTag: "cdti"}))

	store.now = func() time.Time { return today }
	require.True(t, store.Insert(ctx, domain.Listing{Identity: "https://accio.gencat.cat/c", SourceTag: "accio"}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"cdti": 2, "accio": 1}, stats.BySource)
	assert.Equal(t, 2, stats.AddedToday)
}

func TestMigrateIsIdempotentAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fundbot.db")

	for i := 0; i < 3; i++ {
		store, err := Open(ctx, Options{DSN: path, Logger: logging.Discard()})
		require.NoError(t, err)
		require.NoError(t, store.Migrate(ctx))
		require.NoError(t, store.Migrate(ctx))
		if i == 0 {
			require.True(t, store.Insert(ctx, domain.Listing{Identity: "https://cdti.es/x", SourceTag: "cdti"}))
		}
		assert.True(t, store.Exists(ctx, "https://cdti.es/x"))
		require.NoError(t, store.Close())
	}
}

func TestStorageFailuresDegrade(t *testing.T) {
	ctx := context.Background()

	lenient := openTestStore(t, false)
	require.NoError(t, lenient.db.Close())
	assert.False(t, lenient.Exists(ctx, "https://cdti.es/a"))
	assert.False(t, lenient.Insert(ctx, domain.Listing{Identity: "https://cdti.es/a"}))

	strict := openTestStore(t, true)
	require.NoError(t, strict.db.Close())
	assert.True(t, strict.Exists(ctx, "https://cdti.es/a"))
}

func TestResolveDialect(t *testing.T) {
	t.Parallel()

	d, err := resolveDialect("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d.driver)

	d, err = resolveDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.driver)

	_, err = resolveDialect("mysql")
	require.Error(t, err)
}

func TestPostgresPlaceholders(t *testing.T) {
	t.Parallel()

	builder := postgresDialect.builder()
	query, args, err := builder.Select("1").From(listingsTable).Where("identity = ?", "https://x").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 FROM listings WHERE identity = $1", query)
	assert.Equal(t, []any{"https://x"}, args)
}
