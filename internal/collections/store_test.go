package collections

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- backends under test ----------------------------------------------------

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "tenants.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var backends = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store { return NewMemoryStore() },
	"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func seed(t *testing.T, s Store, id string, n int) []Record {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, id))
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.InsertRecord(ctx, id, map[string]any{"n": float64(i), "name": "item"})
		require.NoError(t, err)
		out = append(out, *rec)
	}
	return out
}

// ---- identifiers ------------------------------------------------------------

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"org_acme_corp", "a", "org_123"}
	invalid := []string{"", "Org_acme", "1org", "org-acme", `org"; DROP TABLE admins; --`, "org acme",
		strings.Repeat("o", 64)}

	for _, id := range valid {
		assert.NoError(t, ValidateIdentifier(id), id)
	}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateIdentifier(id), ErrInvalidIdentifier, id)
	}
}

// ---- create / drop ----------------------------------------------------------

func TestCreateCollection_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "org_acme", 2)

		require.NoError(t, s.CreateCollection(ctx, "org_acme"))

		n, err := s.CountRecords(ctx, "org_acme")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n, "re-creating must not wipe records")
	})
}

func TestDropCollection_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "org_acme", 3)

		require.NoError(t, s.DropCollection(ctx, "org_acme"))
		require.NoError(t, s.DropCollection(ctx, "org_acme"))
		require.NoError(t, s.DropCollection(ctx, "org_never_existed"))

		exists, err := s.CollectionExists(ctx, "org_acme")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestInvalidIdentifierRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		assert.ErrorIs(t, s.CreateCollection(ctx, "Bad Name"), ErrInvalidIdentifier)
		assert.ErrorIs(t, s.DropCollection(ctx, "x;y"), ErrInvalidIdentifier)
		_, err := s.InsertRecord(ctx, "../etc", nil)
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})
}

// ---- records ----------------------------------------------------------------

func TestRecords_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seeded := seed(t, s, "org_acme", 5)

		all, err := s.ListRecords(ctx, "org_acme", 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, rec := range all {
			assert.Equal(t, seeded[i].ID, rec.ID)
			assert.Equal(t, float64(i), rec.Data["n"])
			assert.False(t, rec.CreatedAt.IsZero())
		}

		page, err := s.ListRecords(ctx, "org_acme", 2, 3)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, seeded[3].ID, page[0].ID)
		assert.Equal(t, seeded[4].ID, page[1].ID)
	})
}

func TestRecords_MissingCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.InsertRecord(ctx, "org_missing", map[string]any{"a": 1})
		assert.ErrorIs(t, err, ErrCollectionNotFound)
		_, err = s.ListRecords(ctx, "org_missing", 0, 0)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
		_, err = s.CountRecords(ctx, "org_missing")
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})
}

func TestListCollections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "org_b", 0)
		seed(t, s, "org_a", 0)
		seed(t, s, "orgxother", 0)

		ids, err := s.ListCollections(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"org_a", "org_b"}, ids)
	})
}

// ---- rename -----------------------------------------------------------------

func TestRenameCollection_MovesEveryRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seeded := seed(t, s, "org_acme_corp", 4)

		require.NoError(t, s.RenameCollection(ctx, "org_acme_corp", "org_acme_inc"))

		exists, err := s.CollectionExists(ctx, "org_acme_corp")
		require.NoError(t, err)
		assert.False(t, exists, "old collection must be gone")

		moved, err := s.ListRecords(ctx, "org_acme_inc", 0, 0)
		require.NoError(t, err)
		require.Len(t, moved, len(seeded))
		for i := range seeded {
			assert.Equal(t, seeded[i].ID, moved[i].ID)
			assert.Equal(t, seeded[i].Data["n"], moved[i].Data["n"])
			assert.True(t, seeded[i].CreatedAt.Equal(moved[i].CreatedAt))
		}

		// the new collection is fully usable
		_, err = s.InsertRecord(ctx, "org_acme_inc", map[string]any{"after": true})
		require.NoError(t, err)
	})
}

func TestRenameCollection_Failures(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "org_a", 2)
		seed(t, s, "org_b", 1)

		err := s.RenameCollection(ctx, "org_missing", "org_c")
		assert.ErrorIs(t, err, ErrMigrationFailed)
		assert.ErrorIs(t, err, ErrCollectionNotFound)

		err = s.RenameCollection(ctx, "org_a", "org_b")
		assert.ErrorIs(t, err, ErrMigrationFailed)
		assert.ErrorIs(t, err, ErrCollectionExists)

		err = s.RenameCollection(ctx, "org_a", "org_a")
		assert.ErrorIs(t, err, ErrMigrationFailed)

		err = s.RenameCollection(ctx, "org_a", "Not Valid")
		assert.ErrorIs(t, err, ErrMigrationFailed)

		// both collections untouched
		n, err := s.CountRecords(ctx, "org_a")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		n, err = s.CountRecords(ctx, "org_b")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestRenameCollection_RollsBackMidway(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seed(t, s, "org_acme", 3)

	boom := errors.New("disk full")
	s.afterCopy = func(context.Context, *sqlx.Tx) error { return boom }

	err := s.RenameCollection(ctx, "org_acme", "org_acme_new")
	require.ErrorIs(t, err, ErrMigrationFailed)
	require.ErrorIs(t, err, boom)

	s.afterCopy = nil
	exists, err := s.CollectionExists(ctx, "org_acme_new")
	require.NoError(t, err)
	assert.False(t, exists, "partially migrated target must not survive")

	n, err := s.CountRecords(ctx, "org_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "source must be intact")
}

func TestRenameCollection_CountMismatchRollsBack(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seed(t, s, "org_acme", 3)

	// drop a row from the copy so the verification step fails
	s.afterCopy = func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM "org_acme_new" WHERE rowid = (SELECT MIN(rowid) FROM "org_acme_new")`)
		return err
	}

	err := s.RenameCollection(ctx, "org_acme", "org_acme_new")
	require.ErrorIs(t, err, ErrMigrationFailed)
	assert.Contains(t, err.Error(), "copied 2 of 3 records")

	s.afterCopy = nil
	exists, err := s.CollectionExists(ctx, "org_acme_new")
	require.NoError(t, err)
	assert.False(t, exists)
	n, err := s.CountRecords(ctx, "org_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

// ---- dialect ----------------------------------------------------------------

func TestIndexName(t *testing.T) {
	long := "org_" + "a_very_long_organization_name_that_fills_the_whole_identifier"
	a := indexName(long)
	assert.LessOrEqual(t, len(a), 63)
	assert.Equal(t, a, indexName(long))
	assert.NotEqual(t, a, indexName("org_other"))
}

func TestPostgresDialectQuotesIdentifiers(t *testing.T) {
	stmts := PostgresDialect.createTable("org_acme")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `"org_acme"`)
	assert.Contains(t, stmts[0], "JSONB")
	assert.Contains(t, stmts[1], `ON "org_acme" (created_at)`)
	assert.Equal(t, `LOCK TABLE "org_acme" IN EXCLUSIVE MODE`, PostgresDialect.lockTable("org_acme"))
	assert.Empty(t, SQLiteDialect.lockTable("org_acme"))
}
