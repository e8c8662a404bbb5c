// sql_store.go implements Store on top of a SQL database: one table per tenant.
package collections

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tenant-service/tenant-service/internal/slug"
)

// timeLayout is fixed width so stored timestamps sort lexically on SQLite.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore keeps tenant collections as tables.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
	owned   bool // close db on Close
	now     func() time.Time

	clockMu sync.Mutex
	last    time.Time

	// afterCopy runs inside the rename transaction once rows are copied.
	// Tests use it to fail a migration midway.
	afterCopy func(ctx context.Context, tx *sqlx.Tx) error
}

// NewSQLStore wraps an existing connection. The caller keeps ownership of db.
func NewSQLStore(db *sqlx.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OpenSQLite opens (creating if needed) a SQLite collection store at path.
func OpenSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the rename transaction and other writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite store: %w", err)
	}

	store := NewSQLStore(db, SQLiteDialect)
	store.owned = true
	return store, nil
}

// Ping checks that the backing database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection if the store opened it
func (s *SQLStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// CreateCollection creates the table for id if it does not exist yet
func (s *SQLStore) CreateCollection(ctx context.Context, id string) error {
	if err := ValidateIdentifier(id); err != nil {
		return err
	}
	for _, stmt := range s.dialect.createTable(id) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", id, err)
		}
	}
	return nil
}

// RenameCollection copies oldID into newID and drops oldID inside one transaction.
func (s *SQLStore) RenameCollection(ctx context.Context, oldID, newID string) error {
	if err := validatePair(oldID, newID); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	if err := s.renameTx(ctx, oldID, newID); err != nil {
		slog.Warn("collection migration rolled back", "from", oldID, "to", newID, "error", err)
		return fmt.Errorf("%w: %s -> %s: %w", ErrMigrationFailed, oldID, newID, err)
	}
	return nil
}

func (s *SQLStore) renameTx(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := s.exists(ctx, tx, oldID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCollectionNotFound
	}
	exists, err = s.exists(ctx, tx, newID)
	if err != nil {
		return err
	}
	if exists {
		return ErrCollectionExists
	}

	if stmt := s.dialect.lockTable(oldID); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to lock %s: %w", oldID, err)
		}
	}

	for _, stmt := range s.dialect.createTable(newID) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", newID, err)
		}
	}

	copyStmt := fmt.Sprintf(`INSERT INTO %s (id, data, created_at) SELECT id, data, created_at FROM %s`,
		quoteIdent(newID), quoteIdent(oldID))
	if _, err := tx.ExecContext(ctx, copyStmt); err != nil {
		return fmt.Errorf("failed to copy records: %w", err)
	}

	if s.afterCopy != nil {
		if err := s.afterCopy(ctx, tx); err != nil {
			return err
		}
	}

	srcCount, err := count(ctx, tx, oldID)
	if err != nil {
		return err
	}
	dstCount, err := count(ctx, tx, newID)
	if err != nil {
		return err
	}
	if srcCount != dstCount {
		return fmt.Errorf("copied %d of %d records", dstCount, srcCount)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE `+quoteIdent(oldID)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", oldID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// DropCollection drops the table for id. Missing tables are ignored.
func (s *SQLStore) DropCollection(ctx context.Context, id string) error {
	if err := ValidateIdentifier(id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(id)); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", id, err)
	}
	return nil
}

// CollectionExists reports whether the table for id exists
func (s *SQLStore) CollectionExists(ctx context.Context, id string) (bool, error) {
	if err := ValidateIdentifier(id); err != nil {
		return false, err
	}
	return s.exists(ctx, s.db, id)
}

func (s *SQLStore) exists(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, s.db.Rebind(s.dialect.tableExists), id); err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", id, err)
	}
	return exists, nil
}

// ListCollections returns the identifiers of all tenant collections
func (s *SQLStore) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, s.db.Rebind(s.dialect.listTables), slug.Prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	// LIKE treats '_' as a wildcard
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, slug.Prefix) {
			ids = append(ids, name)
		}
	}
	return ids, nil
}

func (s *SQLStore) requireCollection(ctx context.Context, id string) error {
	exists, err := s.CollectionExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	return nil
}

// InsertRecord stores data as a new record in collection id
func (s *SQLStore) InsertRecord(ctx context.Context, id string, data map[string]any) (*Record, error) {
	if err := s.requireCollection(ctx, id); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	rec := &Record{ID: uuid.NewString(), Data: data, CreatedAt: s.nextTimestamp()}
	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at) VALUES (?, ?, ?)`, quoteIdent(id))
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), rec.ID, string(payload), rec.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to insert record into %s: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns records of collection id, oldest first
func (s *SQLStore) ListRecords(ctx context.Context, id string, limit, offset int) ([]Record, error) {
	if err := s.requireCollection(ctx, id); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data, created_at FROM %s ORDER BY created_at, id`, quoteIdent(id))
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", id, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec       Record
			payload   []byte
			createdAt any
		)
		if err := rows.Scan(&rec.ID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of records in collection id
func (s *SQLStore) CountRecords(ctx context.Context, id string) (int64, error) {
	if err := s.requireCollection(ctx, id); err != nil {
		return 0, err
	}
	return count(ctx, s.db, id)
}

// nextTimestamp never hands out the same instant twice, so records inserted
// by this process keep their insertion order.
func (s *SQLStore) nextTimestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	ts := s.now()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Nanosecond)
	}
	s.last = ts
	return ts
}

func count(ctx context.Context, q sqlx.QueryerContext, id string) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM `+quoteIdent(id)); err != nil {
		return 0, fmt.Errorf("failed to count records of %s: %w", id, err)
	}
	return n, nil
}

// parseTime accepts what the drivers hand back for created_at:
// time.Time from Postgres, text from SQLite.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected created_at type %T", v)
	}
}

var _ Store = (*SQLStore)(nil)
