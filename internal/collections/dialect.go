package collections

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements that differ between SQL backends.
// Queries use '?' placeholders and are rebound per driver.
type Dialect struct {
	Name string

	createTable func(table string) []string
	lockTable   func(table string) string // empty when the backend has no explicit table lock
	tableExists string
	listTables  string
}

func init() {
	// sqlx does not know the modernc driver name; it takes '?' placeholders.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// quoteIdent double-quotes an identifier. SQLite accepts the same form as Postgres.
func quoteIdent(id string) string {
	return pq.QuoteIdentifier(id)
}

// indexName derives a short, collision resistant index name for a collection table.
// Index names share the table namespace, so appending a suffix to a 63-byte table
// name would be truncated by Postgres.
func indexName(table string) string {
	sum := sha256.Sum256([]byte(table))
	return "idx_" + hex.EncodeToString(sum[:])[:16] + "_created_at"
}

// PostgresDialect stores collections as tables in the registry database.
var PostgresDialect = Dialect{
	Name: "postgres",
	createTable: func(table string) []string {
		return []string{fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id         TEXT PRIMARY KEY,
				data       JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`, quoteIdent(table)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at)`,
				quoteIdent(indexName(table)), quoteIdent(table)),
		}
	},
	lockTable: func(table string) string {
		return "LOCK TABLE " + quoteIdent(table) + " IN EXCLUSIVE MODE"
	},
	tableExists: `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = ?
		)`,
	listTables: `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name LIKE ?
		ORDER BY table_name`,
}

// SQLiteDialect stores collections in an embedded SQLite file.
var SQLiteDialect = Dialect{
	Name: "sqlite",
	createTable: func(table string) []string {
		return []string{fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id         TEXT PRIMARY KEY,
				data       TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`, quoteIdent(table)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at)`,
				quoteIdent(indexName(table)), quoteIdent(table)),
		}
	},
	lockTable: func(string) string { return "" },
	tableExists: `
		SELECT EXISTS (
			SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?
		)`,
	listTables: `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name LIKE ?
		ORDER BY name`,
}
