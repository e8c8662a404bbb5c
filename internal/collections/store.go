// Package collections owns the per-tenant data containers. Every tenant gets its own
// collection (a table on SQL backends) named by the identifier stored on its organization;
// all operations take that identifier explicitly and never look collections up by ambient state.
package collections

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrMigrationFailed    = errors.New("collection migration failed")
	ErrInvalidIdentifier  = errors.New("invalid collection identifier")
)

// identifierPattern matches what slug.Generate produces and what both SQL dialects
// accept unquoted.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Record is one tenant-owned document. The store never interprets Data.
type Record struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is implemented by every collection backend.
type Store interface {
	// CreateCollection creates an empty collection. Creating an existing collection is a no-op.
	CreateCollection(ctx context.Context, id string) error

	// RenameCollection copies every record from oldID to newID and then drops oldID.
	// It is all-or-nothing: on failure oldID is untouched, newID does not exist,
	// and the error wraps ErrMigrationFailed.
	RenameCollection(ctx context.Context, oldID, newID string) error

	// DropCollection deletes the collection and all of its records.
	// Dropping a missing collection is not an error.
	DropCollection(ctx context.Context, id string) error

	CollectionExists(ctx context.Context, id string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)

	InsertRecord(ctx context.Context, id string, data map[string]any) (*Record, error)
	// ListRecords returns records oldest first. A limit of zero or less returns all of them.
	ListRecords(ctx context.Context, id string, limit, offset int) ([]Record, error)
	CountRecords(ctx context.Context, id string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ValidateIdentifier rejects identifiers that are unsafe to use as a table name.
func ValidateIdentifier(id string) error {
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

func validatePair(oldID, newID string) error {
	if err := ValidateIdentifier(oldID); err != nil {
		return err
	}
	if err := ValidateIdentifier(newID); err != nil {
		return err
	}
	if oldID == newID {
		return fmt.Errorf("%w: source and target are both %q", ErrInvalidIdentifier, oldID)
	}
	return nil
}
