// archive.go exports a tenant collection as one JSON document before the
// collection is dropped.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/pkg/checksum"
)

// ArchivePrefix is the key prefix under which archives are written
const ArchivePrefix = "archives"

// Archive is the document written for one collection
type Archive struct {
	CollectionID string               `json:"collection_id"`
	ArchivedAt   time.Time            `json:"archived_at"`
	RecordCount  int                  `json:"record_count"`
	Records      []collections.Record `json:"records"`
}

// CollectionArchiver writes collection archives to a Storage backend
type CollectionArchiver struct {
	backend Storage
	now     func() time.Time
}

// NewCollectionArchiver creates an archiver over backend
func NewCollectionArchiver(backend Storage) *CollectionArchiver {
	return &CollectionArchiver{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveCollection uploads records to archives/<collection_id>/<unix>.json and
// returns the key. The upload is rejected unless the backend's checksum matches.
func (a *CollectionArchiver) ArchiveCollection(ctx context.Context, collectionID string, records []collections.Record) (string, error) {
	if err := collections.ValidateIdentifier(collectionID); err != nil {
		return "", err
	}
	if records == nil {
		records = []collections.Record{}
	}

	ts := a.now()
	doc := Archive{
		CollectionID: collectionID,
		ArchivedAt:   ts,
		RecordCount:  len(records),
		Records:      records,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive: %w", err)
	}

	key := ArchiveKey(collectionID, ts)
	result, err := a.backend.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to upload archive %s: %w", key, err)
	}
	if want := checksum.Of(payload); !checksum.Equal(result.Checksum, want) {
		_ = a.backend.Delete(ctx, key)
		return "", fmt.Errorf("archive %s checksum mismatch: stored %s, want %s", key, result.Checksum, want)
	}
	return key, nil
}

// ReadArchive downloads and decodes the archive at key
func (a *CollectionArchiver) ReadArchive(ctx context.Context, key string) (*Archive, error) {
	rc, err := a.backend.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var doc Archive
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode archive %s: %w", key, err)
	}
	return &doc, nil
}

// ListArchives returns the archive keys of a collection, oldest first
func (a *CollectionArchiver) ListArchives(ctx context.Context, collectionID string) ([]string, error) {
	keys, err := a.backend.List(ctx, path.Join(ArchivePrefix, collectionID)+"/")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// ArchiveSummary locates the newest archive of a collection
type ArchiveSummary struct {
	Key         string    `json:"key"`
	ArchivedAt  time.Time `json:"archived_at"`
	RecordCount int       `json:"record_count"`
}

// LatestArchive returns the newest archive of collectionID, or nil when the
// collection was never archived. Operators restore a dropped collection from it.
func (a *CollectionArchiver) LatestArchive(ctx context.Context, collectionID string) (*ArchiveSummary, error) {
	keys, err := a.ListArchives(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives of %s: %w", collectionID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	key := keys[len(keys)-1]
	doc, err := a.ReadArchive(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ArchiveSummary{Key: key, ArchivedAt: doc.ArchivedAt, RecordCount: doc.RecordCount}, nil
}

// Check checks that the backend answers. Used by the readiness endpoint.
func (a *CollectionArchiver) Check(ctx context.Context) error {
	_, err := a.backend.Exists(ctx, path.Join(ArchivePrefix, ".health"))
	return err
}

// ArchiveKey builds archives/<collection_id>/<unix>.json. Seconds are
// zero padded so keys sort chronologically.
func ArchiveKey(collectionID string, ts time.Time) string {
	return fmt.Sprintf("%s/%s/%012d.json", ArchivePrefix, collectionID, ts.Unix())
}
