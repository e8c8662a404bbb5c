package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenant-service/tenant-service/internal/collections"
)

func newTestArchiver(backend Storage, ts time.Time) *CollectionArchiver {
	a := NewCollectionArchiver(backend)
	a.now = func() time.Time { return ts }
	return a
}

func TestArchiveCollection_RoundTrip(t *testing.T) {
	backend := newMemStorage()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestArchiver(backend, ts)
	records := []collections.Record{
		{ID: "r1", Data: map[string]any{"k": "v"}, CreatedAt: ts.Add(-time.Hour)},
		{ID: "r2", Data: map[string]any{"n": float64(2)}, CreatedAt: ts.Add(-time.Minute)},
	}

	key, err := a.ArchiveCollection(context.Background(), "org_acme_corp", records)
	require.NoError(t, err)
	assert.Equal(t, ArchiveKey("org_acme_corp", ts), key)
	assert.Regexp(t, `^archives/org_acme_corp/\d{12}\.json$`, key)

	doc, err := a.ReadArchive(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "org_acme_corp", doc.CollectionID)
	assert.Equal(t, 2, doc.RecordCount)
	require.Len(t, doc.Records, 2)
	assert.Equal(t, "v", doc.Records[0].Data["k"])
	assert.True(t, doc.ArchivedAt.Equal(ts))
}

func TestArchiveCollection_EmptyCollection(t *testing.T) {
	a := newTestArchiver(newMemStorage(), time.Now())
	key, err := a.ArchiveCollection(context.Background(), "org_empty", nil)
	require.NoError(t, err)

	doc, err := a.ReadArchive(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.RecordCount)
	assert.NotNil(t, doc.Records)
}

func TestArchiveCollection_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := newTestArchiver(newMemStorage(), time.Now()).ArchiveCollection(ctx, "../etc", nil)
	assert.ErrorIs(t, err, collections.ErrInvalidIdentifier)

	failing := newMemStorage()
	boom := errors.New("bucket unavailable")
	failing.uploadFn = func(string) error { return boom }
	_, err = newTestArchiver(failing, time.Now()).ArchiveCollection(ctx, "org_acme", nil)
	assert.ErrorIs(t, err, boom)

	corrupt := newMemStorage()
	corrupt.corrupt = true
	_, err = newTestArchiver(corrupt, time.Now()).ArchiveCollection(ctx, "org_acme", nil)
	assert.ErrorContains(t, err, "checksum mismatch")
	keys, _ := corrupt.List(ctx, "")
	assert.Empty(t, keys, "mismatched archive is removed")
}

func TestListArchives_Chronological(t *testing.T) {
	backend := newMemStorage()
	ctx := context.Background()
	base := time.Unix(999_999_999, 0)

	for _, ts := range []time.Time{base.Add(time.Hour), base, base.Add(2 * time.Second)} {
		_, err := newTestArchiver(backend, ts).ArchiveCollection(ctx, "org_acme", nil)
		require.NoError(t, err)
	}
	_, err := newTestArchiver(backend, base).ArchiveCollection(ctx, "org_acme_other", nil)
	require.NoError(t, err)

	keys, err := NewCollectionArchiver(backend).ListArchives(ctx, "org_acme")
	require.NoError(t, err)
	assert.Equal(t, []string{
		ArchiveKey("org_acme", base),
		ArchiveKey("org_acme", base.Add(2*time.Second)),
		ArchiveKey("org_acme", base.Add(time.Hour)),
	}, keys)
}

func TestReadArchive_Missing(t *testing.T) {
	_, err := NewCollectionArchiver(newMemStorage()).ReadArchive(context.Background(), "archives/none.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, NewCollectionArchiver(newMemStorage()).Check(context.Background()))
}

func TestLatestArchive(t *testing.T) {
	backend := newMemStorage()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	latest, err := NewCollectionArchiver(backend).LatestArchive(ctx, "org_acme")
	require.NoError(t, err)
	assert.Nil(t, latest, "never archived")

	_, err = newTestArchiver(backend, base).ArchiveCollection(ctx, "org_acme", nil)
	require.NoError(t, err)
	records := []collections.Record{{ID: "r1", Data: map[string]any{}}, {ID: "r2", Data: map[string]any{}}}
	_, err = newTestArchiver(backend, base.Add(time.Minute)).ArchiveCollection(ctx, "org_acme", records)
	require.NoError(t, err)

	latest, err = NewCollectionArchiver(backend).LatestArchive(ctx, "org_acme")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ArchiveKey("org_acme", base.Add(time.Minute)), latest.Key)
	assert.Equal(t, 2, latest.RecordCount)
	assert.True(t, latest.ArchivedAt.Equal(base.Add(time.Minute)))

	failing := newMemStorage()
	failing.listErr = errors.New("bucket unavailable")
	_, err = NewCollectionArchiver(failing).LatestArchive(ctx, "org_acme")
	assert.ErrorContains(t, err, "bucket unavailable")
}
