package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/db/models"
	"github.com/tenant-service/tenant-service/internal/storage"
)

// ArchiveFinder locates the newest archive of a collection.
// *storage.CollectionArchiver implements it.
type ArchiveFinder interface {
	LatestArchive(ctx context.Context, collectionID string) (*storage.ArchiveSummary, error)
}

// ConsistencyReport lists registry entries and collections that disagree.
type ConsistencyReport struct {
	Organizations int `json:"organizations"`
	Collections   int `json:"collections"`
	// Dangling organizations reference a collection that does not exist,
	// typically left behind by ErrPartialDelete.
	Dangling []models.Organization `json:"dangling"`
	// Orphans are collections no organization references,
	// typically left behind by ErrInconsistentState.
	Orphans []string `json:"orphans"`
	// Archives maps the collection id of a dangling organization to its newest
	// archive. Empty unless archive-before-drop is enabled.
	Archives map[string]*storage.ArchiveSummary `json:"archives,omitempty"`
}

// Clean reports whether nothing was found
func (r *ConsistencyReport) Clean() bool {
	return len(r.Dangling) == 0 && len(r.Orphans) == 0
}

// AttachArchives records the newest archive of every dangling organization's
// collection, the restore source after ErrPartialDelete. A failed lookup is
// logged and skipped.
func (r *ConsistencyReport) AttachArchives(ctx context.Context, finder ArchiveFinder) {
	for _, org := range r.Dangling {
		summary, err := finder.LatestArchive(ctx, org.CollectionID)
		if err != nil {
			slog.Warn("failed to look up collection archive",
				"organization_id", org.ID, "collection_id", org.CollectionID, "error", err)
			continue
		}
		if summary == nil {
			continue
		}
		if r.Archives == nil {
			r.Archives = make(map[string]*storage.ArchiveSummary)
		}
		r.Archives[org.CollectionID] = summary
	}
}

// CheckConsistency compares the registry with the collection store.
// It only reads; repairs are left to an operator.
func (m *TenantManager) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	report, err := CheckConsistency(ctx, m.registry, m.store)
	if err != nil {
		return nil, err
	}
	if finder, ok := m.archiver.(ArchiveFinder); ok {
		report.AttachArchives(ctx, finder)
	}
	return report, nil
}

// CheckConsistency is the workflow-free form used by cmd/check-db, which has
// no signing secret to build a TenantManager with.
func CheckConsistency(ctx context.Context, registry Registry, store collections.Store) (*ConsistencyReport, error) {
	orgs, err := registry.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	ids, err := store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = false
	}

	report := &ConsistencyReport{
		Organizations: len(orgs),
		Collections:   len(ids),
		Dangling:      []models.Organization{},
		Orphans:       []string{},
	}
	for _, org := range orgs {
		if _, ok := present[org.CollectionID]; !ok {
			report.Dangling = append(report.Dangling, *org)
			continue
		}
		present[org.CollectionID] = true
	}
	for _, id := range ids {
		if !present[id] {
			report.Orphans = append(report.Orphans, id)
		}
	}

	if !report.Clean() {
		slog.Warn("registry and collection store disagree",
			"dangling", len(report.Dangling), "orphans", len(report.Orphans))
	}
	return report, nil
}

// Ping checks that both stores are reachable
func (m *TenantManager) Ping(ctx context.Context) error {
	if err := m.registry.Ping(ctx); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("collection store: %w", err)
	}
	return nil
}
