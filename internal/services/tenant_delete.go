package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
	"github.com/tenant-service/tenant-service/internal/telemetry"
)

// Delete removes the organization owned by p: collection first, registry second.
//
// If the registry delete fails after the drop, the organization record is left
// pointing at a missing collection and ErrPartialDelete is returned. Calling
// Delete again finishes the job since dropping a missing collection is a no-op.
func (m *TenantManager) Delete(ctx context.Context, p Principal, name string) error {
	// Step 1: resolve and authorize
	org, err := m.resolve(ctx, p, name)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowDelete, outcomeForRegistryError(err))
		return err
	}

	if m.archiver != nil {
		if err := m.archive(ctx, org.CollectionID); err != nil {
			slog.Error("collection archive failed, nothing deleted",
				"workflow", telemetry.WorkflowDelete, "step", "archive_collection",
				"organization_id", org.ID, "collection_id", org.CollectionID, "error", err)
			telemetry.ObserveWorkflow(telemetry.WorkflowDelete, telemetry.OutcomeFailed)
			return fmt.Errorf("%w: %w", ErrArchiveFailed, err)
		}
	}

	// Step 2: drop the collection
	if err := m.store.DropCollection(ctx, org.CollectionID); err != nil {
		slog.Error("collection drop failed, registry unchanged",
			"workflow", telemetry.WorkflowDelete, "step", "drop_collection",
			"organization_id", org.ID, "collection_id", org.CollectionID, "error", err)
		telemetry.ObserveWorkflow(telemetry.WorkflowDelete, telemetry.OutcomeFailed)
		return fmt.Errorf("%w: %w", ErrDropFailed, err)
	}

	// Step 3: registry
	if err := m.registry.DeleteOrganization(ctx, org.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// deleted concurrently
			telemetry.ObserveWorkflow(telemetry.WorkflowDelete, telemetry.OutcomeRejected)
			return err
		}
		slog.Error("registry delete failed after collection drop",
			"workflow", telemetry.WorkflowDelete, "step", "delete_organization",
			"organization_id", org.ID, "collection_id", org.CollectionID, "error", err,
			"retryable", true)
		telemetry.ObserveWorkflow(telemetry.WorkflowDelete, telemetry.OutcomePartial)
		return fmt.Errorf("%w: organization %s: %w", ErrPartialDelete, org.ID, err)
	}

	slog.Info("tenant deleted", "organization_id", org.ID,
		"organization_name", org.Name, "collection_id", org.CollectionID)
	telemetry.ObserveWorkflow(telemetry.WorkflowDelete, telemetry.OutcomeSuccess)
	return nil
}

// archive exports the collection. A collection that is already gone (a retry
// after ErrPartialDelete) has nothing left to archive.
func (m *TenantManager) archive(ctx context.Context, collectionID string) error {
	records, err := m.store.ListRecords(ctx, collectionID, 0, 0)
	if err != nil {
		if errors.Is(err, collections.ErrCollectionNotFound) {
			return nil
		}
		return err
	}
	key, err := m.archiver.ArchiveCollection(ctx, collectionID, records)
	if err != nil {
		return err
	}
	slog.Info("collection archived", "collection_id", collectionID, "records", len(records), "key", key)
	return nil
}
