package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/db/models"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
	"github.com/tenant-service/tenant-service/internal/slug"
	"github.com/tenant-service/tenant-service/internal/telemetry"
)

// UpdateRequest renames an organization and optionally replaces its admin credentials.
type UpdateRequest struct {
	OldName     string
	NewName     string
	NewEmail    *string
	NewPassword *string
}

// Update renames the organization owned by p.
//
// The collection is migrated before the registry changes, so a failed migration
// leaves the registry pointing at the old, intact collection. If the registry
// write fails after the migration, the collection is renamed back; if that fails
// too the result is ErrInconsistentState.
func (m *TenantManager) Update(ctx context.Context, p Principal, req UpdateRequest) (*models.Tenant, error) {
	newName := strings.TrimSpace(req.NewName)

	// Steps 1 and 2: resolve and authorize
	org, err := m.resolve(ctx, p, req.OldName)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, outcomeForRegistryError(err))
		return nil, err
	}

	// Step 3: new collection identifier
	newCollectionID, err := slug.Generate(newName)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeRejected)
		return nil, err
	}

	var email, passwordHash *string
	if req.NewEmail != nil {
		e := strings.TrimSpace(*req.NewEmail)
		if e == "" {
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeRejected)
			return nil, fmt.Errorf("%w: email must not be empty", ErrInvalidInput)
		}
		email = &e
	}
	if req.NewPassword != nil {
		if *req.NewPassword == "" {
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeRejected)
			return nil, fmt.Errorf("%w: password must not be empty", ErrInvalidInput)
		}
		h, err := m.hasher.Hash(*req.NewPassword)
		if err != nil {
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeFailed)
			return nil, err
		}
		passwordHash = &h
	}

	// Cheap pre-check so an obviously taken name never moves data. The registry
	// constraint in step 5 stays authoritative.
	if !strings.EqualFold(newName, org.Name) {
		other, err := m.registry.FindOrganizationByName(ctx, newName)
		switch {
		case err == nil && other.ID != org.ID:
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeRejected)
			return nil, fmt.Errorf("%w: %s", repositories.ErrDuplicateName, newName)
		case err != nil && !errors.Is(err, repositories.ErrNotFound):
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeFailed)
			return nil, err
		}
	}

	// Step 4: migrate the collection. "Acme Corp" -> "ACME Corp" keeps its identifier.
	migrated := newCollectionID != org.CollectionID
	if migrated {
		if err := m.migrateCollection(ctx, org.CollectionID, newCollectionID); err != nil {
			slog.Warn("collection migration failed, registry unchanged",
				"workflow", telemetry.WorkflowUpdate, "step", "rename_collection",
				"organization_id", org.ID, "from", org.CollectionID, "to", newCollectionID, "error", err)
			if errors.Is(err, collections.ErrCollectionExists) {
				telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeRejected)
				return nil, fmt.Errorf("%w: %w", repositories.ErrDuplicateName, err)
			}
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeFailed)
			return nil, err
		}
	}

	// Step 5: registry, name and credentials in one transaction
	tenant, err := m.registry.UpdateTenant(ctx, models.TenantUpdate{
		OrganizationID: org.ID,
		AdminID:        org.AdminID,
		Name:           newName,
		CollectionID:   newCollectionID,
		Email:          email,
		PasswordHash:   passwordHash,
	})
	if err != nil {
		if !migrated {
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, outcomeForRegistryError(err))
			return nil, err
		}

		slog.Error("registry update failed after collection migration, renaming collection back",
			"workflow", telemetry.WorkflowUpdate, "step", "update_registry",
			"organization_id", org.ID, "collection_id", newCollectionID, "error", err)

		compErr := m.migrateCollection(ctx, newCollectionID, org.CollectionID)
		telemetry.ObserveCompensation(telemetry.WorkflowUpdate, compErr)
		if compErr != nil {
			m.logInconsistent(telemetry.WorkflowUpdate, "rename_collection_back", org.ID, newCollectionID, err, compErr)
			telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeInconsistent)
			return nil, fmt.Errorf("%w: organization %s expects collection %s but data is in %s: %w (compensation: %w)",
				ErrInconsistentState, org.ID, org.CollectionID, newCollectionID, err, compErr)
		}
		telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeCompensated)
		return nil, err
	}

	slog.Info("tenant updated", "organization_id", org.ID,
		"old_name", org.Name, "new_name", tenant.Organization.Name,
		"collection_id", tenant.Organization.CollectionID, "migrated", migrated)
	telemetry.ObserveWorkflow(telemetry.WorkflowUpdate, telemetry.OutcomeSuccess)
	return tenant, nil
}

func (m *TenantManager) migrateCollection(ctx context.Context, from, to string) error {
	start := time.Now()
	err := m.store.RenameCollection(ctx, from, to)
	telemetry.CollectionMigrationDuration.Observe(time.Since(start).Seconds())
	return err
}
