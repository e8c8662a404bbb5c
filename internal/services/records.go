package services

import (
	"context"
	"errors"

	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/db/models"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
)

// MaxRecordPage caps how many records ListRecords returns at once
const MaxRecordPage = 500

// AppendRecord stores data in the collection of the caller's organization.
// The collection comes from the registry entry named by the token, never from input.
func (m *TenantManager) AppendRecord(ctx context.Context, p Principal, data map[string]any) (*collections.Record, error) {
	org, err := m.principalOrganization(ctx, p)
	if err != nil {
		return nil, err
	}
	return m.store.InsertRecord(ctx, org.CollectionID, data)
}

// ListRecords pages through the caller's collection, oldest first.
func (m *TenantManager) ListRecords(ctx context.Context, p Principal, limit, offset int) ([]collections.Record, error) {
	org, err := m.principalOrganization(ctx, p)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxRecordPage {
		limit = MaxRecordPage
	}
	return m.store.ListRecords(ctx, org.CollectionID, limit, max(offset, 0))
}

func (m *TenantManager) principalOrganization(ctx context.Context, p Principal) (*models.Organization, error) {
	if p.OrganizationID == "" {
		return nil, ErrForbidden
	}
	org, err := m.registry.FindOrganizationByID(ctx, p.OrganizationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// the token outlived its organization
			return nil, ErrForbidden
		}
		return nil, err
	}
	return org, nil
}
