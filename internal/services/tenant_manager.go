// Package services implements the tenant lifecycle workflows. Each workflow spans the
// metadata registry and the collection store, which share no transaction, so every
// step that can fail after an earlier side effect has a named compensation.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tenant-service/tenant-service/internal/auth"
	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/db/models"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
	"github.com/tenant-service/tenant-service/internal/slug"
	"github.com/tenant-service/tenant-service/internal/telemetry"
)

// Registry is the metadata store the workflows coordinate with.
// *repositories.RegistryRepository implements it.
type Registry interface {
	Ping(ctx context.Context) error
	CreateOrganization(ctx context.Context, name, adminEmail, passwordHash, collectionID string) (*models.Tenant, error)
	FindOrganizationByName(ctx context.Context, name string) (*models.Organization, error)
	FindOrganizationByID(ctx context.Context, id string) (*models.Organization, error)
	FindAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
	FindAdminByID(ctx context.Context, id string) (*models.Admin, error)
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
	UpdateTenant(ctx context.Context, u models.TenantUpdate) (*models.Tenant, error)
	DeleteOrganization(ctx context.Context, orgID string) error
}

// Archiver exports a collection before it is dropped and returns where it went.
type Archiver interface {
	ArchiveCollection(ctx context.Context, collectionID string, records []collections.Record) (string, error)
}

// Principal is the caller identity taken from a verified access token.
type Principal struct {
	AdminID        string
	OrganizationID string
}

// TenantManager runs the create, get, update and delete workflows
type TenantManager struct {
	registry Registry
	store    collections.Store
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenService
	tokenTTL time.Duration
	archiver Archiver

	dummyOnce sync.Once
	dummyHash string
}

// NewTenantManager creates a tenant manager
func NewTenantManager(registry Registry, store collections.Store, hasher *auth.PasswordHasher, tokens *auth.TokenService, tokenTTL time.Duration) *TenantManager {
	return &TenantManager{
		registry: registry,
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		tokenTTL: tokenTTL,
	}
}

// WithArchiver enables archive-before-drop on Delete
func (m *TenantManager) WithArchiver(a Archiver) *TenantManager {
	m.archiver = a
	return m
}

// CreateRequest carries the already structurally validated input of Create.
type CreateRequest struct {
	Name     string
	Email    string
	Password string
}

// Create provisions a tenant: registry record first, collection second.
// If the collection cannot be created the registry record is deleted again.
func (m *TenantManager) Create(ctx context.Context, req CreateRequest) (*models.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		telemetry.ObserveWorkflow(telemetry.WorkflowCreate, telemetry.OutcomeRejected)
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	// Step 1: collection identifier
	collectionID, err := slug.Generate(name)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowCreate, telemetry.OutcomeRejected)
		return nil, err
	}

	// Step 2: hash
	hash, err := m.hasher.Hash(req.Password)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowCreate, telemetry.OutcomeFailed)
		return nil, err
	}

	// Step 3: registry, the only uniqueness check that counts
	tenant, err := m.registry.CreateOrganization(ctx, name, email, hash, collectionID)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowCreate, outcomeForRegistryError(err))
		return nil, err
	}

	// Step 4: collection. The registry now owns collectionID, so an existing
	// collection under it is a leftover nobody references; adopting it would
	// hand its records to the new tenant.
	if err := m.provisionCollection(ctx, collectionID); err != nil {
		slog.Error("collection provisioning failed, removing registry record",
			"workflow", telemetry.WorkflowCreate, "step", "create_collection",
			"organization_id", tenant.Organization.ID, "collection_id", collectionID, "error", err)

		compErr := m.registry.DeleteOrganization(ctx, tenant.Organization.ID)
		telemetry.ObserveCompensation(telemetry.WorkflowCreate, compErr)
		if compErr != nil {
			m.logInconsistent(telemetry.WorkflowCreate, "delete_organization", tenant.Organization.ID, collectionID, err, compErr)
			telemetry.ObserveWorkflow(telemetry.WorkflowCreate, telemetry.OutcomeInconsistent)
			return nil, fmt.Errorf("%w: organization %s has no collection: %w (compensation: %w)",
				ErrInconsistentState, tenant.Organization.ID, err, compErr)
		}
		telemetry.ObserveWorkflow(telemetry.WorkflowCreate, telemetry.OutcomeCompensated)
		return nil, fmt.Errorf("%w: %w", ErrTenantProvisioning, err)
	}

	slog.Info("tenant created", "organization_id", tenant.Organization.ID,
		"organization_name", tenant.Organization.Name, "collection_id", collectionID)
	telemetry.ObserveWorkflow(telemetry.WorkflowCreate, telemetry.OutcomeSuccess)
	return tenant, nil
}

func (m *TenantManager) provisionCollection(ctx context.Context, collectionID string) error {
	exists, err := m.store.CollectionExists(ctx, collectionID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("orphaned collection %s: %w", collectionID, collections.ErrCollectionExists)
	}
	return m.store.CreateCollection(ctx, collectionID)
}

// Get looks an organization up by name. Metadata alone answers it.
func (m *TenantManager) Get(ctx context.Context, name string) (*models.Organization, error) {
	return m.registry.FindOrganizationByName(ctx, strings.TrimSpace(name))
}

// Describe is Get plus the organization's admin. A missing admin row leaves
// Admin zero valued rather than failing the lookup.
func (m *TenantManager) Describe(ctx context.Context, name string) (*models.Tenant, error) {
	org, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	tenant := &models.Tenant{Organization: *org}
	admin, err := m.registry.FindAdminByID(ctx, org.AdminID)
	switch {
	case err == nil:
		tenant.Admin = *admin
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, err
	default:
		slog.Warn("organization has no admin", "organization_id", org.ID, "admin_id", org.AdminID)
	}
	return tenant, nil
}

// resolve finds the organization named name and checks that the caller owns it.
// A name the caller cannot see is reported as ErrForbidden while the caller's own
// organization exists, so a token never reveals which other names are taken.
func (m *TenantManager) resolve(ctx context.Context, p Principal, name string) (*models.Organization, error) {
	org, err := m.registry.FindOrganizationByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
		if _, ownErr := m.registry.FindOrganizationByID(ctx, p.OrganizationID); ownErr == nil {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if err := authorize(p, org); err != nil {
		return nil, err
	}
	return org, nil
}

// authorize compares the token scope with the resolved organization. Client
// supplied organization identifiers are never consulted.
func authorize(p Principal, org *models.Organization) error {
	if p.OrganizationID == "" || p.OrganizationID != org.ID {
		return ErrForbidden
	}
	return nil
}

func (m *TenantManager) logInconsistent(workflow, step, orgID, collectionID string, cause, compErr error) {
	slog.Error("compensation failed, tenant state is inconsistent",
		"workflow", workflow, "step", step,
		"organization_id", orgID, "collection_id", collectionID,
		"error", cause, "compensation_error", compErr,
		"fatal_for_request", true)
}

func outcomeForRegistryError(err error) string {
	switch {
	case errors.Is(err, repositories.ErrDuplicateName),
		errors.Is(err, repositories.ErrDuplicateEmail),
		errors.Is(err, repositories.ErrNotFound),
		errors.Is(err, ErrForbidden):
		return telemetry.OutcomeRejected
	default:
		return telemetry.OutcomeFailed
	}
}
