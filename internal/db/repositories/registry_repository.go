// registry_repository.go implements RegistryRepository, the master store for organizations
// and their admins. Uniqueness of organization names and admin emails is enforced by unique
// indexes on the lower-cased values; violations are translated into ErrDuplicateName and
// ErrDuplicateEmail rather than checked with a read before the write.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tenant-service/tenant-service/internal/db/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateName  = errors.New("organization name already exists")
	ErrDuplicateEmail = errors.New("admin email already exists")
)

// Unique index names from migrations/000001_create_registry.up.sql
const (
	constraintOrgName         = "organizations_name_lower_key"
	constraintOrgCollectionID = "organizations_collection_id_key"
	constraintAdminEmail      = "admins_email_lower_key"

	pqUniqueViolation = "23505"
)

const (
	organizationColumns = `id, name, collection_id, admin_id, created_at, updated_at`
	adminColumns        = `id, email, password_hash, organization_id, created_at, updated_at`
)

// RegistryRepository handles database operations for organizations and admins
type RegistryRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRegistryRepository creates a new registry repository
func NewRegistryRepository(db *sqlx.DB) *RegistryRepository {
	return &RegistryRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks that the registry database is reachable
func (r *RegistryRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateOrganization inserts an organization and its admin in one transaction.
func (r *RegistryRepository) CreateOrganization(ctx context.Context, name, adminEmail, passwordHash, collectionID string) (*models.Tenant, error) {
	now := r.now()
	tenant := &models.Tenant{
		Organization: models.Organization{
			ID:           uuid.NewString(),
			Name:         name,
			CollectionID: collectionID,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Admin: models.Admin{
			ID:           uuid.NewString(),
			Email:        adminEmail,
			PasswordHash: passwordHash,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
	tenant.Organization.AdminID = tenant.Admin.ID
	tenant.Admin.OrganizationID = tenant.Organization.ID

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, collection_id, admin_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tenant.Organization.ID, name, collectionID, tenant.Admin.ID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", translateUniqueViolation(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO admins (id, email, password_hash, organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tenant.Admin.ID, adminEmail, passwordHash, tenant.Organization.ID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", translateUniqueViolation(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit organization: %w", translateUniqueViolation(err))
	}
	return tenant, nil
}

// FindOrganizationByName looks an organization up by name, ignoring case
func (r *RegistryRepository) FindOrganizationByName(ctx context.Context, name string) (*models.Organization, error) {
	return r.getOrganization(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE LOWER(name) = LOWER($1)`, name)
}

// FindOrganizationByID looks an organization up by id
func (r *RegistryRepository) FindOrganizationByID(ctx context.Context, id string) (*models.Organization, error) {
	return r.getOrganization(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id)
}

func (r *RegistryRepository) getOrganization(ctx context.Context, query string, arg string) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// FindAdminByEmail looks an admin up by email, ignoring case
func (r *RegistryRepository) FindAdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return r.getAdmin(ctx, `SELECT `+adminColumns+` FROM admins WHERE LOWER(email) = LOWER($1)`, email)
}

// FindAdminByID looks an admin up by id
func (r *RegistryRepository) FindAdminByID(ctx context.Context, id string) (*models.Admin, error) {
	return r.getAdmin(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id)
}

func (r *RegistryRepository) getAdmin(ctx context.Context, query string, arg string) (*models.Admin, error) {
	var admin models.Admin
	if err := r.db.GetContext(ctx, &admin, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &admin, nil
}

// ListOrganizations returns every organization ordered by name
func (r *RegistryRepository) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	var orgs []*models.Organization
	err := r.db.SelectContext(ctx, &orgs, `SELECT `+organizationColumns+` FROM organizations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

// RenameOrganization updates the name and collection identifier of an organization
func (r *RegistryRepository) RenameOrganization(ctx context.Context, orgID, newName, newCollectionID string) (*models.Organization, error) {
	return renameOrganization(ctx, r.db, orgID, newName, newCollectionID, r.now())
}

// UpdateAdminCredentials changes the email and/or password hash of an admin.
// Nil arguments keep the stored value.
func (r *RegistryRepository) UpdateAdminCredentials(ctx context.Context, adminID string, newEmail, newPasswordHash *string) (*models.Admin, error) {
	return updateAdminCredentials(ctx, r.db, adminID, newEmail, newPasswordHash, r.now())
}

// UpdateTenant renames the organization and updates its admin credentials
// in a single transaction, so a failure leaves neither change applied.
func (r *RegistryRepository) UpdateTenant(ctx context.Context, u models.TenantUpdate) (*models.Tenant, error) {
	now := r.now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	org, err := renameOrganization(ctx, tx, u.OrganizationID, u.Name, u.CollectionID, now)
	if err != nil {
		return nil, err
	}

	admin, err := updateAdminCredentials(ctx, tx, u.AdminID, u.Email, u.PasswordHash, now)
	if err != nil {
		return nil, err
	}
	if admin.OrganizationID != org.ID {
		return nil, fmt.Errorf("admin %s does not belong to organization %s", admin.ID, org.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tenant update: %w", translateUniqueViolation(err))
	}
	return &models.Tenant{Organization: *org, Admin: *admin}, nil
}

// DeleteOrganization removes an organization and its admins together
func (r *RegistryRepository) DeleteOrganization(ctx context.Context, orgID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM admins WHERE organization_id = $1`, orgID); err != nil {
		return fmt.Errorf("failed to delete admins: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit organization delete: %w", err)
	}
	return nil
}

func renameOrganization(ctx context.Context, q sqlx.QueryerContext, orgID, newName, newCollectionID string, now time.Time) (*models.Organization, error) {
	var org models.Organization
	err := sqlx.GetContext(ctx, q, &org, `
		UPDATE organizations
		SET name = $1, collection_id = $2, updated_at = $3
		WHERE id = $4
		RETURNING `+organizationColumns,
		newName, newCollectionID, now, orgID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to rename organization: %w", translateUniqueViolation(err))
	}
	return &org, nil
}

func updateAdminCredentials(ctx context.Context, q sqlx.QueryerContext, adminID string, newEmail, newPasswordHash *string, now time.Time) (*models.Admin, error) {
	var admin models.Admin
	err := sqlx.GetContext(ctx, q, &admin, `
		UPDATE admins
		SET email = COALESCE($1, email),
			password_hash = COALESCE($2, password_hash),
			updated_at = $3
		WHERE id = $4
		RETURNING `+adminColumns,
		newEmail, newPasswordHash, now, adminID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update admin credentials: %w", translateUniqueViolation(err))
	}
	return &admin, nil
}

// translateUniqueViolation maps a unique index violation onto the registry's
// conflict errors. Other errors are returned unchanged.
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintOrgName, constraintOrgCollectionID:
		return fmt.Errorf("%w: %w", ErrDuplicateName, err)
	case constraintAdminEmail:
		return fmt.Errorf("%w: %w", ErrDuplicateEmail, err)
	default:
		return err
	}
}
