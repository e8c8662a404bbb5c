package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tenant-service/tenant-service/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var errDB = errors.New("db error")

var orgCols = []string{"id", "name", "collection_id", "admin_id", "created_at", "updated_at"}
var adminCols = []string{"id", "email", "password_hash", "organization_id", "created_at", "updated_at"}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleOrgRow() *sqlmock.Rows {
	return sqlmock.NewRows(orgCols).
		AddRow("org-1", "Acme Corp", "org_acme_corp", "admin-1", fixedNow, fixedNow)
}

func sampleAdminRow() *sqlmock.Rows {
	return sqlmock.NewRows(adminCols).
		AddRow("admin-1", "a@x.com", "$2a$04$hash", "org-1", fixedNow, fixedNow)
}

func newRegistryRepo(t *testing.T) (*RegistryRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := NewRegistryRepository(sqlx.NewDb(db, "sqlmock"))
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: pqUniqueViolation, Constraint: constraint, Message: "duplicate key value violates unique constraint"}
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// CreateOrganization
// ---------------------------------------------------------------------------

func TestCreateOrganization_Success(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").
		WithArgs(sqlmock.AnyArg(), "Acme Corp", "org_acme_corp", sqlmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO admins").
		WithArgs(sqlmock.AnyArg(), "a@x.com", "hash", sqlmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tenant, err := repo.CreateOrganization(context.Background(), "Acme Corp", "a@x.com", "hash", "org_acme_corp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant.Organization.ID == "" || tenant.Admin.ID == "" {
		t.Fatal("expected generated ids")
	}
	if tenant.Organization.AdminID != tenant.Admin.ID || tenant.Admin.OrganizationID != tenant.Organization.ID {
		t.Errorf("cross references mismatch: org=%+v admin=%+v", tenant.Organization, tenant.Admin)
	}
	if !tenant.Organization.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", tenant.Organization.CreatedAt, fixedNow)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateOrganization_DuplicateName(t *testing.T) {
	for _, constraint := range []string{constraintOrgName, constraintOrgCollectionID} {
		t.Run(constraint, func(t *testing.T) {
			repo, mock := newRegistryRepo(t)
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO organizations").WillReturnError(uniqueViolation(constraint))
			mock.ExpectRollback()

			_, err := repo.CreateOrganization(context.Background(), "Acme Corp", "a@x.com", "hash", "org_acme_corp")
			if !errors.Is(err, ErrDuplicateName) {
				t.Errorf("error = %v, want ErrDuplicateName", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestCreateOrganization_DuplicateEmail(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO admins").WillReturnError(uniqueViolation(constraintAdminEmail))
	mock.ExpectRollback()

	_, err := repo.CreateOrganization(context.Background(), "Acme Corp", "a@x.com", "hash", "org_acme_corp")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("error = %v, want ErrDuplicateEmail", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateOrganization_OtherErrorsPassThrough(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").WillReturnError(errDB)
	mock.ExpectRollback()

	_, err := repo.CreateOrganization(context.Background(), "Acme Corp", "a@x.com", "hash", "org_acme_corp")
	if !errors.Is(err, errDB) {
		t.Errorf("error = %v, want errDB", err)
	}
	if errors.Is(err, ErrDuplicateName) || errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("error = %v should not be a conflict", err)
	}
}

func TestCreateOrganization_BeginError(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin().WillReturnError(errDB)

	if _, err := repo.CreateOrganization(context.Background(), "Acme Corp", "a@x.com", "hash", "org_acme_corp"); !errors.Is(err, errDB) {
		t.Errorf("error = %v, want errDB", err)
	}
}

// ---------------------------------------------------------------------------
// Finders
// ---------------------------------------------------------------------------

func TestFindOrganizationByName_Found(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("SELECT .* FROM organizations WHERE LOWER\\(name\\) = LOWER\\(\\$1\\)").
		WithArgs("ACME CORP").
		WillReturnRows(sampleOrgRow())

	org, err := repo.FindOrganizationByName(context.Background(), "ACME CORP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.Name != "Acme Corp" || org.CollectionID != "org_acme_corp" || org.AdminID != "admin-1" {
		t.Errorf("unexpected organization: %+v", org)
	}
}

func TestFindOrganizationByName_NotFound(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("SELECT .* FROM organizations").WillReturnRows(sqlmock.NewRows(orgCols))

	_, err := repo.FindOrganizationByName(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFindOrganizationByID_Error(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("SELECT .* FROM organizations WHERE id").WithArgs("org-1").WillReturnError(errDB)

	_, err := repo.FindOrganizationByID(context.Background(), "org-1")
	if !errors.Is(err, errDB) {
		t.Errorf("error = %v, want errDB", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("a driver error must not read as not found")
	}
}

func TestFindAdminByEmail(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("SELECT .* FROM admins WHERE LOWER\\(email\\)").
		WithArgs("A@X.COM").
		WillReturnRows(sampleAdminRow())

	admin, err := repo.FindAdminByEmail(context.Background(), "A@X.COM")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admin.ID != "admin-1" || admin.OrganizationID != "org-1" || admin.PasswordHash != "$2a$04$hash" {
		t.Errorf("unexpected admin: %+v", admin)
	}
}

func TestFindAdminByID_NotFound(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("SELECT .* FROM admins WHERE id").WillReturnError(sql.ErrNoRows)

	if _, err := repo.FindAdminByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListOrganizations(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("SELECT .* FROM organizations ORDER BY name").
		WillReturnRows(sampleOrgRow().AddRow("org-2", "Other Co", "org_other_co", "admin-2", fixedNow, fixedNow))

	orgs, err := repo.ListOrganizations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs) != 2 || orgs[1].CollectionID != "org_other_co" {
		t.Errorf("unexpected organizations: %+v", orgs)
	}
}

// ---------------------------------------------------------------------------
// RenameOrganization / UpdateAdminCredentials
// ---------------------------------------------------------------------------

func TestRenameOrganization_Success(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("UPDATE organizations SET name").
		WithArgs("Acme Inc", "org_acme_inc", fixedNow, "org-1").
		WillReturnRows(sqlmock.NewRows(orgCols).
			AddRow("org-1", "Acme Inc", "org_acme_inc", "admin-1", fixedNow, fixedNow))

	org, err := repo.RenameOrganization(context.Background(), "org-1", "Acme Inc", "org_acme_inc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.Name != "Acme Inc" || org.CollectionID != "org_acme_inc" {
		t.Errorf("unexpected organization: %+v", org)
	}
}

func TestRenameOrganization_Duplicate(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("UPDATE organizations").WillReturnError(uniqueViolation(constraintOrgName))

	_, err := repo.RenameOrganization(context.Background(), "org-1", "Other Co", "org_other_co")
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("error = %v, want ErrDuplicateName", err)
	}
}

func TestRenameOrganization_NotFound(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("UPDATE organizations").WillReturnRows(sqlmock.NewRows(orgCols))

	if _, err := repo.RenameOrganization(context.Background(), "gone", "X", "org_x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateAdminCredentials(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("UPDATE admins SET email = COALESCE").
		WithArgs("new@x.com", nil, fixedNow, "admin-1").
		WillReturnRows(sqlmock.NewRows(adminCols).
			AddRow("admin-1", "new@x.com", "$2a$04$hash", "org-1", fixedNow, fixedNow))

	admin, err := repo.UpdateAdminCredentials(context.Background(), "admin-1", strPtr("new@x.com"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admin.Email != "new@x.com" {
		t.Errorf("Email = %q, want new@x.com", admin.Email)
	}
}

func TestUpdateAdminCredentials_DuplicateEmail(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectQuery("UPDATE admins").WillReturnError(uniqueViolation(constraintAdminEmail))

	_, err := repo.UpdateAdminCredentials(context.Background(), "admin-1", strPtr("taken@x.com"), nil)
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("error = %v, want ErrDuplicateEmail", err)
	}
}

// ---------------------------------------------------------------------------
// UpdateTenant
// ---------------------------------------------------------------------------

func TestUpdateTenant_Success(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE organizations").
		WithArgs("Acme Inc", "org_acme_inc", fixedNow, "org-1").
		WillReturnRows(sqlmock.NewRows(orgCols).
			AddRow("org-1", "Acme Inc", "org_acme_inc", "admin-1", fixedNow, fixedNow))
	mock.ExpectQuery("UPDATE admins").
		WithArgs(nil, "newhash", fixedNow, "admin-1").
		WillReturnRows(sqlmock.NewRows(adminCols).
			AddRow("admin-1", "a@x.com", "newhash", "org-1", fixedNow, fixedNow))
	mock.ExpectCommit()

	tenant, err := repo.UpdateTenant(context.Background(), models.TenantUpdate{
		OrganizationID: "org-1",
		AdminID:        "admin-1",
		Name:           "Acme Inc",
		CollectionID:   "org_acme_inc",
		PasswordHash:   strPtr("newhash"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant.Organization.Name != "Acme Inc" || tenant.Admin.PasswordHash != "newhash" {
		t.Errorf("unexpected tenant: %+v", tenant)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateTenant_EmailConflictRollsBackRename(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE organizations").
		WillReturnRows(sqlmock.NewRows(orgCols).
			AddRow("org-1", "Acme Inc", "org_acme_inc", "admin-1", fixedNow, fixedNow))
	mock.ExpectQuery("UPDATE admins").WillReturnError(uniqueViolation(constraintAdminEmail))
	mock.ExpectRollback()

	_, err := repo.UpdateTenant(context.Background(), models.TenantUpdate{
		OrganizationID: "org-1",
		AdminID:        "admin-1",
		Name:           "Acme Inc",
		CollectionID:   "org_acme_inc",
		Email:          strPtr("taken@x.com"),
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("error = %v, want ErrDuplicateEmail", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateTenant_AdminOfOtherOrganization(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE organizations").WillReturnRows(sampleOrgRow())
	mock.ExpectQuery("UPDATE admins").
		WillReturnRows(sqlmock.NewRows(adminCols).
			AddRow("admin-9", "z@x.com", "h", "org-9", fixedNow, fixedNow))
	mock.ExpectRollback()

	_, err := repo.UpdateTenant(context.Background(), models.TenantUpdate{
		OrganizationID: "org-1", AdminID: "admin-9", Name: "Acme Corp", CollectionID: "org_acme_corp",
	})
	if err == nil {
		t.Fatal("expected error for admin outside the organization")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// ---------------------------------------------------------------------------
// DeleteOrganization
// ---------------------------------------------------------------------------

func TestDeleteOrganization_Success(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM admins WHERE organization_id").WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM organizations WHERE id").WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.DeleteOrganization(context.Background(), "org-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeleteOrganization_NotFound(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM admins").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM organizations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := repo.DeleteOrganization(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeleteOrganization_Error(t *testing.T) {
	repo, mock := newRegistryRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM admins").WillReturnError(errDB)
	mock.ExpectRollback()

	if err := repo.DeleteOrganization(context.Background(), "org-1"); !errors.Is(err, errDB) {
		t.Errorf("error = %v, want errDB", err)
	}
}

func TestTranslateUniqueViolation_UnknownConstraint(t *testing.T) {
	err := uniqueViolation("some_other_key")
	if got := translateUniqueViolation(err); got != err {
		t.Errorf("translateUniqueViolation() = %v, want the original error", got)
	}
}
