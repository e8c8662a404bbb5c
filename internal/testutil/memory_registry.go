// Package testutil provides in-process fakes for tests that exercise the
// lifecycle workflows without a Postgres registry.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tenant-service/tenant-service/internal/db/models"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
)

// MemoryRegistry mirrors the uniqueness rules of the Postgres registry:
// organization names and admin emails compare case-insensitively and
// collection identifiers are unique.
//
// The Fail* hooks, when set, are consulted before the matching operation and
// their error is returned instead of performing it.
type MemoryRegistry struct {
	mu     sync.Mutex
	orgs   map[string]models.Organization
	admins map[string]models.Admin

	FailCreate func(name string) error
	FailUpdate func(u models.TenantUpdate) error
	FailDelete func(orgID string) error
	FailFind   func(name string) error
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		orgs:   make(map[string]models.Organization),
		admins: make(map[string]models.Admin),
	}
}

func (r *MemoryRegistry) Ping(context.Context) error { return nil }

func (r *MemoryRegistry) CreateOrganization(_ context.Context, name, adminEmail, passwordHash, collectionID string) (*models.Tenant, error) {
	if r.FailCreate != nil {
		if err := r.FailCreate(name); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUniqueLocked("", name, collectionID); err != nil {
		return nil, err
	}
	if err := r.checkEmailLocked("", adminEmail); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	org := models.Organization{
		ID:           uuid.NewString(),
		Name:         name,
		CollectionID: collectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	admin := models.Admin{
		ID:             uuid.NewString(),
		Email:          adminEmail,
		PasswordHash:   passwordHash,
		OrganizationID: org.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	org.AdminID = admin.ID

	r.orgs[org.ID] = org
	r.admins[admin.ID] = admin
	return &models.Tenant{Organization: org, Admin: admin}, nil
}

func (r *MemoryRegistry) FindOrganizationByName(_ context.Context, name string) (*models.Organization, error) {
	if r.FailFind != nil {
		if err := r.FailFind(name); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, org := range r.orgs {
		if strings.EqualFold(org.Name, name) {
			return &org, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *MemoryRegistry) FindOrganizationByID(_ context.Context, id string) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.orgs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &org, nil
}

func (r *MemoryRegistry) FindAdminByEmail(_ context.Context, email string) (*models.Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, admin := range r.admins {
		if strings.EqualFold(admin.Email, email) {
			return &admin, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *MemoryRegistry) FindAdminByID(_ context.Context, id string) (*models.Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	admin, ok := r.admins[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &admin, nil
}

func (r *MemoryRegistry) ListOrganizations(context.Context) ([]*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Organization, 0, len(r.orgs))
	for _, org := range r.orgs {
		out = append(out, &org)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (r *MemoryRegistry) UpdateTenant(_ context.Context, u models.TenantUpdate) (*models.Tenant, error) {
	if r.FailUpdate != nil {
		if err := r.FailUpdate(u); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	org, ok := r.orgs[u.OrganizationID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	admin, ok := r.admins[u.AdminID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if admin.OrganizationID != org.ID {
		return nil, fmt.Errorf("admin %s does not belong to organization %s", admin.ID, org.ID)
	}
	if err := r.checkUniqueLocked(org.ID, u.Name, u.CollectionID); err != nil {
		return nil, err
	}
	if u.Email != nil {
		if err := r.checkEmailLocked(admin.ID, *u.Email); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	org.Name = u.Name
	org.CollectionID = u.CollectionID
	org.UpdatedAt = now
	if u.Email != nil {
		admin.Email = *u.Email
	}
	if u.PasswordHash != nil {
		admin.PasswordHash = *u.PasswordHash
	}
	admin.UpdatedAt = now

	r.orgs[org.ID] = org
	r.admins[admin.ID] = admin
	return &models.Tenant{Organization: org, Admin: admin}, nil
}

func (r *MemoryRegistry) DeleteOrganization(_ context.Context, orgID string) error {
	if r.FailDelete != nil {
		if err := r.FailDelete(orgID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orgs[orgID]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.orgs, orgID)
	for id, admin := range r.admins {
		if admin.OrganizationID == orgID {
			delete(r.admins, id)
		}
	}
	return nil
}

// Len returns the number of organizations
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orgs)
}

func (r *MemoryRegistry) checkUniqueLocked(selfID, name, collectionID string) error {
	for id, org := range r.orgs {
		if id == selfID {
			continue
		}
		if strings.EqualFold(org.Name, name) || org.CollectionID == collectionID {
			return fmt.Errorf("%w: %s", repositories.ErrDuplicateName, name)
		}
	}
	return nil
}

func (r *MemoryRegistry) checkEmailLocked(selfID, email string) error {
	for id, admin := range r.admins {
		if id != selfID && strings.EqualFold(admin.Email, email) {
			return fmt.Errorf("%w: %s", repositories.ErrDuplicateEmail, email)
		}
	}
	return nil
}
