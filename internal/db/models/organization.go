// Package models - organization.go defines the registry records for a tenant: the
// Organization, its single Admin, and the pair returned by lifecycle workflows.
package models

import "time"

// Organization is the master record of a tenant.
// CollectionID is derived from Name at creation and stored independently afterwards.
type Organization struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"organization_name"`
	CollectionID string    `db:"collection_id" json:"collection_name"`
	AdminID      string    `db:"admin_id" json:"admin_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Admin is the credential holder of an organization.
type Admin struct {
	ID             string    `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	PasswordHash   string    `db:"password_hash" json:"-"` // Never expose
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Tenant is an Organization together with its Admin.
type Tenant struct {
	Organization Organization
	Admin        Admin
}

// TenantUpdate is applied to the registry in a single transaction.
// Name and CollectionID are always written; Email and PasswordHash only when non-nil.
type TenantUpdate struct {
	OrganizationID string
	AdminID        string
	Name           string
	CollectionID   string
	Email          *string
	PasswordHash   *string
}
