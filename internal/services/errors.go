package services

import "errors"

// Lifecycle errors. Causes from the registry, the collection store and the
// credential store stay in the chain, so callers match with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrTenantProvisioning = errors.New("tenant provisioning failed")
	ErrArchiveFailed      = errors.New("collection archive failed")
	// ErrDropFailed means the collection could not be dropped. Nothing was deleted.
	ErrDropFailed = errors.New("collection drop failed")
	// ErrPartialDelete means the collection is gone but the registry record
	// remains. Retrying the delete completes it.
	ErrPartialDelete = errors.New("partial delete: collection dropped, metadata remains")
	// ErrInconsistentState means a compensation failed. It is never retried
	// automatically and needs an operator.
	ErrInconsistentState = errors.New("inconsistent tenant state")
)
