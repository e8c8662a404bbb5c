package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tenant-service/tenant-service/internal/auth"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
	"github.com/tenant-service/tenant-service/internal/telemetry"
)

// TokenType is the only token type issued
const TokenType = "bearer"

// LoginResult is returned by a successful login
type LoginResult struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	AdminID          string    `json:"admin_id"`
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	Email            string    `json:"email"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Login checks an admin's password and issues a token scoped to the admin's
// organization. Unknown emails and wrong passwords both yield
// auth.ErrInvalidCredentials.
func (m *TenantManager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	admin, err := m.registry.FindAdminByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// spend the same bcrypt time as a real check
			_, _ = m.hasher.Verify(password, m.timingHash())
			telemetry.ObserveWorkflow(telemetry.WorkflowLogin, telemetry.OutcomeRejected)
			return nil, auth.ErrInvalidCredentials
		}
		telemetry.ObserveWorkflow(telemetry.WorkflowLogin, telemetry.OutcomeFailed)
		return nil, err
	}

	ok, err := m.hasher.Verify(password, admin.PasswordHash)
	if err != nil {
		slog.Error("stored credential is unusable", "admin_id", admin.ID, "error", err)
		telemetry.ObserveWorkflow(telemetry.WorkflowLogin, telemetry.OutcomeFailed)
		return nil, err
	}
	if !ok {
		telemetry.ObserveWorkflow(telemetry.WorkflowLogin, telemetry.OutcomeRejected)
		return nil, auth.ErrInvalidCredentials
	}

	org, err := m.registry.FindOrganizationByID(ctx, admin.OrganizationID)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowLogin, outcomeForRegistryError(err))
		return nil, fmt.Errorf("failed to load organization of admin %s: %w", admin.ID, err)
	}

	token, expiresAt, err := m.tokens.IssueToken(admin.ID, org.ID, m.tokenTTL)
	if err != nil {
		telemetry.ObserveWorkflow(telemetry.WorkflowLogin, telemetry.OutcomeFailed)
		return nil, err
	}

	telemetry.ObserveWorkflow(telemetry.WorkflowLogin, telemetry.OutcomeSuccess)
	return &LoginResult{
		AccessToken:      token,
		TokenType:        TokenType,
		AdminID:          admin.ID,
		OrganizationID:   org.ID,
		OrganizationName: org.Name,
		Email:            admin.Email,
		ExpiresAt:        expiresAt,
	}, nil
}

// Authenticate verifies a bearer token and returns the caller it names
func (m *TenantManager) Authenticate(token string) (*Principal, error) {
	claims, err := m.tokens.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return &Principal{AdminID: claims.SubjectID(), OrganizationID: claims.OrganizationID}, nil
}

func (m *TenantManager) timingHash() string {
	m.dummyOnce.Do(func() {
		h, err := m.hasher.Hash("not-a-real-password")
		if err != nil {
			slog.Warn("failed to prepare timing hash", "error", err)
			return
		}
		m.dummyHash = h
	})
	return m.dummyHash
}
