package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/scriba/internal/interfaces"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("test-secret", time.Hour)
	require.NoError(t, err)
	return svc
}

func TestIssueAndValidateToken(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.IssueToken("alice", false)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Owner)
	assert.False(t, claims.Admin)
	assert.Equal(t, "alice", claims.EventScope())
}

func TestAdminEventScope(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.IssueToken("root", true)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OwnerAll, claims.EventScope())
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := newTestService(t)
	other, err := NewService("other-secret", time.Hour)
	require.NoError(t, err)

	token, err := other.IssueToken("alice", false)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc, err := NewService("test-secret", -time.Minute)
	require.NoError(t, err)
	// Negative expiry falls back to the default, so build a service whose
	// clock already passed the expiry instead
	svc.tokenExpiry = -time.Minute

	token, err := svc.IssueToken("alice", false)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateFromHeader(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.IssueToken("alice", false)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/jobs/job_1", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	claims, err := svc.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Owner)
}

func TestAuthenticateFromQueryParam(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.IssueToken("alice", false)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/events?token="+token, nil)

	claims, err := svc.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Owner)
}

func TestAuthenticateMissingCredential(t *testing.T) {
	svc := newTestService(t)

	r := httptest.NewRequest("GET", "/api/jobs/job_1", nil)
	_, err := svc.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateMalformedHeader(t *testing.T) {
	svc := newTestService(t)

	r := httptest.NewRequest("GET", "/api/jobs/job_1", nil)
	r.Header.Set("Authorization", "Basic abc123")
	_, err := svc.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
