package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radelqui/tito-ledger/internal/config"
	"github.com/radelqui/tito-ledger/internal/ledger"
	"github.com/radelqui/tito-ledger/internal/model"
)

func newAuthHandler(t *testing.T) *AuthHandler {
	t.Helper()
	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{
		JWTSecret:    "auth-test-secret",
		AccessTTLMin: 60,
		BcryptCost:   4, // minimum cost, keeps the tests fast
	}
	return NewAuthHandler(cfg, store)
}

func addOperator(t *testing.T, h *AuthHandler, username, password, role string) {
	t.Helper()
	_, err := h.Store.CreateOperator(context.Background(), username, password, role, h.Cfg.BcryptCost)
	require.NoError(t, err)
}

func TestLoginIssuesToken(t *testing.T) {
	h := newAuthHandler(t)
	addOperator(t, h, "caja01", "s3cret", model.RoleCaja)

	var resp loginResp
	rec := doJSON(t, h.Login, http.MethodPost, "/v1/auth/login", `{"username":"CAJA01","password":"s3cret"}`, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "caja01", resp.Username)
	assert.Equal(t, model.RoleCaja, resp.Role)

	tok, err := jwt.Parse(resp.Token, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.Cfg.JWTSecret), nil
	})
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	assert.Equal(t, "caja01", claims["username"])
	assert.Equal(t, model.RoleCaja, claims["role"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newAuthHandler(t)
	addOperator(t, h, "mesa01", "correct", model.RoleMesa)

	cases := []struct {
		name string
		body string
	}{
		{"wrong password", `{"username":"mesa01","password":"wrong"}`},
		{"unknown user", `{"username":"ghost","password":"whatever"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h.Login, http.MethodPost, "/v1/auth/login", tc.body, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	// Both failures are in the audit trail.
	events, err := h.Store.ListAudit(context.Background(), ledger.AuditFilter{Kind: ledger.AuditLoginFailed})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCreateOperator(t *testing.T) {
	h := newAuthHandler(t)

	var resp map[string]any
	body := `{"username":"Mesa02","password":"pw","role":"mesa"}`
	rec := doJSON(t, h.CreateOperator, http.MethodPost, "/v1/operators", body, &resp)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "mesa02", resp["username"])
	assert.Equal(t, model.RoleMesa, resp["role"])

	// Same username again conflicts.
	rec = doJSON(t, h.CreateOperator, http.MethodPost, "/v1/operators", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h.CreateOperator, http.MethodPost, "/v1/operators", `{"username":"x","password":"pw","role":"BOSS"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeedAdminThenLogin(t *testing.T) {
	h := newAuthHandler(t)
	require.NoError(t, h.Store.SeedAdmin(context.Background(), "admin", "bootstrap", h.Cfg.BcryptCost))

	var resp loginResp
	rec := doJSON(t, h.Login, http.MethodPost, "/v1/auth/login", `{"username":"admin","password":"bootstrap"}`, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RoleAdmin, resp.Role)

	// Seeding is a no-op once any operator exists.
	require.NoError(t, h.Store.SeedAdmin(context.Background(), "admin2", "other", h.Cfg.BcryptCost))
	rec = doJSON(t, h.Login, http.MethodPost, "/v1/auth/login", `{"username":"admin2","password":"other"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
