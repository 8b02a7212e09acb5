package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/radelqui/tito-ledger/internal/config"
	"github.com/radelqui/tito-ledger/internal/ledger"
	"github.com/radelqui/tito-ledger/internal/model"
	"github.com/radelqui/tito-ledger/internal/utils"
)

// AuthHandler bundles dependencies for operator session endpoints.
type AuthHandler struct {
	Cfg   config.Config
	Store *ledger.Store
}

func NewAuthHandler(cfg config.Config, store *ledger.Store) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Store: store}
}

// ----- DTOs -----

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	Token    string    `json:"token"`
	Expires  time.Time `json:"expires"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
}

type createOperatorReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"` // MESA | CAJA | ADMIN
}

// Login verifies an operator's credentials and returns a signed access
// token. Failed attempts land in the audit trail with the attempted
// username.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	op, err := h.Store.GetOperatorByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			h.auditLoginFailure(ctx, req.Username)
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	if !op.IsActive || !utils.VerifyPassword(op.PasswordHash, req.Password) {
		h.auditLoginFailure(ctx, req.Username)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, op.ID, op.Username, op.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}

	_ = h.Store.AddAudit(ctx, ledger.AuditLogin, nil, &op.Username, "operator logged in")
	return c.JSON(http.StatusOK, loginResp{
		Token:    access.Token,
		Expires:  access.Exp,
		Username: op.Username,
		Role:     op.Role,
	})
}

func (h *AuthHandler) auditLoginFailure(ctx context.Context, username string) {
	_ = h.Store.AddAudit(ctx, ledger.AuditLoginFailed, nil, &username, "login rejected")
}

// Me returns the authenticated operator's identity from the verified
// token claims.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"username": c.Get("username"),
		"role":     c.Get("role"),
	})
}

// CreateOperator registers a new operator account. Admin only; the
// role middleware enforces that before this handler runs.
func (h *AuthHandler) CreateOperator(c echo.Context) error {
	var req createOperatorReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Role = strings.ToUpper(strings.TrimSpace(req.Role))
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}
	if !model.ValidRole(req.Role) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be MESA, CAJA or ADMIN"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Store.CreateOperator(ctx, req.Username, req.Password, req.Role, h.Cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, ledger.ErrUsernameExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create operator failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id, "username": req.Username, "role": req.Role})
}
