package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/radelqui/tito-ledger/internal/codec"
	"github.com/radelqui/tito-ledger/internal/model"
	"github.com/radelqui/tito-ledger/internal/utils"
)

// ErrUsernameExists is returned when creating an operator whose
// username is already taken.
var ErrUsernameExists = errors.New("operator username already exists")

// CreateOperator inserts a new operator with a bcrypt-hashed password
// and returns its id.
func (s *Store) CreateOperator(ctx context.Context, username, password, role string, cost int) (int64, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (username, password_hash, role, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)`,
		username, hash, role, codec.FormatTime(time.Now().UTC()))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return 0, ErrUsernameExists
		}
		return 0, err
	}
	return res.LastInsertId()
}

// GetOperatorByUsername fetches an operator by normalized username, or
// ErrNotFound.
func (s *Store) GetOperatorByUsername(ctx context.Context, username string) (*model.Operator, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var (
		op        model.Operator
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, is_active, created_at
		FROM operators WHERE username = ? LIMIT 1`, username).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &op.Role, &op.IsActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if op.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, err
	}
	return &op, nil
}

// SeedAdmin creates a bootstrap ADMIN account when the operators table
// is empty, so a fresh install can log in and create real accounts.
// It is a no-op once any operator exists.
func (s *Store) SeedAdmin(ctx context.Context, username, password string, cost int) error {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := s.CreateOperator(ctx, username, password, model.RoleAdmin, cost)
	return err
}
