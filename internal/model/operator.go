package model

import "time"

// Operator roles. MESA issues tickets at a gaming table, CAJA redeems
// them at the cashier cage, ADMIN can do both plus administration.
const (
	RoleMesa  = "MESA"
	RoleCaja  = "CAJA"
	RoleAdmin = "ADMIN"
)

// ValidRole reports whether r is a known operator role.
func ValidRole(r string) bool {
	return r == RoleMesa || r == RoleCaja || r == RoleAdmin
}

// Operator represents a row in the `operators` table. Only the bcrypt
// hash of the password is stored.
//
// Fields:
//  ID           – operators.id.
//  Username     – operators.username, unique.
//  PasswordHash – operators.password_hash (bcrypt).
//  Role         – operators.role (MESA, CAJA, ADMIN).
//  IsActive     – operators.is_active; inactive operators cannot log in.
//  CreatedAt    – operators.created_at.
type Operator struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}

// AuditEvent is an append-only record of a notable action: ticket
// issuance, redemption, void, failed validations, logins and sync runs.
// Events are never updated or deleted.
type AuditEvent struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	TicketNumber *string   `json:"ticket_number,omitempty"`
	OperatorRef  *string   `json:"operator_ref,omitempty"`
	Detail       string    `json:"detail"`
	CreatedAt    time.Time `json:"created_at"`
}
