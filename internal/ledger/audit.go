package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/radelqui/tito-ledger/internal/codec"
	"github.com/radelqui/tito-ledger/internal/model"
)

// Audit event kinds recorded by the handlers and the sync engine.
const (
	AuditTicketIssued     = "ticket_issued"
	AuditTicketRedeemed   = "ticket_redeemed"
	AuditTicketVoided     = "ticket_voided"
	AuditValidationFailed = "validation_failed"
	AuditLogin            = "login"
	AuditLoginFailed      = "login_failed"
	AuditSyncCompleted    = "sync_completed"
)

// AddAudit appends one event to the audit trail. Audit writes are
// best-effort from the caller's perspective: a failed append must not
// undo the business operation it describes, so callers typically log
// and continue on error.
func (s *Store) AddAudit(ctx context.Context, kind string, ticketNumber, operatorRef *string, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (kind, ticket_number, operator_ref, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		kind, ticketNumber, operatorRef, detail, codec.FormatTime(time.Now().UTC()))
	return err
}

// AuditFilter narrows ListAudit. Zero values mean "no filter".
type AuditFilter struct {
	Kind        string
	OperatorRef string
	Limit       int
}

// ListAudit returns audit events newest first. The limit defaults to
// 100 and is capped at 1000.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]model.AuditEvent, error) {
	q := `SELECT id, kind, ticket_number, operator_ref, detail, created_at FROM audit_events WHERE 1=1`
	var args []interface{}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.OperatorRef != "" {
		q += ` AND operator_ref = ?`
		args = append(args, f.OperatorRef)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var (
			ev        model.AuditEvent
			ticket    sql.NullString
			operator  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ticket, &operator, &ev.Detail, &createdAt); err != nil {
			return nil, err
		}
		if ticket.Valid {
			v := ticket.String
			ev.TicketNumber = &v
		}
		if operator.Valid {
			v := operator.String
			ev.OperatorRef = &v
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
