// Package remote is the client for the central authoritative ticket
// store. The sync engine is the only writer; everything it writes is an
// upsert keyed on the unique ticket_number, so repeated pushes from a
// crashed or restarted process are harmless. The whole package is
// optional at runtime: without a configured remote the system runs
// fully offline.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/radelqui/tito-ledger/internal/codec"
	"github.com/radelqui/tito-ledger/internal/model"
)

// ErrNotFound is returned by FindByNumber when the remote store has no
// ticket with the requested number.
var ErrNotFound = errors.New("ticket not found in remote store")

// Store wraps the remote MySQL connection. A nil *Store is a valid
// "remote not configured" handle: Available reports false and the sync
// engine degrades to a no-op.
type Store struct {
	db *sql.DB
}

// Open connects to the remote MySQL store and verifies the connection.
func Open(user, pass, host, port, name string) (*Store, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Available reports whether the remote store is configured and
// connected. Safe on a nil receiver.
func (s *Store) Available() bool { return s != nil && s.db != nil }

// Ping probes the remote connection within the caller's deadline.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Available() {
		return errors.New("remote store not configured")
	}
	return s.db.PingContext(ctx)
}

// Close releases the remote connection pool. Safe on a nil receiver.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the remote tickets table when it does not exist.
// The unique key on ticket_number is what makes UpsertTickets
// idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
			ticket_number VARCHAR(64) NOT NULL,
			amount DECIMAL(10,2) NOT NULL,
			currency CHAR(3) NOT NULL,
			issued_at DATETIME NOT NULL,
			redeemed_at DATETIME NULL,
			state VARCHAR(16) NOT NULL,
			encoded_payload VARCHAR(255) NOT NULL,
			station_id BIGINT NULL,
			issuer_ref VARCHAR(128) NULL,
			redeemer_ref VARCHAR(128) NULL,
			integrity_hash CHAR(16) NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE KEY uq_ticket_number (ticket_number)
		) CHARACTER SET utf8mb4`)
	return err
}

// UpsertTickets pushes one batch of tickets in a single multi-row
// statement. Existing rows (same ticket_number) are updated with the
// mutable lifecycle fields; immutable fields are written only on first
// insert. Never a blind insert: re-sending a previously synced ticket
// after a crash before mark-synced is safe.
func (s *Store) UpsertTickets(ctx context.Context, tickets []model.Ticket) error {
	if !s.Available() {
		return errors.New("remote store not configured")
	}
	if len(tickets) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO tickets
		(ticket_number, amount, currency, issued_at, redeemed_at, state,
		 encoded_payload, station_id, issuer_ref, redeemer_ref, integrity_hash, updated_at)
		VALUES `)
	args := make([]interface{}, 0, len(tickets)*12)
	for i, t := range tickets {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			t.TicketNumber, codec.FormatAmount(t.Amount), t.Currency, t.IssuedAt.UTC(),
			nullableTime(t.RedeemedAt), t.State, t.EncodedPayload, t.StationID,
			t.IssuerRef, t.RedeemerRef, t.IntegrityHash, time.Now().UTC())
	}
	b.WriteString(` ON DUPLICATE KEY UPDATE
		state = VALUES(state),
		redeemed_at = VALUES(redeemed_at),
		redeemer_ref = VALUES(redeemer_ref),
		updated_at = VALUES(updated_at)`)

	_, err := s.db.ExecContext(ctx, b.String(), args...)
	return err
}

// FindByNumber fetches a single ticket from the remote store. It backs
// the redemption fallback for tickets issued by another station and not
// yet replicated locally.
func (s *Store) FindByNumber(ctx context.Context, ticketNumber string) (*model.Ticket, error) {
	if !s.Available() {
		return nil, errors.New("remote store not configured")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT ticket_number, amount, currency, issued_at, redeemed_at, state,
		       encoded_payload, station_id, issuer_ref, redeemer_ref, integrity_hash
		FROM tickets WHERE ticket_number = ? LIMIT 1`, ticketNumber)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// ListByRange reads tickets issued within [from, to], optionally
// filtered by state. It serves audit-side lookups against the
// authoritative store.
func (s *Store) ListByRange(ctx context.Context, from, to time.Time, state string) ([]model.Ticket, error) {
	if !s.Available() {
		return nil, errors.New("remote store not configured")
	}
	q := `SELECT ticket_number, amount, currency, issued_at, redeemed_at, state,
	             encoded_payload, station_id, issuer_ref, redeemer_ref, integrity_hash
	      FROM tickets WHERE issued_at >= ? AND issued_at <= ?`
	args := []interface{}{from.UTC(), to.UTC()}
	if state != "" {
		q += ` AND state = ?`
		args = append(args, state)
	}
	q += ` ORDER BY issued_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(sc scanner) (*model.Ticket, error) {
	var (
		t          model.Ticket
		amountStr  string
		redeemedAt sql.NullTime
		stationID  sql.NullInt64
		issuerRef  sql.NullString
		redeemRef  sql.NullString
	)
	err := sc.Scan(&t.TicketNumber, &amountStr, &t.Currency, &t.IssuedAt, &redeemedAt,
		&t.State, &t.EncodedPayload, &stationID, &issuerRef, &redeemRef, &t.IntegrityHash)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("remote ticket %s has corrupt amount %q: %w", t.TicketNumber, amountStr, err)
	}
	if redeemedAt.Valid {
		ts := redeemedAt.Time
		t.RedeemedAt = &ts
	}
	if stationID.Valid {
		v := stationID.Int64
		t.StationID = &v
	}
	if issuerRef.Valid {
		v := issuerRef.String
		t.IssuerRef = &v
	}
	if redeemRef.Valid {
		v := redeemRef.String
		t.RedeemerRef = &v
	}
	return &t, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
