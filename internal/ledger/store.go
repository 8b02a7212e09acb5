package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/radelqui/tito-ledger/internal/codec"
	"github.com/radelqui/tito-ledger/internal/model"
)

// Store wraps the local sqlite ledger file. One Store owns the file for
// the lifetime of the process; construct it once and pass it by handle
// to the handlers and the sync engine.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the ledger database at path and
// ensures the schema exists. Pass ":memory:" for an isolated in-memory
// store in tests. The connection pool is capped at a single connection:
// sqlite serializes writers anyway, and a single connection keeps every
// statement on the same database handle.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_number TEXT NOT NULL UNIQUE,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL CHECK(currency IN ('DOP','USD')),
	issued_at TEXT NOT NULL,
	redeemed_at TEXT,
	state TEXT NOT NULL DEFAULT 'ISSUED' CHECK(state IN ('ISSUED','REDEEMED','VOIDED')),
	encoded_payload TEXT NOT NULL,
	station_id INTEGER,
	issuer_ref TEXT,
	redeemer_ref TEXT,
	integrity_hash TEXT NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_synced ON tickets(synced, created_at);
CREATE INDEX IF NOT EXISTS idx_tickets_issued_at ON tickets(issued_at);
CREATE TABLE IF NOT EXISTS operators (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL CHECK(role IN ('MESA','CAJA','ADMIN')),
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	ticket_number TEXT,
	operator_ref TEXT,
	detail TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateParams carries everything needed to persist a freshly issued
// ticket. The codec is responsible for TicketNumber, Payload and Hash;
// the store only enforces the data invariants.
type CreateParams struct {
	TicketNumber string
	Amount       decimal.Decimal
	Currency     string
	IssuedAt     time.Time
	Payload      string
	StationID    *int64
	IssuerRef    *string
	Hash         string
}

// CreateTicket inserts a new ISSUED ticket as a single atomic insert.
// The unique index on ticket_number turns a collision into
// ErrDuplicateTicket with no partial record left behind.
func (s *Store) CreateTicket(ctx context.Context, p CreateParams) (*model.Ticket, error) {
	if p.TicketNumber == "" {
		return nil, fmt.Errorf("%w: empty ticket number", ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrValidation, p.Amount)
	}
	if !model.ValidCurrency(p.Currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrValidation, p.Currency)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets
			(ticket_number, amount, currency, issued_at, state, encoded_payload,
			 station_id, issuer_ref, integrity_hash, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'ISSUED', ?, ?, ?, ?, 0, ?, ?)`,
		p.TicketNumber, codec.FormatAmount(p.Amount), p.Currency, codec.FormatTime(p.IssuedAt),
		p.Payload, p.StationID, p.IssuerRef, p.Hash, codec.FormatTime(now), codec.FormatTime(now))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return nil, ErrDuplicateTicket
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.findByID(ctx, id)
}

// Import persists a ticket fetched from the remote store into the local
// ledger, preserving its timestamps and state. Imported tickets are
// recorded as already synced so the engine does not push them back.
func (s *Store) Import(ctx context.Context, t *model.Ticket) (*model.Ticket, error) {
	var redeemedAt *string
	if t.RedeemedAt != nil {
		v := codec.FormatTime(*t.RedeemedAt)
		redeemedAt = &v
	}
	now := codec.FormatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets
			(ticket_number, amount, currency, issued_at, redeemed_at, state, encoded_payload,
			 station_id, issuer_ref, redeemer_ref, integrity_hash, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		t.TicketNumber, codec.FormatAmount(t.Amount), t.Currency, codec.FormatTime(t.IssuedAt),
		redeemedAt, t.State, t.EncodedPayload, t.StationID, t.IssuerRef, t.RedeemerRef,
		t.IntegrityHash, now, now)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return nil, ErrDuplicateTicket
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.findByID(ctx, id)
}

const ticketColumns = `id, ticket_number, amount, currency, issued_at, redeemed_at, state,
	encoded_payload, station_id, issuer_ref, redeemer_ref, integrity_hash, synced,
	created_at, updated_at`

// FindByNumber returns the ticket with the given external number, or
// ErrNotFound.
func (s *Store) FindByNumber(ctx context.Context, ticketNumber string) (*model.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE ticket_number = ? LIMIT 1`, ticketNumber)
	return scanTicket(row)
}

func (s *Store) findByID(ctx context.Context, id int64) (*model.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ? LIMIT 1`, id)
	return scanTicket(row)
}

// Redeem moves a ticket from ISSUED to REDEEMED in one conditional
// update: state, redeemed_at, redeemer_ref and the synced flag change
// together or not at all. Under concurrent redemption attempts for the
// same number, the WHERE clause lets exactly one update land; the rest
// observe zero affected rows and get ErrInvalidTransition.
func (s *Store) Redeem(ctx context.Context, ticketNumber string, redeemerRef *string) (*model.Ticket, error) {
	now := codec.FormatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET state = 'REDEEMED', redeemed_at = ?, redeemer_ref = ?, synced = 0, updated_at = ?
		WHERE ticket_number = ? AND state = 'ISSUED'`,
		now, redeemerRef, now, ticketNumber)
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, ticketNumber, res)
}

// Void moves a ticket from ISSUED to VOIDED. Same atomicity contract as
// Redeem; voided tickets also queue for outward sync.
func (s *Store) Void(ctx context.Context, ticketNumber string) (*model.Ticket, error) {
	now := codec.FormatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET state = 'VOIDED', synced = 0, updated_at = ?
		WHERE ticket_number = ? AND state = 'ISSUED'`,
		now, ticketNumber)
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, ticketNumber, res)
}

// afterTransition turns a zero-row conditional update into the right
// sentinel: ErrNotFound when the number does not exist at all,
// ErrInvalidTransition when it exists but is already terminal.
func (s *Store) afterTransition(ctx context.Context, ticketNumber string, res sql.Result) (*model.Ticket, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	t, ferr := s.FindByNumber(ctx, ticketNumber)
	if n == 0 {
		if ferr != nil {
			return nil, ferr // ErrNotFound or a real storage failure
		}
		return nil, ErrInvalidTransition
	}
	return t, ferr
}

// ListUnsynced returns every ticket whose latest version the remote
// store has not acknowledged, oldest-created first. The ordering gives
// the sync engine stable batches; it is not a correctness requirement.
func (s *Store) ListUnsynced(ctx context.Context) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE synced = 0 ORDER BY created_at ASC, id ASC`)
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

// MarkSynced flips the synced flag for the given sequence ids. It is
// idempotent: already-synced or unknown ids are silently skipped. The
// flag only ever moves false to true here; a later redeem or void
// resets it as part of that transition.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET synced = 1 WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// CountUnsynced reports how many tickets are waiting for the remote
// store's acknowledgement.
func (s *Store) CountUnsynced(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE synced = 0`).Scan(&n)
	return n, err
}

// Stats aggregates tickets issued within [from, to] per currency and
// state in a single read pass over the store. An optional state filter
// narrows the pass. Amounts are summed as decimals in Go so no float
// drift enters the totals, and nothing is cached: every call sees the
// current ledger.
func (s *Store) Stats(ctx context.Context, from, to time.Time, stateFilter string) (model.StatsSnapshot, error) {
	snap := model.NewStatsSnapshot()

	q := `SELECT currency, state, amount FROM tickets WHERE issued_at >= ? AND issued_at <= ?`
	args := []interface{}{codec.FormatTime(from), codec.FormatTime(to)}
	if stateFilter != "" {
		q += ` AND state = ?`
		args = append(args, stateFilter)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	for rows.Next() {
		var currency, state, amountStr string
		if err := rows.Scan(&currency, &state, &amountStr); err != nil {
			return snap, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return snap, fmt.Errorf("corrupt amount %q for currency %s: %w", amountStr, currency, err)
		}

		cs, ok := snap.ByCurrency[currency]
		if !ok {
			cs = model.CurrencyStats{ByState: make(map[string]model.StateBucket)}
		}
		bucket := cs.ByState[state]
		bucket.Count++
		bucket.Total = bucket.Total.Add(amount)
		cs.ByState[state] = bucket
		cs.Count++
		cs.Total = cs.Total.Add(amount)
		snap.ByCurrency[currency] = cs
		snap.Tickets++
	}
	return snap, rows.Err()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(sc scanner) (*model.Ticket, error) {
	var (
		t          model.Ticket
		amountStr  string
		issuedAt   string
		redeemedAt sql.NullString
		stationID  sql.NullInt64
		issuerRef  sql.NullString
		redeemRef  sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := sc.Scan(&t.SequenceID, &t.TicketNumber, &amountStr, &t.Currency, &issuedAt,
		&redeemedAt, &t.State, &t.EncodedPayload, &stationID, &issuerRef, &redeemRef,
		&t.IntegrityHash, &t.Synced, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("corrupt amount %q on ticket %s: %w", amountStr, t.TicketNumber, err)
	}
	if t.IssuedAt, err = time.Parse(time.RFC3339, issuedAt); err != nil {
		return nil, fmt.Errorf("corrupt issued_at on ticket %s: %w", t.TicketNumber, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at on ticket %s: %w", t.TicketNumber, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at on ticket %s: %w", t.TicketNumber, err)
	}
	if redeemedAt.Valid {
		ts, err := time.Parse(time.RFC3339, redeemedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt redeemed_at on ticket %s: %w", t.TicketNumber, err)
		}
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
