package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket states. A ticket starts out ISSUED and moves exactly once into
// one of the terminal states REDEEMED or VOIDED. There is no transition
// out of a terminal state.
const (
	StateIssued   = "ISSUED"
	StateRedeemed = "REDEEMED"
	StateVoided   = "VOIDED"
)

// Supported currencies. DOP is the venue's local currency, USD the
// foreign one. Tickets never convert between the two.
const (
	CurrencyDOP = "DOP"
	CurrencyUSD = "USD"
)

// ValidCurrency reports whether c is one of the supported currencies.
func ValidCurrency(c string) bool {
	return c == CurrencyDOP || c == CurrencyUSD
}

// Ticket mirrors a row in the `tickets` table. The SequenceID is a local
// surrogate key and never leaves the process; TicketNumber is the external
// identifier embedded in the printed payload.
//
// Fields:
//  SequenceID     – tickets.id, local auto-increment key.
//  TicketNumber   – tickets.ticket_number, globally unique, immutable.
//  Amount         – tickets.amount, positive, stored as a canonical
//                   two-decimal string.
//  Currency       – tickets.currency (DOP or USD), immutable.
//  IssuedAt       – tickets.issued_at, set at creation.
//  RedeemedAt     – tickets.redeemed_at, set exactly once on redemption.
//  State          – tickets.state (ISSUED, REDEEMED, VOIDED).
//  EncodedPayload – tickets.encoded_payload, the exact scannable string.
//  StationID      – tickets.station_id, issuing station (nullable).
//  IssuerRef      – tickets.issuer_ref, operator reference at issuance.
//  RedeemerRef    – tickets.redeemer_ref, operator reference at redemption.
//  IntegrityHash  – tickets.integrity_hash, truncated keyed hash, immutable.
//  Synced         – tickets.synced, true once the remote store has
//                   acknowledged this ticket version.
//  CreatedAt      – tickets.created_at.
//  UpdatedAt      – tickets.updated_at, bumped on every state change.
type Ticket struct {
	SequenceID     int64
	TicketNumber   string
	Amount         decimal.Decimal
	Currency       string
	IssuedAt       time.Time
	RedeemedAt     *time.Time
	State          string
	EncodedPayload string
	StationID      *int64
	IssuerRef      *string
	RedeemerRef    *string
	IntegrityHash  string
	Synced         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the ticket's state admits no further
// transitions.
func (t *Ticket) Terminal() bool {
	return t.State == StateRedeemed || t.State == StateVoided
}
