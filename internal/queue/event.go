// Package queue defines the message payloads exchanged with the
// printing collaborator over the broker.
package queue

// TicketIssuedEvent is published after a ticket is durably persisted.
// It carries the complete record plus the raw encoded payload so the
// rendering/printing pipeline can produce the physical document
// without querying the ledger. Consumers must not modify any field.
type TicketIssuedEvent struct {
	TicketNumber string  `json:"ticket_number"`
	Amount       string  `json:"amount"`
	Currency     string  `json:"currency"`
	IssuedAt     string  `json:"issued_at"`
	Payload      string  `json:"payload"`
	StationID    *int64  `json:"station_id,omitempty"`
	IssuerRef    *string `json:"issuer_ref,omitempty"`
}
