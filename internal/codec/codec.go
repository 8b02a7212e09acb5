// Package codec mints ticket numbers and produces the tamper-evident
// payload string printed on a ticket. It is pure and stateless apart
// from the HMAC secret held by Codec; all durable state lives in the
// ledger package.
package codec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Delimiter separates the five payload fields. No field value may
// contain it.
const Delimiter = "|"

// HashLen is the number of hex characters kept from the HMAC digest.
// Truncating to 16 shortens the printed code at the cost of collision
// resistance versus the full digest; the result detects tampering but
// is not a signature and must not be treated as one.
const HashLen = 16

// ErrEncoding is returned by Encode when a field embeds the delimiter.
var ErrEncoding = errors.New("codec: field contains delimiter")

// ErrMalformedPayload is returned by Decode when the input does not
// split into exactly five fields or the amount field is not a positive
// number.
var ErrMalformedPayload = errors.New("codec: malformed payload")

// Payload holds the five decoded fields of a scannable ticket code in
// their raw textual form. The raw strings are kept so that the hash can
// be recomputed byte-for-byte over exactly what was scanned.
type Payload struct {
	TicketNumber string
	Amount       string
	Currency     string
	IssuedAt     string
	Hash         string
}

// AmountValue parses the raw amount field. Decode guarantees it parses
// as a positive decimal.
func (p Payload) AmountValue() decimal.Decimal {
	d, _ := decimal.NewFromString(p.Amount)
	return d
}

// FormatAmount renders an amount in the canonical payload form: fixed
// two decimal places, no thousands separators.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatTime renders an issuance timestamp in the canonical payload
// form: UTC ISO 8601 with second precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// NewTicketNumber mints a practically unique ticket number without any
// coordination between stations. The number combines the current UTC
// date and time with the station identifier and a random 4-digit
// suffix, e.g. "251012-P03-080200-4817". Two calls collide only when
// the same station draws the same suffix within the same second; the
// ledger's unique index rejects that residual case.
func NewTicketNumber(stationID int64) string {
	now := time.Now().UTC()
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	suffix := int64(0)
	if err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("%s-P%02d-%s-%04d",
		now.Format("060102"), stationID, now.Format("150405"), suffix)
}

// Codec computes and verifies integrity hashes with a secret configured
// out of band. Construct one per process and pass it by handle.
type Codec struct {
	secret []byte
}

// New returns a Codec keyed with the given secret.
func New(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// ComputeHash derives the truncated integrity hash for a ticket. The
// four fields are canonicalized by joining their payload serializations
// with the delimiter and fed through HMAC-SHA256; the first HashLen hex
// characters are kept. The hash is a pure function of its inputs and is
// computed exactly once, at issuance.
func (c *Codec) ComputeHash(ticketNumber, amount, currency, issuedAt string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(strings.Join([]string{ticketNumber, amount, currency, issuedAt}, Delimiter)))
	return hex.EncodeToString(mac.Sum(nil))[:HashLen]
}

// Encode joins the five payload fields with the delimiter. It fails
// with ErrEncoding if any field value already contains the delimiter,
// which would make the payload ambiguous to split.
func Encode(ticketNumber, amount, currency, issuedAt, hash string) (string, error) {
	for _, f := range []string{ticketNumber, amount, currency, issuedAt, hash} {
		if strings.Contains(f, Delimiter) {
			return "", fmt.Errorf("%w: %q", ErrEncoding, f)
		}
	}
	return strings.Join([]string{ticketNumber, amount, currency, issuedAt, hash}, Delimiter), nil
}

// Decode splits a scanned payload into its five fields. It fails with
// ErrMalformedPayload unless exactly five fields result and the amount
// field parses as a positive number. No hash verification happens here;
// use Validate for that.
func Decode(raw string) (Payload, error) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) != 5 {
		return Payload{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrMalformedPayload, len(parts))
	}
	amount, err := decimal.NewFromString(parts[1])
	if err != nil || !amount.IsPositive() {
		return Payload{}, fmt.Errorf("%w: amount %q", ErrMalformedPayload, parts[1])
	}
	return Payload{
		TicketNumber: parts[0],
		Amount:       parts[1],
		Currency:     parts[2],
		IssuedAt:     parts[3],
		Hash:         parts[4],
	}, nil
}

// Validate decodes a scanned payload, recomputes the integrity hash
// over its first four fields and compares it against the embedded one
// in constant time. It never returns an error: a malformed payload and
// a tampered payload are both simply invalid at this boundary.
func (c *Codec) Validate(raw string) bool {
	p, err := Decode(raw)
	if err != nil {
		return false
	}
	expected := c.ComputeHash(p.TicketNumber, p.Amount, p.Currency, p.IssuedAt)
	return hmac.Equal([]byte(expected), []byte(p.Hash))
}
