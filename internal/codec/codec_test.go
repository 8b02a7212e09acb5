package codec_test

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radelqui/tito-ledger/internal/codec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload, err := codec.Encode("251012-P01-080200-4817", "534.00", "DOP", "2025-10-12T08:02:00Z", "deadbeefdeadbeef")
	require.NoError(t, err)

	p, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "251012-P01-080200-4817", p.TicketNumber)
	assert.Equal(t, "534.00", p.Amount)
	assert.Equal(t, "DOP", p.Currency)
	assert.Equal(t, "2025-10-12T08:02:00Z", p.IssuedAt)
	assert.Equal(t, "deadbeefdeadbeef", p.Hash)
	assert.True(t, p.AmountValue().Equal(decimal.RequireFromString("534.00")))
}

func TestEncodeRejectsEmbeddedDelimiter(t *testing.T) {
	_, err := codec.Encode("T|0001", "10.00", "USD", "2025-10-12T08:02:00Z", "deadbeefdeadbeef")
	require.ErrorIs(t, err, codec.ErrEncoding)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"too few fields":      "T-0001|10.00|USD|2025-10-12T08:02:00Z",
		"too many fields":     "T-0001|10.00|USD|2025-10-12T08:02:00Z|abcd|extra",
		"non-numeric amount":  "T-0001|ten|USD|2025-10-12T08:02:00Z|abcd",
		"zero amount":         "T-0001|0.00|USD|2025-10-12T08:02:00Z|abcd",
		"negative amount":     "T-0001|-5.00|USD|2025-10-12T08:02:00Z|abcd",
		"empty string":        "",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(raw)
			require.ErrorIs(t, err, codec.ErrMalformedPayload)
		})
	}
}

func TestIssuedTicketPayloadValidates(t *testing.T) {
	c := codec.New("test-secret")
	issuedAt := time.Date(2025, 10, 12, 8, 2, 0, 0, time.UTC)

	amount := codec.FormatAmount(decimal.RequireFromString("534.00"))
	ts := codec.FormatTime(issuedAt)
	hash := c.ComputeHash("T-0001", amount, "DOP", ts)
	payload, err := codec.Encode("T-0001", amount, "DOP", ts, hash)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^T-0001\|534\.00\|DOP\|2025-10-12T08:02:00Z\|[0-9a-f]{16}$`), payload)
	assert.True(t, c.Validate(payload))
}

func TestHashIsDeterministic(t *testing.T) {
	c := codec.New("test-secret")
	h1 := c.ComputeHash("T-0001", "534.00", "DOP", "2025-10-12T08:02:00Z")
	h2 := c.ComputeHash("T-0001", "534.00", "DOP", "2025-10-12T08:02:00Z")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, codec.HashLen)
}

func TestTamperedPayloadFailsValidation(t *testing.T) {
	c := codec.New("test-secret")
	ts := codec.FormatTime(time.Date(2025, 10, 12, 8, 2, 0, 0, time.UTC))
	hash := c.ComputeHash("T-0001", "534.00", "DOP", ts)
	payload, err := codec.Encode("T-0001", "534.00", "DOP", ts, hash)
	require.NoError(t, err)
	require.True(t, c.Validate(payload))

	// Bump the amount from 534.00 to 934.00.
	assert.False(t, c.Validate(strings.Replace(payload, "534.00", "934.00", 1)))
	// Swap the currency.
	assert.False(t, c.Validate(strings.Replace(payload, "|DOP|", "|USD|", 1)))
	// Wrong secret.
	assert.False(t, codec.New("another-secret").Validate(payload))
}

func TestValidateNeverErrorsOnGarbage(t *testing.T) {
	c := codec.New("test-secret")
	for _, raw := range []string{"", "||||", "not a payload", "a|b|c|d|e"} {
		assert.False(t, c.Validate(raw))
	}
}

func TestNewTicketNumberShape(t *testing.T) {
	n := codec.NewTicketNumber(3)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}-P03-\d{6}-\d{4}$`), n)
	assert.NotContains(t, n, codec.Delimiter)
}

func TestNewTicketNumberConcurrentUniqueness(t *testing.T) {
	const n = 200
	out := make(chan string, n)
	for i := 0; i < n; i++ {
		go func(station int64) { out <- codec.NewTicketNumber(station) }(int64(i))
	}
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		num := <-out
		assert.False(t, seen[num], "duplicate ticket number %s", num)
		seen[num] = true
	}
}
