package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radelqui/tito-ledger/internal/codec"
	"github.com/radelqui/tito-ledger/internal/config"
	"github.com/radelqui/tito-ledger/internal/ledger"
	"github.com/radelqui/tito-ledger/internal/model"
)

func newTicketHandler(t *testing.T) *TicketHandler {
	t.Helper()
	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{
		TicketSecret: "handler-test-secret",
		StationID:    4,
	}
	return NewTicketHandler(cfg, codec.New(cfg.TicketSecret), store, nil, nil)
}

// doJSON runs a handler against a synthetic request and decodes the
// JSON response into out (when out is non-nil).
func doJSON(t *testing.T, h echo.HandlerFunc, method, target, body string, out any, setup ...func(echo.Context)) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for _, fn := range setup {
		fn(c)
	}
	require.NoError(t, h(c))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func issueOne(t *testing.T, h *TicketHandler, amount, currency string) ticketResp {
	t.Helper()
	var resp ticketResp
	body := fmt.Sprintf(`{"amount":%q,"currency":%q,"issuer_ref":"mesa01"}`, amount, currency)
	rec := doJSON(t, h.Issue, http.MethodPost, "/v1/tickets", body, &resp)
	require.Equal(t, http.StatusCreated, rec.Code)
	return resp
}

func TestIssueCreatesVerifiablePayload(t *testing.T) {
	h := newTicketHandler(t)
	tk := issueOne(t, h, "534.00", model.CurrencyDOP)

	assert.Equal(t, model.StateIssued, tk.State)
	assert.Equal(t, "534.00", tk.Amount)
	assert.Equal(t, model.CurrencyDOP, tk.Currency)
	assert.NotNil(t, tk.StationID)
	assert.Equal(t, int64(4), *tk.StationID)
	assert.False(t, tk.Synced)
	assert.True(t, h.Codec.Validate(tk.Payload))
}

func TestIssueRejectsBadInput(t *testing.T) {
	h := newTicketHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"zero amount", `{"amount":"0","currency":"DOP"}`},
		{"negative amount", `{"amount":"-5","currency":"DOP"}`},
		{"not a number", `{"amount":"lots","currency":"DOP"}`},
		{"unknown currency", `{"amount":"10.00","currency":"EUR"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h.Issue, http.MethodPost, "/v1/tickets", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRedeemHappyPathThenConflict(t *testing.T) {
	h := newTicketHandler(t)
	tk := issueOne(t, h, "250.00", model.CurrencyDOP)

	body := fmt.Sprintf(`{"payload":%q,"redeemer_ref":"caja01"}`, tk.Payload)

	var redeemed ticketResp
	rec := doJSON(t, h.Redeem, http.MethodPost, "/v1/tickets/redeem", body, &redeemed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StateRedeemed, redeemed.State)
	assert.NotNil(t, redeemed.RedeemedAt)
	require.NotNil(t, redeemed.RedeemerRef)
	assert.Equal(t, "caja01", *redeemed.RedeemerRef)

	// Second scan of the same ticket is refused.
	var conflict map[string]any
	rec = doJSON(t, h.Redeem, http.MethodPost, "/v1/tickets/redeem", body, &conflict)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.StateRedeemed, conflict["state"])
}

func TestRedeemRejectsTamperedPayload(t *testing.T) {
	h := newTicketHandler(t)
	tk := issueOne(t, h, "100.00", model.CurrencyUSD)

	tampered := strings.Replace(tk.Payload, "100.00", "999.00", 1)
	body := fmt.Sprintf(`{"payload":%q}`, tampered)
	rec := doJSON(t, h.Redeem, http.MethodPost, "/v1/tickets/redeem", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The ticket itself is untouched.
	var current ticketResp
	rec = doJSON(t, h.Lookup, http.MethodGet, "/", "", &current, func(c echo.Context) {
		c.SetParamNames("number")
		c.SetParamValues(tk.TicketNumber)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StateIssued, current.State)
}

func TestRedeemUnknownTicketOffline(t *testing.T) {
	h := newTicketHandler(t)
	tk := issueOne(t, h, "50.00", model.CurrencyDOP)

	// A verifiable payload for a ticket this ledger has never seen,
	// with no remote to fall back to.
	foreign := strings.Replace(tk.Payload, tk.TicketNumber, "000101-P09-000000-0000", 1)
	hash := h.Codec.ComputeHash("000101-P09-000000-0000", "50.00", model.CurrencyDOP, codec.FormatTime(tk.IssuedAt))
	parts := strings.Split(foreign, "|")
	parts[len(parts)-1] = hash
	foreign = strings.Join(parts, "|")
	require.True(t, h.Codec.Validate(foreign))

	rec := doJSON(t, h.Redeem, http.MethodPost, "/v1/tickets/redeem", fmt.Sprintf(`{"payload":%q}`, foreign), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateReportsStateWithoutMutating(t *testing.T) {
	h := newTicketHandler(t)
	tk := issueOne(t, h, "75.00", model.CurrencyDOP)

	var resp map[string]any
	rec := doJSON(t, h.Validate, http.MethodPost, "/v1/tickets/validate", fmt.Sprintf(`{"payload":%q}`, tk.Payload), &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, tk.TicketNumber, resp["ticket_number"])
	assert.Equal(t, model.StateIssued, resp["state"])
	assert.Equal(t, true, resp["known_locally"])

	rec = doJSON(t, h.Validate, http.MethodPost, "/v1/tickets/validate", `{"payload":"garbage"}`, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, resp["valid"])
}

func TestVoidThenRedeemConflicts(t *testing.T) {
	h := newTicketHandler(t)
	tk := issueOne(t, h, "300.00", model.CurrencyDOP)

	var voided ticketResp
	rec := doJSON(t, h.Void, http.MethodPost, "/", "", &voided, func(c echo.Context) {
		c.SetParamNames("number")
		c.SetParamValues(tk.TicketNumber)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StateVoided, voided.State)

	body := fmt.Sprintf(`{"payload":%q}`, tk.Payload)
	rec = doJSON(t, h.Redeem, http.MethodPost, "/v1/tickets/redeem", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLookupUnknownTicket(t *testing.T) {
	h := newTicketHandler(t)
	rec := doJSON(t, h.Lookup, http.MethodGet, "/", "", nil, func(c echo.Context) {
		c.SetParamNames("number")
		c.SetParamValues("NO-SUCH")
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndToEnd(t *testing.T) {
	h := newTicketHandler(t)
	issueOne(t, h, "100.00", model.CurrencyDOP)
	issueOne(t, h, "200.00", model.CurrencyDOP)
	tk := issueOne(t, h, "25.00", model.CurrencyUSD)

	body := fmt.Sprintf(`{"payload":%q}`, tk.Payload)
	rec := doJSON(t, h.Redeem, http.MethodPost, "/v1/tickets/redeem", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap model.StatsSnapshot
	rec = doJSON(t, h.Stats, http.MethodGet, "/v1/stats", "", &snap)
	require.Equal(t, http.StatusOK, rec.Code)

	dop, ok := snap.ByCurrency[model.CurrencyDOP]
	require.True(t, ok)
	assert.Equal(t, int64(2), dop.Count)
	assert.True(t, dop.Total.Equal(decimal.RequireFromString("300.00")))

	usd, ok := snap.ByCurrency[model.CurrencyUSD]
	require.True(t, ok)
	assert.Equal(t, int64(1), usd.Count)
	assert.True(t, usd.Total.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, usd.ByState[model.StateRedeemed].Total.Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, int64(3), snap.Tickets)
}
