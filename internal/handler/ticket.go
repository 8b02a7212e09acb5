package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/radelqui/tito-ledger/internal/codec"
	"github.com/radelqui/tito-ledger/internal/config"
	"github.com/radelqui/tito-ledger/internal/ledger"
	"github.com/radelqui/tito-ledger/internal/model"
	"github.com/radelqui/tito-ledger/internal/queue"
	"github.com/radelqui/tito-ledger/internal/remote"
	"github.com/radelqui/tito-ledger/internal/syncer"
)

// TicketHandler bundles everything the issuing and redemption flows
// need: the codec for payloads, the local ledger for state, and the
// remote store for the not-found fallback. The remote handle may be
// nil-backed; every use checks Available first.
type TicketHandler struct {
	Cfg    config.Config
	Codec  *codec.Codec
	Store  *ledger.Store
	Remote *remote.Store
	Sync   *syncer.Engine
}

func NewTicketHandler(cfg config.Config, cd *codec.Codec, store *ledger.Store, rm *remote.Store, engine *syncer.Engine) *TicketHandler {
	return &TicketHandler{Cfg: cfg, Codec: cd, Store: store, Remote: rm, Sync: engine}
}

// ----- DTOs -----

type issueReq struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	IssuerRef string `json:"issuer_ref"`
}

type redeemReq struct {
	Payload     string `json:"payload"`
	RedeemerRef string `json:"redeemer_ref"`
}

type validateReq struct {
	Payload string `json:"payload"`
}

type ticketResp struct {
	TicketNumber string     `json:"ticket_number"`
	Amount       string     `json:"amount"`
	Currency     string     `json:"currency"`
	IssuedAt     time.Time  `json:"issued_at"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	State        string     `json:"state"`
	Payload      string     `json:"payload"`
	StationID    *int64     `json:"station_id,omitempty"`
	IssuerRef    *string    `json:"issuer_ref,omitempty"`
	RedeemerRef  *string    `json:"redeemer_ref,omitempty"`
	Synced       bool       `json:"synced"`
}

func toTicketResp(t *model.Ticket) ticketResp {
	return ticketResp{
		TicketNumber: t.TicketNumber,
		Amount:       codec.FormatAmount(t.Amount),
		Currency:     t.Currency,
		IssuedAt:     t.IssuedAt,
		RedeemedAt:   t.RedeemedAt,
		State:        t.State,
		Payload:      t.EncodedPayload,
		StationID:    t.StationID,
		IssuerRef:    t.IssuerRef,
		RedeemerRef:  t.RedeemerRef,
		Synced:       t.Synced,
	}
}

// Issue mints a ticket number and payload, persists the ticket and
// hands the completed record to the print queue. The broker is outside
// the durability boundary: a publish failure is logged, never surfaced,
// because the ticket is already in the ledger.
func (h *TicketHandler) Issue(c echo.Context) error {
	var req issueReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be a positive number"})
	}
	if !model.ValidCurrency(req.Currency) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "currency must be DOP or USD"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	issuedAt := time.Now().UTC()
	number := codec.NewTicketNumber(h.Cfg.StationID)
	amountStr := codec.FormatAmount(amount)
	issuedStr := codec.FormatTime(issuedAt)
	hash := h.Codec.ComputeHash(number, amountStr, req.Currency, issuedStr)
	payload, err := codec.Encode(number, amountStr, req.Currency, issuedStr, hash)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "encode payload failed"})
	}

	station := h.Cfg.StationID
	var issuerRef *string
	if req.IssuerRef != "" {
		issuerRef = &req.IssuerRef
	} else if u, ok := c.Get("username").(string); ok && u != "" {
		issuerRef = &u
	}

	tk, err := h.Store.CreateTicket(ctx, ledger.CreateParams{
		TicketNumber: number,
		Amount:       amount,
		Currency:     req.Currency,
		IssuedAt:     issuedAt,
		Payload:      payload,
		StationID:    &station,
		IssuerRef:    issuerRef,
		Hash:         hash,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrValidation):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, ledger.ErrDuplicateTicket):
			// A minted number collided. Practically unreachable; the
			// operator just retries.
			return c.JSON(http.StatusConflict, echo.Map{"error": "ticket number collision, retry"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "persist ticket failed"})
		}
	}

	_ = h.Store.AddAudit(ctx, ledger.AuditTicketIssued, &tk.TicketNumber, issuerRef,
		fmt.Sprintf("issued %s %s", tk.Currency, codec.FormatAmount(tk.Amount)))
	h.Sync.Trigger()

	if err := queue.PublishTicketIssued(ctx, queue.TicketIssuedEvent{
		TicketNumber: tk.TicketNumber,
		Amount:       codec.FormatAmount(tk.Amount),
		Currency:     tk.Currency,
		IssuedAt:     codec.FormatTime(tk.IssuedAt),
		Payload:      tk.EncodedPayload,
		StationID:    tk.StationID,
		IssuerRef:    tk.IssuerRef,
	}); err != nil {
		logrus.WithError(err).WithField("ticket", tk.TicketNumber).Warn("print queue publish failed")
	}

	return c.JSON(http.StatusCreated, toTicketResp(tk))
}

// Lookup returns a single ticket by its external number.
func (h *TicketHandler) Lookup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tk, err := h.Store.FindByNumber(ctx, c.Param("number"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, toTicketResp(tk))
}

// Validate checks a scanned payload without mutating anything: codec
// verification first, then the local ticket state if the ticket is
// known here. Invalid and malformed payloads are reported identically.
func (h *TicketHandler) Validate(c echo.Context) error {
	var req validateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if !h.Codec.Validate(req.Payload) {
		_ = h.Store.AddAudit(ctx, ledger.AuditValidationFailed, nil, operatorRef(c), "payload failed verification")
		return c.JSON(http.StatusOK, echo.Map{"valid": false})
	}
	p, _ := codec.Decode(req.Payload)

	resp := echo.Map{"valid": true, "ticket_number": p.TicketNumber}
	tk, err := h.Store.FindByNumber(ctx, p.TicketNumber)
	switch {
	case err == nil:
		resp["state"] = tk.State
		resp["known_locally"] = true
	case errors.Is(err, ledger.ErrNotFound):
		resp["known_locally"] = false
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

// Redeem verifies a scanned payload and transitions the ticket from
// ISSUED to REDEEMED. When the ticket is unknown locally and the
// remote store is reachable, it is fetched from there and imported
// before redeeming, so a ticket issued at another station is still
// honored. The at-most-once guarantee lives entirely in the ledger's
// conditional update.
func (h *TicketHandler) Redeem(c echo.Context) error {
	var req redeemReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	if !h.Codec.Validate(req.Payload) {
		_ = h.Store.AddAudit(ctx, ledger.AuditValidationFailed, nil, operatorRef(c), "redeem rejected: payload failed verification")
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid payload"})
	}
	p, _ := codec.Decode(req.Payload)

	if _, err := h.Store.FindByNumber(ctx, p.TicketNumber); err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lookup failed"})
		}
		if err := h.importFromRemote(ctx, p.TicketNumber); err != nil {
			if errors.Is(err, remote.ErrNotFound) || errors.Is(err, ledger.ErrNotFound) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
			}
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "remote lookup failed"})
		}
	}

	redeemerRef := operatorRef(c)
	if req.RedeemerRef != "" {
		redeemerRef = &req.RedeemerRef
	}

	tk, err := h.Store.Redeem(ctx, p.TicketNumber, redeemerRef)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidTransition):
			// Genuine conflict: the ticket was already redeemed or
			// voided. Shown to the operator as such.
			current, ferr := h.Store.FindByNumber(ctx, p.TicketNumber)
			state := ""
			if ferr == nil {
				state = current.State
			}
			return c.JSON(http.StatusConflict, echo.Map{"error": "ticket not redeemable", "state": state})
		case errors.Is(err, ledger.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "redeem failed"})
		}
	}

	_ = h.Store.AddAudit(ctx, ledger.AuditTicketRedeemed, &tk.TicketNumber, redeemerRef,
		fmt.Sprintf("redeemed %s %s", tk.Currency, codec.FormatAmount(tk.Amount)))
	h.Sync.Trigger()
	return c.JSON(http.StatusOK, toTicketResp(tk))
}

// importFromRemote copies a ticket from the authoritative store into
// the local ledger. A concurrent import losing the duplicate race is
// fine: the ticket is there either way.
func (h *TicketHandler) importFromRemote(ctx context.Context, number string) error {
	if !h.Remote.Available() {
		return ledger.ErrNotFound
	}
	callCtx, cancel := context.WithTimeout(ctx, h.Cfg.RemoteTimeout)
	defer cancel()

	rt, err := h.Remote.FindByNumber(callCtx, number)
	if err != nil {
		return err
	}
	if _, err := h.Store.Import(ctx, rt); err != nil && !errors.Is(err, ledger.ErrDuplicateTicket) {
		return err
	}
	return nil
}

// Void cancels an ISSUED ticket. Admin only (enforced by the router).
func (h *TicketHandler) Void(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	number := c.Param("number")
	tk, err := h.Store.Void(ctx, number)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidTransition):
			return c.JSON(http.StatusConflict, echo.Map{"error": "ticket not voidable"})
		case errors.Is(err, ledger.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "void failed"})
		}
	}

	_ = h.Store.AddAudit(ctx, ledger.AuditTicketVoided, &tk.TicketNumber, operatorRef(c),
		fmt.Sprintf("voided %s %s", tk.Currency, codec.FormatAmount(tk.Amount)))
	h.Sync.Trigger()
	return c.JSON(http.StatusOK, toTicketResp(tk))
}

// Stats returns the aggregate snapshot for a time range, optionally
// filtered by state. Defaults to the current day (UTC). Computed
// directly from the store on every call; never cached.
func (h *TicketHandler) Stats(c echo.Context) error {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must be RFC 3339"})
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "to must be RFC 3339"})
		}
		to = t
	}
	state := c.QueryParam("state")
	if state != "" && state != model.StateIssued && state != model.StateRedeemed && state != model.StateVoided {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown state filter"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	snap, err := h.Store.Stats(ctx, from, to, state)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "stats failed"})
	}
	return c.JSON(http.StatusOK, snap)
}

// RemoteList reads tickets for a time range straight from the
// authoritative store, bypassing the local ledger. Used for central
// reporting checks against what this station believes.
func (h *TicketHandler) RemoteList(c echo.Context) error {
	if !h.Remote.Available() {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "remote store not available"})
	}

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must be RFC 3339"})
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "to must be RFC 3339"})
		}
		to = t
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Cfg.RemoteTimeout)
	defer cancel()

	tickets, err := h.Remote.ListByRange(ctx, from, to, c.QueryParam("state"))
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "remote query failed"})
	}
	out := make([]ticketResp, 0, len(tickets))
	for i := range tickets {
		out = append(out, toTicketResp(&tickets[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": out})
}

// Audit lists audit events, newest first.
func (h *TicketHandler) Audit(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be an integer"})
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	events, err := h.Store.ListAudit(ctx, ledger.AuditFilter{
		Kind:        c.QueryParam("kind"),
		OperatorRef: c.QueryParam("operator"),
		Limit:       limit,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "audit query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}

// operatorRef extracts the authenticated operator's username from the
// context as an audit reference, or nil outside an authenticated flow.
func operatorRef(c echo.Context) *string {
	if u, ok := c.Get("username").(string); ok && u != "" {
		return &u
	}
	return nil
}
