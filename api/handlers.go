/*
handlers.go - HTTP API handlers for the badge balance engine

PURPOSE:
  Exposes the balance engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to generic.Engine.

ENDPOINTS:
  Holders:
    GET    /api/collections/{collectionID}/holders
    GET    /api/collections/{collectionID}/holders/{holderID}/balances[?ranges=0-9,12]
    GET    /api/collections/{collectionID}/holders/{holderID}/eligibility?ranges=0-9&amount=1

  Balance mutations (body: {"ranges": [...], "amount": "5"}):
    PUT    /api/collections/{collectionID}/holders/{holderID}/balances          Set to amount
    POST   /api/collections/{collectionID}/holders/{holderID}/balances/add
    POST   /api/collections/{collectionID}/holders/{holderID}/balances/subtract
    POST   /api/collections/{collectionID}/holders/{holderID}/balances/delete   (no amount)

  Transfers:
    GET    /api/collections/{collectionID}/transfers
    POST   /api/collections/{collectionID}/transfers
    POST   /api/collections/{collectionID}/transfers/simulate

  Health:
    GET    /api/health

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTOs (amount strings, storage-form ranges)
  3. Call the engine
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, invalid range, overflow, underflow,
         insufficient balance, invalid transfer
  - 409: Duplicate idempotency key or transfer ID
  - 500: Internal errors (logged)
  - 503: Health check failed

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bitbadges/balance-engine/generic"
	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *generic.Engine
	Health Pinger // optional
	Logger *zap.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *generic.Engine, health Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Health: health, Logger: logger}
}

func collectionParam(r *http.Request) generic.CollectionID {
	return generic.CollectionID(chi.URLParam(r, "collectionID"))
}

func holderParam(r *http.Request) generic.HolderID {
	return generic.HolderID(chi.URLParam(r, "holderID"))
}

// =============================================================================
// HOLDER HANDLERS
// =============================================================================

// ListHolders returns every holder with a non-empty ledger.
func (h *Handler) ListHolders(w http.ResponseWriter, r *http.Request) {
	c := collectionParam(r)

	holders, err := h.Engine.Holders(r.Context(), c)
	if err != nil {
		h.fail(w, r, "Failed to list holders", err)
		return
	}

	out := make([]string, len(holders))
	for i, holder := range holders {
		out[i] = string(holder)
	}
	writeJSON(w, http.StatusOK, HoldersResponse{CollectionID: string(c), Holders: out})
}

// GetBalances returns a holder's ledger. With ?ranges= it returns what
// is held over those IDs, unheld IDs reported at amount 0.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	c, holder := collectionParam(r), holderParam(r)

	var (
		l   generic.Ledger
		err error
	)
	if q := r.URL.Query().Get("ranges"); q != "" {
		rs, parseErr := ranges.ParseList(q)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid ranges", parseErr)
			return
		}
		l, err = h.Engine.Query(r.Context(), c, holder, rs)
	} else {
		l, err = h.Engine.Balances(r.Context(), c, holder)
	}
	if err != nil {
		h.fail(w, r, "Failed to get balances", err)
		return
	}

	writeJSON(w, http.StatusOK, toHolderBalances(c, holder, l))
}

// CheckEligibility reports whether the holder owns at least amount of
// every ID in ranges.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	c, holder := collectionParam(r), holderParam(r)
	query := r.URL.Query()

	rs, err := ranges.ParseList(query.Get("ranges"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ranges", err)
		return
	}
	if len(rs) == 0 {
		writeError(w, http.StatusBadRequest, "ranges is required", nil)
		return
	}
	amountParam := query.Get("amount")
	if amountParam == "" {
		amountParam = "1"
	}
	amount, err := generic.ParseAmount(amountParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	eligible, err := h.Engine.Eligible(r.Context(), c, holder, rs, amount)
	if err != nil {
		h.fail(w, r, "Failed to check eligibility", err)
		return
	}

	writeJSON(w, http.StatusOK, EligibilityResponse{
		HolderID: string(holder),
		Amount:   amount.String(),
		Eligible: eligible,
	})
}

// =============================================================================
// BALANCE MUTATION HANDLERS
// =============================================================================

type ledgerOp func(ctx context.Context, c generic.CollectionID, h generic.HolderID, rs []ranges.Range, amount generic.Amount) (generic.Ledger, error)

// SetBalances sets every ID in ranges to amount, whatever it held.
// PUT .../balances
func (h *Handler) SetBalances(w http.ResponseWriter, r *http.Request) {
	h.applyAmount(w, r, h.Engine.Update)
}

// AddBalances adds amount to every ID in ranges.
// POST .../balances/add
func (h *Handler) AddBalances(w http.ResponseWriter, r *http.Request) {
	h.applyAmount(w, r, h.Engine.Add)
}

// SubtractBalances removes amount from every ID in ranges. Fails if any
// ID holds less.
// POST .../balances/subtract
func (h *Handler) SubtractBalances(w http.ResponseWriter, r *http.Request) {
	h.applyAmount(w, r, h.Engine.Subtract)
}

// DeleteBalances releases every ID in ranges.
// POST .../balances/delete
func (h *Handler) DeleteBalances(w http.ResponseWriter, r *http.Request) {
	c, holder := collectionParam(r), holderParam(r)

	var req RangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rs, err := ranges.FromStorageForm(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ranges", err)
		return
	}

	l, err := h.Engine.Delete(r.Context(), c, holder, rs)
	if err != nil {
		h.fail(w, r, "Failed to delete balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toHolderBalances(c, holder, l))
}

func (h *Handler) applyAmount(w http.ResponseWriter, r *http.Request, op ledgerOp) {
	c, holder := collectionParam(r), holderParam(r)

	var req RangesAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rs, err := ranges.FromStorageForm(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ranges", err)
		return
	}
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	l, err := op(r.Context(), c, holder, rs, amount)
	if err != nil {
		h.fail(w, r, "Failed to update balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toHolderBalances(c, holder, l))
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// ListTransfers returns the collection's transfer log, oldest first.
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.Engine.Transfers(r.Context(), collectionParam(r))
	if err != nil {
		h.fail(w, r, "Failed to list transfers", err)
		return
	}

	out := make([]TransferDTO, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toTransferDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateTransfer applies a transfer and returns the touched ledgers.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t, err := req.toTransfer(collectionParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transfer", err)
		return
	}

	applied, ledgers, err := h.Engine.Transfer(r.Context(), t)
	if err != nil {
		h.fail(w, r, "Transfer rejected", err)
		return
	}

	writeJSON(w, http.StatusCreated, TransferResponse{
		Transfer: toTransferDTO(applied),
		Balances: toLedgerMap(ledgers),
	})
}

// SimulateTransfers previews transfers without applying them.
func (h *Handler) SimulateTransfers(w http.ResponseWriter, r *http.Request) {
	c := collectionParam(r)

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	transfers := make([]generic.Transfer, 0, len(req.Transfers))
	for i, tr := range req.Transfers {
		t, err := tr.toTransfer(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid transfer at index %d", i), err)
			return
		}
		transfers = append(transfers, t)
	}

	ledgers, err := h.Engine.SimulateTransfers(r.Context(), c, transfers)
	if err != nil {
		h.fail(w, r, "Simulation rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, SimulateResponse{Balances: toLedgerMap(ledgers)})
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status it maps to. Server errors are logged;
// client errors are already logged by the engine.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Bool("invariant_violation", generic.IsInvariantViolation(err)),
			zap.Error(err))
	}
	writeError(w, status, message, err)
}
