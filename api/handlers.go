/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the ledger engine and coupon lifecycle via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    POST /api/accounts/{id}/awards     Attempt an award
    POST /api/accounts/{id}/debit      Manual deduction (admin)
    GET  /api/accounts/{id}/balance    Balances per category
    GET  /api/accounts/{id}/quota      Remaining daily quota
    GET  /api/accounts/{id}/entries    Ledger history
    GET  /api/accounts/{id}/coupons    Coupons for the account

  Entries:
    POST /api/entries/{id}/reverse     Reverse a prior award

  Coupons:
    POST /api/coupons                  Issue (admin)
    POST /api/coupons/{id}/use         Redeem with shared secret
    POST /api/coupons/{id}/revoke      Revoke (admin)

  Policies:
    GET  /api/policies                 List
    PUT  /api/policies/{category}      Create/update (admin)

ERROR HANDLING:
  Policy denials are 200 responses with granted=0 and a deny_reason.
  - 400: Validation errors, invalid input
  - 403: Missing admin flag, wrong coupon secret
  - 404: Entry/coupon/policy not found
  - 409: Invalid coupon state, already-reversed entry
  - 503: Write conflict after exhausting retries
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marlin/loyalty-engine/coupon"
	"github.com/marlin/loyalty-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.LedgerStore
	Reversals *ledger.ReversalHandler
	Coupons   *coupon.Lifecycle
	CouponDB  coupon.Store
	Policies  ledger.PolicyStore
	Store     ledger.Store
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Award attempts to grant points for a triggering event.
func (h *Handler) Award(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Category == "" || req.TargetRef == "" {
		writeError(w, http.StatusBadRequest, "category and target_ref are required", nil)
		return
	}

	result, err := h.Ledger.Award(r.Context(),
		ledger.AccountID(accountID), ledger.Category(req.Category), req.TargetRef, req.SelfTarget)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAwardResultDTO(result))
}

// Debit performs a manual administrative deduction.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Category == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "category and a positive amount are required", nil)
		return
	}

	balance, err := h.Ledger.Debit(r.Context(),
		ledger.AccountID(accountID), ledger.Category(req.Category), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Category: req.Category, Balance: balance})
}

// GetBalance returns the account's balance for every configured category.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	policies, err := h.Policies.Policies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]BalanceDTO, 0, len(policies))
	for _, p := range policies {
		balance, err := h.Ledger.Balance(r.Context(), accountID, p.Category)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
			return
		}
		dtos = append(dtos, BalanceDTO{Category: string(p.Category), Balance: balance})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetQuota returns today's remaining allowance for one category.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	category := ledger.Category(r.URL.Query().Get("category"))
	if category == "" {
		writeError(w, http.StatusBadRequest, "category query parameter is required", nil)
		return
	}

	remaining, err := h.Ledger.RemainingQuota(r.Context(), accountID, category)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuotaDTO{
		Category:  string(category),
		Remaining: remaining,
		Day:       string(ledger.DayKeyAt(h.Ledger.Clock.Now())),
	})
}

// GetEntries returns the account's ledger history for one category.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	category := ledger.Category(r.URL.Query().Get("category"))
	if category == "" {
		writeError(w, http.StatusBadRequest, "category query parameter is required", nil)
		return
	}

	entries, err := h.Store.Entries(r.Context(), accountID, category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REVERSAL HANDLER
// =============================================================================

// Reverse undoes a prior award after its triggering event was deleted.
// Only the entry's owner or an administrator may reverse it.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	entryID := ledger.EntryID(chi.URLParam(r, "id"))

	var owner ledger.AccountID
	err := h.Store.View(r.Context(), func(tx ledger.Txn) error {
		entry, err := tx.Entry(r.Context(), entryID)
		if err != nil {
			return err
		}
		owner = entry.AccountID
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !isAdmin(r) && callerAccount(r) != string(owner) {
		writeError(w, http.StatusForbidden, "Not your entry", nil)
		return
	}

	balance, err := h.Reversals.Reverse(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReverseResultDTO{NewBalance: balance})
}

// =============================================================================
// COUPON HANDLERS
// =============================================================================

// IssueCoupon creates a coupon in the Issued state.
func (h *Handler) IssueCoupon(w http.ResponseWriter, r *http.Request) {
	var req IssueCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}

	c, err := h.Coupons.Issue(r.Context(), ledger.AccountID(req.AccountID), req.Reason, req.IsHalf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponDTO(c))
}

// ListCoupons returns the account's coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	coupons, err := h.CouponDB.ByAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list coupons", err)
		return
	}

	dtos := make([]CouponDTO, len(coupons))
	for i, c := range coupons {
		dtos[i] = toCouponDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UseCoupon redeems a coupon with the counter secret.
func (h *Handler) UseCoupon(w http.ResponseWriter, r *http.Request) {
	id := coupon.ID(chi.URLParam(r, "id"))

	var req UseCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Coupons.Use(r.Context(), id, req.Secret); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RevokeCoupon revokes an issued coupon.
func (h *Handler) RevokeCoupon(w http.ResponseWriter, r *http.Request) {
	id := coupon.ID(chi.URLParam(r, "id"))

	if err := h.Coupons.Revoke(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all configured policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Policies.Policies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePolicy creates or updates a category's policy. Changes apply to the
// next transaction; existing entries and windows are untouched.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	var req PolicyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UnitAward < 1 || req.DailyCap < 1 {
		writeError(w, http.StatusBadRequest, "unit_award and daily_cap must be >= 1", nil)
		return
	}
	scope := ledger.DedupScope(req.DedupScope)
	if scope != ledger.DedupNone && scope != ledger.DedupPerTarget {
		writeError(w, http.StatusBadRequest, "dedup_scope must be none or per-target", nil)
		return
	}

	err := h.Policies.SavePolicy(r.Context(), ledger.Policy{
		Category:           ledger.Category(category),
		UnitAward:          req.UnitAward,
		DailyCap:           req.DailyCap,
		DedupScope:         scope,
		SelfTargetExcluded: req.SelfTargetExcluded,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}

	saved, err := h.Policies.Policy(r.Context(), ledger.Category(category))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(saved))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err), errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrAlreadyReversed), errors.Is(err, coupon.ErrInvalidState):
		writeError(w, http.StatusConflict, "Conflicting state", err)
	case errors.Is(err, coupon.ErrInvalidSecret):
		writeError(w, http.StatusForbidden, "Invalid secret", err)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusServiceUnavailable, "Busy, try again", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
