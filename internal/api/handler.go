package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/core"
	"SettleLedger/internal/errs"
	"SettleLedger/internal/exposure"
	"SettleLedger/internal/ingestion"
	"SettleLedger/internal/query"
)

// Handler provides the HTTP endpoints over the engine and query services.
type Handler struct {
	engine    *core.Engine
	queries   *query.Service
	publisher *ingestion.Publisher
	log       zerolog.Logger
}

func NewHandler(engine *core.Engine, queries *query.Service, publisher *ingestion.Publisher, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, queries: queries, publisher: publisher, log: log}
}

type createAccountRequest struct {
	Client     string `json:"client"`
	Exchange   string `json:"exchange"`
	OwnerPct   string `json:"owner_share_pct"`
	CounterPct string `json:"counter_share_pct"`
	Precision  int32  `json:"precision"`
}

// CreateAccount handles POST /api/v1/accounts.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ownerPct, err := decimal.NewFromString(req.OwnerPct)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner_share_pct")
		return
	}
	counterPct := decimal.Zero
	if req.CounterPct != "" {
		counterPct, err = decimal.NewFromString(req.CounterPct)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid counter_share_pct")
			return
		}
	}

	account, err := h.engine.CreateAccount(r.Context(), req.Client, req.Exchange,
		exposure.SharePolicy{OwnerPct: ownerPct, CounterPct: counterPct}, req.Precision)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"account_id": account.ID,
		"client":     account.Client,
		"exchange":   account.Exchange,
	})
}

// GetAccount handles GET /api/v1/accounts/{id}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	summary, err := h.queries.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type updateSharesRequest struct {
	OwnerPct   string `json:"owner_share_pct"`
	CounterPct string `json:"counter_share_pct"`
}

// UpdateShares handles PUT /api/v1/accounts/{id}/shares.
func (h *Handler) UpdateShares(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req updateSharesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ownerPct, err := decimal.NewFromString(req.OwnerPct)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner_share_pct")
		return
	}
	counterPct, err := decimal.NewFromString(req.CounterPct)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid counter_share_pct")
		return
	}

	err = h.engine.UpdateShares(r.Context(), accountID,
		exposure.SharePolicy{OwnerPct: ownerPct, CounterPct: counterPct})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type fundingRequest struct {
	Amount string `json:"amount"`
	Ref    string `json:"ref"`
}

// RecordFunding handles POST /api/v1/accounts/{id}/funding.
func (h *Handler) RecordFunding(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req fundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	capital, err := h.engine.RecordFunding(r.Context(), accountID, amount, req.Ref)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"capital": capital})
}

// GetCapital handles GET /api/v1/accounts/{id}/capital.
func (h *Handler) GetCapital(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	resp, err := h.queries.GetCapital(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RepairCapital handles POST /api/v1/accounts/{id}/capital/repair.
func (h *Handler) RepairCapital(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	capital, err := h.engine.RepairCapital(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"capital": capital})
}

type observeRequest struct {
	ObservationID string `json:"observation_id"`
	Balance       string `json:"balance"`
	ObservedAtUs  int64  `json:"observed_at_us"`
}

// ObserveBalance handles POST /api/v1/accounts/{id}/observations.
func (h *Handler) ObserveBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req observeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	observationID, err := uuid.Parse(req.ObservationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid observation_id")
		return
	}
	balance, err := decimal.NewFromString(req.Balance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid balance")
		return
	}
	if req.ObservedAtUs <= 0 {
		writeError(w, http.StatusBadRequest, "observed_at_us must be positive")
		return
	}

	result, err := h.engine.ObserveBalance(r.Context(), accountID, observationID, balance, time.UnixMicro(req.ObservedAtUs))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	if h.publisher != nil && !result.Duplicate {
		if result.FrozeSnapshot {
			h.publisher.ExposureFrozen(r.Context(), accountID, result)
		}
		if result.WithdrawalID != nil {
			h.publisher.ProfitWithdrawn(r.Context(), accountID, result)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// GetOpenExposure handles GET /api/v1/accounts/{id}/exposure.
func (h *Handler) GetOpenExposure(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	resp, err := h.queries.GetOpenExposure(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, "no open exposure")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// InvalidateExposure handles DELETE /api/v1/accounts/{id}/exposure/{snapshotId}.
func (h *Handler) InvalidateExposure(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	snapshotID, err := uuid.Parse(r.PathValue("snapshotId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}

	if err := h.engine.InvalidateExposure(r.Context(), accountID, snapshotID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

type settleRequest struct {
	SnapshotID    string `json:"snapshot_id"`
	ObservationID string `json:"observation_id"`
	Payment       string `json:"payment"`
}

// Settle handles POST /api/v1/accounts/{id}/settlements. A duplicate
// request returns the prior committed result with 200 rather than an error.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	snapshotID, err := uuid.Parse(req.SnapshotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot_id")
		return
	}
	observationID, err := uuid.Parse(req.ObservationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid observation_id")
		return
	}
	payment, err := decimal.NewFromString(req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment")
		return
	}

	result, err := h.engine.Settle(r.Context(), accountID, snapshotID, observationID, payment)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	if h.publisher != nil && !result.Duplicate {
		h.publisher.SettlementApplied(r.Context(), accountID, result)
	}

	writeJSON(w, http.StatusOK, result)
}

// GetLedgerHistory handles GET /api/v1/accounts/{id}/ledger.
func (h *Handler) GetLedgerHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	limit, before, ok := h.pagination(w, r)
	if !ok {
		return
	}

	entries, err := h.queries.GetLedgerHistory(r.Context(), accountID, limit, before)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetSettlementHistory handles GET /api/v1/accounts/{id}/settlements.
func (h *Handler) GetSettlementHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	limit, before, ok := h.pagination(w, r)
	if !ok {
		return
	}

	events, err := h.queries.GetSettlementHistory(r.Context(), accountID, limit, before)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetObservationHistory handles GET /api/v1/accounts/{id}/observations.
func (h *Handler) GetObservationHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	limit, _, ok := h.pagination(w, r)
	if !ok {
		return
	}

	observations, err := h.queries.GetObservationHistory(r.Context(), accountID, limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, observations)
}

// ReconcileCapital handles GET /api/v1/reconciliation.
func (h *Handler) ReconcileCapital(w http.ResponseWriter, r *http.Request) {
	report, err := h.queries.ReconcileCapital(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) pagination(w http.ResponseWriter, r *http.Request) (int, *uuid.UUID, bool) {
	const maxLimit = 500
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return 0, nil, false
		}
		if n < maxLimit {
			limit = n
		} else {
			limit = maxLimit
		}
	}

	var before *uuid.UUID
	if b := r.URL.Query().Get("before"); b != "" {
		id, err := uuid.Parse(b)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return 0, nil, false
		}
		before = &id
	}

	return limit, before, true
}

// writeEngineError maps the error taxonomy onto HTTP statuses. Validation
// rejections surface verbatim; invariant violations are opaque to callers,
// with the detail logged for operators.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errs.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errs.IsInvariant(err):
		h.log.Error().Err(err).Msg("invariant violation surfaced to API")
		writeError(w, http.StatusInternalServerError, "settlement rejected, please retry")
	default:
		h.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
