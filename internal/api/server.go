// Package api exposes the engine and query services over HTTP/JSON. The
// core itself is transport-agnostic; this is the thin surface the UI and
// report layers talk to.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"SettleLedger/internal/core"
	"SettleLedger/internal/ingestion"
	"SettleLedger/internal/query"
)

// NewServer creates an HTTP server with all routes configured. publisher
// may be nil when NATS is not configured.
func NewServer(addr string, engine *core.Engine, queries *query.Service, publisher *ingestion.Publisher, log zerolog.Logger) *http.Server {
	handler := NewHandler(engine, queries, publisher, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/accounts", handler.CreateAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}", handler.GetAccount)
	mux.HandleFunc("PUT /api/v1/accounts/{id}/shares", handler.UpdateShares)

	mux.HandleFunc("POST /api/v1/accounts/{id}/funding", handler.RecordFunding)
	mux.HandleFunc("GET /api/v1/accounts/{id}/capital", handler.GetCapital)
	mux.HandleFunc("POST /api/v1/accounts/{id}/capital/repair", handler.RepairCapital)

	mux.HandleFunc("POST /api/v1/accounts/{id}/observations", handler.ObserveBalance)
	mux.HandleFunc("GET /api/v1/accounts/{id}/exposure", handler.GetOpenExposure)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}/exposure/{snapshotId}", handler.InvalidateExposure)

	mux.HandleFunc("POST /api/v1/accounts/{id}/settlements", handler.Settle)

	mux.HandleFunc("GET /api/v1/accounts/{id}/ledger", handler.GetLedgerHistory)
	mux.HandleFunc("GET /api/v1/accounts/{id}/settlements", handler.GetSettlementHistory)
	mux.HandleFunc("GET /api/v1/accounts/{id}/observations", handler.GetObservationHistory)

	mux.HandleFunc("GET /api/v1/reconciliation", handler.ReconcileCapital)

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
