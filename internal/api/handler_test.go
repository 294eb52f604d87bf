package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SettleLedger/internal/api"
	"SettleLedger/internal/core"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/query"
)

var testMetrics = observability.NewMetrics()

// newTestHandler wires the API over an in-memory store. The query service
// is Postgres-backed and not exercised here; the routes under test go
// through the engine.
func newTestHandler() http.Handler {
	store := persistence.NewMemoryStore()
	engine := core.NewEngine(store, testMetrics, zerolog.Nop())
	srv := api.NewServer(":0", engine, query.NewService(nil), nil, zerolog.Nop())
	return srv.Handler
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func createAccount(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/accounts", map[string]interface{}{
		"client":            "acme",
		"exchange":          "nyx",
		"owner_share_pct":   "1",
		"counter_share_pct": "9",
		"precision":         2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: status %d, body %s", rec.Code, rec.Body.String())
	}
	id, _ := resp["account_id"].(string)
	if id == "" {
		t.Fatal("create account response missing account_id")
	}
	return id
}

func fund(t *testing.T, h http.Handler, accountID, amount string) {
	t.Helper()
	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/accounts/"+accountID+"/funding",
		map[string]string{"amount": amount, "ref": "wire-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("funding: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func observeBalance(t *testing.T, h http.Handler, accountID, balance string, step int) map[string]interface{} {
	t.Helper()
	observedAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC).
		Add(time.Duration(step) * time.Minute)
	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/accounts/"+accountID+"/observations",
		map[string]interface{}{
			"observation_id": uuid.New().String(),
			"balance":        balance,
			"observed_at_us": observedAt.UnixMicro(),
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("observe: status %d, body %s", rec.Code, rec.Body.String())
	}
	return resp
}

func TestCreateAccount_BadRequests(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status %d, want 400", rec.Code)
	}

	rec2, _ := doJSON(t, h, http.MethodPost, "/api/v1/accounts", map[string]interface{}{
		"client":          "acme",
		"exchange":        "nyx",
		"owner_share_pct": "x",
	})
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("bad percentage: status %d, want 400", rec2.Code)
	}

	// Well-formed but semantically invalid goes through the engine and
	// comes back 422.
	rec3, _ := doJSON(t, h, http.MethodPost, "/api/v1/accounts", map[string]interface{}{
		"client":          "",
		"exchange":        "nyx",
		"owner_share_pct": "10",
	})
	if rec3.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty client: status %d, want 422", rec3.Code)
	}
}

func TestUnknownAccountIs404(t *testing.T) {
	h := newTestHandler()
	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/accounts/"+uuid.New().String()+"/funding",
		map[string]string{"amount": "100", "ref": "wire-1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestInvalidAccountIDIs400(t *testing.T) {
	h := newTestHandler()
	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/accounts/not-a-uuid/funding",
		map[string]string{"amount": "100", "ref": "wire-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	h := newTestHandler()
	accountID := createAccount(t, h)
	fund(t, h, accountID, "100")

	obs := observeBalance(t, h, accountID, "40", 1)
	if froze, _ := obs["froze_snapshot"].(bool); !froze {
		t.Fatalf("observation should freeze a loss, got %v", obs)
	}
	snapshotID, _ := obs["open_snapshot_id"].(string)
	observationID, _ := obs["observation_id"].(string)
	if snapshotID == "" || observationID == "" {
		t.Fatalf("missing ids in observation response: %v", obs)
	}

	rec, settled := doJSON(t, h, http.MethodPost, "/api/v1/accounts/"+accountID+"/settlements",
		map[string]string{
			"snapshot_id":    snapshotID,
			"observation_id": observationID,
			"payment":        "3",
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := fmt.Sprintf("%v", settled["remaining"]); got != "30" {
		t.Errorf("remaining = %v, want 30", settled["remaining"])
	}
	if done, _ := settled["settled"].(bool); done {
		t.Error("partial payment should not settle")
	}

	// Retried payment: 200 with the duplicate flag, not an error.
	rec2, dup := doJSON(t, h, http.MethodPost, "/api/v1/accounts/"+accountID+"/settlements",
		map[string]string{
			"snapshot_id":    snapshotID,
			"observation_id": observationID,
			"payment":        "3",
		})
	if rec2.Code != http.StatusOK {
		t.Fatalf("duplicate settle: status %d, body %s", rec2.Code, rec2.Body.String())
	}
	if isDup, _ := dup["duplicate"].(bool); !isDup {
		t.Errorf("duplicate settle response: %v", dup)
	}
}

func TestSettleOverpaymentIs422(t *testing.T) {
	h := newTestHandler()
	accountID := createAccount(t, h)
	fund(t, h, accountID, "100")
	obs := observeBalance(t, h, accountID, "40", 1)

	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/accounts/"+accountID+"/settlements",
		map[string]string{
			"snapshot_id":    obs["open_snapshot_id"].(string),
			"observation_id": obs["observation_id"].(string),
			"payment":        "7",
		})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overpayment: status %d, want 422", rec.Code)
	}
	if msg, _ := resp["error"].(string); msg == "" {
		t.Error("validation rejection should carry the reason")
	}
}

func TestFundingBlockedWhileExposureOpenOverHTTP(t *testing.T) {
	h := newTestHandler()
	accountID := createAccount(t, h)
	fund(t, h, accountID, "100")
	observeBalance(t, h, accountID, "40", 1)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/accounts/"+accountID+"/funding",
		map[string]string{"amount": "10", "ref": "wire-2"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("funding while open: status %d, want 422", rec.Code)
	}
}

func TestInvalidateExposureOverHTTP(t *testing.T) {
	h := newTestHandler()
	accountID := createAccount(t, h)
	fund(t, h, accountID, "100")
	obs := observeBalance(t, h, accountID, "40", 1)
	snapshotID := obs["open_snapshot_id"].(string)

	req := httptest.NewRequest(http.MethodDelete,
		"/api/v1/accounts/"+accountID+"/exposure/"+snapshotID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate: status %d, body %s", rec.Code, rec.Body.String())
	}
}
