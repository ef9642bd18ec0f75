package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ArthaIntegrity/internal/api/handler"
	"github.com/jmerrifield20/ArthaIntegrity/internal/audit"
	"github.com/jmerrifield20/ArthaIntegrity/internal/commitment"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/jmerrifield20/ArthaIntegrity/internal/identity"
	"github.com/jmerrifield20/ArthaIntegrity/internal/integrity"
	"github.com/jmerrifield20/ArthaIntegrity/internal/ledger"
	"github.com/jmerrifield20/ArthaIntegrity/internal/proof"
	"github.com/jmerrifield20/ArthaIntegrity/internal/sor"
	"github.com/jmerrifield20/ArthaIntegrity/internal/verify"
	"go.uber.org/zap"
)

// rejectingLedger rejects every publish.
type rejectingLedger struct{ *ledger.MemoryLedger }

func (rejectingLedger) Publish(context.Context, string, []byte) (string, error) {
	return "", &ledger.RejectedError{Op: "publish", Code: -1, Message: "stream closed"}
}

// downLedger fails every call as unreachable.
type downLedger struct{ *ledger.MemoryLedger }

func (downLedger) Publish(context.Context, string, []byte) (string, error) {
	return "", &ledger.TransientError{Op: "publish", Err: errors.New("connection refused")}
}

func (downLedger) FetchByRef(context.Context, string) ([]byte, error) {
	return nil, &ledger.TransientError{Op: "fetch_by_ref", Err: errors.New("connection refused")}
}

type testEnv struct {
	router  *gin.Engine
	records *sor.MemoryReader
	journal *audit.MemoryLog
	token   string
}

func newTestEnv(t *testing.T, client ledger.Client) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records := sor.NewMemoryReader()
	m := commitment.NewMachine(commitment.NewMemoryStore(), client, commitment.NewKeyedMutex(), zap.NewNop())
	journal := audit.NewMemoryLog()
	svc := integrity.NewService(records, m, verify.NewEngine(m, records, client, zap.NewNop()),
		proof.NewBuilder(m, "artha-chain"), journal, zap.NewNop())

	admin, err := identity.NewAdminTokenIssuer("s3cret", "integrityd", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := admin.Issue("ops@artha", 0)
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewCommitmentHandler(svc, admin, zap.NewNop()).Register(v1)
	handler.NewAuditHandler(journal, zap.NewNop()).Register(v1)
	return &testEnv{router: r, records: records, journal: journal, token: tok}
}

func (e *testEnv) do(method, path string, body any, auth bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func putLoan(e *testEnv, id string) {
	e.records.Put(digest.RecordTypeLoan, id, map[string]any{"amount": 50000, "borrower": "A", "lender": "B"})
}

func TestCommit_201(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")

	w := env.do(http.MethodPost, "/api/v1/commitments", map[string]string{"record_id": "LN-1", "record_type": "loan"}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["status"] != "COMMITTED" {
		t.Errorf("status: got %v", resp["status"])
	}
	if resp["ledger_ref"] == "" {
		t.Error("expected a ledger_ref")
	}

	entries, _ := env.journal.List(context.Background(), audit.Filter{RecordID: "LN-1"})
	if len(entries) != 1 || entries[0].Actor != "ops@artha" {
		t.Errorf("expected one commit entry by ops@artha, got %+v", entries)
	}
}

func TestCommit_401_withoutToken(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")

	w := env.do(http.MethodPost, "/api/v1/commitments", map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCommit_409_secondCommitReturnsExisting(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")
	body := map[string]string{"record_id": "LN-1", "record_type": "LOAN"}

	first := decode(t, env.do(http.MethodPost, "/api/v1/commitments", body, true))

	w := env.do(http.MethodPost, "/api/v1/commitments", body, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	existing, ok := decode(t, w)["existing"].(map[string]any)
	if !ok {
		t.Fatalf("expected existing record in body: %s", w.Body.String())
	}
	if existing["ledger_ref"] != first["ledger_ref"] {
		t.Errorf("existing ledger_ref %v, want %v", existing["ledger_ref"], first["ledger_ref"])
	}
}

func TestCommit_errorMapping(t *testing.T) {
	tests := []struct {
		name   string
		client ledger.Client
		body   map[string]string
		seed   bool
		want   int
	}{
		{"missing body field", ledger.NewMemoryLedger(), map[string]string{"record_id": "LN-1"}, true, http.StatusBadRequest},
		{"unknown type", ledger.NewMemoryLedger(), map[string]string{"record_id": "LN-1", "record_type": "CAR"}, true, http.StatusBadRequest},
		{"record not in system of record", ledger.NewMemoryLedger(), map[string]string{"record_id": "LN-404", "record_type": "LOAN"}, false, http.StatusNotFound},
		{"ledger rejects", rejectingLedger{ledger.NewMemoryLedger()}, map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, true, http.StatusUnprocessableEntity},
		{"ledger unreachable", downLedger{ledger.NewMemoryLedger()}, map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, true, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.client)
			if tt.seed {
				putLoan(env, "LN-1")
			}
			w := env.do(http.MethodPost, "/api/v1/commitments", tt.body, true)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestCommit_400_invalidRecord(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	env.records.Put(digest.RecordTypeLoan, "LN-1", map[string]any{"amount": "fifty", "borrower": "A", "lender": "B"})

	w := env.do(http.MethodPost, "/api/v1/commitments", map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFollowup_409_beforeCommit(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")

	w := env.do(http.MethodPost, "/api/v1/commitments/LN-1/followup", nil, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFollowup_201(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	env.records.Put(digest.RecordTypeLoan, "LN-1", map[string]any{
		"amount": 50000, "borrower": "A", "lender": "B",
		"repayment_amount": 52000, "repaid_at": "2026-03-01T10:00:00Z",
	})
	env.do(http.MethodPost, "/api/v1/commitments", map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, true)

	w := env.do(http.MethodPost, "/api/v1/commitments/LN-1/followup", nil, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["status"] != "FOLLOWUP_COMMITTED" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestStatus_unseenRecordIsNotCommitted(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())

	w := env.do(http.MethodGet, "/api/v1/commitments/LN-9", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["status"] != "NOT_COMMITTED" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestVerify_verdicts(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")
	env.do(http.MethodPost, "/api/v1/commitments", map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, true)

	w := env.do(http.MethodGet, "/api/v1/commitments/LN-1/verify", nil, true)
	if w.Code != http.StatusOK || decode(t, w)["verdict"] != "MATCH" {
		t.Fatalf("expected MATCH, got %d: %s", w.Code, w.Body.String())
	}

	if err := env.records.Set(digest.RecordTypeLoan, "LN-1", "amount", 30000); err != nil {
		t.Fatal(err)
	}
	w = env.do(http.MethodGet, "/api/v1/commitments/LN-1/verify", nil, true)
	if w.Code != http.StatusOK || decode(t, w)["verdict"] != "MISMATCH" {
		t.Fatalf("expected MISMATCH, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodGet, "/api/v1/commitments/LN-2/verify", nil, true)
	if decode(t, w)["verdict"] != "NOT_COMMITTED" {
		t.Errorf("expected NOT_COMMITTED, got %s", w.Body.String())
	}
}

func TestProof_200and404(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")
	env.do(http.MethodPost, "/api/v1/commitments", map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, true)

	w := env.do(http.MethodGet, "/api/v1/commitments/LN-1/proof", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["chain_name"] != "artha-chain" || resp["digest_hex"] == "" {
		t.Errorf("unexpected proof: %s", w.Body.String())
	}

	w = env.do(http.MethodGet, "/api/v1/commitments/LN-2/proof", nil, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestVerifyAndProof_requireToken(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")
	env.do(http.MethodPost, "/api/v1/commitments", map[string]string{"record_id": "LN-1", "record_type": "LOAN"}, true)
	before, _ := env.journal.Len(context.Background())

	for _, path := range []string{
		"/api/v1/commitments/LN-1/verify",
		"/api/v1/commitments/LN-1/proof",
		"/api/v1/commitments/ANY-ID/verify",
	} {
		if w := env.do(http.MethodGet, path, nil, false); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}

	after, _ := env.journal.Len(context.Background())
	if after != before {
		t.Errorf("unauthenticated reads grew the journal from %d to %d", before, after)
	}
}

func TestPreview_200(t *testing.T) {
	env := newTestEnv(t, ledger.NewMemoryLedger())
	putLoan(env, "LN-1")

	w := env.do(http.MethodGet, "/api/v1/commitments/LN-1/preview?type=LOAN", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if len(resp["digest_hex"].(string)) != 64 {
		t.Errorf("digest_hex: got %v", resp["digest_hex"])
	}

	w = env.do(http.MethodGet, "/api/v1/commitments/LN-1/preview", nil, false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing type: expected 400, got %d", w.Code)
	}
}
