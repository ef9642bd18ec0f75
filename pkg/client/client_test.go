package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmerrifield20/ArthaIntegrity/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubIntegrityServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/commitments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer op-token" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["record_id"] == "LN-DONE" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{
				"error":    "record LN-DONE already committed",
				"existing": map[string]any{"record_id": "LN-DONE", "status": "COMMITTED", "ledger_ref": "tx-old"},
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"record_id":   req["record_id"],
			"record_type": req["record_type"],
			"status":      "COMMITTED",
			"digest":      strings.Repeat("ab", 32),
			"ledger_ref":  "tx-1",
			"version":     1,
		})
	})

	mux.HandleFunc("/api/v1/commitments/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/commitments/")
		id, suffix, _ := strings.Cut(rest, "/")

		switch suffix {
		case "":
			json.NewEncoder(w).Encode(map[string]any{"record_id": id, "status": "NOT_COMMITTED"})
		case "followup":
			json.NewEncoder(w).Encode(map[string]any{"record_id": id, "status": "FOLLOWUP_COMMITTED", "followup_ledger_ref": "tx-2"})
		case "verify":
			json.NewEncoder(w).Encode(map[string]any{
				"record_id": id,
				"verdict":   "MISMATCH",
				"commit":    map[string]any{"verdict": "MISMATCH", "ledger_ref": "tx-1", "reason": "record changed since commit"},
			})
		case "proof":
			if id == "LN-NEW" {
				http.Error(w, `{"error":"record is not committed"}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"record_id": id, "digest_hex": "00ff", "ledger_ref": "tx-1", "chain_name": "artha-chain"})
		case "preview":
			json.NewEncoder(w).Encode(map[string]any{
				"record_id":   id,
				"record_type": r.URL.Query().Get("type"),
				"canonical":   "artha-integrity/v1/LOAN",
				"digest_hex":  "00ff",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	mux.HandleFunc("/api/v1/audit/entries", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{"index": 2, "action": q.Get("action"), "record_id": q.Get("record_id"), "actor": "ops", "hash": "h2"},
			},
			"count": 1,
		})
	})

	mux.HandleFunc("/api/v1/audit/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"valid": false, "broken_index": 7, "error": "audit chain broken at entry 7"})
	})

	mux.HandleFunc("/api/v1/ledger/entries", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{
			"stream": q.Get("stream") + "_storage",
			"total":  12,
			"limit":  50,
			"entries": []map[string]any{
				{"ref": "tx-9", "key": "loan_LN-9", "confirmations": 3,
					"envelope": map[string]any{"kind": "commit", "record_id": "LN-9", "digest": "00ff"}},
			},
		})
	})

	mux.HandleFunc("/api/v1/ledger/entries/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/api/v1/ledger/entries/")
		if ref != "tx-9" {
			http.Error(w, `{"error":"ledger entry not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ref": ref, "key": "kyc_K-1", "confirmations": 7, "data": map[string]any{"legacy": true}})
	})

	mux.HandleFunc("/api/v1/ledger/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"chain": "artha-chain", "loans": 4, "repayments": 1, "repayment_rate_percentage": 25})
	})

	return httptest.NewServer(mux)
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestNew_invalidURL(t *testing.T) {
	if _, err := client.New("not a url"); err == nil {
		t.Error("expected error for invalid base URL")
	}
}

func TestCommit_success(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("op-token"))
	rec, err := c.Commit(context.Background(), "LN-1", "LOAN")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rec.Status != "COMMITTED" || rec.LedgerRef != "tx-1" || rec.RecordType != "LOAN" {
		t.Errorf("unexpected commitment: %+v", rec)
	}
}

func TestCommit_unauthorized(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.Commit(context.Background(), "LN-1", "LOAN")
	if !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCommit_conflictCarriesExisting(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("op-token"))
	_, err := c.Commit(context.Background(), "LN-DONE", "LOAN")
	if !errors.Is(err, client.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Existing == nil || apiErr.Existing.LedgerRef != "tx-old" {
		t.Errorf("existing commitment not decoded: %+v", apiErr.Existing)
	}
}

func TestStatus_unseenRecord(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	rec, err := c.Status(context.Background(), "LN-NEW")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.Status != "NOT_COMMITTED" {
		t.Errorf("status: got %s", rec.Status)
	}
}

func TestCommitFollowup_success(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	rec, err := c.CommitFollowup(context.Background(), "LN-1")
	if err != nil {
		t.Fatalf("CommitFollowup: %v", err)
	}
	if rec.Status != "FOLLOWUP_COMMITTED" || rec.FollowupLedgerRef != "tx-2" {
		t.Errorf("unexpected commitment: %+v", rec)
	}
}

func TestVerify_mismatch(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	res, err := c.Verify(context.Background(), "LN-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Verdict != "MISMATCH" || res.Commit == nil || res.Commit.Reason == "" {
		t.Errorf("unexpected verification: %+v", res)
	}
}

func TestProof(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)

	p, err := c.Proof(context.Background(), "LN-1")
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if p.ChainName != "artha-chain" || p.DigestHex != "00ff" {
		t.Errorf("unexpected proof: %+v", p)
	}

	_, err = c.Proof(context.Background(), "LN-NEW")
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound for uncommitted record, got %v", err)
	}
}

func TestPreview_passesType(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	p, err := c.Preview(context.Background(), "LN-1", "LOAN")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.RecordType != "LOAN" {
		t.Errorf("record type: got %q", p.RecordType)
	}
}

func TestAuditEntries_query(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	entries, err := c.AuditEntries(context.Background(), client.AuditQuery{RecordID: "LN-1", Action: "commit", Limit: 5})
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].RecordID != "LN-1" || entries[0].Action != "commit" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestAuditVerify_broken(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	res, err := c.AuditVerify(context.Background())
	if err != nil {
		t.Fatalf("AuditVerify: %v", err)
	}
	if res.Valid || res.BrokenIndex == nil || *res.BrokenIndex != 7 {
		t.Errorf("unexpected integrity result: %+v", res)
	}
}

func TestLedgerEntries_query(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	page, err := c.LedgerEntries(context.Background(), "loan", 0, 0)
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	if page.Stream != "loan_storage" || page.Total != 12 || len(page.Entries) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if e := page.Entries[0]; e.Envelope == nil || e.Envelope.RecordID != "LN-9" || e.Confirmations != 3 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestLedgerEntry_legacyAndMissing(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	e, err := c.LedgerEntry(context.Background(), "tx-9")
	if err != nil {
		t.Fatalf("LedgerEntry: %v", err)
	}
	if e.Envelope != nil || string(e.Data) != `{"legacy":true}` {
		t.Errorf("unexpected entry: %+v", e)
	}

	_, err = c.LedgerEntry(context.Background(), "tx-missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerStats(t *testing.T) {
	srv := stubIntegrityServer(t)
	defer srv.Close()

	stats, err := client.MustNew(srv.URL).LedgerStats(context.Background())
	if err != nil {
		t.Fatalf("LedgerStats: %v", err)
	}
	if stats.Loans != 4 || stats.Repayments != 1 || stats.RepaymentRatePercentage != 25 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestAPIError_plainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.Status(context.Background(), "LN-1")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream exploded" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}
