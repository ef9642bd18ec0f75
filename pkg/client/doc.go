// Package client is the Go SDK for the Artha integrity service.
//
// It wraps the HTTP API that commits record digests to the ledger, verifies
// them later and serves proof certificates.
//
// # Committing a record
//
// Commit, followup, verify and proof calls need an operator token when the
// service is configured with an admin secret ('integrityctl token' mints one):
//
//	c, err := client.New("http://localhost:8090",
//	    client.WithBearerToken(os.Getenv("INTEGRITY_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rec, err := c.Commit(ctx, "LN-2024-0001", "LOAN")
//
// A second commit of the same record fails with an error matching
// ErrConflict; the stored commitment is available on the *APIError:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Existing != nil {
//	    fmt.Println(apiErr.Existing.LedgerRef)
//	}
//
// # Repayment followup
//
// Once a loan is repaid, commit its repayment digest:
//
//	rec, err := c.CommitFollowup(ctx, "LN-2024-0001")
//
// # Verification and proofs
//
// Reads are public:
//
//	res, err := c.Verify(ctx, "LN-2024-0001")
//	fmt.Println(res.Verdict) // MATCH, MISMATCH, NOT_COMMITTED or NOT_FOUND_ON_LEDGER
//
//	p, err := c.Proof(ctx, "LN-2024-0001")
//	fmt.Println(p.DigestHex, p.LedgerRef)
//
// # Audit trail
//
//	entries, err := c.AuditEntries(ctx, client.AuditQuery{RecordID: "LN-2024-0001"})
//	integrity, err := c.AuditVerify(ctx)
package client
