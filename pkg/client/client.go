package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors matched by APIError.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
	// Existing is set on a 409 for an already committed record.
	Existing *Commitment
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match the sentinel for the status code.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// Commitment is the stored commitment state of one record.
type Commitment struct {
	RecordID            string     `json:"record_id"`
	RecordType          string     `json:"record_type"`
	Status              string     `json:"status"`
	Digest              string     `json:"digest,omitempty"`
	LedgerRef           string     `json:"ledger_ref,omitempty"`
	CommittedAt         *time.Time `json:"committed_at,omitempty"`
	FollowupDigest      string     `json:"followup_digest,omitempty"`
	FollowupLedgerRef   string     `json:"followup_ledger_ref,omitempty"`
	FollowupCommittedAt *time.Time `json:"followup_committed_at,omitempty"`
	Version             int64      `json:"version"`
}

// Check is the comparison of one committed digest.
type Check struct {
	Verdict         string `json:"verdict"`
	LedgerRef       string `json:"ledger_ref"`
	LedgerDigest    string `json:"ledger_digest,omitempty"`
	CurrentDigest   string `json:"current_digest,omitempty"`
	LocalDigest     string `json:"local_digest,omitempty"`
	LocalConsistent bool   `json:"local_consistent"`
	Reason          string `json:"reason,omitempty"`
}

// Verification is the outcome of a verify call.
type Verification struct {
	RecordID   string    `json:"record_id"`
	RecordType string    `json:"record_type,omitempty"`
	Status     string    `json:"status"`
	Verdict    string    `json:"verdict"`
	Commit     *Check    `json:"commit,omitempty"`
	Followup   *Check    `json:"followup,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Proof is the certificate data of a committed record.
type Proof struct {
	RecordID            string     `json:"record_id"`
	RecordType          string     `json:"record_type"`
	Status              string     `json:"status"`
	DigestHex           string     `json:"digest_hex"`
	LedgerRef           string     `json:"ledger_ref"`
	CommittedAt         time.Time  `json:"committed_at"`
	FollowupDigestHex   string     `json:"followup_digest_hex,omitempty"`
	FollowupLedgerRef   string     `json:"followup_ledger_ref,omitempty"`
	FollowupCommittedAt *time.Time `json:"followup_committed_at,omitempty"`
	ChainName           string     `json:"chain_name,omitempty"`
}

// Preview is the canonical form and digest a record would be committed with.
type Preview struct {
	RecordID   string `json:"record_id"`
	RecordType string `json:"record_type"`
	Canonical  string `json:"canonical"`
	DigestHex  string `json:"digest_hex"`
}

// AuditEntry is one journaled integrity action.
type AuditEntry struct {
	Index      int64     `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	Action     string    `json:"action"`
	RecordID   string    `json:"record_id,omitempty"`
	RecordType string    `json:"record_type,omitempty"`
	Actor      string    `json:"actor"`
	Outcome    string    `json:"outcome,omitempty"`
	LedgerRef  string    `json:"ledger_ref,omitempty"`
	DataHash   string    `json:"data_hash"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// AuditQuery narrows AuditEntries. Zero fields are omitted.
type AuditQuery struct {
	RecordID string
	Action   string
	Limit    int
	Offset   int
}

// AuditIntegrity is the result of walking the audit chain.
type AuditIntegrity struct {
	Valid       bool   `json:"valid"`
	BrokenIndex *int64 `json:"broken_index,omitempty"`
	Error       string `json:"error,omitempty"`
}

// LedgerEntry is one item of a ledger stream. Envelope is nil for entries
// that do not carry a commitment envelope; their raw JSON is in Data.
type LedgerEntry struct {
	Ref           string          `json:"ref"`
	Stream        string          `json:"stream"`
	Key           string          `json:"key"`
	Confirmations int             `json:"confirmations"`
	BlockTime     *time.Time      `json:"block_time,omitempty"`
	Publisher     string          `json:"publisher,omitempty"`
	Envelope      *LedgerEnvelope `json:"envelope,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// LedgerEnvelope is the commitment payload published to the ledger.
type LedgerEnvelope struct {
	Version     int               `json:"version"`
	Kind        string            `json:"kind"`
	RecordID    string            `json:"record_id"`
	RecordType  string            `json:"record_type"`
	Digest      string            `json:"digest"`
	CommittedAt time.Time         `json:"committed_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// LedgerPage is one page of a stream listing.
type LedgerPage struct {
	Stream  string        `json:"stream"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	Entries []LedgerEntry `json:"entries"`
}

// LedgerStats summarizes the ledger streams.
type LedgerStats struct {
	Chain                   string  `json:"chain"`
	Loans                   int     `json:"loans"`
	Repayments              int     `json:"repayments"`
	Identities              int     `json:"identities"`
	RepaymentRatePercentage float64 `json:"repayment_rate_percentage"`
}

// Client is the SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an operator token to every request. Commit,
// followup, verify and proof calls need one when the service has an admin
// secret configured.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the overall per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the service at baseURL.
//
//	c, err := client.New("http://localhost:8090", client.WithBearerToken(tok))
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Commit commits the current digest of a record. recordType is LOAN or IDENTITY.
func (c *Client) Commit(ctx context.Context, recordID, recordType string) (*Commitment, error) {
	body := map[string]string{"record_id": recordID, "record_type": recordType}
	var out Commitment
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/commitments", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CommitFollowup commits the repayment digest of a committed loan.
func (c *Client) CommitFollowup(ctx context.Context, recordID string) (*Commitment, error) {
	var out Commitment
	if err := c.doJSON(ctx, http.MethodPost, commitmentPath(recordID, "followup"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the stored commitment state. An unseen record reports
// NOT_COMMITTED rather than an error.
func (c *Client) Status(ctx context.Context, recordID string) (*Commitment, error) {
	var out Commitment
	if err := c.doJSON(ctx, http.MethodGet, commitmentPath(recordID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify recomputes a record's digest and compares it with the ledger.
// Ledger outages are reported as a verdict, not an error.
func (c *Client) Verify(ctx context.Context, recordID string) (*Verification, error) {
	var out Verification
	if err := c.doJSON(ctx, http.MethodGet, commitmentPath(recordID, "verify"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Proof returns the certificate data of a committed record. An uncommitted
// record yields an error matching ErrNotFound.
func (c *Client) Proof(ctx context.Context, recordID string) (*Proof, error) {
	var out Proof
	if err := c.doJSON(ctx, http.MethodGet, commitmentPath(recordID, "proof"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview returns the canonical form and digest without committing anything.
func (c *Client) Preview(ctx context.Context, recordID, recordType string) (*Preview, error) {
	path := commitmentPath(recordID, "preview") + "?type=" + url.QueryEscape(recordType)
	var out Preview
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditEntries lists audit entries newest first.
func (c *Client) AuditEntries(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	params := url.Values{}
	if q.RecordID != "" {
		params.Set("record_id", q.RecordID)
	}
	if q.Action != "" {
		params.Set("action", q.Action)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	path := "/api/v1/audit/entries"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// AuditVerify walks the audit chain on the server.
func (c *Client) AuditVerify(ctx context.Context) (*AuditIntegrity, error) {
	var out AuditIntegrity
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/audit/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LedgerEntries lists entries of stream (loan, repayment or identity), newest
// first. Zero limit and offset use the server defaults.
func (c *Client) LedgerEntries(ctx context.Context, stream string, limit, offset int) (*LedgerPage, error) {
	params := url.Values{}
	if stream != "" {
		params.Set("stream", stream)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/ledger/entries"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out LedgerPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LedgerEntry returns the ledger entry with the given reference.
func (c *Client) LedgerEntry(ctx context.Context, ref string) (*LedgerEntry, error) {
	var out LedgerEntry
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/entries/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LedgerStats returns per-stream item totals.
func (c *Client) LedgerStats(ctx context.Context) (*LedgerStats, error) {
	var out LedgerStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func commitmentPath(recordID, suffix string) string {
	p := "/api/v1/commitments/" + url.PathEscape(recordID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// doJSON sends reqBody (if non-nil) as JSON and decodes a 2xx response into
// respBody.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error    string      `json:"error"`
		Existing *Commitment `json:"existing"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Existing = payload.Existing
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
