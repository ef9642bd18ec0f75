package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MultiChain JSON-RPC error codes the client interprets.
const (
	rpcCodeInWarmup        = -28
	rpcCodeInvalidKey      = -5
	rpcCodeEntityNotFound  = -708
	rpcCodeTxNotFound      = -713
	rpcCodeDuplicateEntity = -705
)

// maxResponseBytes caps how much of a node response is read.
const maxResponseBytes = 4 << 20

// MultiChainConfig holds the node connection settings.
type MultiChainConfig struct {
	URL       string // e.g. http://127.0.0.1:6836
	User      string
	Password  string
	ChainName string
	Streams   Streams
	Timeout   time.Duration // HTTP client timeout; per-call deadlines come from the context
}

// MultiChainClient talks to a MultiChain node over JSON-RPC. It is safe for
// concurrent use; the underlying http.Client pools connections.
type MultiChainClient struct {
	cfg        MultiChainConfig
	httpClient *http.Client
	nextID     atomic.Int64
	logger     *zap.Logger
}

// NewMultiChainClient creates a client for the node at cfg.URL.
func NewMultiChainClient(cfg MultiChainConfig, logger *zap.Logger) *MultiChainClient {
	if cfg.Streams == (Streams{}) {
		cfg.Streams = DefaultStreams()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MultiChainClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SetHTTPClient replaces the HTTP client, e.g. to share a transport.
func (c *MultiChainClient) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

type rpcRequest struct {
	Method    string `json:"method"`
	Params    []any  `json:"params"`
	ID        int64  `json:"id"`
	ChainName string `json:"chain_name,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// streamItem is the subset of a MultiChain stream item the client reads.
type streamItem struct {
	TxID          string          `json:"txid"`
	Keys          []string        `json:"keys"`
	Data          json.RawMessage `json:"data"`
	Confirmations int             `json:"confirmations"`
	BlockTime     int64           `json:"blocktime"`
	Publishers    []string        `json:"publishers"`
}

// payload decodes the item data. Items published by this client are raw hex;
// items published as JSON objects come back as {"json": ...}.
func (it *streamItem) payload() ([]byte, error) {
	var s string
	if err := json.Unmarshal(it.Data, &s); err == nil {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode hex item data: %w", err)
		}
		return b, nil
	}

	var obj struct {
		JSON json.RawMessage `json:"json"`
		Text *string         `json:"text"`
	}
	if err := json.Unmarshal(it.Data, &obj); err != nil {
		return nil, fmt.Errorf("decode item data: %w", err)
	}
	switch {
	case len(obj.JSON) > 0:
		return obj.JSON, nil
	case obj.Text != nil:
		return []byte(*obj.Text), nil
	}
	return nil, errors.New("item data is not inline")
}

// info converts the item into an explorer view.
func (it *streamItem) info(stream string) *EntryInfo {
	info := &EntryInfo{Ref: it.TxID, Stream: stream, Confirmations: it.Confirmations}
	if len(it.Keys) > 0 {
		info.Key = it.Keys[0]
	}
	if len(it.Publishers) > 0 {
		info.Publisher = it.Publishers[0]
	}
	if it.BlockTime > 0 {
		t := time.Unix(it.BlockTime, 0).UTC()
		info.BlockTime = &t
	}
	if payload, err := it.payload(); err == nil {
		describePayload(info, payload)
	}
	return info
}

// Publish implements Client.
func (c *MultiChainClient) Publish(ctx context.Context, key string, payload []byte) (string, error) {
	stream, err := c.cfg.Streams.ForKey(key)
	if err != nil {
		return "", err
	}

	var txid string
	if err := c.call(ctx, "publish", []any{stream, key, hex.EncodeToString(payload)}, &txid); err != nil {
		return "", err
	}
	if txid == "" {
		return "", &RejectedError{Op: "publish", Message: "node returned empty txid"}
	}

	c.logger.Info("published to ledger",
		zap.String("stream", stream),
		zap.String("key", key),
		zap.String("txid", txid),
	)
	return txid, nil
}

// FetchLatest implements Client.
func (c *MultiChainClient) FetchLatest(ctx context.Context, key string) ([]byte, string, error) {
	stream, err := c.cfg.Streams.ForKey(key)
	if err != nil {
		return nil, "", err
	}

	var items []streamItem
	if err := c.call(ctx, "liststreamkeyitems", []any{stream, key, false, 1}, &items); err != nil {
		return nil, "", err
	}
	if len(items) == 0 {
		return nil, "", fmt.Errorf("key %q: %w", key, ErrNotFound)
	}

	latest := items[len(items)-1]
	payload, err := latest.payload()
	if err != nil {
		return nil, "", &RejectedError{Op: "liststreamkeyitems", Message: err.Error()}
	}
	return payload, latest.TxID, nil
}

// FetchByRef implements Client. The reference is a transaction id; each
// configured stream is probed until one holds it.
func (c *MultiChainClient) FetchByRef(ctx context.Context, ref string) ([]byte, error) {
	for _, stream := range c.cfg.Streams.All() {
		var item streamItem
		err := c.call(ctx, "getstreamitem", []any{stream, ref}, &item)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		payload, err := item.payload()
		if err != nil {
			return nil, &RejectedError{Op: "getstreamitem", Message: err.Error()}
		}
		return payload, nil
	}
	return nil, fmt.Errorf("ref %q: %w", ref, ErrNotFound)
}

// EnsureStreams creates the configured streams, ignoring those that already
// exist, and subscribes the node to each so key lookups are indexed.
func (c *MultiChainClient) EnsureStreams(ctx context.Context) error {
	for _, stream := range c.cfg.Streams.All() {
		err := c.call(ctx, "create", []any{"stream", stream, true}, nil)
		var rejected *RejectedError
		switch {
		case err == nil:
			c.logger.Info("ledger stream created", zap.String("stream", stream))
		case errors.As(err, &rejected) && (rejected.Code == rpcCodeDuplicateEntity ||
			strings.Contains(strings.ToLower(rejected.Message), "already exists")):
		default:
			return fmt.Errorf("create stream %s: %w", stream, err)
		}

		if err := c.call(ctx, "subscribe", []any{stream}, nil); err != nil {
			return fmt.Errorf("subscribe stream %s: %w", stream, err)
		}
	}
	return nil
}

// NodeInfo is the subset of getinfo reported by the health endpoint.
type NodeInfo struct {
	Version     string `json:"version"`
	ChainName   string `json:"chainname"`
	Blocks      int64  `json:"blocks"`
	Connections int    `json:"connections"`
}

// Info calls getinfo on the node.
func (c *MultiChainClient) Info(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.call(ctx, "getinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// streamInfo is the subset of a liststreams entry the explorer reads.
type streamInfo struct {
	Name  string `json:"name"`
	Items int    `json:"items"`
}

func (c *MultiChainClient) listStreams(ctx context.Context, names []string) (map[string]int, error) {
	var infos []streamInfo
	if err := c.call(ctx, "liststreams", []any{names}, &infos); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(infos))
	for _, s := range infos {
		counts[s.Name] = s.Items
	}
	return counts, nil
}

// ListEntries implements Explorer.
func (c *MultiChainClient) ListEntries(ctx context.Context, stream string, offset, limit int) (*EntryPage, error) {
	stream, err := c.cfg.Streams.Resolve(stream)
	if err != nil {
		return nil, err
	}
	counts, err := c.listStreams(ctx, []string{stream})
	if err != nil {
		return nil, err
	}
	total, ok := counts[stream]
	if !ok {
		return nil, fmt.Errorf("stream %q: %w", stream, ErrNotFound)
	}

	page := &EntryPage{Stream: stream, Total: total, Offset: offset, Limit: limit, Entries: []*EntryInfo{}}
	start, end := pageWindow(total, offset, limit)
	if end == start {
		return page, nil
	}

	var items []streamItem
	if err := c.call(ctx, "liststreamitems", []any{stream, true, end - start, start}, &items); err != nil {
		return nil, err
	}
	for i := len(items) - 1; i >= 0; i-- {
		page.Entries = append(page.Entries, items[i].info(stream))
	}
	return page, nil
}

// EntryDetail implements Explorer.
func (c *MultiChainClient) EntryDetail(ctx context.Context, ref string) (*EntryInfo, error) {
	for _, stream := range c.cfg.Streams.All() {
		var item streamItem
		err := c.call(ctx, "getstreamitem", []any{stream, ref, true}, &item)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return item.info(stream), nil
	}
	return nil, fmt.Errorf("ref %q: %w", ref, ErrNotFound)
}

// StreamCounts implements Explorer.
func (c *MultiChainClient) StreamCounts(ctx context.Context) (*StreamCounts, error) {
	counts, err := c.listStreams(ctx, c.cfg.Streams.All())
	if err != nil {
		return nil, err
	}
	return &StreamCounts{
		Loans:      counts[c.cfg.Streams.Loan],
		Repayments: counts[c.cfg.Streams.Repayment],
		Identities: counts[c.cfg.Streams.Identity],
	}, nil
}

// call performs one JSON-RPC round trip and classifies failures into
// TransientError, RejectedError or ErrNotFound.
func (c *MultiChainClient) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		Method:    method,
		Params:    params,
		ID:        c.nextID.Add(1),
		ChainName: c.cfg.ChainName,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransientError{Op: method, Err: fmt.Errorf("read response: %w", err)}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &RejectedError{Op: method, Code: resp.StatusCode, Message: "unauthorized"}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{Op: method, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		if resp.StatusCode >= 500 {
			return &TransientError{Op: method, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		}
		return &RejectedError{Op: method, Code: resp.StatusCode, Message: "malformed response"}
	}

	if e := rpcResp.Error; e != nil {
		switch e.Code {
		case rpcCodeInWarmup:
			return &TransientError{Op: method, Err: errors.New(e.Message)}
		case rpcCodeInvalidKey, rpcCodeEntityNotFound, rpcCodeTxNotFound:
			return fmt.Errorf("%s: %w: %s", method, ErrNotFound, e.Message)
		}
		return &RejectedError{Op: method, Code: e.Code, Message: e.Message}
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return &TransientError{Op: method, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		}
		return &RejectedError{Op: method, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return &RejectedError{Op: method, Message: fmt.Sprintf("decode result: %v", err)}
	}
	return nil
}
