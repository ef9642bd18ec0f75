package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ArthaIntegrity/internal/ledger"
	"go.uber.org/zap"
)

const (
	defaultLedgerPage = 50
	maxLedgerPage     = 100
)

// LedgerHandler exposes a public, read-only view of the ledger streams so
// anyone can check that a commitment was published without an operator token.
type LedgerHandler struct {
	explorer  ledger.Explorer
	chainName string
	logger    *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(explorer ledger.Explorer, chainName string, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{explorer: explorer, chainName: chainName, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("/entries", h.ListEntries)
		l.GET("/entries/:ref", h.GetEntry)
		l.GET("/stats", h.Stats)
	}
}

// ListEntries handles GET /ledger/entries?stream=&limit=&offset=, newest first.
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	stream := c.DefaultQuery("stream", "loan")
	limit := defaultLedgerPage
	offset := 0
	var err error
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 || limit > maxLedgerPage {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
	}
	if s := c.Query("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
	}

	page, err := h.explorer.ListEntries(c.Request.Context(), stream, offset, limit)
	if err != nil {
		h.writeError(c, "ledger list", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetEntry handles GET /ledger/entries/:ref.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	info, err := h.explorer.EntryDetail(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.writeError(c, "ledger entry", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Stats handles GET /ledger/stats: item totals per stream and the share of
// committed loans that also carry a repayment entry.
func (h *LedgerHandler) Stats(c *gin.Context) {
	counts, err := h.explorer.StreamCounts(c.Request.Context())
	if err != nil {
		h.writeError(c, "ledger stats", err)
		return
	}

	var rate float64
	if counts.Loans > 0 {
		rate = math.Round(float64(counts.Repayments)/float64(counts.Loans)*10000) / 100
	}
	c.JSON(http.StatusOK, gin.H{
		"chain":                     h.chainName,
		"loans":                     counts.Loans,
		"repayments":                counts.Repayments,
		"identities":                counts.Identities,
		"repayment_rate_percentage": rate,
	})
}

func (h *LedgerHandler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownStream):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger entry not found"})
	case ledger.IsTransient(err):
		h.logger.Warn(op, zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": op + " failed"})
	}
}
