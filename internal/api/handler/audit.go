package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ArthaIntegrity/internal/audit"
	"go.uber.org/zap"
)

// AuditHandler exposes read-only HTTP endpoints for the audit journal.
type AuditHandler struct {
	journal audit.Log
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(journal audit.Log, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{journal: journal, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries", h.ListEntries)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /audit: returns the journal length and root hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.journal.Len(ctx)
	if err != nil {
		h.logger.Error("audit Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit log"})
		return
	}

	root, err := h.journal.Root(ctx)
	if err != nil {
		h.logger.Error("audit Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /audit/verify: walks the full chain and reports integrity.
func (h *AuditHandler) Verify(c *gin.Context) {
	err := h.journal.Verify(c.Request.Context())
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"valid": true})
		return
	}

	var chainErr *audit.ChainError
	if errors.As(err, &chainErr) {
		h.logger.Warn("audit chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid":        false,
			"broken_index": chainErr.Index,
			"error":        err.Error(),
		})
		return
	}

	h.logger.Error("audit Verify", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to walk audit log"})
}

// ListEntries handles GET /audit/entries?record_id=&action=&limit=&offset=.
func (h *AuditHandler) ListEntries(c *gin.Context) {
	f := audit.Filter{
		RecordID: c.Query("record_id"),
		Action:   audit.Action(c.Query("action")),
	}
	var err error
	if s := c.Query("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil || f.Limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
	}
	if s := c.Query("offset"); s != "" {
		if f.Offset, err = strconv.Atoi(s); err != nil || f.Offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
	}

	entries, err := h.journal.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("audit List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries"})
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetEntry handles GET /audit/entries/:idx: returns a single entry.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.ParseInt(c.Param("idx"), 10, 64)
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.journal.Get(c.Request.Context(), idx)
	if errors.Is(err, audit.ErrEntryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("audit Get", zap.Int64("idx", idx), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit entry"})
		return
	}

	c.JSON(http.StatusOK, entry)
}
