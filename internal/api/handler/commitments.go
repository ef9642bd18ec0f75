package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
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

// integrityService is the interface expected by CommitmentHandler, satisfied
// by *integrity.Service.
type integrityService interface {
	Commit(ctx context.Context, id string, rt digest.RecordType) (*commitment.Record, error)
	CommitFollowup(ctx context.Context, id string) (*commitment.Record, error)
	Verify(ctx context.Context, id string) (*verify.Result, error)
	Proof(ctx context.Context, id string) (*proof.Payload, error)
	Status(ctx context.Context, id string) (*commitment.Record, error)
	Preview(ctx context.Context, id string, rt digest.RecordType) ([]byte, digest.Digest, error)
}

// CommitmentHandler exposes the integrity operations over HTTP.
type CommitmentHandler struct {
	svc    integrityService
	admin  *identity.AdminTokenIssuer // nil = mutating routes are open
	logger *zap.Logger
}

// NewCommitmentHandler creates a CommitmentHandler. admin may be nil to
// leave mutating routes unguarded.
func NewCommitmentHandler(svc integrityService, admin *identity.AdminTokenIssuer, logger *zap.Logger) *CommitmentHandler {
	return &CommitmentHandler{svc: svc, admin: admin, logger: logger}
}

// Register mounts the commitment routes on the given router group.
func (h *CommitmentHandler) Register(rg *gin.RouterGroup) {
	guard := identity.RequireAdmin(h.admin)
	c := rg.Group("/commitments")
	{
		c.POST("", guard, h.Commit)
		c.GET("/:id", h.Status)
		c.POST("/:id/followup", guard, h.CommitFollowup)
		c.GET("/:id/verify", guard, h.Verify)
		c.GET("/:id/proof", guard, h.Proof)
		c.GET("/:id/preview", h.Preview)
	}
}

type commitRequest struct {
	RecordID   string `json:"record_id"   binding:"required"`
	RecordType string `json:"record_type" binding:"required"`
}

type previewResponse struct {
	RecordID   string            `json:"record_id"`
	RecordType digest.RecordType `json:"record_type"`
	Canonical  string            `json:"canonical"`
	DigestHex  string            `json:"digest_hex"`
}

// Commit handles POST /commitments: commits a record's current digest.
func (h *CommitmentHandler) Commit(c *gin.Context) {
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := digest.ParseRecordType(req.RecordType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.Commit(h.ctx(c), req.RecordID, rt)
	if err != nil {
		h.writeError(c, "commit", req.RecordID, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// CommitFollowup handles POST /commitments/:id/followup: commits a loan's
// repayment digest.
func (h *CommitmentHandler) CommitFollowup(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.svc.CommitFollowup(h.ctx(c), id)
	if err != nil {
		h.writeError(c, "followup", id, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Status handles GET /commitments/:id: returns the stored commitment state.
func (h *CommitmentHandler) Status(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "status", id, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Verify handles GET /commitments/:id/verify: every ledger outcome is a
// verdict in a 200 response.
func (h *CommitmentHandler) Verify(c *gin.Context) {
	id := c.Param("id")
	res, err := h.svc.Verify(h.ctx(c), id)
	if err != nil {
		h.writeError(c, "verify", id, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Proof handles GET /commitments/:id/proof: returns certificate data.
func (h *CommitmentHandler) Proof(c *gin.Context) {
	id := c.Param("id")
	p, err := h.svc.Proof(h.ctx(c), id)
	if err != nil {
		h.writeError(c, "proof", id, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Preview handles GET /commitments/:id/preview?type=LOAN: returns the
// canonical form and digest the record would be committed with.
func (h *CommitmentHandler) Preview(c *gin.Context) {
	id := c.Param("id")
	rt, err := digest.ParseRecordType(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	canonical, d, err := h.svc.Preview(c.Request.Context(), id, rt)
	if err != nil {
		h.writeError(c, "preview", id, err)
		return
	}
	c.JSON(http.StatusOK, previewResponse{
		RecordID:   id,
		RecordType: rt,
		Canonical:  string(canonical),
		DigestHex:  d.Hex(),
	})
}

// ctx attaches the verified operator, if any, to the request context.
func (h *CommitmentHandler) ctx(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if op := identity.OperatorFromCtx(c); op != "" {
		ctx = integrity.WithActor(ctx, op)
	}
	return ctx
}

// writeError maps an operation error to its HTTP status.
func (h *CommitmentHandler) writeError(c *gin.Context, op, id string, err error) {
	var (
		already    *commitment.AlreadyCommittedError
		transition *commitment.InvalidTransitionError
		invalid    *digest.InvalidRecordError
		failed     *commitment.CommitFailedError
	)
	switch {
	case errors.As(err, &already):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "existing": already.Existing})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, sor.ErrRecordNotFound), errors.Is(err, proof.ErrNotCommitted):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &failed) && failed.Step == commitment.StepPublish:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op, zap.String("record_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}
