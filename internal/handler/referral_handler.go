package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/service"
	"biliticket/referralhub/pkg/response"
)

type ReferralHandler struct {
	processor service.ReferralProcessor
	registry  service.CodeRegistry
	queries   service.QueryService
	logger    *zap.Logger
}

func NewReferralHandler(
	processor service.ReferralProcessor,
	registry service.CodeRegistry,
	queries service.QueryService,
	logger *zap.Logger,
) *ReferralHandler {
	return &ReferralHandler{processor: processor, registry: registry, queries: queries, logger: logger}
}

type RegisterRequest struct {
	ReferralCode string `json:"referral_code"`
}

// Register places the caller in the network, optionally under the owner of
// referral_code, and returns the caller's own code.
func (h *ReferralHandler) Register(c *gin.Context) {
	identity, err := getIdentityFromContext(c)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}

	// An empty body registers without a referral code.
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.processor.Register(c.Request.Context(), identity, req.ReferralCode)
	if err != nil {
		h.logger.Error("register failed", zap.String("user", identity.UserID.String()), zap.Error(err))
		response.Rejected(c, http.StatusServiceUnavailable, string(service.ReasonTransientStoreError),
			"referral could not be recorded, retry later", nil)
		return
	}
	if !reg.Outcome.Accepted {
		reason := reg.Outcome.Reason
		response.Rejected(c, statusForReason(reason), string(reason), "referral rejected", reg.Outcome)
		return
	}

	response.Success(c, reg)
}

// MyCode returns the caller's active code, issuing one when none exists.
func (h *ReferralHandler) MyCode(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}

	code, err := h.registry.IssueCode(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err, "failed to issue referral code")
		return
	}
	response.Success(c, code)
}

// ValidateCode is public so registration forms can check a code early.
func (h *ReferralHandler) ValidateCode(c *gin.Context) {
	code := model.NormalizeCode(c.Param("code"))
	reason, err := h.registry.ValidateCode(c.Request.Context(), code)
	switch {
	case err != nil:
		writeServiceError(c, err, "failed to validate code")
	case reason == service.ReasonAccepted:
		response.Success(c, gin.H{"code": code, "valid": true})
	default:
		response.Success(c, gin.H{"code": code, "valid": false, "reason": reason})
	}
}

func (h *ReferralHandler) DirectReferrals(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}

	status, ok := edgeStatusQuery(c)
	if !ok {
		return
	}
	edges, err := h.queries.DirectReferralsOf(c.Request.Context(), userID, status)
	if err != nil {
		writeServiceError(c, err, "failed to list referrals")
		return
	}
	if edges == nil {
		edges = []model.ReferralEdge{}
	}
	response.Success(c, edges)
}

func (h *ReferralHandler) Network(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}

	view, err := h.queries.NetworkOf(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err, "failed to load network")
		return
	}
	response.Success(c, view)
}

func (h *ReferralHandler) Stats(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}

	stats, err := h.queries.StatsOf(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err, "failed to load stats")
		return
	}
	response.Success(c, stats)
}
