package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/service"
	"biliticket/referralhub/pkg/response"
)

type AdminHandler struct {
	registry   service.CodeRegistry
	tree       service.NetworkTree
	processor  service.ReferralProcessor
	aggregator service.StatsAggregator
	pageSize   int
	logger     *zap.Logger
}

func NewAdminHandler(
	registry service.CodeRegistry,
	tree service.NetworkTree,
	processor service.ReferralProcessor,
	aggregator service.StatsAggregator,
	pageSize int,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		registry:   registry,
		tree:       tree,
		processor:  processor,
		aggregator: aggregator,
		pageSize:   pageSize,
		logger:     logger,
	}
}

// DeactivateCode turns off the owner's active code; history is kept.
func (h *AdminHandler) DeactivateCode(c *gin.Context) {
	owner, ok := uuidParam(c, "owner")
	if !ok {
		return
	}
	if err := h.registry.DeactivateCode(c.Request.Context(), owner); err != nil {
		writeServiceError(c, err, "failed to deactivate code")
		return
	}
	h.logger.Info("referral code deactivated", zap.String("owner", owner.String()))
	response.Success(c, nil)
}

func (h *AdminHandler) RotateCode(c *gin.Context) {
	owner, ok := uuidParam(c, "owner")
	if !ok {
		return
	}
	code, err := h.registry.RotateCode(c.Request.Context(), owner)
	if err != nil {
		writeServiceError(c, err, "failed to rotate code")
		return
	}
	response.Success(c, code)
}

// ListCodes returns every code the owner has held, deactivated ones included.
func (h *AdminHandler) ListCodes(c *gin.Context) {
	owner, ok := uuidParam(c, "owner")
	if !ok {
		return
	}
	codes, err := h.registry.ListCodes(c.Request.Context(), owner)
	if err != nil {
		writeServiceError(c, err, "failed to list codes")
		return
	}
	if codes == nil {
		codes = []model.ReferralCode{}
	}
	response.Success(c, codes)
}

type SetMaxUsesRequest struct {
	// MaxUses nil lifts the cap.
	MaxUses *int `json:"max_uses" binding:"omitempty,min=0"`
}

func (h *AdminHandler) SetMaxUses(c *gin.Context) {
	var req SetMaxUsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	code := model.NormalizeCode(c.Param("code"))
	if err := h.registry.SetMaxUses(c.Request.Context(), code, req.MaxUses); err != nil {
		writeServiceError(c, err, "failed to update max uses")
		return
	}
	response.Success(c, gin.H{"code": code, "max_uses": req.MaxUses})
}

func (h *AdminHandler) RevokeReferral(c *gin.Context) {
	referred, ok := uuidParam(c, "referred")
	if !ok {
		return
	}
	if err := h.processor.RevokeReferral(c.Request.Context(), referred); err != nil {
		writeServiceError(c, err, "failed to revoke referral")
		return
	}
	response.Success(c, nil)
}

func (h *AdminHandler) Recompute(c *gin.Context) {
	user, ok := uuidParam(c, "user")
	if !ok {
		return
	}
	if _, err := h.tree.NodeOf(c.Request.Context(), user); err != nil {
		writeServiceError(c, err, "failed to recompute stats")
		return
	}
	stats, err := h.aggregator.Recompute(c.Request.Context(), user)
	if err != nil {
		writeServiceError(c, err, "failed to recompute stats")
		return
	}
	response.Success(c, stats)
}

// Rebuild recomputes every user's stats inline; large networks should rely
// on the periodic sweep instead.
func (h *AdminHandler) Rebuild(c *gin.Context) {
	n, err := h.aggregator.RebuildAll(c.Request.Context(), h.pageSize)
	if err != nil {
		h.logger.Warn("manual rebuild incomplete", zap.Int("refreshed", n), zap.Error(err))
		writeServiceError(c, err, "failed to rebuild stats")
		return
	}
	response.Success(c, gin.H{"refreshed": n})
}
