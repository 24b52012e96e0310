package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"biliticket/referralhub/internal/handler/middleware"
	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/service"
	jwtpkg "biliticket/referralhub/pkg/jwt"
	"biliticket/referralhub/pkg/response"
)

var ErrNoClaims = errors.New("claims not found in context")

func getClaimsFromContext(c *gin.Context) (*jwtpkg.Claims, error) {
	claimsVal, exists := c.Get(middleware.ContextKeyUserClaims)
	if !exists {
		return nil, ErrNoClaims
	}
	claims, ok := claimsVal.(*jwtpkg.Claims)
	if !ok {
		return nil, ErrNoClaims
	}
	return claims, nil
}

func getUserIDFromContext(c *gin.Context) (uuid.UUID, error) {
	claims, err := getClaimsFromContext(c)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID()
}

func getIdentityFromContext(c *gin.Context) (model.UserIdentity, error) {
	claims, err := getClaimsFromContext(c)
	if err != nil {
		return model.UserIdentity{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return model.UserIdentity{}, err
	}
	return model.UserIdentity{UserID: userID, Email: claims.Email, DisplayName: claims.Name}, nil
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// edgeStatusQuery reads ?status=active|revoked|all, defaulting to active.
func edgeStatusQuery(c *gin.Context) (model.EdgeStatus, bool) {
	switch raw := c.DefaultQuery("status", string(model.EdgeStatusActive)); raw {
	case string(model.EdgeStatusActive), string(model.EdgeStatusRevoked):
		return model.EdgeStatus(raw), true
	case "all":
		return "", true
	default:
		response.BadRequest(c, "status must be active, revoked or all")
		return "", false
	}
}

var reasonStatus = map[service.Reason]int{
	service.ReasonInvalidCode:             http.StatusBadRequest,
	service.ReasonSelfReferral:            http.StatusBadRequest,
	service.ReasonAlreadyReferred:         http.StatusConflict,
	service.ReasonUsesExhausted:           http.StatusConflict,
	service.ReasonNodeAlreadyExists:       http.StatusConflict,
	service.ReasonCodeGenerationExhausted: http.StatusServiceUnavailable,
	service.ReasonTransientStoreError:     http.StatusServiceUnavailable,
}

func statusForReason(reason service.Reason) int {
	if status, ok := reasonStatus[reason]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeServiceError maps service errors onto responses without exposing
// storage details.
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNodeNotFound), errors.Is(err, service.ErrReferralNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrInvalidCode):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrCodeGenerationExhausted):
		response.ServiceUnavailable(c, service.ErrCodeGenerationExhausted.Error())
	case errors.Is(err, service.ErrTransientStore):
		response.ServiceUnavailable(c, service.ErrTransientStore.Error())
	case errors.Is(err, service.ErrAggregationFailure):
		response.ServiceUnavailable(c, service.ErrAggregationFailure.Error())
	default:
		response.InternalError(c, fallback)
	}
}
