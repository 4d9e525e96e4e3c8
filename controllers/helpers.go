package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"order-service/middleware"
	"order-service/services"

	"github.com/gin-gonic/gin"
)

var errInvalidOrderID = errors.New("invalid order ID")

// callerFrom reads the identity set by the auth middleware.
func callerFrom(ctx *gin.Context) (services.Caller, bool) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return services.Caller{}, false
	}
	return services.Caller{UserID: userID, Role: middleware.GetRole(ctx)}, true
}

func respondError(ctx *gin.Context, svcErr *services.ServiceError) {
	ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
}

func parseOrderID(ctx *gin.Context, param string) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param(param), 10, 64)
	if err != nil || id == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format"})
		return 0, errInvalidOrderID
	}
	return uint(id), nil
}

// parsePaginationParams extracts and validates page/limit query params.
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const maxLimit = 100
	pageInt, limitInt := 1, 10
	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		pageInt = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("limit", "10")); err == nil && l > 0 {
		if l > maxLimit {
			l = maxLimit
		}
		limitInt = l
	}
	return pageInt, limitInt
}
