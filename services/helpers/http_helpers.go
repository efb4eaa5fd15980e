package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/utils"

	"github.com/gin-gonic/gin"
)

// UserHeader names the caller. Authentication happens in front of this service.
const UserHeader = "X-User"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// CurrentUser returns the caller from UserHeader, or writes 401 and returns false
func CurrentUser(c *gin.Context, handlerName string) (string, bool) {
	user := strings.TrimSpace(c.GetHeader(UserHeader))
	if user == "" {
		utils.JSONError(c, http.StatusUnauthorized, errors.New("missing "+UserHeader+" header"), "unauthorized")
		utils.Warn(handlerName+": anonymous request rejected", map[string]any{"path": c.Request.URL.Path})
		return "", false
	}
	return user, true
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrItemNotFound):
		return http.StatusNotFound, "item not found"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusNotFound, "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrNotSeller):
		return http.StatusForbidden, "only the seller may change this auction"
	case errors.Is(err, biddingerrors.ErrAuctionFinalized):
		return http.StatusConflict, "auction already finalized"
	case errors.Is(err, biddingerrors.ErrAuctionClosed):
		return http.StatusConflict, "auction has ended"
	case errors.Is(err, biddingerrors.ErrConflict):
		return http.StatusConflict, "concurrent modification, retry"
	case errors.Is(err, biddingerrors.ErrTransient):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// RespondError writes the mapped error and logs it at a level matching the status
func RespondError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message := MapErrorToHTTP(err)
	utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)

	if fields == nil {
		fields = map[string]any{}
	}
	fields["handler"] = handlerName
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", fields)
		return
	}
	utils.Warn(handlerName+": request rejected", fields)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
