// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/docstore"
	"dispatch/internal/modules/account"
	"dispatch/internal/modules/ledger"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts store document ids: short alphanumeric strings.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeOrderError maps domain errors to status codes. Unknown errors are logged by the
// request logger and reported generically.
func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, ledger.ErrInvalidStars),
		errors.Is(err, location.ErrInvalidPosition),
		errors.Is(err, location.ErrInvalidRadius),
		errors.Is(err, account.ErrInvalidRole),
		errors.Is(err, account.ErrMissingUID):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, ledger.ErrRiderNotFound),
		errors.Is(err, account.ErrNotFound),
		errors.Is(err, docstore.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, docstore.ErrConflict),
		errors.Is(err, ledger.ErrAlreadyRated),
		errors.Is(err, ledger.ErrNotRateable):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrCapacityExceeded),
		errors.Is(err, order.ErrInsufficientCoins):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// orderID reads and validates the :id path parameter.
func orderID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return "", false
	}
	return id, true
}
