// README: Account handlers: registration and logout.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/account"
	"dispatch/internal/modules/location"
	"dispatch/internal/types"
)

type AccountHandler struct {
	account  *account.Service
	location *location.Service
}

func NewAccountHandler(svc *account.Service, locationSvc *location.Service) *AccountHandler {
	return &AccountHandler{account: svc, location: locationSvc}
}

type registerReq struct {
	Phone string `json:"phone"`
	Role  string `json:"role" binding:"required"`
	Name  string `json:"name"`
}

// Register records the caller's profile; the uid always comes from the token.
func (h *AccountHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "role is required")
		return
	}
	u, err := h.account.Register(c.Request.Context(), account.RegisterCommand{
		UID:   types.ID(middleware.CallerUID(c)),
		Phone: req.Phone,
		Role:  account.Role(req.Role),
		Name:  req.Name,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"uid": u.UID, "role": u.Role, "name": u.Name, "phone": u.Phone})
}

// Logout takes a rider offline and revokes the caller's refresh tokens.
func (h *AccountHandler) Logout(c *gin.Context) {
	uid := types.ID(middleware.CallerUID(c))
	if middleware.CallerRole(c) == string(account.RoleRider) && h.location != nil {
		_ = h.location.Remove(c.Request.Context(), uid)
	}
	if err := h.account.Logout(c.Request.Context(), uid); err != nil {
		writeOrderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
