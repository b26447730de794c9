// README: Rider handlers: accept, reject, status changes, dismissals, scheduled orders, history, wallet.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/ledger"
	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

type RiderHandler struct {
	order  *order.Service
	ledger *ledger.Service
}

func NewRiderHandler(orderSvc *order.Service, ledgerSvc *ledger.Service) *RiderHandler {
	return &RiderHandler{order: orderSvc, ledger: ledgerSvc}
}

func callerRider(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// riderName is the display name stored on the rider's wallet, if any.
func (h *RiderHandler) riderName(ctx context.Context, rider types.ID) string {
	if h.ledger == nil {
		return ""
	}
	r, err := h.ledger.Get(ctx, rider)
	if err != nil {
		return ""
	}
	return r.Name
}

func (h *RiderHandler) Accept(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	timing := order.Schedule(c.DefaultQuery("timing", string(order.ScheduleNow)))
	if !timing.IsValid() {
		writeError(c, http.StatusBadRequest, "timing must be now or tomorrow")
		return
	}
	rider := callerRider(c)
	err := h.order.Accept(c.Request.Context(), order.AcceptCommand{
		OrderID:   types.ID(id),
		RiderID:   rider,
		RiderName: h.riderName(c.Request.Context(), rider),
		Timing:    timing,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	status := order.StatusAccepted
	if timing == order.ScheduleTomorrow {
		status = order.StatusPendingConfirmation
	}
	writeJSON(c, http.StatusOK, gin.H{"status": status})
}

func (h *RiderHandler) Reject(c *gin.Context) {
	h.riderAction(c, h.order.RejectActive, gin.H{"status": order.StatusPending})
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *RiderHandler) ChangeStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "status is required")
		return
	}
	next := order.Status(req.Status)
	if !next.IsValid() {
		writeOrderError(c, order.ErrInvalidStatus)
		return
	}
	err := h.order.ChangeStatus(c.Request.Context(), order.ChangeStatusCommand{
		OrderID: types.ID(id),
		RiderID: callerRider(c),
		Status:  next,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": next})
}

func (h *RiderHandler) Dismiss(c *gin.Context) {
	h.riderAction(c, h.order.Dismiss, gin.H{"dismissed": true})
}

func (h *RiderHandler) DismissTomorrow(c *gin.Context) {
	h.riderAction(c, h.order.DismissTomorrow, gin.H{"dismissed": true})
}

func (h *RiderHandler) StartScheduled(c *gin.Context) {
	h.riderAction(c, h.order.StartScheduled, gin.H{"status": order.StatusAccepted, "pickupSchedule": order.ScheduleNow})
}

func (h *RiderHandler) WithdrawScheduled(c *gin.Context) {
	h.riderAction(c, h.order.WithdrawScheduled, gin.H{"status": order.StatusRiderRejected})
}

func (h *RiderHandler) DeleteHistory(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	if err := h.order.DeleteHistory(c.Request.Context(), order.RiderCommand{OrderID: types.ID(id), RiderID: callerRider(c)}); err != nil {
		writeOrderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RiderHandler) HistoryDetails(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.HistoryDetails(c.Request.Context(), order.RiderCommand{OrderID: types.ID(id), RiderID: callerRider(c)})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOrderDTO(o))
}

// Wallet returns the caller's coins, rating and current immediate load.
func (h *RiderHandler) Wallet(c *gin.Context) {
	rider := callerRider(c)
	r, err := h.ledger.Get(c.Request.Context(), rider)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	active, err := h.order.ActiveNowCount(c.Request.Context(), rider)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	avg := r.AverageRating()
	writeJSON(c, http.StatusOK, gin.H{
		"coins":         r.Coins,
		"rating":        avg,
		"ratingDisplay": ledger.FormatRating(avg),
		"ratingCount":   r.RatingCount,
		"activeNow":     active,
	})
}

func (h *RiderHandler) riderAction(c *gin.Context, fn func(context.Context, order.RiderCommand) error, resp gin.H) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	err := fn(c.Request.Context(), order.RiderCommand{OrderID: types.ID(id), RiderID: callerRider(c)})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}
