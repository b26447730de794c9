// README: Customer order handlers: submit, read, claim response, cancel, reopen, rate.
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

type OrderHandler struct {
	order  *order.Service
	ledger *ledger.Service
}

func NewOrderHandler(svc *order.Service, ledgerSvc *ledger.Service) *OrderHandler {
	return &OrderHandler{order: svc, ledger: ledgerSvc}
}

type createOrderReq struct {
	CustomerName  string   `json:"customerName"`
	CustomerPhone string   `json:"customerPhone"`
	Item          string   `json:"item" binding:"required"`
	Weight        float64  `json:"weight"`
	ItemValue     int64    `json:"itemValue"`
	DeliveryFee   int64    `json:"deliveryFee"`
	Pickup        placeDTO `json:"pickup"`
	Dropoff       placeDTO `json:"dropoff"`
}

// Create submits an order for the calling customer.
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:    types.ID(middleware.CallerUID(c)),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Item:          req.Item,
		Weight:        req.Weight,
		ItemValue:     req.ItemValue,
		DeliveryFee:   req.DeliveryFee,
		Pickup:        req.Pickup.place(),
		Dropoff:       req.Dropoff.place(),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"orderId": id, "status": order.StatusPending})
}

// Get returns an order to its customer or to the rider holding or claiming it.
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	caller := types.ID(middleware.CallerUID(c))
	if o.CustomerID != caller && !o.AssignedTo(caller) && !o.ClaimedBy(caller) {
		writeOrderError(c, order.ErrForbidden)
		return
	}
	writeJSON(c, http.StatusOK, toOrderDTO(o))
}

type claimReq struct {
	Accepted *bool `json:"accepted" binding:"required"`
}

// Claim answers a rider's provisional claim for tomorrow.
func (h *OrderHandler) Claim(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req claimReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "accepted is required")
		return
	}
	err := h.order.RespondToClaim(c.Request.Context(), order.ClaimResponseCommand{
		OrderID:    types.ID(id),
		CustomerID: types.ID(middleware.CallerUID(c)),
		Accepted:   *req.Accepted,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	status := order.StatusPending
	if *req.Accepted {
		status = order.StatusAccepted
	}
	writeJSON(c, http.StatusOK, gin.H{"status": status})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	h.customerAction(c, h.order.Cancel, order.StatusCancelled)
}

func (h *OrderHandler) Reopen(c *gin.Context) {
	h.customerAction(c, h.order.Reopen, order.StatusPending)
}

func (h *OrderHandler) customerAction(c *gin.Context, fn func(ctx context.Context, cmd order.CustomerCommand) error, status order.Status) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	err := fn(c.Request.Context(), order.CustomerCommand{
		OrderID:    types.ID(id),
		CustomerID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": status})
}

type rateReq struct {
	Stars int `json:"stars" binding:"required"`
}

// Rate lets the customer of a completed order rate its rider once.
func (h *OrderHandler) Rate(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "stars is required")
		return
	}
	err := h.ledger.RateOrder(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)), req.Stars)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rated": true})
}
