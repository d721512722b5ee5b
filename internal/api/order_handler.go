package api

import (
	"net/http"

	"delivery-platform/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// OrderHandler contains the order ledger's HTTP handlers
type OrderHandler struct {
	orders *service.OrderService
	deps   map[string]Pinger
}

// NewOrderHandler creates a new order HTTP handler
func NewOrderHandler(orders *service.OrderService, deps map[string]Pinger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		deps:   deps,
	}
}

// SetupRoutes sets up the order ledger's HTTP routes
func (h *OrderHandler) SetupRoutes(router *gin.Engine) {
	mountCommon(router, h.deps)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/history", h.getOrderHistory)
		v1.GET("/orders/customer/:customerId", h.listCustomerOrders)
		v1.PATCH("/orders/:id/status", h.updateStatus)
		v1.POST("/orders/:id/assign-driver", h.assignDriver)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.PUT("/orders/:id/payment-status", h.updatePaymentStatus)
		v1.PUT("/orders/:id/refund-status", h.updateRefundStatus)
	}
}

// createOrder handles order creation
func (h *OrderHandler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, items, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order": order,
		"items": items,
	})
}

// getOrder handles get order by ID
func (h *OrderHandler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// getOrderHistory returns the status trail for an order
func (h *OrderHandler) getOrderHistory(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	history, err := h.orders.GetOrderHistory(c.Request.Context(), orderID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

// listCustomerOrders returns a customer's orders, newest first
func (h *OrderHandler) listCustomerOrders(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}

	orders, err := h.orders.ListCustomerOrders(c.Request.Context(), customerID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// updateStatus moves an order along the fulfillment chain
func (h *OrderHandler) updateStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), orderID, &req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type assignDriverRequest struct {
	DriverID int64 `json:"driver_id" binding:"required"`
}

// assignDriver claims an order for a driver
func (h *OrderHandler) assignDriver(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req assignDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.orders.AssignDriver(c.Request.Context(), orderID, req.DriverID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// cancelOrder handles order cancellation
func (h *OrderHandler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), orderID, &req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type paymentEventRequest struct {
	EventID string `json:"event_id" binding:"required"`
	Event   string `json:"event" binding:"required"`
}

// updatePaymentStatus applies a payment outcome relayed by the payment
// service. Replays of an already applied event report applied=false.
func (h *OrderHandler) updatePaymentStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req paymentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	applied, err := h.orders.ApplyPaymentEvent(c.Request.Context(), orderID, req.EventID, req.Event)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

type refundEventRequest struct {
	EventID string          `json:"event_id" binding:"required"`
	Event   string          `json:"event" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// updateRefundStatus applies a refund outcome relayed by the payment service
func (h *OrderHandler) updateRefundStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req refundEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	applied, err := h.orders.ApplyRefundEvent(c.Request.Context(), orderID, req.EventID, req.Event, req.Amount)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": applied})
}
