package api

import (
	"net/http"
	"strconv"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/provider"
	"delivery-platform/internal/service"
	"delivery-platform/internal/webhook"

	"github.com/gin-gonic/gin"
)

// PaymentHandler contains the payment service's HTTP handlers
type PaymentHandler struct {
	payments    *service.PaymentService
	refunds     *service.RefundService
	settlements *service.SettlementService
	reconciler  *webhook.Reconciler
	deps        map[string]Pinger
}

// NewPaymentHandler creates a new payment HTTP handler
func NewPaymentHandler(
	payments *service.PaymentService,
	refunds *service.RefundService,
	settlements *service.SettlementService,
	reconciler *webhook.Reconciler,
	deps map[string]Pinger,
) *PaymentHandler {
	return &PaymentHandler{
		payments:    payments,
		refunds:     refunds,
		settlements: settlements,
		reconciler:  reconciler,
		deps:        deps,
	}
}

// SetupRoutes sets up the payment service's HTTP routes
func (h *PaymentHandler) SetupRoutes(router *gin.Engine) {
	mountCommon(router, h.deps)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments", h.createPayment)
		v1.POST("/payments/checkout", h.createCheckout)
		v1.GET("/payments/order/:orderId", h.listOrderPayments)

		v1.POST("/refunds", h.createRefund)
		v1.GET("/refunds/stats", h.refundStats)
		v1.GET("/refunds/:id", h.getRefund)

		v1.POST("/earnings", h.createEarning)
		v1.POST("/earnings/:id/payout", h.payoutEarning)
		v1.GET("/earnings/driver/:driverId", h.listDriverEarnings)

		v1.POST("/settlements", h.createSettlement)
		v1.POST("/settlements/:id/payout", h.payoutSettlement)
		v1.GET("/settlements/restaurant/:restaurantId", h.listRestaurantSettlements)

		v1.POST("/webhooks/payment", h.handleWebhook)
	}
}

// createPayment opens a payment intent for an order
func (h *PaymentHandler) createPayment(c *gin.Context) {
	var req service.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.payments.CreatePayment(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// createCheckout opens a hosted checkout session for an order
func (h *PaymentHandler) createCheckout(c *gin.Context) {
	var req service.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.payments.CreateCheckoutSession(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// listOrderPayments returns every payment attempt for an order
func (h *PaymentHandler) listOrderPayments(c *gin.Context) {
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	payments, err := h.payments.GetPaymentsForOrder(c.Request.Context(), orderID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// createRefund raises a refund against an order's payment
func (h *PaymentHandler) createRefund(c *gin.Context) {
	var req service.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	refund, err := h.refunds.CreateRefund(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"refund": refund})
}

// getRefund handles get refund by ID
func (h *PaymentHandler) getRefund(c *gin.Context) {
	refundID, ok := pathID(c, "id")
	if !ok {
		return
	}

	refund, err := h.refunds.GetRefund(c.Request.Context(), refundID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// refundStats aggregates refund counts and totals, optionally scoped to a
// restaurant and a time window
func (h *PaymentHandler) refundStats(c *gin.Context) {
	var restaurantID *int64
	if raw := c.Query("restaurant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid restaurant_id",
				"code":  string(apperr.CodeInvalid),
			})
			return
		}
		restaurantID = &id
	}

	from, ok := timeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := timeQuery(c, "to")
	if !ok {
		return
	}

	stats, err := h.refunds.GetRefundStats(c.Request.Context(), restaurantID, from, to)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// createEarning records what a driver is owed for an order. Replays return
// the existing row with a 200.
func (h *PaymentHandler) createEarning(c *gin.Context) {
	var req service.CreateEarningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	earning, created, err := h.settlements.CreateEarning(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"earning": earning})
}

// payoutEarning pays out a driver earning
func (h *PaymentHandler) payoutEarning(c *gin.Context) {
	earningID, ok := pathID(c, "id")
	if !ok {
		return
	}

	earning, err := h.settlements.PayoutEarning(c.Request.Context(), earningID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"earning": earning})
}

// listDriverEarnings returns a driver's earnings, newest first
func (h *PaymentHandler) listDriverEarnings(c *gin.Context) {
	driverID, ok := pathID(c, "driverId")
	if !ok {
		return
	}

	earnings, err := h.settlements.ListDriverEarnings(c.Request.Context(), driverID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"earnings": earnings})
}

// createSettlement records a restaurant's take for a delivered order
func (h *PaymentHandler) createSettlement(c *gin.Context) {
	var req service.CreateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	settlement, created, err := h.settlements.CreateSettlement(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"settlement": settlement})
}

// payoutSettlement pays out a restaurant settlement
func (h *PaymentHandler) payoutSettlement(c *gin.Context) {
	settlementID, ok := pathID(c, "id")
	if !ok {
		return
	}

	settlement, err := h.settlements.PayoutSettlement(c.Request.Context(), settlementID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settlement": settlement})
}

// listRestaurantSettlements returns a restaurant's settlements, newest first
func (h *PaymentHandler) listRestaurantSettlements(c *gin.Context) {
	restaurantID, ok := pathID(c, "restaurantId")
	if !ok {
		return
	}

	settlements, err := h.settlements.ListRestaurantSettlements(c.Request.Context(), restaurantID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settlements": settlements})
}

// handleWebhook receives provider events. The raw body is read before any
// parsing so the signature check covers exactly the bytes the provider
// signed. Handler errors surface as non-2xx so the provider redelivers.
func (h *PaymentHandler) handleWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unreadable request body",
			"code":  string(apperr.CodeInvalid),
		})
		return
	}

	if err := h.reconciler.HandleEvent(c.Request.Context(), payload, c.GetHeader(provider.SignatureHeader)); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
