package handlers

import (
	"net/http"

	"campusconnect/payments"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) PaymentPacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"packs":    payments.Packs(),
		"currency": payments.Currency,
	})
}

func (h *Handlers) CreateOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		PackID string `json:"packId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := h.Payments.CreateOrder(ctx, userID, req.PackID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// VerifyPayment accepts the gateway's checkout callback fields.
func (h *Handlers) VerifyPayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		OrderID   string `json:"razorpay_order_id"`
		PaymentID string `json:"razorpay_payment_id"`
		Signature string `json:"razorpay_signature"`
	}
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	receipt, err := h.Payments.VerifyPayment(ctx, userID, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handlers) PaymentHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	txs, err := h.Payments.History(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}
