package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) SendOTP(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Auth.SendOTP(ctx, req.PhoneNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) VerifyOTP(c *gin.Context) {
	var req struct {
		PhoneNumber  string `json:"phoneNumber" binding:"required"`
		OTP          string `json:"otp" binding:"required"`
		ReferralCode string `json:"referralCode"`
	}
	if !bindJSON(c, &req) {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	session, err := h.Auth.VerifyOTP(ctx, req.PhoneNumber, req.OTP, req.ReferralCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
