package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/recurhq/recur/internal/gateway/domain"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
)

func (s *Server) AttemptPayment(c *gin.Context) {
	var req paymentdomain.AttemptPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.paymentSvc.Attempt(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := payment.ID.String()
	s.audit(c, "payment.attempted", "payment", &targetID, map[string]any{
		"invoice_id": payment.InvoiceID.String(),
		"status":     string(payment.Status),
	})

	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

func (s *Server) ListPayments(c *gin.Context) {
	var req paymentdomain.ListPaymentRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments, "page_info": resp.PageInfo})
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.GetByID(c.Request.Context(), paymentdomain.GetPaymentRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) MarkPaymentSucceeded(c *gin.Context) {
	id, err := requirePaymentID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		TxnID string `json:"txn_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.paymentSvc.MarkSucceeded(c.Request.Context(), id, strings.TrimSpace(req.TxnID), s.clock.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := payment.ID.String()
	s.audit(c, "payment.succeeded", "payment", &targetID, map[string]any{
		"invoice_id": payment.InvoiceID.String(),
		"txn_id":     strings.TrimSpace(req.TxnID),
	})

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) MarkPaymentFailed(c *gin.Context) {
	id, err := requirePaymentID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.paymentSvc.MarkFailed(c.Request.Context(), id, strings.TrimSpace(req.Reason), s.clock.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := payment.ID.String()
	s.audit(c, "payment.failed", "payment", &targetID, map[string]any{
		"invoice_id": payment.InvoiceID.String(),
		"reason":     strings.TrimSpace(req.Reason),
	})

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// HandleGatewayCallback is the processor-facing entry. It authenticates the
// request with the gateway's signature scheme, not the actor header, so it
// stays outside the /v1 actor middleware.
func (s *Server) HandleGatewayCallback(c *gin.Context) {
	if provider := strings.TrimSpace(c.Param("provider")); provider != s.gateway.Provider() {
		AbortWithError(c, gatewaydomain.ErrProviderNotFound)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.gateway.VerifyCallback(c.Request.Context(), payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.gateway.ParseCallback(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	if err := s.paymentSvc.HandleCallback(c.Request.Context(), event); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requirePaymentID(c *gin.Context) (snowflake.ID, error) {
	raw, err := requireIDParam(c.Param("id"))
	if err != nil {
		return 0, err
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError("id", "invalid_id", "invalid id")
	}
	return id, nil
}
