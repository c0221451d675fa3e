package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	"github.com/recurhq/recur/internal/invoice/render"
)

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListInvoiceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), invoicedomain.GetInvoiceRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RenderInvoice(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), invoicedomain.GetInvoiceRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.accountSvc.GetByID(c.Request.Context(), accountdomain.GetAccountRequest{ID: invoice.AccountID.String()})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	html, err := s.invoiceRenderer.RenderHTML(render.RenderInput{
		Invoice:      invoice,
		AccountName:  account.Name,
		AccountEmail: account.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req invoicedomain.VoidInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.invoiceSvc.Void(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "invoice.voided", "invoice", &targetID, map[string]any{
		"reason":        strings.TrimSpace(req.Reason),
		"paid_reversal": req.AllowPaidReversal,
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GenerateInvoice closes the subscription's current period on demand. The
// scheduler does this on cadence; the endpoint exists for operational
// catch-up and carries the same duplicate-period fence.
func (s *Server) GenerateInvoice(c *gin.Context) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription_id"))
		return
	}

	invoice, err := s.invoiceSvc.GenerateForSubscription(c.Request.Context(), subID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := invoice.ID.String()
	s.audit(c, "invoice.generated", "invoice", &targetID, map[string]any{
		"subscription_id": subID.String(),
		"amount_due":      invoice.AmountDue,
	})

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}
