package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
)

func (s *Server) CreateAccount(c *gin.Context) {
	var req accountdomain.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.accountSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "account.created", "account", &targetID, map[string]any{
		"email":    resp.Email,
		"currency": resp.Currency,
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListAccounts(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Email       string `form:"email"`
		Status      string `form:"status"`
		Currency    string `form:"currency"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	createdFrom, err := parseOptionalTime(query.CreatedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	createdTo, err := parseOptionalTime(query.CreatedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}

	resp, err := s.accountSvc.List(c.Request.Context(), accountdomain.ListAccountRequest{
		Pagination:  query.Pagination,
		Email:       strings.TrimSpace(query.Email),
		Status:      strings.TrimSpace(query.Status),
		Currency:    strings.TrimSpace(query.Currency),
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Accounts, "page_info": resp.PageInfo})
}

func (s *Server) GetAccountByID(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.accountSvc.GetByID(c.Request.Context(), accountdomain.GetAccountRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) UpdateAccount(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req accountdomain.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.accountSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) BlockAccount(c *gin.Context) {
	s.setAccountStatus(c, accountdomain.StatusBlocked, "account.blocked")
}

func (s *Server) UnblockAccount(c *gin.Context) {
	s.setAccountStatus(c, accountdomain.StatusActive, "account.unblocked")
}

func (s *Server) setAccountStatus(c *gin.Context, status accountdomain.Status, auditAction string) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	resp, err := s.accountSvc.SetStatus(c.Request.Context(), accountdomain.SetStatusRequest{
		ID:     id,
		Status: status,
		Reason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, auditAction, "account", &targetID, map[string]any{
		"status": string(resp.Status),
		"reason": strings.TrimSpace(req.Reason),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	methods, err := s.paymentMethodSvc.ListByAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": methods})
}

func (s *Server) AddPaymentMethod(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req paymentmethoddomain.AddPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = id

	resp, err := s.paymentMethodSvc.Add(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) SetDefaultPaymentMethod(c *gin.Context) {
	accountID, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	methodID, err := requireIDParam(c.Param("method_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentMethodSvc.SetDefault(c.Request.Context(), paymentmethoddomain.SetDefaultRequest{
		AccountID: accountID,
		ID:        methodID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RemovePaymentMethod(c *gin.Context) {
	accountID, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	methodID, err := requireIDParam(c.Param("method_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.paymentMethodSvc.Remove(c.Request.Context(), paymentmethoddomain.RemoveRequest{
		AccountID: accountID,
		ID:        methodID,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
