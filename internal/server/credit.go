package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/recurhq/recur/internal/credit/domain"
)

func (s *Server) GrantCredit(c *gin.Context) {
	var req creditdomain.GrantCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	credit, err := s.creditSvc.Grant(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := credit.ID.String()
	s.audit(c, "credit.granted", "credit", &targetID, map[string]any{
		"account_id": credit.AccountID.String(),
		"amount":     credit.Amount,
		"reason":     strings.TrimSpace(req.Reason),
	})

	c.JSON(http.StatusCreated, gin.H{"data": credit})
}

func (s *Server) ListCredits(c *gin.Context) {
	var req creditdomain.ListCreditRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Credits, "page_info": resp.PageInfo})
}

func (s *Server) GetCreditByID(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	credit, err := s.creditSvc.GetByID(c.Request.Context(), creditdomain.GetCreditRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": credit})
}

func (s *Server) GetCreditBalance(c *gin.Context) {
	accountID, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.creditSvc.Balance(c.Request.Context(), accountID, strings.TrimSpace(c.Query("currency")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}
