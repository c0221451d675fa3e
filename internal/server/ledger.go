package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
)

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var req ledgerdomain.ListEntryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) ListLedgerBalances(c *gin.Context) {
	balances, err := s.ledgerSvc.Balances(c.Request.Context(), strings.TrimSpace(c.Query("currency")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balances})
}
