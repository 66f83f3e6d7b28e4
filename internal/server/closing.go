package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	closingdomain "github.com/skarecito/verifactu/internal/closing/domain"
)

func (s *Server) listClosings(c *gin.Context) {
	records, err := s.closingSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closings": records})
}

func (s *Server) closeFiscalYear(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		AbortWithError(c, closingdomain.ErrInvalidFiscalYear)
		return
	}

	record, err := s.closingSvc.Close(c.Request.Context(), year)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) reopenFiscalYear(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		AbortWithError(c, closingdomain.ErrInvalidFiscalYear)
		return
	}

	var req closingdomain.ReopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, closingdomain.ErrReasonRequired)
		return
	}

	record, err := s.closingSvc.Reopen(c.Request.Context(), year, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
