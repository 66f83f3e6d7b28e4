package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	seriesdomain "github.com/skarecito/verifactu/internal/series/domain"
)

func (s *Server) createSeries(c *gin.Context) {
	var req seriesdomain.CreateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, seriesdomain.ErrInvalidSeriesCode)
		return
	}

	created, err := s.seriesSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listSeries(c *gin.Context) {
	items, err := s.seriesSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"series": items})
}

func (s *Server) lockSeries(c *gin.Context) {
	if err := s.seriesSvc.Lock(c.Request.Context(), c.Param("code")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "locked"})
}

func (s *Server) unlockSeries(c *gin.Context) {
	if err := s.seriesSvc.Unlock(c.Request.Context(), c.Param("code")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlocked"})
}
