package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	documentdomain "github.com/skarecito/verifactu/internal/document/domain"
)

func (s *Server) issueDocument(c *gin.Context) {
	var req documentdomain.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, documentdomain.ErrInvalidDocumentType)
		return
	}

	doc, err := s.documentSvc.Issue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (s *Server) listDocuments(c *gin.Context) {
	filter := documentdomain.ListFilter{
		SeriesCode: c.Query("series_code"),
	}
	if year := c.Query("fiscal_year"); year != "" {
		parsed, err := strconv.Atoi(year)
		if err != nil {
			AbortWithError(c, documentdomain.ErrInvalidIssueDate)
			return
		}
		filter.FiscalYear = parsed
	}
	filter.PageToken = c.Query("page_token")
	if size := c.Query("page_size"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil {
			filter.PageSize = parsed
		}
	}

	result, err := s.documentSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": result.Documents, "page_info": result.PageInfo})
}

func (s *Server) getDocument(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, documentdomain.ErrDocumentNotFound)
		return
	}

	doc, err := s.documentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) getDocumentQR(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, documentdomain.ErrDocumentNotFound)
		return
	}

	qrPNG, err := s.documentSvc.QRCode(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", qrPNG)
}
