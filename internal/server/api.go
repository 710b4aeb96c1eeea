package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sackio/unibrowse-sub002/api/schemas"
)

// interactionQuery maps the query string of GET /api/interactions.
// Types may be repeated or comma separated.
type interactionQuery struct {
	Query           string   `form:"query"`
	StartTime       *int64   `form:"startTime"`
	EndTime         *int64   `form:"endTime"`
	Limit           *int     `form:"limit"`
	Offset          int      `form:"offset"`
	Types           []string `form:"types"`
	URLPattern      string   `form:"urlPattern"`
	SelectorPattern string   `form:"selectorPattern"`
	SortOrder       string   `form:"sortOrder"`
}

func (q interactionQuery) filter() schemas.InteractionFilter {
	var types []string
	for _, t := range q.Types {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				types = append(types, part)
			}
		}
	}
	return schemas.InteractionFilter{
		StartTime:       q.StartTime,
		EndTime:         q.EndTime,
		Limit:           q.Limit,
		Offset:          q.Offset,
		Types:           types,
		URLPattern:      q.URLPattern,
		SelectorPattern: q.SelectorPattern,
		SortOrder:       q.SortOrder,
	}
}

func (s *Server) listMacros(c *gin.Context) {
	macros := s.macros.List(c.Request.Context(), schemas.MacroFilter{Search: c.Query("search")})
	c.JSON(http.StatusOK, MacroList{Macros: macros, Count: len(macros)})
}

func (s *Server) getMacro(c *gin.Context) {
	m, err := s.macros.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) listInteractions(c *gin.Context) {
	var q interactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, schemas.NewValidationError("invalid query: %v", err))
		return
	}
	page, err := s.interactions.Search(c.Request.Context(), q.Query, q.filter())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func writeError(c *gin.Context, err error) {
	code := schemas.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case schemas.CodeValidation:
		status = http.StatusBadRequest
	case schemas.CodeNotFound:
		status = http.StatusNotFound
	case schemas.CodeTimeout:
		status = http.StatusGatewayTimeout
	case schemas.CodeConnection, schemas.CodeRemote:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
