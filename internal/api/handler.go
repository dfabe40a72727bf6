package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/search"
)

// SearchRequest mirrors the MCP search tool input.
type SearchRequest struct {
	Query          string   `json:"query" binding:"required"`
	Persona        string   `json:"persona" binding:"required"`
	TimeWindow     string   `json:"time_window"`
	Limit          int      `json:"limit"`
	RRFK           int      `json:"rrf_k"`
	FuzzyThreshold *float64 `json:"fuzzy_threshold"`
	Backends       []string `json:"backends"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Results  []search.ResultRecord `json:"results"`
	Warnings []search.Warning      `json:"warnings"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Search runs a query for the persona named in the body.
func (s *Server) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		APIError(c, hrerrors.ValidationError("invalid request body", err))
		return
	}

	window, err := search.ParseWindow(req.TimeWindow)
	if err != nil {
		APIError(c, err)
		return
	}

	resp, err := s.engine.Search(c.Request.Context(), search.Query{
		Text:           req.Query,
		Persona:        req.Persona,
		TimeWindow:     window,
		Limit:          req.Limit,
		RRFK:           req.RRFK,
		FuzzyThreshold: req.FuzzyThreshold,
		Backends:       req.Backends,
	})
	if err != nil {
		APIError(c, err)
		return
	}

	out := SearchResponse{Results: resp.Results, Warnings: resp.Warnings}
	if out.Warnings == nil {
		out.Warnings = []search.Warning{}
	}
	c.JSON(http.StatusOK, out)
}

// ListPersonas returns the persona table.
func (s *Server) ListPersonas(c *gin.Context) {
	p := s.engine.Policy()
	c.JSON(http.StatusOK, gin.H{
		"personas":   p.Personas(),
		"privileged": p.Privileged(),
		"inherits":   p.Inherits(),
	})
}

// Stats returns catalog counts.
func (s *Server) Stats(c *gin.Context) {
	stats, err := s.catalog.Stats(c.Request.Context())
	if err != nil {
		APIError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// APIError writes err with the matching status code.
func APIError(c *gin.Context, err error) {
	body := ErrorResponse{Code: hrerrors.GetCode(err), Message: err.Error()}
	var e *hrerrors.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Suggestion = e.Suggestion
	}
	if body.Code == "" {
		body.Code = hrerrors.ErrCodeInternal
	}
	c.AbortWithStatusJSON(StatusFor(err), body)
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	switch hrerrors.GetCode(err) {
	case hrerrors.ErrCodeRetrievalUnavailable, hrerrors.ErrCodeQueryTimeout, hrerrors.ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	}
	if hrerrors.GetCategory(err) == hrerrors.CategoryValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
