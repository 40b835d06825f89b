package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/groundsignal/groundsignal/internal/attribution/domain"
	"github.com/groundsignal/groundsignal/internal/authorization"
)

type autoMatchRequest struct {
	OrgID         string  `json:"org_id" binding:"required"`
	DryRun        *bool   `json:"dry_run"`
	MinConfidence float64 `json:"min_confidence"`
}

type attributionBackfillRequest struct {
	OrgID     string `json:"org_id" binding:"required"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DryRun    bool   `json:"dry_run"`
}

// AutoMatch runs the tiered matcher over current refcoded transactions.
func (s *Server) AutoMatch(c *gin.Context) {
	var req autoMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOrgID(req.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		AbortWithError(c, newValidationError("min_confidence", "out_of_range", "min_confidence must be between 0 and 1"))
		return
	}

	if err := s.authorize(c, orgID, authorization.ObjectAttribution, authorization.ActionAttributionMatch); err != nil {
		AbortWithError(c, err)
		return
	}

	// Auto-match is a preview unless the caller opts into writing.
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	result, err := s.attributionSvc.AutoMatch(c.Request.Context(), attributiondomain.AutoMatchRequest{
		OrgID:         orgID,
		DryRun:        dryRun,
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"summary":   result.Summary,
		"matches":   result.Matches,
		"unmatched": result.Unmatched,
	})
}

// AttributionBackfill re-runs matching over a historical date range.
func (s *Server) AttributionBackfill(c *gin.Context) {
	var req attributionBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOrgID(req.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	startDate, err := parseDate("start_date", req.StartDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	endDate, err := parseDate("end_date", req.EndDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !startDate.IsZero() && !endDate.IsZero() && !endDate.After(startDate) {
		AbortWithError(c, newValidationError("end_date", "invalid_range", "end_date must be after start_date"))
		return
	}

	if err := s.authorize(c, orgID, authorization.ObjectAttribution, authorization.ActionAttributionBackfill); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.attributionSvc.BackfillAttribution(c.Request.Context(), attributiondomain.BackfillRequest{
		OrgID:     orgID,
		StartDate: startDate,
		EndDate:   endDate,
		DryRun:    req.DryRun,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"processed":  result.Processed,
		"attributed": result.Attributed,
		"skipped":    result.Skipped,
		"dry_run":    result.DryRun,
		"batches":    result.Batches,
	})
}

// parseDate accepts RFC3339 timestamps or plain dates. Empty is allowed;
// the service applies its defaults.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, newValidationError(field, "invalid_date", "dates must be RFC3339 or YYYY-MM-DD")
}
