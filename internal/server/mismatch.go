package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/groundsignal/groundsignal/internal/authorization"
	mismatchdomain "github.com/groundsignal/groundsignal/internal/mismatch/domain"
)

const maxMismatchLimit = 1000

type detectMismatchRequest struct {
	OrgID        string `json:"org_id" binding:"required"`
	DryRun       *bool  `json:"dry_run"`
	Limit        int    `json:"limit"`
	IncludeValid bool   `json:"include_valid"`
}

// DetectMismatches reviews recent conversion events for click identifiers
// claimed by the wrong donor.
func (s *Server) DetectMismatches(c *gin.Context) {
	var req detectMismatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOrgID(req.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Limit < 0 || req.Limit > maxMismatchLimit {
		AbortWithError(c, newValidationError("limit", "out_of_range", "limit must be between 1 and 1000"))
		return
	}

	if err := s.authorize(c, orgID, authorization.ObjectMismatch, authorization.ActionMismatchDetect); err != nil {
		AbortWithError(c, err)
		return
	}

	// Detection is a preview unless the caller opts into corrections.
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	result, err := s.mismatchSvc.Detect(c.Request.Context(), mismatchdomain.DetectRequest{
		OrgID:        orgID,
		DryRun:       dryRun,
		Limit:        req.Limit,
		IncludeValid: req.IncludeValid,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"dry_run": result.DryRun,
		"summary": result.Summary,
		"results": result.Results,
	})
}
