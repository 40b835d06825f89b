package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/groundsignal/groundsignal/internal/authorization"
	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
)

const (
	maxDaysBack      = 3650
	maxChunkSizeDays = 366
)

type triggerBackfillRequest struct {
	OrgID            string `json:"org_id" binding:"required"`
	DaysBack         int    `json:"days_back"`
	ChunkSizeDays    int    `json:"chunk_size_days"`
	StartImmediately *bool  `json:"start_immediately"`
}

type cancelBackfillRequest struct {
	OrgID  string `json:"org_id"`
	Reason string `json:"reason"`
}

// TriggerBackfill creates a chunked historical ingestion job.
func (s *Server) TriggerBackfill(c *gin.Context) {
	var req triggerBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orgID, err := parseOrgID(req.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if req.DaysBack < 0 || req.DaysBack > maxDaysBack {
		AbortWithError(c, newValidationError("days_back", "out_of_range", "days_back must be between 1 and 3650"))
		return
	}
	if req.ChunkSizeDays < 0 || req.ChunkSizeDays > maxChunkSizeDays {
		AbortWithError(c, newValidationError("chunk_size_days", "out_of_range", "chunk_size_days must be between 1 and 366"))
		return
	}

	if err := s.authorize(c, orgID, authorization.ObjectBackfill, authorization.ActionBackfillTrigger); err != nil {
		AbortWithError(c, err)
		return
	}

	start := true
	if req.StartImmediately != nil {
		start = *req.StartImmediately
	}

	result, err := s.backfillSvc.Trigger(c.Request.Context(), backfilldomain.TriggerRequest{
		OrgID:            orgID,
		DaysBack:         req.DaysBack,
		ChunkSizeDays:    req.ChunkSizeDays,
		StartImmediately: start,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":           true,
		"job_id":            result.JobID.String(),
		"chunks_created":    result.ChunksCreated,
		"estimated_minutes": result.EstimatedMinutes,
		"date_range": gin.H{
			"start": result.DateRange.Start,
			"end":   result.DateRange.End,
		},
	})
}

// CancelBackfill requests cooperative cancellation of a running job.
func (s *Server) CancelBackfill(c *gin.Context) {
	jobID, err := parseJobID(c.Param("job_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Members must scope the cancel to their organization; the automated
	// actors may cancel any job by id alone.
	var orgID snowflake.ID
	if strings.TrimSpace(req.OrgID) != "" {
		var err error
		orgID, err = parseOrgID(req.OrgID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	} else if actor := s.actor(c); actor != "system" && actor != "scheduler" {
		AbortWithError(c, newValidationError("org_id", "required", "org_id is required"))
		return
	}

	if err := s.authorize(c, orgID, authorization.ObjectBackfill, authorization.ActionBackfillCancel); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.backfillSvc.Cancel(c.Request.Context(), backfilldomain.CancelRequest{
		JobID:  jobID,
		OrgID:  orgID,
		Reason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"job_id":           jobID.String(),
		"cancelled_chunks": result.CancelledChunks,
	})
}

// GetBackfillJob returns a job and its chunk-level progress.
func (s *Server) GetBackfillJob(c *gin.Context) {
	jobID, err := parseJobID(c.Param("job_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	orgID, err := parseOrgID(c.Query("org_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authorize(c, orgID, authorization.ObjectBackfill, authorization.ActionBackfillView); err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.backfillSvc.GetJob(c.Request.Context(), jobID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job":     status.Job,
		"chunks":  status.Chunks,
	})
}

func parseOrgID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newValidationError("org_id", "required", "org_id is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("org_id", "invalid", "org_id must be a valid id")
	}
	return id, nil
}

func parseJobID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("job_id", "invalid", "job_id must be a valid id")
	}
	return id, nil
}
