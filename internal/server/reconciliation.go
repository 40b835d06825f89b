package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/groundsignal/groundsignal/internal/authorization"
)

type reconciliationRunRequest struct {
	OrgID string `json:"org_id"`
}

// RunReconciliation audits ledger totals against the processor. Without an
// org_id it sweeps every credentialed organization, which only the
// automated actors may do.
func (s *Server) RunReconciliation(c *gin.Context) {
	var req reconciliationRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	var orgID snowflake.ID
	if strings.TrimSpace(req.OrgID) != "" {
		var err error
		orgID, err = parseOrgID(req.OrgID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.authorize(c, orgID, authorization.ObjectReconciliation, authorization.ActionReconciliationRun); err != nil {
			AbortWithError(c, err)
			return
		}
	} else if actor := s.actor(c); actor != "system" && actor != "scheduler" {
		AbortWithError(c, ErrForbidden)
		return
	}

	results, err := s.reconciliationSvc.Run(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	discrepancies := 0
	backfills := 0
	for _, result := range results {
		if result.Discrepancy {
			discrepancies++
		}
		if result.BackfillTriggered {
			backfills++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"organizations":       len(results),
		"discrepancies":       discrepancies,
		"backfills_triggered": backfills,
		"results":             results,
	})
}
