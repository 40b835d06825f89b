package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/groundsignal/groundsignal/internal/observability/logger"
	obsmetrics "github.com/groundsignal/groundsignal/internal/observability/metrics"
	"go.uber.org/zap"
)

type triggerRateLimitKey struct {
	OrgID string `json:"org_id"`
}

// TriggerRateLimit throttles the expensive trigger endpoints per
// organization with the shared redis token bucket.
func (s *Server) TriggerRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		orgID, err := readTriggerOrgID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("trigger rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if orgID == "" {
			// Bucket unscoped requests together.
			orgID = "none"
		}

		result, err := s.limiter.AllowTrigger(ctx, endpoint, orgID)
		if err != nil {
			logger.FromContext(ctx).Warn("trigger rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("trigger rate limit exceeded",
				zap.String("endpoint", endpoint),
				zap.String("org_id", orgID),
			)
			obsmetrics.Engine().RecordRateLimitDenied(endpoint, "org-rate")
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		obsmetrics.Engine().RecordRateLimitAllowed(endpoint)
		c.Next()
	}
}

func readTriggerOrgID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload triggerRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.OrgID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
