package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Cleanup actions.
const (
	actionEmergencyCleanup = "emergency_cleanup"
	actionCleanupOld       = "cleanup-old"
	actionDeleteSession    = "delete-session"
	actionDeleteAll        = "delete-all"
	actionList             = "list"
)

type cleanupRequest struct {
	Action    string  `json:"action" binding:"required"`
	ListingID string  `json:"listingId"`
	Reason    string  `json:"reason"`
	SessionID string  `json:"sessionId"`
	HoursOld  float64 `json:"hoursOld"`
}

// Cleanup serves both the admin route and the signed operator route.
func (h HandlerSet) Cleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case actionEmergencyCleanup:
		if strings.TrimSpace(req.ListingID) == "" {
			badRequest(c, "invalid_body", "listingId required")
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "manual cleanup"
		}
		result := h.states.EmergencyCleanup(ctx, req.ListingID, reason)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"listingId": req.ListingID, "result": result})

	case actionCleanupOld:
		age := h.cfg.Staging.ReapAfter
		if req.HoursOld > 0 {
			age = time.Duration(req.HoursOld * float64(time.Hour))
		}
		report, err := h.staging.ReapOlderThan(ctx, age)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)

	case actionDeleteSession:
		if req.SessionID == "" {
			badRequest(c, "invalid_body", "sessionId required")
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": req.SessionID, "success": h.staging.ReapSession(ctx, req.SessionID)})

	case actionDeleteAll:
		report, err := h.staging.ReapAll(ctx)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)

	case actionList:
		keys, err := h.staging.List(ctx)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})

	default:
		badRequest(c, "invalid_action", "unknown action "+req.Action)
	}
}
