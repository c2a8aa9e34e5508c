package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/models"
)

type ownerResponse struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Email       string  `json:"email"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

type adminListingResponse struct {
	listingResponse
	Owner ownerResponse `json:"owner"`
}

func (h HandlerSet) AdminListListings(c *gin.Context) {
	status := models.ListingStatus(c.DefaultQuery("status", string(models.ListingStatusPending)))

	rows, err := h.states.ListByStatus(c.Request.Context(), status)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]adminListingResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, adminListingResponse{
			listingResponse: toListingResponse(row.Listing),
			Owner: ownerResponse{
				ID:          row.Owner.ID,
				DisplayName: row.Owner.DisplayName,
				Email:       row.Owner.Email,
				AvatarURL:   row.Owner.AvatarURL,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h HandlerSet) AdminActivate(c *gin.Context) {
	id := c.Param("id")
	if err := h.states.Activate(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.ListingStatusActive})
}

func (h HandlerSet) AdminDeactivate(c *gin.Context) {
	id := c.Param("id")
	if err := h.states.MarkInactive(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.ListingStatusInactive})
}

type deadLetterResponse struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	SessionID string    `json:"sessionId,omitempty"`
	ListingID string    `json:"listingId,omitempty"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failedAt"`
}

func (h HandlerSet) DeadLetters(c *gin.Context) {
	count := int64(50)
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 && v <= 500 {
			count = v
		}
	}

	entries, err := h.deadLetters.Recent(c.Request.Context(), count)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]deadLetterResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, deadLetterResponse{
			ID:        e.StreamID,
			EventID:   e.EventID,
			EventType: e.EventType,
			SessionID: e.SessionID,
			ListingID: e.ListingID,
			Error:     e.Error,
			FailedAt:  e.FailedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
