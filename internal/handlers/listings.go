package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/middleware"
	"boatmarket/internal/models"
	"boatmarket/internal/repository"
	"boatmarket/internal/service"
)

type listingResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Model          string    `json:"model"`
	Price          float64   `json:"price"`
	Currency       string    `json:"currency"`
	Country        string    `json:"country"`
	Description    string    `json:"description"`
	Specifications []string  `json:"specifications"`
	VATPaid        bool      `json:"vatPaid"`
	Photos         []string  `json:"photos"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toListingResponse(l models.Listing) listingResponse {
	specs, photos := l.Specifications, l.Photos
	if specs == nil {
		specs = []string{}
	}
	if photos == nil {
		photos = []string{}
	}
	return listingResponse{
		ID:             l.ID,
		UserID:         l.UserID,
		Model:          l.Model,
		Price:          l.Price,
		Currency:       l.Currency,
		Country:        l.Country,
		Description:    l.Description,
		Specifications: specs,
		VATPaid:        l.VATPaid,
		Photos:         photos,
		Status:         string(l.Status),
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

func toListingResponses(listings []models.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	return out
}

func (h HandlerSet) SearchListings(c *gin.Context) {
	filter := repository.ListingFilter{
		Country:  strings.TrimSpace(c.Query("country")),
		Model:    strings.TrimSpace(c.Query("model")),
		Currency: strings.TrimSpace(c.Query("currency")),
	}

	var ok bool
	if filter.MinPrice, ok = floatQuery(c, "minPrice"); !ok {
		return
	}
	if filter.MaxPrice, ok = floatQuery(c, "maxPrice"); !ok {
		return
	}
	if raw := c.Query("vatPaid"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid_query", "vatPaid must be true or false")
			return
		}
		filter.VATPaid = &v
	}
	if raw := c.Query("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	if raw := c.Query("offset"); raw != "" {
		filter.Offset, _ = strconv.Atoi(raw)
	}

	listings, err := h.listings.Search(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toListingResponses(listings)})
}

func floatQuery(c *gin.Context, name string) (*float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		badRequest(c, "invalid_query", name+" must be a non-negative number")
		return nil, false
	}
	return &v, true
}

func (h HandlerSet) GetListing(c *gin.Context) {
	var viewer *models.User
	if user, ok := middleware.CurrentUser(c); ok {
		viewer = &user
	}

	listing, err := h.listings.Get(c.Request.Context(), c.Param("id"), viewer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": toListingResponse(listing)})
}

func (h HandlerSet) MyListings(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	listings, err := h.listings.ListMine(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toListingResponses(listings)})
}

// ListingForSession backs the payment-success page. It is 404 until the
// webhook has materialised the listing, so clients poll.
func (h HandlerSet) ListingForSession(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	listing, err := h.listings.ListingForSession(c.Request.Context(), user, c.Param("sessionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": toListingResponse(listing)})
}

func (h HandlerSet) UploadListingImages(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	files, err := h.readUploads(c)
	if err != nil {
		badRequest(c, "invalid_files", err.Error())
		return
	}

	result, err := h.listings.UploadListingImages(c.Request.Context(), user, c.Param("id"), files)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if len(result.URLs) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}

func (h HandlerSet) DeleteListing(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	if err := h.listings.DeleteListing(c.Request.Context(), user, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Image streams a stored blob. Listing images never change under a key.
func (h HandlerSet) Image(c *gin.Context) {
	blob, err := h.listings.Image(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	cacheControl := "public, max-age=31536000, immutable"
	if strings.HasPrefix(strings.TrimPrefix(c.Param("key"), "/"), service.StagingPrefix) {
		cacheControl = "private, max-age=300"
	}
	c.Header("Cache-Control", cacheControl)
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}
