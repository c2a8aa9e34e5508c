package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/models"
)

type priceResponse struct {
	ID              string            `json:"id"`
	Currency        string            `json:"currency"`
	Type            string            `json:"type"`
	UnitAmount      *int64            `json:"unitAmount"`
	Interval        *string           `json:"interval,omitempty"`
	IntervalCount   *int64            `json:"intervalCount,omitempty"`
	TrialPeriodDays *int64            `json:"trialPeriodDays,omitempty"`
	Description     *string           `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata"`
}

type productResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	Image       *string           `json:"image,omitempty"`
	Metadata    map[string]string `json:"metadata"`
	Prices      []priceResponse   `json:"prices"`
}

func toProductResponse(p models.Product) productResponse {
	out := productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Image:       p.Image,
		Metadata:    p.Metadata,
		Prices:      make([]priceResponse, 0, len(p.Prices)),
	}
	for _, price := range p.Prices {
		out.Prices = append(out.Prices, priceResponse{
			ID:              price.ID,
			Currency:        price.Currency,
			Type:            price.Type,
			UnitAmount:      price.UnitAmount,
			Interval:        price.Interval,
			IntervalCount:   price.IntervalCount,
			TrialPeriodDays: price.TrialPeriodDays,
			Description:     price.Description,
			Metadata:        price.Metadata,
		})
	}
	return out
}

// Products lists the active catalog with the prices a checkout may use.
func (h HandlerSet) Products(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusOK, gin.H{"products": []productResponse{}})
		return
	}

	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}
