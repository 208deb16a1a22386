package dispatcher

import (
	"strings"
	"time"

	"github.com/admesh/salesagent/internal/adapters"
	"github.com/admesh/salesagent/internal/domain"
)

// Views shape what callers see. Product implementation config and platform
// identifiers never leave the server.

type productView struct {
	ProductID     string                `json:"product_id"`
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	Formats       []domain.Format       `json:"formats"`
	DeliveryType  domain.DeliveryType   `json:"delivery_type"`
	IsFixedPrice  bool                  `json:"is_fixed_price"`
	CPM           float64               `json:"cpm,omitempty"`
	PriceGuidance *domain.PriceGuidance `json:"price_guidance,omitempty"`
	ExpiresAt     *time.Time            `json:"expires_at,omitempty"`
}

func toProductView(p *domain.Product) productView {
	return productView{
		ProductID:     p.ProductID,
		Name:          p.Name,
		Description:   p.Description,
		Formats:       p.Formats,
		DeliveryType:  p.Delivery,
		IsFixedPrice:  p.IsFixedPrice,
		CPM:           p.CPM,
		PriceGuidance: p.PriceGuidance,
		ExpiresAt:     p.ExpiresAt,
	}
}

func matchesBrief(p *domain.Product, brief string) bool {
	brief = strings.ToLower(brief)
	return strings.Contains(strings.ToLower(p.Name), brief) ||
		strings.Contains(strings.ToLower(p.Description), brief)
}

type buyView struct {
	MediaBuyID  string                   `json:"media_buy_id"`
	OrderName   string                   `json:"order_name"`
	State       string                   `json:"state"`
	TotalBudget float64                  `json:"total_budget"`
	FlightStart time.Time                `json:"flight_start"`
	FlightEnd   time.Time                `json:"flight_end"`
	Packages    []domain.MediaPackage    `json:"packages"`
	Targeting   *domain.TargetingOverlay `json:"targeting_overlay,omitempty"`
	LastError   string                   `json:"last_error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

func toBuyView(b *domain.MediaBuy) buyView {
	return buyView{
		MediaBuyID:  b.MediaBuyID,
		OrderName:   b.OrderName,
		State:       string(b.State),
		TotalBudget: b.TotalBudget,
		FlightStart: b.FlightStart,
		FlightEnd:   b.FlightEnd,
		Packages:    b.Packages,
		Targeting:   b.Targeting,
		LastError:   b.LastError,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

type createBuyResponse struct {
	MediaBuy buyView  `json:"media_buy"`
	Warnings []string `json:"warnings,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

type reportView struct {
	MediaBuyID  string                     `json:"media_buy_id"`
	State       string                     `json:"state"`
	Impressions int64                      `json:"impressions"`
	Spend       float64                    `json:"spend"`
	Packages    []adapters.PackageDelivery `json:"packages,omitempty"`
	WindowStart time.Time                  `json:"window_start"`
	WindowEnd   time.Time                  `json:"window_end"`
}

type creativeView struct {
	CreativeID string    `json:"creative_id"`
	Name       string    `json:"name"`
	FormatID   string    `json:"format_id"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toCreativeView(c *domain.Creative) creativeView {
	return creativeView{
		CreativeID: c.CreativeID,
		Name:       c.Name,
		FormatID:   c.FormatID,
		Status:     string(c.Status),
		Detail:     c.Detail,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type uploadCreativeResponse struct {
	Creative     creativeView `json:"creative"`
	ReviewTaskID string       `json:"review_task_id,omitempty"`
	AssignmentID string       `json:"assignment_id,omitempty"`
	Detail       string       `json:"detail,omitempty"`
}
