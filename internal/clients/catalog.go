package clients

import (
	"context"
	"fmt"
	"time"

	"delivery-platform/internal/apperr"
	"delivery-platform/internal/util"

	"github.com/shopspring/decimal"
)

// MenuItem is the catalog service's view of an orderable item.
type MenuItem struct {
	ID           int64           `json:"id"`
	RestaurantID int64           `json:"restaurant_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Available    bool            `json:"available"`
}

// CatalogClient reads menu items from the catalog service. Prices fetched
// here are snapshotted onto order items at creation time.
type CatalogClient struct {
	doer httpDoer
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(baseURL string, timeout time.Duration, retries int) *CatalogClient {
	return &CatalogClient{doer: newHTTPDoer(baseURL, timeout, retries)}
}

// GetMenuItem fetches one menu item of a restaurant
func (c *CatalogClient) GetMenuItem(ctx context.Context, restaurantID, itemID int64) (*MenuItem, error) {
	start := time.Now()
	defer func() {
		util.CatalogLookupLatency.Observe(time.Since(start).Seconds())
	}()

	var item MenuItem
	err := c.doer.getJSON(ctx, fmt.Sprintf("/internal/restaurants/%d/menu-items/%d", restaurantID, itemID), &item)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("menu item %d not found in restaurant %d", itemID, restaurantID)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
