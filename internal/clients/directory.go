package clients

import (
	"context"
	"fmt"
	"time"

	"delivery-platform/internal/apperr"

	"github.com/shopspring/decimal"
)

// User is the user service's view of a customer or driver.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

// Restaurant is the restaurant service's view of a merchant. The delivery fee
// is owned by the restaurant profile and copied onto new orders.
type Restaurant struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Open        bool            `json:"open"`
}

// UserClient reads profiles from the user service.
type UserClient struct {
	doer httpDoer
}

// NewUserClient creates a new user client
func NewUserClient(baseURL string, timeout time.Duration, retries int) *UserClient {
	return &UserClient{doer: newHTTPDoer(baseURL, timeout, retries)}
}

// GetUser fetches a user profile
func (c *UserClient) GetUser(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := c.doer.getJSON(ctx, fmt.Sprintf("/internal/users/%d", userID), &user)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RestaurantClient reads merchant profiles from the restaurant service.
type RestaurantClient struct {
	doer httpDoer
}

// NewRestaurantClient creates a new restaurant client
func NewRestaurantClient(baseURL string, timeout time.Duration, retries int) *RestaurantClient {
	return &RestaurantClient{doer: newHTTPDoer(baseURL, timeout, retries)}
}

// GetRestaurant fetches a restaurant profile
func (c *RestaurantClient) GetRestaurant(ctx context.Context, restaurantID int64) (*Restaurant, error) {
	var restaurant Restaurant
	err := c.doer.getJSON(ctx, fmt.Sprintf("/internal/restaurants/%d", restaurantID), &restaurant)
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("restaurant %d not found", restaurantID)
	}
	if err != nil {
		return nil, err
	}
	return &restaurant, nil
}
