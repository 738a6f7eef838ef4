package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is the stored form of one product in a user's cart.
type CartLine struct {
	UserID    string    `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// CartItemView is a cart line resolved against the catalog for display.
// Price is the current catalog price and is not a checkout price.
type CartItemView struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	AddedAt   time.Time       `json:"added_at"`
}

type CartView struct {
	Items     []CartItemView  `json:"items"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}
