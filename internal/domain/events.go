package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderPlacedEvent struct {
	OrderID      string          `json:"order_id"`
	UserID       string          `json:"user_id"`
	CustomerName string          `json:"customer_name"`
	PhoneNumber  string          `json:"phone_number"`
	Lines        []OrderLine     `json:"lines"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Timestamp    time.Time       `json:"timestamp"`
}
