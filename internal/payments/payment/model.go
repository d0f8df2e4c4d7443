package payment

import (
	"time"

	"tixvibe/pkg/contracts"
)

// Order is the read-only replica of an order, denormalized with the price so
// a charge can be made without asking the orders service.
type Order struct {
	ID      string                `json:"id"`
	UserID  string                `json:"userId"`
	Price   int64                 `json:"price"`
	Status  contracts.OrderStatus `json:"status"`
	Version int64                 `json:"version"`
}

type Payment struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	StripeID  string    `json:"stripeId"`
	CreatedAt time.Time `json:"createdAt"`
}
