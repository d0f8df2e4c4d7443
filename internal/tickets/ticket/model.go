package ticket

import "time"

// Ticket as owned by the tickets service. OrderID present means the ticket
// is reserved by that order; absent means it is up for sale.
type Ticket struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Price     int64     `json:"price"`
	UserID    string    `json:"userId"`
	OrderID   *string   `json:"orderId,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
