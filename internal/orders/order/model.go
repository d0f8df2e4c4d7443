package order

import (
	"time"

	"tixvibe/pkg/contracts"
)

type Order struct {
	ID        string                `json:"id"`
	UserID    string                `json:"userId"`
	Status    contracts.OrderStatus `json:"status"`
	TicketID  string                `json:"ticketId"`
	ExpiresAt time.Time             `json:"expiresAt"`
	Version   int64                 `json:"version"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Ticket is this service's replica of a catalog ticket: just the fields an
// order needs. The catalog keeps plenty more; none of it matters here.
type Ticket struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Price   int64  `json:"price"`
	Version int64  `json:"version"`
}

// View pairs an order with the ticket it reserved. The ticket reference is
// never dropped, so a cancelled order still shows what the user tried to
// buy.
type View struct {
	Order
	Ticket *Ticket `json:"ticket,omitempty"`
}
