package contracts

import "time"

// Subject names one event stream. Each subject has exactly one owning
// publisher service; everyone else consumes.
type Subject string

const (
	SubjectTicketCreated      Subject = "ticket.created"
	SubjectTicketUpdated      Subject = "ticket.updated"
	SubjectOrderCreated       Subject = "order.created"
	SubjectOrderCancelled     Subject = "order.cancelled"
	SubjectExpirationComplete Subject = "expiration.complete"
	SubjectPaymentCreated     Subject = "payment.created"
)

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusComplete        OrderStatus = "complete"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

type TicketCreatedEvent struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Price   int64  `json:"price"`
	UserID  string `json:"userId"`
	Version int64  `json:"version"`
}

type TicketUpdatedEvent struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Price   int64   `json:"price"`
	UserID  string  `json:"userId"`
	Version int64   `json:"version"`
	OrderID *string `json:"orderId,omitempty"`
}

type OrderCreatedTicket struct {
	ID    string `json:"id"`
	Price int64  `json:"price"`
}

// OrderCreatedEvent crosses service boundaries with ExpiresAt in UTC;
// publishers must call UTC() before handing the timestamp over.
type OrderCreatedEvent struct {
	ID        string             `json:"id"`
	Version   int64              `json:"version"`
	Status    OrderStatus        `json:"status"`
	UserID    string             `json:"userId"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Ticket    OrderCreatedTicket `json:"ticket"`
}

type OrderCancelledTicket struct {
	ID string `json:"id"`
}

type OrderCancelledEvent struct {
	ID      string               `json:"id"`
	Version int64                `json:"version"`
	Ticket  OrderCancelledTicket `json:"ticket"`
}

type ExpirationCompleteEvent struct {
	OrderID string `json:"orderId"`
}

type PaymentCreatedEvent struct {
	ID       string `json:"id"`
	OrderID  string `json:"orderId"`
	StripeID string `json:"stripeId"`
}
