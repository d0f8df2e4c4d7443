package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tixvibe/pkg/contracts"
)

func TestTicketCreatedBuildsReplica(t *testing.T) {
	f := newFixture(t, 15*time.Minute)

	evt := contracts.TicketCreatedEvent{ID: ticketID, Title: "Tomorrowland", Price: 3300, UserID: strangerID, Version: 0}
	require.NoError(t, f.svc.HandleTicketCreated(context.Background(), evt))

	stored, err := f.tickets.Get(context.Background(), ticketID)
	require.NoError(t, err)
	assert.Equal(t, int64(3300), stored.Price)
	assert.Equal(t, int64(0), stored.Version)

	// Redelivery of the same event changes nothing and is acked.
	require.NoError(t, f.svc.HandleTicketCreated(context.Background(), evt))
}

func TestTicketUpdatedAppliesNextVersion(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)

	evt := contracts.TicketUpdatedEvent{ID: ticketID, Title: "Tomorrowland", Price: 3500, Version: 1}
	require.NoError(t, f.svc.HandleTicketUpdated(context.Background(), evt))

	stored, err := f.tickets.Get(context.Background(), ticketID)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), stored.Price)
	assert.Equal(t, int64(1), stored.Version)
}

func TestTicketUpdatedStaleDeliveryIsAcked(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3500, 2)

	// An old event arriving after newer state has been applied must not
	// fail forever; it is acknowledged and dropped.
	evt := contracts.TicketUpdatedEvent{ID: ticketID, Title: "Tomorrowland", Price: 3400, Version: 1}
	require.NoError(t, f.svc.HandleTicketUpdated(context.Background(), evt))

	stored, err := f.tickets.Get(context.Background(), ticketID)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), stored.Price)
	assert.Equal(t, int64(2), stored.Version)
}

func TestTicketUpdatedVersionGapIsRetried(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)

	evt := contracts.TicketUpdatedEvent{ID: ticketID, Title: "Tomorrowland", Price: 3600, Version: 3}
	err := f.svc.HandleTicketUpdated(context.Background(), evt)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, getErr := f.tickets.Get(context.Background(), ticketID)
	require.NoError(t, getErr)
	assert.Equal(t, int64(0), stored.Version)
}

func TestTicketUpdatedBeforeCreateIsRetried(t *testing.T) {
	f := newFixture(t, 15*time.Minute)

	evt := contracts.TicketUpdatedEvent{ID: ticketID, Title: "Tomorrowland", Price: 3500, Version: 1}
	err := f.svc.HandleTicketUpdated(context.Background(), evt)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestExpirationCancelsUnpaidOrder(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishOrderCancelled", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleExpirationComplete(context.Background(), contracts.ExpirationCompleteEvent{OrderID: view.ID}))

	stored, err := f.orders.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusCancelled, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	f.pub.AssertCalled(t, "PublishOrderCancelled", mock.Anything, mock.MatchedBy(func(evt contracts.OrderCancelledEvent) bool {
		return evt.ID == view.ID && evt.Version == 1
	}))
	assert.Equal(t, view.ID+":cancelled", f.notifier.last())
}

func TestCompleteOrderAbsorbsLateExpiration(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentCreated(context.Background(), contracts.PaymentCreatedEvent{
		ID:      "pay-1",
		OrderID: view.ID,
	}))

	// The timer fires anyway; completion must win.
	require.NoError(t, f.svc.HandleExpirationComplete(context.Background(), contracts.ExpirationCompleteEvent{OrderID: view.ID}))

	stored, err := f.orders.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusComplete, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	f.pub.AssertNotCalled(t, "PublishOrderCancelled", mock.Anything, mock.Anything)
}

func TestExpirationRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishOrderCancelled", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	evt := contracts.ExpirationCompleteEvent{OrderID: view.ID}
	require.NoError(t, f.svc.HandleExpirationComplete(context.Background(), evt))
	require.NoError(t, f.svc.HandleExpirationComplete(context.Background(), evt))

	stored, err := f.orders.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	f.pub.AssertNumberOfCalls(t, "PublishOrderCancelled", 1)
}

func TestExpirationForUnknownOrderIsRetried(t *testing.T) {
	f := newFixture(t, 15*time.Minute)

	err := f.svc.HandleExpirationComplete(context.Background(), contracts.ExpirationCompleteEvent{OrderID: "missing"})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPaymentCompletesOrder(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	evt := contracts.PaymentCreatedEvent{ID: "pay-1", OrderID: view.ID, StripeID: "ch_1"}
	require.NoError(t, f.svc.HandlePaymentCreated(context.Background(), evt))

	stored, err := f.orders.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusComplete, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, view.ID+":complete", f.notifier.last())

	// Redelivery finds the order already complete and acks.
	require.NoError(t, f.svc.HandlePaymentCreated(context.Background(), evt))
	stored, err = f.orders.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestPaymentForCancelledOrderIsAcked(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishOrderCancelled", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), buyerID, view.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentCreated(context.Background(), contracts.PaymentCreatedEvent{
		ID:      "pay-1",
		OrderID: view.ID,
	}))

	stored, err := f.orders.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusCancelled, stored.Status)
}

func TestReservationLifecycleEndToEnd(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.HandleTicketCreated(context.Background(), contracts.TicketCreatedEvent{
		ID: ticketID, Title: "Tomorrowland", Price: 3300, UserID: strangerID, Version: 0,
	}))

	before := time.Now().UTC()
	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(900*time.Second), view.ExpiresAt, 2*time.Second)

	require.NoError(t, f.svc.HandlePaymentCreated(context.Background(), contracts.PaymentCreatedEvent{
		ID: "pay-1", OrderID: view.ID, StripeID: "ch_1",
	}))

	// The reservation timer fires after the buyer already paid.
	require.NoError(t, f.svc.HandleExpirationComplete(context.Background(), contracts.ExpirationCompleteEvent{OrderID: view.ID}))

	final, err := f.svc.Get(context.Background(), buyerID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusComplete, final.Status)
	assert.Equal(t, int64(1), final.Version)
	f.pub.AssertNotCalled(t, "PublishOrderCancelled", mock.Anything, mock.Anything)
}
