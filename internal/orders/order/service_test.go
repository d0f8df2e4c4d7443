package order

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tixvibe/pkg/contracts"
)

const (
	buyerID    = "4f5b7e6a-9f3c-4d2e-8a1b-0c9d8e7f6a5b"
	strangerID = "1a2b3c4d-5e6f-4a8b-9c0d-1e2f3a4b5c6d"
	ticketID   = "7e8f9a0b-1c2d-4e3f-8a5b-6c7d8e9f0a1b"
)

type memoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func newMemoryOrderStore() *memoryOrderStore {
	return &memoryOrderStore{orders: make(map[string]Order)}
}

func (s *memoryOrderStore) Insert(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = *o
	return nil
}

func (s *memoryOrderStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (s *memoryOrderStore) ListByUser(_ context.Context, userID string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memoryOrderStore) Update(_ context.Context, o *Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.orders[o.ID] = *o
	return nil
}

func (s *memoryOrderStore) HasActiveOrderForTicket(_ context.Context, ticketID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.TicketID == ticketID && o.Status != contracts.OrderStatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

type memoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]Ticket
}

func newMemoryTicketStore() *memoryTicketStore {
	return &memoryTicketStore{tickets: make(map[string]Ticket)}
}

func (s *memoryTicketStore) Insert(_ context.Context, t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return ErrTicketExists
	}
	s.tickets[t.ID] = *t
	return nil
}

func (s *memoryTicketStore) Get(_ context.Context, id string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return &t, nil
}

func (s *memoryTicketStore) Update(_ context.Context, t *Ticket, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[t.ID]
	if !ok {
		return ErrTicketNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.tickets[t.ID] = *t
	return nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderCreated(ctx context.Context, evt contracts.OrderCreatedEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func (m *mockPublisher) PublishOrderCancelled(ctx context.Context, evt contracts.OrderCancelledEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

type fakeNotifier struct {
	mu      sync.Mutex
	updates []string
}

func (n *fakeNotifier) BroadcastOrderUpdate(orderID, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, orderID+":"+status)
}

func (n *fakeNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.updates) == 0 {
		return ""
	}
	return n.updates[len(n.updates)-1]
}

type fixture struct {
	svc      *Service
	orders   *memoryOrderStore
	tickets  *memoryTicketStore
	pub      *mockPublisher
	notifier *fakeNotifier
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		orders:   newMemoryOrderStore(),
		tickets:  newMemoryTicketStore(),
		pub:      &mockPublisher{},
		notifier: &fakeNotifier{},
	}
	f.svc = NewService(f.orders, f.tickets, f.pub, f.notifier, window, slog.Default())
	return f
}

func (f *fixture) seedTicket(t *testing.T, price int64, version int64) {
	t.Helper()
	require.NoError(t, f.tickets.Insert(context.Background(), &Ticket{
		ID:      ticketID,
		Title:   "Tomorrowland",
		Price:   price,
		Version: version,
	}))
}

func TestCreateReservesTicket(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	before := time.Now().UTC()
	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	assert.Equal(t, contracts.OrderStatusCreated, view.Status)
	assert.Equal(t, int64(0), view.Version)
	assert.WithinDuration(t, before.Add(15*time.Minute), view.ExpiresAt, 2*time.Second)
	require.NotNil(t, view.Ticket)
	assert.Equal(t, int64(3300), view.Ticket.Price)

	f.pub.AssertCalled(t, "PublishOrderCreated", mock.Anything, mock.MatchedBy(func(evt contracts.OrderCreatedEvent) bool {
		return evt.ID == view.ID &&
			evt.Version == 0 &&
			evt.Ticket.ID == ticketID &&
			evt.Ticket.Price == 3300
	}))
	assert.Equal(t, view.ID+":created", f.notifier.last())
}

func TestCreateForUnknownTicket(t *testing.T) {
	f := newFixture(t, 15*time.Minute)

	_, err := f.svc.Create(context.Background(), buyerID, ticketID)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	f.pub.AssertNotCalled(t, "PublishOrderCreated", mock.Anything, mock.Anything)
}

func TestCreateRejectsAlreadyReservedTicket(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	// The second buyer is turned away before anything is announced.
	_, err = f.svc.Create(context.Background(), strangerID, ticketID)
	assert.ErrorIs(t, err, ErrTicketReserved)
	f.pub.AssertNumberOfCalls(t, "PublishOrderCreated", 1)
}

func TestCancelFreesTicketAndKeepsHistory(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishOrderCancelled", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), buyerID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, int64(1), cancelled.Version)
	// The cancelled order still shows which ticket it was for.
	require.NotNil(t, cancelled.Ticket)
	assert.Equal(t, ticketID, cancelled.Ticket.ID)

	f.pub.AssertCalled(t, "PublishOrderCancelled", mock.Anything, mock.MatchedBy(func(evt contracts.OrderCancelledEvent) bool {
		return evt.ID == view.ID && evt.Version == 1 && evt.Ticket.ID == ticketID
	}))

	// The ticket is free again for the next buyer.
	again, err := f.svc.Create(context.Background(), strangerID, ticketID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusCreated, again.Status)
}

func TestCancelByStrangerRejected(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), strangerID, view.ID)
	assert.ErrorIs(t, err, ErrNotOrderOwner)
}

func TestCancelCompleteOrderRefused(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentCreated(context.Background(), contracts.PaymentCreatedEvent{
		ID:      "pay-1",
		OrderID: view.ID,
	}))

	_, err = f.svc.Cancel(context.Background(), buyerID, view.ID)
	assert.ErrorIs(t, err, ErrOrderComplete)
	f.pub.AssertNotCalled(t, "PublishOrderCancelled", mock.Anything, mock.Anything)
}

func TestCancelTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)
	f.pub.On("PublishOrderCancelled", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), buyerID, view.ID)
	require.NoError(t, err)

	again, err := f.svc.Cancel(context.Background(), buyerID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusCancelled, again.Status)
	f.pub.AssertNumberOfCalls(t, "PublishOrderCancelled", 1)
}

func TestGetScopedToOwner(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	f.seedTicket(t, 3300, 0)
	f.pub.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil)

	view, err := f.svc.Create(context.Background(), buyerID, ticketID)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), strangerID, view.ID)
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	got, err := f.svc.Get(context.Background(), buyerID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
}

func TestStoreRejectsStaleOrderWrite(t *testing.T) {
	store := newMemoryOrderStore()
	ctx := context.Background()

	o := &Order{ID: "o1", UserID: buyerID, Status: contracts.OrderStatusCreated, TicketID: ticketID}
	require.NoError(t, store.Insert(ctx, o))

	first := *o
	first.Status = contracts.OrderStatusComplete
	first.Version = 1
	require.NoError(t, store.Update(ctx, &first, 0))

	// A second writer still holding version 0 loses.
	second := *o
	second.Status = contracts.OrderStatusCancelled
	second.Version = 1
	assert.ErrorIs(t, store.Update(ctx, &second, 0), ErrVersionConflict)

	stored, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderStatusComplete, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}
