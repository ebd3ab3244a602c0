package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/kirana/internal/models"
	"github.com/example/kirana/internal/repository"
)

// memoryOrderRepository is an in-memory OrderRepository. Transact holds a
// mutex for the whole callback, which models row-level serialization, and
// restores a snapshot on error, which models rollback. lockedUsers tracks
// the per-user checkout locks taken inside the current transaction, and
// CreateOrder enforces the one-pending-order-per-user unique index.
type memoryOrderRepository struct {
	mu          *sync.Mutex
	state       *memoryState
	inTx        bool
	lockedUsers map[uuid.UUID]bool
}

type memoryState struct {
	orders   map[uuid.UUID]*models.Order
	items    map[uuid.UUID][]models.OrderItem
	tracking map[uuid.UUID][]models.OrderTracking
	payments map[uuid.UUID]*models.Payment
}

func newMemoryOrderRepository() *memoryOrderRepository {
	return &memoryOrderRepository{
		mu: &sync.Mutex{},
		state: &memoryState{
			orders:   make(map[uuid.UUID]*models.Order),
			items:    make(map[uuid.UUID][]models.OrderItem),
			tracking: make(map[uuid.UUID][]models.OrderTracking),
			payments: make(map[uuid.UUID]*models.Payment),
		},
	}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		orders:   make(map[uuid.UUID]*models.Order, len(s.orders)),
		items:    make(map[uuid.UUID][]models.OrderItem, len(s.items)),
		tracking: make(map[uuid.UUID][]models.OrderTracking, len(s.tracking)),
		payments: make(map[uuid.UUID]*models.Payment, len(s.payments)),
	}
	for id, o := range s.orders {
		copied := *o
		out.orders[id] = &copied
	}
	for id, items := range s.items {
		out.items[id] = append([]models.OrderItem(nil), items...)
	}
	for id, tracks := range s.tracking {
		out.tracking[id] = append([]models.OrderTracking(nil), tracks...)
	}
	for id, p := range s.payments {
		copied := *p
		out.payments[id] = &copied
	}
	return out
}

func (r *memoryOrderRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *memoryOrderRepository) Transact(ctx context.Context, fn func(repository.OrderRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	inner := &memoryOrderRepository{
		mu:          r.mu,
		state:       r.state,
		inTx:        true,
		lockedUsers: make(map[uuid.UUID]bool),
	}
	if err := fn(inner); err != nil {
		*r.state = *snapshot
		return err
	}
	return nil
}

func (r *memoryOrderRepository) LockUserOrders(ctx context.Context, userID uuid.UUID) error {
	if !r.inTx {
		return fmt.Errorf("user checkout lock requested outside a transaction")
	}
	r.lockedUsers[userID] = true
	return nil
}

func (r *memoryOrderRepository) PendingOrderForUpdate(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	defer r.lock()()

	var latest *models.Order
	for _, o := range r.state.orders {
		if o.UserID != userID || o.Status != models.OrderStatusPendingPayment {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *memoryOrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	defer r.lock()()

	if order.Status == models.OrderStatusPendingPayment {
		if r.inTx && !r.lockedUsers[order.UserID] {
			return fmt.Errorf("pending order for user %s created without the checkout lock", order.UserID)
		}
		for _, o := range r.state.orders {
			if o.UserID == order.UserID && o.Status == models.OrderStatusPendingPayment {
				return fmt.Errorf("duplicate pending order for user %s", order.UserID)
			}
		}
	}

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	copied := *order
	r.state.orders[order.ID] = &copied
	return nil
}

func (r *memoryOrderRepository) SaveOrder(ctx context.Context, order *models.Order) error {
	defer r.lock()()

	copied := *order
	r.state.orders[order.ID] = &copied
	return nil
}

func (r *memoryOrderRepository) OrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	defer r.lock()()

	order, ok := r.state.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *memoryOrderRepository) ReplaceOrderItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	defer r.lock()()

	replaced := make([]models.OrderItem, len(items))
	for i, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = orderID
		replaced[i] = item
	}
	r.state.items[orderID] = replaced
	return nil
}

func (r *memoryOrderRepository) AppendTrackingOnce(ctx context.Context, orderID uuid.UUID, status string) error {
	defer r.lock()()

	for _, t := range r.state.tracking[orderID] {
		if t.Status == status {
			return nil
		}
	}
	r.state.tracking[orderID] = append(r.state.tracking[orderID], models.OrderTracking{
		BaseModel: models.BaseModel{ID: uuid.New()},
		OrderID:   orderID,
		Status:    status,
	})
	return nil
}

func (r *memoryOrderRepository) ActivePayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	defer r.lock()()

	for _, p := range r.state.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusCreated {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryOrderRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	defer r.lock()()

	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	copied := *payment
	r.state.payments[payment.ID] = &copied
	return nil
}

func (r *memoryOrderRepository) SavePayment(ctx context.Context, payment *models.Payment) error {
	defer r.lock()()

	copied := *payment
	r.state.payments[payment.ID] = &copied
	return nil
}

func (r *memoryOrderRepository) PaymentByIntentForUpdate(ctx context.Context, intentID string) (*models.Payment, error) {
	defer r.lock()()

	for _, p := range r.state.payments {
		if p.GatewayOrderID == intentID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryOrderRepository) ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error) {
	defer r.lock()()

	var orders []models.Order
	for _, o := range r.state.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	total := int64(len(orders))
	if offset >= len(orders) {
		return nil, total, nil
	}
	orders = orders[offset:]
	if limit < len(orders) {
		orders = orders[:limit]
	}
	return orders, total, nil
}

func (r *memoryOrderRepository) OrderForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	defer r.lock()()

	order, ok := r.state.orders[id]
	if !ok || order.UserID != userID {
		return nil, repository.ErrNotFound
	}
	copied := *order
	copied.Items = append([]models.OrderItem(nil), r.state.items[id]...)
	copied.TrackingUpdates = append([]models.OrderTracking(nil), r.state.tracking[id]...)
	return &copied, nil
}

// Test-side inspection helpers.

func (r *memoryOrderRepository) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.orders)
}

func (r *memoryOrderRepository) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.payments)
}

func (r *memoryOrderRepository) trackingRows(orderID uuid.UUID, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.state.tracking[orderID] {
		if t.Status == status {
			count++
		}
	}
	return count
}

func (r *memoryOrderRepository) order(id uuid.UUID) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.state.orders[id]
}

func (r *memoryOrderRepository) paymentByIntent(intentID string) *models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.state.payments {
		if p.GatewayOrderID == intentID {
			copied := *p
			return &copied
		}
	}
	return nil
}

func (r *memoryOrderRepository) orderItems(orderID uuid.UUID) []models.OrderItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OrderItem(nil), r.state.items[orderID]...)
}

// memoryCatalog is an in-memory CatalogRepository.
type memoryCatalog struct {
	mu       sync.Mutex
	products map[uuid.UUID]*models.Product
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{products: make(map[uuid.UUID]*models.Product)}
}

func (c *memoryCatalog) add(product models.Product) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	c.products[product.ID] = &product
	return product.ID
}

func (c *memoryCatalog) ProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	product, ok := c.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *product
	return &copied, nil
}

func (c *memoryCatalog) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var products []models.Product
	for _, p := range c.products {
		products = append(products, *p)
	}
	return products, int64(len(products)), nil
}

// fakeGateway implements PaymentGateway with deterministic intent ids and
// real HMAC signatures, so verify paths exercise the same math as production.
type fakeGateway struct {
	mu            sync.Mutex
	keySecret     string
	webhookSecret string
	createCalls   int
	createErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{keySecret: "test_key_secret", webhookSecret: "test_webhook_secret"}
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.createCalls++
	return fmt.Sprintf("order_test%03d", g.createCalls), nil
}

func (g *fakeGateway) VerifyPaymentSignature(intentID, paymentID, signature string) bool {
	expected := signHex(g.keySecret, []byte(intentID+"|"+paymentID))
	return expected == signature
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	expected := signHex(g.webhookSecret, body)
	return expected == signature
}

func (g *fakeGateway) intents() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

// sign produces the client signature the gateway would send back for a paid
// intent.
func (g *fakeGateway) sign(intentID, paymentID string) string {
	return signHex(g.keySecret, []byte(intentID+"|"+paymentID))
}

func (g *fakeGateway) signWebhook(body []byte) string {
	return signHex(g.webhookSecret, body)
}
