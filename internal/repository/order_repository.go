package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/kirana/internal/models"
)

// ErrNotFound is returned whenever a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// OrderRepository is the transactional store for orders, their items,
// tracking entries and payments. Every multi-step mutation in the checkout
// and reconciliation flows runs inside Transact, and the ForUpdate lookups
// take row locks so concurrent writers to the same order or payment
// serialize at the database.
type OrderRepository interface {
	// Transact runs fn inside a single database transaction. The repository
	// passed to fn is bound to that transaction; any error rolls the whole
	// transaction back.
	Transact(ctx context.Context, fn func(OrderRepository) error) error

	// LockUserOrders serializes checkout for one user. A row lock cannot
	// guard the not-yet-created pending order, so this takes a
	// transaction-scoped advisory lock keyed on the user id; it is released
	// automatically at commit or rollback.
	LockUserOrders(ctx context.Context, userID uuid.UUID) error
	PendingOrderForUpdate(ctx context.Context, userID uuid.UUID) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	SaveOrder(ctx context.Context, order *models.Order) error
	OrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ReplaceOrderItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error
	AppendTrackingOnce(ctx context.Context, orderID uuid.UUID, status string) error

	ActivePayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SavePayment(ctx context.Context, payment *models.Payment) error
	PaymentByIntentForUpdate(ctx context.Context, intentID string) (*models.Payment, error)

	ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error)
	OrderForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
}

// GormOrderRepository implements OrderRepository on top of gorm.
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository constructs a GormOrderRepository.
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Transact(ctx context.Context, fn func(OrderRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormOrderRepository{db: tx})
	})
}

func (r *GormOrderRepository) LockUserOrders(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtext(?))", userID.String()).Error
}

func (r *GormOrderRepository) PendingOrderForUpdate(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, models.OrderStatusPendingPayment).
		Order("created_at desc").
		First(&order).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &order, nil
}

func (r *GormOrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *GormOrderRepository) SaveOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *GormOrderRepository) OrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &order, nil
}

func (r *GormOrderRepository) ReplaceOrderItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}

	if len(items) == 0 {
		return nil
	}

	for i := range items {
		items[i].OrderID = orderID
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *GormOrderRepository) AppendTrackingOnce(ctx context.Context, orderID uuid.UUID, status string) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.OrderTracking{}).
		Where("order_id = ? AND status = ?", orderID, status).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return r.db.WithContext(ctx).Create(&models.OrderTracking{
		OrderID: orderID,
		Status:  status,
	}).Error
}

func (r *GormOrderRepository) ActivePayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusCreated).
		First(&payment).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &payment, nil
}

func (r *GormOrderRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *GormOrderRepository) SavePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *GormOrderRepository) PaymentByIntentForUpdate(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_order_id = ?", intentID).
		First(&payment).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &payment, nil
}

func (r *GormOrderRepository) ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := query.
		Preload("Items").
		Preload("TrackingUpdates").
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *GormOrderRepository) OrderForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("TrackingUpdates").
		Preload("Payment").
		First(&order, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &order, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
