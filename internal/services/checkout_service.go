package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/kirana/internal/models"
	"github.com/example/kirana/internal/repository"
)

const defaultCurrency = "INR"

// ConfirmSource identifies which of the racing confirmation paths produced a
// reconciliation signal.
type ConfirmSource string

const (
	SourceClientVerify        ConfirmSource = "client_verify"
	SourceWebhookCaptured     ConfirmSource = "webhook_captured"
	SourceClientVerifyFailure ConfirmSource = "client_verify_failure"
	SourceWebhookFailed       ConfirmSource = "webhook_failed"
)

// Checkout is the surface the payment handler depends on.
type Checkout interface {
	Initiate(ctx context.Context, userID uuid.UUID, req CheckoutRequest) (*CheckoutResult, error)
	Verify(ctx context.Context, req VerifyRequest) (bool, error)
	ProcessWebhook(ctx context.Context, body []byte, signature string) error
}

// CheckoutItem is one cart line. Price is the unit price the caller saw;
// it is snapshotted onto the order item.
type CheckoutItem struct {
	ProductID uuid.UUID
	Quantity  int
	Price     decimal.Decimal
}

// CheckoutRequest carries the cart and its totals.
type CheckoutRequest struct {
	Items           []CheckoutItem
	Subtotal        decimal.Decimal
	DeliveryCharges decimal.Decimal
	Tax             decimal.Decimal
	GrandTotal      decimal.Decimal
}

// CheckoutResult is what the client needs to collect the payment.
type CheckoutResult struct {
	GatewayOrderID string
	Amount         int64
	OrderID        uuid.UUID
}

// VerifyRequest carries the client-side confirmation of a payment.
type VerifyRequest struct {
	IntentID  string
	PaymentID string
	Signature string
}

// CheckoutService orchestrates order creation, gateway intent creation and
// the reconciliation of client-verify and webhook signals into one
// consistent order/payment state.
type CheckoutService struct {
	orders   repository.OrderRepository
	catalog  repository.CatalogRepository
	gateway  PaymentGateway
	notifier *TelegramService
}

// NewCheckoutService constructs a CheckoutService.
func NewCheckoutService(orders repository.OrderRepository, catalog repository.CatalogRepository, gateway PaymentGateway, notifier *TelegramService) *CheckoutService {
	return &CheckoutService{
		orders:   orders,
		catalog:  catalog,
		gateway:  gateway,
		notifier: notifier,
	}
}

// grandTotalTolerance absorbs currency rounding in the caller's arithmetic.
var grandTotalTolerance = decimal.NewFromFloat(0.01)

// Initiate creates or reuses the user's pending order, replaces its items,
// and ensures exactly one gateway intent exists for it. Every mutation runs
// in one transaction; a gateway failure rolls all of it back.
func (s *CheckoutService) Initiate(ctx context.Context, userID uuid.UUID, req CheckoutRequest) (*CheckoutResult, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	var result *CheckoutResult
	err := s.orders.Transact(ctx, func(tx repository.OrderRepository) error {
		// Serialize per user before looking for the pending order. FOR UPDATE
		// cannot lock a row that does not exist yet, so without this two
		// first-time checkouts could both see "no pending order" and both
		// create one.
		if err := tx.LockUserOrders(ctx, userID); err != nil {
			return err
		}

		order, err := tx.PendingOrderForUpdate(ctx, userID)
		switch {
		case err == nil:
			// Retry of a stalled checkout: update totals in place instead of
			// creating a duplicate order.
			order.Subtotal = req.Subtotal
			order.DeliveryCharges = req.DeliveryCharges
			order.Tax = req.Tax
			order.GrandTotal = req.GrandTotal
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
		case errors.Is(err, repository.ErrNotFound):
			order = &models.Order{
				UserID:          userID,
				Subtotal:        req.Subtotal,
				DeliveryCharges: req.DeliveryCharges,
				Tax:             req.Tax,
				GrandTotal:      req.GrandTotal,
				Status:          models.OrderStatusPendingPayment,
			}
			if err := tx.CreateOrder(ctx, order); err != nil {
				return err
			}
		default:
			return err
		}

		items := make([]models.OrderItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, models.OrderItem{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				Price:     it.Price,
			})
		}
		if err := tx.ReplaceOrderItems(ctx, order.ID, items); err != nil {
			return err
		}

		if err := tx.AppendTrackingOnce(ctx, order.ID, models.TrackingPendingPayment); err != nil {
			return err
		}

		// The gateway charges in minor units.
		amount := minorUnits(order.GrandTotal)

		payment, err := tx.ActivePayment(ctx, order.ID)
		switch {
		case err == nil:
			// Reuse the open intent rather than orphaning it on the gateway.
			if !payment.Amount.Equal(order.GrandTotal) {
				payment.Amount = order.GrandTotal
				if err := tx.SavePayment(ctx, payment); err != nil {
					return err
				}
			}
		case errors.Is(err, repository.ErrNotFound):
			intentID, gerr := s.gateway.CreateIntent(ctx, amount, defaultCurrency)
			if gerr != nil {
				return gerr
			}
			payment = &models.Payment{
				OrderID:        order.ID,
				GatewayOrderID: intentID,
				Amount:         order.GrandTotal,
				Currency:       defaultCurrency,
				Status:         models.PaymentStatusCreated,
			}
			if err := tx.CreatePayment(ctx, payment); err != nil {
				return err
			}
		default:
			return err
		}

		result = &CheckoutResult{
			GatewayOrderID: payment.GatewayOrderID,
			Amount:         amount,
			OrderID:        order.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *CheckoutService) validate(ctx context.Context, req CheckoutRequest) error {
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "cart is empty"}
	}

	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return &ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		if it.Price.IsNegative() {
			return &ValidationError{Field: "price", Reason: "must not be negative"}
		}
		if _, err := s.catalog.ProductByID(ctx, it.ProductID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrProductNotFound
			}
			return err
		}
	}

	sum := req.Subtotal.Add(req.DeliveryCharges).Add(req.Tax)
	if req.GrandTotal.Sub(sum).Abs().GreaterThan(grandTotalTolerance) {
		return &ValidationError{Field: "grand_total", Reason: "does not match total + delivery_charges + tax"}
	}

	return nil
}

// Verify handles the client confirmation path: check the signature against
// the gateway secret, then run the shared confirm transition. A failed
// signature check records the payment as FAILED (sticky success still
// protects an earlier capture) and surfaces ErrBadSignature.
func (s *CheckoutService) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	if req.IntentID == "" || req.PaymentID == "" || req.Signature == "" {
		return false, &ValidationError{Field: "body", Reason: "missing verification fields"}
	}

	if !s.gateway.VerifyPaymentSignature(req.IntentID, req.PaymentID, req.Signature) {
		if err := s.FailPayment(ctx, req.IntentID, SourceClientVerifyFailure); err != nil && !errors.Is(err, ErrPaymentNotFound) {
			log.Printf("[Checkout] recording verification failure for intent %s: %v", req.IntentID, err)
		}
		return false, ErrBadSignature
	}

	return s.ConfirmPayment(ctx, req.IntentID, req.PaymentID, req.Signature, SourceClientVerify)
}

// ConfirmPayment is the single authoritative success transition. It is safe
// under concurrent invocation for the same intent: the payment row is locked
// for the whole transition, so the already-SUCCESS check is atomic with the
// update. Returns true when the payment had already been confirmed.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, intentID, paymentID, signature string, source ConfirmSource) (bool, error) {
	var already bool
	var confirmed *models.Order

	err := s.orders.Transact(ctx, func(tx repository.OrderRepository) error {
		payment, err := tx.PaymentByIntentForUpdate(ctx, intentID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}

		switch payment.Status {
		case models.PaymentStatusSuccess:
			already = true
			return nil
		case models.PaymentStatusFailed:
			return &ConflictError{
				IntentID: intentID,
				From:     models.PaymentStatusFailed,
				To:       models.PaymentStatusSuccess,
				Source:   string(source),
			}
		}

		if paymentID != "" {
			payment.GatewayPaymentID = paymentID
		}
		if signature != "" {
			payment.GatewaySignature = signature
		}
		payment.Status = models.PaymentStatusSuccess
		if err := tx.SavePayment(ctx, payment); err != nil {
			return err
		}

		order, err := tx.OrderByID(ctx, payment.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		// The capture is recorded on the payment regardless, but the order
		// transition, its tracking row and the notification belong only to
		// PENDING_PAYMENT -> CONFIRMED. An order that already left the
		// payment flow (e.g. cancelled) keeps its status.
		if order.Status == models.OrderStatusPendingPayment {
			order.Status = models.OrderStatusConfirmed
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
			if err := tx.AppendTrackingOnce(ctx, order.ID, models.TrackingConfirmed); err != nil {
				return err
			}
			confirmed = order
		} else {
			log.Printf("[Checkout] %s captured intent %s but order %s is %s, leaving order untouched", source, intentID, order.ID, order.Status)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if confirmed != nil && s.notifier != nil {
		order := *confirmed
		go func() {
			if err := s.notifier.NotifyOrderConfirmed(OrderConfirmedNotification{
				OrderID:  order.ID.String(),
				Amount:   order.GrandTotal,
				Currency: defaultCurrency,
				Source:   string(source),
			}); err != nil {
				log.Printf("[Checkout] confirmation notification failed for order %s: %v", order.ID, err)
			}
		}()
	}

	return already, nil
}

// FailPayment records a failure signal. Success is sticky: a late failure
// never regresses a SUCCESS payment or a CONFIRMED order.
func (s *CheckoutService) FailPayment(ctx context.Context, intentID string, source ConfirmSource) error {
	var failed bool

	err := s.orders.Transact(ctx, func(tx repository.OrderRepository) error {
		payment, err := tx.PaymentByIntentForUpdate(ctx, intentID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}

		switch payment.Status {
		case models.PaymentStatusSuccess:
			log.Printf("[Checkout] ignoring %s for intent %s: payment already SUCCESS", source, intentID)
			return nil
		case models.PaymentStatusFailed:
			return nil
		}

		payment.Status = models.PaymentStatusFailed
		if err := tx.SavePayment(ctx, payment); err != nil {
			return err
		}

		order, err := tx.OrderByID(ctx, payment.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		if order.Status != models.OrderStatusConfirmed && order.Status != models.OrderStatusPendingPayment {
			order.Status = models.OrderStatusPendingPayment
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
		}

		failed = true
		return nil
	})
	if err != nil {
		return err
	}

	if failed && s.notifier != nil {
		go func() {
			if err := s.notifier.NotifyPaymentFailed(PaymentFailedNotification{
				IntentID: intentID,
				Source:   string(source),
			}); err != nil {
				log.Printf("[Checkout] failure notification failed for intent %s: %v", intentID, err)
			}
		}()
	}

	return nil
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ProcessWebhook validates and dispatches a gateway webhook. The signature is
// checked over the raw body before any parsing; an invalid signature causes
// no side effects. Unknown event types are acknowledged and ignored so the
// gateway does not retry them forever.
func (s *CheckoutService) ProcessWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(body, signature) {
		return ErrBadSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return &ValidationError{Field: "body", Reason: "malformed webhook payload"}
	}

	intentID := event.Payload.Payment.Entity.OrderID

	switch event.Event {
	case "payment.captured":
		if intentID == "" {
			return ErrPaymentNotFound
		}
		_, err := s.ConfirmPayment(ctx, intentID, event.Payload.Payment.Entity.ID, "", SourceWebhookCaptured)
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			// Contradictory but terminal; acknowledge so the gateway stops
			// redelivering.
			log.Printf("[Checkout] webhook conflict: %v", conflict)
			return nil
		}
		return err
	case "payment.failed":
		if intentID == "" {
			return ErrPaymentNotFound
		}
		return s.FailPayment(ctx, intentID, SourceWebhookFailed)
	default:
		log.Printf("[Checkout] ignoring webhook event %q", event.Event)
		return nil
	}
}

// minorUnits converts a decimal currency amount to the gateway's integer
// minor-unit representation (e.g. 118.00 INR -> 11800 paise).
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
