package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/kirana/internal/middleware"
	"github.com/example/kirana/internal/services"
)

// PaymentHandler manages the checkout and reconciliation endpoints.
type PaymentHandler struct {
	checkout services.Checkout
	keyID    string
}

// NewPaymentHandler constructs a PaymentHandler. keyID is the public gateway
// key the frontend needs to open the payment widget.
func NewPaymentHandler(checkout services.Checkout, keyID string) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, keyID: keyID}
}

type checkoutItemRequest struct {
	Product  string          `json:"product"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type createPaymentRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	Total           decimal.Decimal       `json:"total"`
	DeliveryCharges decimal.Decimal       `json:"delivery_charges"`
	Tax             decimal.Decimal       `json:"tax"`
	GrandTotal      decimal.Decimal       `json:"grand_total"`
}

// CreatePayment creates (or reuses) the user's pending order and returns the
// gateway intent for client-side payment collection.
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	checkout := services.CheckoutRequest{
		Subtotal:        req.Total,
		DeliveryCharges: req.DeliveryCharges,
		Tax:             req.Tax,
		GrandTotal:      req.GrandTotal,
	}
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.Product)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid product id")
		}
		checkout.Items = append(checkout.Items, services.CheckoutItem{
			ProductID: productID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	result, err := h.checkout.Initiate(c.UserContext(), userID, checkout)
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"razorpay_order_id": result.GatewayOrderID,
		"amount":            result.Amount,
		"key":               h.keyID,
		"order_id":          result.OrderID,
	})
}

type verifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// VerifyPayment handles the client confirmation call.
func (h *PaymentHandler) VerifyPayment(c *fiber.Ctx) error {
	if _, ok := middleware.GetCurrentUserID(c); !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	already, err := h.checkout.Verify(c.UserContext(), services.VerifyRequest{
		IntentID:  req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		if errors.Is(err, services.ErrBadSignature) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment verification failed"})
		}
		return writeServiceError(c, err)
	}

	if already {
		return c.JSON(fiber.Map{"message": "Payment already verified"})
	}
	return c.JSON(fiber.Map{"message": "Payment verified successfully"})
}

// Webhook ingests gateway server-to-server events. The signature covers the
// exact raw body, so it is read before any parsing.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get("X-Razorpay-Signature")

	err := h.checkout.ProcessWebhook(c.UserContext(), body, signature)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "ok"})
	case errors.Is(err, services.ErrBadSignature):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "Invalid signature"})
	case errors.Is(err, services.ErrPaymentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"status": "payment not found"})
	default:
		var vErr *services.ValidationError
		if errors.As(err, &vErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": vErr.Error()})
		}
		return err
	}
}

// writeServiceError maps service-layer errors onto HTTP responses.
func writeServiceError(c *fiber.Ctx, err error) error {
	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": vErr.Error()})
	}

	var gErr *services.GatewayError
	if errors.As(err, &gErr) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment gateway unavailable"})
	}

	var cErr *services.ConflictError
	if errors.As(err, &cErr) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "payment is in a conflicting state"})
	}

	switch {
	case errors.Is(err, services.ErrProductNotFound):
		return fiber.NewError(fiber.StatusNotFound, "product not found")
	case errors.Is(err, services.ErrOrderNotFound):
		return fiber.NewError(fiber.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrPaymentNotFound):
		return fiber.NewError(fiber.StatusNotFound, "payment not found")
	}

	return err
}
