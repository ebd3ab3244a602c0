package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const razorpayBaseURL = "https://api.razorpay.com"

// PaymentGateway abstracts the external payment provider so the checkout
// service can be tested against a double.
type PaymentGateway interface {
	// CreateIntent opens a gateway-side order for the given minor-unit amount
	// and returns its id.
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error)
	// VerifyPaymentSignature checks the signature a client sends back after
	// paying. It never mutates state.
	VerifyPaymentSignature(intentID, paymentID, signature string) bool
	// VerifyWebhookSignature checks the HMAC over the exact raw webhook body,
	// before any JSON parsing.
	VerifyWebhookSignature(body []byte, signature string) bool
}

// RazorpayClient talks to the Razorpay REST API.
type RazorpayClient struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

// NewRazorpayClient constructs a RazorpayClient with a bounded call timeout.
func NewRazorpayClient(keyID, keySecret, webhookSecret string, timeout time.Duration) *RazorpayClient {
	return &RazorpayClient{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		baseURL:       razorpayBaseURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

type razorpayOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaymentCapture int    `json:"payment_capture"`
}

type razorpayOrderResponse struct {
	ID string `json:"id"`
}

// CreateIntent creates a Razorpay order. Amount is in minor units (paise).
func (c *RazorpayClient) CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error) {
	payload, err := json.Marshal(razorpayOrderRequest{
		Amount:         amountMinor,
		Currency:       currency,
		PaymentCapture: 1,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &GatewayError{Op: "create order", Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &GatewayError{
			Op:  "create order",
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}

	var order razorpayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return "", &GatewayError{Op: "create order", Err: err}
	}
	if order.ID == "" {
		return "", &GatewayError{Op: "create order", Err: errors.New("response missing order id")}
	}

	return order.ID, nil
}

// VerifyPaymentSignature validates the client-supplied signature, an
// HMAC-SHA256 of "<intent_id>|<payment_id>" under the key secret.
func (c *RazorpayClient) VerifyPaymentSignature(intentID, paymentID, signature string) bool {
	expected := signHex(c.keySecret, []byte(intentID+"|"+paymentID))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature validates the X-Razorpay-Signature header against
// the raw request body.
func (c *RazorpayClient) VerifyWebhookSignature(body []byte, signature string) bool {
	expected := signHex(c.webhookSecret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func signHex(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func isTimeout(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
