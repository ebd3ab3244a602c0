package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// TelegramService handles sending notifications to Telegram.
type TelegramService struct {
	botToken    string
	adminChatID string
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(text string) error {
	if s.adminChatID == "" {
		log.Println("[Telegram] Admin chat ID not configured")
		return nil
	}
	return s.SendMessage(s.adminChatID, text)
}

// FormatPrice formats a decimal amount with its currency.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = defaultCurrency
	}
	return amount.StringFixed(2) + " " + currency
}

// OrderConfirmedNotification contains data for a payment-confirmed message.
type OrderConfirmedNotification struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Source   string
}

// NotifyOrderConfirmed sends a confirmation notification to the admin chat.
func (s *TelegramService) NotifyOrderConfirmed(n OrderConfirmedNotification) error {
	if s.adminChatID == "" {
		return nil
	}

	message := fmt.Sprintf(`<b>✅ PAYMENT CONFIRMED</b>
<b>Order:</b> %s
<b>Amount:</b> %s
<b>Signal:</b> %s`,
		n.OrderID,
		FormatPrice(n.Amount, n.Currency),
		n.Source,
	)

	return s.SendToAdmin(strings.TrimSpace(message))
}

// PaymentFailedNotification contains data for a payment-failed message.
type PaymentFailedNotification struct {
	IntentID string
	Source   string
}

// NotifyPaymentFailed sends a failure notification to the admin chat.
func (s *TelegramService) NotifyPaymentFailed(n PaymentFailedNotification) error {
	if s.adminChatID == "" {
		return nil
	}

	message := fmt.Sprintf(`<b>❌ PAYMENT FAILED</b>
<b>Gateway order:</b> %s
<b>Signal:</b> %s`,
		n.IntentID,
		n.Source,
	)

	return s.SendToAdmin(strings.TrimSpace(message))
}
