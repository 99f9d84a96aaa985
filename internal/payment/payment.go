// Package payment talks to the card/UPI gateway that collects order payments.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
)

type Gateway interface {
	CreateOrderIntent(ctx context.Context, amountPaise int64, currency string, receipt string) (domain.PaymentIntent, error)
	VerifySignature(gatewayOrderID string, paymentID string, signature string) bool
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID" under secret, the
// value the checkout hands back after a successful payment.
func Sign(secret string, gatewayOrderID string, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret string, gatewayOrderID string, paymentID string, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if secret == "" || signature == "" {
		return false
	}
	return utils.VerifyPaymentSignature(map[string]interface{}{
		"razorpay_order_id":   gatewayOrderID,
		"razorpay_payment_id": paymentID,
	}, signature, secret)
}

// orderCreator is the slice of the Razorpay orders resource we call.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Razorpay struct {
	keySecret string
	orders    orderCreator
}

func NewRazorpay(keyID string, keySecret string) *Razorpay {
	client := razorpay.NewClient(keyID, keySecret)
	return &Razorpay{keySecret: keySecret, orders: client.Order}
}

// CreateOrderIntent opens a gateway order. The SDK call does not take a
// context, so cancellation is only honoured before the request starts.
func (r *Razorpay) CreateOrderIntent(ctx context.Context, amountPaise int64, currency string, receipt string) (domain.PaymentIntent, error) {
	if amountPaise < 1 {
		return domain.PaymentIntent{}, fmt.Errorf("payment amount must be positive")
	}
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, err
	}
	body, err := r.orders.Create(map[string]interface{}{
		"amount":   amountPaise,
		"currency": currency,
		"receipt":  receipt,
	}, nil)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("razorpay create order: %w", err)
	}

	id, _ := body["id"].(string)
	if id == "" {
		return domain.PaymentIntent{}, fmt.Errorf("razorpay create order: empty id")
	}
	intent := domain.PaymentIntent{ID: id, Amount: amountPaise, Currency: currency}
	// amounts come back as JSON numbers
	if amount, ok := body["amount"].(float64); ok {
		intent.Amount = int64(amount)
	}
	if cur, ok := body["currency"].(string); ok && cur != "" {
		intent.Currency = cur
	}
	return intent, nil
}

func (r *Razorpay) VerifySignature(gatewayOrderID string, paymentID string, signature string) bool {
	return verify(r.keySecret, gatewayOrderID, paymentID, signature)
}

// Dev issues local intents and verifies signatures made with its secret.
// It is used when no gateway credentials are configured.
type Dev struct {
	secret string
	seq    func() string
}

func NewDev(secret string, seq func() string) *Dev {
	return &Dev{secret: secret, seq: seq}
}

func (d *Dev) CreateOrderIntent(_ context.Context, amountPaise int64, currency string, receipt string) (domain.PaymentIntent, error) {
	if amountPaise < 1 {
		return domain.PaymentIntent{}, fmt.Errorf("payment amount must be positive")
	}
	id := "order_" + receipt
	if d.seq != nil {
		id = "order_" + d.seq()
	}
	return domain.PaymentIntent{ID: id, Amount: amountPaise, Currency: currency}, nil
}

func (d *Dev) VerifySignature(gatewayOrderID string, paymentID string, signature string) bool {
	return verify(d.secret, gatewayOrderID, paymentID, signature)
}
