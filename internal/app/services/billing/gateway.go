package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stackgenhq/platform/pkg/logger"
)

// Order is the gateway's authoritative view of a top-up order.
type Order struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountPaise int64  `json:"amount"`
	Receipt     string `json:"receipt"`
}

// Payment is the gateway's authoritative view of a payment attempt.
type Payment struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	AmountPaise int64  `json:"amount"`
}

// Gateway statuses that authorize crediting. The webhook signature proves
// message authenticity only; these are what prove money actually moved.
const (
	OrderStatusPaid       = "paid"
	PaymentStatusCaptured = "captured"
)

// Gateway is the payment provider contract. Implementations must be safe
// for concurrent use.
type Gateway interface {
	// CreateOrder opens an order for the given amount and returns its
	// gateway identifier.
	CreateOrder(ctx context.Context, amountPaise int64, receipt string) (string, error)
	FetchOrder(ctx context.Context, orderID string) (Order, error)
	FetchPayment(ctx context.Context, paymentID string) (Payment, error)
	// FetchOrderPayments lists payment attempts against an order, newest
	// last.
	FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error)
}

// HTTPGateway talks to a Razorpay-compatible REST API using basic auth.
type HTTPGateway struct {
	client  *http.Client
	baseURL *url.URL
	keyID   string
	secret  string
	log     *logger.Logger
}

// NewHTTPGateway constructs a gateway client for the given endpoint.
func NewHTTPGateway(client *http.Client, endpoint, keyID, keySecret string, log *logger.Logger) (*HTTPGateway, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("gateway endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse gateway endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("billing-gateway")
	}
	return &HTTPGateway{
		client:  client,
		baseURL: parsed,
		keyID:   strings.TrimSpace(keyID),
		secret:  strings.TrimSpace(keySecret),
		log:     log,
	}, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body interface{}, dest interface{}) error {
	endpoint := *g.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + path

	var reader *strings.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode gateway request: %w", err)
		}
		reader = strings.NewReader(string(encoded))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway status %d for %s %s", resp.StatusCode, method, path)
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, amountPaise int64, receipt string) (string, error) {
	payload := map[string]interface{}{
		"amount":   amountPaise,
		"currency": "INR",
		"receipt":  receipt,
	}
	var order Order
	if err := g.do(ctx, http.MethodPost, "/orders", payload, &order); err != nil {
		return "", err
	}
	if order.ID == "" {
		return "", fmt.Errorf("gateway returned order without id")
	}
	return order.ID, nil
}

func (g *HTTPGateway) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	if err := g.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (g *HTTPGateway) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	var pay Payment
	if err := g.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &pay); err != nil {
		return Payment{}, err
	}
	return pay, nil
}

func (g *HTTPGateway) FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var payload struct {
		Items []Payment `json:"items"`
	}
	if err := g.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}
