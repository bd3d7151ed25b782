// Package orders holds the client contract for the backend order service.
package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/domain"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrValidation means the order service rejected the draft itself.
	ErrValidation = errors.New("order rejected by order service")
	// ErrNetwork covers transport failures and the open circuit; the draft
	// may or may not have reached the server.
	ErrNetwork = errors.New("order service unreachable")
	// ErrServer means the order service answered with a server-side error.
	ErrServer = errors.New("order service error")
)

// Client creates orders on the backend. The caller owns idempotency: this
// contract does not promise server-side duplicate detection, so callers
// must not invoke CreateOrder twice for the same payment.
type Client interface {
	CreateOrder(ctx context.Context, draft *domain.OrderDraft) (string, error)
}

type createOrderResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPClient is the resty-backed implementation, wrapped in a circuit
// breaker so a struggling order service fails fast instead of piling up
// in-flight requests.
type HTTPClient struct {
	rc      *resty.Client
	breaker *gobreaker.CircuitBreaker[string]
	baseURL string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		rc: resty.New().
			SetTimeout(timeout).
			SetRetryCount(0), // retries are the user's call, never automatic
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    "order-service",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		baseURL: baseURL,
	}
}

func (c *HTTPClient) CreateOrder(ctx context.Context, draft *domain.OrderDraft) (string, error) {
	id, err := c.breaker.Execute(func() (string, error) {
		return c.doCreate(ctx, draft)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: circuit open", ErrNetwork)
	}
	return id, err
}

func (c *HTTPClient) doCreate(ctx context.Context, draft *domain.OrderDraft) (string, error) {
	var result createOrderResponse
	var apiErr errorResponse

	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(draft).
		SetResult(&result).
		SetError(&apiErr).
		Post(c.baseURL + "/api/v1/orders")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode() >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode())
	case resp.StatusCode() >= http.StatusBadRequest:
		if apiErr.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrValidation, apiErr.Error)
		}
		return "", fmt.Errorf("%w: status %d", ErrValidation, resp.StatusCode())
	}

	if result.ID == "" {
		return "", fmt.Errorf("%w: response missing order id", ErrServer)
	}
	return result.ID, nil
}
