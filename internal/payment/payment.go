// Package payment integrates the external checkout provider. The provider
// hosts the checkout page and calls our webhook when a payment settles.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lanpoint/gamecenter/internal/engine"
)

const (
	defaultRequestTimeout = 30 * time.Second

	// StatusApproved is the provider's terminal success state; anything
	// else is ignored by the webhook.
	StatusApproved = "approved"
)

var (
	ErrInvalidNotification = errors.New("invalid payment notification")
	errInvalidProviderDeps = errors.New("invalid payment provider config")
)

// Preference is a checkout session created at the provider.
type Preference struct {
	ExternalRef string
	CheckoutURL string
}

// Notification is a parsed webhook callback.
type Notification struct {
	ExternalRef string
	Status      string
}

// Approved reports whether the notification settles the payment.
func (notification Notification) Approved() bool {
	return notification.Status == StatusApproved
}

// Provider creates checkout preferences and parses webhook callbacks.
type Provider interface {
	CreatePreference(ctx context.Context, purchase engine.Purchase, product engine.Product) (Preference, error)
	ParseNotification(body io.Reader) (Notification, error)
}

// HTTPProvider talks to the provider's REST API with a bearer token.
type HTTPProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPProvider wires an HTTPProvider.
func NewHTTPProvider(baseURL string, token string) (*HTTPProvider, error) {
	if baseURL == "" || token == "" {
		return nil, errInvalidProviderDeps
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

type preferenceRequest struct {
	Reference   string `json:"reference"`
	Title       string `json:"title"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type preferenceResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreatePreference registers a checkout session for the pending purchase.
func (provider *HTTPProvider) CreatePreference(ctx context.Context, purchase engine.Purchase, product engine.Product) (Preference, error) {
	payload, err := json.Marshal(preferenceRequest{
		Reference:   purchase.ID,
		Title:       product.Name,
		AmountCents: purchase.AmountCents,
		Currency:    "USD",
	})
	if err != nil {
		return Preference{}, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.baseURL+"/v1/preferences", bytes.NewReader(payload))
	if err != nil {
		return Preference{}, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+provider.token)

	response, err := provider.httpClient.Do(request)
	if err != nil {
		return Preference{}, fmt.Errorf("payment provider request failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return Preference{}, fmt.Errorf("payment provider returned status %d: %s", response.StatusCode, string(body))
	}
	var decoded preferenceResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return Preference{}, fmt.Errorf("decode payment provider response: %w", err)
	}
	if decoded.ID == "" {
		return Preference{}, fmt.Errorf("payment provider returned empty preference id")
	}
	return Preference{ExternalRef: decoded.ID, CheckoutURL: decoded.CheckoutURL}, nil
}

type notificationPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ParseNotification decodes a webhook body.
func (provider *HTTPProvider) ParseNotification(body io.Reader) (Notification, error) {
	var payload notificationPayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return Notification{}, ErrInvalidNotification
	}
	if payload.ID == "" || payload.Status == "" {
		return Notification{}, ErrInvalidNotification
	}
	return Notification{ExternalRef: payload.ID, Status: payload.Status}, nil
}
