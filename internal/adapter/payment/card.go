package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	maxWebhookBody = 64 << 10

	cardEventSucceeded = "payment_intent.succeeded"
	cardEventFailed    = "payment_intent.payment_failed"
	cardEventCanceled  = "payment_intent.canceled"
)

// NewStripeClient builds the card provider client. An empty baseURL keeps the
// public API endpoint.
func NewStripeClient(secretKey string, httpClient *http.Client, baseURL string) *client.API {
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}

	sc := &client.API{}
	sc.Init(secretKey, backends)
	return sc
}

// CardAdapter creates payment intents; the client confirms them with the
// returned client secret.
type CardAdapter struct {
	api           *client.API
	secretKey     string
	webhookSecret string
	currency      string
}

var (
	_ port.PaymentAdapter = (*CardAdapter)(nil)
	_ port.CallbackParser = (*CardAdapter)(nil)
)

func NewCardAdapter(api *client.API, secretKey, webhookSecret, currency string) *CardAdapter {
	return &CardAdapter{
		api:           api,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		currency:      strings.ToLower(currency),
	}
}

func (a *CardAdapter) Method() domain.PaymentMethod { return domain.PaymentMethodCard }

func (a *CardAdapter) Configured() bool { return a.secretKey != "" && a.api != nil }

func (a *CardAdapter) Initiate(ctx context.Context, order *domain.Order) (*domain.PaymentInitiation, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(MinorUnits(order.Total)),
		Currency:    stripe.String(a.currency),
		Description: stripe.String(Description(order)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", strconv.FormatInt(order.ID, 10))
	params.AddMetadata("order_number", order.OrderNumber)
	params.AddMetadata("user_id", strconv.FormatInt(order.UserID, 10))

	intent, err := a.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, fmt.Errorf("create payment intent: incomplete response")
	}

	return &domain.PaymentInitiation{
		Method:        domain.PaymentMethodCard,
		CorrelationID: intent.ID,
		ClientSecret:  intent.ClientSecret,
	}, nil
}

type cardEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID          string            `json:"id"`
			Object      string            `json:"object"`
			Description string            `json:"description"`
			Metadata    map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseCallback verifies the signature and rejects every event while no
// webhook secret is configured. Events that are not about a payment intent
// come back ignored with no transaction id.
func (a *CardAdapter) ParseCallback(r *http.Request) (domain.Callback, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return domain.Callback{}, fmt.Errorf("%w: read body: %v", domain.ErrValidation, err)
	}

	if a.webhookSecret == "" {
		return domain.Callback{}, fmt.Errorf("%w: webhook secret not configured", domain.ErrValidation)
	}
	if err := webhook.ValidatePayload(payload, r.Header.Get("Stripe-Signature"), a.webhookSecret); err != nil {
		return domain.Callback{}, fmt.Errorf("%w: invalid signature: %v", domain.ErrValidation, err)
	}

	var event cardEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.Callback{}, fmt.Errorf("%w: invalid payload: %v", domain.ErrValidation, err)
	}

	cb := domain.Callback{
		Provider:  domain.PaymentMethodCard,
		RawStatus: event.Type,
	}
	if !strings.HasPrefix(event.Type, "payment_intent.") {
		return cb, nil
	}

	obj := event.Data.Object
	cb.TransactionID = obj.ID
	switch event.Type {
	case cardEventSucceeded:
		cb.Outcome = domain.OutcomeSucceeded
	case cardEventFailed, cardEventCanceled:
		cb.Outcome = domain.OutcomeFailed
	}

	if obj.Description != "" {
		cb.References = append(cb.References, obj.Description)
	}
	if id := obj.Metadata["order_id"]; id != "" {
		cb.References = append(cb.References, "Order:"+id)
	}
	return cb, nil
}
