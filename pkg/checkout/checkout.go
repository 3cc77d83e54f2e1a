// Package checkout creates and inspects hosted payment sessions and
// verifies payment-processor webhooks.
package checkout

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"boutique/pkg/domain"
)

// Webhook event types the storefront reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// ErrNoItems rejects checkout requests with an empty cart.
var ErrNoItems = errors.New("checkout: no items in request")

// Config configures the payment service.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// AppBaseURL builds the default success and cancel URLs when the
	// request does not carry its own.
	AppBaseURL string
}

// Service wraps the payment-processor API for session management.
type Service struct {
	api           *client.API
	webhookSecret string
	appBaseURL    string
}

// NewService builds a payment service.
func NewService(cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key required")
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Service{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		appBaseURL:    strings.TrimRight(cfg.AppBaseURL, "/"),
	}, nil
}

// Session is the subset of the hosted session the storefront returns
// to its callers.
type Session struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// CreateSession opens a hosted card-payment session for the given
// items. Amounts are in EUR; unit amounts are rounded to cents.
func (s *Service) CreateSession(req domain.CheckoutRequest) (Session, error) {
	if len(req.Items) == 0 {
		return Session{}, ErrNoItems
	}
	params := s.sessionParams(req)
	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create payment session: %w", err)
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

// RetrieveSession loads a session with line items, payment intent,
// customer and shipping expanded, for the order confirmation page.
func (s *Service) RetrieveSession(id string) (*stripe.CheckoutSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session id required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("line_items")
	params.AddExpand("line_items.data.price.product")
	params.AddExpand("payment_intent")
	params.AddExpand("customer")
	params.AddExpand("shipping_cost.shipping_rate")
	sess, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment session: %w", err)
	}
	return sess, nil
}

// VerifyEvent checks the webhook signature header against the raw
// payload and returns the decoded event.
func (s *Service) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, errors.New("webhook secret not configured")
	}
	return webhook.ConstructEvent(payload, signature, s.webhookSecret)
}

func (s *Service) sessionParams(req domain.CheckoutRequest) *stripe.CheckoutSessionParams {
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.appBaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.appBaseURL + "/cart"
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:          lineItems(req.Items),
		SuccessURL:         stripe.String(successURL),
		CancelURL:          stripe.String(cancelURL),
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice([]string{"FR", "BE", "LU", "CH"}),
		},
		ShippingOptions: shippingOptions(),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

func lineItems(items []domain.CheckoutItem) []*stripe.CheckoutSessionLineItemParams {
	out := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Title),
		}
		if item.Image != "" {
			product.Images = stripe.StringSlice([]string{item.Image})
		}
		out = append(out, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(string(stripe.CurrencyEUR)),
				ProductData: product,
				UnitAmount:  stripe.Int64(toCents(item.Price)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	return out
}

// toCents converts a decimal EUR price to integer cents.
func toCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

func shippingOptions() []*stripe.CheckoutSessionShippingOptionParams {
	return []*stripe.CheckoutSessionShippingOptionParams{
		shippingOption("Livraison standard", 490, 3, 5),
		shippingOption("Livraison express", 990, 1, 2),
	}
}

func shippingOption(name string, amountCents, minDays, maxDays int64) *stripe.CheckoutSessionShippingOptionParams {
	return &stripe.CheckoutSessionShippingOptionParams{
		ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
			Type:        stripe.String("fixed_amount"),
			DisplayName: stripe.String(name),
			FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
				Amount:   stripe.Int64(amountCents),
				Currency: stripe.String(string(stripe.CurrencyEUR)),
			},
			DeliveryEstimate: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{
				Minimum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
					Unit:  stripe.String("business_day"),
					Value: stripe.Int64(minDays),
				},
				Maximum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
					Unit:  stripe.String("business_day"),
					Value: stripe.Int64(maxDays),
				},
			},
		},
	}
}
