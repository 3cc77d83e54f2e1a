package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"boutique/pkg/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(Config{
		SecretKey:     "sk_test_x",
		WebhookSecret: "whsec_test",
		AppBaseURL:    "https://boutique.example/",
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func TestToCentsRoundsToNearest(t *testing.T) {
	cases := []struct {
		price float64
		want  int64
	}{
		{25.5, 2550},
		{9.99, 999},
		{10.005, 1001},
		{0, 0},
		// 19.99 is not representable exactly in binary.
		{19.99, 1999},
	}
	for _, tc := range cases {
		if got := toCents(tc.price); got != tc.want {
			t.Fatalf("toCents(%v) = %d, want %d", tc.price, got, tc.want)
		}
	}
}

func TestLineItemsMapping(t *testing.T) {
	items := lineItems([]domain.CheckoutItem{
		{Title: "Bonnet", Price: 25.5, Quantity: 2, Image: "https://cdn/img.jpg"},
		{Title: "Gants", Price: 18, Quantity: 1},
	})
	if len(items) != 2 {
		t.Fatalf("line items = %d", len(items))
	}

	first := items[0]
	if *first.PriceData.Currency != "eur" {
		t.Fatalf("currency = %q", *first.PriceData.Currency)
	}
	if *first.PriceData.UnitAmount != 2550 {
		t.Fatalf("unit amount = %d", *first.PriceData.UnitAmount)
	}
	if *first.Quantity != 2 {
		t.Fatalf("quantity = %d", *first.Quantity)
	}
	if len(first.PriceData.ProductData.Images) != 1 {
		t.Fatalf("images = %v", first.PriceData.ProductData.Images)
	}

	if items[1].PriceData.ProductData.Images != nil {
		t.Fatal("item without image must not send an images list")
	}
}

func TestSessionParamsDefaults(t *testing.T) {
	s := newTestService(t)
	params := s.sessionParams(domain.CheckoutRequest{
		Items: []domain.CheckoutItem{{Title: "Bonnet", Price: 10, Quantity: 1}},
	})

	if got := *params.SuccessURL; got != "https://boutique.example/checkout/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("success url = %q", got)
	}
	if got := *params.CancelURL; got != "https://boutique.example/cart" {
		t.Fatalf("cancel url = %q", got)
	}
	if got := *params.Mode; got != "payment" {
		t.Fatalf("mode = %q", got)
	}
	countries := params.ShippingAddressCollection.AllowedCountries
	if len(countries) != 4 || *countries[0] != "FR" || *countries[3] != "CH" {
		t.Fatalf("allowed countries = %v", countries)
	}
	if len(params.ShippingOptions) != 2 {
		t.Fatalf("shipping options = %d", len(params.ShippingOptions))
	}
	standard := params.ShippingOptions[0].ShippingRateData
	if *standard.FixedAmount.Amount != 490 || *standard.DisplayName != "Livraison standard" {
		t.Fatalf("standard option = %+v", standard)
	}
	if *standard.DeliveryEstimate.Minimum.Value != 3 || *standard.DeliveryEstimate.Maximum.Value != 5 {
		t.Fatalf("standard estimate = %+v", standard.DeliveryEstimate)
	}
	express := params.ShippingOptions[1].ShippingRateData
	if *express.FixedAmount.Amount != 990 || *express.DeliveryEstimate.Maximum.Value != 2 {
		t.Fatalf("express option = %+v", express)
	}
}

func TestSessionParamsRequestOverrides(t *testing.T) {
	s := newTestService(t)
	params := s.sessionParams(domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{Title: "Bonnet", Price: 10, Quantity: 1}},
		CustomerEmail: "marie@example.fr",
		SuccessURL:    "https://elsewhere/ok",
		CancelURL:     "https://elsewhere/ko",
		Metadata:      map[string]string{"userId": "12"},
	})

	if *params.SuccessURL != "https://elsewhere/ok" || *params.CancelURL != "https://elsewhere/ko" {
		t.Fatalf("urls not overridden: %q %q", *params.SuccessURL, *params.CancelURL)
	}
	if *params.CustomerEmail != "marie@example.fr" {
		t.Fatalf("customer email = %q", *params.CustomerEmail)
	}
	if params.Metadata["userId"] != "12" {
		t.Fatalf("metadata = %v", params.Metadata)
	}
}

func TestCreateSessionRejectsEmptyCart(t *testing.T) {
	s := newTestService(t)
	if _, err := s.CreateSession(domain.CheckoutRequest{}); err != ErrNoItems {
		t.Fatalf("err = %v, want ErrNoItems", err)
	}
}

// signPayload builds a webhook signature header the way the processor
// does: v1 is an HMAC-SHA256 of "<timestamp>.<payload>".
func signPayload(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyEventAcceptsValidSignature(t *testing.T) {
	s := newTestService(t)
	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {"id": "cs_1"}}}`)

	event, err := s.VerifyEvent(payload, signPayload("whsec_test", payload, time.Now()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(event.Type) != EventCheckoutCompleted {
		t.Fatalf("event type = %q", event.Type)
	}
}

func TestVerifyEventRejectsBadSignature(t *testing.T) {
	s := newTestService(t)
	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed"}`)

	if _, err := s.VerifyEvent(payload, signPayload("whsec_wrong", payload, time.Now())); err == nil {
		t.Fatal("tampered signature accepted")
	}
	if _, err := s.VerifyEvent(payload, signPayload("whsec_test", payload, time.Now().Add(-time.Hour))); err == nil {
		t.Fatal("stale timestamp accepted")
	}
	if _, err := s.VerifyEvent([]byte(`{}`), ""); err == nil {
		t.Fatal("missing signature accepted")
	}
}
