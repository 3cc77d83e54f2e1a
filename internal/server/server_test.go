package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v78"

	"boutique/internal/ratelimit"
	"boutique/pkg/checkout"
	"boutique/pkg/cms"
	"boutique/pkg/domain"
)

type fakePayments struct {
	session     checkout.Session
	createErr   error
	createdReqs []domain.CheckoutRequest

	retrieved   *stripe.CheckoutSession
	retrieveErr error

	event     stripe.Event
	verifyErr error
}

func (f *fakePayments) CreateSession(req domain.CheckoutRequest) (checkout.Session, error) {
	f.createdReqs = append(f.createdReqs, req)
	if f.createErr != nil {
		return checkout.Session{}, f.createErr
	}
	if len(req.Items) == 0 {
		return checkout.Session{}, checkout.ErrNoItems
	}
	return f.session, nil
}

func (f *fakePayments) RetrieveSession(id string) (*stripe.CheckoutSession, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return f.retrieved, nil
}

func (f *fakePayments) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if f.verifyErr != nil {
		return stripe.Event{}, f.verifyErr
	}
	return f.event, nil
}

type fakeMailer struct {
	sent []string // "to|subject|text"
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, text, html string) error {
	f.sent = append(f.sent, to+"|"+subject+"|"+text)
	return nil
}

type fakePublisher struct {
	events []domain.OrderEvent
	err    error
}

func (f *fakePublisher) PublishOrderCompleted(ctx context.Context, event domain.OrderEvent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, event)
	return "key-1", nil
}

// cmsStub fakes the CMS auth and user routes.
type cmsStub struct {
	t *testing.T

	registered     []map[string]string
	userPuts       []string // "id|token"
	addressDeletes []string
	signInErr      bool
}

func (f *cmsStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/local", func(w http.ResponseWriter, r *http.Request) {
		if f.signInErr {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": {"message": "Invalid identifier or password"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jwt": "tok-1", "user": {"id": 12, "username": "marie"}}`))
	})
	mux.HandleFunc("POST /api/auth/local/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("decode register body: %v", err)
		}
		f.registered = append(f.registered, body)
		_, _ = w.Write([]byte(`{"jwt": "tok-2", "user": {"id": 13, "username": "paul"}}`))
	})
	mux.HandleFunc("POST /api/auth/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": true}`))
	})
	mux.HandleFunc("GET /api/articles", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [
			{"id": 4, "title": "Entretenir sa laine", "content": "<p>Laver à la main.</p><p>Séchage à plat.</p>"},
			{"id": 5, "title": "Nouvelle collection"}
		]}`))
	})
	mux.HandleFunc("PUT /api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.userPuts = append(f.userPuts, r.PathValue("id")+"|"+token)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 12, "username": "marie", "email": "m@ex.fr"}`))
	})
	mux.HandleFunc("POST /api/user-addresses", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data": {"id": 31, "type": "shipping", "city": "Lyon"}}`))
	})
	mux.HandleFunc("PUT /api/user-addresses/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {}}`))
	})
	mux.HandleFunc("DELETE /api/user-addresses/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.addressDeletes = append(f.addressDeletes, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestServer(t *testing.T, payments *fakePayments, mailer *fakeMailer, publisher *fakePublisher) (*Server, *cmsStub) {
	t.Helper()
	stub := &cmsStub{t: t}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	cfg := Config{
		CMS:      cms.NewClient(srv.URL),
		CMSToken: "svc-token",
		Payments: payments,
	}
	if mailer != nil {
		cfg.Mailer = mailer
	}
	if publisher != nil {
		cfg.Publisher = publisher
	}
	return New(cfg), stub
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSignInProxiesCMSResponse(t *testing.T) {
	s, _ := newTestServer(t, &fakePayments{}, nil, nil)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/sign-in",
		`{"identifier": "marie@example.fr", "password": "secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token != "tok-1" || resp.User.ID != 12 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestSignInForwardsCMSErrorStatus(t *testing.T) {
	s, stub := newTestServer(t, &fakePayments{}, nil, nil)
	stub.signInErr = true

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/sign-in",
		`{"identifier": "marie@example.fr", "password": "wrong"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want CMS status forwarded", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid identifier or password") {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestSignInMethodGuard(t *testing.T) {
	s, _ := newTestServer(t, &fakePayments{}, nil, nil)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/sign-in", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSignUpGeneratesPasswordAndMailsIt(t *testing.T) {
	mailer := &fakeMailer{}
	s, stub := newTestServer(t, &fakePayments{}, mailer, nil)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/sign-up",
		`{"username": "paul", "email": "paul@example.fr"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if len(stub.registered) != 1 {
		t.Fatalf("register calls = %d", len(stub.registered))
	}
	password := stub.registered[0]["password"]
	if len(password) < 16 {
		t.Fatalf("generated password too short: %q", password)
	}
	if len(mailer.sent) != 1 || !strings.Contains(mailer.sent[0], password) {
		t.Fatalf("welcome mail must carry the generated password, got %v", mailer.sent)
	}
}

func TestPostsListWithExcerpts(t *testing.T) {
	s, _ := newTestServer(t, &fakePayments{}, nil, nil)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/posts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp struct {
		Posts []postSummary `json:"posts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Fatalf("posts = %+v", resp.Posts)
	}
	if resp.Posts[0].Excerpt != "Laver à la main. Séchage à plat." {
		t.Fatalf("excerpt = %q, want markup stripped", resp.Posts[0].Excerpt)
	}
	if resp.Posts[1].Title != "Nouvelle collection" || resp.Posts[1].Excerpt != "" {
		t.Fatalf("post without content = %+v", resp.Posts[1])
	}
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	s, _ := newTestServer(t, &fakePayments{}, nil, nil)
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/checkout", `{"items": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCheckoutReturnsSession(t *testing.T) {
	payments := &fakePayments{session: checkout.Session{ID: "cs_1", URL: "https://pay.example/cs_1"}}
	s, _ := newTestServer(t, payments, nil, nil)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/checkout",
		`{"items": [{"title": "Bonnet", "price": 25.5, "quantity": 1}], "customerEmail": "m@ex.fr"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp checkout.Session
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.ID != "cs_1" || resp.URL == "" {
		t.Fatalf("response = %+v", resp)
	}
	if payments.createdReqs[0].CustomerEmail != "m@ex.fr" {
		t.Fatalf("request not forwarded: %+v", payments.createdReqs[0])
	}
}

func TestCheckoutSessionRetrieval(t *testing.T) {
	payments := &fakePayments{retrieved: &stripe.CheckoutSession{ID: "cs_1"}}
	s, _ := newTestServer(t, payments, nil, nil)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/checkout/sessions/cs_1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/checkout/sessions/", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without id = %d", rec.Code)
	}
}

func webhookEvent(t *testing.T, eventType string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestWebhookRequiresSignature(t *testing.T) {
	s, _ := newTestServer(t, &fakePayments{}, nil, nil)
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/webhook/stripe", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	s, _ := newTestServer(t, &fakePayments{verifyErr: errors.New("bad sig")}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookSessionCompletedRunsSideEffects(t *testing.T) {
	mailer := &fakeMailer{}
	publisher := &fakePublisher{}
	payments := &fakePayments{event: webhookEvent(t, checkout.EventCheckoutCompleted, map[string]any{
		"id":             "cs_1",
		"customer_email": "marie@example.fr",
		"amount_total":   10490,
		"currency":       "eur",
		"payment_status": "paid",
		"metadata":       map[string]string{"userId": "12"},
	})}
	s, stub := newTestServer(t, payments, mailer, publisher)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=ok")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}

	if len(stub.userPuts) != 1 || stub.userPuts[0] != "12|svc-token" {
		t.Fatalf("user verify calls = %v", stub.userPuts)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("published events = %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.SessionID != "cs_1" || event.AmountTotal != 104.90 || event.Currency != "eur" {
		t.Fatalf("event = %+v", event)
	}
	if len(mailer.sent) != 1 || !strings.Contains(mailer.sent[0], "marie@example.fr|") {
		t.Fatalf("confirmation mail = %v", mailer.sent)
	}
}

func TestWebhookPublishFailureStillAcks(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	payments := &fakePayments{event: webhookEvent(t, checkout.EventCheckoutCompleted, map[string]any{
		"id": "cs_2", "amount_total": 100, "currency": "eur",
	})}
	s, _ := newTestServer(t, payments, nil, publisher)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=ok")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, webhook must ack despite publish failure", rec.Code)
	}
}

func TestWebhookPaymentIntentEventsAck(t *testing.T) {
	payments := &fakePayments{event: webhookEvent(t, checkout.EventPaymentFailed, map[string]any{
		"id": "pi_1", "amount": 100,
	})}
	s, _ := newTestServer(t, payments, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=ok")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	stub := &cmsStub{t: t}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	s := New(Config{
		CMS:      cms.NewClient(srv.URL),
		Payments: &fakePayments{},
		Limiter:  limiter,
	})

	body := `{"identifier": "m@ex.fr", "password": "x"}`
	for i := 0; i < 2; i++ {
		if rec := doJSON(t, s.Router(), http.MethodPost, "/api/sign-in", body); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/sign-in", body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 once over quota", rec.Code)
	}
}
