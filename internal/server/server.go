// Package server exposes the storefront BFF HTTP surface: auth
// proxying to the CMS, checkout sessions and the payment webhook.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v78"

	"boutique/internal/ratelimit"
	"boutique/internal/util"
	"boutique/pkg/cart"
	"boutique/pkg/checkout"
	"boutique/pkg/cms"
	"boutique/pkg/domain"
	"boutique/pkg/mail"
	"boutique/pkg/session"
	"boutique/pkg/wishlist"
)

const maxBodyBytes = 1 << 20

// PaymentService is the slice of the checkout service the server uses.
type PaymentService interface {
	CreateSession(req domain.CheckoutRequest) (checkout.Session, error)
	RetrieveSession(id string) (*stripe.CheckoutSession, error)
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
}

// OrderPublisher publishes completed-order events. Optional.
type OrderPublisher interface {
	PublishOrderCompleted(ctx context.Context, event domain.OrderEvent) (string, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	CMS      *cms.Client
	CMSToken string
	Payments PaymentService

	// Optional collaborators; nil disables the concern.
	Mailer         mail.Mailer
	Publisher      OrderPublisher
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies

	// State containers; nil leaves the matching routes unregistered.
	Cart     *cart.Cart
	Session  *session.Session
	Wishlist *wishlist.Wishlist
}

// Server exposes HTTP endpoints for the storefront BFF.
type Server struct {
	cms       *cms.Client
	cmsToken  string
	payments  PaymentService
	mailer    mail.Mailer
	publisher OrderPublisher
	limiter   *ratelimit.FixedWindowLimiter
	proxies   *util.TrustedProxies
	cart      *cart.Cart
	session   *session.Session
	wishlist  *wishlist.Wishlist
	mux       *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		cms:       cfg.CMS,
		cmsToken:  cfg.CMSToken,
		payments:  cfg.Payments,
		mailer:    cfg.Mailer,
		publisher: cfg.Publisher,
		limiter:   cfg.Limiter,
		proxies:   cfg.TrustedProxies,
		cart:      cfg.Cart,
		session:   cfg.Session,
		wishlist:  cfg.Wishlist,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth proxy
	s.mux.Handle("/api/sign-in", s.rateLimited(s.handleSignIn))
	s.mux.Handle("/api/sign-up", s.rateLimited(s.handleSignUp))
	s.mux.Handle("/api/forgot-password", s.rateLimited(s.handleForgotPassword))
	s.mux.Handle("/api/reset-password", s.rateLimited(s.handleResetPassword))

	// blog
	s.mux.HandleFunc("/api/posts", s.handlePosts)

	// payments
	s.mux.HandleFunc("/api/checkout", s.handleCheckout)
	s.mux.HandleFunc("/api/checkout/sessions/", s.handleCheckoutSession)
	s.mux.HandleFunc("/api/webhook/stripe", s.handleStripeWebhook)

	s.stateRoutes()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.proxies)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	})
}

type signInRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type authResponse struct {
	Token string             `json:"token"`
	User  domain.UserProfile `json:"user"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signInRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "identifier and password are required")
		return
	}
	token, user, err := s.cms.SignIn(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeCMSError(w, err, http.StatusUnauthorized)
		return
	}
	if s.session != nil {
		s.session.SetToken(r.Context(), token)
		s.session.SetUser(r.Context(), user)
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

type signUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// handleSignUp registers the account with a generated password and
// mails it to the user, who is expected to change it afterwards.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signUpRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required")
		return
	}
	password, err := randomPassword()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	token, user, err := s.cms.Register(r.Context(), req.Username, req.Email, password)
	if err != nil {
		writeCMSError(w, err, http.StatusBadRequest)
		return
	}
	if s.mailer != nil {
		if err := mail.Welcome(r.Context(), s.mailer, req.Email, req.Username, password); err != nil {
			slog.Warn("welcome mail failed", "email", req.Email, "err", err)
		}
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := s.cms.ForgotPassword(r.Context(), req.Email); err != nil {
		writeCMSError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Code                 string `json:"code"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"passwordConfirmation"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "code and password are required")
		return
	}
	if req.Password != req.PasswordConfirmation {
		writeError(w, http.StatusBadRequest, "password confirmation does not match")
		return
	}
	if err := s.cms.ResetPassword(r.Context(), req.Code, req.Password, req.PasswordConfirmation); err != nil {
		writeCMSError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type postSummary struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
}

// handlePosts lists blog articles with a plain-text excerpt derived
// from the CMS rich-text content, for listing pages and meta
// descriptions.
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	articles, err := s.cms.ListArticles(r.Context())
	if err != nil {
		writeCMSError(w, err, http.StatusBadGateway)
		return
	}
	posts := make([]postSummary, 0, len(articles))
	for _, a := range articles {
		posts = append(posts, postSummary{
			ID:        a.ID,
			Title:     a.Title,
			Thumbnail: a.Thumbnail,
			Excerpt:   cms.Excerpt(a.Content, 160),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req domain.CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, err := s.payments.CreateSession(req)
	if err != nil {
		if errors.Is(err, checkout.ErrNoItems) {
			writeError(w, http.StatusBadRequest, "no items in cart")
			return
		}
		slog.Error("create payment session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "payment session creation failed")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := r.URL.Path[len("/api/checkout/sessions/"):]
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	sess, err := s.payments.RetrieveSession(id)
	if err != nil {
		slog.Error("retrieve payment session failed", "sessionId", id, "err", err)
		writeError(w, http.StatusInternalServerError, "session retrieval failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	}
	event, err := s.payments.VerifyEvent(payload, signature)
	if err != nil {
		slog.Warn("webhook signature rejected", "err", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	switch string(event.Type) {
	case checkout.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			writeError(w, http.StatusBadRequest, "malformed event payload")
			return
		}
		s.handleSessionCompleted(r.Context(), &sess)
	case checkout.EventPaymentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err == nil {
			slog.Info("payment intent succeeded",
				"paymentId", intent.ID, "amount", float64(intent.Amount)/100, "currency", intent.Currency)
		}
	case checkout.EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err == nil {
			msg := ""
			if intent.LastPaymentError != nil {
				msg = intent.LastPaymentError.Msg
			}
			slog.Warn("payment intent failed", "paymentId", intent.ID, "reason", msg)
		}
	default:
		slog.Info("unhandled webhook event", "type", event.Type)
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true, "type": event.Type})
}

// handleSessionCompleted runs the order side effects. Each one is
// best-effort; a failure is logged and the webhook still acks, the
// processor must not retry a verified event forever.
func (s *Server) handleSessionCompleted(ctx context.Context, sess *stripe.CheckoutSession) {
	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	amount := float64(sess.AmountTotal) / 100
	slog.Info("payment session completed",
		"sessionId", sess.ID, "email", email, "amount", amount, "currency", sess.Currency)

	if userID, err := userIDFromMetadata(sess.Metadata); err == nil {
		if err := s.cms.UpdateUser(ctx, s.cmsToken, userID, map[string]any{"verified": true}); err != nil {
			slog.Warn("mark user verified failed", "userId", userID, "err", err)
		}
	}

	if s.publisher != nil {
		_, err := s.publisher.PublishOrderCompleted(ctx, domain.OrderEvent{
			SessionID:     sess.ID,
			CustomerEmail: email,
			AmountTotal:   amount,
			Currency:      string(sess.Currency),
			PaymentStatus: string(sess.PaymentStatus),
			UserID:        sess.Metadata["userId"],
		})
		if err != nil {
			slog.Warn("publish order event failed", "sessionId", sess.ID, "err", err)
		}
	}

	if s.mailer != nil && email != "" {
		if err := mail.OrderConfirmation(ctx, s.mailer, email, sess.ID, amount, string(sess.Currency)); err != nil {
			slog.Warn("order confirmation mail failed", "sessionId", sess.ID, "err", err)
		}
	}
}

func userIDFromMetadata(metadata map[string]string) (int, error) {
	raw, ok := metadata["userId"]
	if !ok || raw == "" {
		return 0, errors.New("no userId in metadata")
	}
	var id int
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return 0, err
	}
	return id, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// writeCMSError maps a typed CMS error onto the response, falling back
// to the given status for transport failures.
func writeCMSError(w http.ResponseWriter, err error, fallback int) {
	var apiErr *cms.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	slog.Error("cms request failed", "err", err)
	writeError(w, fallback, "upstream request failed")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
