package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"boutique/pkg/domain"
	"boutique/pkg/session"
)

// stateRoutes exposes the cart, wishlist and account containers over
// HTTP. Registered only when the containers are wired in.
func (s *Server) stateRoutes() {
	if s.cart != nil {
		s.mux.HandleFunc("/api/cart", s.handleCart)
		s.mux.HandleFunc("/api/cart/items", s.handleCartItems)
		s.mux.HandleFunc("/api/cart/items/", s.handleCartItemByID)
		s.mux.HandleFunc("/api/cart/promo", s.handleCartPromo)
		s.mux.HandleFunc("/api/cart/shipping", s.handleCartShipping)
	}
	if s.wishlist != nil {
		s.mux.HandleFunc("/api/wishlist", s.handleWishlist)
		s.mux.HandleFunc("/api/wishlist/", s.handleWishlistItemByID)
	}
	if s.session != nil {
		s.mux.HandleFunc("/api/sign-out", s.handleSignOut)
		s.mux.HandleFunc("/api/me", s.handleMe)
		s.mux.HandleFunc("/api/me/addresses", s.handleAddresses)
		s.mux.HandleFunc("/api/me/addresses/", s.handleAddressByID)
	}
}

type cartResponse struct {
	Items        []domain.CartItem `json:"items"`
	PromoCode    *domain.PromoCode `json:"promoCode,omitempty"`
	ShippingCost float64           `json:"shippingCost"`
	Subtotal     float64           `json:"subtotal"`
	Total        float64           `json:"total"`
}

func (s *Server) cartSnapshot() cartResponse {
	return cartResponse{
		Items:        s.cart.Items(),
		PromoCode:    s.cart.PromoCode(),
		ShippingCost: s.cart.ShippingCost(),
		Subtotal:     s.cart.Subtotal(),
		Total:        s.cart.Total(),
	}
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.cartSnapshot())
	case http.MethodDelete:
		s.cart.Clear(r.Context())
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var item domain.CartItem
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if item.ID == 0 || item.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "id and quantity >= 1 are required")
		return
	}
	s.cart.Add(r.Context(), item)
	writeJSON(w, http.StatusOK, s.cartSnapshot())
}

func (s *Server) handleCartItemByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/cart/items/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req struct {
			Quantity int `json:"quantity"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Quantity < 1 {
			writeError(w, http.StatusBadRequest, "quantity must be >= 1")
			return
		}
		s.cart.UpdateQuantity(r.Context(), id, req.Quantity)
		writeJSON(w, http.StatusOK, s.cartSnapshot())
	case http.MethodDelete:
		s.cart.Remove(r.Context(), id)
		writeJSON(w, http.StatusOK, s.cartSnapshot())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCartPromo(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !s.cart.ApplyPromoCode(r.Context(), req.Code) {
			writeError(w, http.StatusBadRequest, "unknown promo code")
			return
		}
		writeJSON(w, http.StatusOK, s.cartSnapshot())
	case http.MethodDelete:
		s.cart.RemovePromoCode(r.Context())
		writeJSON(w, http.StatusOK, s.cartSnapshot())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCartShipping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Cost float64 `json:"cost"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Cost < 0 {
		writeError(w, http.StatusBadRequest, "cost must be >= 0")
		return
	}
	s.cart.SetShippingCost(r.Context(), req.Cost)
	writeJSON(w, http.StatusOK, s.cartSnapshot())
}

func (s *Server) handleWishlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if token := s.callerToken(r); token != "" {
			if err := s.wishlist.Fetch(r.Context(), token); err != nil {
				slog.Warn("wishlist fetch failed", "err", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": s.wishlist.Items()})
	case http.MethodPost:
		var item domain.WishlistItem
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if item.ID == 0 {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if !s.wishlist.Add(r.Context(), s.callerToken(r), item) {
			writeError(w, http.StatusBadGateway, "wishlist sync rejected the add")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": s.wishlist.Items()})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleWishlistItemByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, r, "/api/wishlist/")
	if !ok {
		return
	}
	s.wishlist.Remove(r.Context(), s.callerToken(r), id)
	writeJSON(w, http.StatusOK, map[string]any{"items": s.wishlist.Items()})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.session.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token := s.callerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := s.cms.Me(r.Context(), token)
		if err != nil {
			writeCMSError(w, err, http.StatusUnauthorized)
			return
		}
		s.session.SetUser(r.Context(), user)
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req struct {
			Username    *string `json:"username"`
			Email       *string `json:"email"`
			FirstName   *string `json:"firstName"`
			LastName    *string `json:"lastName"`
			DisplayName *string `json:"displayName"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		fields := map[string]any{}
		putField(fields, "username", req.Username)
		putField(fields, "email", req.Email)
		putField(fields, "firstName", req.FirstName)
		putField(fields, "lastName", req.LastName)
		putField(fields, "displayName", req.DisplayName)
		if len(fields) == 0 {
			writeError(w, http.StatusBadRequest, "no fields to update")
			return
		}
		user, err := s.cms.Me(r.Context(), token)
		if err != nil {
			writeCMSError(w, err, http.StatusUnauthorized)
			return
		}
		if err := s.cms.UpdateUser(r.Context(), token, user.ID, fields); err != nil {
			writeCMSError(w, err, http.StatusBadRequest)
			return
		}
		s.session.UpdateUserProfile(r.Context(), session.ProfilePatch{
			Username:    req.Username,
			Email:       req.Email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			DisplayName: req.DisplayName,
		})
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	token := s.callerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		addrs, err := s.cms.ListAddresses(r.Context(), token)
		if err != nil {
			writeCMSError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"addresses": addrs})
	case http.MethodPost:
		var addr domain.UserAddress
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&addr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if addr.Type != domain.AddressBilling && addr.Type != domain.AddressShipping {
			writeError(w, http.StatusBadRequest, "type must be billing or shipping")
			return
		}
		created, err := s.cms.CreateAddress(r.Context(), token, addr)
		if err != nil {
			writeCMSError(w, err, http.StatusBadRequest)
			return
		}
		s.session.AddAddress(r.Context(), created)
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAddressByID(w http.ResponseWriter, r *http.Request) {
	token := s.callerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := pathID(w, r, "/api/me/addresses/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req struct {
			Type              *domain.AddressType `json:"type"`
			FirstName         *string             `json:"firstName"`
			LastName          *string             `json:"lastName"`
			Address           *string             `json:"address"`
			AddressComplement *string             `json:"addressComplement"`
			PostalCode        *string             `json:"postalCode"`
			City              *string             `json:"city"`
			Country           *string             `json:"country"`
			Phone             *string             `json:"phone"`
			IsDefault         *bool               `json:"isDefault"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		fields := map[string]any{}
		if req.Type != nil {
			fields["type"] = *req.Type
		}
		putField(fields, "firstName", req.FirstName)
		putField(fields, "lastName", req.LastName)
		putField(fields, "address", req.Address)
		putField(fields, "addressComplement", req.AddressComplement)
		putField(fields, "postalCode", req.PostalCode)
		putField(fields, "city", req.City)
		putField(fields, "country", req.Country)
		putField(fields, "phone", req.Phone)
		if req.IsDefault != nil {
			fields["isDefault"] = *req.IsDefault
		}
		if len(fields) == 0 {
			writeError(w, http.StatusBadRequest, "no fields to update")
			return
		}
		if err := s.cms.UpdateAddress(r.Context(), token, id, fields); err != nil {
			writeCMSError(w, err, http.StatusBadRequest)
			return
		}
		s.session.UpdateAddress(r.Context(), id, session.AddressPatch{
			Type:              req.Type,
			FirstName:         req.FirstName,
			LastName:          req.LastName,
			Address:           req.Address,
			AddressComplement: req.AddressComplement,
			PostalCode:        req.PostalCode,
			City:              req.City,
			Country:           req.Country,
			Phone:             req.Phone,
			IsDefault:         req.IsDefault,
		})
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodDelete:
		if err := s.cms.DeleteAddress(r.Context(), token, id); err != nil {
			writeCMSError(w, err, http.StatusBadRequest)
			return
		}
		s.session.RemoveAddress(r.Context(), id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// callerToken prefers the request's own bearer token and falls back to
// the stored session.
func (s *Server) callerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	if s.session != nil {
		return s.session.Token()
	}
	return ""
}

func pathID(w http.ResponseWriter, r *http.Request, prefix string) (int, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		http.NotFound(w, r)
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func putField(fields map[string]any, name string, value *string) {
	if value != nil {
		fields[name] = *value
	}
}
