// Package session caches the signed-in user and bearer token.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"boutique/pkg/domain"
	"boutique/pkg/persist"
)

// Slot is the persisted state slot name for the auth session.
const Slot = "auth-storage"

type state struct {
	Token           string              `json:"token"`
	User            *domain.UserProfile `json:"user"`
	IsAuthenticated bool                `json:"isAuthenticated"`
}

// ProfilePatch carries optional profile fields for a shallow merge.
// Nil fields are left untouched.
type ProfilePatch struct {
	Username    *string
	Email       *string
	FirstName   *string
	LastName    *string
	DisplayName *string
}

// AddressPatch carries optional address fields for a shallow merge.
type AddressPatch struct {
	Type              *domain.AddressType
	FirstName         *string
	LastName          *string
	Address           *string
	AddressComplement *string
	PostalCode        *string
	City              *string
	Country           *string
	Phone             *string
	IsDefault         *bool
}

// Session is the auth state container. Every mutator re-establishes
// the invariant isAuthenticated == (token != "").
type Session struct {
	mu    sync.Mutex
	store persist.Store
	state state
}

// New builds a session, restoring the last snapshot when one exists.
func New(ctx context.Context, store persist.Store) *Session {
	s := &Session{store: store}
	if store != nil {
		if _, err := store.Load(ctx, Slot, &s.state); err != nil {
			slog.Warn("session snapshot load failed", "err", err)
		}
		// Re-derive rather than trust the stored flag.
		s.state.IsAuthenticated = s.state.Token != ""
	}
	return s
}

// SetToken stores the bearer token and recomputes isAuthenticated.
func (s *Session) SetToken(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Token = token
	s.state.IsAuthenticated = token != ""
	s.saveLocked(ctx)
}

// SetUser replaces the cached profile wholesale.
func (s *Session) SetUser(ctx context.Context, user domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := user
	copied.Addresses = append([]domain.UserAddress(nil), user.Addresses...)
	s.state.User = &copied
	s.saveLocked(ctx)
}

// UpdateUserProfile shallow-merges the patch into the cached profile.
// No-op when no profile is loaded.
func (s *Session) UpdateUserProfile(ctx context.Context, patch ProfilePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return
	}
	u := s.state.User
	if patch.Username != nil {
		u.Username = *patch.Username
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	s.saveLocked(ctx)
}

// AddAddress appends an address to the cached profile. No-op without
// a loaded profile.
func (s *Session) AddAddress(ctx context.Context, addr domain.UserAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return
	}
	s.state.User.Addresses = append(s.state.User.Addresses, addr)
	s.saveLocked(ctx)
}

// UpdateAddress merges the patch into the address with the given id,
// leaving the rest untouched. Unknown ids are a silent no-op.
func (s *Session) UpdateAddress(ctx context.Context, id int, patch AddressPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return
	}
	for i := range s.state.User.Addresses {
		if s.state.User.Addresses[i].ID != id {
			continue
		}
		applyAddressPatch(&s.state.User.Addresses[i], patch)
		s.saveLocked(ctx)
		return
	}
}

// RemoveAddress filters out the address with the given id.
func (s *Session) RemoveAddress(ctx context.Context, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return
	}
	kept := s.state.User.Addresses[:0]
	for _, addr := range s.state.User.Addresses {
		if addr.ID != id {
			kept = append(kept, addr)
		}
	}
	s.state.User.Addresses = kept
	s.saveLocked(ctx)
}

// AddressesByType returns the cached addresses matching the type.
func (s *Session) AddressesByType(addrType domain.AddressType) []domain.UserAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return nil
	}
	var out []domain.UserAddress
	for _, addr := range s.state.User.Addresses {
		if addr.Type == addrType {
			out = append(out, addr)
		}
	}
	return out
}

// Logout clears token, user and the authenticated flag atomically.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state{}
	s.saveLocked(ctx)
}

// Token returns the stored bearer token, empty when signed out.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// User returns a copy of the cached profile, or nil when signed out.
func (s *Session) User() *domain.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return nil
	}
	copied := *s.state.User
	copied.Addresses = append([]domain.UserAddress(nil), s.state.User.Addresses...)
	return &copied
}

// IsAuthenticated reports whether a token is present.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsAuthenticated
}

// TokenExpired inspects the JWT exp claim without verifying the
// signature (the CMS owns the signing key). Tokens without an exp
// claim never expire here; malformed tokens count as expired.
func (s *Session) TokenExpired(now time.Time) bool {
	s.mu.Lock()
	token := s.state.Token
	s.mu.Unlock()
	if token == "" {
		return true
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}

func applyAddressPatch(addr *domain.UserAddress, patch AddressPatch) {
	if patch.Type != nil {
		addr.Type = *patch.Type
	}
	if patch.FirstName != nil {
		addr.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		addr.LastName = *patch.LastName
	}
	if patch.Address != nil {
		addr.Address = *patch.Address
	}
	if patch.AddressComplement != nil {
		addr.AddressComplement = *patch.AddressComplement
	}
	if patch.PostalCode != nil {
		addr.PostalCode = *patch.PostalCode
	}
	if patch.City != nil {
		addr.City = *patch.City
	}
	if patch.Country != nil {
		addr.Country = *patch.Country
	}
	if patch.Phone != nil {
		addr.Phone = *patch.Phone
	}
	if patch.IsDefault != nil {
		addr.IsDefault = *patch.IsDefault
	}
}

func (s *Session) saveLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, Slot, s.state); err != nil {
		slog.Warn("session snapshot save failed", "err", err)
	}
}
