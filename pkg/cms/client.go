// Package cms is the typed REST client for the headless CMS that owns
// the catalog, user accounts and wishlist collections.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"boutique/pkg/domain"
)

// APIError is a non-2xx response from the CMS, with the message taken
// from the Strapi error envelope when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cms: %s (status %d)", e.Message, e.Status)
}

// Client calls the CMS REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a CMS client for the given base URL
// (e.g. http://localhost:1337).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AssetURL resolves a CMS-relative upload path to an absolute URL.
func (c *Client) AssetURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) do(ctx context.Context, method, route string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/"+route, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read cms response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode cms response: %w", err)
		}
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &envelope); err == nil {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

type userPayload struct {
	ID          int                  `json:"id"`
	Username    string               `json:"username"`
	Email       string               `json:"email"`
	FirstName   string               `json:"firstName"`
	LastName    string               `json:"lastName"`
	DisplayName string               `json:"displayName"`
	Addresses   []domain.UserAddress `json:"addresses"`
}

func (u userPayload) profile() domain.UserProfile {
	return domain.UserProfile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName,
		Addresses:   u.Addresses,
	}
}

// Me resolves the profile behind a bearer token.
func (c *Client) Me(ctx context.Context, token string) (domain.UserProfile, error) {
	var user userPayload
	if err := c.do(ctx, http.MethodGet, "users/me?populate=addresses", nil, token, &user); err != nil {
		return domain.UserProfile{}, err
	}
	if user.ID == 0 {
		return domain.UserProfile{}, &APIError{Status: http.StatusUnauthorized, Message: "user id missing from profile"}
	}
	return user.profile(), nil
}

// SignIn exchanges credentials for a JWT and the user profile.
func (c *Client) SignIn(ctx context.Context, identifier, password string) (string, domain.UserProfile, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var resp struct {
		JWT  string      `json:"jwt"`
		User userPayload `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/local", body, "", &resp); err != nil {
		return "", domain.UserProfile{}, err
	}
	return resp.JWT, resp.User.profile(), nil
}

// Register creates a CMS account and returns the issued JWT.
func (c *Client) Register(ctx context.Context, username, email, password string) (string, domain.UserProfile, error) {
	body := map[string]string{"username": username, "email": email, "password": password}
	var resp struct {
		JWT  string      `json:"jwt"`
		User userPayload `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/local/register", body, "", &resp); err != nil {
		return "", domain.UserProfile{}, err
	}
	return resp.JWT, resp.User.profile(), nil
}

// ForgotPassword triggers the CMS reset-mail flow.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "auth/forgot-password", map[string]string{"email": email}, "", nil)
}

// ResetPassword completes a reset started by ForgotPassword.
func (c *Client) ResetPassword(ctx context.Context, code, password, confirmation string) error {
	body := map[string]string{
		"code":                 code,
		"password":             password,
		"passwordConfirmation": confirmation,
	}
	return c.do(ctx, http.MethodPost, "auth/reset-password", body, "", nil)
}

// UpdateUser patches profile fields on the CMS user record.
func (c *Client) UpdateUser(ctx context.Context, token string, userID int, fields map[string]any) error {
	route := fmt.Sprintf("users/%d", userID)
	return c.do(ctx, http.MethodPut, route, map[string]any{"data": fields}, token, nil)
}

// ListWishlists returns the wishlist records for a user, newest first.
// The remote schema does not enforce one record per user, so callers
// pick the most recent.
func (c *Client) ListWishlists(ctx context.Context, token string, userID int, populateImages bool) ([]WishlistRecord, error) {
	route := fmt.Sprintf("wishlists?filters[user][id][$eq]=%d&populate=articles", userID)
	if populateImages {
		route = fmt.Sprintf("wishlists?filters[user][id][$eq]=%d&populate[articles][populate]=images", userID)
	}
	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, route, nil, token, &resp); err != nil {
		return nil, err
	}
	records := make([]WishlistRecord, 0, len(resp.Data))
	for _, raw := range resp.Data {
		rec, err := decodeWishlistRecord(raw, c.AssetURL)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// CreateWishlist creates a wishlist record for the user, optionally
// seeded with article ids.
func (c *Client) CreateWishlist(ctx context.Context, token string, userID int, articleIDs []int) error {
	data := map[string]any{"user": userID}
	if articleIDs != nil {
		data["articles"] = articleIDs
	}
	return c.do(ctx, http.MethodPost, "wishlists", map[string]any{"data": data}, token, nil)
}

// ReplaceWishlistArticles overwrites the whole article relation on a
// wishlist record. The CMS exposes no incremental membership delta, so
// updates are read-modify-write on the full id list.
func (c *Client) ReplaceWishlistArticles(ctx context.Context, token string, wishlistID int, articleIDs []int) error {
	if articleIDs == nil {
		articleIDs = []int{}
	}
	route := fmt.Sprintf("wishlists/%d", wishlistID)
	body := map[string]any{"data": map[string]any{"articles": articleIDs}}
	return c.do(ctx, http.MethodPut, route, body, token, nil)
}

// GetArticle fetches one catalog article, verifying it still resolves.
func (c *Client) GetArticle(ctx context.Context, token string, id int) (Article, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("articles/%d", id), nil, token, &resp); err != nil {
		return Article{}, err
	}
	return decodeArticle(resp.Data, c.AssetURL)
}

// ListArticles fetches catalog articles with images populated, for the
// blog and product listings.
func (c *Client) ListArticles(ctx context.Context) ([]Article, error) {
	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "articles?populate=images", nil, "", &resp); err != nil {
		return nil, err
	}
	articles := make([]Article, 0, len(resp.Data))
	for _, raw := range resp.Data {
		art, err := decodeArticle(raw, c.AssetURL)
		if err != nil {
			return nil, err
		}
		articles = append(articles, art)
	}
	return articles, nil
}

type addressPayload struct {
	domain.UserAddress
}

// ListAddresses returns the caller's address records.
func (c *Client) ListAddresses(ctx context.Context, token string) ([]domain.UserAddress, error) {
	var resp struct {
		Data []addressPayload `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "user-addresses", nil, token, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.UserAddress, 0, len(resp.Data))
	for _, a := range resp.Data {
		out = append(out, a.UserAddress)
	}
	return out, nil
}

// CreateAddress creates an address record and returns it with the
// server-assigned id.
func (c *Client) CreateAddress(ctx context.Context, token string, addr domain.UserAddress) (domain.UserAddress, error) {
	addr.ID = 0
	var resp struct {
		Data addressPayload `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "user-addresses", map[string]any{"data": addr}, token, &resp); err != nil {
		return domain.UserAddress{}, err
	}
	return resp.Data.UserAddress, nil
}

// UpdateAddress patches fields on an address record.
func (c *Client) UpdateAddress(ctx context.Context, token string, id int, fields map[string]any) error {
	route := fmt.Sprintf("user-addresses/%d", id)
	return c.do(ctx, http.MethodPut, route, map[string]any{"data": fields}, token, nil)
}

// DeleteAddress removes an address record. A 204 with no body counts
// as success.
func (c *Client) DeleteAddress(ctx context.Context, token string, id int) error {
	route := fmt.Sprintf("user-addresses/%d", id)
	return c.do(ctx, http.MethodDelete, route, nil, token, nil)
}
