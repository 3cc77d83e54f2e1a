package domain

// AddressType distinguishes billing from shipping addresses.
type AddressType string

const (
	AddressBilling  AddressType = "billing"
	AddressShipping AddressType = "shipping"
)

// UserAddress is one postal address attached to a user profile.
// IDs are assigned by the CMS on creation.
type UserAddress struct {
	ID                int         `json:"id"`
	Type              AddressType `json:"type"`
	FirstName         string      `json:"firstName"`
	LastName          string      `json:"lastName"`
	Address           string      `json:"address"`
	AddressComplement string      `json:"addressComplement,omitempty"`
	PostalCode        string      `json:"postalCode"`
	City              string      `json:"city"`
	Country           string      `json:"country"`
	Phone             string      `json:"phone,omitempty"`
	IsDefault         bool        `json:"isDefault,omitempty"`
}

// UserProfile is the cached CMS user. It is replaced wholesale on login
// and refresh, and patched in place on profile edits.
type UserProfile struct {
	ID          int           `json:"id"`
	Username    string        `json:"username"`
	Email       string        `json:"email,omitempty"`
	FirstName   string        `json:"firstName,omitempty"`
	LastName    string        `json:"lastName,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	Addresses   []UserAddress `json:"addresses"`
}

// CartItem is one cart line, keyed by product id. The cart guarantees
// at most one line per id; adding an existing id increments Quantity.
type CartItem struct {
	ID        int     `json:"id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Thumbnail string  `json:"thumbnail"`
	Quantity  int     `json:"quantity"`
}

// PromoCode is a discount code with a percentage off the subtotal.
type PromoCode struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
}

// WishlistItem is a favorited product summary. For authenticated users
// it mirrors a record in the remote per-user wishlist collection.
type WishlistItem struct {
	ID         int     `json:"id"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Thumbnail  string  `json:"thumbnail"`
	DocumentID int     `json:"documentId"`
}

// CheckoutItem is the payload shape the checkout endpoint accepts.
type CheckoutItem struct {
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Image    string  `json:"image,omitempty"`
	Quantity int     `json:"quantity"`
}

// CheckoutRequest asks for a hosted payment session.
type CheckoutRequest struct {
	Items         []CheckoutItem    `json:"items"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	SuccessURL    string            `json:"successUrl,omitempty"`
	CancelURL     string            `json:"cancelUrl,omitempty"`
}

// OrderEvent is published when a payment session completes.
type OrderEvent struct {
	ID            string  `json:"id"`
	SessionID     string  `json:"sessionId"`
	CustomerEmail string  `json:"customerEmail,omitempty"`
	AmountTotal   float64 `json:"amountTotal"`
	Currency      string  `json:"currency"`
	PaymentStatus string  `json:"paymentStatus"`
	UserID        string  `json:"userId,omitempty"`
}
