package domain

import "time"

// Product is the catalog projection the order engine reads prices and stock from.
type Product struct {
	ID             string
	Name           string
	Description    string
	SKU            string
	Images         []string
	Price          int64
	DiscountPrice  int64
	Stock          int
	IsPersonalized bool
	DeletedAt      *time.Time
}

// EffectivePrice returns the selling price: the discount price when set, otherwise the list price.
func (p Product) EffectivePrice() int64 {
	if p.DiscountPrice > 0 {
		return p.DiscountPrice
	}
	return p.Price
}

// Cart is the user's shopping cart consulted for cart purchases.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem stores a single product entry within a cart.
type CartItem struct {
	ProductID        string
	ColorID          string
	SizeID           string
	Quantity         int
	IsPersonalized   bool
	PersonalizedName string
}

// UserProfile holds the contact fields the order engine reads and backfills.
type UserProfile struct {
	ID                string
	Name              string
	Email             string
	Mobile            string
	IsMobileVerified  bool
	PreferredLanguage string
	Address           UserAddress
	UpdatedAt         time.Time
}

// UserAddress is the default address stored on the user profile.
type UserAddress struct {
	Pincode string
	State   string
	City    string
	Street  string
	Area    string
}

// StockLine is a per-product quantity adjustment.
type StockLine struct {
	ProductID string
	Quantity  int
}
