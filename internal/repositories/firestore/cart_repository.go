package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/giftcraft/api/internal/domain"
	pfirestore "github.com/giftcraft/api/internal/platform/firestore"
)

const cartCollection = "carts"

// CartRepository reads cart documents keyed by user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// Get returns the user's cart. A missing cart document yields an empty cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, err
	}

	cart := domain.Cart{UserID: userID, UpdatedAt: doc.Data.UpdatedAt.UTC()}
	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			SizeID:           item.SizeID,
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
		})
	}
	return cart, nil
}

// Clear empties the cart. Clearing a missing cart is a no-op.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("cart repository: user id is required")
	}
	err := r.base.Update(ctx, userID, []firestore.Update{
		{Path: "items", Value: []cartItemDocument{}},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID        string `firestore:"productId"`
	ColorID          string `firestore:"colorId,omitempty"`
	SizeID           string `firestore:"sizeId,omitempty"`
	Quantity         int    `firestore:"quantity"`
	IsPersonalized   bool   `firestore:"isPersonalized"`
	PersonalizedName string `firestore:"personalizedName,omitempty"`
}

func isNotFound(err error) bool {
	var repoErr interface{ IsNotFound() bool }
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
