package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/giftcraft/api/internal/domain"
	pfirestore "github.com/giftcraft/api/internal/platform/firestore"
)

const productCollection = "products"

// ProductRepository reads catalog products and maintains their stock counters.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// FindByID loads the product by ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// AdjustStock increments (sign > 0) or decrements (sign < 0) the stock counter
// of every listed product. All lines are applied atomically.
func (r *ProductRepository) AdjustStock(ctx context.Context, lines []domain.StockLine, sign int) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if sign == 0 {
		return errors.New("product repository: stock adjustment sign is required")
	}
	if len(lines) == 0 {
		return nil
	}

	direction := int64(1)
	if sign < 0 {
		direction = -1
	}
	now := time.Now().UTC()

	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		for _, line := range lines {
			if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
				return fmt.Errorf("product repository: invalid stock line %+v", line)
			}
			updates := []firestore.Update{
				{Path: "stock", Value: firestore.Increment(direction * int64(line.Quantity))},
				{Path: "updatedAt", Value: now},
			}
			if err := r.base.Update(txCtx, line.ProductID, updates); err != nil {
				return err
			}
		}
		return nil
	})
}

type productDocument struct {
	Name           string     `firestore:"name"`
	Description    string     `firestore:"description,omitempty"`
	SKU            string     `firestore:"sku,omitempty"`
	Images         []string   `firestore:"images,omitempty"`
	Price          int64      `firestore:"price"`
	DiscountPrice  int64      `firestore:"discountPrice,omitempty"`
	Stock          int        `firestore:"stock"`
	IsPersonalized bool       `firestore:"isPersonalized"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
	DeletedAt      *time.Time `firestore:"deletedAt,omitempty"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:             id,
		Name:           d.Name,
		Description:    d.Description,
		SKU:            d.SKU,
		Images:         slices.Clone(d.Images),
		Price:          d.Price,
		DiscountPrice:  d.DiscountPrice,
		Stock:          d.Stock,
		IsPersonalized: d.IsPersonalized,
		DeletedAt:      utcPtr(d.DeletedAt),
	}
}
