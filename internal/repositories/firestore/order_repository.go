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
	"github.com/giftcraft/api/internal/platform/pagination"
	"github.com/giftcraft/api/internal/repositories"
)

const (
	orderCollection      = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists orders in Firestore. Writes go through a status and
// version guard evaluated inside a transaction.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates a new order document. Existing IDs fail with a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if order.Version <= 0 {
		order.Version = 1
	}
	return r.base.Create(ctx, orderID, fromDomainOrder(order))
}

// Update overwrites the order when the stored document still matches guard. The
// stored version is incremented and the persisted order is returned.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, guard repositories.StatusGuard) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var saved domain.Order
	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		current, err := r.base.Get(txCtx, orderID)
		if err != nil {
			return err
		}
		if err := checkGuard(orderID, current.Data, guard); err != nil {
			return err
		}
		next := order
		next.Version = current.Data.Version + 1
		if err := r.base.Set(txCtx, orderID, fromDomainOrder(next)); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

// FindByID loads an order by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByRefundID resolves the order carrying the given gateway refund ID.
func (r *OrderRepository) FindByRefundID(ctx context.Context, refundID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	refundID = strings.TrimSpace(refundID)
	if refundID == "" {
		return domain.Order{}, errors.New("order repository: refund id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("cancellation.refundId", "==", refundID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findByRefundId", fmt.Errorf("refund %s not found", refundID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns orders newest first. Soft-deleted orders are skipped.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultOrderPageSize
	case pageSize > maxOrderPageSize:
		pageSize = maxOrderPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		if trimmed := strings.TrimSpace(string(status)); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
	for _, doc := range docs {
		if doc.Data.DeletedAt != nil {
			continue
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}

	if hasMore && len(docs) > 0 {
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.Data.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// ListWithCancellation returns every non-deleted order that has a cancellation record.
func (r *OrderRepository) ListWithCancellation(ctx context.Context) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("cancellation.cancelledAt", ">", time.Time{})
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.DeletedAt != nil || doc.Data.Cancellation == nil {
			continue
		}
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func checkGuard(orderID string, current orderDocument, guard repositories.StatusGuard) error {
	if len(guard.Statuses) > 0 && !slices.Contains(guard.Statuses, domain.OrderStatus(current.Status)) {
		return pfirestore.NewConflictError("orders.update",
			fmt.Errorf("order %s is %s", orderID, current.Status))
	}
	if guard.Version > 0 && current.Version != guard.Version {
		return pfirestore.NewConflictError("orders.update",
			fmt.Errorf("order %s version %d does not match %d", orderID, current.Version, guard.Version))
	}
	return nil
}

type orderDocument struct {
	UserID          string                     `firestore:"userId"`
	PurchaseType    string                     `firestore:"purchaseType"`
	Items           []orderItemDocument        `firestore:"items"`
	Pricing         orderPricingDocument       `firestore:"pricing"`
	Status          string                     `firestore:"status"`
	StatusHistory   []statusHistoryDocument    `firestore:"statusHistory"`
	Payment         orderPaymentDocument       `firestore:"payment"`
	Cancellation    *orderCancellationDocument `firestore:"cancellation,omitempty"`
	ShippingAddress addressDocument            `firestore:"shippingAddress"`
	BillingAddress  addressDocument            `firestore:"billingAddress"`
	Shipping        orderShippingDocument      `firestore:"shipping"`
	Gift            orderGiftDocument          `firestore:"gift"`
	Notes           orderNotesDocument         `firestore:"notes"`
	DeliveryOTP     *deliveryOTPDocument       `firestore:"deliveryOtp,omitempty"`
	PackageID       string                     `firestore:"packageId,omitempty"`
	StockCommitted  bool                       `firestore:"stockCommitted"`
	Version         int64                      `firestore:"version"`
	CreatedAt       time.Time                  `firestore:"createdAt"`
	UpdatedAt       time.Time                  `firestore:"updatedAt"`
	DeletedAt       *time.Time                 `firestore:"deletedAt,omitempty"`
}

type orderItemDocument struct {
	ProductID        string   `firestore:"productId"`
	ColorID          string   `firestore:"colorId,omitempty"`
	SizeID           string   `firestore:"sizeId,omitempty"`
	Name             string   `firestore:"name"`
	Description      string   `firestore:"description,omitempty"`
	SKU              string   `firestore:"sku,omitempty"`
	Images           []string `firestore:"images,omitempty"`
	Quantity         int      `firestore:"quantity"`
	IsPersonalized   bool     `firestore:"isPersonalized"`
	PersonalizedName string   `firestore:"personalizedName,omitempty"`
	PriceAtPurchase  int64    `firestore:"priceAtPurchase"`
	Subtotal         int64    `firestore:"subtotal"`
	AddedFrom        string   `firestore:"addedFrom"`
}

type orderPricingDocument struct {
	Subtotal        int64                 `firestore:"subtotal"`
	Discount        orderDiscountDocument `firestore:"discount"`
	Shipping        int64                 `firestore:"shipping"`
	GiftWrapCharges int64                 `firestore:"giftWrapCharges"`
	Total           int64                 `firestore:"total"`
}

type orderDiscountDocument struct {
	Amount   int64  `firestore:"amount"`
	CouponID string `firestore:"couponId,omitempty"`
}

type statusHistoryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Note      string    `firestore:"note,omitempty"`
	UpdatedBy string    `firestore:"updatedBy,omitempty"`
}

type orderPaymentDocument struct {
	Status        string     `firestore:"status"`
	Method        string     `firestore:"method"`
	GatewayOrder  string     `firestore:"razorpayOrderId,omitempty"`
	GatewayPay    string     `firestore:"razorpayPaymentId,omitempty"`
	Signature     string     `firestore:"razorpaySignature,omitempty"`
	Verified      bool       `firestore:"verified"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	TransactionID string     `firestore:"transactionId,omitempty"`
}

type orderCancellationDocument struct {
	CancelledAt  time.Time  `firestore:"cancelledAt"`
	CancelledBy  string     `firestore:"cancelledBy"`
	Reason       string     `firestore:"reason,omitempty"`
	RefundStatus string     `firestore:"refundStatus,omitempty"`
	RefundID     string     `firestore:"refundId,omitempty"`
	RefundAmount int64      `firestore:"refundAmount"`
	RefundedAt   *time.Time `firestore:"refundedAt,omitempty"`
	RefundError  string     `firestore:"refundError,omitempty"`
}

type addressDocument struct {
	FullName     string `firestore:"fullName,omitempty"`
	Phone        string `firestore:"phone,omitempty"`
	Email        string `firestore:"email,omitempty"`
	Area         string `firestore:"area,omitempty"`
	Street       string `firestore:"street,omitempty"`
	AddressLine1 string `firestore:"addressLine1,omitempty"`
	City         string `firestore:"city,omitempty"`
	State        string `firestore:"state,omitempty"`
	Pincode      string `firestore:"pincode,omitempty"`
	Country      string `firestore:"country,omitempty"`
	Landmark     string `firestore:"landmark,omitempty"`
	Instructions string `firestore:"instructions,omitempty"`
}

type orderShippingDocument struct {
	ShippedAt   *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
}

type orderGiftDocument struct {
	IsGift   bool   `firestore:"isGift"`
	Message  string `firestore:"message,omitempty"`
	GiftWrap bool   `firestore:"giftWrap"`
}

type orderNotesDocument struct {
	Customer string `firestore:"customer,omitempty"`
	Internal string `firestore:"internal,omitempty"`
}

type deliveryOTPDocument struct {
	Code       string     `firestore:"code"`
	ExpiresAt  time.Time  `firestore:"expiresAt"`
	ConsumedAt *time.Time `firestore:"consumedAt,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		UserID:       order.UserID,
		PurchaseType: string(order.PurchaseType),
		Pricing: orderPricingDocument{
			Subtotal: order.Pricing.Subtotal,
			Discount: orderDiscountDocument{
				Amount:   order.Pricing.Discount.Amount,
				CouponID: order.Pricing.Discount.CouponID,
			},
			Shipping:        order.Pricing.Shipping,
			GiftWrapCharges: order.Pricing.GiftWrapCharges,
			Total:           order.Pricing.Total,
		},
		Status: string(order.Status),
		Payment: orderPaymentDocument{
			Status:        string(order.Payment.Status),
			Method:        order.Payment.Method,
			GatewayOrder:  order.Payment.Gateway.OrderID,
			GatewayPay:    order.Payment.Gateway.PaymentID,
			Signature:     order.Payment.Gateway.Signature,
			Verified:      order.Payment.Verified,
			PaidAt:        utcPtr(order.Payment.PaidAt),
			TransactionID: order.Payment.TransactionID,
		},
		ShippingAddress: fromDomainAddress(order.ShippingAddress),
		BillingAddress:  fromDomainAddress(order.BillingAddress),
		Shipping: orderShippingDocument{
			ShippedAt:   utcPtr(order.Shipping.ShippedAt),
			DeliveredAt: utcPtr(order.Shipping.DeliveredAt),
		},
		Gift:           orderGiftDocument(order.Gift),
		Notes:          orderNotesDocument(order.Notes),
		PackageID:      order.PackageID,
		StockCommitted: order.StockCommitted,
		Version:        order.Version,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		DeletedAt:      utcPtr(order.DeletedAt),
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			SizeID:           item.SizeID,
			Name:             item.Name,
			Description:      item.Description,
			SKU:              item.SKU,
			Images:           slices.Clone(item.Images),
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
			PriceAtPurchase:  item.PriceAtPurchase,
			Subtotal:         item.Subtotal,
			AddedFrom:        string(item.AddedFrom),
		})
	}

	doc.StatusHistory = make([]statusHistoryDocument, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusHistoryDocument{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}

	if c := order.Cancellation; c != nil {
		doc.Cancellation = &orderCancellationDocument{
			CancelledAt:  c.CancelledAt.UTC(),
			CancelledBy:  string(c.CancelledBy),
			Reason:       c.Reason,
			RefundStatus: string(c.RefundStatus),
			RefundID:     c.RefundID,
			RefundAmount: c.RefundAmount,
			RefundedAt:   utcPtr(c.RefundedAt),
			RefundError:  c.RefundError,
		}
	}
	if otp := order.DeliveryOTP; otp != nil {
		doc.DeliveryOTP = &deliveryOTPDocument{
			Code:       otp.Code,
			ExpiresAt:  otp.ExpiresAt.UTC(),
			ConsumedAt: utcPtr(otp.ConsumedAt),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:           id,
		UserID:       d.UserID,
		PurchaseType: domain.PurchaseType(d.PurchaseType),
		Pricing: domain.OrderPricing{
			Subtotal: d.Pricing.Subtotal,
			Discount: domain.OrderDiscount{
				Amount:   d.Pricing.Discount.Amount,
				CouponID: d.Pricing.Discount.CouponID,
			},
			Shipping:        d.Pricing.Shipping,
			GiftWrapCharges: d.Pricing.GiftWrapCharges,
			Total:           d.Pricing.Total,
		},
		Status: domain.OrderStatus(d.Status),
		Payment: domain.OrderPayment{
			Status: domain.PaymentStatus(d.Payment.Status),
			Method: d.Payment.Method,
			Gateway: domain.GatewayReference{
				OrderID:   d.Payment.GatewayOrder,
				PaymentID: d.Payment.GatewayPay,
				Signature: d.Payment.Signature,
			},
			Verified:      d.Payment.Verified,
			PaidAt:        utcPtr(d.Payment.PaidAt),
			TransactionID: d.Payment.TransactionID,
		},
		ShippingAddress: d.ShippingAddress.toDomain(),
		BillingAddress:  d.BillingAddress.toDomain(),
		Shipping: domain.OrderShipping{
			ShippedAt:   utcPtr(d.Shipping.ShippedAt),
			DeliveredAt: utcPtr(d.Shipping.DeliveredAt),
		},
		Gift:           domain.OrderGift(d.Gift),
		Notes:          domain.OrderNotes(d.Notes),
		PackageID:      d.PackageID,
		StockCommitted: d.StockCommitted,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
		DeletedAt:      utcPtr(d.DeletedAt),
	}

	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			SizeID:           item.SizeID,
			Name:             item.Name,
			Description:      item.Description,
			SKU:              item.SKU,
			Images:           slices.Clone(item.Images),
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
			PriceAtPurchase:  item.PriceAtPurchase,
			Subtotal:         item.Subtotal,
			AddedFrom:        domain.PurchaseType(item.AddedFrom),
		})
	}
	for _, entry := range d.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}
	if c := d.Cancellation; c != nil {
		order.Cancellation = &domain.OrderCancellation{
			CancelledAt:  c.CancelledAt.UTC(),
			CancelledBy:  domain.CancelledBy(c.CancelledBy),
			Reason:       c.Reason,
			RefundStatus: domain.RefundStatus(c.RefundStatus),
			RefundID:     c.RefundID,
			RefundAmount: c.RefundAmount,
			RefundedAt:   utcPtr(c.RefundedAt),
			RefundError:  c.RefundError,
		}
	}
	if otp := d.DeliveryOTP; otp != nil {
		order.DeliveryOTP = &domain.DeliveryOTP{
			Code:       otp.Code,
			ExpiresAt:  otp.ExpiresAt.UTC(),
			ConsumedAt: utcPtr(otp.ConsumedAt),
		}
	}
	return order
}

func fromDomainAddress(addr domain.Address) addressDocument {
	return addressDocument(addr)
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address(d)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.UTC()
	return &value
}
