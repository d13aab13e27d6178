package handlers

import (
	"strings"

	domain "github.com/giftcraft/api/internal/domain"
)

type orderItemPayload struct {
	ProductID        string   `json:"productId"`
	ColorID          string   `json:"colorId,omitempty"`
	SizeID           string   `json:"sizeId,omitempty"`
	Name             string   `json:"name"`
	SKU              string   `json:"sku,omitempty"`
	Images           []string `json:"images,omitempty"`
	Quantity         int      `json:"quantity"`
	IsPersonalized   bool     `json:"isPersonalized"`
	PersonalizedName string   `json:"personalizedName,omitempty"`
	PriceAtPurchase  int64    `json:"priceAtPurchase"`
	Subtotal         int64    `json:"subtotal"`
}

type orderPricingPayload struct {
	Subtotal        int64  `json:"subtotal"`
	Discount        int64  `json:"discount"`
	CouponID        string `json:"couponId,omitempty"`
	Shipping        int64  `json:"shipping"`
	GiftWrapCharges int64  `json:"giftWrapCharges"`
	Total           int64  `json:"total"`
}

type statusHistoryPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// orderPaymentPayload never carries the gateway signature.
type orderPaymentPayload struct {
	Status           string `json:"status"`
	Method           string `json:"method"`
	GatewayOrderID   string `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string `json:"gatewayPaymentId,omitempty"`
	Verified         bool   `json:"verified"`
	PaidAt           string `json:"paidAt,omitempty"`
}

type orderCancellationPayload struct {
	CancelledAt  string `json:"cancelledAt"`
	CancelledBy  string `json:"cancelledBy"`
	Reason       string `json:"reason,omitempty"`
	RefundStatus string `json:"refundStatus,omitempty"`
	RefundID     string `json:"refundId,omitempty"`
	RefundAmount int64  `json:"refundAmount"`
	RefundedAt   string `json:"refundedAt,omitempty"`
	RefundError  string `json:"refundError,omitempty"`
}

type addressPayload struct {
	FullName     string `json:"fullName"`
	Phone        string `json:"phone"`
	Email        string `json:"email,omitempty"`
	Area         string `json:"area,omitempty"`
	Street       string `json:"street,omitempty"`
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country"`
	Landmark     string `json:"landmark,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type deliveryOTPPayload struct {
	Code       string `json:"code,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
	ConsumedAt string `json:"consumedAt,omitempty"`
}

type orderPayload struct {
	ID              string                    `json:"id"`
	UserID          string                    `json:"userId"`
	PurchaseType    string                    `json:"purchaseType"`
	Status          string                    `json:"status"`
	Items           []orderItemPayload        `json:"items"`
	Pricing         orderPricingPayload       `json:"pricing"`
	Payment         orderPaymentPayload       `json:"payment"`
	StatusHistory   []statusHistoryPayload    `json:"statusHistory"`
	Cancellation    *orderCancellationPayload `json:"cancellation,omitempty"`
	ShippingAddress addressPayload            `json:"shippingAddress"`
	BillingAddress  *addressPayload           `json:"billingAddress,omitempty"`
	IsGift          bool                      `json:"isGift"`
	GiftMessage     string                    `json:"giftMessage,omitempty"`
	GiftWrap        bool                      `json:"giftWrap"`
	CustomerNotes   string                    `json:"customerNotes,omitempty"`
	PackageID       string                    `json:"packageId,omitempty"`
	DeliveryOTP     *deliveryOTPPayload       `json:"deliveryOtp,omitempty"`
	ShippedAt       string                    `json:"shippedAt,omitempty"`
	DeliveredAt     string                    `json:"deliveredAt,omitempty"`
	CreatedAt       string                    `json:"createdAt"`
	UpdatedAt       string                    `json:"updatedAt,omitempty"`
}

type orderSummaryPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ItemCount int    `json:"itemCount"`
	Total     int64  `json:"total"`
	PackageID string `json:"packageId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

// orderView selects which sensitive fields a caller may see.
type orderView int

const (
	// ownerView includes the delivery code the customer forwards to the recipient.
	ownerView orderView = iota
	// staffView hides the delivery code from admins and couriers.
	staffView
)

func buildOrderPayload(order domain.Order, view orderView) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		PurchaseType:    string(order.PurchaseType),
		Status:          string(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		StatusHistory:   make([]statusHistoryPayload, 0, len(order.StatusHistory)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		IsGift:          order.Gift.IsGift,
		GiftMessage:     order.Gift.Message,
		GiftWrap:        order.Gift.GiftWrap,
		CustomerNotes:   order.Notes.Customer,
		PackageID:       order.PackageID,
		ShippedAt:       formatTimePtr(order.Shipping.ShippedAt),
		DeliveredAt:     formatTimePtr(order.Shipping.DeliveredAt),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		Pricing: orderPricingPayload{
			Subtotal:        order.Pricing.Subtotal,
			Discount:        order.Pricing.Discount.Amount,
			CouponID:        order.Pricing.Discount.CouponID,
			Shipping:        order.Pricing.Shipping,
			GiftWrapCharges: order.Pricing.GiftWrapCharges,
			Total:           order.Pricing.Total,
		},
		Payment: orderPaymentPayload{
			Status:           string(order.Payment.Status),
			Method:           order.Payment.Method,
			GatewayOrderID:   order.Payment.Gateway.OrderID,
			GatewayPaymentID: order.Payment.Gateway.PaymentID,
			Verified:         order.Payment.Verified,
			PaidAt:           formatTimePtr(order.Payment.PaidAt),
		},
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			SizeID:           item.SizeID,
			Name:             item.Name,
			SKU:              item.SKU,
			Images:           append([]string(nil), item.Images...),
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
			PriceAtPurchase:  item.PriceAtPurchase,
			Subtotal:         item.Subtotal,
		})
	}
	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusHistoryPayload{
			Status:    string(entry.Status),
			Timestamp: formatTime(entry.Timestamp),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}
	if !order.BillingAddress.IsZero() {
		billing := buildAddressPayload(order.BillingAddress)
		payload.BillingAddress = &billing
	}
	if c := order.Cancellation; c != nil {
		payload.Cancellation = &orderCancellationPayload{
			CancelledAt:  formatTime(c.CancelledAt),
			CancelledBy:  string(c.CancelledBy),
			Reason:       c.Reason,
			RefundStatus: string(c.RefundStatus),
			RefundID:     c.RefundID,
			RefundAmount: c.RefundAmount,
			RefundedAt:   formatTimePtr(c.RefundedAt),
			RefundError:  c.RefundError,
		}
	}
	if otp := order.DeliveryOTP; otp != nil {
		payload.DeliveryOTP = &deliveryOTPPayload{
			ExpiresAt:  formatTime(otp.ExpiresAt),
			ConsumedAt: formatTimePtr(otp.ConsumedAt),
		}
		if view == ownerView && otp.ConsumedAt == nil {
			payload.DeliveryOTP.Code = otp.Code
		}
	}
	return payload
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:        order.ID,
		Status:    string(order.Status),
		ItemCount: count,
		Total:     order.Pricing.Total,
		PackageID: order.PackageID,
		CreatedAt: formatTime(order.CreatedAt),
	}
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		FullName:     addr.FullName,
		Phone:        addr.Phone,
		Email:        addr.Email,
		Area:         addr.Area,
		Street:       addr.Street,
		AddressLine1: addr.AddressLine1,
		City:         addr.City,
		State:        addr.State,
		Pincode:      addr.Pincode,
		Country:      addr.Country,
		Landmark:     addr.Landmark,
		Instructions: addr.Instructions,
	}
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		FullName:     strings.TrimSpace(a.FullName),
		Phone:        strings.TrimSpace(a.Phone),
		Email:        strings.TrimSpace(a.Email),
		Area:         strings.TrimSpace(a.Area),
		Street:       strings.TrimSpace(a.Street),
		AddressLine1: strings.TrimSpace(a.AddressLine1),
		City:         strings.TrimSpace(a.City),
		State:        strings.TrimSpace(a.State),
		Pincode:      strings.TrimSpace(a.Pincode),
		Country:      strings.TrimSpace(a.Country),
		Landmark:     strings.TrimSpace(a.Landmark),
		Instructions: strings.TrimSpace(a.Instructions),
	}
}
