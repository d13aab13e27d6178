package domain

// MinorUnitsPerMajor converts rupees to paise.
const MinorUnitsPerMajor = 100

// PricingPolicy configures the shipping and gift wrap charges applied to new orders.
type PricingPolicy struct {
	// FreeShippingThreshold is the subtotal that must be exceeded for free shipping.
	FreeShippingThreshold int64
	ShippingFee           int64
	GiftWrapCharge        int64
}

// DefaultPricingPolicy returns free shipping above ₹1000, otherwise ₹50, and a ₹50 gift wrap charge.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		FreeShippingThreshold: 1000 * MinorUnitsPerMajor,
		ShippingFee:           50 * MinorUnitsPerMajor,
		GiftWrapCharge:        50 * MinorUnitsPerMajor,
	}
}

// Price computes the pricing breakdown for the supplied line items.
func (p PricingPolicy) Price(items []OrderItem, discount OrderDiscount, giftWrap bool) OrderPricing {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}

	shipping := p.ShippingFee
	if subtotal > p.FreeShippingThreshold {
		shipping = 0
	}

	var wrap int64
	if giftWrap {
		wrap = p.GiftWrapCharge
	}

	return OrderPricing{
		Subtotal:        subtotal,
		Discount:        discount,
		Shipping:        shipping,
		GiftWrapCharges: wrap,
		Total:           subtotal - discount.Amount + shipping + wrap,
	}
}

// Balanced reports whether total equals subtotal - discount + shipping + gift wrap.
func (p OrderPricing) Balanced() bool {
	return p.Total == p.Subtotal-p.Discount.Amount+p.Shipping+p.GiftWrapCharges
}

// NewLineItem snapshots the product price into an order line item.
func NewLineItem(product Product, quantity int, from PurchaseType) OrderItem {
	price := product.EffectivePrice()
	return OrderItem{
		ProductID:       product.ID,
		Name:            product.Name,
		Description:     product.Description,
		SKU:             product.SKU,
		Images:          append([]string(nil), product.Images...),
		Quantity:        quantity,
		IsPersonalized:  product.IsPersonalized,
		PriceAtPurchase: price,
		Subtotal:        price * int64(quantity),
		AddedFrom:       from,
	}
}
