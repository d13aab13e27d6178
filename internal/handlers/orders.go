package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/auth"
	"github.com/giftcraft/api/internal/platform/httpx"
	"github.com/giftcraft/api/internal/services"
)

type addressRequest struct {
	FullName     string `json:"fullName" validate:"required,max=120"`
	Phone        string `json:"phone" validate:"required,max=20"`
	Email        string `json:"email" validate:"omitempty,email"`
	Area         string `json:"area" validate:"max=120"`
	Street       string `json:"street" validate:"max=200"`
	AddressLine1 string `json:"addressLine1" validate:"required,max=200"`
	City         string `json:"city" validate:"required,max=80"`
	State        string `json:"state" validate:"required,max=80"`
	Pincode      string `json:"pincode" validate:"required,len=6,numeric"`
	Country      string `json:"country" validate:"max=80"`
	Landmark     string `json:"landmark" validate:"max=200"`
	Instructions string `json:"instructions" validate:"max=500"`
}

type orderItemRequest struct {
	ProductID        string `json:"productId" validate:"required"`
	ColorID          string `json:"colorId"`
	SizeID           string `json:"sizeId"`
	Quantity         int    `json:"quantity" validate:"required,min=1,max=100"`
	PersonalizedName string `json:"personalizedName" validate:"max=100"`
}

type createOrderRequest struct {
	PurchaseType     string             `json:"purchaseType" validate:"required,oneof=cart direct"`
	Items            []orderItemRequest `json:"items" validate:"required_if=PurchaseType direct,max=50,dive"`
	ShippingAddress  addressRequest     `json:"shippingAddress" validate:"required"`
	BillingAddress   *addressRequest    `json:"billingAddress" validate:"omitempty"`
	IsGift           bool               `json:"isGift"`
	GiftMessage      string             `json:"giftMessage" validate:"max=500"`
	GiftWrap         bool               `json:"giftWrap"`
	CustomerNotes    string             `json:"customerNotes" validate:"max=1000"`
	PersonalizedName string             `json:"personalizedName" validate:"max=100"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id" validate:"required"`
	GatewayPaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature        string `json:"razorpay_signature" validate:"required"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
	Total   int64  `json:"total"`
}

type gatewayOrderResponse struct {
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"razorpayOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId"`
}

type verifyPaymentResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	PackageID   string `json:"packageId"`
	DeliveryOTP string `json:"deliveryOtp"`
}

// OrderHandlers exposes the customer order endpoints.
type OrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	idempotent func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderIdempotency guards order mutations with mw. It runs after
// authentication so keys are scoped to the caller.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		if mw != nil {
			h.idempotent = mw
		}
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:      authn,
		orders:     orders,
		idempotent: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.With(h.idempotent).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:gateway-order", h.createGatewayOrder)
	r.With(h.idempotent).Post("/{orderID}:verify-payment", h.verifyPayment)
	r.With(h.idempotent).Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:           identity.UID,
		PurchaseType:     domain.PurchaseType(req.PurchaseType),
		ShippingAddress:  req.ShippingAddress.toDomain(),
		IsGift:           req.IsGift,
		GiftMessage:      req.GiftMessage,
		GiftWrap:         req.GiftWrap,
		CustomerNotes:    req.CustomerNotes,
		PersonalizedName: req.PersonalizedName,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID:        strings.TrimSpace(item.ProductID),
			ColorID:          strings.TrimSpace(item.ColorID),
			SizeID:           strings.TrimSpace(item.SizeID),
			Quantity:         item.Quantity,
			PersonalizedName: item.PersonalizedName,
		})
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{OrderID: result.OrderID, Total: result.Total})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	page, err := parsePagination(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.ListUserOrders(ctx, identity.UID, page)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetUserOrder(ctx, orderID, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, ownerView))
}

func (h *OrderHandlers) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.orders.CreateGatewayOrder(ctx, orderID, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, gatewayOrderResponse{
		OrderID:        result.OrderID,
		GatewayOrderID: result.GatewayOrderID,
		Amount:         result.Amount,
		Currency:       result.Currency,
		KeyID:          result.KeyID,
	})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	result, err := h.orders.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:          orderID,
		UserID:           identity.UID,
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, verifyPaymentResponse{
		OrderID:     result.OrderID,
		Status:      string(result.Status),
		PackageID:   result.PackageID,
		DeliveryOTP: result.DeliveryOTP,
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:     orderID,
		UserID:      identity.UID,
		CancelledBy: domain.CancelledByCustomer,
		ActorID:     identity.UID,
		Reason:      req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, ownerView))
}
