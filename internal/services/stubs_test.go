package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/payments"
	"github.com/giftcraft/api/internal/platform/storage"
	"github.com/giftcraft/api/internal/repositories"
)

type stubRepoError struct {
	msg      string
	notFound bool
	conflict bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return false }

var (
	errStubNotFound = stubRepoError{msg: "not found", notFound: true}
	errStubConflict = stubRepoError{msg: "conflict", conflict: true}
)

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	o.StatusHistory = slices.Clone(o.StatusHistory)
	if o.Cancellation != nil {
		c := *o.Cancellation
		o.Cancellation = &c
	}
	if o.DeliveryOTP != nil {
		otp := *o.DeliveryOTP
		o.DeliveryOTP = &otp
	}
	return o
}

// memOrderRepo keeps orders in memory and enforces status guards like the Firestore repository.
type memOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	updateFn func(domain.Order, repositories.StatusGuard) error

	listCancelledCalls int
}

func newMemOrderRepo(orders ...domain.Order) *memOrderRepo {
	repo := &memOrderRepo{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		repo.orders[order.ID] = cloneOrder(order)
	}
	return repo
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return errStubConflict
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memOrderRepo) Update(_ context.Context, order domain.Order, guard repositories.StatusGuard) (domain.Order, error) {
	if r.updateFn != nil {
		if err := r.updateFn(order, guard); err != nil {
			return domain.Order{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return domain.Order{}, errStubNotFound
	}
	if (len(guard.Statuses) > 0 && !slices.Contains(guard.Statuses, stored.Status)) || stored.Version != guard.Version {
		return domain.Order{}, errStubConflict
	}
	order.Version = stored.Version + 1
	r.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errStubNotFound
	}
	return cloneOrder(order), nil
}

func (r *memOrderRepo) FindByRefundID(_ context.Context, refundID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Cancellation != nil && order.Cancellation.RefundID == refundID {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, errStubNotFound
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		items = append(items, cloneOrder(order))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (r *memOrderRepo) ListWithCancellation(context.Context) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCancelledCalls++
	var items []domain.Order
	for _, order := range r.orders {
		if order.Cancellation != nil && order.DeletedAt == nil {
			items = append(items, cloneOrder(order))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *memOrderRepo) get(t *testing.T, orderID string) domain.Order {
	t.Helper()
	order, err := r.FindByID(context.Background(), orderID)
	if err != nil {
		t.Fatalf("order %s not stored: %v", orderID, err)
	}
	return order
}

type memProductRepo struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	adjustCalls int
	adjustFn    func([]domain.StockLine, int) error
}

func newMemProductRepo(products ...domain.Product) *memProductRepo {
	repo := &memProductRepo{products: make(map[string]domain.Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return domain.Product{}, errStubNotFound
	}
	return p, nil
}

func (r *memProductRepo) AdjustStock(_ context.Context, lines []domain.StockLine, sign int) error {
	if r.adjustFn != nil {
		if err := r.adjustFn(lines, sign); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adjustCalls++
	for _, line := range lines {
		p := r.products[line.ProductID]
		p.Stock += sign * line.Quantity
		r.products[line.ProductID] = p
	}
	return nil
}

func (r *memProductRepo) stock(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[productID].Stock
}

type stubCartRepo struct {
	carts   map[string]domain.Cart
	cleared []string
	clearFn func(string) error
}

func (s *stubCartRepo) Get(_ context.Context, userID string) (domain.Cart, error) {
	return s.carts[userID], nil
}

func (s *stubCartRepo) Clear(_ context.Context, userID string) error {
	if s.clearFn != nil {
		if err := s.clearFn(userID); err != nil {
			return err
		}
	}
	s.cleared = append(s.cleared, userID)
	return nil
}

type stubUserRepo struct {
	users   map[string]domain.UserProfile
	updated []domain.UserProfile
}

func (s *stubUserRepo) FindByID(_ context.Context, userID string) (domain.UserProfile, error) {
	user, ok := s.users[userID]
	if !ok {
		return domain.UserProfile{}, errStubNotFound
	}
	return user, nil
}

func (s *stubUserRepo) Update(_ context.Context, profile domain.UserProfile) error {
	s.updated = append(s.updated, profile)
	if s.users == nil {
		s.users = make(map[string]domain.UserProfile)
	}
	s.users[profile.ID] = profile
	return nil
}

type memOutboxRepo struct {
	mu      sync.Mutex
	entries map[string]domain.OutboxEntry
}

func newMemOutboxRepo() *memOutboxRepo {
	return &memOutboxRepo{entries: make(map[string]domain.OutboxEntry)}
}

func (r *memOutboxRepo) Enqueue(_ context.Context, entries ...domain.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		if _, ok := r.entries[entry.ID]; ok {
			return errStubConflict
		}
		r.entries[entry.ID] = entry
	}
	return nil
}

func (r *memOutboxRepo) Get(_ context.Context, entryID string) (domain.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[entryID]
	if !ok {
		return domain.OutboxEntry{}, errStubNotFound
	}
	return entry, nil
}

func (r *memOutboxRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.OutboxEntry
	for _, entry := range r.entries {
		if entry.Status == domain.OutboxStatusPending && !entry.NextAttemptAt.After(now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memOutboxRepo) MarkDone(_ context.Context, entryID string, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[entryID]
	if !ok {
		return errStubNotFound
	}
	entry.Status = domain.OutboxStatusDone
	entry.ProcessedAt = &processedAt
	entry.LastError = ""
	r.entries[entryID] = entry
	return nil
}

func (r *memOutboxRepo) MarkFailed(_ context.Context, entry domain.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entries[entry.ID]
	if !ok {
		return errStubNotFound
	}
	stored.Status = entry.Status
	stored.Attempts = entry.Attempts
	stored.LastError = entry.LastError
	stored.NextAttemptAt = entry.NextAttemptAt
	r.entries[entry.ID] = stored
	return nil
}

func (r *memOutboxRepo) byKind(kind domain.OutboxKind) []domain.OutboxEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OutboxEntry
	for _, entry := range r.entries {
		if entry.Kind == kind {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memOutboxRepo) notifications(kind domain.NotificationType) []domain.OutboxEntry {
	var out []domain.OutboxEntry
	for _, entry := range r.byKind(domain.OutboxKindNotification) {
		if entry.Notification != nil && entry.Notification.Type == kind {
			out = append(out, entry)
		}
	}
	return out
}

type stubGateway struct {
	keyID         string
	signatureOK   bool
	createOrderFn func(payments.CreateOrderRequest) (payments.GatewayOrder, error)
	fetchOrderFn  func(string) (payments.GatewayOrder, error)
	refundFn      func(payments.RefundRequest) (payments.Refund, error)
	fetchRefundFn func(string) (payments.Refund, error)
	refundCalls   []payments.RefundRequest
	fetchRefunds  int
}

func (g *stubGateway) KeyID() string { return g.keyID }

func (g *stubGateway) CreateOrder(_ context.Context, req payments.CreateOrderRequest) (payments.GatewayOrder, error) {
	if g.createOrderFn != nil {
		return g.createOrderFn(req)
	}
	return payments.GatewayOrder{ID: "order_gw_1", AmountMinor: req.AmountMinor, Currency: req.Currency, Receipt: req.Receipt}, nil
}

func (g *stubGateway) FetchOrder(_ context.Context, id string) (payments.GatewayOrder, error) {
	if g.fetchOrderFn != nil {
		return g.fetchOrderFn(id)
	}
	return payments.GatewayOrder{}, errors.New("not implemented")
}

func (g *stubGateway) Refund(_ context.Context, req payments.RefundRequest) (payments.Refund, error) {
	g.refundCalls = append(g.refundCalls, req)
	if g.refundFn != nil {
		return g.refundFn(req)
	}
	return payments.Refund{ID: "rfnd_1", PaymentID: req.PaymentID, Status: payments.RefundStatePending, AmountMinor: req.AmountMinor}, nil
}

func (g *stubGateway) FetchRefund(_ context.Context, id string) (payments.Refund, error) {
	g.fetchRefunds++
	if g.fetchRefundFn != nil {
		return g.fetchRefundFn(id)
	}
	return payments.Refund{}, errors.New("not implemented")
}

func (g *stubGateway) VerifyPaymentSignature(string, string, string) bool {
	return g.signatureOK
}

type stubPublisher struct {
	publishFn func(string, domain.Notification) error
	published []string
}

func (p *stubPublisher) Publish(_ context.Context, dedupKey string, n domain.Notification) (string, error) {
	if p.publishFn != nil {
		if err := p.publishFn(dedupKey, n); err != nil {
			return "", err
		}
	}
	p.published = append(p.published, dedupKey)
	return "msg-" + dedupKey, nil
}

type stubReportWriter struct {
	reports []any
}

func (w *stubReportWriter) WriteReport(_ context.Context, kind storage.ReportKind, runAt time.Time, report any) (string, error) {
	path, err := storage.ReportPath(kind, runAt)
	if err != nil {
		return "", err
	}
	w.reports = append(w.reports, report)
	return "gs://reports/" + path, nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)}
}
