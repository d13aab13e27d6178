package firestore

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/giftcraft/api/internal/domain"
	pfirestore "github.com/giftcraft/api/internal/platform/firestore"
)

const (
	outboxCollection   = "orderOutbox"
	defaultOutboxBatch = 25
)

// OutboxRepository persists deferred order side effects.
type OutboxRepository struct {
	base *pfirestore.BaseRepository[outboxDocument]
}

// NewOutboxRepository constructs a Firestore-backed outbox repository.
func NewOutboxRepository(provider *pfirestore.Provider) (*OutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("outbox repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[outboxDocument](provider, outboxCollection, nil, nil)
	return &OutboxRepository{base: base}, nil
}

// Enqueue creates the supplied entries. Called with a transactional context the
// entries commit together with the order write.
func (r *OutboxRepository) Enqueue(ctx context.Context, entries ...domain.OutboxEntry) error {
	if r == nil || r.base == nil {
		return errors.New("outbox repository not initialised")
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.ID) == "" {
			return errors.New("outbox repository: entry id is required")
		}
		if entry.Status == "" {
			entry.Status = domain.OutboxStatusPending
		}
		if entry.NextAttemptAt.IsZero() {
			entry.NextAttemptAt = entry.CreatedAt
		}
		if err := r.base.Create(ctx, entry.ID, fromDomainOutbox(entry)); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a single entry.
func (r *OutboxRepository) Get(ctx context.Context, entryID string) (domain.OutboxEntry, error) {
	if r == nil || r.base == nil {
		return domain.OutboxEntry{}, errors.New("outbox repository not initialised")
	}
	doc, err := r.base.Get(ctx, entryID)
	if err != nil {
		return domain.OutboxEntry{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListDue returns pending entries whose next attempt is at or before now, oldest first.
func (r *OutboxRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("outbox repository not initialised")
	}
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OutboxStatusPending)).
			Where("nextAttemptAt", "<=", now.UTC()).
			OrderBy("nextAttemptAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.OutboxEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return entries, nil
}

// MarkDone flags the entry as processed.
func (r *OutboxRepository) MarkDone(ctx context.Context, entryID string, processedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("outbox repository not initialised")
	}
	return r.base.Update(ctx, entryID, []firestore.Update{
		{Path: "status", Value: string(domain.OutboxStatusDone)},
		{Path: "processedAt", Value: processedAt.UTC()},
		{Path: "lastError", Value: firestore.Delete},
	})
}

// MarkFailed records a failed attempt together with the retry schedule or dead status.
func (r *OutboxRepository) MarkFailed(ctx context.Context, entry domain.OutboxEntry) error {
	if r == nil || r.base == nil {
		return errors.New("outbox repository not initialised")
	}
	return r.base.Update(ctx, entry.ID, []firestore.Update{
		{Path: "status", Value: string(entry.Status)},
		{Path: "attempts", Value: entry.Attempts},
		{Path: "lastError", Value: entry.LastError},
		{Path: "nextAttemptAt", Value: entry.NextAttemptAt.UTC()},
	})
}

type outboxDocument struct {
	Kind          string                `firestore:"kind"`
	OrderID       string                `firestore:"orderId"`
	UserID        string                `firestore:"userId,omitempty"`
	StockLines    []stockLineDocument   `firestore:"stockLines,omitempty"`
	Notification  *notificationDocument `firestore:"notification,omitempty"`
	Status        string                `firestore:"status"`
	Attempts      int                   `firestore:"attempts"`
	LastError     string                `firestore:"lastError,omitempty"`
	NextAttemptAt time.Time             `firestore:"nextAttemptAt"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	ProcessedAt   *time.Time            `firestore:"processedAt,omitempty"`
}

type stockLineDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

type notificationDocument struct {
	Type           string         `firestore:"type"`
	OrderID        string         `firestore:"orderId"`
	RecipientName  string         `firestore:"recipientName,omitempty"`
	RecipientEmail string         `firestore:"recipientEmail"`
	Locale         string         `firestore:"locale,omitempty"`
	Data           map[string]any `firestore:"data,omitempty"`
}

func fromDomainOutbox(entry domain.OutboxEntry) outboxDocument {
	doc := outboxDocument{
		Kind:          string(entry.Kind),
		OrderID:       entry.OrderID,
		UserID:        entry.UserID,
		Status:        string(entry.Status),
		Attempts:      entry.Attempts,
		LastError:     entry.LastError,
		NextAttemptAt: entry.NextAttemptAt.UTC(),
		CreatedAt:     entry.CreatedAt.UTC(),
		ProcessedAt:   utcPtr(entry.ProcessedAt),
	}
	for _, line := range entry.StockLines {
		doc.StockLines = append(doc.StockLines, stockLineDocument(line))
	}
	if n := entry.Notification; n != nil {
		doc.Notification = &notificationDocument{
			Type:           string(n.Type),
			OrderID:        n.OrderID,
			RecipientName:  n.RecipientName,
			RecipientEmail: n.RecipientEmail,
			Locale:         n.Locale,
			Data:           maps.Clone(n.Data),
		}
	}
	return doc
}

func (d outboxDocument) toDomain(id string) domain.OutboxEntry {
	entry := domain.OutboxEntry{
		ID:            id,
		Kind:          domain.OutboxKind(d.Kind),
		OrderID:       d.OrderID,
		UserID:        d.UserID,
		Status:        domain.OutboxStatus(d.Status),
		Attempts:      d.Attempts,
		LastError:     d.LastError,
		NextAttemptAt: d.NextAttemptAt.UTC(),
		CreatedAt:     d.CreatedAt.UTC(),
		ProcessedAt:   utcPtr(d.ProcessedAt),
	}
	for _, line := range d.StockLines {
		entry.StockLines = append(entry.StockLines, domain.StockLine(line))
	}
	if n := d.Notification; n != nil {
		entry.Notification = &domain.Notification{
			Type:           domain.NotificationType(n.Type),
			OrderID:        n.OrderID,
			RecipientName:  n.RecipientName,
			RecipientEmail: n.RecipientEmail,
			Locale:         n.Locale,
			Data:           maps.Clone(n.Data),
		}
	}
	return entry
}
