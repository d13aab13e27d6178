package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/repositories"
)

const (
	defaultOutboxBatchSize   = 25
	defaultOutboxMaxAttempts = 8
	defaultOutboxBackoff     = 30 * time.Second
	maxOutboxBackoff         = time.Hour
)

var errOutboxPermanent = errors.New("outbox: entry cannot be applied")

// OutboxProcessorDeps bundles collaborators required to drain the outbox.
type OutboxProcessorDeps struct {
	Outbox      repositories.OutboxRepository
	Products    repositories.ProductRepository
	Carts       repositories.CartRepository
	UnitOfWork  repositories.UnitOfWork
	Publisher   NotificationPublisher
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Meter       metric.Meter
}

// OutboxWorker applies queued side effects.
type OutboxWorker struct {
	outbox      repositories.OutboxRepository
	products    repositories.ProductRepository
	carts       repositories.CartRepository
	unitOfWork  repositories.UnitOfWork
	publisher   NotificationPublisher
	batchSize   int
	maxAttempts int
	baseBackoff time.Duration
	clock       func() time.Time
	logger      logFunc
	results     metric.Int64Counter
}

// NewOutboxProcessor constructs the outbox worker.
func NewOutboxProcessor(deps OutboxProcessorDeps) (*OutboxWorker, error) {
	switch {
	case deps.Outbox == nil:
		return nil, errors.New("outbox processor: outbox repository is required")
	case deps.Products == nil:
		return nil, errors.New("outbox processor: product repository is required")
	case deps.Carts == nil:
		return nil, errors.New("outbox processor: cart repository is required")
	case deps.Publisher == nil:
		return nil, errors.New("outbox processor: notification publisher is required")
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter("github.com/giftcraft/api/internal/services")
	}
	results, err := meter.Int64Counter("outbox.entries",
		metric.WithDescription("Outbox entries handled, by kind and result"))
	if err != nil {
		return nil, fmt.Errorf("outbox processor: create counter: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	p := &OutboxWorker{
		outbox:      deps.Outbox,
		products:    deps.Products,
		carts:       deps.Carts,
		unitOfWork:  unitOrNoop(deps.UnitOfWork),
		publisher:   deps.Publisher,
		batchSize:   deps.BatchSize,
		maxAttempts: deps.MaxAttempts,
		baseBackoff: deps.BaseBackoff,
		clock:       utcClock(deps.Clock),
		logger:      logger,
		results:     results,
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultOutboxBatchSize
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultOutboxMaxAttempts
	}
	if p.baseBackoff <= 0 {
		p.baseBackoff = defaultOutboxBackoff
	}
	return p, nil
}

// ProcessDue applies one batch of due entries. Failures are rescheduled with
// exponential backoff and parked as dead once the attempt budget is spent.
func (p *OutboxWorker) ProcessDue(ctx context.Context) (OutboxRunStats, error) {
	ctx, span := tracer.Start(ctx, "outbox.process")
	defer span.End()

	now := p.clock()
	entries, err := p.outbox.ListDue(ctx, now, p.batchSize)
	if err != nil {
		return OutboxRunStats{}, mapRepositoryError(err)
	}

	var stats OutboxRunStats
	for _, entry := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		applyErr := p.apply(ctx, entry)
		if applyErr == nil {
			stats.Processed++
			p.record(ctx, entry.Kind, "done")
			continue
		}

		dead, err := p.fail(ctx, entry, applyErr)
		if err != nil {
			p.logger(ctx, "outbox.mark_failed.failed", map[string]any{"entryId": entry.ID, "error": err.Error()})
			continue
		}
		fields := map[string]any{
			"entryId":  entry.ID,
			"kind":     string(entry.Kind),
			"orderId":  entry.OrderID,
			"attempts": entry.Attempts + 1,
			"error":    applyErr.Error(),
		}
		if dead {
			stats.Dead++
			p.record(ctx, entry.Kind, "dead")
			p.logger(ctx, "outbox.entry.dead", fields)
		} else {
			stats.Retried++
			p.record(ctx, entry.Kind, "retry")
			p.logger(ctx, "outbox.entry.retry", fields)
		}
	}

	if len(entries) > 0 {
		p.logger(ctx, "outbox.run.completed", map[string]any{
			"processed": stats.Processed,
			"retried":   stats.Retried,
			"dead":      stats.Dead,
		})
	}
	return stats, nil
}

func (p *OutboxWorker) apply(ctx context.Context, entry domain.OutboxEntry) error {
	switch entry.Kind {
	case domain.OutboxKindStockDecrement:
		return p.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			current, err := p.outbox.Get(txCtx, entry.ID)
			if err != nil {
				return err
			}
			if current.Status != domain.OutboxStatusPending {
				return nil
			}
			if err := p.products.AdjustStock(txCtx, current.StockLines, -1); err != nil {
				return err
			}
			return p.outbox.MarkDone(txCtx, entry.ID, p.clock())
		})
	case domain.OutboxKindCartClear:
		if entry.UserID == "" {
			return fmt.Errorf("%w: cart entry %s has no user", errOutboxPermanent, entry.ID)
		}
		if err := p.carts.Clear(ctx, entry.UserID); err != nil {
			return err
		}
		return p.outbox.MarkDone(ctx, entry.ID, p.clock())
	case domain.OutboxKindNotification:
		if entry.Notification == nil {
			return fmt.Errorf("%w: notification entry %s has no payload", errOutboxPermanent, entry.ID)
		}
		if _, err := p.publisher.Publish(ctx, entry.ID, *entry.Notification); err != nil {
			return err
		}
		return p.outbox.MarkDone(ctx, entry.ID, p.clock())
	default:
		return fmt.Errorf("%w: unknown kind %q", errOutboxPermanent, entry.Kind)
	}
}

// fail records a failed attempt. The entry is re-read so that an entry withdrawn
// concurrently is left alone.
func (p *OutboxWorker) fail(ctx context.Context, entry domain.OutboxEntry, cause error) (bool, error) {
	now := p.clock()
	dead := false
	err := p.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := p.outbox.Get(txCtx, entry.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.OutboxStatusPending {
			return nil
		}
		current.Attempts++
		current.LastError = cause.Error()
		if errors.Is(cause, errOutboxPermanent) || current.Attempts >= p.maxAttempts {
			current.Status = domain.OutboxStatusDead
			dead = true
		} else {
			current.NextAttemptAt = now.Add(p.backoff(current.Attempts))
			dead = false
		}
		return p.outbox.MarkFailed(txCtx, current)
	})
	return dead, err
}

// backoff returns base * 2^(attempt-1), capped at one hour.
func (p *OutboxWorker) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxOutboxBackoff {
			return maxOutboxBackoff
		}
	}
	return min(delay, maxOutboxBackoff)
}

func (p *OutboxWorker) record(ctx context.Context, kind domain.OutboxKind, result string) {
	p.results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("result", result),
	))
}
