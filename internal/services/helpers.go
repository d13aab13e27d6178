package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"html"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/repositories"
)

const (
	orderIDPrefix     = "ORD"
	orderIDRandomLen  = 9
	deliveryOTPDigits = 6
	packageIDDigits   = 6

	maxReasonLength  = 500
	maxNotesLength   = 1000
	maxGiftMsgLength = 300
)

var (
	tracer     = otel.Tracer("github.com/giftcraft/api/internal/services")
	textPolicy = bluemonday.StrictPolicy()
)

type logFunc func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func unitOrNoop(unit repositories.UnitOfWork) repositories.UnitOfWork {
	if unit == nil {
		return noopUnitOfWork{}
	}
	return unit
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

// newOrderID returns ORD-<unix ms>-<9 upper-case alphanumerics>.
func newOrderID(now time.Time, entropy string) string {
	if len(entropy) < orderIDRandomLen {
		entropy = ulid.Make().String()
	}
	suffix := strings.ToUpper(entropy[len(entropy)-orderIDRandomLen:])
	return fmt.Sprintf("%s-%d-%s", orderIDPrefix, now.UnixMilli(), suffix)
}

// randomDigits returns n uniformly random decimal digits.
func randomDigits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate digits: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func newDeliveryOTP(now time.Time, ttl time.Duration) (*domain.DeliveryOTP, error) {
	code, err := randomDigits(deliveryOTPDigits)
	if err != nil {
		return nil, err
	}
	otp := &domain.DeliveryOTP{Code: code}
	if ttl > 0 {
		otp.ExpiresAt = now.Add(ttl)
	}
	return otp, nil
}

func newPackageID(appName string) (string, error) {
	digits, err := randomDigits(packageIDDigits)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(appName)) + "-" + digits, nil
}

// sanitizeText strips markup and control characters and truncates to limit runes.
func sanitizeText(value string, limit int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(value)))
	if utf8.RuneCountInString(cleaned) <= limit {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:limit]))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func stockLines(items []domain.OrderItem) []domain.StockLine {
	lines := make([]domain.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
