package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/giftcraft/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe is a named dependency check executed by the readiness endpoint.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ReadinessChecker runs the configured probes concurrently.
type ReadinessChecker struct {
	probes []Probe
	now    func() time.Time
}

// NewReadinessChecker validates the probe set. A nil clock defaults to time.Now.
func NewReadinessChecker(probes []Probe, clock func() time.Time) (*ReadinessChecker, error) {
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" || probe.Check == nil {
			return nil, errors.New("readiness: probes require a name and a check")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &ReadinessChecker{probes: append([]Probe(nil), probes...), now: clock}, nil
}

// Check runs every probe and folds the results. Errors degrade the report and
// timeouts fail it.
func (c *ReadinessChecker) Check(ctx context.Context) domain.ReadinessReport {
	results := make(map[string]domain.DependencyHealth, len(c.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, probe := range c.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			timeout := probe.Timeout
			if timeout <= 0 {
				timeout = defaultProbeTimeout
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := c.now()
			err := probe.Check(probeCtx)
			result := domain.DependencyHealth{Status: domain.HealthStatusOK, Detail: "ok", CheckedAt: c.now()}
			result.Latency = result.CheckedAt.Sub(start)
			switch {
			case err == nil && probeCtx.Err() == nil:
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded):
				result.Status = domain.HealthStatusError
				result.Detail = "timeout"
			case err == nil:
				result.Status = domain.HealthStatusError
				result.Detail = probeCtx.Err().Error()
			default:
				result.Status = domain.HealthStatusDegraded
				result.Detail = err.Error()
			}

			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		if result.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
			break
		}
		if result.Status == domain.HealthStatusDegraded {
			status = domain.HealthStatusDegraded
		}
	}
	return domain.ReadinessReport{Status: status, Checks: results, GeneratedAt: c.now()}
}
