// Package client holds HTTP adapters for collaborators the ledger consumes.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/observability"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/resilience"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

const (
	periodService   = "periods"
	currentCacheKey = "period:current"
)

// PeriodClient reads accounting periods from the session/period service.
// Lookups go through a TTL cache; the current period is cached for a shorter
// time since it changes when a period closes.
type PeriodClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	cache      port.Cache[*domain.Period]
	currentTTL time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger
}

var _ port.PeriodProvider = (*PeriodClient)(nil)

// NewPeriodClient creates a PeriodClient. Business-rule answers (404) do not
// count against the circuit breaker.
func NewPeriodClient(httpClient *http.Client, baseURL string, cfg resilience.Config, periodCache port.Cache[*domain.Period], currentTTL time.Duration, metrics *observability.Metrics, logger *zap.Logger) *PeriodClient {
	return &PeriodClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         resilience.NewCircuitBreaker(periodService, domain.IsLedgerError),
		cfg:        cfg,
		cache:      periodCache,
		currentTTL: currentTTL,
		metrics:    metrics,
		logger:     logger,
	}
}

// CurrentPeriod returns the open period, or domain.ErrNoActivePeriod.
func (c *PeriodClient) CurrentPeriod(ctx context.Context) (*domain.Period, error) {
	ctx, span := tracer.Start(ctx, "PeriodClient.CurrentPeriod")
	defer span.End()

	if p, ok := c.cache.Get(currentCacheKey); ok {
		c.metrics.IncrCacheHit("period")
		return p, nil
	}
	c.metrics.IncrCacheMiss("period")

	p, err := c.fetch(ctx, c.baseURL+"/v1/periods/current", func() error {
		return domain.NewLedgerError(domain.KindNoActivePeriod, "no open period")
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("period.id", p.ID))

	c.cache.SetWithTTL(currentCacheKey, p, c.currentTTL)
	c.cache.Set(cacheKey(p.ID), p)
	return p, nil
}

// GetPeriod returns the period with its payout totals.
func (c *PeriodClient) GetPeriod(ctx context.Context, periodID string) (*domain.Period, error) {
	ctx, span := tracer.Start(ctx, "PeriodClient.GetPeriod")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", periodID))

	if p, ok := c.cache.Get(cacheKey(periodID)); ok {
		c.metrics.IncrCacheHit("period")
		return p, nil
	}
	c.metrics.IncrCacheMiss("period")

	endpoint := fmt.Sprintf("%s/v1/periods/%s", c.baseURL, url.PathEscape(periodID))
	p, err := c.fetch(ctx, endpoint, func() error {
		return domain.NewLedgerError(domain.KindPeriodNotFound, "period %s not found", periodID)
	})
	if err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey(periodID), p)
	return p, nil
}

// Invalidate drops cached periods, e.g. after the period service reports a
// period close.
func (c *PeriodClient) Invalidate(periodID string) {
	c.cache.Delete(currentCacheKey)
	if periodID != "" {
		c.cache.Delete(cacheKey(periodID))
	}
}

func (c *PeriodClient) fetch(ctx context.Context, endpoint string, notFound func() error) (*domain.Period, error) {
	result, err := c.cb.Execute(func() (any, error) {
		var period domain.Period
		innerErr := resilience.RetryIf(ctx, c.cfg, isTransient, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return notFound()
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("period API returned status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(&period)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &period, nil
	})

	switch {
	case err == nil:
		return result.(*domain.Period), nil
	case domain.IsLedgerError(err):
		return nil, err
	case resilience.IsBreakerOpen(err):
		c.metrics.IncrExternalError(periodService)
		return nil, &domain.ErrCircuitOpen{Service: periodService}
	default:
		c.metrics.IncrExternalError(periodService)
		c.logger.Error("period lookup failed",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: periodService, Err: err}
	}
}

func isTransient(err error) bool {
	return !domain.IsLedgerError(err)
}

func cacheKey(periodID string) string {
	return "period:" + periodID
}
