package memory

import (
	"context"
	"sync"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/port"
)

// PeriodBook keeps accounting periods in memory. At most one period is
// current at a time.
type PeriodBook struct {
	mu      sync.RWMutex
	periods map[string]*domain.Period
}

var (
	_ port.PeriodProvider = (*PeriodBook)(nil)
	_ port.PeriodWriter   = (*PeriodBook)(nil)
)

// NewPeriodBook creates a book holding the given periods.
func NewPeriodBook(periods ...domain.Period) *PeriodBook {
	b := &PeriodBook{periods: make(map[string]*domain.Period)}
	for i := range periods {
		_ = b.UpsertPeriod(context.Background(), &periods[i])
	}
	return b
}

func (b *PeriodBook) CurrentPeriod(_ context.Context) (*domain.Period, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, p := range b.periods {
		if p.Current {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNoActivePeriod
}

func (b *PeriodBook) GetPeriod(_ context.Context, periodID string) (*domain.Period, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.periods[periodID]
	if !ok {
		return nil, domain.NewLedgerError(domain.KindPeriodNotFound, "period %s not found", periodID)
	}
	cp := *p
	return &cp, nil
}

// UpsertPeriod stores p. Marking p current clears the flag on every other
// period.
func (b *PeriodBook) UpsertPeriod(_ context.Context, p *domain.Period) error {
	if p.ID == "" {
		return &domain.ErrValidation{Field: "id", Message: "period id is required"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if p.Current {
		for _, other := range b.periods {
			other.Current = false
		}
	}
	cp := *p
	b.periods[p.ID] = &cp
	return nil
}
