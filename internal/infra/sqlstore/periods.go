package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CurrentPeriod returns the period flagged current.
func (s *Store) CurrentPeriod(ctx context.Context) (*domain.Period, error) {
	ctx, span := tracer.Start(ctx, "Store.CurrentPeriod")
	defer span.End()

	var row periodRow
	err := s.db.WithContext(ctx).Where("is_current = ?", true).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoActivePeriod
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: current period: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPeriod(ctx context.Context, periodID string) (*domain.Period, error) {
	var row periodRow
	err := s.db.WithContext(ctx).Where("id = ?", periodID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewLedgerError(domain.KindPeriodNotFound, "period %s not found", periodID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get period %s: %w", periodID, err)
	}
	return row.toDomain(), nil
}

// UpsertPeriod inserts or replaces a period. Marking it current closes every
// other period in the same transaction.
func (s *Store) UpsertPeriod(ctx context.Context, p *domain.Period) error {
	if p.ID == "" {
		return &domain.ErrValidation{Field: "id", Message: "period id is required"}
	}
	row := periodRow{
		ID:                  p.ID,
		Name:                p.Name,
		Current:             p.Current,
		AssistanceTotal:     p.AssistanceTotal,
		RecurringEventTotal: p.RecurringEventTotal,
		LatestSessionID:     p.LatestSessionID,
		UpdatedAt:           s.now(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.Current {
			err := tx.Model(&periodRow{}).Where("id <> ?", p.ID).Update("is_current", false).Error
			if err != nil {
				return fmt.Errorf("sqlstore: close periods: %w", err)
			}
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("sqlstore: upsert period %s: %w", p.ID, err)
		}
		return nil
	})
}

// IsBenign reports errors that must not count against the database circuit
// breaker: business-rule rejections and missing rows.
func IsBenign(err error) bool {
	return domain.IsLedgerError(err) ||
		errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, domain.ErrConcurrentUpdate)
}
