// Package sqlstore implements the ledger store on a relational database
// through GORM. Postgres is the production target; SQLite (pure Go) serves
// single-node deployments and tests.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/resilience"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/glebarez/sqlite"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var tracer = otel.Tracer("infra/sqlstore")

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options tune the store's fault handling.
type Options struct {
	// Retry governs how often a unit of work is replayed after a
	// concurrent update of the pooled account.
	Retry resilience.Config
	// Breaker guards the database. Nil disables it.
	Breaker *gobreaker.CircuitBreaker
	Logger  *zap.Logger
}

// Store is a GORM-backed port.LedgerStore.
type Store struct {
	db       *gorm.DB
	cb       *gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead
	retry    resilience.Config
	logger   *zap.Logger
	now      func() time.Time
}

var (
	_ port.LedgerStore    = (*Store)(nil)
	_ port.PeriodProvider = (*Store)(nil)
	_ port.PeriodWriter   = (*Store)(nil)
)

// Open connects to the database, migrates the schema and returns a store.
func Open(driver, dsn string, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection keeps units of
		// work from failing with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return New(db, opts), nil
}

// New wraps an already migrated database handle.
func New(db *gorm.DB, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := opts.Retry
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 10 * time.Millisecond
	}
	return &Store{
		db:       db,
		cb:       opts.Breaker,
		bulkhead: resilience.NewBulkhead(retry.MaxConcurrency),
		retry:    retry,
		logger:   logger,
		now:      time.Now,
	}
}

// DB exposes the underlying handle for tests and migrations.
func (s *Store) DB() *gorm.DB { return s.db }

// Atomically runs fn inside a database transaction. The pooled account row
// is locked before any member row so concurrent units always acquire locks
// in the same order. A unit that loses the pooled-account version race is
// replayed; business-rule rejections are returned as they are.
func (s *Store) Atomically(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	ctx, span := tracer.Start(ctx, "Store.Atomically")
	defer span.End()

	if err := s.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer s.bulkhead.Release()

	attempts := 0
	err := s.guard(func() error {
		return resilience.RetryIf(ctx, s.retry, isRetryable, func() error {
			attempts++
			return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
				tx := newSQLTx(gtx, s.now)
				if err := fn(tx); err != nil {
					return err
				}
				return tx.flush(ctx)
			})
		})
	})
	span.SetAttributes(attribute.Int("ledger.attempts", attempts))
	if attempts > 1 {
		s.logger.Debug("unit of work replayed", zap.Int("attempts", attempts), zap.Error(err))
	}
	return err
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrentUpdate)
}

// guard runs fn through the circuit breaker when one is configured.
func (s *Store) guard(fn func() error) error {
	if s.cb == nil {
		return fn()
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if resilience.IsBreakerOpen(err) {
		return &domain.ErrCircuitOpen{Service: "ledger-db"}
	}
	return err
}

func (s *Store) GetMemberAccount(ctx context.Context, memberID string) (*domain.MemberAccount, error) {
	ctx, span := tracer.Start(ctx, "Store.GetMemberAccount")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))

	var row memberRow
	err := s.guard(func() error {
		return s.db.WithContext(ctx).First(&row, "member_id = ?", memberID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewLedgerError(domain.KindAccountNotFound, "member %s", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get member %s: %w", memberID, err)
	}
	acc := row.toDomain()
	return &acc, nil
}

func (s *Store) GetPooledAccount(ctx context.Context) (*domain.PooledAccount, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPooledAccount")
	defer span.End()

	var row poolRow
	err := s.guard(func() error {
		return s.db.WithContext(ctx).First(&row, poolRowID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errPoolMissing
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get pooled account: %w", err)
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) ListActiveMembers(ctx context.Context) ([]domain.MemberAccount, error) {
	rows, err := s.activeRows(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return mergeMembers(rows, nil, (*domain.MemberAccount).IsActive), nil
}

func (s *Store) ListCompliantMembers(ctx context.Context) ([]domain.MemberAccount, error) {
	rows, err := s.activeRows(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return mergeMembers(rows, nil, (*domain.MemberAccount).Compliant), nil
}

func (s *Store) activeRows(ctx context.Context, db *gorm.DB) ([]memberRow, error) {
	var rows []memberRow
	err := s.guard(func() error {
		return db.WithContext(ctx).Where("active = ?", true).Order("member_id").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list active members: %w", err)
	}
	return rows, nil
}

// ListTransactions returns matching transactions in insertion order.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Store.ListTransactions")
	defer span.End()

	q := s.db.WithContext(ctx).Model(&transactionRow{})
	if filter.MemberID != "" {
		q = q.Where("member_id = ?", filter.MemberID)
	}
	if filter.PeriodID != "" {
		q = q.Where("period_id = ?", filter.PeriodID)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []transactionRow
	if err := s.guard(func() error { return q.Order("seq").Find(&rows).Error }); err != nil {
		return nil, fmt.Errorf("sqlstore: list transactions: %w", err)
	}
	out := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) AssessmentForPeriod(ctx context.Context, periodID string) (*domain.Assessment, error) {
	return assessmentForPeriod(ctx, s.db, periodID)
}

func assessmentForPeriod(ctx context.Context, db *gorm.DB, periodID string) (*domain.Assessment, error) {
	var row assessmentRow
	err := db.WithContext(ctx).Where("period_id = ?", periodID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get assessment %s: %w", periodID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAssessments(ctx context.Context) ([]domain.Assessment, error) {
	var rows []assessmentRow
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Order("created_at, period_id").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list assessments: %w", err)
	}
	out := make([]domain.Assessment, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toDomain())
	}
	return out, nil
}

// EnsurePooledAccount inserts the pooled account row unless it exists.
func (s *Store) EnsurePooledAccount(ctx context.Context) error {
	row := poolRow{ID: poolRowID, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlstore: ensure pooled account: %w", err)
	}
	return nil
}

func (s *Store) ListTiers(ctx context.Context) ([]domain.CeilingTier, error) {
	var rows []tierRow
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list tiers: %w", err)
	}
	out := make([]domain.CeilingTier, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// SaveTiers replaces the whole tier table.
func (s *Store) SaveTiers(ctx context.Context, tiers []domain.CeilingTier) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&tierRow{}).Error; err != nil {
			return fmt.Errorf("sqlstore: clear tiers: %w", err)
		}
		if len(tiers) == 0 {
			return nil
		}
		rows := make([]tierRow, 0, len(tiers))
		for i := range tiers {
			rows = append(rows, tierRowFrom(&tiers[i]))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("sqlstore: save tiers: %w", err)
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var errPoolMissing = errors.New("sqlstore: pooled account not initialized")
