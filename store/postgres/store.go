package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/usage"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m, err := toPlanModel(p)
	if err != nil {
		return err
	}
	res, err := s.pg.NewInsert(m).
		OnConflict("(tier) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return entitle.ErrPlanTierExists
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanByTier(ctx context.Context, tier plan.Tier) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("tier = $1", string(tier)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	var models []planModel
	err := s.pg.NewSelect(&models).
		OrderExpr("monthly_price ASC, created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m, err := toPlanModel(p)
	if err != nil {
		return err
	}
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return entitle.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.Version = 1
	_, err := s.pg.NewInsert(m).
		OnConflict("(user_id) DO UPDATE").
		Set("plan_id = EXCLUDED.plan_id").
		Set("status = EXCLUDED.status").
		Set("billing_period = EXCLUDED.billing_period").
		Set("current_period_start = EXCLUDED.current_period_start").
		Set("current_period_end = EXCLUDED.current_period_end").
		Set("cancelled_at = EXCLUDED.cancelled_at").
		Set("mandate_id = EXCLUDED.mandate_id").
		Set("updated_at = EXCLUDED.updated_at").
		Set("version = entitle_subscriptions.version + 1").
		Exec(ctx)
	if err != nil {
		return err
	}

	// The row keeps its original id and created_at on conflict.
	stored, err := s.GetSubscriptionByUser(ctx, sub.UserID)
	if err != nil {
		return err
	}
	sub.ID = stored.ID
	sub.CreatedAt = stored.CreatedAt
	sub.Version = stored.Version
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("plan_id = $1", m.PlanID).
		Set("status = $2", m.Status).
		Set("billing_period = $3", m.BillingPeriod).
		Set("current_period_start = $4", m.CurrentPeriodStart).
		Set("current_period_end = $5", m.CurrentPeriodEnd).
		Set("cancelled_at = $6", m.CancelledAt).
		Set("mandate_id = $7", m.MandateID).
		Set("updated_at = $8", m.UpdatedAt).
		Set("version = version + 1").
		Where("id = $9", m.ID).
		Where("version = $10", m.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.updateMiss(ctx, m.ID)
	}
	sub.Version++
	return nil
}

// updateMiss tells a missing row from one whose version moved on.
func (s *Store) updateMiss(ctx context.Context, subID string) error {
	stored := new(subscriptionModel)
	err := s.pg.NewSelect(stored).Where("id = $1", subID).Scan(ctx)
	switch {
	case isNoRows(err):
		return entitle.ErrSubscriptionNotFound
	case err != nil:
		return err
	default:
		return entitle.ErrSubscriptionConflict
	}
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		args := make([]any, len(opts.Statuses))
		for i, st := range opts.Statuses {
			argIdx++
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args[i] = string(st)
		}
		q = q.Where("status IN ("+strings.Join(placeholders, ", ")+")", args...)
	}
	if !opts.PeriodEndBefore.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("current_period_end < $%d", argIdx), opts.PeriodEndBefore.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("current_period_end ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	m := toPaymentModel(p)
	res, err := s.pg.NewInsert(m).
		OnConflict("(gateway_order_id, gateway_payment_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return entitle.ErrDuplicatePayment
	}
	return nil
}

func (s *Store) GetPaymentByGatewayRef(ctx context.Context, orderID, paymentID string) (*payment.Payment, error) {
	m := new(paymentModel)
	err := s.pg.NewSelect(m).
		Where("gateway_order_id = $1", orderID).
		Where("gateway_payment_id = $2", paymentID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) ListPayments(ctx context.Context, userID string, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, userID string, feature plan.Feature, periodStart time.Time) (int64, error) {
	var count int64
	err := s.pg.NewRaw(`
		SELECT COALESCE(MAX(usage_count), 0) FROM entitle_usage
		WHERE user_id = $1 AND feature = $2 AND period_start = $3
	`, userID, string(feature), periodStart.UTC()).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

const incrementUsageSQL = `
	INSERT INTO entitle_usage AS u (id, user_id, feature, period_start, period_end, usage_count, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
	ON CONFLICT (user_id, feature, period_start)
	DO UPDATE SET usage_count = u.usage_count + 1, updated_at = EXCLUDED.updated_at`

func (s *Store) IncrementUsage(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time) (int64, error) {
	var count int64
	err := s.pg.NewRaw(incrementUsageSQL+`
	RETURNING usage_count`,
		id.NewUsageID().String(), userID, string(feature), periodStart.UTC(), periodEnd.UTC(), now(),
	).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) IncrementUsageIfBelow(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time, limit int64) (int64, error) {
	if limit <= 0 {
		return 0, entitle.ErrQuotaExceeded
	}

	// The guarded upsert returns no row when the existing count has
	// reached limit.
	var count int64
	err := s.pg.NewRaw(incrementUsageSQL+`
	WHERE u.usage_count < $7
	RETURNING usage_count`,
		id.NewUsageID().String(), userID, string(feature), periodStart.UTC(), periodEnd.UTC(), now(), limit,
	).Scan(ctx, &count)
	if err != nil {
		if isNoRows(err) {
			return 0, entitle.ErrQuotaExceeded
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, periodStart time.Time) ([]*usage.Record, error) {
	var models []usageModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		Where("period_start = $2", periodStart.UTC()).
		OrderExpr("feature ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*usage.Record, len(models))
	for i := range models {
		r, err := fromUsageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
