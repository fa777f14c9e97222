package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/usage"
)

// Collection name constants.
const (
	colPlans         = "entitle_plans"
	colSubscriptions = "entitle_subscriptions"
	colPayments      = "entitle_payments"
	colUsage         = "entitle_usage"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitle collections. The unique indexes
// carry the store's uniqueness guarantees.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
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
	m := toPlanModel(p)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// The _id collision is the rarer one; tier is what callers hit.
			if _, getErr := s.GetPlan(ctx, p.ID); getErr == nil {
				return entitle.ErrAlreadyExists
			}
			return entitle.ErrPlanTierExists
		}
		return fmt.Errorf("entitle/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanByTier(ctx context.Context, tier plan.Tier) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tier": string(tier)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get plan by tier: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	var models []planModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "monthly_price", Value: 1}, {Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list plans: %w", err)
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
	m := toPlanModel(p)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrPlanTierExists
		}
		return fmt.Errorf("entitle/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	set := bson.M{
		"plan_id":              m.PlanID,
		"status":               m.Status,
		"billing_period":       m.BillingPeriod,
		"current_period_start": m.CurrentPeriodStart,
		"current_period_end":   m.CurrentPeriodEnd,
		"mandate_id":           m.MandateID,
		"updated_at":           m.UpdatedAt,
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
		"$setOnInsert": bson.M{
			"_id":        m.ID,
			"user_id":    m.UserID,
			"created_at": m.CreatedAt,
		},
	}
	if m.CancelledAt != nil {
		set["cancelled_at"] = *m.CancelledAt
	} else {
		update["$unset"] = bson.M{"cancelled_at": ""}
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var stored subscriptionModel
	err := s.mdb.Collection(colSubscriptions).
		FindOneAndUpdate(ctx, bson.M{"user_id": m.UserID}, update, opts).
		Decode(&stored)
	if err != nil {
		return fmt.Errorf("entitle/mongo: upsert subscription: %w", err)
	}

	// The document keeps its original _id and created_at on update.
	subID, err := id.ParseSubscriptionID(stored.ID)
	if err != nil {
		return err
	}
	sub.ID = subID
	sub.CreatedAt = stored.CreatedAt.UTC()
	sub.Version = stored.Version
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	m.Version = sub.Version + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": sub.Version}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		n, err := s.mdb.Collection(colSubscriptions).CountDocuments(ctx, bson.M{"_id": m.ID})
		if err != nil {
			return fmt.Errorf("entitle/mongo: update subscription: %w", err)
		}
		if n == 0 {
			return entitle.ErrSubscriptionNotFound
		}
		return entitle.ErrSubscriptionConflict
	}
	sub.Version = m.Version
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	filter := bson.M{}

	if len(opts.Statuses) > 0 {
		statuses := make(bson.A, len(opts.Statuses))
		for i, st := range opts.Statuses {
			statuses[i] = string(st)
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	if !opts.PeriodEndBefore.IsZero() {
		filter["current_period_end"] = bson.M{"$lt": opts.PeriodEndBefore.UTC()}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "current_period_end", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list subscriptions: %w", err)
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrDuplicatePayment
		}
		return fmt.Errorf("entitle/mongo: create payment: %w", err)
	}
	return nil
}

func (s *Store) GetPaymentByGatewayRef(ctx context.Context, orderID, paymentID string) (*payment.Payment, error) {
	var m paymentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"gateway_order_id":   orderID,
			"gateway_payment_id": paymentID,
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) ListPayments(ctx context.Context, userID string, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID}).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list payments: %w", err)
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
	var m usageModel
	err := s.mdb.NewFind(&m).
		Filter(usageFilter(userID, feature, periodStart)).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("entitle/mongo: get usage: %w", err)
	}
	return m.UsageCount, nil
}

func (s *Store) IncrementUsage(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time) (int64, error) {
	count, err := s.incrementUsage(ctx, usageFilter(userID, feature, periodStart), periodEnd)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Two first-of-month upserts raced; the loser retries as an update.
			count, err = s.incrementUsage(ctx, usageFilter(userID, feature, periodStart), periodEnd)
		}
		if err != nil {
			return 0, fmt.Errorf("entitle/mongo: increment usage: %w", err)
		}
	}
	return count, nil
}

func (s *Store) IncrementUsageIfBelow(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time, limit int64) (int64, error) {
	if limit <= 0 {
		return 0, entitle.ErrQuotaExceeded
	}

	// A counter at limit fails the filter, so the upsert tries to insert a
	// second document for the key and the unique index rejects it.
	filter := usageFilter(userID, feature, periodStart)
	filter["usage_count"] = bson.M{"$lt": limit}

	count, err := s.incrementUsage(ctx, filter, periodEnd)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, entitle.ErrQuotaExceeded
		}
		return 0, fmt.Errorf("entitle/mongo: increment usage: %w", err)
	}
	return count, nil
}

func (s *Store) incrementUsage(ctx context.Context, filter bson.M, periodEnd time.Time) (int64, error) {
	ts := now()
	update := bson.M{
		"$inc": bson.M{"usage_count": int64(1)},
		"$set": bson.M{"updated_at": ts},
		"$setOnInsert": bson.M{
			"_id":        id.NewUsageID().String(),
			"period_end": periodEnd.UTC(),
			"created_at": ts,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var m usageModel
	err := s.mdb.Collection(colUsage).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&m)
	if err != nil {
		return 0, err
	}
	return m.UsageCount, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, periodStart time.Time) ([]*usage.Record, error) {
	var models []usageModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"user_id":      userID,
			"period_start": periodStart.UTC(),
		}).
		Sort(bson.D{{Key: "feature", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list usage: %w", err)
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

func usageFilter(userID string, feature plan.Feature, periodStart time.Time) bson.M {
	return bson.M{
		"user_id":      userID,
		"feature":      string(feature),
		"period_start": periodStart.UTC(),
	}
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all entitle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "tier", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "monthly_price", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}}},
		},
		colPayments: {
			{
				Keys:    bson.D{{Key: "gateway_order_id", Value: 1}, {Key: "gateway_payment_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colUsage: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "feature", Value: 1}, {Key: "period_start", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
