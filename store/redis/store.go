// Package redis implements store.Store on Redis. Records are stored as JSON
// strings, uniqueness is enforced with SETNX and usage counters live in one
// hash per user and month.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
	"github.com/xraph/entitle/usage"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "entitle"

// incrementIfBelow bumps one feature counter in a usage hash unless it has
// reached ARGV[2]. A negative ARGV[2] means no cap. It returns -1 when the
// cap was hit and the new count otherwise.
var incrementIfBelow = goredis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local max = tonumber(ARGV[2])
if max >= 0 and cur >= max then
  return -1
end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('HSETNX', KEYS[1], ARGV[1] .. ':id', ARGV[3])
redis.call('HSETNX', KEYS[1], ARGV[1] .. ':created', ARGV[4])
redis.call('HSET', KEYS[1], ARGV[1] .. ':updated', ARGV[4])
return n
`)

// Store implements store.Store on a go-redis client.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New wraps client. The store does not own the client until Close.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate loads the usage script into the server's script cache.
func (s *Store) Migrate(ctx context.Context) error {
	if err := incrementIfBelow.Load(ctx, s.client).Err(); err != nil {
		return fmt.Errorf("entitle/redis: load scripts: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ==================== Keys ====================

func (s *Store) planKey(planID string) string  { return s.prefix + ":plan:" + planID }
func (s *Store) tierKey(tier plan.Tier) string { return s.prefix + ":plan:tier:" + string(tier) }
func (s *Store) plansKey() string              { return s.prefix + ":plans" }
func (s *Store) subKey(userID string) string   { return s.prefix + ":sub:user:" + userID }
func (s *Store) subsKey() string               { return s.prefix + ":subs" }

func (s *Store) paymentKey(orderID, paymentID string) string {
	return s.prefix + ":pay:ref:" + payment.Key(orderID, paymentID)
}

func (s *Store) userPaymentsKey(userID string) string { return s.prefix + ":pay:user:" + userID }

func (s *Store) usageKey(userID string, periodStart time.Time) string {
	return s.prefix + ":usage:" + userID + ":" + usage.MonthKey(periodStart)
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	n, err := s.client.Exists(ctx, s.planKey(p.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("entitle/redis: create plan: %w", err)
	}
	if n > 0 {
		return entitle.ErrAlreadyExists
	}

	ok, err := s.client.SetNX(ctx, s.tierKey(p.Tier), p.ID.String(), 0).Result()
	if err != nil {
		return fmt.Errorf("entitle/redis: create plan: %w", err)
	}
	if !ok {
		return entitle.ErrPlanTierExists
	}
	return s.writePlan(ctx, p)
}

func (s *Store) writePlan(ctx context.Context, p *plan.Plan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("entitle/redis: encode plan: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.planKey(p.ID.String()), data, 0)
		pipe.ZAdd(ctx, s.plansKey(), goredis.Z{
			Score:  float64(p.MonthlyPrice.Amount),
			Member: p.ID.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("entitle/redis: write plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var p plan.Plan
	if err := s.getJSON(ctx, s.planKey(planID.String()), &p); err != nil {
		if isNil(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, fmt.Errorf("entitle/redis: get plan: %w", err)
	}
	return &p, nil
}

func (s *Store) GetPlanByTier(ctx context.Context, tier plan.Tier) (*plan.Plan, error) {
	planID, err := s.client.Get(ctx, s.tierKey(tier)).Result()
	if err != nil {
		if isNil(err) {
			return nil, entitle.ErrPlanNotFound
		}
		return nil, fmt.Errorf("entitle/redis: get plan by tier: %w", err)
	}
	pid, err := id.ParsePlanID(planID)
	if err != nil {
		return nil, err
	}
	return s.GetPlan(ctx, pid)
}

func (s *Store) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	ids, err := s.client.ZRange(ctx, s.plansKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("entitle/redis: list plans: %w", err)
	}
	if len(ids) == 0 {
		return []*plan.Plan{}, nil
	}

	keys := make([]string, len(ids))
	for i, pid := range ids {
		keys[i] = s.planKey(pid)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("entitle/redis: list plans: %w", err)
	}

	result := make([]*plan.Plan, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p plan.Plan
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("entitle/redis: decode plan: %w", err)
		}
		result = append(result, &p)
	}

	// Equal prices come back in member order; creation time breaks the tie.
	slices.SortStableFunc(result, func(a, b *plan.Plan) int {
		if c := cmp.Compare(a.MonthlyPrice.Amount, b.MonthlyPrice.Amount); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	existing, err := s.GetPlan(ctx, p.ID)
	if err != nil {
		return err
	}

	if existing.Tier != p.Tier {
		ok, err := s.client.SetNX(ctx, s.tierKey(p.Tier), p.ID.String(), 0).Result()
		if err != nil {
			return fmt.Errorf("entitle/redis: update plan: %w", err)
		}
		if !ok {
			return entitle.ErrPlanTierExists
		}
		if err := s.client.Del(ctx, s.tierKey(existing.Tier)).Err(); err != nil {
			return fmt.Errorf("entitle/redis: update plan: %w", err)
		}
	}

	updated := *p
	updated.UpdatedAt = now()
	return s.writePlan(ctx, &updated)
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	if err := s.getJSON(ctx, s.subKey(userID), &sub); err != nil {
		if isNil(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/redis: get subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := s.subKey(sub.UserID)

	// WATCH retries when another writer replaced the row between the read
	// and the write.
	txf := func(tx *goredis.Tx) error {
		var stored subscription.Subscription
		err := getJSONWith(ctx, tx, key, &stored)
		switch {
		case err == nil:
			sub.ID = stored.ID
			sub.CreatedAt = stored.CreatedAt
			sub.Version = stored.Version + 1
		case isNil(err):
			sub.Version = 1
		default:
			return err
		}

		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.subsKey(), sub.UserID)
			return nil
		})
		return err
	}

	for range 10 {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("entitle/redis: upsert subscription: %w", err)
		}
		return nil
	}
	return fmt.Errorf("entitle/redis: upsert subscription: %w", goredis.TxFailedErr)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := s.subKey(sub.UserID)
	updated := *sub
	updated.UpdatedAt = now()
	updated.Version = sub.Version + 1

	txf := func(tx *goredis.Tx) error {
		var stored subscription.Subscription
		if err := getJSONWith(ctx, tx, key, &stored); err != nil {
			if isNil(err) {
				return entitle.ErrSubscriptionNotFound
			}
			return err
		}
		if stored.ID.String() != sub.ID.String() {
			return entitle.ErrSubscriptionNotFound
		}
		if stored.Version != sub.Version {
			return entitle.ErrSubscriptionConflict
		}

		data, err := json.Marshal(&updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	// A write that lands between WATCH and EXEC bumped the version, so a
	// failed transaction is a conflict rather than something to retry.
	err := s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		sub.Version = updated.Version
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		return entitle.ErrSubscriptionConflict
	case errors.Is(err, entitle.ErrSubscriptionNotFound), errors.Is(err, entitle.ErrSubscriptionConflict):
		return err
	default:
		return fmt.Errorf("entitle/redis: update subscription: %w", err)
	}
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	users, err := s.client.SMembers(ctx, s.subsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("entitle/redis: list subscriptions: %w", err)
	}

	var result []*subscription.Subscription
	for _, userID := range users {
		sub, err := s.GetSubscriptionByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, entitle.ErrSubscriptionNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Matches(sub) {
			result = append(result, sub)
		}
	}

	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return a.CurrentPeriodEnd.Compare(b.CurrentPeriodEnd)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*subscription.Subscription{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("entitle/redis: encode payment: %w", err)
	}

	key := s.paymentKey(p.GatewayOrderID, p.GatewayPaymentID)
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("entitle/redis: create payment: %w", err)
	}
	if !ok {
		return entitle.ErrDuplicatePayment
	}

	err = s.client.ZAdd(ctx, s.userPaymentsKey(p.UserID), goredis.Z{
		Score:  float64(p.CreatedAt.UnixMilli()),
		Member: key,
	}).Err()
	if err != nil {
		return fmt.Errorf("entitle/redis: index payment: %w", err)
	}
	return nil
}

func (s *Store) GetPaymentByGatewayRef(ctx context.Context, orderID, paymentID string) (*payment.Payment, error) {
	var p payment.Payment
	if err := s.getJSON(ctx, s.paymentKey(orderID, paymentID), &p); err != nil {
		if isNil(err) {
			return nil, entitle.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("entitle/redis: get payment: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPayments(ctx context.Context, userID string, opts payment.ListOpts) ([]*payment.Payment, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	keys, err := s.client.ZRevRange(ctx, s.userPaymentsKey(userID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("entitle/redis: list payments: %w", err)
	}
	if len(keys) == 0 {
		return []*payment.Payment{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("entitle/redis: list payments: %w", err)
	}

	result := make([]*payment.Payment, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p payment.Payment
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("entitle/redis: decode payment: %w", err)
		}
		result = append(result, &p)
	}
	return result, nil
}

// ==================== Usage Store ====================

func (s *Store) GetUsage(ctx context.Context, userID string, feature plan.Feature, periodStart time.Time) (int64, error) {
	n, err := s.client.HGet(ctx, s.usageKey(userID, periodStart), string(feature)).Int64()
	if err != nil {
		if isNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("entitle/redis: get usage: %w", err)
	}
	return n, nil
}

func (s *Store) IncrementUsage(ctx context.Context, userID string, feature plan.Feature, periodStart, _ time.Time) (int64, error) {
	key := s.usageKey(userID, periodStart)
	field := string(feature)
	ts := strconv.FormatInt(now().UnixNano(), 10)

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, field, 1)
		pipe.HSetNX(ctx, key, field+":id", id.NewUsageID().String())
		pipe.HSetNX(ctx, key, field+":created", ts)
		pipe.HSet(ctx, key, field+":updated", ts)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("entitle/redis: increment usage: %w", err)
	}
	return incr.Val(), nil
}

func (s *Store) IncrementUsageIfBelow(ctx context.Context, userID string, feature plan.Feature, periodStart, _ time.Time, limit int64) (int64, error) {
	if limit <= 0 {
		return 0, entitle.ErrQuotaExceeded
	}

	n, err := incrementIfBelow.Run(ctx, s.client,
		[]string{s.usageKey(userID, periodStart)},
		string(feature), limit, id.NewUsageID().String(), now().UnixNano(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("entitle/redis: increment usage: %w", err)
	}
	if n < 0 {
		return 0, entitle.ErrQuotaExceeded
	}
	return n, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, periodStart time.Time) ([]*usage.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.usageKey(userID, periodStart)).Result()
	if err != nil {
		return nil, fmt.Errorf("entitle/redis: list usage: %w", err)
	}

	start, end := usage.MonthBounds(periodStart)
	var result []*usage.Record
	for _, f := range plan.AllFeatures() {
		raw, ok := fields[string(f)]
		if !ok {
			continue
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entitle/redis: decode usage: %w", err)
		}
		useID, err := id.ParseUsageID(fields[string(f)+":id"])
		if err != nil {
			return nil, err
		}
		result = append(result, &usage.Record{
			Entity: types.Entity{
				CreatedAt: unixNano(fields[string(f)+":created"]),
				UpdatedAt: unixNano(fields[string(f)+":updated"]),
			},
			ID:          useID,
			UserID:      userID,
			Feature:     f,
			PeriodStart: start,
			PeriodEnd:   end,
			Count:       count,
		})
	}

	slices.SortFunc(result, func(a, b *usage.Record) int {
		return cmp.Compare(a.Feature, b.Feature)
	})
	return result, nil
}

// ==================== Helpers ====================

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	return getJSONWith(ctx, s.client, key, v)
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func getJSONWith(ctx context.Context, c getter, key string, v any) error {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func unixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNil checks for the redis.Nil reply of a missing key.
func isNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
