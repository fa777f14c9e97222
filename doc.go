// Package entitle provides a subscription entitlement and usage-metering
// engine for Go applications.
//
// Entitle is a library, not a service. It decides which plan a user is on,
// whether they may use a gated feature this calendar month, and how a paid
// checkout turns into an active subscription. It provides:
//
//   - A plan catalog of FREE, PRO and PREMIUM tiers with per-feature limits
//   - A monthly usage ledger with atomic, per-period counters
//   - Subscription lifecycle: order, activate, cancel, downgrade, expire
//   - HMAC-SHA256 payment signature verification
//   - A Gate that enforces check, then work, then commit
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/entitle"
//	    "github.com/xraph/entitle/plan"
//	    "github.com/xraph/entitle/store/postgres"
//	)
//
//	store := postgres.New(db)
//
//	e := entitle.New(store,
//	    entitle.WithGateway(razorpay.New(keyID, keySecret)),
//	    entitle.WithSigningSecret(keySecret),
//	    entitle.WithDefaultPlans(plan.Defaults()...),
//	)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Limits
//
// Each plan carries one Limit per feature. A Limit is Unlimited, Disabled
// or Bounded(n); on the wire it is -1, 0 or n:
//
//	limit, _ := p.Limit(plan.FeatureMockInterview)
//	if limit.Allows(used) { ... }
//
// # Gating work
//
// Gate.Run checks the quota, runs the work and records one use only when
// the work succeeds:
//
//	err := e.Gate().Run(ctx, userID, plan.FeatureResumeAnalysis, func(ctx context.Context) error {
//	    return analyze(ctx, resume)
//	})
//	var qe *entitle.QuotaError
//	if errors.As(err, &qe) {
//	    // show entitle.UserMessage(err)
//	}
//
// WithReservation switches Run to an atomic consume-then-work mode that
// never lets concurrent callers exceed a bounded limit.
//
// # Effective plan
//
// A user with no subscription row is on FREE. Otherwise the configured
// subscription.Rule decides whether the row still entitles them to its
// plan. ThroughPaidPeriod, the default, keeps a cancelled subscription
// entitled until its current period ends; ActiveOnly drops it at once.
//
// # Usage periods
//
// Usage is counted per user, per feature, per calendar month in UTC. A new
// month starts at zero without any reset job.
//
// # TypeID
//
// All records use TypeID identifiers:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	pay_01h455vb4pex5vsknk084sn02q   // Payment ID
package entitle
