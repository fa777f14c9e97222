package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger recorder failures are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEnabledActions audits only the named actions. Without it every
// action is audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) { e.enabled = actionSet(actions) }
}

// WithDisabledActions skips the named actions. It narrows a previous
// WithEnabledActions, or the full action list when none was given.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = actionSet(allActions())
		}
		for _, a := range actions {
			delete(e.enabled, a)
		}
	}
}

// WithCategories audits only events in the given categories, for example
// CategorySecurity and CategoryPayment for a compliance trail.
func WithCategories(categories ...string) Option {
	return func(e *Extension) { e.categories = actionSet(categories) }
}

func actionSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// allActions lists every action the extension emits.
func allActions() []string {
	return []string{
		ActionPlanCreated,
		ActionPlanUpdated,
		ActionOrderCreated,
		ActionPaymentRecorded,
		ActionPaymentRejected,
		ActionGatewayError,
		ActionSubscriptionActivated,
		ActionSubscriptionCancelled,
		ActionSubscriptionDowngraded,
		ActionSubscriptionExpired,
		ActionUsageIncremented,
		ActionEntitlementDenied,
		ActionQuotaExceeded,
	}
}
