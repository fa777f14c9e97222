package entitle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/entitle/plan"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("entitle: not found")
	ErrAlreadyExists = errors.New("entitle: already exists")
	ErrInvalidInput  = errors.New("entitle: invalid input")

	// Caller identity
	ErrUnauthenticated = errors.New("entitle: unauthenticated")

	// Plan errors
	ErrPlanNotFound       = errors.New("entitle: plan not found")
	ErrPlanTierExists     = errors.New("entitle: a plan for this tier already exists")
	ErrInvalidPlanPricing = errors.New("entitle: plan has no price for this billing period")
	ErrUnknownFeature     = errors.New("entitle: unknown feature")

	// Subscription errors
	ErrSubscriptionNotFound  = errors.New("entitle: subscription not found")
	ErrNoPaymentRequired     = errors.New("entitle: the free plan requires no payment")
	ErrNoPaidSubscription    = errors.New("entitle: no paid subscription")
	ErrSubscriptionCancelled = errors.New("entitle: subscription is already cancelled")
	ErrSubscriptionConflict  = errors.New("entitle: subscription changed concurrently")

	// Payment errors
	ErrInvalidPaymentSignature = errors.New("entitle: invalid payment signature")
	ErrDuplicatePayment        = errors.New("entitle: payment already recorded")
	ErrPaymentNotFound         = errors.New("entitle: payment not found")

	// Entitlement errors
	ErrFeatureDisabled = errors.New("entitle: feature not available on this plan")
	ErrQuotaExceeded   = errors.New("entitle: monthly quota exceeded")

	// Gateway errors
	ErrGateway              = errors.New("entitle: payment gateway error")
	ErrGatewayNotConfigured = errors.New("entitle: payment gateway not configured")

	// Store errors
	ErrStoreNotReady = errors.New("entitle: store not ready")
	ErrStoreClosed   = errors.New("entitle: store is closed")
)

// QuotaError is returned when a feature check is denied. It matches
// ErrFeatureDisabled or ErrQuotaExceeded with errors.Is.
type QuotaError struct {
	Feature     plan.Feature
	Limit       plan.Limit
	Used        int64
	Tier        plan.Tier
	UpgradeTier plan.Tier
}

func (e *QuotaError) Error() string {
	if e.Limit.IsDisabled() {
		return fmt.Sprintf("entitle: %s is not available on the %s plan", e.Feature, e.Tier)
	}
	return fmt.Sprintf("entitle: %s quota exceeded (%d/%d)", e.Feature, e.Used, e.Limit.Max())
}

func (e *QuotaError) Unwrap() error {
	if e.Limit.IsDisabled() {
		return ErrFeatureDisabled
	}
	return ErrQuotaExceeded
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "entitle: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("entitle: %d errors occurred", len(e.Errors))
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns nil when empty and the MultiError otherwise.
func (e MultiError) Err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsQuotaError returns true if the error denies a feature.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrFeatureDisabled)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGateway) ||
		errors.Is(err, ErrStoreNotReady)
}

// UserMessage returns a short, actionable message safe to show end users.
// Internal details, gateway errors in particular, are never included.
func UserMessage(err error) string {
	var qe *QuotaError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &qe):
		return quotaMessage(qe)
	case errors.Is(err, ErrUnauthenticated):
		return "Please sign in to continue."
	case errors.Is(err, ErrPlanNotFound):
		return "That plan is not available."
	case errors.Is(err, ErrInvalidPlanPricing):
		return "That plan cannot be purchased right now."
	case errors.Is(err, ErrNoPaymentRequired):
		return "The Free plan does not require payment."
	case errors.Is(err, ErrInvalidPaymentSignature):
		return "We could not verify your payment. Please contact support if you were charged."
	case errors.Is(err, ErrNoPaidSubscription):
		return "You do not have a paid subscription."
	case errors.Is(err, ErrSubscriptionCancelled):
		return "Your subscription is already cancelled."
	case errors.Is(err, ErrSubscriptionConflict):
		return "Your subscription was just updated. Please try again."
	case errors.Is(err, ErrFeatureDisabled):
		return "This feature is not available on your plan. Upgrade to unlock it."
	case errors.Is(err, ErrQuotaExceeded):
		return "You've reached your monthly limit. Upgrade for more."
	case errors.Is(err, ErrUnknownFeature):
		return "Unknown feature."
	case errors.Is(err, ErrInvalidInput):
		return "The request is invalid."
	case errors.Is(err, ErrGateway), errors.Is(err, ErrGatewayNotConfigured):
		return "Payment service is unavailable. Please try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}

func quotaMessage(qe *QuotaError) string {
	upgrade := "Upgrade for more."
	if qe.UpgradeTier != "" {
		upgrade = fmt.Sprintf("Upgrade to %s for more.", qe.UpgradeTier)
	}
	if qe.Limit.IsDisabled() {
		msg := fmt.Sprintf("%s are not available on your plan.", capitalize(qe.Feature.Noun()))
		if qe.UpgradeTier != "" {
			msg += fmt.Sprintf(" Upgrade to %s to unlock them.", qe.UpgradeTier)
		}
		return msg
	}
	return fmt.Sprintf("You've reached your monthly limit of %d %s. %s", qe.Limit.Max(), qe.Feature.Noun(), upgrade)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
