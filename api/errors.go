package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/entitle"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidPricing      = "INVALID_PLAN_PRICING"
	CodeInvalidSignature    = "INVALID_PAYMENT_SIGNATURE"
	CodeConflict            = "CONFLICT"
	CodeFeatureDisabled     = "FEATURE_DISABLED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeGateway             = "GATEWAY_ERROR"
	CodeGatewayUnconfigured = "GATEWAY_NOT_CONFIGURED"
	CodeInternal            = "INTERNAL"
)

// statusFor maps an engine error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fiber.StatusNotFound:
			return fe.Code, CodeNotFound
		case fiber.StatusUnauthorized:
			return fe.Code, CodeUnauthenticated
		case fiber.StatusForbidden:
			return fe.Code, CodeForbidden
		case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			return fiber.StatusBadRequest, CodeInvalidInput
		}
		return fe.Code, CodeInternal
	}

	switch {
	case errors.Is(err, entitle.ErrUnauthenticated):
		return fiber.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(err, entitle.ErrFeatureDisabled):
		return fiber.StatusForbidden, CodeFeatureDisabled
	case errors.Is(err, entitle.ErrQuotaExceeded):
		return fiber.StatusTooManyRequests, CodeQuotaExceeded
	case errors.Is(err, entitle.ErrInvalidPaymentSignature):
		return fiber.StatusBadRequest, CodeInvalidSignature
	case errors.Is(err, entitle.ErrInvalidPlanPricing):
		return fiber.StatusBadRequest, CodeInvalidPricing
	case errors.Is(err, entitle.ErrInvalidInput),
		errors.Is(err, entitle.ErrUnknownFeature),
		errors.Is(err, entitle.ErrNoPaymentRequired):
		return fiber.StatusBadRequest, CodeInvalidInput
	case entitle.IsNotFound(err):
		return fiber.StatusNotFound, CodeNotFound
	case errors.Is(err, entitle.ErrAlreadyExists),
		errors.Is(err, entitle.ErrPlanTierExists),
		errors.Is(err, entitle.ErrDuplicatePayment),
		errors.Is(err, entitle.ErrSubscriptionCancelled),
		errors.Is(err, entitle.ErrSubscriptionConflict),
		errors.Is(err, entitle.ErrNoPaidSubscription):
		return fiber.StatusConflict, CodeConflict
	case errors.Is(err, entitle.ErrGatewayNotConfigured):
		return fiber.StatusServiceUnavailable, CodeGatewayUnconfigured
	case errors.Is(err, entitle.ErrGateway):
		return fiber.StatusBadGateway, CodeGateway
	default:
		return fiber.StatusInternalServerError, CodeInternal
	}
}

// errorBody renders err for clients. Internal errors never leak their text.
func errorBody(err error, code string, status int) fiber.Map {
	msg := entitle.UserMessage(err)
	var fe *fiber.Error
	if errors.As(err, &fe) {
		msg = fe.Message
	}
	if status >= fiber.StatusInternalServerError && code == CodeInternal {
		msg = "Something went wrong. Please try again."
	}

	body := fiber.Map{
		"error": msg,
		"code":  code,
	}

	var qe *entitle.QuotaError
	if errors.As(err, &qe) {
		body["feature"] = qe.Feature
		body["used"] = qe.Used
		body["limit"] = qe.Limit
		body["tier"] = qe.Tier
		if qe.UpgradeTier != "" {
			body["upgrade_tier"] = qe.UpgradeTier
		}
	}
	return body
}
