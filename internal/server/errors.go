package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	analyticsdomain "github.com/recurhq/recur/internal/analytics/domain"
	"github.com/recurhq/recur/internal/apperror"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	"github.com/recurhq/recur/internal/authorization"
	creditdomain "github.com/recurhq/recur/internal/credit/domain"
	gatewaydomain "github.com/recurhq/recur/internal/gateway/domain"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	usagedomain "github.com/recurhq/recur/internal/usage/domain"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrMissingActor       = errors.New("missing_actor")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrMissingActor),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	}

	switch classifyError(err) {
	case apperror.KindValidation:
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	case apperror.KindNotFound:
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case apperror.KindIllegalStateTransition:
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "illegal_state_transition",
			Message: err.Error(),
		}
	case apperror.KindConflict:
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case apperror.KindAccountBlocked:
		return http.StatusForbidden, errorPayload{
			Type:    "account_blocked",
			Message: "account blocked",
		}
	case apperror.KindExternalTransient:
		return http.StatusBadGateway, errorPayload{
			Type:    "external_transient",
			Message: "upstream unavailable",
		}
	case apperror.KindExternalPermanent:
		return http.StatusPaymentRequired, errorPayload{
			Type:    "external_permanent",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyError buckets domain sentinels into the engine's error taxonomy.
// Errors already carrying a kind keep it.
func classifyError(err error) apperror.Kind {
	if err == nil {
		return apperror.KindInternal
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	switch {
	case errors.Is(err, subscriptiondomain.ErrAccountBlocked):
		return apperror.KindAccountBlocked
	case isValidationError(err):
		return apperror.KindValidation
	case isNotFoundError(err):
		return apperror.KindNotFound
	case isIllegalStateError(err):
		return apperror.KindIllegalStateTransition
	case isConflictError(err):
		return apperror.KindConflict
	case errors.Is(err, gatewaydomain.ErrGatewayUnavailable):
		return apperror.KindExternalTransient
	default:
		return apperror.KindInternal
	}
}

func classifyErrorForLog(err error) string {
	return string(classifyError(err))
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isAccountValidationError(err),
		isPaymentMethodValidationError(err),
		isPlanValidationError(err),
		isSubscriptionValidationError(err),
		isUsageValidationError(err),
		isInvoiceValidationError(err),
		isPaymentValidationError(err),
		isCreditValidationError(err),
		isWebhookValidationError(err),
		isLedgerValidationError(err),
		isAuditValidationError(err),
		isAnalyticsValidationError(err):
		return true
	case errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidEvent),
		errors.Is(err, gatewaydomain.ErrInvalidCharge):
		return true
	default:
		return false
	}
}

func isAccountValidationError(err error) bool {
	return errors.Is(err, accountdomain.ErrInvalidName) ||
		errors.Is(err, accountdomain.ErrInvalidEmail) ||
		errors.Is(err, accountdomain.ErrInvalidCurrency) ||
		errors.Is(err, accountdomain.ErrInvalidID) ||
		errors.Is(err, accountdomain.ErrInvalidStatus)
}

func isPaymentMethodValidationError(err error) bool {
	return errors.Is(err, paymentmethoddomain.ErrInvalidAccount) ||
		errors.Is(err, paymentmethoddomain.ErrInvalidToken) ||
		errors.Is(err, paymentmethoddomain.ErrInvalidExpiry) ||
		errors.Is(err, paymentmethoddomain.ErrInvalidID)
}

func isPlanValidationError(err error) bool {
	return errors.Is(err, plandomain.ErrInvalidName) ||
		errors.Is(err, plandomain.ErrInvalidInterval) ||
		errors.Is(err, plandomain.ErrInvalidAmount) ||
		errors.Is(err, plandomain.ErrInvalidCurrency) ||
		errors.Is(err, plandomain.ErrInvalidTrialDays) ||
		errors.Is(err, plandomain.ErrInvalidUsageType) ||
		errors.Is(err, plandomain.ErrInvalidTiers) ||
		errors.Is(err, plandomain.ErrInvalidID)
}

func isSubscriptionValidationError(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrInvalidID) ||
		errors.Is(err, subscriptiondomain.ErrInvalidAccountID) ||
		errors.Is(err, subscriptiondomain.ErrInvalidPlanID) ||
		errors.Is(err, subscriptiondomain.ErrInvalidQuantity) ||
		errors.Is(err, subscriptiondomain.ErrInvalidTiming) ||
		errors.Is(err, subscriptiondomain.ErrInvalidStatus) ||
		errors.Is(err, subscriptiondomain.ErrInvalidPlan) ||
		errors.Is(err, subscriptiondomain.ErrCurrencyMismatch) ||
		errors.Is(err, subscriptiondomain.ErrSamePlan) ||
		errors.Is(err, subscriptiondomain.ErrInvalidResumesAt) ||
		errors.Is(err, subscriptiondomain.ErrPendingPlanMissing)
}

func isUsageValidationError(err error) bool {
	return errors.Is(err, usagedomain.ErrInvalidID) ||
		errors.Is(err, usagedomain.ErrInvalidMetric) ||
		errors.Is(err, usagedomain.ErrInvalidQuantity) ||
		errors.Is(err, usagedomain.ErrInvalidKey) ||
		errors.Is(err, usagedomain.ErrInvalidWindow) ||
		errors.Is(err, usagedomain.ErrInvalidStatus)
}

func isInvoiceValidationError(err error) bool {
	return errors.Is(err, invoicedomain.ErrInvalidID) ||
		errors.Is(err, invoicedomain.ErrInvalidStatus) ||
		errors.Is(err, invoicedomain.ErrInvalidReason)
}

func isPaymentValidationError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidID) ||
		errors.Is(err, paymentdomain.ErrInvalidKey) ||
		errors.Is(err, paymentdomain.ErrInvalidStatus)
}

func isCreditValidationError(err error) bool {
	return errors.Is(err, creditdomain.ErrInvalidID) ||
		errors.Is(err, creditdomain.ErrInvalidAccountID) ||
		errors.Is(err, creditdomain.ErrInvalidAmount) ||
		errors.Is(err, creditdomain.ErrInvalidReason) ||
		errors.Is(err, creditdomain.ErrInvalidExpiry) ||
		errors.Is(err, creditdomain.ErrInvalidState)
}

func isWebhookValidationError(err error) bool {
	return errors.Is(err, webhookdomain.ErrInvalidID) ||
		errors.Is(err, webhookdomain.ErrInvalidURL) ||
		errors.Is(err, webhookdomain.ErrInvalidEvents) ||
		errors.Is(err, webhookdomain.ErrInvalidStatus)
}

func isLedgerValidationError(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInvalidSourceType) ||
		errors.Is(err, ledgerdomain.ErrInvalidSourceID)
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isAnalyticsValidationError(err error) bool {
	return errors.Is(err, analyticsdomain.ErrInvalidPeriod) ||
		errors.Is(err, analyticsdomain.ErrInvalidPageToken)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, paymentmethoddomain.ErrNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrAccountNotFound),
		errors.Is(err, usagedomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrAccountNotFound),
		errors.Is(err, invoicedomain.ErrPlanNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrInvoiceNotFound),
		errors.Is(err, creditdomain.ErrNotFound),
		errors.Is(err, creditdomain.ErrAccountNotFound),
		errors.Is(err, webhookdomain.ErrNotFound),
		errors.Is(err, gatewaydomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isIllegalStateError(err error) bool {
	switch {
	case errors.Is(err, accountdomain.ErrIllegalTransition),
		errors.Is(err, subscriptiondomain.ErrIllegalTransition),
		errors.Is(err, invoicedomain.ErrIllegalTransition),
		errors.Is(err, invoicedomain.ErrPeriodStillOpen),
		errors.Is(err, invoicedomain.ErrNotBillable),
		errors.Is(err, paymentdomain.ErrInvoiceNotPayable),
		errors.Is(err, paymentdomain.ErrNoPaymentMethod),
		errors.Is(err, usagedomain.ErrSubscriptionInactive):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, accountdomain.ErrEmailTaken),
		errors.Is(err, paymentmethoddomain.ErrTokenTaken),
		errors.Is(err, plandomain.ErrCodeTaken),
		errors.Is(err, plandomain.ErrVersionConflict),
		errors.Is(err, invoicedomain.ErrDuplicatePeriod),
		errors.Is(err, paymentdomain.ErrPaymentPending),
		errors.Is(err, paymentdomain.ErrStateConflict):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
