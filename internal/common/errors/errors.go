package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode is the machine-readable code carried in every error response.
type ErrorCode string

const (
	// Общие ошибки
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"

	// Raffle state errors
	ErrCodeInvalidRaffleState     ErrorCode = "INVALID_RAFFLE_STATE"
	ErrCodeTicketsAlreadyRefunded ErrorCode = "TICKETS_ALREADY_REFUNDED"
	ErrCodeOutstandingRefunds     ErrorCode = "OUTSTANDING_REFUNDS"
	ErrCodeNoTicketsOwned         ErrorCode = "NO_TICKETS_OWNED"

	// Input errors
	ErrCodeTicketAmountInvalid ErrorCode = "TICKET_AMOUNT_INVALID"
	ErrCodeMsgValueInvalid     ErrorCode = "MSG_VALUE_INVALID"
	ErrCodeTicketPriceInvalid  ErrorCode = "TICKET_PRICE_INVALID"
	ErrCodeInvalidExpiry       ErrorCode = "INVALID_EXPIRY"

	// Timing errors
	ErrCodeRefundTooEarly ErrorCode = "TIME_SINCE_EXPIRY_INSUFFICIENT_FOR_REFUND"
	ErrCodeRaffleExpired  ErrorCode = "RAFFLE_EXPIRED"

	// Permission errors
	ErrCodeCreateDisabled ErrorCode = "CREATE_DISABLED"
	ErrCodeNotAdmin       ErrorCode = "NOT_ADMIN"

	// Integration errors
	ErrCodeAssetTransferFailed      ErrorCode = "ASSET_TRANSFER_FAILED"
	ErrCodeSettlementTransferFailed ErrorCode = "SETTLEMENT_TRANSFER_FAILED"
	ErrCodeRefundTransferFailed     ErrorCode = "REFUND_TRANSFER_FAILED"
	ErrCodePaymentTransferFailed    ErrorCode = "PAYMENT_TRANSFER_FAILED"
	ErrCodeUnknownRequest           ErrorCode = "UNKNOWN_REQUEST"

	// Ошибки хранилища
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
)

// AppError is the typed application error rendered by the HTTP layer.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Stack     []string               `json:"stack,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) IsNotFound() bool {
	return e.Code == ErrCodeNotFound
}

func (e *AppError) IsValidation() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeTicketAmountInvalid, ErrCodeMsgValueInvalid,
		ErrCodeTicketPriceInvalid, ErrCodeInvalidExpiry:
		return true
	}
	return false
}

func (e *AppError) IsUnauthorized() bool {
	return e.Code == ErrCodeUnauthorized || e.Code == ErrCodeForbidden || e.Code == ErrCodeNotAdmin
}

func (e *AppError) IsIntegration() bool {
	switch e.Code {
	case ErrCodeAssetTransferFailed, ErrCodeSettlementTransferFailed, ErrCodeRefundTransferFailed,
		ErrCodePaymentTransferFailed, ErrCodeUnknownRequest:
		return true
	}
	return false
}

func (e *AppError) IsInternal() bool {
	return e.Code == ErrCodeInternal || e.Code == ErrCodeDatabaseError
}

func (e *AppError) WithContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func (e *AppError) WithCaller(caller string) *AppError {
	e.Caller = caller
	return e
}

// WithStack attaches the current call stack.
func (e *AppError) WithStack() *AppError {
	e.Stack = getStackTrace()
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func getStackTrace() []string {
	var stack []string
	for i := 2; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		// Пропускаем внутренние функции пакета errors
		if strings.Contains(fn.Name(), "internal/common/errors") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		if len(stack) >= 10 {
			break
		}
	}
	return stack
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewNotFoundError(resource, id interface{}) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, fmt.Sprintf("Unauthorized: %s", reason)).
		WithDetail("reason", reason)
}

func NewForbiddenError(reason string) *AppError {
	return New(ErrCodeForbidden, fmt.Sprintf("Forbidden: %s", reason)).
		WithDetail("reason", reason)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if err != nil {
		appErr, _ = err.(*AppError)
	}
	return appErr, appErr != nil
}
