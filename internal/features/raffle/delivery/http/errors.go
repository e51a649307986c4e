package http

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	apperrors "raffle-engine/internal/common/errors"
	"raffle-engine/internal/features/raffle/models"
)

type sentinelCode struct {
	err  error
	code apperrors.ErrorCode
}

// Order matters only where a wrapped chain could match two entries; the
// integration errors come first because they wrap chain failures.
var sentinelCodes = []sentinelCode{
	{models.ErrAssetTransferFailed, apperrors.ErrCodeAssetTransferFailed},
	{models.ErrSettlementTransferFailed, apperrors.ErrCodeSettlementTransferFailed},
	{models.ErrRefundTransferFailed, apperrors.ErrCodeRefundTransferFailed},
	{models.ErrPaymentTransferFailed, apperrors.ErrCodePaymentTransferFailed},
	{models.ErrUnknownRequest, apperrors.ErrCodeUnknownRequest},
	{models.ErrNoRandomWords, apperrors.ErrCodeBadRequest},

	{models.ErrInvalidRaffleState, apperrors.ErrCodeInvalidRaffleState},
	{models.ErrTicketsAlreadyRefunded, apperrors.ErrCodeTicketsAlreadyRefunded},
	{models.ErrOutstandingRefunds, apperrors.ErrCodeOutstandingRefunds},
	{models.ErrNoTicketsOwned, apperrors.ErrCodeNoTicketsOwned},

	{models.ErrTicketAmountInvalid, apperrors.ErrCodeTicketAmountInvalid},
	{models.ErrMsgValueInvalid, apperrors.ErrCodeMsgValueInvalid},
	{models.ErrTicketPriceInvalid, apperrors.ErrCodeTicketPriceInvalid},
	{models.ErrInvalidExpiry, apperrors.ErrCodeInvalidExpiry},
	{models.ErrInvalidStandard, apperrors.ErrCodeValidation},
	{models.ErrInvalidAsset, apperrors.ErrCodeValidation},

	{models.ErrTimeSinceExpiryInsufficientForRefund, apperrors.ErrCodeRefundTooEarly},
	{models.ErrRaffleExpired, apperrors.ErrCodeRaffleExpired},

	{models.ErrCreateDisabled, apperrors.ErrCodeCreateDisabled},
	{models.ErrNotAdmin, apperrors.ErrCodeNotAdmin},

	{models.ErrRaffleNotFound, apperrors.ErrCodeNotFound},
	{models.ErrBatchNotFound, apperrors.ErrCodeNotFound},
}

// toAppError converts a service error into the response envelope.
func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return apperrors.Wrap(err, sc.code, sc.err.Error())
		}
	}
	if errors.Is(err, models.ErrLedgerInvariant) || errors.Is(err, models.ErrSettlementInvariant) {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "Internal invariant violated").WithStack()
	}
	return apperrors.Wrap(err, apperrors.ErrCodeInternal, "Internal server error")
}

// bindError turns a binding failure into a validation error listing the
// offending fields.
func bindError(err error) *apperrors.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		appErr := apperrors.NewValidationError(first.Field(), fmt.Sprintf("failed on '%s'", first.Tag()))
		for _, fe := range verrs[1:] {
			appErr.WithDetail(fe.Field(), fe.Tag())
		}
		return appErr
	}
	return apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "Malformed request body")
}
