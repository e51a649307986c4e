package models

import "errors"

// State errors
var (
	ErrInvalidRaffleState     = errors.New("invalid raffle state")
	ErrTicketsAlreadyRefunded = errors.New("tickets are already refunded")
	ErrOutstandingRefunds     = errors.New("all ticket holders must be refunded before the asset is reclaimed")
	ErrNoTicketsOwned         = errors.New("caller owns no tickets in this raffle")
)

// Input errors
var (
	ErrTicketAmountInvalid = errors.New("ticket amount invalid")
	ErrMsgValueInvalid     = errors.New("msg value invalid")
	ErrTicketPriceInvalid  = errors.New("ticket price invalid")
	ErrInvalidExpiry       = errors.New("expiry must be in the future")
	ErrInvalidStandard     = errors.New("unknown asset standard")
	ErrInvalidAsset        = errors.New("asset contract and token id are required")
)

// Timing errors
var (
	ErrTimeSinceExpiryInsufficientForRefund = errors.New("raffle must be expired for the grace period before being refunded")
	ErrRaffleExpired                        = errors.New("raffle has expired")
)

// Permission errors
var (
	ErrCreateDisabled = errors.New("raffle creation is disabled")
	ErrNotAdmin       = errors.New("caller is not an administrator")
)

// Integration errors
var (
	ErrAssetTransferFailed      = errors.New("asset transfer failed")
	ErrSettlementTransferFailed = errors.New("settlement transfer failed")
	ErrRefundTransferFailed     = errors.New("refund transfer failed")
	ErrPaymentTransferFailed    = errors.New("payment transfer failed")
	ErrUnknownRequest           = errors.New("unknown randomness request")
	ErrNoRandomWords            = errors.New("fulfillment carries no random words")
)

// Internal invariant violations. Reaching one of these is a bug, not a user error.
var (
	ErrLedgerInvariant     = errors.New("ticket ledger invariant violated")
	ErrSettlementInvariant = errors.New("settlement invariant violated")
)

// Storage errors
var (
	ErrRaffleNotFound = errors.New("raffle not found")
	ErrBatchNotFound  = errors.New("ticket batch not found")
)

var rejections = []error{
	ErrInvalidRaffleState, ErrTicketsAlreadyRefunded, ErrOutstandingRefunds, ErrNoTicketsOwned,
	ErrTicketAmountInvalid, ErrMsgValueInvalid, ErrTicketPriceInvalid, ErrInvalidExpiry, ErrInvalidStandard, ErrInvalidAsset,
	ErrTimeSinceExpiryInsufficientForRefund, ErrRaffleExpired,
	ErrCreateDisabled, ErrNotAdmin,
	ErrUnknownRequest, ErrNoRandomWords,
	ErrLedgerInvariant, ErrSettlementInvariant,
	ErrRaffleNotFound, ErrBatchNotFound,
}

// IsRejection reports whether err is a raffle rule refusing the operation.
// Anything else (storage, network) may succeed when retried.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
