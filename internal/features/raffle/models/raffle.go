package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RaffleState is the position of a raffle in its lifecycle. The numeric
// values are part of the public API and must not be reordered.
type RaffleState uint8

const (
	StateNone RaffleState = iota
	StateActive
	StateClosed
	StateRefunded
	StatePendingDraw
	StateDrawn
	StateReleased
)

var stateNames = [...]string{"NONE", "ACTIVE", "CLOSED", "REFUNDED", "PENDING_DRAW", "DRAWN", "RELEASED"}

func (s RaffleState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("RaffleState(%d)", uint8(s))
}

func (s RaffleState) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("unknown raffle state %d", uint8(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *RaffleState) UnmarshalText(text []byte) error {
	st, err := ParseRaffleState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseRaffleState accepts the upper-case state name in any case.
func ParseRaffleState(name string) (RaffleState, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return RaffleState(i), nil
		}
	}
	return StateNone, fmt.Errorf("unknown raffle state %q", name)
}

// AllStates lists every state in declaration order.
func AllStates() []RaffleState {
	out := make([]RaffleState, len(stateNames))
	for i := range stateNames {
		out[i] = RaffleState(i)
	}
	return out
}

// AssetStandard selects how the prize asset is moved.
type AssetStandard string

const (
	// StandardERC721 is a single-owner asset moved with transferFrom.
	StandardERC721 AssetStandard = "erc721"
	// StandardERC1155 is a balance-accounted asset moved with safeTransferFrom(amount=1).
	StandardERC1155 AssetStandard = "erc1155"
)

func (s AssetStandard) Valid() bool {
	return s == StandardERC721 || s == StandardERC1155
}

// Raffle is one prize-draw campaign.
type Raffle struct {
	ID                  uint64         `json:"id"`
	Creator             common.Address `json:"creator"`
	Asset               common.Address `json:"asset"`
	AssetID             *big.Int       `json:"asset_id"`
	Standard            AssetStandard  `json:"standard"`
	TicketPrice         *big.Int       `json:"ticket_price"`
	ExpiresAt           int64          `json:"expires_at"`
	TicketsSold         uint32         `json:"tickets_sold"`
	State               RaffleState    `json:"state"`
	WinningTicket       uint32         `json:"winning_ticket"`
	RandomnessRequestID uint64         `json:"randomness_request_id"`
	DrawRequestedAt     int64          `json:"draw_requested_at,omitempty"`
	Winner              common.Address `json:"winner"`
	AssetReturned       bool           `json:"asset_returned"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Clone returns a deep copy, used as the rollback snapshot.
func (r *Raffle) Clone() *Raffle {
	if r == nil {
		return nil
	}
	c := *r
	if r.AssetID != nil {
		c.AssetID = new(big.Int).Set(r.AssetID)
	}
	if r.TicketPrice != nil {
		c.TicketPrice = new(big.Int).Set(r.TicketPrice)
	}
	return &c
}

// Raised is the total native value collected by ticket sales.
func (r *Raffle) Raised() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(uint64(r.TicketsSold)), r.TicketPrice)
}

func (r *Raffle) Expiry() time.Time {
	return time.Unix(r.ExpiresAt, 0)
}

// Ref identifies the custodied asset.
func (r *Raffle) Ref() AssetRef {
	return AssetRef{Standard: r.Standard, Contract: r.Asset, TokenID: r.AssetID}
}

// AssetRef identifies one token of one contract.
type AssetRef struct {
	Standard AssetStandard
	Contract common.Address
	TokenID  *big.Int
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%s:%s#%s", a.Standard, a.Contract.Hex(), a.TokenID)
}

// TicketBatch is the contiguous ticket range allocated by one purchase.
type TicketBatch struct {
	Index       uint32         `json:"index"`
	Owner       common.Address `json:"owner"`
	StartTicket uint32         `json:"start_ticket"`
	EndTicket   uint32         `json:"end_ticket"`
}

func (b TicketBatch) Size() uint32 {
	return b.EndTicket - b.StartTicket + 1
}

func (b TicketBatch) Contains(ticket uint32) bool {
	return ticket >= b.StartTicket && ticket <= b.EndTicket
}

// UserTicketAccount aggregates one buyer's tickets in one raffle.
type UserTicketAccount struct {
	RaffleID     uint64         `json:"raffle_id"`
	Owner        common.Address `json:"owner"`
	TicketsOwned uint32         `json:"tickets_owned"`
	IsRefunded   bool           `json:"is_refunded"`
}

// RoyaltySource tells where a royalty quote came from.
type RoyaltySource string

const (
	RoyaltySourceNone     RoyaltySource = "none"
	RoyaltySourceERC2981  RoyaltySource = "erc2981"
	RoyaltySourceRegistry RoyaltySource = "registry"
)

// RoyaltyQuote is the resolved royalty beneficiary and rate for an asset.
type RoyaltyQuote struct {
	Receiver    common.Address `json:"receiver"`
	BasisPoints uint16         `json:"basis_points"`
	Source      RoyaltySource  `json:"source"`
}

// ZeroQuote means "no royalty".
func ZeroQuote() RoyaltyQuote {
	return RoyaltyQuote{Source: RoyaltySourceNone}
}

func (q RoyaltyQuote) IsZero() bool {
	return q.Receiver == (common.Address{}) || q.BasisPoints == 0
}

// Settlement is the fund split produced when a raffle is released.
type Settlement struct {
	RaffleID        uint64         `json:"raffle_id"`
	Winner          common.Address `json:"winner"`
	WinningTicket   uint32         `json:"winning_ticket"`
	Creator         common.Address `json:"creator"`
	FeeCollector    common.Address `json:"fee_collector"`
	RoyaltyReceiver common.Address `json:"royalty_receiver"`
	Raised          *big.Int       `json:"raised"`
	RoyaltyAmount   *big.Int       `json:"royalty_amount"`
	PlatformFee     *big.Int       `json:"platform_fee"`
	CreatorPayout   *big.Int       `json:"creator_payout"`
}

// Fulfillment is the oracle's answer correlated back to a raffle.
type Fulfillment struct {
	RaffleID  uint64   `json:"raffle_id"`
	RequestID uint64   `json:"request_id"`
	Word      *big.Int `json:"word"`
}
