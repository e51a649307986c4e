package dto

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"raffle-engine/internal/common/config"
	"raffle-engine/internal/features/raffle/models"
)

// Amounts and token ids travel as base-10 strings; they exceed JSON number
// precision.

type CreateRaffleRequest struct {
	Asset       string `json:"asset" binding:"required,eth_addr"`
	AssetID     string `json:"asset_id" binding:"required,uint256"`
	Standard    string `json:"standard" binding:"required,oneof=erc721 erc1155"`
	TicketPrice string `json:"ticket_price" binding:"required,uint256"`
	ExpiresAt   int64  `json:"expires_at" binding:"required,min=1"`
}

type BuyTicketsRequest struct {
	Quantity uint32 `json:"quantity"`
	Value    string `json:"value" binding:"required,uint256"`
}

type ReleaseRequest struct {
	// BatchHint is an optional batch index expected to hold the winning ticket.
	BatchHint *uint32 `json:"batch_hint"`
}

type FulfillRequest struct {
	RequestID   uint64   `json:"request_id" binding:"required,min=1"`
	RandomWords []string `json:"random_words" binding:"dive,uint256"`
}

type RaffleResponse struct {
	ID                  uint64    `json:"id"`
	Creator             string    `json:"creator"`
	Asset               string    `json:"asset"`
	AssetID             string    `json:"asset_id"`
	Standard            string    `json:"standard"`
	TicketPrice         string    `json:"ticket_price"`
	TicketPriceEther    string    `json:"ticket_price_ether"`
	ExpiresAt           time.Time `json:"expires_at"`
	TicketsSold         uint32    `json:"tickets_sold"`
	State               string    `json:"state"`
	WinningTicket       uint32    `json:"winning_ticket"`
	RandomnessRequestID uint64    `json:"randomness_request_id"`
	Winner              string    `json:"winner,omitempty"`
	AssetReturned       bool      `json:"asset_returned"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func NewRaffleResponse(r *models.Raffle) RaffleResponse {
	resp := RaffleResponse{
		ID:                  r.ID,
		Creator:             r.Creator.Hex(),
		Asset:               r.Asset.Hex(),
		AssetID:             r.AssetID.String(),
		Standard:            string(r.Standard),
		TicketPrice:         r.TicketPrice.String(),
		TicketPriceEther:    config.WeiToEther(r.TicketPrice),
		ExpiresAt:           r.Expiry().UTC(),
		TicketsSold:         r.TicketsSold,
		State:               r.State.String(),
		WinningTicket:       r.WinningTicket,
		RandomnessRequestID: r.RandomnessRequestID,
		AssetReturned:       r.AssetReturned,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.State == models.StateReleased {
		resp.Winner = r.Winner.Hex()
	}
	return resp
}

func NewRaffleListResponse(raffles []*models.Raffle) []RaffleResponse {
	out := make([]RaffleResponse, 0, len(raffles))
	for _, r := range raffles {
		out = append(out, NewRaffleResponse(r))
	}
	return out
}

type BatchResponse struct {
	Index       uint32 `json:"index"`
	Owner       string `json:"owner"`
	StartTicket uint32 `json:"start_ticket"`
	EndTicket   uint32 `json:"end_ticket"`
	Quantity    uint32 `json:"quantity"`
}

func NewBatchResponse(b models.TicketBatch) BatchResponse {
	return BatchResponse{
		Index:       b.Index,
		Owner:       b.Owner.Hex(),
		StartTicket: b.StartTicket,
		EndTicket:   b.EndTicket,
		Quantity:    b.Size(),
	}
}

func NewBatchListResponse(batches []models.TicketBatch) []BatchResponse {
	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, NewBatchResponse(b))
	}
	return out
}

type UserInfoResponse struct {
	RaffleID     uint64 `json:"raffle_id"`
	Owner        string `json:"owner"`
	TicketsOwned uint32 `json:"tickets_owned"`
	IsRefunded   bool   `json:"is_refunded"`
}

func NewUserInfoResponse(a models.UserTicketAccount) UserInfoResponse {
	return UserInfoResponse{
		RaffleID:     a.RaffleID,
		Owner:        a.Owner.Hex(),
		TicketsOwned: a.TicketsOwned,
		IsRefunded:   a.IsRefunded,
	}
}

type PurchaseResponse struct {
	Raffle  RaffleResponse   `json:"raffle"`
	Batch   BatchResponse    `json:"batch"`
	Account UserInfoResponse `json:"account"`
}

type SettlementResponse struct {
	RaffleID        uint64 `json:"raffle_id"`
	Winner          string `json:"winner,omitempty"`
	WinningTicket   uint32 `json:"winning_ticket"`
	Creator         string `json:"creator"`
	FeeCollector    string `json:"fee_collector"`
	RoyaltyReceiver string `json:"royalty_receiver,omitempty"`
	Raised          string `json:"raised"`
	RoyaltyAmount   string `json:"royalty_amount"`
	PlatformFee     string `json:"platform_fee"`
	CreatorPayout   string `json:"creator_payout"`
}

func NewSettlementResponse(s *models.Settlement) SettlementResponse {
	resp := SettlementResponse{
		RaffleID:      s.RaffleID,
		WinningTicket: s.WinningTicket,
		Creator:       s.Creator.Hex(),
		FeeCollector:  s.FeeCollector.Hex(),
		Raised:        s.Raised.String(),
		RoyaltyAmount: s.RoyaltyAmount.String(),
		PlatformFee:   s.PlatformFee.String(),
		CreatorPayout: s.CreatorPayout.String(),
	}
	if s.Winner != (common.Address{}) {
		resp.Winner = s.Winner.Hex()
	}
	if s.RoyaltyReceiver != (common.Address{}) {
		resp.RoyaltyReceiver = s.RoyaltyReceiver.Hex()
	}
	return resp
}

type RoyaltyResponse struct {
	Receiver    string `json:"receiver"`
	BasisPoints uint16 `json:"basis_points"`
	Source      string `json:"source"`
}

func NewRoyaltyResponse(q models.RoyaltyQuote) RoyaltyResponse {
	return RoyaltyResponse{
		Receiver:    q.Receiver.Hex(),
		BasisPoints: q.BasisPoints,
		Source:      string(q.Source),
	}
}

type RefundResponse struct {
	RaffleID uint64 `json:"raffle_id"`
	Buyer    string `json:"buyer"`
	Amount   string `json:"amount"`
}

type CreateEnabledResponse struct {
	CreateEnabled bool `json:"create_enabled"`
}
