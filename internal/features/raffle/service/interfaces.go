package service

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"raffle-engine/internal/features/raffle/models"
)

type RaffleService interface {
	CreateRaffle(ctx context.Context, in CreateRaffleInput) (*models.Raffle, error)
	BuyTickets(ctx context.Context, raffleID uint64, buyer common.Address, quantity uint32, payment *big.Int) (*PurchaseResult, error)
	DrawRaffle(ctx context.Context, raffleID uint64) (*models.Raffle, error)
	HandleFulfillment(ctx context.Context, f models.Fulfillment) error
	Release(ctx context.Context, raffleID uint64, hint *uint32) (*models.Settlement, error)
	RefundRaffle(ctx context.Context, raffleID uint64) (*models.Raffle, error)
	RefundTickets(ctx context.Context, raffleID uint64, buyer common.Address) (*big.Int, error)
	ClaimRefundedAsset(ctx context.Context, raffleID uint64) (*models.Raffle, error)
	ToggleCreateEnabled(ctx context.Context, caller common.Address) (bool, error)

	CreateEnabled(ctx context.Context) (bool, error)
	GetRaffle(ctx context.Context, raffleID uint64) (*models.Raffle, error)
	ListRaffles(ctx context.Context, state *models.RaffleState) ([]*models.Raffle, error)
	GetUserInfo(ctx context.Context, raffleID uint64, owner common.Address) (models.UserTicketAccount, error)
	GetBatchInfo(ctx context.Context, raffleID uint64, index uint32) (models.TicketBatch, error)
	GetBatches(ctx context.Context, raffleID uint64) ([]models.TicketBatch, error)
	GetRoyaltyQuote(ctx context.Context, asset common.Address, assetID *big.Int) models.RoyaltyQuote
	QuoteSettlement(ctx context.Context, raffleID uint64) (*models.Settlement, error)
	VerifyLedger(ctx context.Context, raffleID uint64) error
	IsAdmin(addr common.Address) bool
}

// RandomnessRequester is satisfied by randomness.Adapter.
type RandomnessRequester interface {
	Request(ctx context.Context, raffleID uint64) (uint64, error)
}

// RoyaltyResolver is satisfied by royalty.Resolver.
type RoyaltyResolver interface {
	Resolve(ctx context.Context, asset common.Address, assetID *big.Int) models.RoyaltyQuote
}

type CreateRaffleInput struct {
	Creator     common.Address
	Asset       common.Address
	AssetID     *big.Int
	Standard    models.AssetStandard
	TicketPrice *big.Int
	ExpiresAt   int64
}

type PurchaseResult struct {
	Raffle  *models.Raffle
	Batch   models.TicketBatch
	Account models.UserTicketAccount
}
