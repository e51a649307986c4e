package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/platform/chain"
)

// RoyaltyResolver is satisfied by royalty.Resolver.
type RoyaltyResolver interface {
	Resolve(ctx context.Context, asset common.Address, assetID *big.Int) models.RoyaltyQuote
}

type Params struct {
	FeePercent   uint64
	FlatFee      *big.Int
	FeeCollector common.Address
	// Engine is the custody address holding escrowed assets and proceeds.
	Engine common.Address
}

// Engine is the only producer of transfer operations. Every public method
// submits exactly one batch to the executor.
type Engine struct {
	exec      chain.Executor
	approvals chain.ApprovalChecker
	royalties RoyaltyResolver
	params    Params
	logger    zerolog.Logger
}

func NewEngine(exec chain.Executor, approvals chain.ApprovalChecker, royalties RoyaltyResolver, params Params, logger zerolog.Logger) *Engine {
	return &Engine{
		exec:      exec,
		approvals: approvals,
		royalties: royalties,
		params:    params,
		logger:    logger,
	}
}

func (e *Engine) Params() Params {
	return e.params
}

func assetOp(r *models.Raffle, from, to common.Address) chain.Operation {
	return chain.AssetTransfer(chain.TokenStandard(r.Standard), r.Asset, r.AssetID, from, to)
}

// TakeCustody moves the prize from the creator into the engine. The engine
// must already be approved as operator.
func (e *Engine) TakeCustody(ctx context.Context, r *models.Raffle) error {
	approved, err := e.approvals.IsApproved(ctx, chain.TokenStandard(r.Standard), r.Asset, r.AssetID, r.Creator, e.params.Engine)
	if err != nil {
		return fmt.Errorf("%w: approval check: %v", models.ErrAssetTransferFailed, err)
	}
	if !approved {
		return fmt.Errorf("%w: engine is not approved for %s", models.ErrAssetTransferFailed, r.Ref())
	}
	if err := e.exec.Execute(ctx, []chain.Operation{assetOp(r, r.Creator, e.params.Engine)}); err != nil {
		return fmt.Errorf("%w: %w", models.ErrAssetTransferFailed, err)
	}
	return nil
}

// ReturnAsset moves the escrowed prize back out of the engine.
func (e *Engine) ReturnAsset(ctx context.Context, r *models.Raffle, to common.Address) error {
	if err := e.exec.Execute(ctx, []chain.Operation{assetOp(r, e.params.Engine, to)}); err != nil {
		return fmt.Errorf("%w: %w", models.ErrAssetTransferFailed, err)
	}
	return nil
}

// CollectPayment escrows a ticket payment in the engine.
func (e *Engine) CollectPayment(ctx context.Context, buyer common.Address, amount *big.Int) error {
	if err := e.exec.Execute(ctx, []chain.Operation{chain.ValueTransfer(buyer, e.params.Engine, amount)}); err != nil {
		return fmt.Errorf("%w: %w", models.ErrPaymentTransferFailed, err)
	}
	return nil
}

// RefundBatch pays a buyer back owned*price and returns the amount.
func (e *Engine) RefundBatch(ctx context.Context, r *models.Raffle, buyer common.Address, owned uint32) (*big.Int, error) {
	amount := new(big.Int).Mul(new(big.Int).SetUint64(uint64(owned)), r.TicketPrice)
	if err := e.exec.Execute(ctx, []chain.Operation{chain.ValueTransfer(e.params.Engine, buyer, amount)}); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRefundTransferFailed, err)
	}
	return amount, nil
}

// Quote computes the settlement for a raffle without moving anything.
func (e *Engine) Quote(ctx context.Context, r *models.Raffle, winner common.Address) (*models.Settlement, error) {
	raised := r.Raised()
	quote := e.royalties.Resolve(ctx, r.Asset, r.AssetID)
	bps := quote.BasisPoints
	if quote.IsZero() {
		bps = 0
	}

	split, err := ComputeSplit(raised, bps, e.params.FeePercent, e.params.FlatFee)
	if err != nil {
		return nil, err
	}

	s := &models.Settlement{
		RaffleID:      r.ID,
		Winner:        winner,
		WinningTicket: r.WinningTicket,
		Creator:       r.Creator,
		FeeCollector:  e.params.FeeCollector,
		Raised:        raised,
		RoyaltyAmount: split.Royalty,
		PlatformFee:   split.PlatformFee,
		CreatorPayout: split.Creator,
	}
	if bps > 0 {
		s.RoyaltyReceiver = quote.Receiver
	}
	return s, nil
}

// Plan orders the release transfers: asset to winner, royalty, platform fee,
// creator payout. Zero royalty and zero payout legs are omitted.
func (e *Engine) Plan(r *models.Raffle, s *models.Settlement) []chain.Operation {
	ops := []chain.Operation{assetOp(r, e.params.Engine, s.Winner)}
	if s.RoyaltyAmount.Sign() > 0 && s.RoyaltyReceiver != (common.Address{}) {
		ops = append(ops, chain.ValueTransfer(e.params.Engine, s.RoyaltyReceiver, s.RoyaltyAmount))
	}
	ops = append(ops, chain.ValueTransfer(e.params.Engine, s.FeeCollector, s.PlatformFee))
	if s.CreatorPayout.Sign() > 0 {
		ops = append(ops, chain.ValueTransfer(e.params.Engine, s.Creator, s.CreatorPayout))
	}
	return ops
}

// Settle executes the release plan as one batch.
func (e *Engine) Settle(ctx context.Context, r *models.Raffle, winner common.Address) (*models.Settlement, error) {
	s, err := e.Quote(ctx, r, winner)
	if err != nil {
		return nil, err
	}
	if err := e.exec.Execute(ctx, e.Plan(r, s)); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSettlementTransferFailed, err)
	}

	e.logger.Info().
		Uint64("raffle_id", r.ID).
		Str("winner", winner.Hex()).
		Str("raised", s.Raised.String()).
		Str("royalty", s.RoyaltyAmount.String()).
		Str("fee", s.PlatformFee.String()).
		Str("creator_payout", s.CreatorPayout.String()).
		Msg("Raffle settled")
	return s, nil
}
