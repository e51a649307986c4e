package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"raffle-engine/internal/features/raffle/events"
	"raffle-engine/internal/features/raffle/ledger"
	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository"
	"raffle-engine/internal/features/raffle/settlement"
)

type Settings struct {
	GracePeriod   time.Duration
	MaxRoyaltyBps uint16
	Admins        []common.Address
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Registry owns raffle records and drives the state machine. Every mutating
// operation runs under one mutex: checks, then state commit, then transfers.
// A failed transfer restores the pre-operation snapshot.
type Registry struct {
	mu         sync.Mutex
	repo       repository.RaffleRepository
	ledger     *ledger.Ledger
	settlement *settlement.Engine
	randomness RandomnessRequester
	royalties  RoyaltyResolver
	events     events.Publisher
	settings   Settings
	admins     map[common.Address]struct{}
	logger     zerolog.Logger
}

func NewRegistry(
	repo repository.RaffleRepository,
	ledger *ledger.Ledger,
	settlement *settlement.Engine,
	randomness RandomnessRequester,
	royalties RoyaltyResolver,
	publisher events.Publisher,
	settings Settings,
	logger zerolog.Logger,
) *Registry {
	if settings.Now == nil {
		settings.Now = time.Now
	}
	admins := make(map[common.Address]struct{}, len(settings.Admins))
	for _, a := range settings.Admins {
		admins[a] = struct{}{}
	}
	return &Registry{
		repo:       repo,
		ledger:     ledger,
		settlement: settlement,
		randomness: randomness,
		royalties:  royalties,
		events:     publisher,
		settings:   settings,
		admins:     admins,
		logger:     logger,
	}
}

var _ RaffleService = (*Registry)(nil)

func (s *Registry) now() time.Time {
	return s.settings.Now()
}

// load returns the raffle or, for an unknown id, a NONE-state placeholder
// that fails every state gate.
func (s *Registry) load(ctx context.Context, id uint64) (*models.Raffle, error) {
	r, err := s.repo.Get(ctx, id)
	if errors.Is(err, models.ErrRaffleNotFound) {
		return &models.Raffle{ID: id, State: models.StateNone}, nil
	}
	return r, err
}

func requireState(r *models.Raffle, allowed ...models.RaffleState) error {
	for _, st := range allowed {
		if r.State == st {
			return nil
		}
	}
	return fmt.Errorf("%w: raffle %d is %s", models.ErrInvalidRaffleState, r.ID, r.State)
}

func (s *Registry) commit(ctx context.Context, r *models.Raffle) error {
	r.UpdatedAt = s.now().UTC()
	return s.repo.Save(ctx, r)
}

// restore writes back a snapshot after a failed interaction.
func (s *Registry) restore(ctx context.Context, snapshot *models.Raffle) {
	if err := s.repo.Save(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Uint64("raffle_id", snapshot.ID).Msg("Failed to restore raffle snapshot")
	}
}

func (s *Registry) CreateRaffle(ctx context.Context, in CreateRaffleInput) (*models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled, err := s.repo.CreateEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, models.ErrCreateDisabled
	}
	if !in.Standard.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStandard, in.Standard)
	}
	if in.ExpiresAt <= s.now().Unix() {
		return nil, models.ErrInvalidExpiry
	}
	if in.Asset == (common.Address{}) || in.AssetID == nil || in.AssetID.Sign() < 0 {
		return nil, models.ErrInvalidAsset
	}
	if in.TicketPrice == nil || in.TicketPrice.Sign() <= 0 {
		return nil, models.ErrTicketPriceInvalid
	}
	// A sold-out raffle must be able to pay the worst-case fee and royalty.
	p := s.settlement.Params()
	soldOut := new(big.Int).Mul(in.TicketPrice, new(big.Int).SetUint64(uint64(s.ledger.MaxTickets())))
	if _, err := settlement.ComputeSplit(soldOut, s.settings.MaxRoyaltyBps, p.FeePercent, p.FlatFee); err != nil {
		return nil, fmt.Errorf("%w: sold-out proceeds do not cover fees", models.ErrTicketPriceInvalid)
	}

	now := s.now().UTC()
	r := &models.Raffle{
		Creator:     in.Creator,
		Asset:       in.Asset,
		AssetID:     new(big.Int).Set(in.AssetID),
		Standard:    in.Standard,
		TicketPrice: new(big.Int).Set(in.TicketPrice),
		ExpiresAt:   in.ExpiresAt,
		State:       models.StateActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.settlement.TakeCustody(ctx, r); err != nil {
		return nil, err
	}

	id, err := s.repo.NextID(ctx)
	if err == nil {
		r.ID = id
		err = s.repo.Save(ctx, r)
	}
	if err != nil {
		if rerr := s.settlement.ReturnAsset(ctx, r, r.Creator); rerr != nil {
			s.logger.Error().Err(rerr).Str("asset", r.Ref().String()).Msg("Failed to return asset after create failure")
		}
		return nil, err
	}

	s.logger.Info().Uint64("raffle_id", r.ID).Str("creator", r.Creator.Hex()).Str("asset", r.Ref().String()).Msg("Raffle created")
	s.events.Publish(ctx, models.RaffleCreatedEvent(r))
	return r, nil
}

func (s *Registry) BuyTickets(ctx context.Context, raffleID uint64, buyer common.Address, quantity uint32, payment *big.Int) (*PurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if err := requireState(r, models.StateActive); err != nil {
		return nil, err
	}
	if s.now().Unix() >= r.ExpiresAt {
		return nil, models.ErrRaffleExpired
	}

	snapshot := r.Clone()
	alloc, err := s.ledger.Purchase(ctx, r, buyer, quantity, payment)
	if err != nil {
		return nil, err
	}
	if alloc.SoldOut {
		r.State = models.StateClosed
	}

	revert := func() {
		if rerr := s.ledger.Revert(ctx, r, alloc); rerr != nil {
			s.logger.Error().Err(rerr).Uint64("raffle_id", raffleID).Msg("Failed to revert ticket purchase")
		}
		s.restore(ctx, snapshot)
	}

	if err := s.commit(ctx, r); err != nil {
		revert()
		return nil, err
	}
	if err := s.settlement.CollectPayment(ctx, buyer, payment); err != nil {
		revert()
		return nil, err
	}

	s.events.Publish(ctx, models.TicketPurchasedEvent(r.ID, alloc.Batch))
	if alloc.SoldOut {
		s.logger.Info().Uint64("raffle_id", r.ID).Msg("Raffle sold out")
		s.events.Publish(ctx, models.RaffleClosedEvent(r.ID, r.TicketsSold))
	}
	return &PurchaseResult{Raffle: r, Batch: alloc.Batch, Account: alloc.Account}, nil
}

func (s *Registry) DrawRaffle(ctx context.Context, raffleID uint64) (*models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if err := requireState(r, models.StateClosed); err != nil {
		return nil, err
	}

	requestID, err := s.randomness.Request(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.State = models.StatePendingDraw
	r.RandomnessRequestID = requestID
	r.DrawRequestedAt = s.now().Unix()
	if err := s.commit(ctx, r); err != nil {
		return nil, err
	}

	s.events.Publish(ctx, models.DrawRequestedEvent(r.ID, requestID))
	return r, nil
}

// HandleFulfillment is the bus subscriber that turns a random word into the
// winning ticket.
func (s *Registry) HandleFulfillment(ctx context.Context, f models.Fulfillment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Word == nil {
		return models.ErrNoRandomWords
	}
	r, err := s.load(ctx, f.RaffleID)
	if err != nil {
		return err
	}
	if err := requireState(r, models.StatePendingDraw); err != nil {
		return err
	}
	if f.RequestID != r.RandomnessRequestID {
		return fmt.Errorf("%w: raffle %d awaits request %d, got %d", models.ErrUnknownRequest, r.ID, r.RandomnessRequestID, f.RequestID)
	}
	if r.TicketsSold == 0 {
		return fmt.Errorf("%w: raffle %d has no tickets", models.ErrLedgerInvariant, r.ID)
	}

	r.WinningTicket = WinningTicket(f.Word, r.TicketsSold)
	r.State = models.StateDrawn
	if err := s.commit(ctx, r); err != nil {
		return err
	}

	s.logger.Info().Uint64("raffle_id", r.ID).Uint32("winning_ticket", r.WinningTicket).Msg("Raffle drawn")
	s.events.Publish(ctx, models.RaffleDrawnEvent(r.ID, f.RequestID, r.WinningTicket))
	return nil
}

// WinningTicket maps a random word onto [1, sold].
func WinningTicket(word *big.Int, sold uint32) uint32 {
	m := new(big.Int).Mod(word, new(big.Int).SetUint64(uint64(sold)))
	return uint32(m.Uint64()) + 1
}

func (s *Registry) Release(ctx context.Context, raffleID uint64, hint *uint32) (*models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if err := requireState(r, models.StateDrawn); err != nil {
		return nil, err
	}

	batch, err := s.ledger.ResolveOwner(ctx, r, r.WinningTicket, hint)
	if err != nil {
		return nil, err
	}

	snapshot := r.Clone()
	r.State = models.StateReleased
	r.Winner = batch.Owner
	if err := s.commit(ctx, r); err != nil {
		return nil, err
	}

	result, err := s.settlement.Settle(ctx, r, batch.Owner)
	if err != nil {
		s.restore(ctx, snapshot)
		return nil, err
	}

	s.events.Publish(ctx, models.RaffleReleasedEvent(result))
	return result, nil
}

func (s *Registry) RefundRaffle(ctx context.Context, raffleID uint64) (*models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if err := requireState(r, models.StateActive, models.StateClosed); err != nil {
		return nil, err
	}
	refundableAt := r.Expiry().Add(s.settings.GracePeriod)
	if s.now().Before(refundableAt) {
		return nil, fmt.Errorf("%w: refundable from %s", models.ErrTimeSinceExpiryInsufficientForRefund, refundableAt.UTC().Format(time.RFC3339))
	}

	r.State = models.StateRefunded
	if err := s.commit(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info().Uint64("raffle_id", r.ID).Msg("Raffle refunded")
	s.events.Publish(ctx, models.RaffleRefundedEvent(r.ID))
	return r, nil
}

func (s *Registry) RefundTickets(ctx context.Context, raffleID uint64, buyer common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if err := requireState(r, models.StateRefunded); err != nil {
		return nil, err
	}
	account, err := s.repo.Account(ctx, r.ID, buyer)
	if err != nil {
		return nil, err
	}
	if account.IsRefunded {
		return nil, models.ErrTicketsAlreadyRefunded
	}
	if account.TicketsOwned == 0 {
		return nil, models.ErrNoTicketsOwned
	}

	previous := account
	account.IsRefunded = true
	if err := s.repo.SaveAccount(ctx, account); err != nil {
		return nil, err
	}

	amount, err := s.settlement.RefundBatch(ctx, r, buyer, account.TicketsOwned)
	if err != nil {
		if rerr := s.repo.SaveAccount(ctx, previous); rerr != nil {
			s.logger.Error().Err(rerr).Uint64("raffle_id", r.ID).Str("buyer", buyer.Hex()).Msg("Failed to restore ticket account")
		}
		return nil, err
	}

	s.events.Publish(ctx, models.TicketRefundedEvent(r.ID, buyer, amount))
	return amount, nil
}

// ClaimRefundedAsset returns the escrowed prize to the creator once every
// ticket holder has taken their refund. Anyone may trigger it.
func (s *Registry) ClaimRefundedAsset(ctx context.Context, raffleID uint64) (*models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if err := requireState(r, models.StateRefunded); err != nil {
		return nil, err
	}
	if r.AssetReturned {
		return nil, fmt.Errorf("%w: asset of raffle %d already returned", models.ErrInvalidRaffleState, r.ID)
	}

	accounts, err := s.repo.Accounts(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	var outstanding int
	for _, a := range accounts {
		if a.TicketsOwned > 0 && !a.IsRefunded {
			outstanding++
		}
	}
	if outstanding > 0 {
		return nil, fmt.Errorf("%w: %d holders outstanding", models.ErrOutstandingRefunds, outstanding)
	}

	snapshot := r.Clone()
	r.AssetReturned = true
	if err := s.commit(ctx, r); err != nil {
		return nil, err
	}
	if err := s.settlement.ReturnAsset(ctx, r, r.Creator); err != nil {
		s.restore(ctx, snapshot)
		return nil, err
	}

	s.events.Publish(ctx, models.AssetReclaimedEvent(r.ID, r.Creator))
	return r, nil
}

func (s *Registry) IsAdmin(addr common.Address) bool {
	_, ok := s.admins[addr]
	return ok
}

func (s *Registry) ToggleCreateEnabled(ctx context.Context, caller common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsAdmin(caller) {
		return false, models.ErrNotAdmin
	}
	enabled, err := s.repo.CreateEnabled(ctx)
	if err != nil {
		return false, err
	}
	enabled = !enabled
	if err := s.repo.SetCreateEnabled(ctx, enabled); err != nil {
		return false, err
	}

	s.logger.Info().Str("admin", caller.Hex()).Bool("create_enabled", enabled).Msg("Raffle creation toggled")
	s.events.Publish(ctx, models.CreateEnabledToggledEvent(caller, enabled))
	return enabled, nil
}

func (s *Registry) CreateEnabled(ctx context.Context) (bool, error) {
	return s.repo.CreateEnabled(ctx)
}

func (s *Registry) GetRaffle(ctx context.Context, raffleID uint64) (*models.Raffle, error) {
	return s.repo.Get(ctx, raffleID)
}

func (s *Registry) ListRaffles(ctx context.Context, state *models.RaffleState) ([]*models.Raffle, error) {
	return s.repo.List(ctx, state)
}

func (s *Registry) GetUserInfo(ctx context.Context, raffleID uint64, owner common.Address) (models.UserTicketAccount, error) {
	if _, err := s.repo.Get(ctx, raffleID); err != nil {
		return models.UserTicketAccount{}, err
	}
	return s.repo.Account(ctx, raffleID, owner)
}

func (s *Registry) GetBatchInfo(ctx context.Context, raffleID uint64, index uint32) (models.TicketBatch, error) {
	if _, err := s.repo.Get(ctx, raffleID); err != nil {
		return models.TicketBatch{}, err
	}
	return s.repo.Batch(ctx, raffleID, index)
}

func (s *Registry) GetBatches(ctx context.Context, raffleID uint64) ([]models.TicketBatch, error) {
	if _, err := s.repo.Get(ctx, raffleID); err != nil {
		return nil, err
	}
	return s.repo.Batches(ctx, raffleID)
}

// VerifyLedger checks the raffle's batches against its sold count. It holds
// the registry lock so a concurrent purchase is never seen half written.
func (s *Registry) VerifyLedger(ctx context.Context, raffleID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.repo.Get(ctx, raffleID)
	if err != nil {
		return err
	}
	batches, err := s.repo.Batches(ctx, raffleID)
	if err != nil {
		return err
	}
	return ledger.Verify(batches, r.TicketsSold)
}

func (s *Registry) GetRoyaltyQuote(ctx context.Context, asset common.Address, assetID *big.Int) models.RoyaltyQuote {
	return s.royalties.Resolve(ctx, asset, assetID)
}

// QuoteSettlement previews the split paid on release. While the raffle is
// ACTIVE the preview assumes it sells out; afterwards it uses the tickets
// actually sold. Refunded raffles never settle. The winner is only known
// once the raffle is drawn.
func (s *Registry) QuoteSettlement(ctx context.Context, raffleID uint64) (*models.Settlement, error) {
	r, err := s.repo.Get(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if r.State == models.StateRefunded {
		return nil, fmt.Errorf("%w: raffle %d was refunded", models.ErrInvalidRaffleState, r.ID)
	}
	preview := r.Clone()
	if r.State == models.StateActive {
		preview.TicketsSold = s.ledger.MaxTickets()
	}
	var winner common.Address
	if r.State == models.StateDrawn || r.State == models.StateReleased {
		if r.Winner != (common.Address{}) {
			winner = r.Winner
		} else if b, err := s.ledger.ResolveOwner(ctx, r, r.WinningTicket, nil); err == nil {
			winner = b.Owner
		}
	}
	return s.settlement.Quote(ctx, preview, winner)
}
