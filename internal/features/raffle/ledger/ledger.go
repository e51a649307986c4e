package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository"
)

// Allocation is the result of one purchase. Previous is the buyer's account
// before the purchase, kept so the purchase can be reverted.
type Allocation struct {
	Batch    models.TicketBatch
	Account  models.UserTicketAccount
	Previous models.UserTicketAccount
	SoldOut  bool
}

// Ledger allocates contiguous ticket ranges and resolves ticket owners.
// It is the only writer of batches and of Raffle.TicketsSold.
type Ledger struct {
	repo       repository.RaffleRepository
	maxTickets uint32
}

func New(repo repository.RaffleRepository, maxTickets uint32) *Ledger {
	return &Ledger{repo: repo, maxTickets: maxTickets}
}

func (l *Ledger) MaxTickets() uint32 {
	return l.maxTickets
}

// Purchase validates and records a purchase. On success r.TicketsSold is
// advanced; the caller persists r.
func (l *Ledger) Purchase(ctx context.Context, r *models.Raffle, buyer common.Address, quantity uint32, payment *big.Int) (*Allocation, error) {
	if quantity == 0 {
		return nil, models.ErrTicketAmountInvalid
	}
	var remaining uint32
	if r.TicketsSold < l.maxTickets {
		remaining = l.maxTickets - r.TicketsSold
	}
	if quantity > remaining {
		return nil, fmt.Errorf("%w: %d requested, %d remaining", models.ErrTicketAmountInvalid, quantity, remaining)
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(uint64(quantity)), r.TicketPrice)
	if payment == nil || payment.Cmp(cost) != 0 {
		return nil, fmt.Errorf("%w: expected %s wei", models.ErrMsgValueInvalid, cost)
	}

	index, err := l.repo.BatchCount(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	prev, err := l.repo.Account(ctx, r.ID, buyer)
	if err != nil {
		return nil, err
	}

	batch := models.TicketBatch{
		Index:       index,
		Owner:       buyer,
		StartTicket: r.TicketsSold + 1,
		EndTicket:   r.TicketsSold + quantity,
	}
	account := prev
	account.TicketsOwned += quantity

	if err := l.repo.AppendBatch(ctx, r.ID, batch); err != nil {
		return nil, err
	}
	if err := l.repo.SaveAccount(ctx, account); err != nil {
		_ = l.repo.TruncateBatches(ctx, r.ID, index)
		return nil, err
	}
	r.TicketsSold += quantity

	return &Allocation{
		Batch:    batch,
		Account:  account,
		Previous: prev,
		SoldOut:  r.TicketsSold >= l.maxTickets,
	}, nil
}

// Revert undoes a purchase recorded by Purchase.
func (l *Ledger) Revert(ctx context.Context, r *models.Raffle, a *Allocation) error {
	if err := l.repo.TruncateBatches(ctx, r.ID, a.Batch.Index); err != nil {
		return err
	}
	if err := l.repo.SaveAccount(ctx, a.Previous); err != nil {
		return err
	}
	r.TicketsSold -= a.Batch.Size()
	return nil
}

// ResolveOwner finds the batch holding ticket. hint, when set, is a batch
// index tried first and verified before use.
func (l *Ledger) ResolveOwner(ctx context.Context, r *models.Raffle, ticket uint32, hint *uint32) (models.TicketBatch, error) {
	if ticket == 0 || ticket > r.TicketsSold {
		return models.TicketBatch{}, fmt.Errorf("%w: ticket %d outside [1, %d]", models.ErrLedgerInvariant, ticket, r.TicketsSold)
	}

	if hint != nil {
		b, err := l.repo.Batch(ctx, r.ID, *hint)
		if err == nil && b.Contains(ticket) {
			return b, nil
		}
	}

	batches, err := l.repo.Batches(ctx, r.ID)
	if err != nil {
		return models.TicketBatch{}, err
	}
	i, ok := FindBatch(batches, ticket)
	if !ok {
		return models.TicketBatch{}, fmt.Errorf("%w: no batch holds ticket %d of raffle %d", models.ErrLedgerInvariant, ticket, r.ID)
	}
	return batches[i], nil
}

// FindBatch binary-searches batches ordered by StartTicket.
func FindBatch(batches []models.TicketBatch, ticket uint32) (int, bool) {
	i := sort.Search(len(batches), func(i int) bool { return batches[i].EndTicket >= ticket })
	if i < len(batches) && batches[i].Contains(ticket) {
		return i, true
	}
	return 0, false
}

// Verify checks that batches are indexed 0..n-1, contiguous from ticket 1,
// non-empty, and end at sold.
func Verify(batches []models.TicketBatch, sold uint32) error {
	var next uint32 = 1
	for i, b := range batches {
		if b.Index != uint32(i) {
			return fmt.Errorf("%w: batch at position %d has index %d", models.ErrLedgerInvariant, i, b.Index)
		}
		if b.StartTicket != next {
			return fmt.Errorf("%w: batch %d starts at %d, expected %d", models.ErrLedgerInvariant, i, b.StartTicket, next)
		}
		if b.EndTicket < b.StartTicket {
			return fmt.Errorf("%w: batch %d is empty", models.ErrLedgerInvariant, i)
		}
		next = b.EndTicket + 1
	}
	if next-1 != sold {
		return fmt.Errorf("%w: batches cover %d tickets, raffle sold %d", models.ErrLedgerInvariant, next-1, sold)
	}
	return nil
}
