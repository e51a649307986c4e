package repository

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"raffle-engine/internal/features/raffle/models"
)

// RaffleRepository persists raffles, their ticket batches and per-buyer
// accounts. Implementations must be safe for concurrent readers; writes are
// serialised by the registry.
type RaffleRepository interface {
	NextID(ctx context.Context) (uint64, error)
	Save(ctx context.Context, raffle *models.Raffle) error
	// Get returns models.ErrRaffleNotFound for an unknown id.
	Get(ctx context.Context, id uint64) (*models.Raffle, error)
	// List returns raffles ordered by id; a nil state means all of them.
	List(ctx context.Context, state *models.RaffleState) ([]*models.Raffle, error)

	AppendBatch(ctx context.Context, raffleID uint64, batch models.TicketBatch) error
	// TruncateBatches keeps the first n batches and drops the rest.
	TruncateBatches(ctx context.Context, raffleID uint64, n uint32) error
	Batches(ctx context.Context, raffleID uint64) ([]models.TicketBatch, error)
	// Batch returns models.ErrBatchNotFound when the index is out of range.
	Batch(ctx context.Context, raffleID uint64, index uint32) (models.TicketBatch, error)
	BatchCount(ctx context.Context, raffleID uint64) (uint32, error)

	// Account returns a zero-valued account for a buyer that never bought.
	Account(ctx context.Context, raffleID uint64, owner common.Address) (models.UserTicketAccount, error)
	SaveAccount(ctx context.Context, account models.UserTicketAccount) error
	Accounts(ctx context.Context, raffleID uint64) ([]models.UserTicketAccount, error)

	CreateEnabled(ctx context.Context) (bool, error)
	SetCreateEnabled(ctx context.Context, enabled bool) error
	// InitCreateEnabled seeds the flag from configuration unless it was
	// already persisted by an earlier toggle.
	InitCreateEnabled(ctx context.Context, enabled bool) error
}

// RequestStore correlates randomness request ids with raffle ids.
type RequestStore interface {
	PutRequest(ctx context.Context, requestID, raffleID uint64) error
	// TakeRequest removes the mapping and reports whether it existed.
	TakeRequest(ctx context.Context, requestID uint64) (uint64, bool, error)
}

// Store is the full storage surface one backend provides.
type Store interface {
	RaffleRepository
	RequestStore
}
