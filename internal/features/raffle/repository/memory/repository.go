package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository"
)

type accountKey struct {
	raffleID uint64
	owner    common.Address
}

type memoryRepository struct {
	mu            sync.RWMutex
	lastID        uint64
	raffles       map[uint64]*models.Raffle
	batches       map[uint64][]models.TicketBatch
	accounts      map[accountKey]models.UserTicketAccount
	accountOrder  map[uint64][]common.Address
	requests      map[uint64]uint64
	createEnabled bool
	flagSeeded    bool
}

// NewMemoryRepository returns an in-process store used in tests and local runs.
func NewMemoryRepository() repository.Store {
	return &memoryRepository{
		raffles:      make(map[uint64]*models.Raffle),
		batches:      make(map[uint64][]models.TicketBatch),
		accounts:     make(map[accountKey]models.UserTicketAccount),
		accountOrder: make(map[uint64][]common.Address),
		requests:     make(map[uint64]uint64),
	}
}

func (r *memoryRepository) NextID(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	return r.lastID, nil
}

func (r *memoryRepository) Save(ctx context.Context, raffle *models.Raffle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raffles[raffle.ID] = raffle.Clone()
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id uint64) (*models.Raffle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raffle, ok := r.raffles[id]
	if !ok {
		return nil, models.ErrRaffleNotFound
	}
	return raffle.Clone(), nil
}

func (r *memoryRepository) List(ctx context.Context, state *models.RaffleState) ([]*models.Raffle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Raffle, 0, len(r.raffles))
	for _, raffle := range r.raffles {
		if state != nil && raffle.State != *state {
			continue
		}
		out = append(out, raffle.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) AppendBatch(ctx context.Context, raffleID uint64, batch models.TicketBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[raffleID] = append(r.batches[raffleID], batch)
	return nil
}

func (r *memoryRepository) TruncateBatches(ctx context.Context, raffleID uint64, n uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := r.batches[raffleID]; uint32(len(b)) > n {
		r.batches[raffleID] = b[:n:n]
	}
	return nil
}

func (r *memoryRepository) Batches(ctx context.Context, raffleID uint64) ([]models.TicketBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.batches[raffleID]
	out := make([]models.TicketBatch, len(src))
	copy(out, src)
	return out, nil
}

func (r *memoryRepository) Batch(ctx context.Context, raffleID uint64, index uint32) (models.TicketBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.batches[raffleID]
	if index >= uint32(len(src)) {
		return models.TicketBatch{}, models.ErrBatchNotFound
	}
	return src[index], nil
}

func (r *memoryRepository) BatchCount(ctx context.Context, raffleID uint64) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint32(len(r.batches[raffleID])), nil
}

func (r *memoryRepository) Account(ctx context.Context, raffleID uint64, owner common.Address) (models.UserTicketAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.accounts[accountKey{raffleID, owner}]; ok {
		return a, nil
	}
	return models.UserTicketAccount{RaffleID: raffleID, Owner: owner}, nil
}

func (r *memoryRepository) SaveAccount(ctx context.Context, account models.UserTicketAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := accountKey{account.RaffleID, account.Owner}
	if _, ok := r.accounts[key]; !ok {
		r.accountOrder[account.RaffleID] = append(r.accountOrder[account.RaffleID], account.Owner)
	}
	r.accounts[key] = account
	return nil
}

func (r *memoryRepository) Accounts(ctx context.Context, raffleID uint64) ([]models.UserTicketAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owners := r.accountOrder[raffleID]
	out := make([]models.UserTicketAccount, 0, len(owners))
	for _, owner := range owners {
		out = append(out, r.accounts[accountKey{raffleID, owner}])
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0 })
	return out, nil
}

func (r *memoryRepository) CreateEnabled(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.createEnabled, nil
}

func (r *memoryRepository) SetCreateEnabled(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createEnabled = enabled
	r.flagSeeded = true
	return nil
}

func (r *memoryRepository) InitCreateEnabled(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.flagSeeded {
		r.createEnabled = enabled
		r.flagSeeded = true
	}
	return nil
}

func (r *memoryRepository) PutRequest(ctx context.Context, requestID, raffleID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[requestID] = raffleID
	return nil
}

func (r *memoryRepository) TakeRequest(ctx context.Context, requestID uint64) (uint64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raffleID, ok := r.requests[requestID]
	if ok {
		delete(r.requests, requestID)
	}
	return raffleID, ok, nil
}
