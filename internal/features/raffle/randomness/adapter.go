package randomness

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository"
)

// VRFRequest carries the oracle parameters of one randomness request.
type VRFRequest struct {
	KeyHash          string
	SubscriptionID   uint64
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
}

// Oracle issues randomness requests and later answers them through a Fulfiller.
type Oracle interface {
	RequestRandomWords(ctx context.Context, req VRFRequest) (uint64, error)
}

// Fulfiller receives oracle answers.
type Fulfiller interface {
	Fulfill(ctx context.Context, requestID uint64, words []*big.Int) error
}

// binder is implemented by oracles that deliver answers in-process.
type binder interface {
	Bind(f Fulfiller)
}

// Adapter correlates request ids with raffles and forwards fulfilments to
// the bus. It never calls the registry directly.
type Adapter struct {
	mu     sync.Mutex
	oracle Oracle
	store  repository.RequestStore
	bus    Bus
	params VRFRequest
	logger zerolog.Logger
}

func NewAdapter(oracle Oracle, store repository.RequestStore, bus Bus, params VRFRequest, logger zerolog.Logger) *Adapter {
	if params.NumWords == 0 {
		params.NumWords = 1
	}
	a := &Adapter{
		oracle: oracle,
		store:  store,
		bus:    bus,
		params: params,
		logger: logger,
	}
	if b, ok := oracle.(binder); ok {
		b.Bind(a)
	}
	return a
}

// Request asks the oracle for one word for raffleID and records the mapping.
func (a *Adapter) Request(ctx context.Context, raffleID uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	requestID, err := a.oracle.RequestRandomWords(ctx, a.params)
	if err != nil {
		return 0, fmt.Errorf("randomness request failed: %w", err)
	}
	if err := a.store.PutRequest(ctx, requestID, raffleID); err != nil {
		return 0, fmt.Errorf("failed to record randomness request: %w", err)
	}

	a.logger.Info().Uint64("raffle_id", raffleID).Uint64("request_id", requestID).Msg("Randomness requested")
	return requestID, nil
}

// Fulfill consumes the mapping for requestID and publishes the first word.
// The mapping is only held under the adapter lock, never while publishing.
// When publishing fails for a reason other than a raffle rule the mapping is
// put back so the oracle can retry.
func (a *Adapter) Fulfill(ctx context.Context, requestID uint64, words []*big.Int) error {
	if len(words) == 0 || words[0] == nil {
		return models.ErrNoRandomWords
	}

	a.mu.Lock()
	raffleID, ok, err := a.store.TakeRequest(ctx, requestID)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrUnknownRequest, requestID)
	}

	f := models.Fulfillment{RaffleID: raffleID, RequestID: requestID, Word: new(big.Int).Set(words[0])}
	if err := a.bus.Publish(ctx, f); err != nil {
		if models.IsRejection(err) {
			// the raffle no longer waits for this word, a retry cannot help
			return err
		}
		if perr := a.store.PutRequest(ctx, requestID, raffleID); perr != nil {
			a.logger.Error().Err(perr).Uint64("request_id", requestID).Msg("Failed to restore randomness request")
		}
		return err
	}

	a.logger.Info().Uint64("raffle_id", raffleID).Uint64("request_id", requestID).Msg("Randomness fulfilled")
	return nil
}
