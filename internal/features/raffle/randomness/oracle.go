package randomness

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"raffle-engine/internal/utils/random"
)

var errNotBound = errors.New("oracle has no fulfiller bound")

// MockCoordinator hands out sequential request ids starting at 1 and only
// answers when told to, like a VRF coordinator mock.
type MockCoordinator struct {
	mu        sync.Mutex
	lastID    uint64
	requests  []VRFRequest
	fulfiller Fulfiller
}

func NewMockCoordinator() *MockCoordinator {
	return &MockCoordinator{}
}

func (m *MockCoordinator) Bind(f Fulfiller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fulfiller = f
}

func (m *MockCoordinator) RequestRandomWords(ctx context.Context, req VRFRequest) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	m.requests = append(m.requests, req)
	return m.lastID, nil
}

// LastRequestID is 0 before the first request.
func (m *MockCoordinator) LastRequestID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastID
}

func (m *MockCoordinator) Requests() []VRFRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]VRFRequest(nil), m.requests...)
}

// FulfillRandomWords answers requestID with the given words.
func (m *MockCoordinator) FulfillRandomWords(ctx context.Context, requestID uint64, words ...*big.Int) error {
	m.mu.Lock()
	f := m.fulfiller
	m.mu.Unlock()
	if f == nil {
		return errNotBound
	}
	return f.Fulfill(ctx, requestID, words)
}

// LocalOracle answers every request with crypto/rand words after a delay,
// always from its own goroutine.
type LocalOracle struct {
	mu        sync.Mutex
	lastID    uint64
	delay     time.Duration
	fulfiller Fulfiller
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
}

func NewLocalOracle(delay time.Duration, logger zerolog.Logger) *LocalOracle {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalOracle{
		delay:  delay,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

func (o *LocalOracle) Bind(f Fulfiller) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fulfiller = f
}

func (o *LocalOracle) RequestRandomWords(ctx context.Context, req VRFRequest) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fulfiller == nil {
		return 0, errNotBound
	}
	o.lastID++
	requestID := o.lastID
	f := o.fulfiller
	n := req.NumWords

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timer := time.NewTimer(o.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-o.ctx.Done():
			return
		}

		words, err := random.Words(n)
		if err != nil {
			o.logger.Error().Err(err).Uint64("request_id", requestID).Msg("Failed to generate random words")
			return
		}
		if err := f.Fulfill(o.ctx, requestID, words); err != nil {
			o.logger.Error().Err(err).Uint64("request_id", requestID).Msg("Fulfillment rejected")
		}
	}()

	return requestID, nil
}

// Stop abandons pending deliveries and waits for in-flight ones.
func (o *LocalOracle) Stop() {
	o.cancel()
	o.wg.Wait()
}

// ExternalOracle stands in for an off-process oracle. It only allocates
// request ids; the oracle learns about requests from the draw_requested
// event and answers through the HTTP callback. Ids are random so that they
// stay unique across restarts.
type ExternalOracle struct {
	logger zerolog.Logger
}

func NewExternalOracle(logger zerolog.Logger) *ExternalOracle {
	return &ExternalOracle{logger: logger}
}

func (o *ExternalOracle) RequestRandomWords(ctx context.Context, req VRFRequest) (uint64, error) {
	id, err := random.Uint64()
	if err != nil {
		return 0, err
	}
	o.logger.Info().
		Uint64("request_id", id).
		Str("key_hash", req.KeyHash).
		Uint64("subscription_id", req.SubscriptionID).
		Uint32("num_words", req.NumWords).
		Msg("Awaiting external fulfillment")
	return id, nil
}
