package randomness

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	go_redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository/memory"
)

type collector struct {
	mu   sync.Mutex
	got  []models.Fulfillment
	fail error
}

func (c *collector) handle(ctx context.Context, f models.Fulfillment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.got = append(c.got, f)
	return nil
}

func (c *collector) received() []models.Fulfillment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Fulfillment(nil), c.got...)
}

func TestAdapter_RequestAndFulfill(t *testing.T) {
	ctx := context.Background()
	coordinator := NewMockCoordinator()
	bus := NewMemoryBus()
	sink := &collector{}
	bus.Subscribe(sink.handle)
	a := NewAdapter(coordinator, memory.NewMemoryRepository(), bus, VRFRequest{KeyHash: "0xabc"}, zerolog.Nop())

	first, err := a.Request(ctx, 11)
	require.NoError(t, err)
	second, err := a.Request(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	reqs := coordinator.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, uint32(1), reqs[0].NumWords)
	assert.Equal(t, "0xabc", reqs[0].KeyHash)

	// only the first word is used
	require.NoError(t, coordinator.FulfillRandomWords(ctx, second, big.NewInt(99), big.NewInt(1)))
	require.NoError(t, coordinator.FulfillRandomWords(ctx, first, big.NewInt(5)))

	got := sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(12), got[0].RaffleID)
	assert.Equal(t, int64(99), got[0].Word.Int64())
	assert.Equal(t, uint64(11), got[1].RaffleID)
	assert.Equal(t, first, got[1].RequestID)
}

func TestAdapter_Rejections(t *testing.T) {
	ctx := context.Background()
	coordinator := NewMockCoordinator()
	a := NewAdapter(coordinator, memory.NewMemoryRepository(), NewMemoryBus(), VRFRequest{}, zerolog.Nop())

	err := a.Fulfill(ctx, 1, []*big.Int{big.NewInt(1)})
	assert.ErrorIs(t, err, models.ErrUnknownRequest)

	id, err := a.Request(ctx, 3)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Fulfill(ctx, id, nil), models.ErrNoRandomWords)
	assert.ErrorIs(t, a.Fulfill(ctx, id, []*big.Int{nil}), models.ErrNoRandomWords)

	// the mapping survived the rejected calls
	require.NoError(t, a.Fulfill(ctx, id, []*big.Int{big.NewInt(1)}))
	assert.ErrorIs(t, a.Fulfill(ctx, id, []*big.Int{big.NewInt(1)}), models.ErrUnknownRequest)
}

func TestAdapter_RestoresMappingWhenHandlerFails(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	sink := &collector{fail: errors.New("registry unavailable")}
	bus.Subscribe(sink.handle)
	a := NewAdapter(NewMockCoordinator(), memory.NewMemoryRepository(), bus, VRFRequest{}, zerolog.Nop())

	id, err := a.Request(ctx, 8)
	require.NoError(t, err)

	err = a.Fulfill(ctx, id, []*big.Int{big.NewInt(4)})
	require.Error(t, err)

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	require.NoError(t, a.Fulfill(ctx, id, []*big.Int{big.NewInt(4)}))
	assert.Len(t, sink.received(), 1)
}

func TestAdapter_DropsMappingWhenRaffleRejects(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	sink := &collector{fail: models.ErrInvalidRaffleState}
	bus.Subscribe(sink.handle)
	a := NewAdapter(NewMockCoordinator(), memory.NewMemoryRepository(), bus, VRFRequest{}, zerolog.Nop())

	id, err := a.Request(ctx, 8)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Fulfill(ctx, id, []*big.Int{big.NewInt(4)}), models.ErrInvalidRaffleState)
	assert.ErrorIs(t, a.Fulfill(ctx, id, []*big.Int{big.NewInt(4)}), models.ErrUnknownRequest)
}

func TestMemoryBus_JoinsHandlerErrors(t *testing.T) {
	bus := NewMemoryBus()
	errA := errors.New("a")
	errB := errors.New("b")
	calls := 0
	bus.Subscribe(func(ctx context.Context, f models.Fulfillment) error { calls++; return errA })
	bus.Subscribe(func(ctx context.Context, f models.Fulfillment) error { calls++; return nil })
	bus.Subscribe(func(ctx context.Context, f models.Fulfillment) error { calls++; return errB })

	err := bus.Publish(context.Background(), models.Fulfillment{RaffleID: 1, Word: big.NewInt(1)})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 3, calls)

	assert.NoError(t, NewMemoryBus().Publish(context.Background(), models.Fulfillment{}))
}

func TestMockCoordinator_Unbound(t *testing.T) {
	m := NewMockCoordinator()
	assert.Zero(t, m.LastRequestID())
	assert.Error(t, m.FulfillRandomWords(context.Background(), 1, big.NewInt(1)))
}

func TestLocalOracle_DeliversAsynchronously(t *testing.T) {
	ctx := context.Background()
	oracle := NewLocalOracle(time.Millisecond, zerolog.Nop())
	defer oracle.Stop()

	bus := NewMemoryBus()
	sink := &collector{}
	bus.Subscribe(sink.handle)
	a := NewAdapter(oracle, memory.NewMemoryRepository(), bus, VRFRequest{}, zerolog.Nop())

	id, err := a.Request(ctx, 21)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)
	f := sink.received()[0]
	assert.Equal(t, uint64(21), f.RaffleID)
	assert.Equal(t, id, f.RequestID)
	assert.NotNil(t, f.Word)
}

func TestLocalOracle_StopAbandonsPending(t *testing.T) {
	oracle := NewLocalOracle(time.Hour, zerolog.Nop())
	_, err := oracle.RequestRandomWords(context.Background(), VRFRequest{NumWords: 1})
	assert.Error(t, err)

	sink := &collector{}
	bus := NewMemoryBus()
	bus.Subscribe(sink.handle)
	a := NewAdapter(oracle, memory.NewMemoryRepository(), bus, VRFRequest{}, zerolog.Nop())
	_, err = a.Request(context.Background(), 1)
	require.NoError(t, err)

	oracle.Stop()
	assert.Empty(t, sink.received())
}

func TestExternalOracle_RandomIDs(t *testing.T) {
	oracle := NewExternalOracle(zerolog.Nop())
	seen := map[uint64]bool{}
	for i := 0; i < 50; i++ {
		id, err := oracle.RequestRandomWords(context.Background(), VRFRequest{NumWords: 1})
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.Less(t, id, uint64(1)<<62)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func newStreamBus(t *testing.T) (*StreamBus, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := go_redis.NewClient(&go_redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStreamBus(client, "test-consumer", zerolog.Nop()), mr
}

func TestStreamBus_PublishAndProcess(t *testing.T) {
	ctx := context.Background()
	bus, _ := newStreamBus(t)
	require.NoError(t, bus.EnsureGroup(ctx))
	require.NoError(t, bus.EnsureGroup(ctx))

	sink := &collector{}
	bus.Subscribe(sink.handle)

	word, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)
	require.NoError(t, bus.Publish(ctx, models.Fulfillment{RaffleID: 4, RequestID: 77, Word: word}))
	require.NoError(t, bus.Publish(ctx, models.Fulfillment{RaffleID: 5, RequestID: 78, Word: big.NewInt(3)}))

	n, err := bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].RaffleID)
	assert.Equal(t, uint64(77), got[0].RequestID)
	assert.Zero(t, word.Cmp(got[0].Word))

	// acknowledged entries are not redelivered
	n, err = bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStreamBus_RejectedFulfillmentIsAcked(t *testing.T) {
	ctx := context.Background()
	bus, _ := newStreamBus(t)
	require.NoError(t, bus.EnsureGroup(ctx))

	sink := &collector{fail: fmt.Errorf("%w: stale", models.ErrUnknownRequest)}
	bus.Subscribe(sink.handle)
	require.NoError(t, bus.Publish(ctx, models.Fulfillment{RaffleID: 1, RequestID: 1, Word: big.NewInt(1)}))

	n, err := bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStreamBus_TransientFailureIsRedelivered(t *testing.T) {
	ctx := context.Background()
	bus, _ := newStreamBus(t)
	bus.WithRetry(0, 5)

	sink := &collector{fail: errors.New("connection refused")}
	bus.Subscribe(sink.handle)
	store := memory.NewMemoryRepository()
	coordinator := NewMockCoordinator()
	a := NewAdapter(coordinator, store, bus, VRFRequest{}, zerolog.Nop())
	require.NoError(t, bus.EnsureGroup(ctx))

	id, err := a.Request(ctx, 9)
	require.NoError(t, err)
	require.NoError(t, coordinator.FulfillRandomWords(ctx, id, big.NewInt(42)))

	// the mapping is consumed once the word is on the stream
	_, ok, err := store.TakeRequest(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.received())

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	n, err = bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(9), got[0].RaffleID)
	assert.Equal(t, int64(42), got[0].Word.Int64())

	n, err = bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStreamBus_PendingEntryWaitsForClaimIdle(t *testing.T) {
	ctx := context.Background()
	bus, _ := newStreamBus(t)
	bus.WithRetry(time.Hour, 5)
	require.NoError(t, bus.EnsureGroup(ctx))

	sink := &collector{fail: errors.New("timeout")}
	bus.Subscribe(sink.handle)
	require.NoError(t, bus.Publish(ctx, models.Fulfillment{RaffleID: 2, RequestID: 3, Word: big.NewInt(1)}))

	_, err := bus.ProcessPending(ctx)
	require.NoError(t, err)

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	n, err := bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.received())

	pending, err := bus.rdb.XPending(ctx, FulfillmentStream, consumerGroup).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestStreamBus_DeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	bus, _ := newStreamBus(t)
	bus.WithRetry(0, 3)
	require.NoError(t, bus.EnsureGroup(ctx))

	calls := 0
	bus.Subscribe(func(ctx context.Context, f models.Fulfillment) error {
		calls++
		return errors.New("storage down")
	})
	require.NoError(t, bus.Publish(ctx, models.Fulfillment{RaffleID: 6, RequestID: 7, Word: big.NewInt(8)}))

	acked := 0
	for i := 0; i < 3; i++ {
		n, err := bus.ProcessPending(ctx)
		require.NoError(t, err)
		acked += n
	}
	assert.Equal(t, 1, acked)
	assert.Equal(t, 3, calls)

	dead, err := bus.rdb.XRange(ctx, DeadLetterStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "6", dead[0].Values["raffle_id"])
	assert.Equal(t, "storage down", dead[0].Values["error"])

	pending, err := bus.rdb.XPending(ctx, FulfillmentStream, consumerGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestStreamBus_MalformedEntryIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	bus, _ := newStreamBus(t)
	require.NoError(t, bus.EnsureGroup(ctx))
	sink := &collector{}
	bus.Subscribe(sink.handle)

	require.NoError(t, bus.rdb.XAdd(ctx, &go_redis.XAddArgs{
		Stream: FulfillmentStream,
		Values: map[string]interface{}{"raffle_id": "x"},
	}).Err())

	n, err := bus.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, sink.received())

	dead, err := bus.rdb.XLen(ctx, DeadLetterStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func TestDecodeFulfillment(t *testing.T) {
	f, err := decodeFulfillment(map[string]interface{}{"raffle_id": "3", "request_id": "9", "word": "12"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.RaffleID)
	assert.Equal(t, uint64(9), f.RequestID)
	assert.Equal(t, int64(12), f.Word.Int64())

	bad := []map[string]interface{}{
		{"request_id": "9", "word": "12"},
		{"raffle_id": "x", "request_id": "9", "word": "12"},
		{"raffle_id": "3", "request_id": "9"},
		{"raffle_id": "3", "request_id": "9", "word": "0xff"},
	}
	for _, values := range bad {
		_, err := decodeFulfillment(values)
		assert.Error(t, err, "%v", values)
	}
}
