package randomness

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	go_redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"raffle-engine/internal/features/raffle/models"
)

const (
	FulfillmentStream = "raffle:vrf:fulfillments"
	DeadLetterStream  = "raffle:vrf:fulfillments:dead"
	consumerGroup     = "raffle_engine_consumers"

	defaultClaimIdle   = 30 * time.Second
	defaultMaxAttempts = 5
)

// StreamBus publishes fulfilments to a redis stream and consumes them with a
// consumer group.
//
// An entry is acknowledged once every handler accepted it or rejected it
// with a raffle rule (models.IsRejection). Other failures leave the entry
// pending; it is reclaimed with XAUTOCLAIM after claimIdle and retried up
// to maxAttempts times, then moved to DeadLetterStream.
type StreamBus struct {
	rdb      *go_redis.Client
	consumer string
	logger   zerolog.Logger

	claimIdle   time.Duration
	maxAttempts int64

	mu       sync.RWMutex
	handlers []Handler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewStreamBus(rdb *go_redis.Client, consumer string, logger zerolog.Logger) *StreamBus {
	return &StreamBus{
		rdb:         rdb,
		consumer:    consumer,
		logger:      logger,
		claimIdle:   defaultClaimIdle,
		maxAttempts: defaultMaxAttempts,
	}
}

// WithRetry overrides how long a failed entry stays pending before it is
// reclaimed and how many deliveries it gets before dead-lettering.
func (b *StreamBus) WithRetry(claimIdle time.Duration, maxAttempts int) *StreamBus {
	if claimIdle >= 0 {
		b.claimIdle = claimIdle
	}
	if maxAttempts > 0 {
		b.maxAttempts = int64(maxAttempts)
	}
	return b
}

func (b *StreamBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *StreamBus) Publish(ctx context.Context, f models.Fulfillment) error {
	err := b.rdb.XAdd(ctx, &go_redis.XAddArgs{
		Stream: FulfillmentStream,
		Values: map[string]interface{}{
			"raffle_id":  strconv.FormatUint(f.RaffleID, 10),
			"request_id": strconv.FormatUint(f.RequestID, 10),
			"word":       f.Word.String(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish fulfillment: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (b *StreamBus) EnsureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, FulfillmentStream, consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("error creating consumer group: %w", err)
	}
	return nil
}

// Start runs the consumer loop until Stop.
func (b *StreamBus) Start(ctx context.Context) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}
	ctx, b.cancel = context.WithCancel(ctx)

	b.logger.Info().Str("stream", FulfillmentStream).Msg("Starting fulfillment stream consumer")
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.logger.Info().Msg("Stopping fulfillment stream consumer")
				return
			default:
			}
			if _, err := b.poll(ctx, 5*time.Second); err != nil && ctx.Err() == nil {
				b.logger.Error().Err(err).Msg("Error reading from stream")
				time.Sleep(time.Second) // backoff on error
			}
		}
	}()
	return nil
}

func (b *StreamBus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// ProcessPending handles whatever is queued or due for retry without
// blocking and returns the number of entries acknowledged.
func (b *StreamBus) ProcessPending(ctx context.Context) (int, error) {
	return b.poll(ctx, -1)
}

func (b *StreamBus) poll(ctx context.Context, block time.Duration) (int, error) {
	acked, err := b.reclaim(ctx)
	if err != nil {
		return acked, err
	}

	entries, err := b.rdb.XReadGroup(ctx, &go_redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: b.consumer,
		Streams:  []string{FulfillmentStream, ">"},
		Count:    16,
		Block:    block,
	}).Result()
	if err == go_redis.Nil {
		return acked, nil
	}
	if err != nil {
		return acked, err
	}

	for _, stream := range entries {
		for _, msg := range stream.Messages {
			if b.handleMessage(ctx, msg, 1) {
				acked++
			}
		}
	}
	return acked, nil
}

// reclaim takes over entries that stayed pending longer than claimIdle,
// whichever consumer held them, and delivers them again.
func (b *StreamBus) reclaim(ctx context.Context) (int, error) {
	acked := 0
	start := "0-0"
	for {
		msgs, next, err := b.rdb.XAutoClaim(ctx, &go_redis.XAutoClaimArgs{
			Stream:   FulfillmentStream,
			Group:    consumerGroup,
			Consumer: b.consumer,
			MinIdle:  b.claimIdle,
			Start:    start,
			Count:    16,
		}).Result()
		if err != nil {
			return acked, fmt.Errorf("failed to reclaim pending fulfillments: %w", err)
		}
		if len(msgs) == 0 {
			return acked, nil
		}

		counts, err := b.deliveryCounts(ctx, msgs)
		if err != nil {
			return acked, err
		}
		for _, msg := range msgs {
			if b.handleMessage(ctx, msg, counts[msg.ID]) {
				acked++
			}
		}

		if next == "0-0" || next == "" {
			return acked, nil
		}
		start = next
	}
}

func (b *StreamBus) deliveryCounts(ctx context.Context, msgs []go_redis.XMessage) (map[string]int64, error) {
	pending, err := b.rdb.XPendingExt(ctx, &go_redis.XPendingExtArgs{
		Stream:   FulfillmentStream,
		Group:    consumerGroup,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(msgs)),
		Consumer: b.consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending fulfillments: %w", err)
	}
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts, nil
}

// handleMessage runs the handlers and reports whether the entry was acknowledged.
func (b *StreamBus) handleMessage(ctx context.Context, msg go_redis.XMessage, attempt int64) bool {
	f, err := decodeFulfillment(msg.Values)
	if err != nil {
		b.logger.Error().Err(err).Interface("values", msg.Values).Msg("Invalid fulfillment entry")
		return b.deadLetter(ctx, msg, err)
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var retry error
	for _, h := range handlers {
		err := h(ctx, f)
		switch {
		case err == nil:
		case models.IsRejection(err):
			b.logger.Warn().Err(err).
				Uint64("raffle_id", f.RaffleID).
				Uint64("request_id", f.RequestID).
				Msg("Fulfillment rejected")
		default:
			retry = err
		}
	}

	if retry == nil {
		return b.ack(ctx, msg.ID)
	}

	log := b.logger.Error().Err(retry).
		Str("message_id", msg.ID).
		Uint64("raffle_id", f.RaffleID).
		Uint64("request_id", f.RequestID).
		Int64("attempt", attempt)
	if attempt >= b.maxAttempts {
		log.Msg("Fulfillment handler failed, giving up")
		return b.deadLetter(ctx, msg, retry)
	}
	log.Msg("Fulfillment handler failed, will retry")
	return false
}

func (b *StreamBus) deadLetter(ctx context.Context, msg go_redis.XMessage, cause error) bool {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_id"] = msg.ID
	values["error"] = cause.Error()

	if err := b.rdb.XAdd(ctx, &go_redis.XAddArgs{Stream: DeadLetterStream, Values: values}).Err(); err != nil {
		// оставляем запись в pending, попробуем снова при следующем reclaim
		b.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter fulfillment")
		return false
	}
	return b.ack(ctx, msg.ID)
}

func (b *StreamBus) ack(ctx context.Context, id string) bool {
	if err := b.rdb.XAck(ctx, FulfillmentStream, consumerGroup, id).Err(); err != nil {
		b.logger.Error().Err(err).Str("message_id", id).Msg("Failed to ack fulfillment")
		return false
	}
	return true
}

func decodeFulfillment(values map[string]interface{}) (models.Fulfillment, error) {
	var f models.Fulfillment
	str := func(k string) (string, error) {
		s, ok := values[k].(string)
		if !ok {
			return "", fmt.Errorf("missing %s", k)
		}
		return s, nil
	}

	s, err := str("raffle_id")
	if err != nil {
		return f, err
	}
	if f.RaffleID, err = strconv.ParseUint(s, 10, 64); err != nil {
		return f, err
	}
	if s, err = str("request_id"); err != nil {
		return f, err
	}
	if f.RequestID, err = strconv.ParseUint(s, 10, 64); err != nil {
		return f, err
	}
	if s, err = str("word"); err != nil {
		return f, err
	}
	word, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return f, fmt.Errorf("invalid word %q", s)
	}
	f.Word = word
	return f, nil
}
