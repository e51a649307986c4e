package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository"
)

const (
	keyNextID          = "raffle:next_id"
	keyPrefixRaffle    = "raffle:"
	keyAllRaffles      = "raffles:all"
	keyPrefixState     = "raffles:state:"
	keySettings        = "raffle:settings"
	keyPrefixVRFReq    = "vrf:request:"
	fieldCreateEnabled = "create_enabled"
)

type redisRepository struct {
	client *redis.Client
}

func NewRedisRaffleRepository(client *redis.Client) repository.Store {
	return &redisRepository{client: client}
}

func makeRaffleKey(id uint64) string {
	return keyPrefixRaffle + strconv.FormatUint(id, 10)
}

func makeBatchesKey(id uint64) string {
	return makeRaffleKey(id) + ":batches"
}

func makeAccountsKey(id uint64) string {
	return makeRaffleKey(id) + ":accounts"
}

func makeStateKey(state models.RaffleState) string {
	return keyPrefixState + state.String()
}

func makeRequestKey(requestID uint64) string {
	return keyPrefixVRFReq + strconv.FormatUint(requestID, 10)
}

func (r *redisRepository) NextID(ctx context.Context) (uint64, error) {
	id, err := r.client.Incr(ctx, keyNextID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate raffle id: %w", err)
	}
	return uint64(id), nil
}

func (r *redisRepository) Save(ctx context.Context, raffle *models.Raffle) error {
	data, err := json.Marshal(raffle)
	if err != nil {
		return fmt.Errorf("failed to marshal raffle: %w", err)
	}

	idStr := strconv.FormatUint(raffle.ID, 10)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, makeRaffleKey(raffle.ID), data, 0)
		pipe.ZAdd(ctx, keyAllRaffles, redis.Z{Score: float64(raffle.ID), Member: idStr})
		// Индекс по состоянию: ровно одно множество содержит raffle
		for _, st := range models.AllStates() {
			if st == raffle.State {
				pipe.SAdd(ctx, makeStateKey(st), idStr)
			} else {
				pipe.SRem(ctx, makeStateKey(st), idStr)
			}
		}
		return nil
	})
	return err
}

func (r *redisRepository) Get(ctx context.Context, id uint64) (*models.Raffle, error) {
	data, err := r.client.Get(ctx, makeRaffleKey(id)).Bytes()
	if err == redis.Nil {
		return nil, models.ErrRaffleNotFound
	}
	if err != nil {
		return nil, err
	}

	var raffle models.Raffle
	if err := json.Unmarshal(data, &raffle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raffle %d: %w", id, err)
	}
	return &raffle, nil
}

func (r *redisRepository) List(ctx context.Context, state *models.RaffleState) ([]*models.Raffle, error) {
	var ids []string
	var err error
	if state == nil {
		ids, err = r.client.ZRange(ctx, keyAllRaffles, 0, -1).Result()
	} else {
		ids, err = r.client.SMembers(ctx, makeStateKey(*state)).Result()
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*models.Raffle{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefixRaffle + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Raffle, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var raffle models.Raffle
		if err := json.Unmarshal([]byte(s), &raffle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raffle %s: %w", ids[i], err)
		}
		out = append(out, &raffle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *redisRepository) AppendBatch(ctx context.Context, raffleID uint64, batch models.TicketBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	return r.client.RPush(ctx, makeBatchesKey(raffleID), data).Err()
}

func (r *redisRepository) TruncateBatches(ctx context.Context, raffleID uint64, n uint32) error {
	if n == 0 {
		return r.client.Del(ctx, makeBatchesKey(raffleID)).Err()
	}
	return r.client.LTrim(ctx, makeBatchesKey(raffleID), 0, int64(n)-1).Err()
}

func (r *redisRepository) Batches(ctx context.Context, raffleID uint64) ([]models.TicketBatch, error) {
	raw, err := r.client.LRange(ctx, makeBatchesKey(raffleID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.TicketBatch, len(raw))
	for i, s := range raw {
		if err := json.Unmarshal([]byte(s), &out[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch %d of raffle %d: %w", i, raffleID, err)
		}
	}
	return out, nil
}

func (r *redisRepository) Batch(ctx context.Context, raffleID uint64, index uint32) (models.TicketBatch, error) {
	var batch models.TicketBatch
	data, err := r.client.LIndex(ctx, makeBatchesKey(raffleID), int64(index)).Bytes()
	if err == redis.Nil {
		return batch, models.ErrBatchNotFound
	}
	if err != nil {
		return batch, err
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	return batch, nil
}

func (r *redisRepository) BatchCount(ctx context.Context, raffleID uint64) (uint32, error) {
	n, err := r.client.LLen(ctx, makeBatchesKey(raffleID)).Result()
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (r *redisRepository) Account(ctx context.Context, raffleID uint64, owner common.Address) (models.UserTicketAccount, error) {
	account := models.UserTicketAccount{RaffleID: raffleID, Owner: owner}
	data, err := r.client.HGet(ctx, makeAccountsKey(raffleID), owner.Hex()).Bytes()
	if err == redis.Nil {
		return account, nil
	}
	if err != nil {
		return account, err
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return account, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return account, nil
}

func (r *redisRepository) SaveAccount(ctx context.Context, account models.UserTicketAccount) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	return r.client.HSet(ctx, makeAccountsKey(account.RaffleID), account.Owner.Hex(), data).Err()
}

func (r *redisRepository) Accounts(ctx context.Context, raffleID uint64) ([]models.UserTicketAccount, error) {
	vals, err := r.client.HVals(ctx, makeAccountsKey(raffleID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.UserTicketAccount, len(vals))
	for i, v := range vals {
		if err := json.Unmarshal([]byte(v), &out[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account: %w", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0 })
	return out, nil
}

func (r *redisRepository) CreateEnabled(ctx context.Context) (bool, error) {
	v, err := r.client.HGet(ctx, keySettings, fieldCreateEnabled).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (r *redisRepository) SetCreateEnabled(ctx context.Context, enabled bool) error {
	return r.client.HSet(ctx, keySettings, fieldCreateEnabled, strconv.FormatBool(enabled)).Err()
}

// InitCreateEnabled seeds the flag only when it has never been written.
func (r *redisRepository) InitCreateEnabled(ctx context.Context, enabled bool) error {
	return r.client.HSetNX(ctx, keySettings, fieldCreateEnabled, strconv.FormatBool(enabled)).Err()
}

func (r *redisRepository) PutRequest(ctx context.Context, requestID, raffleID uint64) error {
	return r.client.Set(ctx, makeRequestKey(requestID), strconv.FormatUint(raffleID, 10), 0).Err()
}

func (r *redisRepository) TakeRequest(ctx context.Context, requestID uint64) (uint64, bool, error) {
	v, err := r.client.GetDel(ctx, makeRequestKey(requestID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	raffleID, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt request mapping %d: %w", requestID, err)
	}
	return raffleID, true, nil
}
