package royalty

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"raffle-engine/internal/common/cache"
	"raffle-engine/internal/common/config"
	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/platform/chain"
)

const keyPrefixQuote = "royalty:"

// Cache is the subset of cache.CacheService the resolver needs.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Resolver answers "who gets a royalty on this asset, and how much".
// Lookup order is ERC-2981, then the registry, then no royalty. It never
// fails: lookup errors are logged and degrade to the next source.
type Resolver struct {
	standard chain.RoyaltyStandard
	registry chain.RoyaltyRegistry
	maxBps   uint16
	cache    Cache
	ttl      time.Duration
	logger   zerolog.Logger
}

func NewResolver(standard chain.RoyaltyStandard, registry chain.RoyaltyRegistry, maxBps uint16, logger zerolog.Logger) *Resolver {
	return &Resolver{
		standard: standard,
		registry: registry,
		maxBps:   maxBps,
		logger:   logger,
	}
}

// WithCache enables quote caching.
func (r *Resolver) WithCache(c Cache, ttl time.Duration) *Resolver {
	r.cache = c
	r.ttl = ttl
	return r
}

func quoteKey(asset common.Address, assetID *big.Int) string {
	return fmt.Sprintf("%s%s:%s", keyPrefixQuote, asset.Hex(), assetID)
}

func (r *Resolver) Resolve(ctx context.Context, asset common.Address, assetID *big.Int) models.RoyaltyQuote {
	if r.cache != nil {
		var cached models.RoyaltyQuote
		err := r.cache.Get(ctx, quoteKey(asset, assetID), &cached)
		if err == nil {
			return cached
		}
		if !cache.IsMiss(err) {
			r.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("Royalty cache read failed")
		}
	}

	quote := r.lookup(ctx, asset, assetID)

	if r.cache != nil {
		if err := r.cache.Set(ctx, quoteKey(asset, assetID), quote, r.ttl); err != nil {
			r.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("Failed to cache royalty quote")
		}
	}
	return quote
}

// Invalidate drops cached quotes for every token of asset.
func (r *Resolver) Invalidate(ctx context.Context, asset common.Address) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.DeletePattern(ctx, keyPrefixQuote+asset.Hex()+":*")
}

func (r *Resolver) lookup(ctx context.Context, asset common.Address, assetID *big.Int) models.RoyaltyQuote {
	if r.standard != nil {
		supported, err := r.standard.SupportsRoyalties(ctx, asset)
		if err != nil {
			r.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("ERC-2981 support check failed")
		}
		if supported {
			// royaltyInfo over a sale price of 10000 yields basis points directly
			receiver, amount, err := r.standard.RoyaltyInfo(ctx, asset, assetID, big.NewInt(config.BasisPointsDenominator))
			switch {
			case err != nil:
				r.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("ERC-2981 royaltyInfo failed")
			case receiver != (common.Address{}):
				return r.bounded(receiver, amount, models.RoyaltySourceERC2981)
			}
		}
	}

	if r.registry != nil {
		receiver, bps, err := r.registry.GetRoyalty(ctx, asset)
		if err != nil {
			r.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("Royalty registry lookup failed")
		} else if receiver != (common.Address{}) {
			return r.bounded(receiver, big.NewInt(int64(bps)), models.RoyaltySourceRegistry)
		}
	}

	return models.ZeroQuote()
}

// bounded turns an out-of-range rate into no royalty.
func (r *Resolver) bounded(receiver common.Address, bps *big.Int, source models.RoyaltySource) models.RoyaltyQuote {
	if bps == nil || bps.Sign() <= 0 || bps.Cmp(big.NewInt(int64(r.maxBps))) > 0 {
		if bps != nil && bps.Sign() > 0 {
			r.logger.Warn().
				Str("receiver", receiver.Hex()).
				Str("bps", bps.String()).
				Uint16("max_bps", r.maxBps).
				Msg("Royalty above maximum, ignoring")
		}
		return models.ZeroQuote()
	}
	return models.RoyaltyQuote{
		Receiver:    receiver,
		BasisPoints: uint16(bps.Uint64()),
		Source:      source,
	}
}
