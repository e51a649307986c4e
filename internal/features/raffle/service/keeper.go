package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository"
)

type KeeperConfig struct {
	Interval     time.Duration
	AutoRefund   bool
	StalledAfter time.Duration
	GracePeriod  time.Duration
	Now          func() time.Time
}

// KeeperReport summarises one sweep.
type KeeperReport struct {
	Refunded     []uint64
	StalledDraws []uint64
	Inconsistent []uint64
}

// Keeper periodically sweeps raffles: it refunds expired ones when enabled,
// warns about draws the oracle never answered, and re-checks ledger
// consistency. It only acts through the registry's public operations.
type Keeper struct {
	ctx      context.Context
	cancel   context.CancelFunc
	registry RaffleService
	repo     repository.RaffleRepository
	config   KeeperConfig
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewKeeper(registry RaffleService, repo repository.RaffleRepository, config KeeperConfig, logger zerolog.Logger) *Keeper {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Keeper{
		ctx:      ctx,
		cancel:   cancel,
		registry: registry,
		repo:     repo,
		config:   config,
		logger:   logger,
	}
}

func (k *Keeper) Start() {
	k.logger.Info().Dur("interval", k.config.Interval).Bool("auto_refund", k.config.AutoRefund).Msg("Starting raffle keeper")
	k.wg.Add(1)

	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(k.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := k.RunOnce(k.ctx); err != nil {
					k.logger.Error().Err(err).Msg("Keeper sweep failed")
				}
			case <-k.ctx.Done():
				return
			}
		}
	}()
}

func (k *Keeper) Stop() {
	k.logger.Info().Msg("Stopping raffle keeper")
	k.cancel()
	k.wg.Wait()
}

// RunOnce performs a single sweep.
func (k *Keeper) RunOnce(ctx context.Context) (*KeeperReport, error) {
	report := &KeeperReport{}
	now := k.config.Now()

	for _, st := range []models.RaffleState{models.StateActive, models.StateClosed} {
		state := st
		raffles, err := k.repo.List(ctx, &state)
		if err != nil {
			return report, err
		}
		for _, r := range raffles {
			k.verify(ctx, r, report)

			if !k.config.AutoRefund || now.Before(r.Expiry().Add(k.config.GracePeriod)) {
				continue
			}
			if _, err := k.registry.RefundRaffle(ctx, r.ID); err != nil {
				if !errors.Is(err, models.ErrInvalidRaffleState) {
					k.logger.Error().Err(err).Uint64("raffle_id", r.ID).Msg("Automatic refund failed")
				}
				continue
			}
			report.Refunded = append(report.Refunded, r.ID)
		}
	}

	pending := models.StatePendingDraw
	raffles, err := k.repo.List(ctx, &pending)
	if err != nil {
		return report, err
	}
	for _, r := range raffles {
		requestedAt := time.Unix(r.DrawRequestedAt, 0)
		if now.Sub(requestedAt) < k.config.StalledAfter {
			continue
		}
		report.StalledDraws = append(report.StalledDraws, r.ID)
		k.logger.Warn().
			Uint64("raffle_id", r.ID).
			Uint64("request_id", r.RandomnessRequestID).
			Dur("waiting", now.Sub(requestedAt)).
			Msg("Draw still waiting for randomness")
	}

	return report, nil
}

func (k *Keeper) verify(ctx context.Context, r *models.Raffle, report *KeeperReport) {
	err := k.registry.VerifyLedger(ctx, r.ID)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrLedgerInvariant):
		report.Inconsistent = append(report.Inconsistent, r.ID)
		k.logger.Error().Err(err).Uint64("raffle_id", r.ID).Msg("Ticket ledger inconsistent")
	default:
		k.logger.Error().Err(err).Uint64("raffle_id", r.ID).Msg("Failed to verify ticket ledger")
	}
}
