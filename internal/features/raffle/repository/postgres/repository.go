package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

const settingCreateEnabled = "create_enabled"

type postgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) repository.Store {
	return &postgresRepository{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
	}
	return nil
}

const raffleColumns = `id, creator, asset, asset_id, standard, ticket_price, expires_at, tickets_sold, state,
	winning_ticket, randomness_request_id, draw_requested_at, winner, asset_returned, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRaffle(row rowScanner) (*models.Raffle, error) {
	var (
		r                                  models.Raffle
		creator, asset, winner             string
		assetID, ticketPrice, requestIDStr string
		standard                           string
		state                              int16
	)
	err := row.Scan(&r.ID, &creator, &asset, &assetID, &standard, &ticketPrice, &r.ExpiresAt, &r.TicketsSold,
		&state, &r.WinningTicket, &requestIDStr, &r.DrawRequestedAt, &winner, &r.AssetReturned,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Creator = common.HexToAddress(creator)
	r.Asset = common.HexToAddress(asset)
	r.Winner = common.HexToAddress(winner)
	r.Standard = models.AssetStandard(strings.TrimSpace(standard))
	r.State = models.RaffleState(state)
	if r.AssetID, err = parseNumeric(assetID); err != nil {
		return nil, err
	}
	if r.TicketPrice, err = parseNumeric(ticketPrice); err != nil {
		return nil, err
	}
	if r.RandomnessRequestID, err = strconv.ParseUint(requestIDStr, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid randomness_request_id %q: %w", requestIDStr, err)
	}
	return &r, nil
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

func (r *postgresRepository) NextID(ctx context.Context) (uint64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('raffle_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate raffle id: %w", err)
	}
	return uint64(id), nil
}

func (r *postgresRepository) Save(ctx context.Context, raffle *models.Raffle) error {
	query := `
		INSERT INTO raffles (` + raffleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			tickets_sold = EXCLUDED.tickets_sold,
			state = EXCLUDED.state,
			winning_ticket = EXCLUDED.winning_ticket,
			randomness_request_id = EXCLUDED.randomness_request_id,
			draw_requested_at = EXCLUDED.draw_requested_at,
			winner = EXCLUDED.winner,
			asset_returned = EXCLUDED.asset_returned,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		raffle.ID, raffle.Creator.Hex(), raffle.Asset.Hex(), raffle.AssetID.String(), string(raffle.Standard),
		raffle.TicketPrice.String(), raffle.ExpiresAt, raffle.TicketsSold, int16(raffle.State),
		raffle.WinningTicket, strconv.FormatUint(raffle.RandomnessRequestID, 10), raffle.DrawRequestedAt,
		raffle.Winner.Hex(), raffle.AssetReturned, raffle.CreatedAt, raffle.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save raffle %d: %w", raffle.ID, err)
	}
	return nil
}

func (r *postgresRepository) Get(ctx context.Context, id uint64) (*models.Raffle, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE id = $1`, id)
	raffle, err := scanRaffle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRaffleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle %d: %w", id, err)
	}
	return raffle, nil
}

func (r *postgresRepository) List(ctx context.Context, state *models.RaffleState) ([]*models.Raffle, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if state == nil {
		rows, err = r.db.QueryContext(ctx, `SELECT `+raffleColumns+` FROM raffles ORDER BY id`)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE state = $1 ORDER BY id`, int16(*state))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list raffles: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Raffle, 0)
	for rows.Next() {
		raffle, err := scanRaffle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, raffle)
	}
	return out, rows.Err()
}

func (r *postgresRepository) AppendBatch(ctx context.Context, raffleID uint64, b models.TicketBatch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raffle_batches (raffle_id, batch_index, owner, start_ticket, end_ticket)
		VALUES ($1, $2, $3, $4, $5)`,
		raffleID, b.Index, b.Owner.Hex(), b.StartTicket, b.EndTicket)
	if err != nil {
		return fmt.Errorf("failed to append batch: %w", err)
	}
	return nil
}

func (r *postgresRepository) TruncateBatches(ctx context.Context, raffleID uint64, n uint32) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM raffle_batches WHERE raffle_id = $1 AND batch_index >= $2`, raffleID, n)
	return err
}

func (r *postgresRepository) Batches(ctx context.Context, raffleID uint64) ([]models.TicketBatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT batch_index, owner, start_ticket, end_ticket
		FROM raffle_batches WHERE raffle_id = $1 ORDER BY batch_index`, raffleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batches: %w", err)
	}
	defer rows.Close()

	out := make([]models.TicketBatch, 0)
	for rows.Next() {
		var (
			b     models.TicketBatch
			owner string
		)
		if err := rows.Scan(&b.Index, &owner, &b.StartTicket, &b.EndTicket); err != nil {
			return nil, err
		}
		b.Owner = common.HexToAddress(owner)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *postgresRepository) Batch(ctx context.Context, raffleID uint64, index uint32) (models.TicketBatch, error) {
	var (
		b     models.TicketBatch
		owner string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT batch_index, owner, start_ticket, end_ticket
		FROM raffle_batches WHERE raffle_id = $1 AND batch_index = $2`, raffleID, index).
		Scan(&b.Index, &owner, &b.StartTicket, &b.EndTicket)
	if errors.Is(err, sql.ErrNoRows) {
		return b, models.ErrBatchNotFound
	}
	if err != nil {
		return b, err
	}
	b.Owner = common.HexToAddress(owner)
	return b, nil
}

func (r *postgresRepository) BatchCount(ctx context.Context, raffleID uint64) (uint32, error) {
	var n uint32
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raffle_batches WHERE raffle_id = $1`, raffleID).Scan(&n)
	return n, err
}

func (r *postgresRepository) Account(ctx context.Context, raffleID uint64, owner common.Address) (models.UserTicketAccount, error) {
	a := models.UserTicketAccount{RaffleID: raffleID, Owner: owner}
	err := r.db.QueryRowContext(ctx, `
		SELECT tickets_owned, is_refunded FROM raffle_accounts WHERE raffle_id = $1 AND owner = $2`,
		raffleID, owner.Hex()).Scan(&a.TicketsOwned, &a.IsRefunded)
	if errors.Is(err, sql.ErrNoRows) {
		return a, nil
	}
	return a, err
}

func (r *postgresRepository) SaveAccount(ctx context.Context, a models.UserTicketAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raffle_accounts (raffle_id, owner, tickets_owned, is_refunded)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (raffle_id, owner) DO UPDATE SET
			tickets_owned = EXCLUDED.tickets_owned,
			is_refunded = EXCLUDED.is_refunded`,
		a.RaffleID, a.Owner.Hex(), a.TicketsOwned, a.IsRefunded)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (r *postgresRepository) Accounts(ctx context.Context, raffleID uint64) ([]models.UserTicketAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT owner, tickets_owned, is_refunded FROM raffle_accounts
		WHERE raffle_id = $1 ORDER BY lower(owner)`, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.UserTicketAccount, 0)
	for rows.Next() {
		a := models.UserTicketAccount{RaffleID: raffleID}
		var owner string
		if err := rows.Scan(&owner, &a.TicketsOwned, &a.IsRefunded); err != nil {
			return nil, err
		}
		a.Owner = common.HexToAddress(owner)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *postgresRepository) CreateEnabled(ctx context.Context) (bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM raffle_settings WHERE name = $1`, settingCreateEnabled).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (r *postgresRepository) SetCreateEnabled(ctx context.Context, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raffle_settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		settingCreateEnabled, strconv.FormatBool(enabled))
	return err
}

func (r *postgresRepository) InitCreateEnabled(ctx context.Context, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raffle_settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`,
		settingCreateEnabled, strconv.FormatBool(enabled))
	return err
}

func (r *postgresRepository) PutRequest(ctx context.Context, requestID, raffleID uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vrf_requests (request_id, raffle_id) VALUES ($1, $2)
		ON CONFLICT (request_id) DO UPDATE SET raffle_id = EXCLUDED.raffle_id`,
		strconv.FormatUint(requestID, 10), raffleID)
	return err
}

func (r *postgresRepository) TakeRequest(ctx context.Context, requestID uint64) (uint64, bool, error) {
	var raffleID uint64
	err := r.db.QueryRowContext(ctx, `DELETE FROM vrf_requests WHERE request_id = $1 RETURNING raffle_id`,
		strconv.FormatUint(requestID, 10)).Scan(&raffleID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return raffleID, true, nil
}
