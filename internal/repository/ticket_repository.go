package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cashplace/escrow/internal/domain"
)

// ErrTicketNotFound is returned by Delete for an unknown id.
var ErrTicketNotFound = errors.New("ticket record not found")

// CorruptRecordsError lists stored records that could not be decoded.
// LoadAll returns it together with every record that did decode.
type CorruptRecordsError struct {
	IDs  []string
	Errs []error
}

func (e *CorruptRecordsError) Error() string {
	return fmt.Sprintf("%d undecodable ticket records: %s", len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *CorruptRecordsError) Unwrap() []error { return e.Errs }

// TicketRepository persists escrow ticket records.
type TicketRepository interface {
	Save(ctx context.Context, record domain.TicketRecord) error
	Delete(ctx context.Context, id string) error
	// LoadAll may return a *CorruptRecordsError alongside the readable records.
	LoadAll(ctx context.Context) ([]domain.TicketRecord, error)
}

type postgresTicketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the postgres repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &postgresTicketRepository{pool: pool}
}

func (r *postgresTicketRepository) Save(ctx context.Context, record domain.TicketRecord) error {
	const query = `
        INSERT INTO escrow_tickets (id, coin, amount, wif, spender_hash, spender_code, receiver_hash, receiver_code,
            master_is_spender, leftover_address, receiver_address, status, last_update)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (id) DO UPDATE SET
            amount=EXCLUDED.amount, spender_hash=EXCLUDED.spender_hash, receiver_hash=EXCLUDED.receiver_hash,
            master_is_spender=EXCLUDED.master_is_spender, leftover_address=EXCLUDED.leftover_address,
            receiver_address=EXCLUDED.receiver_address, status=EXCLUDED.status, last_update=EXCLUDED.last_update`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.Kind,
		record.Amount,
		record.KeyMaterial,
		record.SpenderHash,
		record.SpenderCode,
		record.ReceiverHash,
		record.ReceiverCode,
		record.MasterIsSpender,
		record.LeftoverAddress,
		record.ReceiverAddress,
		record.Status,
		record.LastUpdate,
	)
	return err
}

func (r *postgresTicketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM escrow_tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (r *postgresTicketRepository) LoadAll(ctx context.Context) ([]domain.TicketRecord, error) {
	const query = `
        SELECT id, coin, amount, wif, spender_hash, spender_code, receiver_hash, receiver_code,
               master_is_spender, leftover_address, receiver_address, status, last_update
        FROM escrow_tickets ORDER BY last_update`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketRecord
	for rows.Next() {
		var record domain.TicketRecord
		if err := rows.Scan(
			&record.ID,
			&record.Kind,
			&record.Amount,
			&record.KeyMaterial,
			&record.SpenderHash,
			&record.SpenderCode,
			&record.ReceiverHash,
			&record.ReceiverCode,
			&record.MasterIsSpender,
			&record.LeftoverAddress,
			&record.ReceiverAddress,
			&record.Status,
			&record.LastUpdate,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
