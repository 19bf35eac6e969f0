package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cashplace/escrow/internal/domain"
)

// redisTicketRepository stores one CBOR blob per ticket under
// <prefix>ticket:<id> and indexes ids in the <prefix>tickets set.
type redisTicketRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisTicketRepository instantiates the redis repository.
func NewRedisTicketRepository(client *redis.Client, prefix string) TicketRepository {
	return &redisTicketRepository{client: client, prefix: prefix}
}

func (r *redisTicketRepository) ticketKey(id string) string { return r.prefix + "ticket:" + id }
func (r *redisTicketRepository) indexKey() string          { return r.prefix + "tickets" }

func (r *redisTicketRepository) Save(ctx context.Context, record domain.TicketRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", record.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.ticketKey(record.ID), data, 0)
		pipe.SAdd(ctx, r.indexKey(), record.ID)
		return nil
	})
	return err
}

func (r *redisTicketRepository) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, r.ticketKey(id))
		pipe.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return err
	}
	if removed.Val() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (r *redisTicketRepository) LoadAll(ctx context.Context) ([]domain.TicketRecord, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.ticketKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	return decodeBlobs(ids, values)
}

// decodeBlobs decodes MGET results. Missing blobs are skipped; undecodable
// ones are reported in a *CorruptRecordsError next to the decoded records.
func decodeBlobs(ids []string, values []interface{}) ([]domain.TicketRecord, error) {
	result := make([]domain.TicketRecord, 0, len(values))
	var corrupt *CorruptRecordsError
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Index entry without a blob; the ticket was deleted mid-write.
			continue
		}
		record, err := decodeRecord([]byte(raw))
		if err != nil {
			if corrupt == nil {
				corrupt = &CorruptRecordsError{}
			}
			corrupt.IDs = append(corrupt.IDs, ids[i])
			corrupt.Errs = append(corrupt.Errs, fmt.Errorf("decode ticket %s: %w", ids[i], err))
			continue
		}
		result = append(result, record)
	}
	if corrupt != nil {
		return result, corrupt
	}
	return result, nil
}
