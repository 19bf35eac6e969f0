package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashplace/escrow/internal/domain"
)

func sampleRecord(id string) domain.TicketRecord {
	hash := "$argon2id$v=19$m=8,t=1,p=1$c2FsdA$a2V5"
	master := true
	return domain.TicketRecord{
		ID:              id,
		Kind:            "btc",
		Amount:          150000,
		KeyMaterial:     "cVt4o7BGAig1UXywgGSmARhxMdzP5qvQsxKkSsc1XEkw3tDTQFpy",
		SpenderHash:     &hash,
		SpenderCode:     "spender-" + id,
		ReceiverCode:    "receiver-" + id,
		MasterIsSpender: &master,
		LeftoverAddress: "tb1qleftover",
		Status:          int(domain.TicketStatusReception),
		LastUpdate:      1718000000.123,
	}
}

func TestMemoryTicketRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()

	require.NoError(t, repo.Save(ctx, sampleRecord("b")))
	require.NoError(t, repo.Save(ctx, sampleRecord("a")))

	records, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, sampleRecord("a"), records[0])

	// Stored records are isolated from caller mutation.
	*records[0].SpenderHash = "changed"
	stored, ok := repo.Get("a")
	require.True(t, ok)
	assert.Equal(t, *sampleRecord("a").SpenderHash, *stored.SpenderHash)

	require.NoError(t, repo.Delete(ctx, "a"))
	assert.ErrorIs(t, repo.Delete(ctx, "a"), ErrTicketNotFound)

	records, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordCodecPreservesNullableFields(t *testing.T) {
	record := sampleRecord("tb1qcustody")
	record.ReceiverHash = nil
	record.MasterIsSpender = nil

	data, err := encodeRecord(record)
	require.NoError(t, err)
	again, err := encodeRecord(record)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	decoded, err := decodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, record, decoded)
	assert.Nil(t, decoded.ReceiverHash)
	assert.Nil(t, decoded.MasterIsSpender)
}

func TestDecodeBlobsSkipsCorruptRecords(t *testing.T) {
	good, err := encodeRecord(sampleRecord("tb1qgood"))
	require.NoError(t, err)

	records, err := decodeBlobs(
		[]string{"tb1qgood", "tb1qgone", "tb1qbad"},
		[]interface{}{string(good), nil, "\xff not cbor"},
	)
	require.Len(t, records, 1)
	assert.Equal(t, sampleRecord("tb1qgood"), records[0])

	var corrupt *CorruptRecordsError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, []string{"tb1qbad"}, corrupt.IDs)

	records, err = decodeBlobs([]string{"tb1qgood"}, []interface{}{string(good)})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
