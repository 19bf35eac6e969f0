package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashplace/escrow/internal/ledger"
)

type stubChain struct {
	unspents  []ledger.Unspent
	feeRate   int64
	broadcast []string
}

func (s *stubChain) Unspents(context.Context, string) ([]ledger.Unspent, error) {
	return s.unspents, nil
}

func (s *stubChain) FeeRate(context.Context, bool) (int64, error) {
	return s.feeRate, nil
}

func (s *stubChain) Broadcast(_ context.Context, raw string) (string, error) {
	s.broadcast = append(s.broadcast, raw)
	return "txid", nil
}

func decodeTx(t *testing.T, raw string) *wire.MsgTx {
	t.Helper()
	b, err := hex.DecodeString(raw)
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(b)))
	return &tx
}

const fundingTx = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

func TestCreateAndRestore(t *testing.T) {
	f := NewFactory(Params{Testnet: true, Chain: &stubChain{}})

	acct, err := f.Create()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(acct.Address(), "tb1q"), acct.Address())

	restored, err := f.Restore(acct.KeyMaterial())
	require.NoError(t, err)
	assert.Equal(t, acct.Address(), restored.Address())
	assert.Equal(t, acct.KeyMaterial(), restored.KeyMaterial())

	other, err := f.Create()
	require.NoError(t, err)
	assert.NotEqual(t, acct.Address(), other.Address())
}

func TestRestoreRejectsOtherNetwork(t *testing.T) {
	testnet := NewFactory(Params{Testnet: true})
	mainnet := NewFactory(Params{Testnet: false})

	acct, err := testnet.Create()
	require.NoError(t, err)

	_, err = mainnet.Restore(acct.KeyMaterial())
	assert.Error(t, err)

	_, err = mainnet.Restore("not-a-wif")
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	f := NewFactory(Params{Testnet: true})
	acct, err := f.Create()
	require.NoError(t, err)

	assert.NoError(t, f.ValidateAddress(acct.Address()))
	assert.Error(t, f.ValidateAddress(""))
	assert.Error(t, f.ValidateAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"))
}

func TestEstimateFee(t *testing.T) {
	chain := &stubChain{feeRate: 42}

	testAcct, err := NewFactory(Params{Testnet: true, Chain: chain}).Create()
	require.NoError(t, err)
	fee, err := testAcct.EstimateFee(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fee)

	mainAcct, err := NewFactory(Params{Testnet: false, Chain: chain}).Create()
	require.NoError(t, err)
	fee, err = mainAcct.EstimateFee(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(42), fee)
}

func TestSendPaysOutputsAndChange(t *testing.T) {
	chain := &stubChain{unspents: []ledger.Unspent{{TxID: fundingTx, Vout: 1, Amount: 100000, Confirmations: 3}}}
	f := NewFactory(Params{Testnet: true, Chain: chain})
	acct, err := f.Create()
	require.NoError(t, err)
	dest, err := f.Create()
	require.NoError(t, err)
	change, err := f.Create()
	require.NoError(t, err)

	txid, err := acct.Send(context.Background(), []ledger.Output{{Address: dest.Address(), Amount: 60000}}, change.Address(), 2)
	require.NoError(t, err)
	assert.Equal(t, "txid", txid)
	require.Len(t, chain.broadcast, 1)

	tx := decodeTx(t, chain.broadcast[0])
	require.Len(t, tx.TxIn, 1)
	assert.Equal(t, uint32(1), tx.TxIn[0].PreviousOutPoint.Index)
	assert.Len(t, tx.TxIn[0].Witness, 2)
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, int64(60000), tx.TxOut[0].Value)
	assert.Equal(t, int64(100000-60000-2*estimateVSize(1, 2)), tx.TxOut[1].Value)
}

func TestSendRefundSweepsEverything(t *testing.T) {
	chain := &stubChain{unspents: []ledger.Unspent{
		{TxID: fundingTx, Vout: 0, Amount: 30000},
		{TxID: fundingTx, Vout: 2, Amount: 20000},
	}}
	f := NewFactory(Params{Testnet: true, Chain: chain})
	acct, err := f.Create()
	require.NoError(t, err)
	refund, err := f.Create()
	require.NoError(t, err)

	_, err = acct.Send(context.Background(), nil, refund.Address(), 1)
	require.NoError(t, err)

	tx := decodeTx(t, chain.broadcast[0])
	assert.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 1)
	assert.Equal(t, int64(50000-estimateVSize(2, 1)), tx.TxOut[0].Value)
}

func TestSendFailures(t *testing.T) {
	f := NewFactory(Params{Testnet: true, Chain: &stubChain{}})
	acct, err := f.Create()
	require.NoError(t, err)

	_, err = acct.Send(context.Background(), nil, acct.Address(), 1)
	assert.True(t, errors.Is(err, ledger.ErrNoFunds))

	poor := NewFactory(Params{Testnet: true, Chain: &stubChain{unspents: []ledger.Unspent{{TxID: fundingTx, Amount: 1000}}}})
	acct, err = poor.Create()
	require.NoError(t, err)
	_, err = acct.Send(context.Background(), []ledger.Output{{Address: acct.Address(), Amount: 5000}}, acct.Address(), 1)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

	_, err = acct.Send(context.Background(), []ledger.Output{{Address: "garbage", Amount: 10}}, acct.Address(), 1)
	assert.Error(t, err)
}

func TestSendRefundOfDustIsNoFunds(t *testing.T) {
	chain := &stubChain{unspents: []ledger.Unspent{{TxID: fundingTx, Amount: 300, Confirmations: 3}}}
	acct, err := NewFactory(Params{Testnet: true, Chain: chain}).Create()
	require.NoError(t, err)

	_, err = acct.Send(context.Background(), nil, acct.Address(), 1)
	assert.True(t, errors.Is(err, ledger.ErrNoFunds))
	assert.Empty(t, chain.broadcast)
}
