package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/cashplace/escrow/internal/ledger"
)

// Virtual sizes for P2WPKH spends.
const (
	txOverheadVSize = 11
	inputVSize      = 68
	outputVSize     = 31
	dustLimit       = 546
)

func estimateVSize(inputs, outputs int) int64 {
	return int64(txOverheadVSize + inputs*inputVSize + outputs*outputVSize)
}

// buildTransaction spends all unspents to outputs and sends the change, if
// above dust, to leftover.
func (a *Account) buildTransaction(unspents []ledger.Unspent, outputs []ledger.Output, leftover string, feeRate int64) (*wire.MsgTx, error) {
	if len(unspents) == 0 {
		return nil, ledger.ErrNoFunds
	}
	if feeRate < 1 {
		feeRate = 1
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var total int64
	for _, u := range unspents {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("outpoint %s: %w", u.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
		total += u.Amount
	}

	var paid int64
	for _, out := range outputs {
		script, err := a.payScript(out.Address)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(out.Amount, script))
		paid += out.Amount
	}

	change := total - paid - feeRate*estimateVSize(len(unspents), len(outputs)+1)
	if change >= dustLimit {
		script, err := a.payScript(leftover)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(change, script))
	} else if len(outputs) == 0 {
		// Only dust is left after the fee; there is nothing to refund.
		return nil, fmt.Errorf("%w: balance %d is dust at %d sat/vB", ledger.ErrNoFunds, total, feeRate)
	} else if total-paid-feeRate*estimateVSize(len(unspents), len(outputs)) < 0 {
		return nil, fmt.Errorf("%w: balance %d, outputs %d", ledger.ErrInsufficientFunds, total, paid)
	}

	sigHashes := txscript.NewTxSigHashes(tx)
	for i, u := range unspents {
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, u.Amount, a.script, txscript.SigHashAll, a.wif.PrivKey, true)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return tx, nil
}

func (a *Account) payScript(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, a.factory.net)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("script for %q: %w", address, err)
	}
	return script, nil
}
