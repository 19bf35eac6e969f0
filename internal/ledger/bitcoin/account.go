// Package bitcoin implements the "btc" ledger kind: native segwit custody
// addresses whose keys are exported as WIF, with balances, fee estimates
// and broadcasts served by an Esplora backend.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"

	"github.com/cashplace/escrow/internal/ledger"
)

// Kind is the ticket kind tag for bitcoin tickets.
const Kind = "btc"

// Params selects the network and backend for the factory.
type Params struct {
	Testnet bool
	Chain   Chain
}

// Factory creates and restores bitcoin accounts.
type Factory struct {
	net     *chaincfg.Params
	testnet bool
	chain   Chain
}

// NewFactory returns a factory bound to params.
func NewFactory(params Params) *Factory {
	net := &chaincfg.MainNetParams
	if params.Testnet {
		net = &chaincfg.TestNet3Params
	}
	return &Factory{net: net, testnet: params.Testnet, chain: params.Chain}
}

func (f *Factory) Kind() string { return Kind }

// Create generates a fresh compressed secp256k1 key.
func (f *Factory) Create() (ledger.Account, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	wif, err := btcutil.NewWIF(priv, f.net, true)
	if err != nil {
		return nil, fmt.Errorf("encode wif: %w", err)
	}
	return f.newAccount(wif)
}

// Restore rebuilds the account from an exported WIF.
func (f *Factory) Restore(keyMaterial string) (ledger.Account, error) {
	wif, err := btcutil.DecodeWIF(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	if !wif.IsForNet(f.net) {
		return nil, fmt.Errorf("wif is not for %s", f.net.Name)
	}
	return f.newAccount(wif)
}

// ValidateAddress accepts any standard address on the factory's network.
func (f *Factory) ValidateAddress(address string) error {
	addr, err := btcutil.DecodeAddress(address, f.net)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if !addr.IsForNet(f.net) {
		return fmt.Errorf("address %s is not for %s", address, f.net.Name)
	}
	return nil
}

func (f *Factory) newAccount(wif *btcutil.WIF) (*Account, error) {
	pubKeyHash := btcutil.Hash160(wif.PrivKey.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, f.net)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("derive script: %w", err)
	}
	return &Account{factory: f, wif: wif, address: addr.EncodeAddress(), script: script}, nil
}

// Account is one custody key.
type Account struct {
	factory *Factory
	wif     *btcutil.WIF
	address string
	script  []byte
}

func (a *Account) Address() string     { return a.address }
func (a *Account) KeyMaterial() string { return a.wif.String() }

func (a *Account) Unspents(ctx context.Context) ([]ledger.Unspent, error) {
	return a.factory.chain.Unspents(ctx, a.address)
}

// EstimateFee returns 1 sat/vB on testnet, where estimates are meaningless.
func (a *Account) EstimateFee(ctx context.Context, fast bool) (int64, error) {
	if a.factory.testnet {
		return 1, nil
	}
	return a.factory.chain.FeeRate(ctx, fast)
}

// Send spends every output of the account.
func (a *Account) Send(ctx context.Context, outputs []ledger.Output, leftover string, feeRate int64) (string, error) {
	unspents, err := a.Unspents(ctx)
	if err != nil {
		return "", err
	}
	tx, err := a.buildTransaction(unspents, outputs, leftover, feeRate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}
	return a.factory.chain.Broadcast(ctx, hex.EncodeToString(buf.Bytes()))
}
