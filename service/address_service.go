package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/model"
)

// AddressSource hands out fresh deposit addresses. index is the number of
// addresses of the currency allocated so far.
type AddressSource interface {
	NewAddress(ctx context.Context, cur model.Currency, index int) (string, error)
}

// HDAddressPool derives deposit addresses from a mnemonic: BIP-84 P2WPKH
// for bitcoin and BIP-44 for ethereum. Only for dev and regtest setups,
// keys in production stay with the chain adapters.
type HDAddressPool struct {
	network model.Network
	// m/84'/coin'/0'/0
	btcChain *hdkeychain.ExtendedKey
	// m/44'/60'/0'/0
	ethChain *hdkeychain.ExtendedKey
}

func NewHDAddressPool(mnemonic string, network model.Network) (*HDAddressPool, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	params := network.Params()
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	btcCoin := uint32(1)
	if network == model.Mainnet {
		btcCoin = 0
	}
	btcChain, err := derivePath(master, hdkeychain.HardenedKeyStart+84, hdkeychain.HardenedKeyStart+btcCoin, hdkeychain.HardenedKeyStart, 0)
	if err != nil {
		return nil, err
	}
	ethChain, err := derivePath(master, hdkeychain.HardenedKeyStart+44, hdkeychain.HardenedKeyStart+60, hdkeychain.HardenedKeyStart, 0)
	if err != nil {
		return nil, err
	}
	return &HDAddressPool{network: network, btcChain: btcChain, ethChain: ethChain}, nil
}

// NewMnemonic generates a 24 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func derivePath(key *hdkeychain.ExtendedKey, path ...uint32) (*hdkeychain.ExtendedKey, error) {
	var err error
	for _, i := range path {
		key, err = key.Derive(i)
		if err != nil {
			return nil, fmt.Errorf("derive %d: %w", i, err)
		}
	}
	return key, nil
}

func (p *HDAddressPool) NewAddress(_ context.Context, cur model.Currency, index int) (string, error) {
	if index < 0 || index >= hdkeychain.HardenedKeyStart {
		return "", fmt.Errorf("address index %d out of range", index)
	}
	switch cur.Kind {
	case model.KindBTC:
		child, err := p.btcChain.Derive(uint32(index))
		if err != nil {
			return "", err
		}
		pub, err := child.ECPubKey()
		if err != nil {
			return "", err
		}
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), p.network.Params())
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case model.KindETH, model.KindERC20:
		child, err := p.ethChain.Derive(uint32(index))
		if err != nil {
			return "", err
		}
		pub, err := child.ECPubKey()
		if err != nil {
			return "", err
		}
		// 压缩公钥转 ECDSA 公钥
		ecdsaPub, err := crypto.DecompressPubkey(pub.SerializeCompressed())
		if err != nil {
			return "", err
		}
		return crypto.PubkeyToAddress(*ecdsaPub).Hex(), nil
	}
	return "", fmt.Errorf("no derivation for %s", cur)
}

// AdapterAddressSource asks the chain adapters, which own the keys.
type AdapterAddressSource struct {
	Btc adapter.ChainAdapter
	Eth adapter.ChainAdapter
}

func (a AdapterAddressSource) NewAddress(ctx context.Context, cur model.Currency, _ int) (string, error) {
	var c adapter.ChainAdapter
	if cur.IsEthereum() {
		c = a.Eth
	} else {
		c = a.Btc
	}
	if c == nil {
		return "", &Error{Kind: NoAddressSource, Msg: cur.Ticker()}
	}
	addr, err := c.DepositAddress(ctx)
	if err != nil {
		return "", adapterError(err)
	}
	return addr, nil
}

func adapterError(err error) error {
	if adapter.IsRejected(err) {
		return &Error{Kind: AdapterRejected, Err: err}
	}
	return &Error{Kind: AdapterFailure, Err: err}
}
