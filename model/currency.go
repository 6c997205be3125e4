package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

// Network selects genesis parameters and address validation rules.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case Mainnet:
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	case Regtest:
		return Regtest, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// Params returns the bitcoin chain parameters of the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

type CurrencyKind string

const (
	KindBTC   CurrencyKind = "BTC"
	KindETH   CurrencyKind = "ETH"
	KindERC20 CurrencyKind = "ERC20"
)

// Erc20Token identifies a token by its ticker, long name and contract.
type Erc20Token struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Contract string `json:"contract"`
}

// Currency is one of BTC, ETH or an ERC-20 token. Token is set only for
// KindERC20.
type Currency struct {
	Kind  CurrencyKind `json:"kind"`
	Token *Erc20Token  `json:"token,omitempty"`
}

var (
	BTC = Currency{Kind: KindBTC}
	ETH = Currency{Kind: KindETH}
)

// NativeCurrencies are enabled for every user on signup.
var NativeCurrencies = []Currency{BTC, ETH}

// SupportedTokens are the tokens a user may opt in to.
var SupportedTokens = []Erc20Token{
	{Ticker: "USDT", Name: "Tether USD", Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
	{Ticker: "USDC", Name: "USD Coin", Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
	{Ticker: "CRV", Name: "Curve DAO Token", Contract: "0xD533a949740bb3306d119CC777fa900bA034cd52"},
}

func TokenCurrency(t Erc20Token) Currency {
	tok := t
	return Currency{Kind: KindERC20, Token: &tok}
}

// FindCurrency resolves a ticker to a native currency or a supported token.
func FindCurrency(ticker string) (Currency, bool) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	for _, c := range NativeCurrencies {
		if c.Ticker() == ticker {
			return c, true
		}
	}
	for _, t := range SupportedTokens {
		if t.Ticker == ticker {
			return TokenCurrency(t), true
		}
	}
	return Currency{}, false
}

// FindTokenByContract looks a supported token up by contract address.
func FindTokenByContract(contract string) (Erc20Token, bool) {
	for _, t := range SupportedTokens {
		if strings.EqualFold(t.Contract, contract) {
			return t, true
		}
	}
	return Erc20Token{}, false
}

// IsSupportedToken reports whether t matches a supported token exactly.
func IsSupportedToken(t Erc20Token) bool {
	for _, s := range SupportedTokens {
		if s.Ticker == t.Ticker && strings.EqualFold(s.Contract, t.Contract) {
			return true
		}
	}
	return false
}

func (c Currency) Ticker() string {
	if c.Kind == KindERC20 && c.Token != nil {
		return c.Token.Ticker
	}
	return string(c.Kind)
}

// Key is the map key of the currency inside a user's currency table.
func (c Currency) Key() string { return c.Ticker() }

func (c Currency) String() string { return c.Ticker() }

func (c Currency) IsToken() bool { return c.Kind == KindERC20 }

// IsEthereum reports whether the currency lives on the ethereum chain.
func (c Currency) IsEthereum() bool { return c.Kind == KindETH || c.Kind == KindERC20 }

func (c Currency) Equal(o Currency) bool {
	if c.Kind != o.Kind {
		return false
	}
	if c.Kind != KindERC20 {
		return true
	}
	if c.Token == nil || o.Token == nil {
		return c.Token == o.Token
	}
	return c.Token.Ticker == o.Token.Ticker && strings.EqualFold(c.Token.Contract, o.Token.Contract)
}

// Exponent is the power of ten between the display unit and the unit
// amounts are kept in: satoshi for BTC, gwei for ETH, raw units for tokens.
func (c Currency) Exponent() int32 {
	switch c.Kind {
	case KindBTC:
		return -8
	case KindETH:
		return -9
	}
	return 0
}

var ErrInvalidAddress = errors.New("invalid address")

// CurrencyAddress is an address validated for a currency.
type CurrencyAddress struct {
	Currency Currency `json:"currency"`
	Address  string   `json:"address"`
}

// NewCurrencyAddress validates addr for the currency on the network. ETH
// addresses are normalized to their checksummed form.
func NewCurrencyAddress(net Network, cur Currency, addr string) (CurrencyAddress, error) {
	addr = strings.TrimSpace(addr)
	switch cur.Kind {
	case KindBTC:
		params := net.Params()
		decoded, err := btcutil.DecodeAddress(addr, params)
		if err != nil {
			return CurrencyAddress{}, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, addr, err)
		}
		if !decoded.IsForNet(params) {
			return CurrencyAddress{}, fmt.Errorf("%w: %s is not a %s address", ErrInvalidAddress, addr, net)
		}
		return CurrencyAddress{Currency: cur, Address: decoded.EncodeAddress()}, nil
	case KindETH, KindERC20:
		if !common.IsHexAddress(addr) {
			return CurrencyAddress{}, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
		}
		return CurrencyAddress{Currency: cur, Address: common.HexToAddress(addr).Hex()}, nil
	}
	return CurrencyAddress{}, fmt.Errorf("%w: unknown currency %s", ErrInvalidAddress, cur.Kind)
}

func (a CurrencyAddress) Equal(o CurrencyAddress) bool {
	return a.Currency.Equal(o.Currency) && a.SameAddress(o.Address)
}

// SameAddress compares the address part only. Ethereum addresses are case
// insensitive.
func (a CurrencyAddress) SameAddress(addr string) bool {
	if a.Currency.IsEthereum() {
		return strings.EqualFold(a.Address, addr)
	}
	return a.Address == addr
}

func (a CurrencyAddress) String() string {
	return a.Currency.Ticker() + ":" + a.Address
}
