package chains

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenType represents a settlement token symbol
type TokenType string

const (
	// TokenTypeUSDC represents USDC token
	TokenTypeUSDC TokenType = "USDC"
	// TokenTypeUSDT represents USDT token
	TokenTypeUSDT TokenType = "USDT"
	// TokenTypeNative represents the chain's gas token
	TokenTypeNative TokenType = "NATIVE"
)

// Chain IDs used by the escrow and the bridge providers.
// Non-EVM destinations use the identifiers assigned by the bridge aggregators.
const (
	Ethereum    = 1
	BSC         = 56
	Polygon     = 137
	Base        = 8453
	Arbitrum    = 42161
	Avalanche   = 43114
	Hyperliquid = 1337
	Solana      = 792703809
)

// ChainList contains the list of supported chain IDs
var ChainList = []int{
	Ethereum,
	BSC,
	Polygon,
	Base,
	Arbitrum,
	Avalanche,
	Hyperliquid,
	Solana,
}

// chainNames maps chain IDs to their names
var chainNames = map[int]string{
	Ethereum:    "ETHEREUM",
	BSC:         "BSC",
	Polygon:     "POLYGON",
	Base:        "BASE",
	Arbitrum:    "ARBITRUM",
	Avalanche:   "AVALANCHE",
	Hyperliquid: "HYPERLIQUID",
	Solana:      "SOLANA",
}

// usdcAddresses maps chain IDs to USDC contract addresses
var usdcAddresses = map[int]string{
	Ethereum:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	BSC:       "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	Polygon:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	Base:      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	Arbitrum:  "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	Avalanche: "0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e",
	Solana:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
}

// usdtAddresses maps chain IDs to USDT contract addresses
var usdtAddresses = map[int]string{
	Ethereum:  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	BSC:       "0x55d398326f99059fF775485246999027B3197955",
	Polygon:   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	Arbitrum:  "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	Avalanche: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
	Solana:    "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int) string {
	name, exists := chainNames[chainID]
	if !exists {
		return ""
	}
	return name
}

// GetTokenAddress returns the contract address of a stablecoin on a chain, or an empty string
func GetTokenAddress(chainID int, tokenType TokenType) string {
	switch tokenType {
	case TokenTypeUSDC:
		return usdcAddresses[chainID]
	case TokenTypeUSDT:
		return usdtAddresses[chainID]
	}
	return ""
}

// GetTokenType returns the token type for an address, or an empty string if unknown
func GetTokenType(address string) TokenType {
	address = strings.ToLower(address)

	for _, usdcAddress := range usdcAddresses {
		if strings.ToLower(usdcAddress) == address {
			return TokenTypeUSDC
		}
	}
	for _, usdtAddress := range usdtAddresses {
		if strings.ToLower(usdtAddress) == address {
			return TokenTypeUSDT
		}
	}
	return ""
}

// GetTokenDecimals returns the decimals of a stablecoin on a chain
// BSC stablecoins use 18 decimals, everything else 6
func GetTokenDecimals(chainID int, tokenType TokenType) (int32, error) {
	switch tokenType {
	case TokenTypeUSDC, TokenTypeUSDT:
		if chainID == BSC {
			return 18, nil
		}
		return 6, nil
	case TokenTypeNative:
		if chainID == Solana {
			return 9, nil
		}
		return 18, nil
	}
	return 0, fmt.Errorf("unknown token type %q", tokenType)
}

// ToBaseUnits converts a human amount into the token's integer base units
func ToBaseUnits(amount decimal.Decimal, chainID int, tokenType TokenType) (*big.Int, error) {
	decimals, err := GetTokenDecimals(chainID, tokenType)
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount.String())
	}
	return amount.Shift(decimals).Truncate(0).BigInt(), nil
}

// FromBaseUnits converts integer base units into a human amount
func FromBaseUnits(baseAmount *big.Int, chainID int, tokenType TokenType) (decimal.Decimal, error) {
	if baseAmount == nil {
		return decimal.Zero, fmt.Errorf("nil amount")
	}
	decimals, err := GetTokenDecimals(chainID, tokenType)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(baseAmount, -decimals), nil
}
