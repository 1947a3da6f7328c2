package chains

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBaseUnitConversion(t *testing.T) {
	setString := func(s string) *big.Int {
		bigInt, ok := new(big.Int).SetString(s, 10)
		if !ok {
			t.Fatalf("Failed to set string %s to big.Int", s)
		}
		return bigInt
	}

	tests := []struct {
		name       string
		amount     string
		chainID    int
		tokenType  TokenType
		baseAmount *big.Int
		isErr      bool
	}{
		{
			name:       "USDC_Base_1_token",
			amount:     "1",
			chainID:    Base,
			tokenType:  TokenTypeUSDC,
			baseAmount: big.NewInt(1000000),
		},
		{
			name:       "USDC_Base_fraction",
			amount:     "12.345678",
			chainID:    Base,
			tokenType:  TokenTypeUSDC,
			baseAmount: big.NewInt(12345678),
		},
		{
			name:       "USDT_BSC_18_decimals",
			amount:     "1",
			chainID:    BSC,
			tokenType:  TokenTypeUSDT,
			baseAmount: setString("1000000000000000000"),
		},
		{
			name:       "Native_Solana_9_decimals",
			amount:     "0.5",
			chainID:    Solana,
			tokenType:  TokenTypeNative,
			baseAmount: big.NewInt(500000000),
		},
		{
			name:      "Unknown_token",
			amount:    "1",
			chainID:   Base,
			tokenType: TokenType("DAI"),
			isErr:     true,
		},
		{
			name:      "Negative_amount",
			amount:    "-1",
			chainID:   Base,
			tokenType: TokenTypeUSDC,
			isErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := ToBaseUnits(decimal.RequireFromString(tt.amount), tt.chainID, tt.tokenType)
			if tt.isErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, 0, tt.baseAmount.Cmp(base), "got %s", base.String())

			back, err := FromBaseUnits(base, tt.chainID, tt.tokenType)
			require.NoError(t, err)
			require.True(t, back.Equal(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestTokenLookups(t *testing.T) {
	require.Equal(t, "BASE", GetChainName(Base))
	require.Equal(t, "", GetChainName(999))
	require.Equal(t, TokenTypeUSDC, GetTokenType("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"))
	require.Equal(t, TokenType(""), GetTokenType("0x0000000000000000000000000000000000000000"))
	require.Equal(t, "", GetTokenAddress(Hyperliquid, TokenTypeUSDT))
}
