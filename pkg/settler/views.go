package settler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/offramp-settler/pkg/chains"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
	"github.com/speedrun-hq/offramp-settler/pkg/store"
)

var stablecoins = []chains.TokenType{chains.TokenTypeUSDC, chains.TokenTypeUSDT}

type balanceReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// viewRefresher keeps the balance and pending settlement gauges of the account current
type viewRefresher struct {
	balances balanceReader
	records  store.Store
	chainID  int
	logger   logger.Logger
}

func newViewRefresher(balances balanceReader, records store.Store, chainID int, log logger.Logger) *viewRefresher {
	return &viewRefresher{
		balances: balances,
		records:  records,
		chainID:  chainID,
		logger:   log,
	}
}

// RefreshBalances reads the stablecoin balances of the account on the settlement chain
func (v *viewRefresher) RefreshBalances(ctx context.Context, account string) error {
	owner := common.HexToAddress(account)
	chainLabel := strconv.Itoa(v.chainID)

	var errs []error
	for _, tokenType := range stablecoins {
		address := chains.GetTokenAddress(v.chainID, tokenType)
		if address == "" {
			continue
		}
		raw, err := v.balances.TokenBalance(ctx, common.HexToAddress(address), owner)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s balance: %w", tokenType, err))
			continue
		}
		decimals, err := chains.GetTokenDecimals(v.chainID, tokenType)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		balance, _ := decimal.NewFromBigInt(raw, -decimals).Float64()
		metrics.TokenBalance.WithLabelValues(chainLabel, string(tokenType)).Set(balance)
		v.logger.DebugWithChain(v.chainID, "%s balance of %s: %.2f", tokenType, account, balance)
	}
	return errors.Join(errs...)
}

// RefreshIntents reports whether a settlement of the account is still waiting to be bridged
func (v *viewRefresher) RefreshIntents(ctx context.Context, account string) error {
	rec, err := v.records.Get(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to read settlement record: %w", err)
	}
	if rec == nil {
		metrics.PendingSettlement.Set(0)
		return nil
	}
	metrics.PendingSettlement.Set(1)
	v.logger.Debug("Settlement of intent %s is %s", rec.IntentHash, rec.Status)
	return nil
}
