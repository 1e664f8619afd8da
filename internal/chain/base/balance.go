package base

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/jc4p/dollar-payers-frame/internal/chain/base/rpc"
	"github.com/jc4p/dollar-payers-frame/internal/metrics"
	"github.com/jc4p/dollar-payers-frame/internal/pipeline/retry"
)

const (
	// balanceOfSelector is the 4-byte selector of balanceOf(address).
	balanceOfSelector = "0x70a08231"

	DefaultTokenDecimals      = 6
	DefaultBalanceMaxAttempts = 3
)

var errEmptyBalance = errors.New("empty balanceOf result")

// BalanceReader reads an ERC-20 balance with a bounded number of attempts.
type BalanceReader struct {
	client   rpc.RPCClient
	token    common.Address
	decimals int32
	attempts int
	logger   *slog.Logger
}

func NewBalanceReader(client rpc.RPCClient, token common.Address, decimals int32, attempts int, logger *slog.Logger) *BalanceReader {
	if attempts <= 0 {
		attempts = DefaultBalanceMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceReader{
		client:   client,
		token:    token,
		decimals: decimals,
		attempts: attempts,
		logger:   logger.With("component", "balance_reader"),
	}
}

// BalanceOf returns holder's token balance scaled by the token decimals.
// Every failure is retried immediately; once the attempts are spent the
// balance degrades to zero.
func (b *BalanceReader) BalanceOf(ctx context.Context, holder common.Address) decimal.Decimal {
	msg := rpc.CallMsg{To: b.token.Hex(), Data: BalanceOfCalldata(holder)}

	var balance decimal.Decimal
	err := retry.Do(ctx, retry.Policy{
		Attempts: b.attempts,
		OnRetry: func(attempt int, err error) {
			b.logger.Warn("balanceOf attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", b.attempts,
				"class", retry.Classify(err).Class,
				"error", err,
			)
		},
	}, func(ctx context.Context) error {
		out, err := b.client.Call(ctx, msg)
		if err == nil {
			balance, err = DecodeBalance(out, b.decimals)
		}
		if err != nil {
			metrics.BalanceAttempts.WithLabelValues("error").Inc()
			return err
		}
		metrics.BalanceAttempts.WithLabelValues("ok").Inc()
		return nil
	})
	if err != nil {
		b.logger.Error("balanceOf failed after all attempts, reporting zero",
			"holder", holder.Hex(), "attempts", b.attempts, "error", err)
		return decimal.Zero
	}
	return balance
}

// BalanceOfCalldata encodes balanceOf(holder).
func BalanceOfCalldata(holder common.Address) string {
	return balanceOfSelector + common.Bytes2Hex(common.LeftPadBytes(holder.Bytes(), 32))
}

// DecodeBalance parses a uint256 return word and scales it down by decimals.
func DecodeBalance(result string, decimals int32) (decimal.Decimal, error) {
	raw, err := hexutil.Decode(result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode balance %q: %w", result, err)
	}
	if len(raw) == 0 {
		return decimal.Zero, errEmptyBalance
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(raw), -decimals), nil
}
