package base

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jc4p/dollar-payers-frame/internal/chain/base/rpc"
)

// TransferTopic is topic0 of the ERC-20 Transfer(address,address,uint256) event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DefaultLookbackBlocks is roughly three to four days of Base blocks.
const DefaultLookbackBlocks = 50000

// Reader issues the chain reads the feed needs against a single node.
type Reader struct {
	client    rpc.RPCClient
	token     common.Address
	recipient common.Address
	lookback  int64
	logger    *slog.Logger
}

func NewReader(client rpc.RPCClient, token, recipient common.Address, lookbackBlocks int64, logger *slog.Logger) *Reader {
	if lookbackBlocks <= 0 {
		lookbackBlocks = DefaultLookbackBlocks
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		client:    client,
		token:     token,
		recipient: recipient,
		lookback:  lookbackBlocks,
		logger:    logger.With("component", "chain_reader", "chain", "base"),
	}
}

func (r *Reader) LatestBlockNumber(ctx context.Context) (int64, error) {
	head, err := r.client.GetBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get head block: %w", err)
	}
	return head, nil
}

// FromBlock returns the first block of the look-back window ending at head.
func (r *Reader) FromBlock(head int64) int64 {
	from := head - r.lookback
	if from < 0 {
		return 0
	}
	return from
}

// ScanTransferLogs returns Transfer logs emitted by the token contract into
// the recipient, from fromBlock through the chain head. The sender topic is
// left as a wildcard.
func (r *Reader) ScanTransferLogs(ctx context.Context, fromBlock int64) ([]*rpc.Log, error) {
	filter := rpc.LogFilter{
		FromBlock: rpc.FormatHexInt64(fromBlock),
		ToBlock:   rpc.BlockTagLatest,
		Address:   r.token.Hex(),
		Topics:    []interface{}{TransferTopic.Hex(), nil, AddressTopic(r.recipient)},
	}

	logs, err := r.client.GetLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("scan transfer logs from block %d: %w", fromBlock, err)
	}
	r.logger.Debug("scanned transfer logs", "from_block", fromBlock, "logs", len(logs))
	return logs, nil
}

// GetTransaction returns nil without error when the node does not know hash.
func (r *Reader) GetTransaction(ctx context.Context, hash string) (*rpc.Transaction, error) {
	tx, err := r.client.GetTransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash, err)
	}
	return tx, nil
}

// BlockTimestamp returns the block's timestamp, or ok=false when the node
// has no such block.
func (r *Reader) BlockTimestamp(ctx context.Context, number int64) (ts time.Time, ok bool, err error) {
	block, err := r.client.GetBlockByNumber(ctx, number, false)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get block %d: %w", number, err)
	}
	if block == nil {
		return time.Time{}, false, nil
	}
	secs, err := rpc.ParseHexInt64(block.Timestamp)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse block %d timestamp: %w", number, err)
	}
	return time.Unix(secs, 0).UTC(), true, nil
}

// AddressTopic left-pads addr to a 32-byte topic word.
func AddressTopic(addr common.Address) string {
	return common.BytesToHash(addr.Bytes()).Hex()
}

// SenderFromLog extracts the lower-cased sender address from topics[1].
func SenderFromLog(log *rpc.Log) (string, bool) {
	if log == nil || len(log.Topics) < 2 {
		return "", false
	}
	topic := strings.TrimSpace(log.Topics[1])
	raw := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(raw) != 2*common.HashLength {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(raw[24:]).Hex()), true
}
