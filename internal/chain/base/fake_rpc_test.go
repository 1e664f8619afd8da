package base

import (
	"context"
	"io"
	"log/slog"

	"github.com/jc4p/dollar-payers-frame/internal/chain/base/rpc"
)

type fakeRPCClient struct {
	head       int64
	blocks     map[int64]*rpc.Block
	txs        map[string]*rpc.Transaction
	logs       []*rpc.Log
	callFn     func(msg rpc.CallMsg) (string, error)
	headErr    error
	blockErr   error
	txErr      error
	logErr     error
	lastFilter rpc.LogFilter
	blockCalls map[int64]int
	callCount  int
}

var _ rpc.RPCClient = (*fakeRPCClient)(nil)

func (f *fakeRPCClient) GetBlockNumber(_ context.Context) (int64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeRPCClient) GetBlockByNumber(_ context.Context, blockNumber int64, _ bool) (*rpc.Block, error) {
	if f.blockCalls == nil {
		f.blockCalls = map[int64]int{}
	}
	f.blockCalls[blockNumber]++
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	return f.blocks[blockNumber], nil
}

func (f *fakeRPCClient) GetTransactionByHash(_ context.Context, hash string) (*rpc.Transaction, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	return f.txs[hash], nil
}

func (f *fakeRPCClient) GetLogs(_ context.Context, filter rpc.LogFilter) ([]*rpc.Log, error) {
	f.lastFilter = filter
	if f.logErr != nil {
		return nil, f.logErr
	}
	return f.logs, nil
}

func (f *fakeRPCClient) Call(_ context.Context, msg rpc.CallMsg) (string, error) {
	f.callCount++
	if f.callFn != nil {
		return f.callFn(msg)
	}
	return "0x", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
