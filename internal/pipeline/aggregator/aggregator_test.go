package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jc4p/dollar-payers-frame/internal/chain/base"
	"github.com/jc4p/dollar-payers-frame/internal/chain/base/rpc"
	"github.com/jc4p/dollar-payers-frame/internal/domain/model"
	"github.com/jc4p/dollar-payers-frame/internal/pipeline"
)

var (
	testTarget = common.HexToAddress("0xAc37dFbef27CAbBbF4f5c0a655B89303F1FB4dcA")
	testNow    = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	alice = "0x00000000000000000000000000000000000a11ce"
	bob   = "0x0000000000000000000000000000000000000b0b"
	carol = "0x00000000000000000000000000000000000ca201"
)

type fakeReader struct {
	head       int64
	headErr    error
	logs       []*rpc.Log
	logErr     error
	txs        map[string]*rpc.Transaction
	txErrs     map[string]error
	blockTimes map[int64]time.Time
	blockErrs  map[int64]error

	scannedFrom int64
	txCalls     map[string]int
	blockCalls  map[int64]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		head:       1_000_000,
		txs:        map[string]*rpc.Transaction{},
		txErrs:     map[string]error{},
		blockTimes: map[int64]time.Time{},
		blockErrs:  map[int64]error{},
		txCalls:    map[string]int{},
		blockCalls: map[int64]int{},
	}
}

func (f *fakeReader) LatestBlockNumber(context.Context) (int64, error) {
	return f.head, f.headErr
}

func (f *fakeReader) FromBlock(head int64) int64 {
	if head < 50000 {
		return 0
	}
	return head - 50000
}

func (f *fakeReader) ScanTransferLogs(_ context.Context, fromBlock int64) ([]*rpc.Log, error) {
	f.scannedFrom = fromBlock
	if f.logErr != nil {
		return nil, f.logErr
	}
	return f.logs, nil
}

func (f *fakeReader) GetTransaction(_ context.Context, hash string) (*rpc.Transaction, error) {
	f.txCalls[hash]++
	if err := f.txErrs[hash]; err != nil {
		return nil, err
	}
	return f.txs[hash], nil
}

func (f *fakeReader) BlockTimestamp(_ context.Context, number int64) (time.Time, bool, error) {
	f.blockCalls[number]++
	if err := f.blockErrs[number]; err != nil {
		return time.Time{}, false, err
	}
	ts, ok := f.blockTimes[number]
	return ts, ok, nil
}

// addTransfer registers a Transfer log from sender in block, with the block
// stamped age before testNow.
func (f *fakeReader) addTransfer(hash, sender string, block int64, age time.Duration) {
	f.logs = append(f.logs, &rpc.Log{
		TransactionHash: hash,
		BlockNumber:     rpc.FormatHexInt64(block),
		Topics: []string{
			base.TransferTopic.Hex(),
			base.AddressTopic(common.HexToAddress(sender)),
			base.AddressTopic(testTarget),
		},
	})
	f.txs[hash] = &rpc.Transaction{
		Hash:        hash,
		BlockNumber: rpc.FormatHexInt64(block),
		From:        "0x000000000000000000000000000000000000dead",
	}
	f.blockTimes[block] = testNow.Add(-age)
}

type fakeBalance struct {
	value decimal.Decimal
	calls int
}

func (f *fakeBalance) BalanceOf(_ context.Context, holder common.Address) decimal.Decimal {
	f.calls++
	return f.value
}

type fakeProfiles struct {
	profiles map[string]*model.Profile
	calls    map[string]int
}

func (f *fakeProfiles) Resolve(_ context.Context, address string) (*model.Profile, bool) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[address]++
	p, ok := f.profiles[address]
	return p, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(reader ChainReader, balance BalanceFetcher, profiles *fakeProfiles, opts ...Option) *Aggregator {
	if profiles == nil {
		profiles = &fakeProfiles{}
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(reader, balance, profiles, Config{Target: testTarget}, discardLogger(), opts...)
}

func assertResultInvariants(t *testing.T, result *model.AggregateResult) {
	t.Helper()
	assert.Equal(t, len(result.Transfers), result.RankedCount(), "rankings must account for every transfer")

	for i := 1; i < len(result.Transfers); i++ {
		assert.False(t, result.Transfers[i].Timestamp.After(result.Transfers[i-1].Timestamp),
			"transfers must be newest first")
	}
	for i := 1; i < len(result.Rankings); i++ {
		prev, cur := result.Rankings[i-1], result.Rankings[i]
		assert.True(t, prev.Count > cur.Count || (prev.Count == cur.Count && prev.Address < cur.Address),
			"rankings out of order at %d", i)
	}
	if n := len(result.Transfers); n > 0 {
		assert.Equal(t, n, result.Transfers[0].Rank.Position)
		assert.Equal(t, 1, result.Transfers[n-1].Rank.Position)
	}
}

func TestRun_RanksAndSorts(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, 3*time.Hour)
	reader.addTransfer("0x02", bob, 900_002, 2*time.Hour)
	reader.addTransfer("0x03", alice, 900_003, 1*time.Hour)
	reader.addTransfer("0x04", carol, 900_004, 30*time.Minute)

	balance := &fakeBalance{value: decimal.RequireFromString("42.5")}
	agg := newTestAggregator(reader, balance, nil)

	result, err := agg.Run(context.Background())
	require.NoError(t, err)
	assertResultInvariants(t, result)

	assert.Equal(t, int64(950_000), reader.scannedFrom)
	assert.False(t, result.Cached)
	assert.Equal(t, testNow, result.CachedAt)
	assert.True(t, decimal.RequireFromString("42.5").Equal(result.Balance.Decimal))

	hashes := make([]string, 0, len(result.Transfers))
	for _, tr := range result.Transfers {
		hashes = append(hashes, tr.TransactionHash)
	}
	assert.Equal(t, []string{"0x04", "0x03", "0x02", "0x01"}, hashes)

	assert.Equal(t, []model.ContributorRanking{
		{Address: alice, Count: 2},
		{Address: bob, Count: 1},
		{Address: carol, Count: 1},
	}, result.Rankings)

	assert.Equal(t, &model.Rank{Position: 4, ContributorRank: 3, Total: 4, Count: 1}, result.Transfers[0].Rank)
	assert.Equal(t, &model.Rank{Position: 3, ContributorRank: 1, Total: 4, Count: 2}, result.Transfers[1].Rank)
	assert.Equal(t, &model.Rank{Position: 2, ContributorRank: 2, Total: 4, Count: 1}, result.Transfers[2].Rank)
	assert.Equal(t, &model.Rank{Position: 1, ContributorRank: 1, Total: 4, Count: 2}, result.Transfers[3].Rank)
}

func TestRun_NoLogsStillReportsBalance(t *testing.T) {
	reader := newFakeReader()
	balance := &fakeBalance{value: decimal.RequireFromString("7.25")}

	result, err := newTestAggregator(reader, balance, nil).Run(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, result.Transfers)
	assert.NotNil(t, result.Rankings)
	assert.Empty(t, result.Transfers)
	assert.Empty(t, result.Rankings)
	assert.Equal(t, 1, balance.calls)
	assert.True(t, decimal.RequireFromString("7.25").Equal(result.Balance.Decimal))
}

func TestRun_SameSenderTwice(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, 2*time.Hour)
	reader.addTransfer("0x02", alice, 900_002, time.Hour)

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)
	assertResultInvariants(t, result)

	require.Len(t, result.Rankings, 1)
	assert.Equal(t, model.ContributorRanking{Address: alice, Count: 2}, result.Rankings[0])
	for _, tr := range result.Transfers {
		assert.Equal(t, 2, tr.Rank.Count)
		assert.Equal(t, 1, tr.Rank.ContributorRank)
	}
}

func TestRun_ExcludesTransfersOutsideWindow(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, 8*24*time.Hour)
	reader.addTransfer("0x02", bob, 900_002, 24*time.Hour)

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)
	assertResultInvariants(t, result)

	require.Len(t, result.Transfers, 1)
	assert.Equal(t, "0x02", result.Transfers[0].TransactionHash)
	assert.Equal(t, []model.ContributorRanking{{Address: bob, Count: 1}}, result.Rankings)
}

func TestRun_WindowBoundaryIsInclusive(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, DefaultWindow)

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Transfers, 1)
}

func TestRun_PerItemFailuresAreSkipped(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, time.Hour)
	reader.addTransfer("0x02", bob, 900_002, time.Hour)
	reader.addTransfer("0x03", carol, 900_003, time.Hour)
	reader.addTransfer("0x04", carol, 900_004, time.Hour)

	reader.txErrs["0x01"] = errors.New("http status 503")
	delete(reader.txs, "0x02")
	reader.blockErrs[900_003] = errors.New("timeout")

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)
	assertResultInvariants(t, result)

	require.Len(t, result.Transfers, 1)
	assert.Equal(t, "0x04", result.Transfers[0].TransactionHash)
}

func TestRun_FetchesEachBlockOnce(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, time.Hour)
	reader.addTransfer("0x02", bob, 900_001, time.Hour)
	reader.addTransfer("0x03", carol, 900_001, time.Hour)
	reader.addTransfer("0x04", carol, 900_002, time.Hour)
	reader.addTransfer("0x05", carol, 900_002, time.Hour)
	reader.blockErrs[900_002] = errors.New("unavailable")

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Transfers, 3)
	assert.Equal(t, 1, reader.blockCalls[900_001])
	assert.Equal(t, 1, reader.blockCalls[900_002])
}

func TestRun_DeduplicatesHashesAndUsesFirstLog(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, time.Hour)
	// A second log in the same transaction from another sender.
	reader.logs = append(reader.logs, &rpc.Log{
		TransactionHash: "0x01",
		Topics:          []string{base.TransferTopic.Hex(), base.AddressTopic(common.HexToAddress(bob))},
	})

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Transfers, 1)
	assert.Equal(t, alice, result.Transfers[0].FromAddress)
	assert.Equal(t, 1, reader.txCalls["0x01"])
}

func TestRun_MalformedSenderTopicIsSkipped(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, time.Hour)
	reader.addTransfer("0x02", bob, 900_002, time.Hour)
	reader.logs[0].Topics = []string{base.TransferTopic.Hex()}
	reader.logs[1].Topics[1] = "0xdeadbeef"

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)
	assertResultInvariants(t, result)

	assert.Empty(t, result.Transfers)
	assert.Empty(t, result.Rankings)
}

func TestResolveTransfers_UsesTransactionSenderWithoutLog(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, time.Hour)
	reader.txs["0x01"].From = "0x000000000000000000000000000000000000BEEF"

	agg := newTestAggregator(reader, &fakeBalance{}, nil)
	transfers, err := agg.resolveTransfers(context.Background(), discardLogger(),
		[]string{"0x01"}, map[string]*rpc.Log{}, testNow.Add(-DefaultWindow))
	require.NoError(t, err)

	require.Len(t, transfers, 1)
	assert.Equal(t, "0x000000000000000000000000000000000000beef", transfers[0].FromAddress)
}

func TestRun_CapsUniqueHashes(t *testing.T) {
	reader := newFakeReader()
	for i := 0; i < 260; i++ {
		reader.addTransfer(fmt.Sprintf("0x%04x", i), alice, int64(900_000+i), time.Hour)
	}

	result, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
	require.NoError(t, err)
	assertResultInvariants(t, result)

	assert.Len(t, result.Transfers, DefaultMaxTransactions)
	assert.Zero(t, reader.txCalls["0x00fa"], "hash 250 is past the cap")
	assert.Equal(t, 1, reader.txCalls["0x00f9"])
}

func TestRun_ProfileEnrichment(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, 3*time.Hour)
	reader.addTransfer("0x02", bob, 900_002, 2*time.Hour)
	reader.addTransfer("0x03", alice, 900_003, time.Hour)

	profiles := &fakeProfiles{profiles: map[string]*model.Profile{
		alice: {Username: "alice", DisplayName: "Alice", PfpURL: "https://img/a.png", FID: 1},
	}}

	result, err := newTestAggregator(reader, &fakeBalance{}, profiles).Run(context.Background())
	require.NoError(t, err)

	for _, tr := range result.Transfers {
		if tr.FromAddress == alice {
			require.NotNil(t, tr.Farcaster)
			assert.Equal(t, "alice", tr.Farcaster.Username)
		} else {
			assert.Nil(t, tr.Farcaster, "unresolved sender must have no profile")
		}
	}
	assert.Equal(t, 1, profiles.calls[alice], "lookups are memoized per run")
	assert.Equal(t, 1, profiles.calls[bob])
}

func TestRun_FatalErrors(t *testing.T) {
	t.Run("block height", func(t *testing.T) {
		reader := newFakeReader()
		reader.headErr = errors.New("connection refused")
		health := pipeline.NewFeedHealth()
		balance := &fakeBalance{}

		_, err := newTestAggregator(reader, balance, nil, WithHealth(health)).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Zero(t, balance.calls)
		assert.Equal(t, 1, health.Snapshot().ConsecutiveFailures)
	})

	t.Run("log scan", func(t *testing.T) {
		reader := newFakeReader()
		reader.logErr = errors.New("eth_getLogs: block range too large")

		_, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "block range too large")
	})

	t.Run("cancelled context", func(t *testing.T) {
		reader := newFakeReader()
		reader.addTransfer("0x01", alice, 900_001, time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestAggregator(reader, &fakeBalance{}, nil).Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRun_RecordsHealthOnSuccess(t *testing.T) {
	reader := newFakeReader()
	reader.addTransfer("0x01", alice, 900_001, time.Hour)
	health := pipeline.NewFeedHealth()

	_, err := newTestAggregator(reader, &fakeBalance{}, nil, WithHealth(health)).Run(context.Background())
	require.NoError(t, err)

	snap := health.Snapshot()
	assert.Equal(t, string(pipeline.HealthStatusHealthy), snap.Status)
	assert.Equal(t, 1, snap.LastTransferCount)
}

func TestBuildRankings_TieBreakByAddress(t *testing.T) {
	transfers := []model.TransferRecord{
		{FromAddress: carol}, {FromAddress: bob}, {FromAddress: alice}, {FromAddress: bob},
	}
	assert.Equal(t, []model.ContributorRanking{
		{Address: bob, Count: 2},
		{Address: alice, Count: 1},
		{Address: carol, Count: 1},
	}, buildRankings(transfers))
}

func TestSortByRecency_StableForEqualTimestamps(t *testing.T) {
	ts := testNow.Add(-time.Hour)
	transfers := []model.TransferRecord{
		{TransactionHash: "0xa", Timestamp: ts},
		{TransactionHash: "0xb", Timestamp: testNow},
		{TransactionHash: "0xc", Timestamp: ts},
	}
	sortByRecency(transfers)
	assert.Equal(t, "0xb", transfers[0].TransactionHash)
	assert.Equal(t, "0xa", transfers[1].TransactionHash)
	assert.Equal(t, "0xc", transfers[2].TransactionHash)
}
