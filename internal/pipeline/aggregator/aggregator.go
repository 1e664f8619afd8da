package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/jc4p/dollar-payers-frame/internal/chain/base"
	"github.com/jc4p/dollar-payers-frame/internal/chain/base/rpc"
	"github.com/jc4p/dollar-payers-frame/internal/domain/model"
	"github.com/jc4p/dollar-payers-frame/internal/metrics"
	"github.com/jc4p/dollar-payers-frame/internal/pipeline"
	"github.com/jc4p/dollar-payers-frame/internal/profile"
	"github.com/jc4p/dollar-payers-frame/internal/tracing"
)

const (
	DefaultWindow          = 7 * 24 * time.Hour
	DefaultMaxTransactions = 250
)

// Skip reasons, used as the items_skipped_total label.
const (
	skipTxLookupFailed = "tx_lookup_failed"
	skipTxNotFound     = "tx_not_found"
	skipBadBlockNumber = "bad_block_number"
	skipNoTimestamp    = "timestamp_unavailable"
	skipOutsideWindow  = "outside_window"
	skipNoSender       = "no_sender"
	skipOverCap        = "over_cap"
)

// ChainReader is the chain access the aggregator drives. *base.Reader
// satisfies it.
type ChainReader interface {
	base.BlockTimestamper
	LatestBlockNumber(ctx context.Context) (int64, error)
	FromBlock(head int64) int64
	ScanTransferLogs(ctx context.Context, fromBlock int64) ([]*rpc.Log, error)
	GetTransaction(ctx context.Context, hash string) (*rpc.Transaction, error)
}

// BalanceFetcher never fails; it degrades to zero.
type BalanceFetcher interface {
	BalanceOf(ctx context.Context, holder common.Address) decimal.Decimal
}

type Config struct {
	Target          common.Address
	Window          time.Duration
	MaxTransactions int
}

// Aggregator builds the ranked transfer feed from chain state. Runs share no
// mutable state, so concurrent calls to Run are safe.
type Aggregator struct {
	reader   ChainReader
	balance  BalanceFetcher
	profiles profile.Resolver
	cfg      Config
	health   *pipeline.FeedHealth
	nowFn    func() time.Time
	logger   *slog.Logger
}

type Option func(*Aggregator)

// WithClock overrides the wall clock used for the time window and cachedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.nowFn = now }
}

// WithHealth reports every run outcome to h.
func WithHealth(h *pipeline.FeedHealth) Option {
	return func(a *Aggregator) { a.health = h }
}

func New(reader ChainReader, balance BalanceFetcher, profiles profile.Resolver, cfg Config, logger *slog.Logger, opts ...Option) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxTransactions <= 0 {
		cfg.MaxTransactions = DefaultMaxTransactions
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		reader:   reader,
		balance:  balance,
		profiles: profiles,
		cfg:      cfg,
		nowFn:    time.Now,
		logger:   logger.With("component", "aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run produces a fresh AggregateResult. Only failures to read the chain
// head or scan the logs are returned; everything else degrades per item.
func (a *Aggregator) Run(ctx context.Context) (*model.AggregateResult, error) {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)

	ctx, span := tracing.Tracer("aggregator").Start(ctx, "aggregator.run",
		otelTrace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("target", a.cfg.Target.Hex()),
		),
	)
	defer span.End()

	started := time.Now()
	result, err := a.run(ctx, logger)
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.AggregationErrors.Inc()
		metrics.AggregationLatency.WithLabelValues("error").Observe(elapsed.Seconds())
		if a.health != nil && a.health.RecordFailure(elapsed, err) {
			logger.Error("feed is now unhealthy")
		}
		logger.Error("aggregation failed", "error", err, "elapsed", elapsed)
		return nil, err
	}

	span.SetAttributes(attribute.Int("transfers", len(result.Transfers)))
	metrics.AggregationLatency.WithLabelValues("ok").Observe(elapsed.Seconds())
	metrics.TransfersQualified.Set(float64(len(result.Transfers)))
	if a.health != nil {
		a.health.RecordSuccess(elapsed, len(result.Transfers))
	}
	logger.Info("aggregation complete",
		"transfers", len(result.Transfers),
		"contributors", len(result.Rankings),
		"balance", result.Balance.String(),
		"elapsed", elapsed,
	)
	return result, nil
}

func (a *Aggregator) run(ctx context.Context, logger *slog.Logger) (*model.AggregateResult, error) {
	now := a.nowFn()

	head, err := a.reader.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	fromBlock := a.reader.FromBlock(head)

	logs, err := a.scan(ctx, fromBlock)
	if err != nil {
		return nil, err
	}

	hashes, firstLog := uniqueHashes(logs)
	if len(hashes) > a.cfg.MaxTransactions {
		dropped := len(hashes) - a.cfg.MaxTransactions
		metrics.ItemsSkipped.WithLabelValues(skipOverCap).Add(float64(dropped))
		logger.Warn("transaction cap reached, dropping excess",
			"unique_hashes", len(hashes), "cap", a.cfg.MaxTransactions, "dropped", dropped)
		hashes = hashes[:a.cfg.MaxTransactions]
	}
	logger.Debug("scanned window",
		"head", head, "from_block", fromBlock, "logs", len(logs), "unique_hashes", len(hashes))

	transfers, err := a.resolveTransfers(ctx, logger, hashes, firstLog, now.Add(-a.cfg.Window))
	if err != nil {
		return nil, err
	}

	sortByRecency(transfers)
	rankings := buildRankings(transfers)
	assignRanks(transfers, rankings)

	balance := a.fetchBalance(ctx)
	a.enrich(ctx, transfers)

	return &model.AggregateResult{
		Balance:   model.NewTokenAmount(balance),
		Transfers: transfers,
		Rankings:  rankings,
		Cached:    false,
		CachedAt:  now.UTC(),
	}, nil
}

func (a *Aggregator) scan(ctx context.Context, fromBlock int64) ([]*rpc.Log, error) {
	ctx, span := tracing.Tracer("aggregator").Start(ctx, "aggregator.scan",
		otelTrace.WithAttributes(attribute.Int64("from_block", fromBlock)),
	)
	defer span.End()

	logs, err := a.reader.ScanTransferLogs(ctx, fromBlock)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("logs", len(logs)))
	return logs, nil
}

// resolveTransfers visits each hash sequentially. A failed lookup skips that
// hash only; a cancelled context aborts the run.
func (a *Aggregator) resolveTransfers(
	ctx context.Context,
	logger *slog.Logger,
	hashes []string,
	firstLog map[string]*rpc.Log,
	cutoff time.Time,
) ([]model.TransferRecord, error) {
	ctx, span := tracing.Tracer("aggregator").Start(ctx, "aggregator.resolve_transfers",
		otelTrace.WithAttributes(attribute.Int("hashes", len(hashes))),
	)
	defer span.End()

	memo := base.NewTimestampMemo(a.reader, logger)
	transfers := make([]model.TransferRecord, 0, len(hashes))
	skip := func(reason, hash string, attrs ...any) {
		metrics.ItemsSkipped.WithLabelValues(reason).Inc()
		logger.Debug("transaction skipped", append([]any{"reason", reason, "tx", hash}, attrs...)...)
	}

	for _, hash := range hashes {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("resolve transfers: %w", err)
		}

		tx, err := a.reader.GetTransaction(ctx, hash)
		if err != nil {
			logger.Warn("transaction lookup failed", "tx", hash, "error", err)
			skip(skipTxLookupFailed, hash)
			continue
		}
		if tx == nil {
			skip(skipTxNotFound, hash)
			continue
		}

		log := firstLog[hash]
		blockNumber, err := rpc.ParseHexInt64(tx.BlockNumber)
		if err != nil && log != nil {
			blockNumber, err = rpc.ParseHexInt64(log.BlockNumber)
		}
		if err != nil {
			skip(skipBadBlockNumber, hash, "block_number", tx.BlockNumber)
			continue
		}

		ts, ok := memo.Get(ctx, blockNumber)
		if !ok {
			skip(skipNoTimestamp, hash, "block", blockNumber)
			continue
		}
		if ts.Before(cutoff) {
			skip(skipOutsideWindow, hash, "block", blockNumber)
			continue
		}

		// The transaction sender stands in only when no log matched the
		// hash; a matching log with a malformed sender topic is skipped.
		var sender string
		if log != nil {
			sender, _ = base.SenderFromLog(log)
		} else {
			sender = strings.ToLower(strings.TrimSpace(tx.From))
		}
		if sender == "" {
			skip(skipNoSender, hash)
			continue
		}

		transfers = append(transfers, model.TransferRecord{
			FromAddress:     sender,
			Timestamp:       ts,
			TransactionHash: hash,
		})
	}

	span.SetAttributes(
		attribute.Int("qualified", len(transfers)),
		attribute.Int("blocks_fetched", memo.Len()),
	)
	return transfers, nil
}

func (a *Aggregator) fetchBalance(ctx context.Context) decimal.Decimal {
	ctx, span := tracing.Tracer("aggregator").Start(ctx, "aggregator.balance")
	defer span.End()
	return a.balance.BalanceOf(ctx, a.cfg.Target)
}

func (a *Aggregator) enrich(ctx context.Context, transfers []model.TransferRecord) {
	if a.profiles == nil || len(transfers) == 0 {
		return
	}
	ctx, span := tracing.Tracer("aggregator").Start(ctx, "aggregator.enrich")
	defer span.End()

	resolver := profile.NewRunCache(a.profiles)
	enriched := 0
	for i := range transfers {
		if p, ok := resolver.Resolve(ctx, transfers[i].FromAddress); ok {
			transfers[i].Farcaster = p
			enriched++
		}
	}
	span.SetAttributes(attribute.Int("enriched", enriched))
}

// uniqueHashes returns transaction hashes in order of first appearance and
// the first log seen for each.
func uniqueHashes(logs []*rpc.Log) ([]string, map[string]*rpc.Log) {
	hashes := make([]string, 0, len(logs))
	first := make(map[string]*rpc.Log, len(logs))
	for _, l := range logs {
		if l == nil {
			continue
		}
		hash := strings.TrimSpace(l.TransactionHash)
		if hash == "" {
			continue
		}
		if _, seen := first[hash]; seen {
			continue
		}
		first[hash] = l
		hashes = append(hashes, hash)
	}
	return hashes, first
}

// sortByRecency orders newest first; equal timestamps keep scan order.
func sortByRecency(transfers []model.TransferRecord) {
	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].Timestamp.After(transfers[j].Timestamp)
	})
}

func buildRankings(transfers []model.TransferRecord) []model.ContributorRanking {
	counts := make(map[string]int)
	for _, t := range transfers {
		counts[strings.ToLower(t.FromAddress)]++
	}

	rankings := make([]model.ContributorRanking, 0, len(counts))
	for addr, n := range counts {
		rankings = append(rankings, model.ContributorRanking{Address: addr, Count: n})
	}
	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].Count != rankings[j].Count {
			return rankings[i].Count > rankings[j].Count
		}
		return rankings[i].Address < rankings[j].Address
	})
	return rankings
}

// assignRanks fills Rank on every record. Position counts down from the
// total, so the newest transfer holds the highest number.
func assignRanks(transfers []model.TransferRecord, rankings []model.ContributorRanking) {
	position := make(map[string]int, len(rankings))
	for i, r := range rankings {
		position[r.Address] = i + 1
	}

	total := len(transfers)
	for i := range transfers {
		addr := strings.ToLower(transfers[i].FromAddress)
		rank := position[addr]
		transfers[i].Rank = &model.Rank{
			Position:        total - i,
			ContributorRank: rank,
			Total:           total,
			Count:           rankings[rank-1].Count,
		}
	}
}
