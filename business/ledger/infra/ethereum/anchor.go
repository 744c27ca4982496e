// Package ethereum anchors ledger events on an EVM chain.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/swapengine/business/ledger/app"
	"github.com/fd1az/swapengine/business/ledger/domain"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/cache"
	"github.com/fd1az/swapengine/internal/circuitbreaker"
	"github.com/fd1az/swapengine/internal/logger"
)

const (
	tracerName = "github.com/fd1az/swapengine/business/ledger/infra/ethereum"
	meterName  = "github.com/fd1az/swapengine/business/ledger/infra/ethereum"
)

// AnchorConfig holds configuration for the chain anchor.
type AnchorConfig struct {
	RPCURL        string
	PrivateKey    string // hex, with or without 0x
	AnchorAddress common.Address
	ChainID       *big.Int
	PollInterval  time.Duration // receipt polling
	TipCapFloor   *big.Int      // minimum priority fee
}

// DefaultAnchorConfig returns sensible defaults.
func DefaultAnchorConfig(rpcURL, privateKey string, anchor common.Address, chainID uint64) AnchorConfig {
	return AnchorConfig{
		RPCURL:        rpcURL,
		PrivateKey:    privateKey,
		AnchorAddress: anchor,
		ChainID:       new(big.Int).SetUint64(chainID),
		PollInterval:  2 * time.Second,
		TipCapFloor:   big.NewInt(1_000_000_000), // 1 gwei
	}
}

// rpcClient is the subset of ethclient.Client the anchor uses.
type rpcClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type anchorMetrics struct {
	submitted  metric.Int64Counter
	rpcErrors  metric.Int64Counter
	confirmed  metric.Int64Counter
	gasUsed    metric.Int64Histogram
	blockCache metric.Int64Counter
}

// Anchor writes each event as calldata of a zero-value transaction to the
// anchor address. The consensus timestamp is the including block's time.
type Anchor struct {
	config AnchorConfig
	logger logger.LoggerInterface

	client   rpcClient
	closer   func()
	clientMu sync.RWMutex

	key  *ecdsa.PrivateKey
	from common.Address

	// Nonces are allocated under sendMu so concurrent submissions do not collide.
	sendMu sync.Mutex

	blockTimes *cache.Cache[uint64, time.Time]
	cb         *circuitbreaker.CircuitBreaker[common.Hash]

	tracer  trace.Tracer
	metrics *anchorMetrics
}

var _ app.Submitter = (*Anchor)(nil)

// NewAnchor creates an anchor. Connect must be called before use.
func NewAnchor(cfg AnchorConfig, log logger.LoggerInterface) (*Anchor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("invalid ledger private key"),
			apperror.WithCause(err))
	}

	a := &Anchor{
		config:     cfg,
		logger:     log,
		key:        key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		blockTimes: cache.New[uint64, time.Time](10 * time.Minute),
		tracer:     otel.Tracer(tracerName),
	}

	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	a.initCircuitBreaker()

	return a, nil
}

func (a *Anchor) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	a.metrics = &anchorMetrics{}

	a.metrics.submitted, err = meter.Int64Counter(
		"ledger_anchor_submitted_total",
		metric.WithDescription("Anchor transactions broadcast"),
		metric.WithUnit("{tx}"),
	)
	if err != nil {
		return err
	}

	a.metrics.rpcErrors, err = meter.Int64Counter(
		"ledger_anchor_rpc_errors_total",
		metric.WithDescription("Anchor RPC failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	a.metrics.confirmed, err = meter.Int64Counter(
		"ledger_anchor_confirmed_total",
		metric.WithDescription("Anchor transactions included in a block"),
		metric.WithUnit("{tx}"),
	)
	if err != nil {
		return err
	}

	a.metrics.gasUsed, err = meter.Int64Histogram(
		"ledger_anchor_gas_used",
		metric.WithDescription("Gas used per anchor transaction"),
		metric.WithUnit("{gas}"),
	)
	if err != nil {
		return err
	}

	a.metrics.blockCache, err = meter.Int64Counter(
		"ledger_anchor_block_cache_hits_total",
		metric.WithDescription("Block timestamp cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	return nil
}

func (a *Anchor) initCircuitBreaker() {
	cfg := circuitbreaker.DefaultConfig("ledger-anchor")
	cfg.OnStateChange = func(name string, from, to gobreaker.State) {
		a.logger.Warn(context.Background(), "circuit breaker state changed",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	a.cb = circuitbreaker.New[common.Hash](cfg)
}

// Connect dials the RPC endpoint.
func (a *Anchor) Connect(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "anchor.connect",
		trace.WithAttributes(attribute.String("url", a.config.RPCURL)),
	)
	defer span.End()

	client, err := ethclient.DialContext(ctx, a.config.RPCURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return apperror.New(apperror.CodeEthereumConnection,
			apperror.WithCause(err),
			apperror.WithContext("failed to connect ledger anchor"))
	}

	a.setClient(client, client.Close)

	span.SetStatus(codes.Ok, "connected")
	a.logger.Info(ctx, "ledger anchor connected",
		"url", a.config.RPCURL,
		"from", a.from.Hex(),
		"anchor", a.config.AnchorAddress.Hex())
	return nil
}

func (a *Anchor) setClient(c rpcClient, closer func()) {
	a.clientMu.Lock()
	a.client = c
	a.closer = closer
	a.clientMu.Unlock()
}

func (a *Anchor) rpc() (rpcClient, error) {
	a.clientMu.RLock()
	defer a.clientMu.RUnlock()
	if a.client == nil {
		return nil, apperror.New(apperror.CodeEthereumConnection,
			apperror.WithContext("ledger anchor not connected"))
	}
	return a.client, nil
}

// Submit signs and broadcasts the event. The returned id is the tx hash.
func (a *Anchor) Submit(ctx context.Context, event domain.Event) (string, error) {
	ctx, span := a.tracer.Start(ctx, "anchor.submit",
		trace.WithAttributes(
			attribute.String("event_id", event.ID),
			attribute.String("event_type", string(event.Type)),
		),
	)
	defer span.End()

	client, err := a.rpc()
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	data, err := event.Encode()
	if err != nil {
		return "", apperror.New(apperror.CodeLedgerRejected, apperror.WithCause(err))
	}

	hash, err := a.cb.Execute(func() (common.Hash, error) {
		return a.send(ctx, client, data)
	})
	if err != nil {
		a.metrics.rpcErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "submit")))
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return "", err
	}

	a.metrics.submitted.Add(ctx, 1)
	span.SetAttributes(attribute.String("tx_hash", hash.Hex()))
	span.SetStatus(codes.Ok, "submitted")
	return hash.Hex(), nil
}

func (a *Anchor) send(ctx context.Context, client rpcClient, data []byte) (common.Hash, error) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, a.from)
	if err != nil {
		return common.Hash{}, rpcError("pending nonce", err)
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, rpcError("suggest tip", err)
	}
	if a.config.TipCapFloor != nil && tip.Cmp(a.config.TipCapFloor) < 0 {
		tip = new(big.Int).Set(a.config.TipCapFloor)
	}

	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, rpcError("latest header", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	to := a.config.AnchorAddress
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: a.from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, classify("estimate gas", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.config.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.config.ChainID), a.key)
	if err != nil {
		return common.Hash{}, apperror.New(apperror.CodeLedgerRejected,
			apperror.WithContext("sign anchor transaction"),
			apperror.WithCause(err))
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		if strings.Contains(err.Error(), "already known") {
			return signed.Hash(), nil
		}
		return common.Hash{}, classify("send transaction", err)
	}

	return signed.Hash(), nil
}

// Confirm polls for the receipt and returns the including block's timestamp.
func (a *Anchor) Confirm(ctx context.Context, txID string) (time.Time, error) {
	ctx, span := a.tracer.Start(ctx, "anchor.confirm",
		trace.WithAttributes(attribute.String("tx_hash", txID)),
	)
	defer span.End()

	client, err := a.rpc()
	if err != nil {
		span.RecordError(err)
		return time.Time{}, err
	}

	hash := common.HexToHash(txID)
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return a.resolve(ctx, span, client, receipt)
		case errors.Is(err, ethereum.NotFound):
			span.AddEvent("receipt_pending")
		default:
			a.metrics.rpcErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "receipt")))
			a.logger.Debug(ctx, "receipt lookup failed", "tx_hash", txID, "error", err)
		}

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "unconfirmed")
			return time.Time{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Anchor) resolve(ctx context.Context, span trace.Span, client rpcClient, receipt *types.Receipt) (time.Time, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := apperror.New(apperror.CodeLedgerRejected,
			apperror.WithContext("anchor transaction reverted"),
			apperror.WithDetail("tx_hash", receipt.TxHash.Hex()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "reverted")
		return time.Time{}, err
	}

	a.metrics.gasUsed.Record(ctx, int64(receipt.GasUsed))

	number := receipt.BlockNumber.Uint64()
	if ts, ok := a.blockTimes.Get(ctx, number); ok {
		a.metrics.blockCache.Add(ctx, 1)
		a.metrics.confirmed.Add(ctx, 1)
		span.SetStatus(codes.Ok, "confirmed")
		return ts, nil
	}

	header, err := client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		span.RecordError(err)
		return time.Time{}, rpcError("block header", err)
	}

	ts := time.Unix(int64(header.Time), 0).UTC()
	a.blockTimes.Set(ctx, number, ts, time.Hour)
	a.metrics.confirmed.Add(ctx, 1)

	span.SetAttributes(attribute.Int64("block", int64(number)))
	span.SetStatus(codes.Ok, "confirmed")
	return ts, nil
}

// Ping checks the RPC endpoint for health probes.
func (a *Anchor) Ping(ctx context.Context) error {
	client, err := a.rpc()
	if err != nil {
		return err
	}
	_, err = client.BlockNumber(ctx)
	return err
}

// Close releases the RPC connection and the block cache.
func (a *Anchor) Close() {
	a.blockTimes.Close()

	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	if a.closer != nil {
		a.closer()
	}
	a.client = nil
}

func rpcError(op string, err error) error {
	return apperror.New(apperror.CodeEthereumRPCError,
		apperror.WithContext(op),
		apperror.WithCause(err))
}

// classify separates node rejections, which will not succeed on retry, from
// transport and nonce races, which may.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{
		"insufficient funds",
		"intrinsic gas too low",
		"exceeds block gas limit",
		"execution reverted",
		"invalid sender",
	} {
		if strings.Contains(msg, permanent) {
			return apperror.New(apperror.CodeLedgerRejected,
				apperror.WithContext(op),
				apperror.WithCause(err))
		}
	}
	return rpcError(op, err)
}
