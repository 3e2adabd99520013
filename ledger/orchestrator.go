package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"oguogu/crypto"
	"oguogu/observability"
)

// TransactionFailedError reports a transaction that confirmed with a
// revert status. It is fatal: the effect is settled on the ledger and a
// retry would double-spend.
type TransactionFailedError struct {
	TxHash common.Hash
	Status uint64
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("ledger: transaction %s failed with status %d", e.TxHash.Hex(), e.Status)
}

// ConfirmationTimeoutError reports an unknown outcome: the transaction
// was submitted but no receipt appeared before the deadline. The caller
// should re-query before retrying to avoid duplicate submission.
type ConfirmationTimeoutError struct {
	TxHash common.Hash
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("ledger: timed out waiting for receipt of %s", e.TxHash.Hex())
}

// Config carries the dependencies for an Orchestrator.
type Config struct {
	Client         Client
	Signer         *crypto.Signer
	Contract       *Contract
	ChainID        *big.Int
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *observability.LedgerMetrics
}

// Orchestrator turns a desired contract call into a confirmed, verified
// effect exactly once. Submission is never retried; only receipt polling
// is.
type Orchestrator struct {
	client         Client
	signer         *crypto.Signer
	contract       *Contract
	chainID        *big.Int
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.LedgerMetrics

	// Process-local nonce reservation. The node's pending count alone is
	// not enough: two concurrent submissions from the operator key would
	// both read the same pending nonce.
	mu         sync.Mutex
	nextNonce  uint64
	nonceKnown bool
}

// NewOrchestrator constructs an orchestrator with defaulted timing.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:         cfg.Client,
		signer:         cfg.Signer,
		contract:       cfg.Contract,
		chainID:        cfg.ChainID,
		pollInterval:   cfg.PollInterval,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         logger,
		metrics:        cfg.Metrics,
	}
}

// Contract exposes the bound registry contract.
func (o *Orchestrator) Contract() *Contract {
	return o.contract
}

// Submit signs and sends a contract call from the operator account, waits
// for its receipt and verifies the success status.
func (o *Orchestrator) Submit(ctx context.Context, calldata []byte) (*types.Receipt, error) {
	nonce, err := o.reserveNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account nonce: %w", err)
	}

	gasPrice, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		o.releaseNonce(nonce)
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	to := o.contract.Address()
	gasLimit, err := o.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     o.signer.Address(),
		To:       &to,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	if err != nil {
		o.releaseNonce(nonce)
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, to, new(big.Int), gasLimit, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(o.chainID), o.signer.Key())
	if err != nil {
		o.releaseNonce(nonce)
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := o.client.SendTransaction(ctx, signed); err != nil {
		o.releaseNonce(nonce)
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	if o.metrics != nil {
		o.metrics.Submitted.Inc()
	}
	o.logger.Info("transaction submitted", "tx", signed.Hash().Hex(), "nonce", nonce)

	start := time.Now()
	receipt, err := o.WaitForReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ConfirmLatency.Observe(time.Since(start).Seconds())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		if o.metrics != nil {
			o.metrics.Failed.Inc()
		}
		return nil, &TransactionFailedError{TxHash: signed.Hash(), Status: receipt.Status}
	}
	if o.metrics != nil {
		o.metrics.Confirmed.Inc()
	}
	return receipt, nil
}

// WaitForReceipt polls for a receipt at the configured interval up to the
// confirmation timeout. Transient RPC errors (including not-found while
// the transaction is still pending) are swallowed and retried.
func (o *Orchestrator) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(o.confirmTimeout)
	for {
		receipt, err := o.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			if o.metrics != nil {
				o.metrics.Timeouts.Inc()
			}
			return nil, &ConfirmationTimeoutError{TxHash: txHash}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.pollInterval):
		}
	}
}

// BlockTime resolves the wall-clock timestamp of the receipt's block.
// Domain effects are dated from the ledger, never the local clock.
func (o *Orchestrator) BlockTime(ctx context.Context, receipt *types.Receipt) (time.Time, error) {
	if receipt == nil || receipt.BlockNumber == nil {
		return time.Time{}, fmt.Errorf("receipt missing block number")
	}
	header, err := o.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch block %s: %w", receipt.BlockNumber, err)
	}
	if header == nil {
		return time.Time{}, fmt.Errorf("block %s not found", receipt.BlockNumber)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (o *Orchestrator) reserveNonce(ctx context.Context) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pending, err := o.client.PendingNonceAt(ctx, o.signer.Address())
	if err != nil {
		return 0, err
	}
	if !o.nonceKnown || pending > o.nextNonce {
		o.nextNonce = pending
		o.nonceKnown = true
	}
	nonce := o.nextNonce
	o.nextNonce++
	return nonce, nil
}

// releaseNonce rolls back a reservation whose transaction never reached
// the node, so the slot is not burned.
func (o *Orchestrator) releaseNonce(nonce uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.nextNonce == nonce+1 {
		o.nextNonce = nonce
	}
}
