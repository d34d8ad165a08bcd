// Package verifier implements the payment verification state machine:
//
//	Lookup -> ChainQuery -> {Retry -> ChainQuery}* -> Evaluate -> Finalize
//
// The engine holds no persistent state of its own; it orchestrates the
// ledger (intent lookup, terminal transitions) and the chain client
// (transaction queries). The amount and recipient checks here are the
// security boundary of the whole payment feature.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codebazaar/paygate/pkg/chain"
	"github.com/codebazaar/paygate/pkg/constants"
	"github.com/codebazaar/paygate/pkg/ledger"
	"github.com/codebazaar/paygate/pkg/metrics"
	"github.com/codebazaar/paygate/pkg/types"
)

// Ledger is the slice of the payment ledger the engine drives.
type Ledger interface {
	FindPendingIntent(ctx context.Context, intentID, payer string) (*types.PaymentIntent, error)
	FinalizeIntent(ctx context.Context, intentID string, fin ledger.Finalization) (*types.PurchaseGrant, error)
}

// Options tune the retry loop. Zero values fall back to the defaults in
// constants.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = constants.VerifyMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = constants.VerifyRetryDelay
	}
	return o
}

// Engine verifies claimed payments against their intents.
type Engine struct {
	ledger   Ledger
	chain    chain.Client
	opts     Options
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewEngine wires the engine. logger and recorder may be nil.
func NewEngine(l Ledger, c chain.Client, opts Options, logger *slog.Logger, recorder metrics.Recorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	return &Engine{
		ledger:   l,
		chain:    c,
		opts:     opts.withDefaults(),
		logger:   logger,
		recorder: recorder,
	}
}

// Verify checks the claimed transaction against the intent and finalizes
// ledger state accordingly.
//
// Outcomes:
//   - (outcome.Granted, nil): intent confirmed, grant written.
//   - (outcome.StillPending, nil): retry budget exhausted while the chain
//     still reports pending/not-found. The intent stays pending; the caller
//     polls again. Explicitly not a failure.
//   - (nil, *types.Error): terminal domain failure (TX_FAILED,
//     INVALID_AMOUNT, VERIFICATION_FAILED — intent finalized as failed),
//     rejection (INTENT_NOT_FOUND), or a transient infrastructure error
//     (CHAIN_UNAVAILABLE, LEDGER_ERROR — nothing finalized, recoverable).
//
// An infrastructure error never finalizes the intent: only a definitive
// chain-reported failure or a definitive evaluation mismatch does.
func (e *Engine) Verify(ctx context.Context, intentID, txHash, payer string) (*types.VerifyOutcome, error) {
	start := time.Now()
	labels := map[string]string{"tier": ""}

	// Lookup. Finalization is terminal: a confirmed or failed intent can
	// never be re-verified, which is what makes double-submits safe.
	intent, err := e.ledger.FindPendingIntent(ctx, intentID, payer)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeIntentNotFound {
			e.recorder.IncCounter(metrics.CounterVerifyRejected, labels)
			var de *types.Error
			errors.As(err, &de)
			return nil, de.WithRecoverable(false).
				WithSteps("Request a new payment intent; this one was already processed or has expired.")
		}
		return nil, err
	}
	labels["tier"] = intent.Tier.String()

	view, attempts, err := e.queryChain(ctx, txHash, labels)
	if err != nil {
		return nil, err
	}
	if view == nil {
		// Retry budget exhausted while unsettled. The intent survives so
		// the buyer can poll again; burning it here would punish normal
		// chain propagation lag.
		e.recorder.IncCounter(metrics.CounterVerifyPending, labels)
		e.logger.Info("verification still pending",
			"intent", intentID, "txHash", txHash, "attempts", attempts)
		return &types.VerifyOutcome{StillPending: true, TxHash: txHash, Attempts: attempts}, nil
	}

	if view.Status == types.TxFailed {
		return nil, e.finalizeFailed(ctx, intent, txHash, view.ChainRef,
			types.ErrCodeTxFailed,
			fmt.Sprintf("transaction failed on chain: %s", view.VMStatus),
			"Submit a new transaction and verify again with a fresh intent.")
	}

	// Evaluate. Integer comparison only; overpayment is accepted.
	if view.Amount < intent.Amount {
		return nil, e.finalizeFailed(ctx, intent, txHash, view.ChainRef,
			types.ErrCodeInvalidAmount,
			fmt.Sprintf("paid %d octas, intent requires %d", view.Amount, intent.Amount),
			"Send the full amount shown on the payment intent, then start a new purchase.")
	}

	// The recipient check is what stops a payer from pointing at any
	// confirmed transfer of the right size: the money must have gone to
	// this project owner's wallet.
	if !chain.AddressesEqual(view.Recipient, intent.Recipient) {
		return nil, e.finalizeFailed(ctx, intent, txHash, view.ChainRef,
			types.ErrCodeVerifyFailed,
			fmt.Sprintf("transaction recipient %s does not match intent recipient %s",
				view.Recipient, intent.Recipient),
			"Pay the project owner's wallet exactly as returned by the payment intent.")
	}

	grant, err := e.ledger.FinalizeIntent(ctx, intent.ID, ledger.Finalization{
		Status:     types.IntentConfirmed,
		TxHash:     txHash,
		ChainRef:   view.ChainRef,
		AmountPaid: view.Amount,
	})
	if err != nil {
		switch types.CodeOf(err) {
		case types.ErrCodeIntentNotFound:
			// Lost the finalize race to a concurrent submit. No second
			// grant was written; report the intent as already processed.
			e.recorder.IncCounter(metrics.CounterVerifyRejected, labels)
			return nil, types.NewError(types.ErrCodeIntentNotFound,
				"intent was already finalized by a concurrent verification").
				WithRecoverable(false)
		case types.ErrCodeAlreadyHasAccess:
			// A sibling intent for the same key confirmed first and the
			// grant index rejected a duplicate. Terminal: retrying this
			// intent can never succeed, and the access already exists.
			e.recorder.IncCounter(metrics.CounterVerifyRejected, labels)
			var de *types.Error
			errors.As(err, &de)
			return nil, de.WithRecoverable(false).
				WithSteps("Access is already granted; no further payment is needed.")
		}
		// Ledger write failed after a successful chain check: report a
		// retryable error rather than claiming success.
		var de *types.Error
		if errors.As(err, &de) {
			return nil, de.WithRecoverable(true).
				WithSteps("Retry verification; the payment itself is intact.")
		}
		return nil, err
	}

	e.recorder.IncCounter(metrics.CounterVerifyConfirmed, labels)
	e.recorder.ObserveLatency("verify", time.Since(start), labels)
	e.logger.Info("payment verified",
		"intent", intent.ID,
		"project", intent.ProjectID,
		"tier", intent.Tier,
		"txHash", txHash,
		"amount", view.Amount,
		"chainRef", view.ChainRef,
		"attempts", attempts)

	return &types.VerifyOutcome{
		Granted:  true,
		TxHash:   txHash,
		Tier:     grant.Tier,
		ChainRef: view.ChainRef,
		Attempts: attempts,
	}, nil
}

// queryChain asks the chain about the hash up to the retry budget, sleeping
// the configured delay between attempts. Returns (nil, attempts, nil) when
// the budget is exhausted while the transaction is still pending or unknown.
// Fullnode propagation lags submission, so not-found is retried exactly like
// pending rather than treated as definitive.
func (e *Engine) queryChain(ctx context.Context, txHash string, labels map[string]string) (*types.ChainTransactionView, int, error) {
	attempts := 0
	for attempts < e.opts.MaxAttempts {
		if attempts > 0 {
			e.recorder.IncCounter(metrics.CounterChainQueryRetries, labels)
			select {
			case <-ctx.Done():
				return nil, attempts, types.WrapError(types.ErrCodeChainUnavailable,
					"verification cancelled", ctx.Err()).WithRecoverable(true)
			case <-time.After(e.opts.RetryDelay):
			}
		}
		attempts++

		queryStart := time.Now()
		view, err := e.chain.GetTransactionByHash(ctx, txHash)
		e.recorder.ObserveLatency("chain_query", time.Since(queryStart), labels)

		switch {
		case err == nil && view.Settled():
			return view, attempts, nil
		case err == nil || errors.Is(err, chain.ErrTxNotFound):
			// Pending or not yet propagated: spend another attempt.
			continue
		default:
			e.recorder.IncCounter(metrics.CounterChainUnavailable, labels)
			return nil, attempts, types.WrapError(types.ErrCodeChainUnavailable,
				"chain query failed", err).
				WithRecoverable(true).
				WithSteps("Retry verification in a few seconds; your payment was not rejected.")
		}
	}
	return nil, attempts, nil
}

// finalizeFailed records a definitive failure on the intent and returns the
// matching domain error. A ledger error while recording the failure is
// surfaced instead, leaving the intent pending for a later retry.
func (e *Engine) finalizeFailed(ctx context.Context, intent *types.PaymentIntent, txHash, chainRef, code, reason, step string) error {
	labels := map[string]string{"tier": intent.Tier.String()}

	_, err := e.ledger.FinalizeIntent(ctx, intent.ID, ledger.Finalization{
		Status:     types.IntentFailed,
		TxHash:     txHash,
		ChainRef:   chainRef,
		FailReason: reason,
	})
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeIntentNotFound {
			e.recorder.IncCounter(metrics.CounterVerifyRejected, labels)
			return types.NewError(types.ErrCodeIntentNotFound,
				"intent was already finalized by a concurrent verification").
				WithRecoverable(false)
		}
		return err
	}

	e.recorder.IncCounter(metrics.CounterVerifyFailed, labels)
	e.logger.Warn("payment verification failed",
		"intent", intent.ID,
		"project", intent.ProjectID,
		"code", code,
		"reason", reason,
		"txHash", txHash)

	return types.NewError(code, reason).WithRecoverable(false).WithSteps(step)
}
