// Package chain adapts the Movement/Aptos fullnode REST API into the narrow
// surface the payment flow needs: fetch a transaction by hash, run read-only
// view calls, and report connectivity.
package chain

import (
	"context"
	"encoding/json"

	"github.com/codebazaar/paygate/pkg/types"
)

// Client is the boundary the verification engine and access service depend
// on. Implementations must keep the not-found / unavailable distinction: a
// fullnode that cannot be reached is ErrChainUnavailable, a fullnode that
// answered "no such transaction" is ErrTxNotFound.
type Client interface {
	// GetTransactionByHash returns the chain's current view of a
	// transaction. The view is ephemeral; callers re-query rather than
	// cache it across attempts.
	GetTransactionByHash(ctx context.Context, hash string) (*types.ChainTransactionView, error)

	// View executes a read-only Move view function and returns the raw
	// return values.
	View(ctx context.Context, function string, typeArgs []string, args []any) ([]json.RawMessage, error)

	// Healthy reports whether at least one configured fullnode answers.
	Healthy(ctx context.Context) bool
}
