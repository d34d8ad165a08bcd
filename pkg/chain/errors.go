package chain

import "errors"

var (
	// ErrTxNotFound means a fullnode answered and the transaction is not
	// (yet) known to it. Verification treats this like pending: the hash
	// may simply not have propagated to this node.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrChainUnavailable means no fullnode could be reached or none gave
	// a usable answer. This is an infrastructure failure and must never
	// finalize an intent.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrMalformedResponse means a fullnode answered with a body the
	// client could not decode. Treated as unavailable by callers.
	ErrMalformedResponse = errors.New("malformed fullnode response")
)
