package metrics

import "time"

// Recorder is the narrow metrics surface the payment flow emits through.
// Implementations: Prometheus for production, Noop for tests.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter names emitted by the verification engine and chain client.
const (
	CounterVerifyConfirmed   = "verify_confirmed"
	CounterVerifyFailed      = "verify_failed"
	CounterVerifyPending     = "verify_still_pending"
	CounterVerifyRejected    = "verify_rejected"
	CounterChainQueryRetries = "chain_query_retries"
	CounterChainUnavailable  = "chain_unavailable"
	CounterAccessDiscrepancy = "access_discrepancy"
)
