package constants

import "time"

const (
	// Verification retry budget: how many times the engine asks the chain
	// about a hash before reporting "still pending", and how long it waits
	// between attempts. Fullnodes lag transaction submission by a few
	// seconds, so a single immediate query would false-negative on
	// perfectly good payments.
	VerifyMaxAttempts = 3
	VerifyRetryDelay  = 2 * time.Second

	// IntentTTL bounds how long a pending intent stays verifiable.
	IntentTTL = 30 * time.Minute

	// RetryAfterSeconds is the poll hint returned with a still-pending
	// verification response.
	RetryAfterSeconds = 5
)

const (
	ChainRequestTimeout   = 10 * time.Second // per fullnode HTTP request
	HealthCheckTimeout    = 3 * time.Second
	DelayBetweenEndpoints = 200 * time.Millisecond // progressive failover delay
	MaxResponseBodySize   = 4 * 1024 * 1024        // fullnode responses are small; 4MB is generous
)

const (
	// OctasPerMove converts decimal MOVE prices to on-chain smallest units.
	OctasPerMove = 100_000_000
	MoveDecimals = 8
)

// Network names.
const (
	NetworkMovementMainnet = "movement"
	NetworkMovementTestnet = "movement-testnet"
	NetworkAptosMainnet    = "aptos"
	NetworkAptosTestnet    = "aptos-testnet"
)

// OfficialFullnodeEndpoints are the default REST endpoints per network,
// used when the config does not override them. Order matters: the chain
// client fails over left to right.
var OfficialFullnodeEndpoints = map[string][]string{
	NetworkMovementMainnet: {"https://mainnet.movementnetwork.xyz/v1"},
	NetworkMovementTestnet: {"https://testnet.bardock.movementnetwork.xyz/v1"},
	NetworkAptosMainnet:    {"https://fullnode.mainnet.aptoslabs.com/v1"},
	NetworkAptosTestnet:    {"https://fullnode.testnet.aptoslabs.com/v1"},
}

// Entry functions recognized as plain coin transfers when decoding a
// transaction's payload.
var TransferEntryFunctions = map[string]bool{
	"0x1::aptos_account::transfer":       true,
	"0x1::aptos_account::transfer_coins": true,
	"0x1::coin::transfer":                true,
}
