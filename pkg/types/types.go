package types

import (
	"time"
)

// Tier is the access level a buyer purchases for a project.
type Tier string

const (
	// TierDemo grants preview access (run the hosted demo, read docs).
	TierDemo Tier = "demo"

	// TierDownload grants full access (download the source archive).
	// A confirmed download grant implies demo access.
	TierDownload Tier = "download"
)

// Valid reports whether the tier is one of the known access levels.
func (t Tier) Valid() bool {
	return t == TierDemo || t == TierDownload
}

func (t Tier) String() string {
	return string(t)
}

// IntentStatus is the lifecycle state of a payment intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentFailed    IntentStatus = "failed"
)

// GrantStatus is the state of a purchase grant. Grants are only written as a
// side effect of verification, so failed grants exist purely as audit trail.
type GrantStatus string

const (
	GrantConfirmed GrantStatus = "confirmed"
	GrantFailed    GrantStatus = "failed"
)

// TxStatus is the chain-reported confirmation state of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// PaymentIntent is the server-issued record of an expected payment: how much
// is due and to which wallet, before the buyer signs anything. Intents are
// never deleted; terminal states are reached only through finalization.
type PaymentIntent struct {
	ID         string       `json:"id"`
	Payer      string       `json:"payer"`
	ProjectID  string       `json:"projectId"`
	Tier       Tier         `json:"tier"`
	Amount     uint64       `json:"amount"` // octas, smallest unit
	Recipient  string       `json:"recipient"`
	Status     IntentStatus `json:"status"`
	TxHash     string       `json:"txHash,omitempty"`
	ChainRef   string       `json:"chainRef,omitempty"`
	FailReason string       `json:"failReason,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

// Expired reports whether the intent's verification window has closed.
func (i *PaymentIntent) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// PurchaseGrant is the durable record that access was paid for and confirmed.
// At most one confirmed grant exists per (payer, project, tier); it is the
// access-control source of truth and immutable once written.
type PurchaseGrant struct {
	ID         string      `json:"id"`
	Payer      string      `json:"payer"`
	ProjectID  string      `json:"projectId"`
	Tier       Tier        `json:"tier"`
	AmountPaid uint64      `json:"amountPaid"`
	TxHash     string      `json:"txHash"`
	Status     GrantStatus `json:"status"`
	GrantedAt  time.Time   `json:"grantedAt"`
}

// ChainTransactionView is the chain client's view of a single transaction.
// It is ephemeral: produced per query and never cached across verification
// attempts.
type ChainTransactionView struct {
	Hash      string
	Sender    string
	Recipient string
	Amount    uint64
	Status    TxStatus
	// ChainRef identifies where the transaction settled (the fullnode's
	// ledger version). Empty while pending.
	ChainRef string
	// VMStatus carries the chain's own failure description for failed
	// transactions.
	VMStatus string
}

// Settled reports whether the chain's view is definitive (confirmed or
// failed, not pending).
func (v *ChainTransactionView) Settled() bool {
	return v.Status == TxConfirmed || v.Status == TxFailed
}

// Project is the catalog entry the resolver prices against. OwnerWallet is
// the payout address; payments are peer-to-peer, direct to the owner.
type Project struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	OwnerWallet   string    `json:"ownerWallet,omitempty"`
	DemoPrice     string    `json:"demoPrice"`     // decimal MOVE, e.g. "0.5"
	DownloadPrice string    `json:"downloadPrice"` // decimal MOVE
	CreatedAt     time.Time `json:"createdAt"`
}

// TierAccess is one tier's entry in an access report.
type TierAccess struct {
	HasAccess bool       `json:"hasAccess"`
	GrantedAt *time.Time `json:"grantedAt,omitempty"`
}

// AccessReport answers "what does this wallet hold on this project".
type AccessReport struct {
	ProjectID string     `json:"projectId"`
	Wallet    string     `json:"wallet"`
	IsOwner   bool       `json:"isOwner"`
	Demo      TierAccess `json:"demo"`
	Download  TierAccess `json:"download"`
}

// HighestTier returns the strongest confirmed tier, or "" when none.
func (r *AccessReport) HighestTier() Tier {
	switch {
	case r.Download.HasAccess:
		return TierDownload
	case r.Demo.HasAccess:
		return TierDemo
	default:
		return ""
	}
}

// VerifyOutcome is what the verification engine reports back to the caller.
type VerifyOutcome struct {
	// Granted is true when the intent finalized as confirmed and a grant
	// was written.
	Granted bool `json:"granted"`
	// StillPending is true when the chain had not settled the transaction
	// within the retry budget. The intent stays pending and the caller
	// should poll again.
	StillPending bool   `json:"stillPending,omitempty"`
	TxHash       string `json:"transactionHash,omitempty"`
	Tier         Tier   `json:"tier,omitempty"`
	ChainRef     string `json:"chainRef,omitempty"`
	// Attempts is how many chain queries the engine issued.
	Attempts int `json:"-"`
}
