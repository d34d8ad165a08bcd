// Package pricing resolves what a purchase costs and who gets paid. Payments
// are peer-to-peer: the recipient is the project owner's configured wallet,
// never a platform address.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/codebazaar/paygate/pkg/chain"
	"github.com/codebazaar/paygate/pkg/constants"
	"github.com/codebazaar/paygate/pkg/types"
)

// Catalog is the read-only project lookup the resolver needs.
type Catalog interface {
	GetProject(ctx context.Context, id string) (*types.Project, error)
}

// Quote is the resolver's answer: how many octas are due, and to whom.
type Quote struct {
	ProjectID string
	Tier      types.Tier
	Amount    uint64 // octas
	Recipient string
}

// Resolver prices (project, tier) pairs against the catalog.
type Resolver struct {
	catalog Catalog
}

func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns the amount due and the payout wallet for a tier purchase.
// A project whose owner has not configured a payable wallet blocks intent
// creation with CONTRACT_ERROR: there is nowhere to route the payment.
func (r *Resolver) Resolve(ctx context.Context, projectID string, tier types.Tier) (*Quote, error) {
	project, err := r.catalog.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if project.OwnerWallet == "" {
		return nil, types.NewError(types.ErrCodeContractError,
			fmt.Sprintf("project %s has no payable owner wallet", projectID)).
			WithSteps("Ask the project owner to connect a wallet before purchasing.")
	}
	if !chain.ValidAddress(project.OwnerWallet) {
		return nil, types.NewError(types.ErrCodeContractError,
			fmt.Sprintf("project %s owner wallet is not a valid address", projectID))
	}

	var price string
	switch tier {
	case types.TierDemo:
		price = project.DemoPrice
	case types.TierDownload:
		price = project.DownloadPrice
	default:
		return nil, types.NewError(types.ErrCodeInvalidRequest, fmt.Sprintf("unknown tier %q", tier))
	}

	amount, err := ToOctas(price)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeContractError,
			fmt.Sprintf("project %s has an unparseable %s price", projectID, tier), err)
	}

	return &Quote{
		ProjectID: projectID,
		Tier:      tier,
		Amount:    amount,
		Recipient: project.OwnerWallet,
	}, nil
}

// ToOctas converts a decimal MOVE price string to integer octas. Conversion
// is exact: prices with more than 8 fractional digits are rejected rather
// than rounded, and all downstream comparison is integer-only.
func ToOctas(price string) (uint64, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", price, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("price %q is negative", price)
	}
	scaled := d.Shift(constants.MoveDecimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("price %q has sub-octa precision", price)
	}
	if !scaled.BigInt().IsUint64() {
		return 0, fmt.Errorf("price %q overflows u64 octas", price)
	}
	return scaled.BigInt().Uint64(), nil
}
