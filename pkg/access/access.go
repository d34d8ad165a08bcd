// Package access answers "does this wallet hold tier X on project Y". The
// ledger's confirmed grants are the source of truth; an optional on-chain
// capability query is consulted as advisory input only and can never
// override the ledger.
package access

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codebazaar/paygate/pkg/chain"
	"github.com/codebazaar/paygate/pkg/metrics"
	"github.com/codebazaar/paygate/pkg/types"
)

// Ledger is the read-only slice of the payment ledger this service needs.
type Ledger interface {
	GetProject(ctx context.Context, id string) (*types.Project, error)
	ConfirmedGrants(ctx context.Context, payer, projectID string) ([]*types.PurchaseGrant, error)
}

// Service resolves access reports.
type Service struct {
	ledger Ledger
	chain  chain.Client
	// contract is the marketplace Move module address for the on-chain
	// capability view. Empty disables the fallback entirely.
	contract string
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewService wires the access query service. chainClient and contract are
// optional; without them the service is ledger-only.
func NewService(l Ledger, chainClient chain.Client, contract string, logger *slog.Logger, recorder metrics.Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	return &Service{
		ledger:   l,
		chain:    chainClient,
		contract: contract,
		logger:   logger,
		recorder: recorder,
	}
}

// Report builds the access report for (wallet, project).
//
// Owners resolve to the highest tier without a grant lookup: ownership
// implies access. Otherwise confirmed grants decide, with a confirmed
// download grant implying demo access. When the on-chain view disagrees with
// the ledger, the disagreement is logged and counted but the ledger answer
// is served unchanged.
func (s *Service) Report(ctx context.Context, projectID, wallet string) (*types.AccessReport, error) {
	project, err := s.ledger.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := &types.AccessReport{ProjectID: projectID, Wallet: wallet}

	if project.OwnerWallet != "" && chain.AddressesEqual(project.OwnerWallet, wallet) {
		report.IsOwner = true
		report.Demo.HasAccess = true
		report.Download.HasAccess = true
		return report, nil
	}

	grants, err := s.ledger.ConfirmedGrants(ctx, wallet, projectID)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		granted := g.GrantedAt
		switch g.Tier {
		case types.TierDemo:
			report.Demo = types.TierAccess{HasAccess: true, GrantedAt: &granted}
		case types.TierDownload:
			report.Download = types.TierAccess{HasAccess: true, GrantedAt: &granted}
			if !report.Demo.HasAccess {
				report.Demo = types.TierAccess{HasAccess: true, GrantedAt: &granted}
			}
		}
	}

	s.crossCheckChain(ctx, projectID, wallet, report)
	return report, nil
}

// HighestTier is the single-answer form of Report.
func (s *Service) HighestTier(ctx context.Context, projectID, wallet string) (types.Tier, error) {
	report, err := s.Report(ctx, projectID, wallet)
	if err != nil {
		return "", err
	}
	return report.HighestTier(), nil
}

// crossCheckChain runs the advisory on-chain capability query. Any failure
// here is logged and swallowed: the chain mirror is best-effort and a flaky
// fullnode must not break access reads.
func (s *Service) crossCheckChain(ctx context.Context, projectID, wallet string, report *types.AccessReport) {
	if s.chain == nil || s.contract == "" {
		return
	}

	function := fmt.Sprintf("%s::marketplace::has_access", s.contract)
	result, err := s.chain.View(ctx, function, nil, []any{wallet, projectID})
	if err != nil {
		s.logger.Debug("on-chain access query unavailable",
			"project", projectID, "wallet", wallet, "error", err)
		return
	}
	if len(result) == 0 {
		return
	}

	var onChain bool
	if err := json.Unmarshal(result[0], &onChain); err != nil {
		s.logger.Debug("on-chain access query returned unexpected shape",
			"project", projectID, "wallet", wallet, "error", err)
		return
	}

	ledgerSays := report.HighestTier() != ""
	if onChain != ledgerSays {
		// Advisory only. The ledger stays authoritative; reconciliation
		// is a product decision we have deliberately not automated.
		s.recorder.IncCounter(metrics.CounterAccessDiscrepancy, map[string]string{"tier": ""})
		s.logger.Warn("ledger and on-chain access disagree",
			"project", projectID,
			"wallet", wallet,
			"ledger", ledgerSays,
			"chain", onChain)
	}
}
