// Package ledger owns the persistent payment state: the project catalog,
// payment intents, and purchase grants. All mutation funnels through
// CreateIntent and FinalizeIntent so the invariants (one pending intent per
// key, at most one confirmed grant per key, intents never deleted) live in
// one place.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/codebazaar/paygate/pkg/types"
)

// Store is the SQLite-backed payment ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the ledger database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	// Serialized access plus busy timeout keeps the conditional-write
	// finalize path correct under concurrent verifications.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_wallet TEXT,
			demo_price TEXT NOT NULL DEFAULT '0',
			download_price TEXT NOT NULL DEFAULT '0',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS payment_intents (
			id TEXT PRIMARY KEY,
			payer TEXT NOT NULL,
			project_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			amount INTEGER NOT NULL,
			recipient TEXT NOT NULL,
			status TEXT NOT NULL,
			tx_hash TEXT,
			chain_ref TEXT,
			fail_reason TEXT,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			finalized_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_intents_key
			ON payment_intents(payer, project_id, tier, status);

		CREATE TABLE IF NOT EXISTS purchase_grants (
			id TEXT PRIMARY KEY,
			payer TEXT NOT NULL,
			project_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			amount_paid INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			granted_at DATETIME NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_confirmed
			ON purchase_grants(payer, project_id, tier)
			WHERE status = 'confirmed';
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// PutProject inserts or replaces a catalog entry.
func (s *Store) PutProject(ctx context.Context, p *types.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO projects (id, title, owner_wallet, demo_price, download_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.OwnerWallet, p.DemoPrice, p.DownloadPrice, p.CreatedAt)
	if err != nil {
		return types.WrapError(types.ErrCodeLedgerError, "store project", err)
	}
	return nil
}

// GetProject returns the catalog entry, or a PROJECT_NOT_FOUND error.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_wallet, demo_price, download_price, created_at
		FROM projects WHERE id = ?`, id)

	var p types.Project
	var ownerWallet sql.NullString
	err := row.Scan(&p.ID, &p.Title, &ownerWallet, &p.DemoPrice, &p.DownloadPrice, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrCodeProjectNotFound, fmt.Sprintf("project %s not found", id))
	}
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "load project", err)
	}
	p.OwnerWallet = ownerWallet.String
	return &p, nil
}

// CreateIntent records a new pending intent for (payer, project, tier).
//
// A confirmed grant for the same key means the payer already holds this
// access; creation is rejected with ALREADY_HAS_ACCESS no matter how many
// pending or failed intents exist. An existing non-expired pending intent is
// returned as-is instead of minting a second one; the remaining race window
// is closed by verification accepting only the caller-supplied intent ID.
func (s *Store) CreateIntent(ctx context.Context, payer, projectID string, tier types.Tier, amount uint64, recipient string, ttl time.Duration) (*types.PaymentIntent, error) {
	if _, err := s.ConfirmedGrant(ctx, payer, projectID, tier); err == nil {
		return nil, types.NewError(types.ErrCodeAlreadyHasAccess,
			fmt.Sprintf("payer already holds %s access to project %s", tier, projectID))
	} else if types.CodeOf(err) == types.ErrCodeLedgerError {
		return nil, err
	}

	now := time.Now().UTC()

	if existing, err := s.pendingIntentForKey(ctx, payer, projectID, tier, now); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	intent := &types.PaymentIntent{
		ID:        uuid.NewString(),
		Payer:     payer,
		ProjectID: projectID,
		Tier:      tier,
		Amount:    amount,
		Recipient: recipient,
		Status:    types.IntentPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, payer, project_id, tier, amount, recipient, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID, intent.Payer, intent.ProjectID, string(intent.Tier),
		int64(intent.Amount), intent.Recipient, string(intent.Status),
		intent.CreatedAt, intent.ExpiresAt)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "create intent", err)
	}
	return intent, nil
}

func (s *Store) pendingIntentForKey(ctx context.Context, payer, projectID string, tier types.Tier, now time.Time) (*types.PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payer, project_id, tier, amount, recipient, status, tx_hash, chain_ref, fail_reason, created_at, expires_at
		FROM payment_intents
		WHERE payer = ? AND project_id = ? AND tier = ? AND status = ? AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`,
		payer, projectID, string(tier), string(types.IntentPending), now)

	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "lookup pending intent", err)
	}
	return intent, nil
}

// FindPendingIntent resolves an intent by ID, scoped to the payer so one
// account cannot confirm another account's intent. Finalized and expired
// intents are reported as INTENT_NOT_FOUND: finalization is terminal, and an
// expired pending intent must not be resurrectable.
func (s *Store) FindPendingIntent(ctx context.Context, intentID, payer string) (*types.PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payer, project_id, tier, amount, recipient, status, tx_hash, chain_ref, fail_reason, created_at, expires_at
		FROM payment_intents
		WHERE id = ? AND payer = ? AND status = ? AND expires_at > ?`,
		intentID, payer, string(types.IntentPending), time.Now().UTC())

	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrCodeIntentNotFound,
			fmt.Sprintf("no pending intent %s for payer", intentID))
	}
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "lookup intent", err)
	}
	return intent, nil
}

func scanIntent(row *sql.Row) (*types.PaymentIntent, error) {
	var intent types.PaymentIntent
	var tier, status string
	var amount int64
	var txHash, chainRef, failReason sql.NullString
	if err := row.Scan(&intent.ID, &intent.Payer, &intent.ProjectID, &tier, &amount,
		&intent.Recipient, &status, &txHash, &chainRef, &failReason,
		&intent.CreatedAt, &intent.ExpiresAt); err != nil {
		return nil, err
	}
	intent.Tier = types.Tier(tier)
	intent.Amount = uint64(amount)
	intent.Status = types.IntentStatus(status)
	intent.TxHash = txHash.String
	intent.ChainRef = chainRef.String
	intent.FailReason = failReason.String
	return &intent, nil
}

// Finalization is the single terminal transition for an intent.
type Finalization struct {
	Status     types.IntentStatus // IntentConfirmed or IntentFailed
	TxHash     string
	ChainRef   string
	AmountPaid uint64
	FailReason string
}

// FinalizeIntent transitions a pending intent to its terminal state and, on
// confirmation, writes the purchase grant in the same SQL transaction. The
// status update is conditional on the intent still being pending, so a
// double-submitted verification loses the race cleanly and sees
// INTENT_NOT_FOUND instead of minting a second grant.
func (s *Store) FinalizeIntent(ctx context.Context, intentID string, fin Finalization) (*types.PurchaseGrant, error) {
	if fin.Status != types.IntentConfirmed && fin.Status != types.IntentFailed {
		return nil, types.NewError(types.ErrCodeLedgerError,
			fmt.Sprintf("finalize requires a terminal status, got %q", fin.Status))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "begin finalize", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = ?, tx_hash = ?, chain_ref = ?, fail_reason = ?, finalized_at = ?
		WHERE id = ? AND status = ?`,
		string(fin.Status), fin.TxHash, fin.ChainRef, fin.FailReason, now,
		intentID, string(types.IntentPending))
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "finalize intent", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "finalize intent", err)
	}
	if affected == 0 {
		return nil, types.NewError(types.ErrCodeIntentNotFound,
			fmt.Sprintf("intent %s is not pending", intentID))
	}

	var grant *types.PurchaseGrant
	if fin.Status == types.IntentConfirmed {
		row := tx.QueryRowContext(ctx,
			`SELECT payer, project_id, tier FROM payment_intents WHERE id = ?`, intentID)
		var payer, projectID, tier string
		if err := row.Scan(&payer, &projectID, &tier); err != nil {
			return nil, types.WrapError(types.ErrCodeLedgerError, "load finalized intent", err)
		}

		grant = &types.PurchaseGrant{
			ID:         uuid.NewString(),
			Payer:      payer,
			ProjectID:  projectID,
			Tier:       types.Tier(tier),
			AmountPaid: fin.AmountPaid,
			TxHash:     fin.TxHash,
			Status:     types.GrantConfirmed,
			GrantedAt:  now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_grants (id, payer, project_id, tier, amount_paid, tx_hash, status, granted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			grant.ID, grant.Payer, grant.ProjectID, string(grant.Tier),
			int64(grant.AmountPaid), grant.TxHash, string(grant.Status), grant.GrantedAt)
		if err != nil {
			// Two pending intents for the same key can both reach finalize
			// when they were minted inside the creation race window. The
			// partial unique index rejects the second grant; that is a
			// terminal "already owned" answer, not a retryable write error.
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return nil, types.NewError(types.ErrCodeAlreadyHasAccess,
					fmt.Sprintf("payer already holds a confirmed %s grant on project %s", grant.Tier, grant.ProjectID))
			}
			return nil, types.WrapError(types.ErrCodeLedgerError, "write grant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "commit finalize", err)
	}
	return grant, nil
}

// ConfirmedGrant returns the confirmed grant for (payer, project, tier), or
// a GRANT_NOT_FOUND error when the payer holds none.
func (s *Store) ConfirmedGrant(ctx context.Context, payer, projectID string, tier types.Tier) (*types.PurchaseGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payer, project_id, tier, amount_paid, tx_hash, status, granted_at
		FROM purchase_grants
		WHERE payer = ? AND project_id = ? AND tier = ? AND status = ?`,
		payer, projectID, string(tier), string(types.GrantConfirmed))

	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrCodeGrantNotFound,
			fmt.Sprintf("no confirmed grant for payer on project %s tier %s", projectID, tier))
	}
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "lookup grant", err)
	}
	return grant, nil
}

// ConfirmedGrants returns every confirmed grant a payer holds on a project.
func (s *Store) ConfirmedGrants(ctx context.Context, payer, projectID string) ([]*types.PurchaseGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payer, project_id, tier, amount_paid, tx_hash, status, granted_at
		FROM purchase_grants
		WHERE payer = ? AND project_id = ? AND status = ?`,
		payer, projectID, string(types.GrantConfirmed))
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "list grants", err)
	}
	defer rows.Close()

	var grants []*types.PurchaseGrant
	for rows.Next() {
		var g types.PurchaseGrant
		var tier, status string
		var amount int64
		if err := rows.Scan(&g.ID, &g.Payer, &g.ProjectID, &tier, &amount,
			&g.TxHash, &status, &g.GrantedAt); err != nil {
			return nil, types.WrapError(types.ErrCodeLedgerError, "scan grant", err)
		}
		g.Tier = types.Tier(tier)
		g.AmountPaid = uint64(amount)
		g.Status = types.GrantStatus(status)
		grants = append(grants, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "list grants", err)
	}
	return grants, nil
}

// GetIntent loads an intent regardless of status. Used by tests and the
// admin surface; the verification path goes through FindPendingIntent.
func (s *Store) GetIntent(ctx context.Context, intentID string) (*types.PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payer, project_id, tier, amount, recipient, status, tx_hash, chain_ref, fail_reason, created_at, expires_at
		FROM payment_intents WHERE id = ?`, intentID)

	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrCodeIntentNotFound,
			fmt.Sprintf("intent %s not found", intentID))
	}
	if err != nil {
		return nil, types.WrapError(types.ErrCodeLedgerError, "load intent", err)
	}
	return intent, nil
}

func scanGrant(row *sql.Row) (*types.PurchaseGrant, error) {
	var g types.PurchaseGrant
	var tier, status string
	var amount int64
	if err := row.Scan(&g.ID, &g.Payer, &g.ProjectID, &tier, &amount,
		&g.TxHash, &g.Status, &g.GrantedAt); err != nil {
		return nil, err
	}
	g.Tier = types.Tier(tier)
	g.AmountPaid = uint64(amount)
	g.Status = types.GrantStatus(status)
	return &g, nil
}
