package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/splitvault/internal/model"
)

// vaultColumns is the column list used for SELECT statements on the vaults table.
const vaultColumns = `id, status, source_asset, total_deposits, deposit_address,
	refund_address, threshold, key_holders, active_proposal_id, created_by,
	created_at, updated_at, expires_at, destroyed_at, run, summary, version`

// proposalColumns is the column list used for SELECT statements on the proposals table.
const proposalColumns = `id, vault_id, recipients, approvals, threshold,
	quorum_reached_at, created_by, created_at, expires_at, version`

// pqForeignKeyViolation is the SQLSTATE postgres reports for a missing
// referenced row.
const pqForeignKeyViolation = "23503"

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateVault(ctx context.Context, db executor, v *model.Vault) error {
	args, err := vaultArgs(v)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO vaults (
			id, status, source_asset, total_deposits, deposit_address,
			refund_address, threshold, key_holders, active_proposal_id, created_by,
			created_at, updated_at, expires_at, destroyed_at, run, summary, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17
		)`, args...)
	if err != nil {
		return fmt.Errorf("insert vault %q: %w", v.ID, err)
	}
	return nil
}

// vaultArgs returns the insert arguments for v in vaultColumns order.
func vaultArgs(v *model.Vault) ([]any, error) {
	holders, err := json.Marshal(v.KeyHolders)
	if err != nil {
		return nil, fmt.Errorf("marshal key holders: %w", err)
	}
	run, err := marshalNullable(v.Run)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}
	summary, err := marshalNullable(v.Summary)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	return []any{
		v.ID,
		string(v.Status),
		v.SourceAsset,
		v.TotalDeposits,
		v.DepositAddress,
		v.RefundAddress,
		v.Threshold,
		holders,
		nullString(v.ActiveProposalID),
		v.CreatedBy,
		v.CreatedAt,
		v.UpdatedAt,
		v.ExpiresAt,
		nullTimePtr(v.DestroyedAt),
		run,
		summary,
		v.Version,
	}, nil
}

// queryGetVault reads one vault. With forUpdate the row stays locked until
// the surrounding transaction ends.
func queryGetVault(ctx context.Context, db executor, id string, forUpdate bool) (*model.Vault, error) {
	q := `SELECT ` + vaultColumns + ` FROM vaults WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	v, err := scanVault(db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.VaultNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get vault %q: %w", id, err)
	}
	return v, nil
}

// queryUpdateVault writes v over the row whose version is still prev.
func queryUpdateVault(ctx context.Context, db executor, v *model.Vault, prev int64) error {
	args, err := vaultArgs(v)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE vaults SET
			status = $2, source_asset = $3, total_deposits = $4, deposit_address = $5,
			refund_address = $6, threshold = $7, key_holders = $8, active_proposal_id = $9,
			created_by = $10, created_at = $11, updated_at = $12, expires_at = $13,
			destroyed_at = $14, run = $15, summary = $16, version = $17
		WHERE id = $1 AND version = $18`, append(args, prev)...)
	if err != nil {
		return fmt.Errorf("update vault %q: %w", v.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update vault %q: %w", v.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update vault %q at version %d: %w", v.ID, prev, model.ErrConcurrencyConflict)
	}
	return nil
}

func queryListVaults(ctx context.Context, db executor, filter model.VaultFilter) ([]*model.Vault, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Status) > 0 {
		ph := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			args = append(args, string(s))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}

	q := `SELECT ` + vaultColumns + ` FROM vaults`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	defer rows.Close()
	return scanVaults(rows)
}

func queryGetExpiredVaults(ctx context.Context, db executor, now time.Time) ([]*model.Vault, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+vaultColumns+` FROM vaults
		 WHERE status <> $1 AND expires_at <= $2
		 ORDER BY expires_at`,
		string(model.StatusDestroyed), now)
	if err != nil {
		return nil, fmt.Errorf("get expired vaults: %w", err)
	}
	defer rows.Close()
	return scanVaults(rows)
}

func queryCreateProposal(ctx context.Context, db executor, p *model.Proposal) error {
	args, err := proposalArgs(p)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO proposals (
			id, vault_id, recipients, approvals, threshold,
			quorum_reached_at, created_by, created_at, expires_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return model.VaultNotFound(p.VaultID)
	}
	if err != nil {
		return fmt.Errorf("insert proposal %q: %w", p.ID, err)
	}
	return nil
}

// proposalArgs returns the insert arguments for p in proposalColumns order.
func proposalArgs(p *model.Proposal) ([]any, error) {
	recipients, err := json.Marshal(p.Recipients)
	if err != nil {
		return nil, fmt.Errorf("marshal recipients: %w", err)
	}
	approvals := p.Approvals
	if approvals == nil {
		approvals = []string{}
	}
	approvalsJSON, err := json.Marshal(approvals)
	if err != nil {
		return nil, fmt.Errorf("marshal approvals: %w", err)
	}
	return []any{
		p.ID,
		p.VaultID,
		recipients,
		approvalsJSON,
		p.Threshold,
		nullTimePtr(p.QuorumReachedAt),
		p.CreatedBy,
		p.CreatedAt,
		p.ExpiresAt,
		p.Version,
	}, nil
}

func queryGetProposal(ctx context.Context, db executor, id string, forUpdate bool) (*model.Proposal, error) {
	q := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	p, err := scanProposal(db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ProposalNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %q: %w", id, err)
	}
	return p, nil
}

func queryUpdateProposal(ctx context.Context, db executor, p *model.Proposal, prev int64) error {
	args, err := proposalArgs(p)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE proposals SET
			vault_id = $2, recipients = $3, approvals = $4, threshold = $5,
			quorum_reached_at = $6, created_by = $7, created_at = $8, expires_at = $9,
			version = $10
		WHERE id = $1 AND version = $11`, append(args, prev)...)
	if err != nil {
		return fmt.Errorf("update proposal %q: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal %q: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update proposal %q at version %d: %w", p.ID, prev, model.ErrConcurrencyConflict)
	}
	return nil
}

func queryDeleteProposal(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM proposals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete proposal %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete proposal %q: %w", id, err)
	}
	if n == 0 {
		return model.ProposalNotFound(id)
	}
	return nil
}

func queryGetExpiredProposals(ctx context.Context, db executor, now time.Time) ([]*model.Proposal, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals
		 WHERE expires_at <= $1 AND quorum_reached_at IS NULL
		 ORDER BY expires_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get expired proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

func queryRecordDeposit(ctx context.Context, db executor, d *model.Deposit) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	err := db.QueryRowContext(ctx,
		`INSERT INTO deposits (vault_id, amount, total, depositor, refund_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		d.VaultID, d.Amount, d.Total, d.Depositor, d.RefundAddress, d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("record deposit for vault %q: %w", d.VaultID, err)
	}
	return nil
}

func queryGetDeposits(ctx context.Context, db executor, vaultID string) ([]*model.Deposit, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, vault_id, amount, total, depositor, refund_address, created_at
		 FROM deposits WHERE vault_id = $1 ORDER BY id`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("get deposits for vault %q: %w", vaultID, err)
	}
	defer rows.Close()
	return scanDeposits(rows)
}

func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	err := db.QueryRowContext(ctx,
		`INSERT INTO events (topic, vault_id, actor, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		e.Topic, e.VaultID, e.Actor, jsonbBytes(e.Payload),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record event %q for vault %q: %w", e.Topic, e.VaultID, err)
	}
	return nil
}

func queryGetEvents(ctx context.Context, db executor, vaultID string) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, topic, vault_id, actor, payload, created_at
		 FROM events WHERE vault_id = $1 ORDER BY id`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("get events for vault %q: %w", vaultID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}
