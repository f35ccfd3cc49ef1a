package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanVault scans a single row into a model.Vault.
// The row must contain columns in the order defined by vaultColumns.
func scanVault(row scannable) (*model.Vault, error) {
	var v model.Vault
	var (
		status      string
		holders     []byte
		activeID    sql.NullString
		destroyedAt sql.NullTime
		run         []byte
		summary     []byte
	)

	err := row.Scan(
		&v.ID,
		&status,
		&v.SourceAsset,
		&v.TotalDeposits,
		&v.DepositAddress,
		&v.RefundAddress,
		&v.Threshold,
		&holders,
		&activeID,
		&v.CreatedBy,
		&v.CreatedAt,
		&v.UpdatedAt,
		&v.ExpiresAt,
		&destroyedAt,
		&run,
		&summary,
		&v.Version,
	)
	if err != nil {
		return nil, err
	}

	v.Status = model.Status(status)
	if activeID.Valid {
		v.ActiveProposalID = activeID.String
	}
	if destroyedAt.Valid {
		t := destroyedAt.Time
		v.DestroyedAt = &t
	}
	if len(holders) > 0 {
		if err := json.Unmarshal(holders, &v.KeyHolders); err != nil {
			return nil, fmt.Errorf("decode key_holders of vault %q: %w", v.ID, err)
		}
	}
	if len(run) > 0 {
		v.Run = new(model.UnlockRun)
		if err := json.Unmarshal(run, v.Run); err != nil {
			return nil, fmt.Errorf("decode run of vault %q: %w", v.ID, err)
		}
	}
	if len(summary) > 0 {
		v.Summary = new(model.DestructionSummary)
		if err := json.Unmarshal(summary, v.Summary); err != nil {
			return nil, fmt.Errorf("decode summary of vault %q: %w", v.ID, err)
		}
	}
	return &v, nil
}

// scanVaults collects all rows into a slice of vaults.
func scanVaults(rows *sql.Rows) ([]*model.Vault, error) {
	var vaults []*model.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		vaults = append(vaults, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vaults: %w", err)
	}
	return vaults, nil
}

// scanProposal scans a single row into a model.Proposal.
// The row must contain columns in the order defined by proposalColumns.
func scanProposal(row scannable) (*model.Proposal, error) {
	var p model.Proposal
	var (
		recipients []byte
		approvals  []byte
		quorumAt   sql.NullTime
	)

	err := row.Scan(
		&p.ID,
		&p.VaultID,
		&recipients,
		&approvals,
		&p.Threshold,
		&quorumAt,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.ExpiresAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}

	if quorumAt.Valid {
		t := quorumAt.Time
		p.QuorumReachedAt = &t
	}
	if err := json.Unmarshal(recipients, &p.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients of proposal %q: %w", p.ID, err)
	}
	if len(approvals) > 0 {
		if err := json.Unmarshal(approvals, &p.Approvals); err != nil {
			return nil, fmt.Errorf("decode approvals of proposal %q: %w", p.ID, err)
		}
	}
	return &p, nil
}

func scanProposals(rows *sql.Rows) ([]*model.Proposal, error) {
	var proposals []*model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return proposals, nil
}

func scanDeposits(rows *sql.Rows) ([]*model.Deposit, error) {
	var deposits []*model.Deposit
	for rows.Next() {
		var d model.Deposit
		if err := rows.Scan(&d.ID, &d.VaultID, &d.Amount, &d.Total, &d.Depositor, &d.RefundAddress, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		deposits = append(deposits, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposits: %w", err)
	}
	return deposits, nil
}

// scanEvent scans a single row into a model.Event.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		actor   sql.NullString
		payload []byte
	)
	if err := row.Scan(&e.ID, &e.Topic, &e.VaultID, &actor, &payload, &e.CreatedAt); err != nil {
		return nil, err
	}
	if actor.Valid {
		e.Actor = actor.String
	}
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	return []byte(m)
}

// marshalNullable encodes v as JSON, or returns a nil argument for a nil
// pointer so the column stays NULL.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
