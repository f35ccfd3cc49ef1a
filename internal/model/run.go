package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// TransferKind says how a recipient is paid.
type TransferKind string

const (
	// TransferDirect pays out in the vault's source asset.
	TransferDirect TransferKind = "direct"
	// TransferSwap converts through the swap provider.
	TransferSwap TransferKind = "swap"
)

// RecordStatus is the state of a single recipient payout.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordSubmitted RecordStatus = "submitted"
	RecordFailed    RecordStatus = "failed"
)

// RunReason distinguishes a quorum-approved unlock from an expiry refund.
type RunReason string

const (
	ReasonUnlock RunReason = "unlock"
	ReasonRefund RunReason = "refund"
	ReasonEmpty  RunReason = "expired_empty"
)

// RecipientRecord tracks routing of one recipient's allocation.
type RecipientRecord struct {
	RecipientID string          `json:"recipient_id"`
	Address     string          `json:"address"`
	Amount      decimal.Decimal `json:"amount"`
	TargetAsset string          `json:"target_asset"`
	Kind        TransferKind    `json:"kind"`
	Status      RecordStatus    `json:"status"`
	Attempts    int             `json:"attempts"`
	ShiftID     string          `json:"shift_id,omitempty"`
	Degraded    bool            `json:"degraded,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the record will not change again.
func (r RecipientRecord) IsTerminal() bool {
	return r.Status == RecordSubmitted || r.Status == RecordFailed
}

// UnlockRun is the execution state of an unlocking vault. Generation fences
// completions that belong to a superseded run.
type UnlockRun struct {
	ProposalID string            `json:"proposal_id,omitempty"`
	Generation int64             `json:"generation"`
	Reason     RunReason         `json:"reason"`
	Records    []RecipientRecord `json:"records"`
	StartedAt  time.Time         `json:"started_at"`
}

// Record returns a pointer to the record for recipientID, or nil.
func (r *UnlockRun) Record(recipientID string) *RecipientRecord {
	for i := range r.Records {
		if r.Records[i].RecipientID == recipientID {
			return &r.Records[i]
		}
	}
	return nil
}

// AllTerminal reports whether every record is submitted or failed.
func (r *UnlockRun) AllTerminal() bool {
	for _, rec := range r.Records {
		if !rec.IsTerminal() {
			return false
		}
	}
	return true
}

// Failed returns the records that exhausted their retries.
func (r *UnlockRun) Failed() []RecipientRecord {
	var out []RecipientRecord
	for _, rec := range r.Records {
		if rec.Status == RecordFailed {
			out = append(out, rec)
		}
	}
	return out
}

// Clone returns a deep copy of the run.
func (r *UnlockRun) Clone() *UnlockRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Records = slices.Clone(r.Records)
	return &c
}

// RecipientOutcome is the retained, non-sensitive result for one recipient.
type RecipientOutcome struct {
	RecipientID string          `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
	TargetAsset string          `json:"target_asset"`
	Kind        TransferKind    `json:"kind"`
	Status      RecordStatus    `json:"status"`
	Attempts    int             `json:"attempts"`
	ShiftID     string          `json:"shift_id,omitempty"`
	Degraded    bool            `json:"degraded,omitempty"`
}

// DestructionSummary is written once when a vault is destroyed.
type DestructionSummary struct {
	Reason           RunReason          `json:"reason"`
	SourceAsset      string             `json:"source_asset"`
	TotalRouted      decimal.Decimal    `json:"total_routed"`
	ProposalID       string             `json:"proposal_id,omitempty"`
	Outcomes         []RecipientOutcome `json:"outcomes,omitempty"`
	FailedRecipients []string           `json:"failed_recipients,omitempty"`
	DestroyedAt      time.Time          `json:"destroyed_at"`
}

// Clone returns a deep copy of the summary.
func (s *DestructionSummary) Clone() *DestructionSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Outcomes = slices.Clone(s.Outcomes)
	c.FailedRecipients = slices.Clone(s.FailedRecipients)
	return &c
}

// Summarize builds the destruction summary for a finished run.
func Summarize(v *Vault, run *UnlockRun, now time.Time) *DestructionSummary {
	s := &DestructionSummary{
		Reason:      ReasonEmpty,
		SourceAsset: v.SourceAsset,
		TotalRouted: decimal.Zero,
		DestroyedAt: now,
	}
	if run == nil {
		return s
	}
	s.Reason = run.Reason
	s.ProposalID = run.ProposalID
	for _, rec := range run.Records {
		s.Outcomes = append(s.Outcomes, RecipientOutcome{
			RecipientID: rec.RecipientID,
			Amount:      rec.Amount,
			TargetAsset: rec.TargetAsset,
			Kind:        rec.Kind,
			Status:      rec.Status,
			Attempts:    rec.Attempts,
			ShiftID:     rec.ShiftID,
			Degraded:    rec.Degraded,
		})
		if rec.Status == RecordSubmitted {
			s.TotalRouted = s.TotalRouted.Add(rec.Amount)
		} else {
			s.FailedRecipients = append(s.FailedRecipients, rec.RecipientID)
		}
	}
	return s
}
