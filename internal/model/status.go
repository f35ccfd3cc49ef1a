package model

import "fmt"

// Status represents the lifecycle state of a vault.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFunding   Status = "funding"
	StatusReady     Status = "ready"
	StatusUnlocking Status = "unlocking"
	StatusDestroyed Status = "destroyed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusFunding, StatusReady, StatusUnlocking, StatusDestroyed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDestroyed
}

// Trigger is a lifecycle event that may move a vault between statuses.
type Trigger string

const (
	TriggerAddressActivated   Trigger = "address_activated"
	TriggerFirstDeposit       Trigger = "first_deposit"
	TriggerQuorumMet          Trigger = "quorum_met"
	TriggerUnlockTriggered    Trigger = "unlock_triggered"
	TriggerRecipientsTerminal Trigger = "recipients_terminal"
	TriggerExpiredEmpty       Trigger = "expired_empty"
	TriggerExpiredRefund      Trigger = "expired_refund"
	TriggerProposalDeleted    Trigger = "proposal_deleted"
)

type edge struct {
	from    Status
	trigger Trigger
}

// transitions is the complete set of legal status edges.
var transitions = map[edge]Status{
	{StatusCreated, TriggerAddressActivated}:     StatusFunding,
	{StatusCreated, TriggerFirstDeposit}:         StatusFunding,
	{StatusFunding, TriggerQuorumMet}:            StatusReady,
	{StatusReady, TriggerUnlockTriggered}:        StatusUnlocking,
	{StatusUnlocking, TriggerRecipientsTerminal}: StatusDestroyed,
	{StatusCreated, TriggerExpiredEmpty}:         StatusDestroyed,
	{StatusFunding, TriggerExpiredEmpty}:         StatusDestroyed,
	{StatusFunding, TriggerExpiredRefund}:        StatusUnlocking,
	{StatusReady, TriggerProposalDeleted}:        StatusFunding,
}

// TransitionError is returned for an edge that is not in the transition table.
type TransitionError struct {
	From    Status
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %s", e.Trigger, e.From)
}

// Transition returns the status reached from `from` on event ev, or a
// *TransitionError when the edge does not exist.
func Transition(from Status, ev Trigger) (Status, error) {
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return from, &TransitionError{From: from, Trigger: ev}
	}
	return to, nil
}
