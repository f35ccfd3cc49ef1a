package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransition_Table(t *testing.T) {
	for _, tc := range []struct {
		from Status
		ev   Trigger
		want Status
	}{
		{StatusCreated, TriggerAddressActivated, StatusFunding},
		{StatusCreated, TriggerFirstDeposit, StatusFunding},
		{StatusFunding, TriggerQuorumMet, StatusReady},
		{StatusReady, TriggerUnlockTriggered, StatusUnlocking},
		{StatusUnlocking, TriggerRecipientsTerminal, StatusDestroyed},
		{StatusCreated, TriggerExpiredEmpty, StatusDestroyed},
		{StatusFunding, TriggerExpiredEmpty, StatusDestroyed},
		{StatusFunding, TriggerExpiredRefund, StatusUnlocking},
		{StatusReady, TriggerProposalDeleted, StatusFunding},
	} {
		got, err := Transition(tc.from, tc.ev)
		if err != nil {
			t.Errorf("Transition(%s, %s) unexpected error: %v", tc.from, tc.ev, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Transition(%s, %s) = %s, want %s", tc.from, tc.ev, got, tc.want)
		}
	}
}

func TestTransition_Illegal(t *testing.T) {
	for _, tc := range []struct {
		from Status
		ev   Trigger
	}{
		{StatusDestroyed, TriggerAddressActivated},
		{StatusDestroyed, TriggerFirstDeposit},
		{StatusDestroyed, TriggerProposalDeleted},
		{StatusCreated, TriggerQuorumMet},
		{StatusCreated, TriggerUnlockTriggered},
		{StatusFunding, TriggerUnlockTriggered},
		{StatusReady, TriggerExpiredEmpty},
		{StatusUnlocking, TriggerProposalDeleted},
		{StatusUnlocking, TriggerExpiredEmpty},
	} {
		got, err := Transition(tc.from, tc.ev)
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Errorf("Transition(%s, %s) = %s, %v; want *TransitionError", tc.from, tc.ev, got, err)
			continue
		}
		if got != tc.from {
			t.Errorf("Transition(%s, %s) moved to %s on error", tc.from, tc.ev, got)
		}
	}
}

func TestStatus_IsValid(t *testing.T) {
	for _, s := range []Status{StatusCreated, StatusFunding, StatusReady, StatusUnlocking, StatusDestroyed} {
		if !s.IsValid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("open").IsValid() {
		t.Error(`"open" should not be valid`)
	}
	if !StatusDestroyed.IsTerminal() || StatusReady.IsTerminal() {
		t.Error("only destroyed is terminal")
	}
}

func TestVault_ApplyKeepsStatusOnError(t *testing.T) {
	v := validVault()
	if err := v.Apply(TriggerUnlockTriggered); err == nil {
		t.Fatal("expected error")
	}
	if v.Status != StatusCreated {
		t.Errorf("status = %s, want created", v.Status)
	}
	if err := v.Apply(TriggerFirstDeposit); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v.Status != StatusFunding {
		t.Errorf("status = %s, want funding", v.Status)
	}
}

func TestVault_CloneIsDeep(t *testing.T) {
	v := validVault()
	v.Run = &UnlockRun{Generation: 1, Records: []RecipientRecord{{RecipientID: "r1", Status: RecordPending}}}
	c := v.Clone()
	c.KeyHolders[0] = "mallory"
	c.Run.Records[0].Status = RecordFailed
	if v.KeyHolders[0] != "alice" {
		t.Error("clone shares key holders")
	}
	if v.Run.Records[0].Status != RecordPending {
		t.Error("clone shares run records")
	}
}

func TestUnlockRun_Terminal(t *testing.T) {
	run := &UnlockRun{Records: []RecipientRecord{
		{RecipientID: "r1", Status: RecordSubmitted},
		{RecipientID: "r2", Status: RecordPending},
	}}
	if run.AllTerminal() {
		t.Fatal("pending record should keep the run open")
	}
	run.Record("r2").Status = RecordFailed
	if !run.AllTerminal() {
		t.Fatal("expected all terminal")
	}
	if f := run.Failed(); len(f) != 1 || f[0].RecipientID != "r2" {
		t.Errorf("Failed() = %v", f)
	}
	if run.Record("nope") != nil {
		t.Error("Record of unknown recipient should be nil")
	}
}

func TestSummarize(t *testing.T) {
	v := validVault()
	now := time.Now().UTC()
	run := &UnlockRun{
		ProposalID: "prp-1",
		Reason:     ReasonUnlock,
		Records: []RecipientRecord{
			{RecipientID: "r1", Amount: decimal.NewFromInt(6), Status: RecordSubmitted, Kind: TransferDirect},
			{RecipientID: "r2", Amount: decimal.NewFromInt(4), Status: RecordFailed, Kind: TransferSwap, Attempts: 5},
		},
	}
	s := Summarize(&v, run, now)
	if !s.TotalRouted.Equal(decimal.NewFromInt(6)) {
		t.Errorf("TotalRouted = %s, want 6", s.TotalRouted)
	}
	if len(s.FailedRecipients) != 1 || s.FailedRecipients[0] != "r2" {
		t.Errorf("FailedRecipients = %v", s.FailedRecipients)
	}
	if s.Reason != ReasonUnlock || s.ProposalID != "prp-1" || len(s.Outcomes) != 2 {
		t.Errorf("unexpected summary %+v", s)
	}

	empty := Summarize(&v, nil, now)
	if empty.Reason != ReasonEmpty || !empty.TotalRouted.IsZero() {
		t.Errorf("unexpected empty summary %+v", empty)
	}
}
