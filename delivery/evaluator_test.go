package delivery

import (
	"context"
	"testing"
	"time"

	"leadflow/models"
)

func TestOnEnterOnlyFiresOnTransition(t *testing.T) {
	db, _, _, evaluator := newTestEngine(t)
	lead := createLead(t, db, 1)
	rule := createRule(t, db, &models.Rule{
		BusinessID:             1,
		Name:                   "Enter rule",
		StatusIDs:              []uint{5},
		ApplyMode:              models.ApplyOnEnterOnly,
		SendImmediatelyOnEnter: true,
		ImmediateMessage:       "Entered!",
	})

	outcomes, err := evaluator.HandleStatusChange(context.Background(), StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  1,
		OldStatusID: 3,
		NewStatusID: 5,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleStatusChange failed: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Fired {
		t.Fatalf("outcomes = %+v, want one fired rule", outcomes)
	}

	if entries := pendingEntries(t, db, rule.ID, lead.ID); len(entries) != 1 {
		t.Errorf("got %d pending entries, want 1", len(entries))
	}
}

func TestOnEnterOnlyIgnoresNoOpUpdate(t *testing.T) {
	db, _, _, evaluator := newTestEngine(t)
	lead := createLead(t, db, 1)
	rule := createRule(t, db, &models.Rule{
		BusinessID:             1,
		Name:                   "Enter rule",
		StatusIDs:              []uint{5},
		ApplyMode:              models.ApplyOnEnterOnly,
		SendImmediatelyOnEnter: true,
		ImmediateMessage:       "Entered!",
	})

	// Status "updated" from 5 to 5 is not a transition into the status.
	outcomes, err := evaluator.HandleStatusChange(context.Background(), StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  1,
		OldStatusID: 5,
		NewStatusID: 5,
	})
	if err != nil {
		t.Fatalf("HandleStatusChange failed: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %+v, want the rule matched but not fired", outcomes)
	}
	if outcomes[0].Fired {
		t.Error("ON_ENTER_ONLY rule fired on a no-op status update")
	}

	if entries := pendingEntries(t, db, rule.ID, lead.ID); len(entries) != 0 {
		t.Errorf("no-op update created %d entries, want 0", len(entries))
	}
}

func TestWhileInStatusRefireGuardedByPendingEntries(t *testing.T) {
	db, _, _, evaluator := newTestEngine(t)
	lead := createLead(t, db, 1)
	rule := createRule(t, db, &models.Rule{
		BusinessID: 1,
		Name:       "Nudge while waiting",
		StatusIDs:  []uint{7},
		ApplyMode:  models.ApplyWhileInStatus,
		Steps: []models.RuleStep{
			{StepIndex: 1, MessageTemplate: "Still there?", DelaySeconds: 900, Enabled: true},
		},
	})

	event := StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  1,
		OldStatusID: 7,
		NewStatusID: 7,
	}

	for i := 0; i < 3; i++ {
		if _, err := evaluator.HandleStatusChange(context.Background(), event); err != nil {
			t.Fatalf("HandleStatusChange %d failed: %v", i, err)
		}
	}

	// Repeats fire, but the pending-tuple guard prevents duplicate work.
	if entries := pendingEntries(t, db, rule.ID, lead.ID); len(entries) != 1 {
		t.Errorf("got %d pending entries after repeats, want 1", len(entries))
	}
}

func TestInactiveRuleNeverMatches(t *testing.T) {
	db, _, _, evaluator := newTestEngine(t)
	lead := createLead(t, db, 1)
	createRule(t, db, &models.Rule{
		BusinessID:             1,
		Name:                   "Disabled rule",
		StatusIDs:              []uint{5},
		IsActive:               false,
		SendImmediatelyOnEnter: true,
		ImmediateMessage:       "Never",
	})

	outcomes, err := evaluator.HandleStatusChange(context.Background(), StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  1,
		OldStatusID: 3,
		NewStatusID: 5,
	})
	if err != nil {
		t.Fatalf("HandleStatusChange failed: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("inactive rule matched: %+v", outcomes)
	}
}

func TestRuleFailureIsolation(t *testing.T) {
	db, _, _, evaluator := newTestEngine(t)
	lead := createLead(t, db, 1)

	// A rule with a corrupt apply mode must not block the healthy one.
	createRule(t, db, &models.Rule{
		BusinessID: 1,
		Name:       "Broken rule",
		StatusIDs:  []uint{5},
		ApplyMode:  "SOMETIMES",
	})
	healthy := createRule(t, db, &models.Rule{
		BusinessID:             1,
		Name:                   "Healthy rule",
		StatusIDs:              []uint{5},
		SendImmediatelyOnEnter: true,
		ImmediateMessage:       "Works",
	})

	outcomes, err := evaluator.HandleStatusChange(context.Background(), StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  1,
		OldStatusID: 3,
		NewStatusID: 5,
	})
	if err != nil {
		t.Fatalf("HandleStatusChange failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}

	var sawError, sawFired bool
	for _, o := range outcomes {
		if o.Error != "" {
			sawError = true
		}
		if o.Fired {
			sawFired = true
		}
	}
	if !sawError || !sawFired {
		t.Errorf("outcomes = %+v, want one error and one fired", outcomes)
	}

	if entries := pendingEntries(t, db, healthy.ID, lead.ID); len(entries) != 1 {
		t.Errorf("healthy rule got %d entries, want 1", len(entries))
	}
}

func TestBusinessScoping(t *testing.T) {
	db, _, _, evaluator := newTestEngine(t)
	lead := createLead(t, db, 1)

	// Same status ID, different tenant.
	createRule(t, db, &models.Rule{
		BusinessID:             2,
		Name:                   "Other tenant",
		StatusIDs:              []uint{5},
		SendImmediatelyOnEnter: true,
		ImmediateMessage:       "Wrong tenant",
	})

	outcomes, err := evaluator.HandleStatusChange(context.Background(), StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  1,
		OldStatusID: 3,
		NewStatusID: 5,
	})
	if err != nil {
		t.Fatalf("HandleStatusChange failed: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("rule from another business matched: %+v", outcomes)
	}
}
