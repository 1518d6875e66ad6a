package repository

import (
	"testing"
)

func TestSeedRulesIfEmptyInsertsComposite(t *testing.T) {
	repo := openTestRepo(t)

	file := &RuleSeedFile{
		Rules: []RuleSeed{
			{
				Name:             "skip noreply",
				IsActive:         true,
				Priority:         10,
				StopOnMatch:      true,
				GlobalGroupLogic: "AND",
				ConditionGroups: []ConditionGroupSeed{
					{
						Logic: "AND",
						Conditions: []ConditionSeed{
							{Field: "sender", Operator: "contains", MatchValue: "noreply@"},
						},
					},
				},
				Actions: []ActionSeed{
					{Type: "skip"},
				},
			},
		},
	}

	inserted, err := repo.SeedRulesIfEmpty(file)
	if err != nil {
		t.Fatalf("SeedRulesIfEmpty: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1", inserted)
	}

	rules, err := repo.LoadActiveRules()
	if err != nil {
		t.Fatalf("LoadActiveRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule loaded, got %d", len(rules))
	}
	if len(rules[0].ConditionGroups) != 1 || len(rules[0].ConditionGroups[0].Conditions) != 1 {
		t.Errorf("seeded rule composite load incomplete: %+v", rules[0])
	}
	if len(rules[0].Actions) != 1 || rules[0].Actions[0].Type != "skip" {
		t.Errorf("seeded rule actions incomplete: %+v", rules[0])
	}
}

func TestSeedRulesIfEmptySkipsWhenRulesExist(t *testing.T) {
	repo := openTestRepo(t)
	if _, err := repo.db.Exec(`INSERT INTO rules (name, is_active, priority) VALUES ('existing', 1, 0)`); err != nil {
		t.Fatalf("seed existing rule: %v", err)
	}

	inserted, err := repo.SeedRulesIfEmpty(&RuleSeedFile{Rules: []RuleSeed{{Name: "should not insert"}}})
	if err != nil {
		t.Fatalf("SeedRulesIfEmpty: %v", err)
	}
	if inserted != 0 {
		t.Errorf("inserted = %d, want 0 when rules table is non-empty", inserted)
	}
}
