package rules

import (
	"testing"

	"github.com/portcall/mailgate/internal/model"
)

func msg(sender, subject string) *model.CanonicalMessage {
	return &model.CanonicalMessage{Sender: sender, Subject: subject}
}

func TestEmptyRuleSetNoSkipNoModifications(t *testing.T) {
	e := New(nil)
	effect := e.Evaluate(nil, msg("a@x.test", "hi"))
	if effect.ShouldSkip {
		t.Error("expected should_skip = false for empty rule set")
	}
	if len(effect.FieldModifications) != 0 {
		t.Error("expected no field modifications for empty rule set")
	}
}

func TestANDShortCircuitStopsAtFirstFalse(t *testing.T) {
	// AND with a false first condition must not match even though the
	// second condition would; the group-level walk in evaluateGroup
	// returns at the first false without touching later conditions.
	rule := model.Rule{
		Name:             "r1",
		IsActive:         true,
		GlobalGroupLogic: model.LogicAND,
		ConditionGroups: []model.ConditionGroup{{
			Logic: model.LogicAND,
			Conditions: []model.Condition{
				{Field: model.FieldSender, Operator: model.OpContains, MatchValue: "nomatch"},
				{Field: model.FieldSubject, Operator: model.OpContains, MatchValue: "hi"},
			},
		}},
	}
	subjectCalls := 0
	origSubject := fieldExtractors[model.FieldSubject]
	fieldExtractors[model.FieldSubject] = func(m *model.CanonicalMessage) string {
		subjectCalls++
		return origSubject(m)
	}
	defer func() { fieldExtractors[model.FieldSubject] = origSubject }()

	e := New(nil)
	effect := e.Evaluate([]model.Rule{rule}, msg("a@x.test", "hi"))
	if len(effect.MatchedRules) != 0 {
		t.Errorf("expected no match, got %v", effect.MatchedRules)
	}
	if subjectCalls != 0 {
		t.Errorf("expected second condition's extractor not to run, ran %d times", subjectCalls)
	}
}

func TestStopOnMatchSkipsDownstreamRules(t *testing.T) {
	r1 := model.Rule{
		Name: "skip-noreply", IsActive: true, Priority: 10, StopOnMatch: true,
		GlobalGroupLogic: model.LogicAND,
		ConditionGroups: []model.ConditionGroup{{Logic: model.LogicAND, Conditions: []model.Condition{
			{Field: model.FieldSender, Operator: model.OpContains, MatchValue: "noreply@"},
		}}},
		Actions: []model.Action{{Type: model.ActionSkip}},
	}
	r2 := model.Rule{
		Name: "set-dispatcher", IsActive: true, Priority: 5,
		GlobalGroupLogic: model.LogicAND,
		Actions: []model.Action{{Type: model.ActionSetField, Config: map[string]string{"field_name": "dispatcher_id", "field_value": "9"}}},
	}
	e := New(nil)
	effect := e.Evaluate([]model.Rule{r1, r2}, msg("noreply@x.test", "hi"))
	if !effect.ShouldSkip {
		t.Error("expected should_skip = true")
	}
	if len(effect.FieldModifications) != 0 {
		t.Errorf("expected downstream rule not to contribute modifications, got %v", effect.FieldModifications)
	}
}

func TestSetFieldPriorityPrecedence(t *testing.T) {
	r1 := model.Rule{Name: "r1", IsActive: true, Priority: 20, GlobalGroupLogic: model.LogicAND,
		Actions: []model.Action{{Type: model.ActionSetField, Config: map[string]string{"field_name": "dispatcher_id", "field_value": "7"}}}}
	r2 := model.Rule{Name: "r2", IsActive: true, Priority: 10, GlobalGroupLogic: model.LogicAND,
		Actions: []model.Action{{Type: model.ActionSetField, Config: map[string]string{"field_name": "dispatcher_id", "field_value": "9"}}}}
	e := New(nil)
	// Rules are passed in priority order (caller/repository responsibility).
	effect := e.Evaluate([]model.Rule{r1, r2}, msg("a@x.test", "hi"))
	if effect.FieldModifications["dispatcher_id"] != "9" {
		t.Errorf("expected last-write-wins value 9, got %q", effect.FieldModifications["dispatcher_id"])
	}
}

func TestRegexMalformedEvaluatesFalseNotRegexEvaluatesTrue(t *testing.T) {
	e := New(nil)

	regexRule := model.Rule{Name: "bad-regex", IsActive: true, GlobalGroupLogic: model.LogicAND,
		ConditionGroups: []model.ConditionGroup{{Logic: model.LogicAND, Conditions: []model.Condition{
			{Field: model.FieldSubject, Operator: model.OpRegex, MatchValue: "["},
		}}}}
	effect := e.Evaluate([]model.Rule{regexRule}, msg("a@x.test", "hi"))
	if len(effect.MatchedRules) != 0 {
		t.Error("expected malformed regex to evaluate false (no match)")
	}

	notRegexRule := regexRule
	notRegexRule.Name = "bad-not-regex"
	notRegexRule.ConditionGroups = []model.ConditionGroup{{Logic: model.LogicAND, Conditions: []model.Condition{
		{Field: model.FieldSubject, Operator: model.OpNotRegex, MatchValue: "["},
	}}}
	effect = e.Evaluate([]model.Rule{notRegexRule}, msg("a@x.test", "hi"))
	if len(effect.MatchedRules) != 1 {
		t.Error("expected malformed not_regex to evaluate true (match)")
	}
}

func TestCaseInsensitiveFolding(t *testing.T) {
	rule := model.Rule{Name: "r", IsActive: true, GlobalGroupLogic: model.LogicAND,
		ConditionGroups: []model.ConditionGroup{{Logic: model.LogicAND, Conditions: []model.Condition{
			{Field: model.FieldSubject, Operator: model.OpEquals, MatchValue: "HELLO", CaseSensitive: false},
		}}}}
	e := New(nil)
	effect := e.Evaluate([]model.Rule{rule}, msg("a@x.test", "hello"))
	if len(effect.MatchedRules) != 1 {
		t.Error("expected case-insensitive equals to match")
	}
}

func TestEmptyGroupAndEmptyConditionGroupsMatch(t *testing.T) {
	rule := model.Rule{Name: "r", IsActive: true, GlobalGroupLogic: model.LogicAND}
	e := New(nil)
	effect := e.Evaluate([]model.Rule{rule}, msg("a@x.test", "hello"))
	if len(effect.MatchedRules) != 1 {
		t.Error("expected rule with no condition groups to always match")
	}

	emptyGroupRule := model.Rule{Name: "r-empty-group", IsActive: true, GlobalGroupLogic: model.LogicAND,
		ConditionGroups: []model.ConditionGroup{{Logic: model.LogicAND}}}
	effect = e.Evaluate([]model.Rule{emptyGroupRule}, msg("a@x.test", "hello"))
	if len(effect.MatchedRules) != 1 {
		t.Error("expected a condition group with no conditions to match")
	}
}
