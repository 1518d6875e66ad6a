package repository

import (
	"encoding/json"

	"github.com/portcall/mailgate/internal/errs"
	"github.com/portcall/mailgate/internal/model"
)

// LoadActiveRules loads every active rule with its condition groups,
// conditions, and actions attached, ordered priority DESC, id ASC.
// Groups, conditions, and actions are fetched in whole-table batches and
// joined in memory rather than N+1 queries per rule.
func (r *Repository) LoadActiveRules() ([]model.Rule, error) {
	ruleRows, err := r.db.Query(`
		SELECT id, name, description, is_active, priority, stop_on_match, global_group_logic
		FROM rules WHERE is_active = 1 ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: load rules")
	}
	defer ruleRows.Close()

	var rules []model.Rule
	byID := make(map[int64]*model.Rule)
	for ruleRows.Next() {
		var rule model.Rule
		var isActive int
		var stopOnMatch int
		var logic string
		if err := ruleRows.Scan(&rule.ID, &rule.Name, &rule.Description, &isActive, &rule.Priority, &stopOnMatch, &logic); err != nil {
			return nil, errs.Wrap(errs.Storage, err, "repository: scan rule")
		}
		rule.IsActive = isActive != 0
		rule.StopOnMatch = stopOnMatch != 0
		rule.GlobalGroupLogic = model.GroupLogic(logic)
		rules = append(rules, rule)
	}
	if err := ruleRows.Err(); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: iterate rules")
	}
	for i := range rules {
		byID[rules[i].ID] = &rules[i]
	}
	if len(rules) == 0 {
		return nil, nil
	}

	// Groups are collected into their own arena first and distributed to
	// rules only after every condition has been attached; appending into
	// rule.ConditionGroups while also holding per-group pointers would let
	// a slice reallocation strand conditions on a stale copy.
	type groupWithRule struct {
		ruleID int64
		group  model.ConditionGroup
	}
	var groups []groupWithRule
	groupIdx := make(map[int64]int)

	groupRows, err := r.db.Query(`
		SELECT id, rule_id, logic, order_idx FROM rule_condition_groups ORDER BY rule_id, order_idx ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: load condition groups")
	}
	for groupRows.Next() {
		var g model.ConditionGroup
		var ruleID int64
		var logic string
		if err := groupRows.Scan(&g.ID, &ruleID, &logic, &g.Order); err != nil {
			groupRows.Close()
			return nil, errs.Wrap(errs.Storage, err, "repository: scan condition group")
		}
		g.Logic = model.GroupLogic(logic)
		if _, ok := byID[ruleID]; !ok {
			continue
		}
		groupIdx[g.ID] = len(groups)
		groups = append(groups, groupWithRule{ruleID: ruleID, group: g})
	}
	if err := groupRows.Err(); err != nil {
		groupRows.Close()
		return nil, errs.Wrap(errs.Storage, err, "repository: iterate condition groups")
	}
	groupRows.Close()

	condRows, err := r.db.Query(`
		SELECT id, group_id, field, operator, match_value, case_sensitive, order_idx
		FROM rule_conditions ORDER BY group_id, order_idx ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: load conditions")
	}
	for condRows.Next() {
		var c model.Condition
		var groupID int64
		var field, operator string
		var caseSensitive int
		if err := condRows.Scan(&c.ID, &groupID, &field, &operator, &c.MatchValue, &caseSensitive, &c.Order); err != nil {
			condRows.Close()
			return nil, errs.Wrap(errs.Storage, err, "repository: scan condition")
		}
		c.Field = model.FieldType(field)
		c.Operator = model.OperatorType(operator)
		c.CaseSensitive = caseSensitive != 0
		idx, ok := groupIdx[groupID]
		if !ok {
			continue
		}
		groups[idx].group.Conditions = append(groups[idx].group.Conditions, c)
	}
	if err := condRows.Err(); err != nil {
		condRows.Close()
		return nil, errs.Wrap(errs.Storage, err, "repository: iterate conditions")
	}
	condRows.Close()

	for _, g := range groups {
		rule := byID[g.ruleID]
		rule.ConditionGroups = append(rule.ConditionGroups, g.group)
	}

	actionRows, err := r.db.Query(`
		SELECT id, rule_id, type, config, order_idx FROM rule_actions ORDER BY rule_id, order_idx ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: load actions")
	}
	for actionRows.Next() {
		var a model.Action
		var ruleID int64
		var actionType, config string
		if err := actionRows.Scan(&a.ID, &ruleID, &actionType, &config, &a.Order); err != nil {
			actionRows.Close()
			return nil, errs.Wrap(errs.Storage, err, "repository: scan action")
		}
		a.Type = model.ActionType(actionType)
		if config != "" {
			if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
				a.Config = map[string]string{}
			}
		}
		rule, ok := byID[ruleID]
		if !ok {
			continue
		}
		rule.Actions = append(rule.Actions, a)
	}
	if err := actionRows.Err(); err != nil {
		actionRows.Close()
		return nil, errs.Wrap(errs.Storage, err, "repository: iterate actions")
	}
	actionRows.Close()

	return rules, nil
}
