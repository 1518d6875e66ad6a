package rules

import (
	"fmt"
	"log"
	"time"

	"github.com/portcall/mailgate/internal/model"
)

// Engine evaluates a loaded rule set against canonical messages. It
// holds no state beyond a logger; rules are loaded fresh by the caller
// on every tick so an operator edit takes effect on the next run without
// a restart.
type Engine struct {
	logger *log.Logger
}

// New creates an Engine that logs to logger.
func New(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{logger: logger}
}

// Evaluate runs rules, already sorted priority DESC / id ASC by the
// Repository, against msg and returns the accumulated RuleEffect. Rules
// are evaluated in order; iteration stops as soon as a matched rule sets
// stop_on_match, or the cumulative should_skip becomes true.
func (e *Engine) Evaluate(rules []model.Rule, msg *model.CanonicalMessage) model.RuleEffect {
	effect := model.RuleEffect{}

	for _, rule := range rules {
		start := time.Now()
		matches := e.evaluateRule(rule, msg)
		elapsed := time.Since(start)
		if elapsed > time.Second {
			e.logger.Printf("rules: slow rule %q took %s", rule.Name, elapsed)
		}

		if !matches {
			continue
		}

		effect.AddMatchedRule(rule.Name)
		ruleEffect := e.executeActions(rule, msg)
		effect.Merge(ruleEffect)

		if rule.StopOnMatch || effect.ShouldSkip {
			break
		}
	}

	return effect
}

// evaluateRule combines every condition group by the rule's
// global_group_logic, short-circuiting at both the rule and group level.
// A rule with no condition groups always matches.
func (e *Engine) evaluateRule(rule model.Rule, msg *model.CanonicalMessage) bool {
	if len(rule.ConditionGroups) == 0 {
		return true
	}

	switch rule.GlobalGroupLogic {
	case model.LogicOR:
		for _, group := range rule.ConditionGroups {
			if e.evaluateGroup(group, msg) {
				return true
			}
		}
		return false
	case model.LogicAND:
		fallthrough
	default:
		for _, group := range rule.ConditionGroups {
			if !e.evaluateGroup(group, msg) {
				return false
			}
		}
		return true
	}
}

// evaluateGroup combines every condition in the group by its own logic.
// A group with no conditions always matches.
func (e *Engine) evaluateGroup(group model.ConditionGroup, msg *model.CanonicalMessage) bool {
	if len(group.Conditions) == 0 {
		return true
	}

	switch group.Logic {
	case model.LogicOR:
		for _, cond := range group.Conditions {
			if e.evaluateCondition(cond, msg) {
				return true
			}
		}
		return false
	case model.LogicAND:
		fallthrough
	default:
		for _, cond := range group.Conditions {
			if !e.evaluateCondition(cond, msg) {
				return false
			}
		}
		return true
	}
}

// evaluateCondition extracts the field and applies the operator. An
// unsupported operator or a malformed regex evaluates to false and is
// logged (a malformed not_regex evaluates to true); an unsupported field
// is compared as the empty string. It never panics.
func (e *Engine) evaluateCondition(cond model.Condition, msg *model.CanonicalMessage) bool {
	fieldValue := extractField(cond.Field, msg)
	matched, warning := evaluateOperator(cond.Operator, fieldValue, cond.MatchValue, cond.CaseSensitive)
	if warning != "" {
		e.logger.Printf("rules: condition %d warning: %s", cond.ID, warning)
	}
	return matched
}

// executeActions runs rule's actions in order. A validation error on
// one action (bad field name, missing config) is recorded and does not
// prevent the rule's remaining actions from running.
func (e *Engine) executeActions(rule model.Rule, msg *model.CanonicalMessage) model.RuleEffect {
	effect := model.RuleEffect{}

	for _, action := range rule.Actions {
		skip, mod, errMsg := executeAction(action, msg)
		if skip {
			effect.ShouldSkip = true
		}
		if mod != nil {
			if effect.FieldModifications == nil {
				effect.FieldModifications = make(map[string]string)
			}
			effect.FieldModifications[string(mod.field)] = mod.value
		}
		if errMsg != "" {
			e.logger.Printf("rules: rule %q action error: %s", rule.Name, errMsg)
			effect.Errors = append(effect.Errors, fmt.Sprintf("rule %q: %s", rule.Name, errMsg))
		}
	}

	return effect
}
