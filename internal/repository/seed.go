package repository

import (
	"database/sql"
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/portcall/mailgate/internal/errs"
)

// RuleSeedFile is the on-disk YAML shape for a rule-set bootstrap file,
// loaded once at startup. It is distinct from model.Rule so the seed
// shape can evolve independently of the in-memory tree the engine
// evaluates.
type RuleSeedFile struct {
	Rules []RuleSeed `yaml:"rules"`
}

// RuleSeed is one rule's YAML representation.
type RuleSeed struct {
	Name             string               `yaml:"name"`
	Description      string               `yaml:"description"`
	IsActive         bool                 `yaml:"is_active"`
	Priority         int                  `yaml:"priority"`
	StopOnMatch      bool                 `yaml:"stop_on_match"`
	GlobalGroupLogic string               `yaml:"global_group_logic"`
	ConditionGroups  []ConditionGroupSeed `yaml:"condition_groups"`
	Actions          []ActionSeed         `yaml:"actions"`
}

// ConditionGroupSeed is one condition group's YAML representation.
type ConditionGroupSeed struct {
	Logic      string          `yaml:"logic"`
	Conditions []ConditionSeed `yaml:"conditions"`
}

// ConditionSeed is one condition's YAML representation.
type ConditionSeed struct {
	Field         string `yaml:"field"`
	Operator      string `yaml:"operator"`
	MatchValue    string `yaml:"match_value"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

// ActionSeed is one action's YAML representation. Config is a flat string
// map, matching the JSON blob rule_actions.config stores.
type ActionSeed struct {
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

// LoadSeedFile parses a rule-set bootstrap file from path.
func LoadSeedFile(path string) (*RuleSeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, err, "repository: read rule seed file")
	}
	var file RuleSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errs.Wrap(errs.Configuration, err, "repository: parse rule seed file")
	}
	return &file, nil
}

// SeedRulesIfEmpty inserts the rules in file when the rules table is
// completely empty, leaving an operator-populated rule set untouched on
// every later restart. It never fires against a database that already has
// rules, so editing rules at runtime (via direct SQL or a future admin
// surface) is never clobbered by the seed file.
func (r *Repository) SeedRulesIfEmpty(file *RuleSeedFile) (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&count); err != nil {
		return 0, errs.Wrap(errs.Storage, err, "repository: count rules")
	}
	if count > 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, errs.Wrap(errs.Storage, err, "repository: begin seed")
	}
	defer tx.Rollback()

	for _, rule := range file.Rules {
		if err := insertRuleSeed(tx, rule); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.Wrap(errs.Storage, err, "repository: commit seed")
	}
	return len(file.Rules), nil
}

func insertRuleSeed(tx *sql.Tx, rule RuleSeed) error {
	logic := rule.GlobalGroupLogic
	if logic == "" {
		logic = "AND"
	}
	res, err := tx.Exec(`
		INSERT INTO rules (name, description, is_active, priority, stop_on_match, global_group_logic)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rule.Name, rule.Description, boolToInt(rule.IsActive), rule.Priority, boolToInt(rule.StopOnMatch), logic)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "repository: insert seed rule")
	}
	ruleID, err := res.LastInsertId()
	if err != nil {
		return errs.Wrap(errs.Storage, err, "repository: seed rule id")
	}

	for groupIdx, group := range rule.ConditionGroups {
		groupLogic := group.Logic
		if groupLogic == "" {
			groupLogic = "AND"
		}
		gres, err := tx.Exec(`
			INSERT INTO rule_condition_groups (rule_id, logic, order_idx) VALUES (?, ?, ?)`,
			ruleID, groupLogic, groupIdx)
		if err != nil {
			return errs.Wrap(errs.Storage, err, "repository: insert seed condition group")
		}
		groupID, err := gres.LastInsertId()
		if err != nil {
			return errs.Wrap(errs.Storage, err, "repository: seed group id")
		}

		for condIdx, cond := range group.Conditions {
			_, err := tx.Exec(`
				INSERT INTO rule_conditions (group_id, field, operator, match_value, case_sensitive, order_idx)
				VALUES (?, ?, ?, ?, ?, ?)`,
				groupID, cond.Field, cond.Operator, cond.MatchValue, boolToInt(cond.CaseSensitive), condIdx)
			if err != nil {
				return errs.Wrap(errs.Storage, err, "repository: insert seed condition")
			}
		}
	}

	for actionIdx, action := range rule.Actions {
		config := action.Config
		if config == nil {
			config = map[string]string{}
		}
		blob, err := json.Marshal(config)
		if err != nil {
			return errs.Wrap(errs.Storage, err, "repository: marshal seed action config")
		}
		_, err = tx.Exec(`
			INSERT INTO rule_actions (rule_id, type, config, order_idx) VALUES (?, ?, ?, ?)`,
			ruleID, action.Type, string(blob), actionIdx)
		if err != nil {
			return errs.Wrap(errs.Storage, err, "repository: insert seed action")
		}
	}

	return nil
}
