package rules

import (
	"fmt"

	"github.com/portcall/mailgate/internal/model"
)

// actionFunc executes one Action against msg, mutating it in place and
// returning the per-action effect contribution plus an error string
// (empty on success).
type actionFunc func(action model.Action, msg *model.CanonicalMessage) (skip bool, fieldMod *fieldMod, errMsg string)

type fieldMod struct {
	field model.MutableField
	value string
}

var actionHandlers = map[model.ActionType]actionFunc{
	model.ActionSkip: func(action model.Action, msg *model.CanonicalMessage) (bool, *fieldMod, string) {
		// The skip is unconditional once the action runs. The optional
		// reason config is not read and does not appear in the effect.
		return true, nil, ""
	},
	model.ActionSetField: func(action model.Action, msg *model.CanonicalMessage) (bool, *fieldMod, string) {
		fieldName, ok := action.Config["field_name"]
		if !ok || fieldName == "" {
			return false, nil, "rules: set_field action missing field_name"
		}
		if !model.IsMutable(fieldName) {
			return false, nil, fmt.Sprintf("rules: set_field does not support field %q", fieldName)
		}
		value := action.Config["field_value"]
		field := model.MutableField(fieldName)
		if !msg.Set(field, value) {
			return false, nil, fmt.Sprintf("rules: failed to apply set_field %q", fieldName)
		}
		return false, &fieldMod{field: field, value: value}, ""
	},
}

// executeAction runs one Action against msg. A validation error (bad
// field name, missing config) is recorded in errMsg but never panics and
// never prevents the caller from running the rule's remaining actions.
func executeAction(action model.Action, msg *model.CanonicalMessage) (skip bool, mod *fieldMod, errMsg string) {
	fn, ok := actionHandlers[action.Type]
	if !ok {
		return false, nil, fmt.Sprintf("rules: unsupported action type %q", action.Type)
	}
	return fn(action, msg)
}
