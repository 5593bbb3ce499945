// contentrex/pkg/compiler/parser.go

package compiler

import (
	"bytes"
	"encoding/json"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"rgehrsitz/contentrex/pkg/logging"
)

// MaxRuleCount is the largest rule list accepted.
const MaxRuleCount = 50000

// ParseRuleList reads a rule list in the content blocker JSON format. Input
// is UTF-8, or UTF-16 when it starts with a byte order mark.
func ParseRuleList(data []byte) ([]Rule, error) {
	logging.Logger.Debug().Int("bytes", len(data)).Msg("Starting to parse rule list")

	text, _, err := transform.Bytes(unicode.BOMOverride(encoding.Nop.NewDecoder()), data)
	if err != nil {
		return nil, parseError(ErrJSONInvalid, -1, err.Error())
	}
	if !json.Valid(text) {
		return nil, parseError(ErrJSONInvalid, -1, "")
	}
	if !startsWith(text, '[') {
		return nil, parseError(ErrJSONTopLevelStructureNotAnArray, -1, "")
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(text, &entries); err != nil {
		return nil, parseError(ErrJSONInvalid, -1, err.Error())
	}
	if len(entries) > MaxRuleCount {
		return nil, parseError(ErrJSONTooManyRules, -1, "")
	}

	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		rule, err := parseRule(entry)
		if err != nil {
			return nil, parseError(err, i, "")
		}
		rules = append(rules, rule)
	}

	logging.Logger.Debug().Int("rules", len(rules)).Msg("Parsed rule list")
	return rules, nil
}

func parseError(cause error, index int, detail string) error {
	fields := map[string]interface{}{}
	if index >= 0 {
		fields["rule_index"] = index
	}
	if detail != "" {
		fields["detail"] = detail
	}
	err := logging.NewError(logging.ErrorTypeParse, "invalid rule list", cause, fields)
	logging.LogError(logging.Logger, err)
	return err
}

func startsWith(raw []byte, c byte) bool {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	return len(raw) > 0 && raw[0] == c
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if !startsWith(raw, '{') {
		return nil, false
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, false
	}
	return object, true
}

func parseRule(raw json.RawMessage) (Rule, error) {
	object, ok := decodeObject(raw)
	if !ok {
		return Rule{}, ErrJSONInvalidObjectInTopLevelArray
	}

	triggerRaw, ok := object["trigger"]
	if !ok {
		return Rule{}, ErrJSONInvalidTrigger
	}
	trigger, err := parseTrigger(triggerRaw)
	if err != nil {
		return Rule{}, err
	}

	actionRaw, ok := object["action"]
	if !ok {
		return Rule{}, ErrJSONInvalidAction
	}
	action, err := parseAction(actionRaw)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Trigger: trigger, Action: action}, nil
}

func parseTrigger(raw json.RawMessage) (Trigger, error) {
	object, ok := decodeObject(raw)
	if !ok {
		return Trigger{}, ErrJSONInvalidTrigger
	}

	var trigger Trigger
	filterRaw, ok := object["url-filter"]
	if !ok || !startsWith(filterRaw, '"') || json.Unmarshal(filterRaw, &trigger.URLFilter) != nil || trigger.URLFilter == "" {
		return Trigger{}, ErrJSONInvalidURLFilterInTrigger
	}
	if caseRaw, ok := object["url-filter-is-case-sensitive"]; ok {
		if err := json.Unmarshal(caseRaw, &trigger.URLFilterIsCaseSensitive); err != nil {
			return Trigger{}, ErrJSONInvalidTrigger
		}
	}

	for _, group := range []struct {
		key   string
		names map[string]ResourceFlags
	}{{"resource-type", resourceTypeNames}, {"load-type", loadTypeNames}} {
		flagsRaw, ok := object[group.key]
		if !ok {
			continue
		}
		flags, err := parseFlags(flagsRaw, group.names)
		if err != nil {
			return Trigger{}, err
		}
		trigger.Flags |= flags
	}

	ifDomainRaw, hasIfDomain := object["if-domain"]
	unlessDomainRaw, hasUnlessDomain := object["unless-domain"]
	switch {
	case hasIfDomain && hasUnlessDomain:
		return Trigger{}, ErrJSONMultipleConditions
	case hasIfDomain:
		domains, err := parseDomains(ifDomainRaw)
		if err != nil {
			return Trigger{}, err
		}
		trigger.Conditions, trigger.ConditionType = domains, ConditionIfDomain
	case hasUnlessDomain:
		domains, err := parseDomains(unlessDomainRaw)
		if err != nil {
			return Trigger{}, err
		}
		trigger.Conditions, trigger.ConditionType = domains, ConditionUnlessDomain
	}
	return trigger, nil
}

func parseFlags(raw json.RawMessage, names map[string]ResourceFlags) (ResourceFlags, error) {
	var values []json.RawMessage
	if !startsWith(raw, '[') || json.Unmarshal(raw, &values) != nil {
		return 0, ErrJSONInvalidTriggerFlagsArray
	}
	var flags ResourceFlags
	for _, value := range values {
		var name string
		if !startsWith(value, '"') || json.Unmarshal(value, &name) != nil {
			return 0, ErrJSONInvalidStringInTriggerFlagsArray
		}
		flag, ok := names[name]
		if !ok {
			return 0, ErrJSONInvalidStringInTriggerFlagsArray
		}
		flags |= flag
	}
	return flags, nil
}

func parseDomains(raw json.RawMessage) ([]string, error) {
	var values []json.RawMessage
	if !startsWith(raw, '[') || json.Unmarshal(raw, &values) != nil || len(values) == 0 {
		return nil, ErrJSONInvalidConditionList
	}
	domains := make([]string, 0, len(values))
	for _, value := range values {
		var domain string
		if !startsWith(value, '"') || json.Unmarshal(value, &domain) != nil {
			return nil, ErrJSONInvalidConditionList
		}
		if !isLowerCaseASCIIDomain(domain) {
			return nil, ErrJSONDomainNotLowerCaseASCII
		}
		domains = append(domains, domain)
	}
	return domains, nil
}

func isLowerCaseASCIIDomain(domain string) bool {
	if domain == "" || domain == "*" {
		return false
	}
	for i := 0; i < len(domain); i++ {
		c := domain[i]
		if c == 0 || c >= 0x80 || (c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

func parseAction(raw json.RawMessage) (Action, error) {
	object, ok := decodeObject(raw)
	if !ok {
		return Action{}, ErrJSONInvalidAction
	}

	var typeName string
	typeRaw, ok := object["type"]
	if !ok || !startsWith(typeRaw, '"') || json.Unmarshal(typeRaw, &typeName) != nil {
		return Action{}, ErrJSONInvalidActionType
	}
	actionType, ok := actionTypeNames[typeName]
	if !ok {
		return Action{}, ErrJSONInvalidActionType
	}

	action := Action{Type: actionType}
	if actionType == ActionCSSDisplayNoneSelector {
		selectorRaw, ok := object["selector"]
		if !ok || !startsWith(selectorRaw, '"') || json.Unmarshal(selectorRaw, &action.StringArgument) != nil {
			return Action{}, ErrJSONInvalidCSSDisplayNoneActionType
		}
	}
	return action, nil
}
