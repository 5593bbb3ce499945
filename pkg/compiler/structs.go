// contentrex/pkg/compiler/structs.go
package compiler

import (
	"strconv"
	"strings"

	"rgehrsitz/contentrex/pkg/bytecode"
)

// ResourceFlags holds the resource types and load types a rule applies to.
// An empty group of flags means "any".
type ResourceFlags uint16

const (
	ResourceTypeDocument     ResourceFlags = 0x0001
	ResourceTypeImage        ResourceFlags = 0x0002
	ResourceTypeStyleSheet   ResourceFlags = 0x0004
	ResourceTypeScript       ResourceFlags = 0x0008
	ResourceTypeFont         ResourceFlags = 0x0010
	ResourceTypeRaw          ResourceFlags = 0x0020
	ResourceTypeSVGDocument  ResourceFlags = 0x0040
	ResourceTypeMedia        ResourceFlags = 0x0080
	ResourceTypePlugInStream ResourceFlags = 0x0100
	ResourceTypePopup        ResourceFlags = 0x0200
	ResourceTypeMask                       = ResourceFlags(bytecode.ResourceTypeMask)

	LoadTypeFirstParty ResourceFlags = 0x0400
	LoadTypeThirdParty ResourceFlags = 0x0800
	LoadTypeMask                     = ResourceFlags(bytecode.LoadTypeMask)
)

var resourceTypeNames = map[string]ResourceFlags{
	"document":     ResourceTypeDocument,
	"image":        ResourceTypeImage,
	"style-sheet":  ResourceTypeStyleSheet,
	"script":       ResourceTypeScript,
	"font":         ResourceTypeFont,
	"raw":          ResourceTypeRaw,
	"svg-document": ResourceTypeSVGDocument,
	"media":        ResourceTypeMedia,
	"popup":        ResourceTypePopup,
}

var loadTypeNames = map[string]ResourceFlags{
	"first-party": LoadTypeFirstParty,
	"third-party": LoadTypeThirdParty,
}

// ResourceFlagsByName returns the flag of a resource-type or load-type name.
func ResourceFlagsByName(name string) (ResourceFlags, bool) {
	if flag, ok := resourceTypeNames[name]; ok {
		return flag, true
	}
	flag, ok := loadTypeNames[name]
	return flag, ok
}

// ConditionType says how a trigger's domain list applies.
type ConditionType uint8

const (
	ConditionNone ConditionType = iota
	ConditionIfDomain
	ConditionUnlessDomain
)

type Trigger struct {
	URLFilter                string
	URLFilterIsCaseSensitive bool
	Conditions               []string
	ConditionType            ConditionType
	Flags                    ResourceFlags
}

// Key identifies triggers that are equal field by field.
func (t Trigger) Key() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(t.URLFilter)))
	b.WriteByte(':')
	b.WriteString(t.URLFilter)
	if t.URLFilterIsCaseSensitive {
		b.WriteString("|cs")
	}
	b.WriteString("|t")
	b.WriteString(strconv.Itoa(int(t.ConditionType)))
	b.WriteString("|f")
	b.WriteString(strconv.Itoa(int(t.Flags)))
	for _, condition := range t.Conditions {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(len(condition)))
		b.WriteByte(':')
		b.WriteString(condition)
	}
	return b.String()
}

// ActionType is the serialized type byte of an action.
type ActionType uint8

const (
	ActionBlockLoad ActionType = iota
	ActionBlockCookies
	ActionCSSDisplayNoneSelector
	ActionCSSDisplayNoneStyleSheet
	ActionIgnorePreviousRules
	ActionMakeHTTPS
	ActionInvalid
)

var actionTypeNames = map[string]ActionType{
	"block":                 ActionBlockLoad,
	"block-cookies":         ActionBlockCookies,
	"css-display-none":      ActionCSSDisplayNoneSelector,
	"ignore-previous-rules": ActionIgnorePreviousRules,
	"make-https":            ActionMakeHTTPS,
}

func (a ActionType) String() string {
	switch a {
	case ActionBlockLoad:
		return "block"
	case ActionBlockCookies:
		return "block-cookies"
	case ActionCSSDisplayNoneSelector:
		return "css-display-none"
	case ActionCSSDisplayNoneStyleSheet:
		return "css-display-none-style-sheet"
	case ActionIgnorePreviousRules:
		return "ignore-previous-rules"
	case ActionMakeHTTPS:
		return "make-https"
	}
	return "invalid"
}

type Action struct {
	Type ActionType
	// StringArgument is the selector of css-display-none actions.
	StringArgument string
}

type Rule struct {
	Trigger Trigger
	Action  Action
}

// JSONRule is a rule in the content blocker JSON format.
type JSONRule struct {
	Trigger JSONTrigger `json:"trigger"`
	Action  JSONAction  `json:"action"`
}

type JSONTrigger struct {
	URLFilter                string   `json:"url-filter"`
	URLFilterIsCaseSensitive bool     `json:"url-filter-is-case-sensitive,omitempty"`
	ResourceType             []string `json:"resource-type,omitempty"`
	LoadType                 []string `json:"load-type,omitempty"`
	IfDomain                 []string `json:"if-domain,omitempty"`
	UnlessDomain             []string `json:"unless-domain,omitempty"`
}

type JSONAction struct {
	Type     string `json:"type" jsonschema:"enum=block,enum=block-cookies,enum=css-display-none,enum=ignore-previous-rules,enum=make-https"`
	Selector string `json:"selector,omitempty"`
}

// JSON returns the rule in the content blocker JSON format.
func (r Rule) JSON() JSONRule {
	out := JSONRule{
		Trigger: JSONTrigger{
			URLFilter:                r.Trigger.URLFilter,
			URLFilterIsCaseSensitive: r.Trigger.URLFilterIsCaseSensitive,
			ResourceType:             flagNames(resourceTypeNames, r.Trigger.Flags),
			LoadType:                 flagNames(loadTypeNames, r.Trigger.Flags),
		},
		Action: JSONAction{Type: r.Action.Type.String()},
	}
	switch r.Trigger.ConditionType {
	case ConditionIfDomain:
		out.Trigger.IfDomain = r.Trigger.Conditions
	case ConditionUnlessDomain:
		out.Trigger.UnlessDomain = r.Trigger.Conditions
	}
	if r.Action.Type == ActionCSSDisplayNoneSelector {
		out.Action.Selector = r.Action.StringArgument
	}
	return out
}

// flagNames lists the names of the flags set in flags, in bit order.
func flagNames(names map[string]ResourceFlags, flags ResourceFlags) []string {
	var out []string
	for bit := ResourceFlags(1); bit != 0 && bit <= LoadTypeThirdParty; bit <<= 1 {
		if flags&bit == 0 {
			continue
		}
		for name, value := range names {
			if value == bit {
				out = append(out, name)
			}
		}
	}
	return out
}
