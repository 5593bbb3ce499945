// contentrex/pkg/compiler/errors.go

package compiler

import "errors"

// Causes of a rejected rule list. They are wrapped in a *logging.RuleError
// and can be matched with errors.Is.
var (
	ErrJSONInvalid                          = errors.New("failed to parse the JSON string")
	ErrJSONTopLevelStructureNotAnArray      = errors.New("invalid input, the top level structure is not an array")
	ErrJSONInvalidObjectInTopLevelArray     = errors.New("invalid object in the top level array")
	ErrJSONTooManyRules                     = errors.New("too many rules in JSON array")
	ErrJSONInvalidTrigger                   = errors.New("invalid trigger object")
	ErrJSONInvalidURLFilterInTrigger        = errors.New("invalid url-filter object")
	ErrJSONInvalidTriggerFlagsArray         = errors.New("invalid trigger flags array")
	ErrJSONInvalidStringInTriggerFlagsArray = errors.New("invalid string in the trigger flags array")
	ErrJSONInvalidConditionList             = errors.New("invalid list of if-domain or unless-domain conditions")
	ErrJSONDomainNotLowerCaseASCII          = errors.New("domains must be lower case ASCII")
	ErrJSONMultipleConditions               = errors.New("a trigger cannot have more than one condition (if-domain or unless-domain)")
	ErrJSONInvalidAction                    = errors.New("invalid action object")
	ErrJSONInvalidActionType                = errors.New("invalid action type")
	ErrJSONInvalidCSSDisplayNoneActionType  = errors.New("invalid css-display-none action type, requires a selector")
	ErrJSONInvalidRegex                     = errors.New("invalid or unsupported regular expression")
)
