// contentrex/pkg/logging/errors.go

package logging

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

type ErrorType string

const (
	ErrorTypeParse   ErrorType = "PARSE"
	ErrorTypeCompile ErrorType = "COMPILE"
	ErrorTypeStore   ErrorType = "STORE"
)

type RuleError struct {
	Type    ErrorType
	Message string
	Err     error
	Fields  map[string]interface{}
}

func (e *RuleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

func NewError(errType ErrorType, message string, err error, fields map[string]interface{}) *RuleError {
	return &RuleError{
		Type:    errType,
		Message: message,
		Err:     err,
		Fields:  fields,
	}
}

// IsType reports whether err is (or wraps) a RuleError of the given type.
func IsType(err error, errType ErrorType) bool {
	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) {
		return false
	}
	return ruleErr.Type == errType
}

func LogError(logger zerolog.Logger, err error) {
	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) {
		logger.Error().Err(err).Msg(err.Error())
		return
	}

	event := logger.Error().Err(ruleErr.Err).
		Str("error_type", string(ruleErr.Type)).
		Str("message", ruleErr.Message)

	for k, v := range ruleErr.Fields {
		event = event.Interface(k, v)
	}

	event.Msg(ruleErr.Message)
}
