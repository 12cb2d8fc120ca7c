package query

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeMissingRange  Code = "missing_range"
	CodeInvalidDate   Code = "invalid_date"
	CodeInvalidRange  Code = "invalid_range"
	CodeUnknownPeriod Code = "unknown_period"
	CodeMissingFields Code = "missing_fields"
	CodeInvalidField  Code = "invalid_field"
	CodeInvalidBody   Code = "invalid_body"
)

const (
	MsgMissingRange  = "Les paramètres start et end sont requis"
	MsgInvalidDate   = "Format de date invalide. Utilisez le format ISO 8601"
	MsgInvalidRange  = "La date de début doit être antérieure à la date de fin"
	MsgUnknownPeriod = "Période invalide. Valeurs acceptées : realtime, lastHour, last24Hours"
	MsgInvalidBody   = "Corps de requête JSON invalide"
	MsgInternal      = "Erreur interne du serveur"
)

// ValidationError is a caller-fixable failure. Retrying the same input will
// fail the same way.
type ValidationError struct {
	Code    Code
	Message string
	Fields  []string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InternalError wraps anything unexpected that escaped a query.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

func IsValidation(err error) bool {
	_, ok := AsValidation(err)
	return ok
}

// Retryable reports whether a caller may sensibly retry after err.
func Retryable(err error) bool {
	return err != nil && !IsValidation(err)
}
