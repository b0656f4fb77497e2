package services

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Failure classes. Every pipeline error is tagged with exactly one of these so
// the orchestrator, the API and the logs agree on what went wrong.
var (
	ErrFatalInput    = errors.New("fatal input")
	ErrProvider      = errors.New("provider error")
	ErrTimeout       = errors.New("timeout")
	ErrNoMatch       = errors.New("no match")
	ErrRender        = errors.New("render error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// MaxErrorMessageLength bounds error text persisted on job records.
const MaxErrorMessageLength = 500

// Kind is the stable, machine-readable name of a failure class.
type Kind string

const (
	KindFatalInput    Kind = "fatal_input"
	KindProvider      Kind = "provider"
	KindTimeout       Kind = "timeout"
	KindNoMatch       Kind = "no_match"
	KindRender        Kind = "render"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// ServiceError carries stage context alongside the failure marker.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Marker.Error())
	b.WriteString(": ")
	b.WriteString(buildDetail(e.Stage, e.Operation, e.Message))
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrProvider
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the structured view of a failure used for logging.
type ErrorDetails struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
	Cause     string
}

// Details extracts the outermost stage context from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: FailureKind(err), Message: err.Error()}
	var serr *ServiceError
	if errors.As(err, &serr) {
		details.Stage = serr.Stage
		details.Operation = serr.Operation
		if serr.Message != "" {
			details.Message = serr.Message
		}
		if serr.Cause != nil {
			details.Cause = serr.Cause.Error()
		}
	}
	return details
}

// FailureKind maps an error to its failure class.
func FailureKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoMatch):
		return KindNoMatch
	case errors.Is(err, ErrFatalInput):
		return KindFatalInput
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrRender):
		return KindRender
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// FailureMessage renders err for storage on a job record: the failure class
// prefix followed by the message, truncated to MaxErrorMessageLength runes.
// The marker text of the outermost ServiceError is dropped since the class
// prefix already names it.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var serr *ServiceError
	if errors.As(err, &serr) && serr.Marker != nil {
		msg = strings.TrimPrefix(msg, serr.Marker.Error()+": ")
	}
	return TruncateMessage(string(FailureKind(err))+": "+msg, MaxErrorMessageLength)
}

// TruncateMessage shortens msg to at most limit runes.
func TruncateMessage(msg string, limit int) string {
	msg = strings.TrimSpace(msg)
	if limit <= 0 || utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:limit])
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
