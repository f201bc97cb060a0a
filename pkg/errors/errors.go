package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies a failure so the task runner can tag results by cause.
type ErrorType string

const (
	ErrorTypeAuthFailed     ErrorType = "auth_failed"
	ErrorTypeSubjectInvalid ErrorType = "subject_invalid"
	ErrorTypeFetchFailed    ErrorType = "fetch_failed"
	ErrorTypeOrphanNode     ErrorType = "orphan_node"
	ErrorTypeCanceled       ErrorType = "canceled"
	ErrorTypeEnrichment     ErrorType = "enrichment"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error carries a classification, an optional HTTP status and the cause.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(t ErrorType, message string, err error) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// WithCode attaches an HTTP status code.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

func AuthFailed(message string, err error) *Error {
	return New(ErrorTypeAuthFailed, message, err)
}

func SubjectInvalid(message string, err error) *Error {
	return New(ErrorTypeSubjectInvalid, message, err)
}

func FetchFailed(message string, err error) *Error {
	return New(ErrorTypeFetchFailed, message, err)
}

// OrphanNode reports a node whose parent is not in the index at splice time.
func OrphanNode(nodeID, parentID string) *Error {
	return New(ErrorTypeOrphanNode, fmt.Sprintf("node %s references missing parent %s", nodeID, parentID), nil)
}

func Canceled(err error) *Error {
	return New(ErrorTypeCanceled, "operation canceled", err)
}

func Enrichment(message string, err error) *Error {
	return New(ErrorTypeEnrichment, message, err)
}

// TypeOf returns the classification of the first *Error in err's chain.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err's chain contains an *Error of type t.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

// FromStatus maps a non-2xx response to the taxonomy.
func FromStatus(code int, message string) *Error {
	if code == 401 {
		return AuthFailed(message, nil).WithCode(code)
	}
	return FetchFailed(message, nil).WithCode(code)
}

// IsRetryableStatusCode reports whether an enrichment provider response is
// worth retrying.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0, 408, 429:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
