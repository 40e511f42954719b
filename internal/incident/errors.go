package incident

import (
	"errors"
	"fmt"
)

// DecodeCode categorizes per-entry decode problems.
type DecodeCode string

const (
	// CodeTemplateLookupMiss indicates the base template tidx is not in the dictionary.
	CodeTemplateLookupMiss DecodeCode = "TEMPLATE_LOOKUP_MISS"

	// CodeHelpLookupMiss indicates the help template tidx is not in the dictionary.
	CodeHelpLookupMiss DecodeCode = "HELP_LOOKUP_MISS"

	// CodeStringLookupMiss indicates a %s argument names a missing dictionary entry.
	CodeStringLookupMiss DecodeCode = "STRING_LOOKUP_MISS"

	// CodeArgumentUnderflow indicates a token needed an argument after the
	// sequence was exhausted.
	CodeArgumentUnderflow DecodeCode = "ARGUMENT_UNDERFLOW"

	// CodeArgumentTypeMismatch indicates the consumed argument lacks the
	// field the token needs.
	CodeArgumentTypeMismatch DecodeCode = "ARGUMENT_TYPE_MISMATCH"

	// CodeMalformedEntry indicates the row's argument payload was unreadable.
	CodeMalformedEntry DecodeCode = "MALFORMED_ENTRY"

	// CodePositionMismatch indicates a positional suffix that disagrees with
	// the running consumption count. It is an anomaly, not a failure.
	CodePositionMismatch DecodeCode = "POSITION_MISMATCH"
)

// DecodeError describes one problem found while decoding an entry.
type DecodeError struct {
	Code    DecodeCode        `json:"code"`
	Message string            `json:"message"`
	Token   string            `json:"token,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (token=%q)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Anomaly reports whether the problem is informational only.
func (e *DecodeError) Anomaly() bool {
	return e.Code == CodePositionMismatch
}

// IsFailure returns true if err is a DecodeError that fails its entry.
// Uses errors.As to handle wrapped errors.
func IsFailure(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return !de.Anomaly()
	}
	return false
}

func newTemplateMiss(tidx int64) *DecodeError {
	return &DecodeError{
		Code:    CodeTemplateLookupMiss,
		Message: "template not found in dictionary",
		Details: map[string]string{"tidx": fmt.Sprintf("%d", tidx)},
	}
}

func newHelpMiss(tidx int64) *DecodeError {
	return &DecodeError{
		Code:    CodeHelpLookupMiss,
		Message: "help template not found in dictionary",
		Details: map[string]string{"help_tidx": fmt.Sprintf("%d", tidx)},
	}
}

func newStringMiss(token string, idx int64) *DecodeError {
	return &DecodeError{
		Code:    CodeStringLookupMiss,
		Message: "string reference not found in dictionary",
		Token:   token,
		Details: map[string]string{"index": fmt.Sprintf("%d", idx)},
	}
}

func newUnderflow(token string, consumed int) *DecodeError {
	return &DecodeError{
		Code:    CodeArgumentUnderflow,
		Message: "argument sequence exhausted",
		Token:   token,
		Details: map[string]string{"consumed": fmt.Sprintf("%d", consumed)},
	}
}

func newTypeMismatch(token string, want string) *DecodeError {
	return &DecodeError{
		Code:    CodeArgumentTypeMismatch,
		Message: fmt.Sprintf("argument has no %s value", want),
		Token:   token,
	}
}

func newMalformed(err error) *DecodeError {
	return &DecodeError{
		Code:    CodeMalformedEntry,
		Message: err.Error(),
	}
}

func newPositionMismatch(token string, suffix, consumed int) *DecodeError {
	return &DecodeError{
		Code:    CodePositionMismatch,
		Message: "positional suffix disagrees with consumption count",
		Token:   token,
		Details: map[string]string{
			"suffix":   fmt.Sprintf("%d", suffix),
			"consumed": fmt.Sprintf("%d", consumed),
		},
	}
}
