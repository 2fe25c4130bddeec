// Package apierr defines the domain error taxonomy and its mapping onto
// HTTP status codes, shared by internal/roomservice and internal/api.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a domain error category, independent of transport.
type Kind string

const (
	NotFound         Kind = "NotFound"
	NotOwner         Kind = "NotOwner"
	Unauthenticated  Kind = "Unauthenticated"
	RoomNotJoinable  Kind = "RoomNotJoinable"
	RoomFull         Kind = "RoomFull"
	HasActiveRoom    Kind = "HasActiveRoom"
	WrongStatus      Kind = "WrongStatus"
	TooFewMembers    Kind = "TooFewMembers"
	InvalidLabel     Kind = "InvalidLabel"
	InvalidRule      Kind = "InvalidRule"
	ConflictingRules Kind = "ConflictingRules"
	CannotRemoveOwner Kind = "CannotRemoveOwner"
	InvalidInput      Kind = "InvalidInput"
	CodeExhausted    Kind = "CodeExhausted"
	RoomCodeConflict   Kind = "RoomCodeConflict"
	AlreadyMember      Kind = "AlreadyMember"
	MemberNotFound     Kind = "MemberNotFound"
	CredentialConflict Kind = "CredentialConflict"
	Internal           Kind = "Internal"
)

// statusByKind maps each Kind onto the HTTP status spec.md §7 assigns it.
var statusByKind = map[Kind]int{
	NotFound:          http.StatusNotFound,
	NotOwner:          http.StatusForbidden,
	Unauthenticated:   http.StatusUnauthorized,
	RoomNotJoinable:   http.StatusBadRequest,
	RoomFull:          http.StatusBadRequest,
	HasActiveRoom:     http.StatusBadRequest,
	WrongStatus:       http.StatusBadRequest,
	TooFewMembers:     http.StatusBadRequest,
	InvalidLabel:      http.StatusBadRequest,
	InvalidRule:       http.StatusBadRequest,
	ConflictingRules:  http.StatusBadRequest,
	CannotRemoveOwner: http.StatusBadRequest,
	InvalidInput:      http.StatusBadRequest,
	CodeExhausted:     http.StatusInternalServerError,
	RoomCodeConflict:   http.StatusConflict,
	AlreadyMember:      http.StatusConflict,
	MemberNotFound:     http.StatusNotFound,
	CredentialConflict: http.StatusConflict,
	Internal:           http.StatusInternalServerError,
}

// Status returns the HTTP status code for k, defaulting to 500 for unknown kinds.
func Status(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a domain error carrying a Kind and a user-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal for plain errors.
// Uses errors.As so a wrapped apierr (fmt.Errorf("...: %w", err)) still
// classifies correctly instead of collapsing to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}
