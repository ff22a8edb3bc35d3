package model

import (
	"errors"
	"fmt"
)

// Code identifies a protocol failure. Codes are stable and surface verbatim
// through every transport.
type Code string

const (
	// Authorization: wrong signer.
	CodeUnauthorized            Code = "Unauthorized"
	CodeAgentKeyEqualsAuthority Code = "AgentKeyEqualsAuthority"

	// Scope: delegation or permission violations.
	CodeScopeExpired               Code = "ScopeExpired"
	CodeDelegationExpired          Code = "DelegationExpired"
	CodeCannotSignAgreements       Code = "CannotSignAgreements"
	CodeCannotCommitFunds          Code = "CannotCommitFunds"
	CodeSubAgentScopeExceedsParent Code = "SubAgentScopeExceedsParent"
	CodeMaxDelegationDepth         Code = "MaxDelegationDepth"
	CodeEscrowExceedsLimit         Code = "EscrowExceedsLimit"

	// Validation: malformed input.
	CodeInvalidAgreementType Code = "InvalidAgreementType"
	CodeInvalidVisibility    Code = "InvalidVisibility"
	CodeInvalidRole          Code = "InvalidRole"
	CodeInvalidPartyCount    Code = "InvalidPartyCount"
	CodeInvalidAmount        Code = "InvalidAmount"

	// Lifecycle: operation not valid in the current state.
	CodeInvalidStatus      Code = "InvalidStatus"
	CodeAgreementExpired   Code = "AgreementExpired"
	CodeAlreadySigned      Code = "AlreadySigned"
	CodeMaxPartiesExceeded Code = "MaxPartiesExceeded"

	// Funds.
	CodeInsufficientVaultBalance Code = "InsufficientVaultBalance"
)

// Category groups codes for transport mapping and reporting.
type Category string

const (
	CategoryAuthorization Category = "authorization"
	CategoryScope         Category = "scope"
	CategoryValidation    Category = "validation"
	CategoryLifecycle     Category = "lifecycle"
	CategoryFunds         Category = "funds"
	CategoryUnknown       Category = "unknown"
)

var categories = map[Code]Category{
	CodeUnauthorized:               CategoryAuthorization,
	CodeAgentKeyEqualsAuthority:    CategoryAuthorization,
	CodeScopeExpired:               CategoryScope,
	CodeDelegationExpired:          CategoryScope,
	CodeCannotSignAgreements:       CategoryScope,
	CodeCannotCommitFunds:          CategoryScope,
	CodeSubAgentScopeExceedsParent: CategoryScope,
	CodeMaxDelegationDepth:         CategoryScope,
	CodeEscrowExceedsLimit:         CategoryScope,
	CodeInvalidAgreementType:       CategoryValidation,
	CodeInvalidVisibility:          CategoryValidation,
	CodeInvalidRole:                CategoryValidation,
	CodeInvalidPartyCount:          CategoryValidation,
	CodeInvalidAmount:              CategoryValidation,
	CodeInvalidStatus:              CategoryLifecycle,
	CodeAgreementExpired:           CategoryLifecycle,
	CodeAlreadySigned:              CategoryLifecycle,
	CodeMaxPartiesExceeded:         CategoryLifecycle,
	CodeInsufficientVaultBalance:   CategoryFunds,
}

// Category returns the taxonomy group for c.
func (c Code) Category() Category {
	if cat, ok := categories[c]; ok {
		return cat
	}
	return CategoryUnknown
}

// Known reports whether c is a declared protocol code.
func (c Code) Known() bool {
	_, ok := categories[c]
	return ok
}

// Error is a typed protocol failure.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Is matches any *Error carrying the same code, so callers can write
// errors.Is(err, model.ErrAlreadySigned).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Fail builds an *Error with a formatted detail.
func Fail(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err, or "" if err is not a protocol error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized               = &Error{Code: CodeUnauthorized}
	ErrAgentKeyEqualsAuthority    = &Error{Code: CodeAgentKeyEqualsAuthority}
	ErrScopeExpired               = &Error{Code: CodeScopeExpired}
	ErrDelegationExpired          = &Error{Code: CodeDelegationExpired}
	ErrCannotSignAgreements       = &Error{Code: CodeCannotSignAgreements}
	ErrCannotCommitFunds          = &Error{Code: CodeCannotCommitFunds}
	ErrSubAgentScopeExceedsParent = &Error{Code: CodeSubAgentScopeExceedsParent}
	ErrMaxDelegationDepth         = &Error{Code: CodeMaxDelegationDepth}
	ErrEscrowExceedsLimit         = &Error{Code: CodeEscrowExceedsLimit}
	ErrInvalidAgreementType       = &Error{Code: CodeInvalidAgreementType}
	ErrInvalidVisibility          = &Error{Code: CodeInvalidVisibility}
	ErrInvalidRole                = &Error{Code: CodeInvalidRole}
	ErrInvalidPartyCount          = &Error{Code: CodeInvalidPartyCount}
	ErrInvalidAmount              = &Error{Code: CodeInvalidAmount}
	ErrInvalidStatus              = &Error{Code: CodeInvalidStatus}
	ErrAgreementExpired           = &Error{Code: CodeAgreementExpired}
	ErrAlreadySigned              = &Error{Code: CodeAlreadySigned}
	ErrMaxPartiesExceeded         = &Error{Code: CodeMaxPartiesExceeded}
	ErrInsufficientVaultBalance   = &Error{Code: CodeInsufficientVaultBalance}
)
