package core

import (
	"errors"
	"fmt"
)

// Code is the machine-readable kind of a narration failure.
type Code string

// Saga failure codes.
const (
	CodeEmptyBatch           Code = "EMPTY_BATCH"
	CodeNoValidCandidates    Code = "NO_VALID_CANDIDATES"
	CodePersistFailed        Code = "PERSIST_FAILED"
	CodePersistInconsistency Code = "PERSIST_INCONSISTENCY"
	CodeAlreadyProcessed     Code = "ALREADY_PROCESSED"
	CodeSynthesisFailed      Code = "SYNTHESIS_FAILED"
	CodeUploadFailed         Code = "UPLOAD_FAILED"
	CodeMetadataSaveFailed   Code = "METADATA_SAVE_FAILED"
	CodeLinkFailed           Code = "LINK_FAILED"
	CodeUnexpected           Code = "UNEXPECTED_ERROR"
)

// Synthesis failure codes.
const (
	CodeAuthenticationFailure Code = "AUTHENTICATION_FAILURE"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeAllProvidersFailed    Code = "ALL_PROVIDERS_FAILED"
	CodeNoProvidersConfigured Code = "NO_PROVIDERS_CONFIGURED"
)

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrEmptyBatch            = &Error{Code: CodeEmptyBatch}
	ErrNoValidCandidates     = &Error{Code: CodeNoValidCandidates}
	ErrPersistFailed         = &Error{Code: CodePersistFailed}
	ErrPersistInconsistency  = &Error{Code: CodePersistInconsistency}
	ErrAlreadyProcessed      = &Error{Code: CodeAlreadyProcessed}
	ErrSynthesisFailed       = &Error{Code: CodeSynthesisFailed}
	ErrUploadFailed          = &Error{Code: CodeUploadFailed}
	ErrMetadataSaveFailed    = &Error{Code: CodeMetadataSaveFailed}
	ErrLinkFailed            = &Error{Code: CodeLinkFailed}
	ErrUnexpected            = &Error{Code: CodeUnexpected}
	ErrAuthenticationFailure = &Error{Code: CodeAuthenticationFailure}
	ErrRateLimited           = &Error{Code: CodeRateLimited}
	ErrAllProvidersFailed    = &Error{Code: CodeAllProvidersFailed}
	ErrNoProvidersConfigured = &Error{Code: CodeNoProvidersConfigured}
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Error is the single error type surfaced by the selection, failover and saga layers.
type Error struct {
	Code   Code
	Source string
	Err    error
}

// NewError builds an Error for code raised by source, wrapping cause.
func NewError(code Code, source string, cause error) *Error {
	return &Error{Code: code, Source: source, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Source != "" && e.Err != nil:
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Source, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Source != "":
		return fmt.Sprintf("%s (%s)", e.Code, e.Source)
	default:
		return string(e.Code)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}

	return other.Code == e.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	return ""
}

// ProviderError is a failure reported by a remote synthesis service.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StatusOf returns the remote status code carried by err, or 0 for local failures.
func StatusOf(err error) int {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode
	}

	return 0
}
