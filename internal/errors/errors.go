package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all scan failure modes
type ErrorCode string

const (
	// BackendTransient indicates a retryable analysis backend failure (timeout, rate limit, 5xx)
	BackendTransient ErrorCode = "BACKEND_TRANSIENT"
	// BackendFatal indicates the analysis backend cannot be used (credentials, bad request)
	BackendFatal ErrorCode = "BACKEND_FATAL"
	// ConfigInvalid indicates missing or malformed configuration
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// RepoUnhealthy indicates the repository root or VCS is inaccessible
	RepoUnhealthy ErrorCode = "REPO_UNHEALTHY"
	// RepoNotFound indicates an unknown repository id
	RepoNotFound ErrorCode = "REPO_NOT_FOUND"
	// CacheCorrupt indicates an undecodable cache entry
	CacheCorrupt ErrorCode = "CACHE_CORRUPT"
	// BudgetExceeded indicates the run ceiling was reached
	BudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a configuration value
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Key         string        `json:"key,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
}

// ScanError represents a scanner error with code, message, and suggestions
type ScanError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new ScanError with the default fixes for its code
func New(code ErrorCode, message string, cause error) *ScanError {
	return &ScanError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Error implements the error interface
func (e *ScanError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ScanError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *ScanError) WithDetails(details interface{}) *ScanError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first ScanError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	RepoUnhealthy: {
		{
			Type:        RunCommand,
			Command:     "git -C <root> status",
			Safe:        true,
			Description: "Check that the repository root exists and is a readable git checkout",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "devscan config show",
			Safe:        true,
			Description: "Inspect the effective configuration",
		},
	},
	BackendFatal: {
		{
			Type:        EditConfig,
			Key:         "analysis.apiKey",
			Description: "Set credentials for the configured analysis provider (or DEVSCAN_ANALYSIS_APIKEY)",
		},
	},
	BudgetExceeded: {
		{
			Type:        EditConfig,
			Key:         "budget.perRunCeiling",
			Description: "Raise the per-run ceiling or wait for the next cycle to resume",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
