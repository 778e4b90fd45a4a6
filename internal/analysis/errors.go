package analysis

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"devscan/internal/errors"
)

// Kind separates retryable failures from ones that end the cycle.
type Kind int

const (
	Transient Kind = iota
	Fatal
)

func (k Kind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "transient"
}

// Error is the error type returned by backends.
type Error struct {
	Kind       Kind
	StatusCode int // provider HTTP status, 0 when unknown
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code maps the kind onto the scanner's error codes.
func (e *Error) Code() errors.ErrorCode {
	if e.Kind == Fatal {
		return errors.BackendFatal
	}
	return errors.BackendTransient
}

// IsFatal reports whether err is a fatal backend error.
func IsFatal(err error) bool {
	var ae *Error
	return stderrors.As(err, &ae) && ae.Kind == Fatal
}

var statusPattern = regexp.MustCompile(`(?i)status(?: code)?:?\s*(\d{3})`)

var fatalPhrases = []string{
	"api key",
	"unauthorized",
	"authentication",
	"permission denied",
	"invalid_request_error",
	"model not found",
	"does not exist",
}

// Classify wraps err as an *Error. Timeouts, rate limits and server
// errors are transient. Credential and request errors are fatal.
// Unrecognized errors are transient so retries stay bounded by the
// retry policy rather than ending the cycle.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if stderrors.As(err, &ae) {
		return ae
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return &Error{Kind: Transient, Err: err}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return &Error{Kind: Transient, Err: err}
	}

	msg := err.Error()
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &Error{Kind: kindForStatus(code), StatusCode: code, Err: err}
	}

	lower := strings.ToLower(msg)
	for _, phrase := range fatalPhrases {
		if strings.Contains(lower, phrase) {
			return &Error{Kind: Fatal, Err: err}
		}
	}
	return &Error{Kind: Transient, Err: err}
}

func kindForStatus(code int) Kind {
	switch {
	case code == 408 || code == 409 || code == 425 || code == 429:
		return Transient
	case code >= 500:
		return Transient
	case code >= 400:
		return Fatal
	default:
		return Transient
	}
}
