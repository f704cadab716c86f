package fetch

import (
	"errors"
	"fmt"
)

// Code identifies why a fetch was refused or aborted. HTTP error
// statuses never produce a Code; they come back as a Result.
type Code string

const (
	// CodeInvalidURL marks URLs that cannot be parsed or lack a host.
	CodeInvalidURL Code = "invalid_url"
	// CodeProtocolNotAllowed marks schemes other than https, or http
	// when it was not explicitly allowed.
	CodeProtocolNotAllowed Code = "protocol_not_allowed"
	// CodeHostBlocked marks hostnames on the built-in blocklist.
	CodeHostBlocked Code = "host_blocked"
	// CodeHostNotAllowed marks hostnames outside the caller's allowlist.
	CodeHostNotAllowed Code = "host_not_allowed"
	// CodePrivateIP marks literal addresses or DNS answers that are not
	// globally routable.
	CodePrivateIP Code = "private_ip"
	// CodeDNSError marks resolution failures, including empty answers.
	CodeDNSError Code = "dns_error"
	// CodeRedirectLimit marks redirect chains longer than allowed.
	CodeRedirectLimit Code = "redirect_limit"
	// CodeInvalidResponse marks transport failures, unreadable
	// responses, and redirects that carry no Location header.
	CodeInvalidResponse Code = "invalid_response"
	// CodeSizeExceeded marks bodies above the byte ceiling.
	CodeSizeExceeded Code = "size_exceeded"
)

// Error is the failure type returned by a Fetcher. Status carries the
// HTTP status of the hop that failed when a response had already
// arrived, and is zero for failures before or without one.
type Error struct {
	Code    Code
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// withStatus records the HTTP status the failing hop answered with.
func (e *Error) withStatus(status int) *Error {
	e.Status = status
	return e
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code from err. It returns the empty Code when err
// was not produced by this package.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
