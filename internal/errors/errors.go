// Package errors defines the download pipeline's error taxonomy.
//
// Every failure that can occur while talking to the network, the
// filesystem, or the GitHub API is classified into one of the Kinds
// below. Callers inspect Kind (and Retryable) rather than doing
// type-switches on wrapped stdlib errors, so retry and reporting logic
// stays uniform across ReleaseSource, HTTPDownloader, and the
// Downloaders.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the taxonomy of §7.
type Kind int

const (
	// KindUnknown is the zero value; never intentionally constructed.
	KindUnknown Kind = iota
	// KindNetwork covers connect/read timeout, DNS failure, connection reset.
	KindNetwork
	// KindHTTPServer covers 5xx responses.
	KindHTTPServer
	// KindHTTPClient covers non-rate-limit 4xx responses.
	KindHTTPClient
	// KindRateLimit covers 403 responses with an exhausted quota.
	KindRateLimit
	// KindIntegrity covers zip-check or size-mismatch failures.
	KindIntegrity
	// KindFilesystem covers create/rename/chmod failures.
	KindFilesystem
	// KindMalformedResponse covers missing required fields in an API payload.
	KindMalformedResponse
	// KindConfig covers missing or invalid required configuration.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindHTTPServer:
		return "HTTPServerError"
	case KindHTTPClient:
		return "HTTPClientError"
	case KindRateLimit:
		return "RateLimitError"
	case KindIntegrity:
		return "IntegrityError"
	case KindFilesystem:
		return "FilesystemError"
	case KindMalformedResponse:
		return "MalformedResponse"
	case KindConfig:
		return "ConfigError"
	default:
		return "UnknownError"
	}
}

// Retryable reports whether a bare Kind is retryable in the general case.
// RateLimitError is retryable only after ResetAt, which callers must check
// separately via a *DownloadError's ResetAt field.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindHTTPServer, KindRateLimit:
		return true
	default:
		return false
	}
}

// DownloadError is the concrete error type threaded through DownloadResult,
// ReleaseSource, and the Downloaders.
type DownloadError struct {
	Kind       Kind
	HTTPStatus int
	ResetAt    time.Time // only meaningful for KindRateLimit
	Message    string
	Cause      error
}

func (e *DownloadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *DownloadError) Unwrap() error { return e.Cause }

// Retryable reports whether retrying this specific error makes sense right
// now. A rate-limit error is only retryable once ResetAt has passed.
func (e *DownloadError) Retryable() bool {
	if e.Kind == KindRateLimit {
		return !e.ResetAt.IsZero() && time.Now().After(e.ResetAt)
	}
	return e.Kind.Retryable()
}

// New constructs a DownloadError of the given kind with a message.
func New(kind Kind, message string) *DownloadError {
	return &DownloadError{Kind: kind, Message: message}
}

// Wrap constructs a DownloadError of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *DownloadError {
	return &DownloadError{Kind: kind, Cause: cause, Message: message}
}

// RateLimit constructs a KindRateLimit error with the quota reset time.
func RateLimit(resetAt time.Time) *DownloadError {
	return &DownloadError{Kind: KindRateLimit, HTTPStatus: 403, ResetAt: resetAt, Message: "rate limit exceeded"}
}

// FromHTTPStatus classifies an HTTP response status into the taxonomy.
// rateLimited should be true only when the response was a 403 carrying
// X-RateLimit-Remaining: 0.
func FromHTTPStatus(status int, rateLimited bool, resetAt time.Time) *DownloadError {
	switch {
	case status == 403 && rateLimited:
		return RateLimit(resetAt)
	case status >= 500:
		return &DownloadError{Kind: KindHTTPServer, HTTPStatus: status, Message: fmt.Sprintf("server error %d", status)}
	case status >= 400:
		return &DownloadError{Kind: KindHTTPClient, HTTPStatus: status, Message: fmt.Sprintf("client error %d", status)}
	default:
		return nil
	}
}

// As is a thin re-export of errors.As so callers importing this package do
// not also need the stdlib errors package for the common case.
func As(err error, target any) bool { return errors.As(err, target) }

// Of extracts the *DownloadError from err, if any.
func Of(err error) (*DownloadError, bool) {
	var de *DownloadError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
