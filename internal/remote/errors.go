package remote

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the repository, directory, or file does not
// exist (or the token cannot see it). Listing a directory that has not
// been created yet is an expected, recoverable instance of this error.
type NotFoundError struct {
	// Path is the repository path the operation targeted, when known.
	Path string

	// Message is the provider's error message.
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("not found: %s: %s", e.Path, e.Message)
	}
	return "not found: " + e.Message
}

// ConflictError indicates an optimistic-concurrency failure: the remote
// content changed underneath the caller between observation and write,
// or a create targeted a path that already exists.
type ConflictError struct {
	Path    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Path, e.Message)
}

// RateLimitError indicates the provider kept returning rate-limit
// responses after all retries were spent.
type RateLimitError struct {
	// Message is the last provider message seen before giving up.
	Message string

	// Scopes lists the token's granted permission scopes when the
	// provider reports them, to distinguish authorization-scope
	// misconfiguration from true quota exhaustion.
	Scopes string
}

func (e *RateLimitError) Error() string {
	if e.Scopes != "" {
		return fmt.Sprintf("rate limit exceeded: %s (token scopes: %s)", e.Message, e.Scopes)
	}
	return "rate limit exceeded: " + e.Message
}

// ProviderError is any other non-success HTTP response. It is never
// retried.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsRateLimited reports whether err is a *RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
