package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Kind classifies a failed completion call.
type Kind string

const (
	KindUnauthenticated    Kind = "Unauthenticated"
	KindNetworkUnavailable Kind = "NetworkUnavailable"
	KindUnknown            Kind = "Unknown"
)

// Sentinels matched by errors.Is against a *CompletionError.
var (
	ErrUnauthenticated    = errors.New("authentication failed")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrUnknown            = errors.New("completion failed")
)

// CompletionError is returned by Completer.Complete on any failure.
type CompletionError struct {
	Kind Kind
	Err  error
}

func (e *CompletionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool {
	switch e.Kind {
	case KindUnauthenticated:
		return target == ErrUnauthenticated
	case KindNetworkUnavailable:
		return target == ErrNetworkUnavailable
	default:
		return target == ErrUnknown
	}
}

// UserMessage is the banner text shown for the failure.
func (e *CompletionError) UserMessage() string {
	switch e.Kind {
	case KindUnauthenticated:
		return "Authentication failed. Please check your API key."
	case KindNetworkUnavailable:
		return "Network error. Please check your internet connection and try again."
	}
	if e.Err != nil && e.Err.Error() != "" {
		return e.Err.Error()
	}
	return "Failed to get a response from the AI. Please check your API key and try again."
}

// Classify wraps err in a *CompletionError. Errors that already are one are
// returned unchanged.
func Classify(err error) *CompletionError {
	if err == nil {
		return nil
	}
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}
	return &CompletionError{Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isAuthStatus(apiErr.HTTPStatusCode) {
		return KindUnauthenticated
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && isAuthStatus(reqErr.HTTPStatusCode) {
		return KindUnauthenticated
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "authentication") || strings.Contains(msg, "unauthorized") {
		return KindUnauthenticated
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkUnavailable
	}
	if strings.Contains(msg, "network") {
		return KindNetworkUnavailable
	}
	return KindUnknown
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
