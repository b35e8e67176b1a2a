// Package apierr is the typed error taxonomy at the HTTP handler boundary
// (spec §7). httpclient.Kind and cache/venues errors are mapped into this
// narrower, client-facing set before a response is written.
package apierr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crossfin/gateway/internal/httpclient"
)

// Kind is a client-facing error category (spec §7).
type Kind string

const (
	KindBadInput            Kind = "bad-input"
	KindNotFound            Kind = "not-found"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindPayloadTooLarge     Kind = "payload-too-large"
	KindRateLimited         Kind = "rate-limited"
	KindUpstreamUnavailable Kind = "upstream-unavailable"
	KindRedirectNotAllowed  Kind = "redirect-not-allowed"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindBadInput:            http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindPayloadTooLarge:     http.StatusRequestEntityTooLarge,
	KindRateLimited:         http.StatusTooManyRequests,
	KindUpstreamUnavailable: http.StatusBadGateway,
	KindRedirectNotAllowed:  http.StatusBadGateway,
	KindTimeout:             http.StatusGatewayTimeout,
	KindInternal:            http.StatusInternalServerError,
}

// Error is a client-facing API error carrying its Kind and a message safe
// to return verbatim in a JSON body.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status returns the HTTP status code for e's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// BadInput is a convenience constructor for the common bad-input case.
func BadInput(message string) *Error { return New(KindBadInput, message) }

// FromHTTPClient maps an httpclient.Error's Kind onto the handler-boundary
// taxonomy (spec §7); it classifies by the httpclient.Kind string since
// httpclient.Error deliberately doesn't depend on this package.
func FromHTTPClient(err error) *Error {
	var hErr *httpclient.Error
	if !errors.As(err, &hErr) {
		return New(KindUpstreamUnavailable, "upstream request failed")
	}

	switch hErr.Kind {
	case httpclient.KindTimeout:
		return New(KindTimeout, "upstream request timed out")
	case httpclient.KindRedirectNotAllowed:
		return New(KindRedirectNotAllowed, "upstream attempted a redirect")
	case httpclient.KindPrivateHost, httpclient.KindDNSFailed, httpclient.KindTLSRequired, httpclient.KindCredentialsForbidden:
		return New(KindBadInput, "endpoint must not be a private IP address")
	case httpclient.KindBodyTooLarge:
		return New(KindPayloadTooLarge, "upstream response exceeded the size limit")
	default:
		return New(KindUpstreamUnavailable, "upstream request failed")
	}
}

// Respond writes err as a JSON body ({"error": "..."}) with the status code
// matching its Kind. Unrecognized error types are treated as internal.
func Respond(c *gin.Context, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = New(KindInternal, "internal error")
	}
	c.JSON(apiErr.Status(), gin.H{"error": apiErr.Message})
}
