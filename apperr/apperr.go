// Package apperr defines the error kinds distinguished across the ingestion
// and workflow execution core, matching them to HTTP status codes at one
// place so handlers never have to repeat the mapping.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the system distinguishes.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindTenantViolation     Kind = "tenant_violation"
	KindNotFound            Kind = "not_found"
	KindInvalidTransition   Kind = "invalid_status_transition"
	KindUnsupportedContent  Kind = "unsupported_content_type"
	KindExternalUnavailable Kind = "external_service_unavailable"
	KindRateLimit           Kind = "rate_limit"
	KindTimeout             Kind = "timeout"
	KindCancelled           Kind = "cancelled"
)

// Error carries a Kind, a human message, and optional structured detail,
// mirroring executor.ExecutionError's {Message, Code, Details} shape.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// StatusCode returns the HTTP status this error kind maps to.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidInput:
		return 400
	case KindTenantViolation:
		return 403
	case KindNotFound:
		return 404
	case KindInvalidTransition:
		return 500
	case KindUnsupportedContent:
		return 422
	case KindExternalUnavailable:
		return 502
	case KindRateLimit:
		return 429
	case KindTimeout:
		return 504
	case KindCancelled:
		return 409
	default:
		return 500
	}
}

// Retryable reports whether the caller should retry without changing input.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindExternalUnavailable, KindRateLimit:
		return true
	default:
		return false
	}
}

func New(kind Kind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func InvalidInput(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

func TenantViolation(requestedOrg, requestingOrg string) *Error {
	return &Error{
		Kind:    KindTenantViolation,
		Message: "requested resource belongs to a different organization",
		Details: map[string]interface{}{"requested_org": requestedOrg, "requesting_org": requestingOrg},
	}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("invalid status transition: %s -> %s", from, to),
		Details: map[string]interface{}{"from": from, "to": to},
	}
}

func UnsupportedContentType(contentType, engine string, supported []string) *Error {
	return &Error{
		Kind:    KindUnsupportedContent,
		Message: fmt.Sprintf("content type %q is not supported by engine %q (supports: %v)", contentType, engine, supported),
		Details: map[string]interface{}{"content_type": contentType, "engine": engine, "supported": supported},
	}
}

func ExternalUnavailable(service string, cause error) *Error {
	d := map[string]interface{}{"service": service}
	msg := fmt.Sprintf("%s is unavailable", service)
	if cause != nil {
		d["cause"] = cause.Error()
		msg = fmt.Sprintf("%s is unavailable: %v", service, cause)
	}
	return &Error{Kind: KindExternalUnavailable, Message: msg, Details: d}
}

func RateLimited(remaining int) *Error {
	return &Error{
		Kind:    KindRateLimit,
		Message: "call budget exhausted",
		Details: map[string]interface{}{"remaining": remaining},
	}
}

// As reports whether err is, or wraps, an *Error, unwrapping via errors.As.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
