// Package fault defines the error kinds surfaced by every public engram
// operation. Handlers classify errors with KindOf and map kinds to
// transport codes in one place.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindUnknownNamespace   Kind = "UnknownNamespace"
	KindNotFound           Kind = "NotFound"
	KindInvalidArgument    Kind = "InvalidArgument"
	KindUnknownRecipient   Kind = "UnknownRecipient"
	KindNoSuchParent       Kind = "NoSuchParent"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindEmbedUnavailable   Kind = "EmbedUnavailable"
	KindPermissionDenied   Kind = "PermissionDenied"
	KindDeadlineExceeded   Kind = "DeadlineExceeded"
	KindInternal           Kind = "Internal"
)

// Error is a failure classified by Kind. Detail is safe to surface to
// callers; Err is the wrapped cause, if any.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two faults by Kind so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a fault of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds a fault of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Invalid reports a caller mistake; retrying does not help.
func Invalid(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// NotFound reports a missing resource.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// UnknownNamespace reports an unrecognized namespace name.
func UnknownNamespace(namespace string) *Error {
	return New(KindUnknownNamespace, "unknown namespace: %s", namespace)
}

// UnknownRecipient reports a message sent to an unregistered client.
func UnknownRecipient(recipient string) *Error {
	return New(KindUnknownRecipient, "unknown recipient: %s", recipient)
}

// NoSuchParent reports a reply whose parent message cannot be resolved.
func NoSuchParent(parentID string) *Error {
	return New(KindNoSuchParent, "no such parent message: %s", parentID)
}

// Storage reports a transient persistence failure; callers may retry.
func Storage(err error, format string, args ...any) *Error {
	return Wrap(KindStorageUnavailable, err, format, args...)
}

// Embed reports an embedding failure. Never fatal: callers degrade to
// lexical mode instead of aborting.
func Embed(err error, format string, args ...any) *Error {
	return Wrap(KindEmbedUnavailable, err, format, args...)
}

// Denied reports a permission failure on private or key material.
func Denied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

// Internal reports a bug. The detail is logged; callers see the kind only.
func Internal(err error, format string, args ...any) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf classifies any error. Context cancellation and deadline expiry
// map to DeadlineExceeded; unclassified errors map to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// IsKind reports whether err classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromContext converts a context error into a DeadlineExceeded fault,
// or returns nil when the context is still live.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(KindDeadlineExceeded, err, "deadline exceeded")
	}
	return nil
}
