// Package ippattr is the attribute engine: it builds, queries, filters and
// validates goipp.Attributes groups the way every operation handler in this
// daemon needs to, so the dispatcher never pokes at goipp.Message internals
// directly. Grounded on the teacher's ipp.go (request/response construction,
// attribute lookup idioms) and on rusq-thermoprint/ippsrv's adder/findAttr
// helpers, generalized from a one-shot DNS-SD probe into a general-purpose
// engine.
package ippattr

import (
	"errors"

	"github.com/OpenPrinting/goipp"
)

// Sentinel errors returned by the engine. Handlers in internal/dispatch map
// these to goipp.Status via ToStatus rather than constructing status codes
// themselves.
var (
	ErrNotFound          = errors.New("ippattr: attribute not found")
	ErrWrongType         = errors.New("ippattr: attribute has unexpected value type")
	ErrMultipleValues    = errors.New("ippattr: attribute has more than one value")
	ErrNoValues          = errors.New("ippattr: attribute has no values")
	ErrUnsupportedValue  = errors.New("ippattr: value not supported")
	ErrGroupOutOfOrder   = errors.New("ippattr: attribute groups out of order")
	ErrBadRequest        = errors.New("ippattr: malformed request")
	ErrCharsetUnsupported = errors.New("ippattr: charset not supported")
)

// ToStatus maps an error from this package (or one of its own sentinels) to
// the goipp.Status a response should carry. Errors it doesn't recognize map
// to server-error-internal-error, matching the teacher's habit of never
// leaving an operation handler without a status to send.
func ToStatus(err error) goipp.Status {
	switch {
	case err == nil:
		return goipp.StatusOk
	case errors.Is(err, ErrNotFound):
		return goipp.StatusErrorAttributesOrValues
	case errors.Is(err, ErrWrongType), errors.Is(err, ErrMultipleValues), errors.Is(err, ErrNoValues):
		return goipp.StatusErrorAttributesOrValues
	case errors.Is(err, ErrUnsupportedValue):
		return goipp.StatusErrorAttributesOrValues
	case errors.Is(err, ErrGroupOutOfOrder), errors.Is(err, ErrBadRequest):
		return goipp.StatusErrorBadRequest
	case errors.Is(err, ErrCharsetUnsupported):
		return goipp.StatusErrorCharset
	default:
		return goipp.StatusErrorInternal
	}
}
