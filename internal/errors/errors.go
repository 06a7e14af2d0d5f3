package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// MalformedFraming indicates the header terminator was not found
	MalformedFraming ErrorCode = "MALFORMED_FRAMING"
	// MalformedRequestLine indicates the request line could not be split
	MalformedRequestLine ErrorCode = "MALFORMED_REQUEST_LINE"
	// UnsupportedMethod indicates a method outside GET, POST and OPTIONS
	UnsupportedMethod ErrorCode = "UNSUPPORTED_METHOD"
	// SerializationError indicates a structured response could not be encoded
	SerializationError ErrorCode = "SERIALIZATION_ERROR"
	// BodyTooLarge indicates a declared content-length above the configured limit
	BodyTooLarge ErrorCode = "BODY_TOO_LARGE"
	// NotFound indicates a missing static resource
	NotFound ErrorCode = "NOT_FOUND"
	// TransientIO indicates a read that may succeed when retried
	TransientIO ErrorCode = "TRANSIENT_IO"
	// FatalIO indicates a socket error that ends the connection
	FatalIO ErrorCode = "FATAL_IO"
	// PeerClosed indicates an orderly close by the remote side
	PeerClosed ErrorCode = "PEER_CLOSED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// HTTPError is an error that carries the status code and description the
// caller writes back on the wire.
type HTTPError struct {
	Code        ErrorCode
	Status      int
	Description string
	cause       error
}

// New creates an HTTPError with the default status and description for code.
func New(code ErrorCode, cause error) *HTTPError {
	return &HTTPError{
		Code:        code,
		Status:      StatusFor(code),
		Description: DescriptionFor(code),
		cause:       cause,
	}
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %d %s: %v", e.Code, e.Status, e.Description, e.cause)
	}
	return fmt.Sprintf("[%s] %d %s", e.Code, e.Status, e.Description)
}

// Unwrap returns the underlying error
func (e *HTTPError) Unwrap() error {
	return e.cause
}

// StatusFor maps error codes to HTTP status codes
func StatusFor(code ErrorCode) int {
	switch code {
	case MalformedFraming, MalformedRequestLine:
		return 400
	case BodyTooLarge:
		return 413
	case UnsupportedMethod:
		return 501
	case NotFound:
		return 404
	default:
		return 500
	}
}

// DescriptionFor returns the description written next to the status code.
func DescriptionFor(code ErrorCode) string {
	switch code {
	case MalformedFraming, MalformedRequestLine:
		return "Bad Request"
	case BodyTooLarge:
		return "Payload Too Large"
	case UnsupportedMethod:
		return "Not Implemented"
	case NotFound:
		return "Not Found"
	default:
		return "Internal Server Error"
	}
}

// CodeOf extracts the ErrorCode of err, or InternalError when err is not an HTTPError.
func CodeOf(err error) ErrorCode {
	var he *HTTPError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return InternalError
}

// Is reports whether err is an HTTPError with the given code.
func Is(err error, code ErrorCode) bool {
	var he *HTTPError
	return stderrors.As(err, &he) && he.Code == code
}

// ClassifyIO sorts a socket read error into PeerClosed, TransientIO or FatalIO.
func ClassifyIO(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if stderrors.Is(err, io.EOF) {
		return PeerClosed
	}
	if stderrors.Is(err, os.ErrDeadlineExceeded) ||
		stderrors.Is(err, syscall.EAGAIN) ||
		stderrors.Is(err, syscall.EWOULDBLOCK) ||
		stderrors.Is(err, syscall.EINTR) {
		return TransientIO
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return TransientIO
	}
	return FatalIO
}
