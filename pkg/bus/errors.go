package bus

import "github.com/slimbus-go/slimbus/pkg/errors"

// Error codes for bus operations (§7 taxonomy).
const (
	CodeConfigInvalid     = "BUS_CONFIG_INVALID"
	CodeUndeclaredType    = "BUS_UNDECLARED_TYPE"
	CodeSerialization     = "BUS_SERIALIZATION_FAILED"
	CodeHandlerFault      = "BUS_HANDLER_FAULT"
	CodeTransport         = "BUS_TRANSPORT_ERROR"
	CodeTimeout           = "BUS_TIMEOUT"
	CodeCancelled         = "BUS_CANCELLED"
	CodeRemoteFault       = "BUS_REMOTE_FAULT"
	CodeDuplicateRequest  = "BUS_DUPLICATE_REQUEST_ID"
	CodeDuplicateHandler  = "BUS_DUPLICATE_HANDLER"
	CodeUnknownRequestID  = "BUS_UNKNOWN_REQUEST_ID"
)

// ErrConfigInvalid reports a startup configuration error (§7.1).
func ErrConfigInvalid(msg string, cause error) *errors.AppError {
	return errors.New(CodeConfigInvalid, msg, cause)
}

// ErrUndeclaredType reports that a resolved message type matched no
// subscriber on an endpoint configured with PolicyFail (§7.3).
func ErrUndeclaredType(messageType string) *errors.AppError {
	return errors.New(CodeUndeclaredType, "undeclared message type: "+messageType, nil)
}

// ErrSerialization reports a payload or header decode failure (§7.2).
func ErrSerialization(cause error) *errors.AppError {
	return errors.New(CodeSerialization, "failed to materialize message payload", cause)
}

// ErrHandlerFault reports an application handler error (§7.4).
func ErrHandlerFault(cause error) *errors.AppError {
	return errors.New(CodeHandlerFault, "handler returned an error", cause)
}

// ErrTransport reports a transport adapter error (§7.5).
func ErrTransport(cause error) *errors.AppError {
	return errors.New(CodeTransport, "transport operation failed", cause)
}

// ErrTimeout reports a requester-side Send timeout (§7.6).
func ErrTimeout(requestID string) *errors.AppError {
	return errors.New(CodeTimeout, "request timed out: "+requestID, nil)
}

// ErrCancelled reports a requester-side Send cancellation (§7.7).
func ErrCancelled(requestID string) *errors.AppError {
	return errors.New(CodeCancelled, "request cancelled: "+requestID, nil)
}

// ErrRemoteFault wraps the Error header value from a handler's error
// response, surfaced to the requester's Send caller.
func ErrRemoteFault(message string) *errors.AppError {
	return errors.New(CodeRemoteFault, message, nil)
}
