// Package errors defines the replicawatch error taxonomy and the HTTP error writer.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// Node errors
	ErrorCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrorCodeOperationFailed  ErrorCode = "OPERATION_FAILED"
	ErrorCodePartialStatus    ErrorCode = "PARTIAL_STATUS"

	// Caller errors
	ErrorCodeClientInput ErrorCode = "CLIENT_INPUT"
	ErrorCodeJobNotFound ErrorCode = "JOB_NOT_FOUND"
	ErrorCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"

	// General errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrJobNotFound is returned by job stores for unknown job IDs
var ErrJobNotFound = stderrors.New("bulk load job not found")

// NodeError is a failure that originated at one node of the replica set.
type NodeError struct {
	Code ErrorCode
	Node string
	Op   string
	Err  error
}

// Error implements the error interface
func (e *NodeError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s on %s (%s): %v", e.Code, e.Node, e.Op, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Code, e.Node, e.Err)
}

// Unwrap returns the underlying error
func (e *NodeError) Unwrap() error {
	return e.Err
}

// Message returns the cause without the code prefix
func (e *NodeError) Message() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

// ConnectionFailed reports an unreachable node or a failed handshake
func ConnectionFailed(node string, cause error) *NodeError {
	return &NodeError{Code: ErrorCodeConnectionFailed, Node: node, Op: "connect", Err: cause}
}

// OperationFailed reports a query, write or admin command rejected by a node
func OperationFailed(node, op string, cause error) *NodeError {
	return &NodeError{Code: ErrorCodeOperationFailed, Node: node, Op: op, Err: cause}
}

// PartialStatus reports that the role query of a status snapshot failed
// while the data query succeeded
func PartialStatus(node string, cause error) *NodeError {
	return &NodeError{Code: ErrorCodePartialStatus, Node: node, Op: "role", Err: cause}
}

// Classify wraps a raw error raised by an operation on node. Deadline overruns
// are reported as ConnectionFailed since the node did not answer in time.
func Classify(node, op string, err error) *NodeError {
	if err == nil {
		return nil
	}
	var ne *NodeError
	if stderrors.As(err, &ne) {
		return ne
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return &NodeError{Code: ErrorCodeConnectionFailed, Node: node, Op: op, Err: err}
	}
	return OperationFailed(node, op, err)
}

// AppError is a failure that is not tied to a node, typically bad input.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClientInput reports missing or invalid request parameters
func ClientInput(format string, args ...interface{}) *AppError {
	return &AppError{Code: ErrorCodeClientInput, Message: fmt.Sprintf(format, args...)}
}

// JobNotFound reports an unknown bulk load job
func JobNotFound(jobID string) *AppError {
	return (&AppError{Code: ErrorCodeJobNotFound, Message: fmt.Sprintf("bulk load job not found: %s", jobID)}).
		WithDetail("job_id", jobID)
}

// CodeOf extracts the error code of err, defaulting to INTERNAL_ERROR
func CodeOf(err error) ErrorCode {
	var ne *NodeError
	if stderrors.As(err, &ne) {
		return ne.Code
	}
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	if stderrors.Is(err, ErrJobNotFound) {
		return ErrorCodeJobNotFound
	}
	return ErrorCodeInternalError
}

// IsClientInput reports whether err is a CLIENT_INPUT error
func IsClientInput(err error) bool {
	return CodeOf(err) == ErrorCodeClientInput
}
