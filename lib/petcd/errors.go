package petcd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// sentinel errors, match with errors.Is
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrKeyNotFound        = errors.New("key not found")
	ErrNodeExists         = errors.New("node exists")
	ErrDirectoryNotEmpty  = errors.New("directory not empty")
	ErrNotAFile           = errors.New("not a file")
	ErrNotADirectory      = errors.New("not a directory")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrComparisonFailed   = errors.New("comparison failed")
	ErrEventIndexCleared  = errors.New("event index cleared")
	ErrClusterUnavailable = errors.New("cluster unavailable")
	ErrProtocol           = errors.New("protocol error")

	// ErrRedirected is wrapped by ClusterUnavailable when a redirect is received and not followed.
	ErrRedirected = errors.New("redirected")
	// ErrWatcherClosed is returned by a watcher after Close.
	ErrWatcherClosed = errors.New("watcher closed")
)

// errorKinds maps protocol errorCode values to error kinds.
var errorKinds = map[int]error{
	100: ErrKeyNotFound,
	101: ErrComparisonFailed,
	102: ErrNotAFile,
	104: ErrNotADirectory,
	105: ErrNodeExists,
	106: ErrInvalidArgument, // key is preserved
	107: ErrInvalidOperation, // root is read only
	108: ErrDirectoryNotEmpty,
	200: ErrInvalidArgument, // value required
	201: ErrInvalidArgument, // previous value required
	202: ErrInvalidArgument, // ttl is not a number
	203: ErrInvalidArgument, // index is not a number
	209: ErrInvalidArgument, // invalid field
	210: ErrInvalidArgument, // invalid form
	300: ErrClusterUnavailable,
	301: ErrClusterUnavailable,
	400: ErrEventIndexCleared, // watcher cleared
	401: ErrEventIndexCleared,
}

// statusKinds is the fallback for error bodies with an unknown errorCode.
var statusKinds = map[int]error{
	http.StatusBadRequest:         ErrInvalidArgument,
	http.StatusForbidden:          ErrInvalidOperation,
	http.StatusNotFound:           ErrKeyNotFound,
	http.StatusPreconditionFailed: ErrComparisonFailed,
}

// Error is returned by all client operations. Kind is one of the sentinel errors,
// Code, Message, Cause and Index come from the protocol error body when the store reported the failure.
// Index is the store index at the time of the failure, not the index of the node.
type Error struct {
	Kind    error
	Code    int
	Message string
	Cause   string
	Index   uint64
	Current *Node // node state after a failed compare, nil if it could not be read
	Err     error // underlying failure, e.g. the last transport error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("petcd: ")
	sb.WriteString(e.Kind.Error())
	if e.Code != 0 {
		fmt.Fprintf(&sb, " (%d)", e.Code)
	}
	if e.Message != "" && !strings.EqualFold(e.Message, e.Kind.Error()) {
		sb.WriteString(": " + e.Message)
	}
	if e.Cause != "" {
		sb.WriteString(" [" + e.Cause + "]")
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

// Is reports whether the error is of the target kind.
// NotAFile and NotADirectory are also invalid operations, NodeExists is also a failed comparison.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	switch target {
	case ErrInvalidOperation:
		return e.Kind == ErrNotAFile || e.Kind == ErrNotADirectory
	case ErrComparisonFailed:
		return e.Kind == ErrNodeExists
	}
	return false
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// errorBody is the protocol error payload.
type errorBody struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
	Cause     string `json:"cause"`
	Index     uint64 `json:"index"`
}

// toError converts the decoded error body into a typed error.
func (b errorBody) toError(status int) *Error {
	kind, ok := errorKinds[b.ErrorCode]
	if !ok {
		if kind, ok = statusKinds[status]; !ok {
			kind = ErrProtocol
		}
	}
	return &Error{Kind: kind, Code: b.ErrorCode, Message: b.Message, Cause: b.Cause, Index: b.Index}
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func protocolError(err error) *Error {
	return &Error{Kind: ErrProtocol, Err: err}
}
