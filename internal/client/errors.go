package client

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed is returned by WaitForEvent after the client is
// closed or the stream ends.
var ErrConnectionClosed = errors.New("client: connection closed")

// ErrWaitTimeout is returned by WaitForEvent when no matching event
// arrives in time.
var ErrWaitTimeout = errors.New("client: wait timeout")

// ErrUnauthorized terminates the stream without reconnecting; the token
// is wrong and retrying cannot fix it.
var ErrUnauthorized = errors.New("client: unauthorized")

// ErrTooManyFailures terminates the stream after five consecutive failed
// handshakes.
var ErrTooManyFailures = errors.New("client: too many consecutive connection failures")

// MutationError wraps the hub's HTTP error envelope so callers can
// switch on the wire code.
type MutationError struct {
	StatusCode     int
	Code           string
	Message        string
	CurrentVersion int64
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("client: mutation failed: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// IsVersionConflict reports whether err is a version-conflict mutation
// error and returns the current version.
func IsVersionConflict(err error) (int64, bool) {
	var me *MutationError
	if errors.As(err, &me) && me.Code == "version-conflict" {
		return me.CurrentVersion, true
	}
	return 0, false
}
