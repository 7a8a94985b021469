package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout            = errors.New("realtime: response timeout")
	ErrDisconnected       = errors.New("realtime: disconnected")
	ErrConnectionLost     = errors.New("realtime: connection lost")
	ErrQueueOverflow      = errors.New("realtime: outbound queue overflow")
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
	ErrDuplicateRequestID = errors.New("realtime: duplicate request id")
)

// TransportError wraps a failure to open, read or write the transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
