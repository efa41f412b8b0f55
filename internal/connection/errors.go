package connection

import "errors"

var (
	ErrNotConnected    = errors.New("channel is not connected")
	ErrAlreadyClosed   = errors.New("connection manager is closed")
	ErrWriteBufferFull = errors.New("write buffer is full")
)
