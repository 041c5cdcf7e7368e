package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// ErrInvalidSession is terminal for a connection attempt.
	ErrInvalidSession = fmt.Errorf("invalid session")
	// ErrInvalidPayload drops the frame, the connection stays open.
	ErrInvalidPayload = fmt.Errorf("invalid payload")
	ErrEntityNotFound = fmt.Errorf("entity not found")
	// ErrDeliveryFailure is local to one connection and never reaches the sender.
	ErrDeliveryFailure = fmt.Errorf("delivery failure")
	// ErrStorageFailure aborts the operation before any fan-out.
	ErrStorageFailure   = fmt.Errorf("storage failure")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrRateLimited      = fmt.Errorf("rate limited")
	ErrUserAlreadyExist = fmt.Errorf("user already exists")
	ErrTokenGeneration  = fmt.Errorf("token generation failed")
)
