package app

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTarget       = errors.New("unknown target")
	ErrStaleConnection     = fmt.Errorf("stale connection: %w", ErrUnknownTarget)
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrLateAnswer          = errors.New("call no longer ringing")
	ErrNotRung             = fmt.Errorf("connection was not rung: %w", ErrLateAnswer)
	ErrSelfCall            = errors.New("cannot call yourself")
	ErrRateLimited         = errors.New("rate limited")
)
