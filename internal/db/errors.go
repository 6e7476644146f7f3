package db

import "errors"

var (
	// ErrPoolShuttingDown is returned for any pool operation after Shutdown.
	ErrPoolShuttingDown = errors.New("connection pool is shutting down")

	// ErrCheckoutTimeout is returned when a checkout waiter exceeds its
	// deadline. Retriable by the caller.
	ErrCheckoutTimeout = errors.New("timed out waiting for a connection")
)
