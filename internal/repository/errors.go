package repository

import "errors"

// Repository sentinels. Driver errors are translated into these so services
// never import pgx.
var (
	ErrNotFound            = errors.New("record not found")
	ErrActiveSessionExists = errors.New("candidate already has an active session")
	ErrVersionConflict     = errors.New("session was modified concurrently")
)

const activeSessionIndex = "test_sessions_one_active"
