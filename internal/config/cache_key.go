package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CandidateLoginKey returns the cache key holding the JTI of a candidate's active login.
func (r *CacheKeyStruct) CandidateLoginKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// SessionLockKey returns the key of the per-session write lock.
func (r *CacheKeyStruct) SessionLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:lock", sessionID)
}

// SessionEventsChannel returns the Pub/Sub channel for one session's transitions.
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// MonitorChannel returns the Pub/Sub channel the admin monitor listens on.
func (r *CacheKeyStruct) MonitorChannel() string {
	return "sessions:events"
}

var CacheKey = NewCacheKeyStruct()
