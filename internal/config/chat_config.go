package config

import "time"

const (
	// Socket
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 8 * 1024
	SendBufferSize = 256

	// Messages
	MaxContentLength = 4000

	// Defaults for the tunables in Config. A positive enrollment cache TTL
	// caches join answers in Redis, and an unenrollment is then seen only
	// after the TTL or an explicit invalidation.
	DefaultEnrollmentCacheTTL = time.Duration(0)
	DefaultOperationTimeout   = 10 * time.Second
	DefaultTokenTTL           = 72 * time.Hour
)
