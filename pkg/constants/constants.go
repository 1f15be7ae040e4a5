// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// LongTimeout is for complex operations or batch processing
	LongTimeout = 60 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Call-related constants
const (
	// MaxCallDuration is the maximum allowed call duration (24 hours)
	MaxCallDuration = 24 * time.Hour

	// DefaultRingTimeout is how long a session may stay ringing before the
	// platform marks it missed
	DefaultRingTimeout = 45 * time.Second

	// KeyframeRequestInterval is how often a peer asks the remote video
	// encoder for a refresh point
	KeyframeRequestInterval = 3 * time.Second

	// CallPlacementLimit caps how many calls a user may start per window
	CallPlacementLimit = 10

	// CallPlacementWindow is the window for CallPlacementLimit
	CallPlacementWindow = 1 * time.Minute
)

// Presence constants
const (
	// PresenceTTL is how long a doctor stays listed as available without a
	// heartbeat
	PresenceTTL = 60 * time.Second

	// PresenceHeartbeat is the recommended client heartbeat interval
	PresenceHeartbeat = 20 * time.Second
)

// Storage and attachment constants
const (
	// PresignedURLExpiry is the validity period for presigned upload URLs
	PresignedURLExpiry = 15 * time.Minute

	// MaxAttachmentSize is the maximum allowed attachment size in bytes (50MB)
	MaxAttachmentSize = 50 * 1024 * 1024
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Audit constants
const (
	// AuditLogRetention is how long audit events are kept (90 days)
	AuditLogRetention = 90 * 24 * time.Hour
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100

	// MinPageSize is the minimum number of items per page
	MinPageSize = 1
)

// Validation constants
const (
	// MaxDisplayNameLength is the maximum allowed display name length
	MaxDisplayNameLength = 100

	// MaxMessageLength is the maximum allowed message length
	MaxMessageLength = 10000

	// MaxSymptomsLength is the maximum allowed symptom description length
	MaxSymptomsLength = 4000
)
