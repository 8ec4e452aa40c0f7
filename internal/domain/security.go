package domain

import "time"

type SecurityEventKind string

const (
	SecurityEventLoginBlocked SecurityEventKind = "login_blocked"
	SecurityEventLockoutReset SecurityEventKind = "lockout_reset"
)

// ReasonTooManyAttempts is the fixed reason attached to blocked logins.
const ReasonTooManyAttempts = "too many failed login attempts"

type SecurityEvent struct {
	ID          string            `json:"id"`
	Kind        SecurityEventKind `json:"kind"`
	Username    string            `json:"username"`
	Reason      string            `json:"reason"`
	IP          string            `json:"ip,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	LockedUntil *time.Time        `json:"locked_until,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Lockout is the throttle state of one username as shown to administrators.
type Lockout struct {
	Username    string     `json:"username"`
	Attempts    int        `json:"attempts"`
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}
