// Package models - audit_log.go defines the AuditLog model for recording
// workspace mutations: actor, action, affected resource and client IP.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID               uuid.UUID
	UserID           *int64 // nil for service calls
	WorkspaceGroupID *int64
	Action           string  // "POST /api/workspace/:id/sync"
	ResourceType     *string // "workspace", "sync", "config"
	ResourceID       *string
	Metadata         map[string]interface{}
	IPAddress        *string
	CreatedAt        time.Time
}
