package audit

import (
	"time"

	"gorm.io/datatypes"
)

type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Entry is one row of the append-only audit trail. Entries are never
// updated or deleted.
type Entry struct {
	ID        string         `gorm:"column:id;primaryKey"`
	ActorID   string         `gorm:"column:actor_id;not null;index"`
	TenantID  *string        `gorm:"column:tenant_id;index"` // nil for operator-only actions
	Action    string         `gorm:"column:action;not null"`
	Outcome   Outcome        `gorm:"column:outcome;not null"`
	Detail    string         `gorm:"column:detail"`
	Metadata  datatypes.JSON `gorm:"column:metadata"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

func (Entry) TableName() string {
	return "audit_entries"
}

// RotationEntry records one API key change. One row per generate/renew
// transition of the license state machine.
type RotationEntry struct {
	ID          string     `gorm:"column:id;primaryKey"`
	TenantID    string     `gorm:"column:tenant_id;not null;index"`
	PrevKeyID   *string    `gorm:"column:prev_key_id"`
	NewKeyID    string     `gorm:"column:new_key_id;not null;uniqueIndex"`
	RequestedBy string     `gorm:"column:requested_by;not null"`
	Kind        string     `gorm:"column:kind;not null"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (RotationEntry) TableName() string {
	return "key_rotation_entries"
}
