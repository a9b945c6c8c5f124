package apikey

import (
	"time"

	"github.com/lib/pq"
)

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// Key is one issued API key. The presented token is "<key_id>.<secret>";
// key_id is the searchable half, the secret is stored only as an argon2id
// hash. A tenant has exactly one active row at any time.
type Key struct {
	ID         string         `gorm:"column:id;primaryKey"`
	TenantID   string         `gorm:"column:tenant_id;not null;index"`
	KeyID      string         `gorm:"column:key_id;uniqueIndex;not null"` // e.g. wfk_live_xxx
	SecretHash string         `gorm:"column:secret_hash;not null"`
	Scopes     pq.StringArray `gorm:"column:scopes;type:text[];not null"`
	Status     KeyStatus      `gorm:"column:status;default:'active';not null"`
	CreatedBy  string         `gorm:"column:created_by"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	RevokedAt  *time.Time     `gorm:"column:revoked_at"`
}

func (Key) TableName() string {
	return "api_keys"
}
