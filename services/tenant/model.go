package tenant

import "time"

// SubscriptionKind is the plan a tenant is licensed under.
type SubscriptionKind string

const (
	KindOneMonth SubscriptionKind = "1m"
	KindSixMonth SubscriptionKind = "6m"
	KindLifetime SubscriptionKind = "lifetime"
)

func (k SubscriptionKind) Valid() bool {
	switch k {
	case KindOneMonth, KindSixMonth, KindLifetime:
		return true
	default:
		return false
	}
}

// LicenseState is the per-tenant subscription lifecycle state.
type LicenseState string

const (
	StateUnlicensed LicenseState = "unlicensed"
	StateActive     LicenseState = "active"
	StateExpired    LicenseState = "expired"
	StateRevoked    LicenseState = "revoked"
)

// Tenant is one isolated customer organisation. The embedded license record
// (kind, state, start/end) and the current key reference are mutated only
// through the license service, under per-tenant exclusion and a version CAS.
type Tenant struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	Name string `gorm:"column:name;not null"`
	Slug string `gorm:"column:slug;uniqueIndex;not null"`
	Code string `gorm:"column:code;uniqueIndex;not null"`

	// OwnerID is the external identity of the tenant owner; an identity
	// owns at most one tenant.
	OwnerID string `gorm:"column:owner_id;uniqueIndex;not null"`

	CurrentKeyID *string `gorm:"column:current_key_id"`

	Kind         SubscriptionKind `gorm:"column:subscription_kind"`
	State        LicenseState     `gorm:"column:license_state;default:'unlicensed';not null"`
	LicenseStart *time.Time       `gorm:"column:license_start"`
	// LicenseEnd is present iff the kind is time-bound and the license has
	// been active at least once; always absent for lifetime.
	LicenseEnd *time.Time `gorm:"column:license_end"`

	Active  bool  `gorm:"column:active;default:true;not null"`
	Version int64 `gorm:"column:version;default:0;not null"`
}

func (Tenant) TableName() string {
	return "tenants"
}

type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusRemoved MemberStatus = "removed"
)

// Member binds an external identity to exactly one tenant. The binding is
// immutable after creation: no cross-tenant re-assignment.
type Member struct {
	ID        string       `gorm:"column:id;primaryKey"`
	TenantID  string       `gorm:"column:tenant_id;not null;index"`
	Identity  string       `gorm:"column:identity;uniqueIndex;not null"`
	Role      MemberRole   `gorm:"column:role;not null"`
	Status    MemberStatus `gorm:"column:status;default:'active';not null"`
	CreatedAt time.Time    `gorm:"column:created_at"`
}

func (Member) TableName() string {
	return "tenant_members"
}
