package employee

import "time"

type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Employee is one tenant-scoped personnel record. Identity, when set, links
// the record to the external principal that may read it as a member.
type Employee struct {
	ID         string     `gorm:"column:id;primaryKey"`
	TenantID   string     `gorm:"column:tenant_id;not null;index:idx_employees_tenant_code,unique"`
	Code       string     `gorm:"column:code;not null;index:idx_employees_tenant_code,unique"`
	Identity   *string    `gorm:"column:identity;index"`
	FirstName  string     `gorm:"column:first_name;not null"`
	LastName   string     `gorm:"column:last_name"`
	Title      string     `gorm:"column:title"`
	Phone      string     `gorm:"column:phone"`
	Email      string     `gorm:"column:email"`
	JoinedAt   *time.Time `gorm:"column:joined_at"`
	Salary     *float64   `gorm:"column:salary"`
	Department string     `gorm:"column:department"`
	Status     Status     `gorm:"column:status;default:'active';not null"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (Employee) TableName() string {
	return "employees"
}
