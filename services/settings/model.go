package settings

import "time"

// Setting is one system-wide key/value pair, operator-managed.
type Setting struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Key         string    `gorm:"column:key;uniqueIndex;not null"`
	Value       string    `gorm:"column:value;not null"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string {
	return "system_settings"
}

const (
	KeyPriceOneMonth = "subscription_1m_price"
	KeyPriceSixMonth = "subscription_6m_price"
	KeyPriceLifetime = "subscription_lifetime_price"
)
