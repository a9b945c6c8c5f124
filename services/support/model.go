package support

import "time"

// Message is a free-form note from any resolved identity to the operators.
type Message struct {
	ID         string    `gorm:"column:id;primaryKey"`
	SenderID   string    `gorm:"column:sender_id;not null"`
	SenderRole string    `gorm:"column:sender_role;not null"`
	TenantID   *string   `gorm:"column:tenant_id"`
	Body       string    `gorm:"column:body;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (Message) TableName() string {
	return "support_messages"
}
