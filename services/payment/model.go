package payment

import (
	"time"

	"gorm.io/datatypes"

	"workforce-controlplane/services/tenant"
)

type EventResult string

const (
	ResultApplied  EventResult = "applied"
	ResultRejected EventResult = "rejected"
)

// Event is the processing record for one payment-confirmation delivery.
// The transaction id is the dedup key: the unique index makes the
// check-and-insert atomic, so replays and concurrent duplicates lose the
// insert and are reported as duplicates.
type Event struct {
	ID            string                  `gorm:"column:id;primaryKey"`
	TransactionID string                  `gorm:"column:transaction_id;uniqueIndex;not null"`
	TenantID      string                  `gorm:"column:tenant_id;index;not null"`
	Kind          tenant.SubscriptionKind `gorm:"column:subscription_kind;not null"`
	Amount        float64                 `gorm:"column:amount"`
	Currency      string                  `gorm:"column:currency;default:'USD'"`
	Result        EventResult             `gorm:"column:result;not null"`
	Reason        string                  `gorm:"column:reason"`
	RawPayload    datatypes.JSON          `gorm:"column:raw_payload"`
	ReceivedAt    time.Time               `gorm:"column:received_at"`
}

func (Event) TableName() string {
	return "payment_events"
}

type CheckoutStatus string

const (
	CheckoutPending   CheckoutStatus = "pending"
	CheckoutCompleted CheckoutStatus = "completed"
)

// Checkout is a payment link handed to a tenant owner. The gateway reports
// back with the same transaction id, which the ingest path deduplicates.
type Checkout struct {
	ID            string                  `gorm:"column:id;primaryKey"`
	TransactionID string                  `gorm:"column:transaction_id;uniqueIndex;not null"`
	TenantID      string                  `gorm:"column:tenant_id;index;not null"`
	Kind          tenant.SubscriptionKind `gorm:"column:subscription_kind;not null"`
	Amount        float64                 `gorm:"column:amount"`
	Currency      string                  `gorm:"column:currency;default:'USD'"`
	PaymentURL    string                  `gorm:"column:payment_url"`
	Status        CheckoutStatus          `gorm:"column:status;default:'pending';not null"`
	CreatedAt     time.Time               `gorm:"column:created_at"`
	UpdatedAt     time.Time               `gorm:"column:updated_at"`
}

func (Checkout) TableName() string {
	return "payment_checkouts"
}
