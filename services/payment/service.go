package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
	"workforce-controlplane/services/audit"
	"workforce-controlplane/services/guard"
	"workforce-controlplane/services/license"
	"workforce-controlplane/services/notify"
	"workforce-controlplane/services/role"
	"workforce-controlplane/services/settings"
	"workforce-controlplane/services/tenant"
)

const actorPaymentSystem = "system:payment"

// Checkout stays open to unlicensed and expired owners, so the operation is
// tenant-scoped but not a write.
var opCheckout = guard.Operation{Name: "payment.checkout", Scope: guard.ScopeTenant}

type OutcomeKind string

const (
	OutcomeApplied   OutcomeKind = "applied"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeRejected  OutcomeKind = "rejected"
)

// Outcome is the result of ingesting one payment event.
type Outcome struct {
	Kind     OutcomeKind
	Reason   errutil.CoreStatus
	Rotation *license.Rotation
}

type IngestInput struct {
	TransactionID string
	TenantID      string
	Kind          tenant.SubscriptionKind
	Amount        float64
	Currency      string
	RawPayload    []byte
}

// Service consumes payment-confirmation events, deduplicates them strictly
// on transaction id and drives the license state machine. Each transaction
// id triggers at most one generate transition, even under concurrent
// duplicate delivery.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    clock.Clock
	audit    *audit.Service
	guard    *guard.Guard
	license  *license.Service
	tenant   *tenant.Service
	settings *settings.Service
	notifier notify.Notifier

	events    repository.Repository[Event]
	checkouts repository.Repository[Checkout]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clock.Clock
	Audit    *audit.Service
	Guard    *guard.Guard
	License  *license.Service
	Tenant   *tenant.Service
	Settings *settings.Service
	Notifier notify.Notifier
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		clock:     p.Clock,
		audit:     p.Audit,
		guard:     p.Guard,
		license:   p.License,
		tenant:    p.Tenant,
		settings:  p.Settings,
		notifier:  p.Notifier,
		events:    repository.ProvideStore[Event](p.DB),
		checkouts: repository.ProvideStore[Checkout](p.DB),
	}
}

// CreateCheckout prices the requested subscription and hands back a pending
// payment link. Only the tenant's owner may purchase; the gateway later
// confirms through Ingest with the same transaction id.
func (s *Service) CreateCheckout(ctx context.Context, actor, tenantID string, kind tenant.SubscriptionKind) (*Checkout, error) {
	if !kind.Valid() {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown subscription kind %q", kind))
	}

	d, err := s.guard.Authorize(ctx, actor, tenantID, opCheckout)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, d.Err()
	}
	if d.Binding.Role != role.RoleTenantOwner {
		return nil, errutil.NotPermitted("only the tenant owner may purchase a subscription")
	}

	t, err := s.tenant.Get(ctx, tenantID)
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to load tenant", errutil.WithErr(err))
	}
	if t == nil {
		return nil, errutil.UnknownTenant("tenant not found")
	}

	price, err := s.settings.Price(ctx, kind)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		return nil, errutil.BadRequest(fmt.Sprintf("no price configured for %q", kind))
	}

	now := s.clock.Now()
	txnID := uuid.NewString()
	c := &Checkout{
		ID:            s.node.Generate().String(),
		TransactionID: txnID,
		TenantID:      tenantID,
		Kind:          kind,
		Amount:        price,
		Currency:      "USD",
		PaymentURL:    fmt.Sprintf("https://pay.workforce.example/checkout/%s", txnID),
		Status:        CheckoutPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.checkouts.Create(ctx, c); err != nil {
		return nil, errutil.PersistenceFailure("failed to create checkout", errutil.WithErr(err))
	}
	return c, nil
}

// Ingest processes one payment-confirmation delivery. The insert of the
// event row claims the transaction id; losers of that race observe a
// duplicate and change nothing.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (Outcome, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("transaction_id", in.TransactionID),
	)

	if in.TransactionID == "" {
		return Outcome{}, errutil.BadRequest("transaction id is required")
	}

	ev := &Event{
		ID:            s.node.Generate().String(),
		TransactionID: in.TransactionID,
		TenantID:      in.TenantID,
		Kind:          in.Kind,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Result:        ResultRejected, // settled below once processed
		RawPayload:    in.RawPayload,
		ReceivedAt:    s.clock.Now(),
	}
	if ev.Currency == "" {
		ev.Currency = "USD"
	}

	if err := s.events.Create(ctx, ev); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if aerr := s.auditIngest(ctx, in, audit.OutcomeDenied, string(errutil.StatusDuplicateTransaction)); aerr != nil {
				return Outcome{}, aerr
			}
			zapLog.Info("duplicate payment event ignored")
			return Outcome{Kind: OutcomeDuplicate, Reason: errutil.StatusDuplicateTransaction}, nil
		}
		return Outcome{}, errutil.PersistenceFailure("failed to record payment event", errutil.WithErr(err))
	}

	reject := func(reason errutil.CoreStatus) (Outcome, error) {
		if err := s.events.Update(ctx, ev.ID, map[string]any{"result": ResultRejected, "reason": string(reason)}); err != nil {
			zapLog.Error("failed to settle rejected payment event", zap.Error(err))
		}
		if aerr := s.auditIngest(ctx, in, audit.OutcomeDenied, string(reason)); aerr != nil {
			return Outcome{}, aerr
		}
		return Outcome{Kind: OutcomeRejected, Reason: reason}, nil
	}

	if !in.Kind.Valid() {
		return reject(errutil.StatusBadRequest)
	}
	if in.TenantID == "" {
		zapLog.Warn("payment without tenant id")
		return reject(errutil.StatusUnknownTenant)
	}

	t, err := s.tenant.Get(ctx, in.TenantID)
	if err != nil {
		return Outcome{}, errutil.PersistenceFailure("failed to load tenant", errutil.WithErr(err))
	}
	if t == nil {
		zapLog.Warn("payment for unknown tenant", zap.String("tenant_id", in.TenantID))
		return reject(errutil.StatusUnknownTenant)
	}
	if t.State == tenant.StateRevoked {
		zapLog.Warn("payment for revoked tenant", zap.String("tenant_id", in.TenantID))
		return reject(errutil.StatusLicenseInactive)
	}

	rotation, err := s.license.Generate(ctx, in.TenantID, in.Kind, actorPaymentSystem)
	if err != nil {
		// Release the claim so the gateway's retry can reprocess; the
		// failed attempt committed nothing.
		if derr := s.db.WithContext(ctx).Where("id = ?", ev.ID).Delete(&Event{}).Error; derr != nil {
			zapLog.Error("failed to release payment event claim", zap.Error(derr))
		}
		zapLog.Error("license generate failed for payment", zap.Error(err))
		return Outcome{}, err
	}

	if err := s.events.Update(ctx, ev.ID, map[string]any{"result": ResultApplied, "reason": ""}); err != nil {
		zapLog.Error("failed to settle applied payment event", zap.Error(err))
	}
	if err := s.db.WithContext(ctx).Model(&Checkout{}).
		Where("transaction_id = ?", in.TransactionID).
		Updates(map[string]any{"status": CheckoutCompleted, "updated_at": s.clock.Now()}).Error; err != nil {
		zapLog.Warn("failed to settle checkout", zap.Error(err))
	}

	if aerr := s.auditIngest(ctx, in, audit.OutcomeAllowed, "subscription applied"); aerr != nil {
		return Outcome{}, aerr
	}

	// Notification is best-effort: delivery failure never rolls back the
	// license transition.
	data := map[string]any{
		"transaction_id": in.TransactionID,
		"amount":         in.Amount,
		"kind":           string(in.Kind),
	}
	if rotation.ExpiresAt != nil {
		data["expires_at"] = rotation.ExpiresAt
	}
	if err := s.notifier.Notify(ctx, role.RoleOperator, in.TenantID, data); err != nil {
		zapLog.Warn("operator notification failed", zap.Error(err))
	}

	return Outcome{Kind: OutcomeApplied, Rotation: rotation}, nil
}

func (s *Service) auditIngest(ctx context.Context, in IngestInput, outcome audit.Outcome, detail string) error {
	entry := &audit.Entry{
		ActorID: actorPaymentSystem,
		Action:  "payment.ingest",
		Outcome: outcome,
		Detail:  fmt.Sprintf("txn %s: %s", in.TransactionID, detail),
	}
	if in.TenantID != "" {
		id := in.TenantID
		entry.TenantID = &id
	}
	return s.audit.Record(ctx, entry)
}

var Module = fx.Module("payment.module",
	fx.Provide(NewService),
)
