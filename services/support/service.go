package support

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/db/option"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
	"workforce-controlplane/services/audit"
	"workforce-controlplane/services/notify"
	"workforce-controlplane/services/role"
)

type Service struct {
	node     *snowflake.Node
	clock    clock.Clock
	resolver *role.Resolver
	audit    *audit.Service
	notifier notify.Notifier
	repo     repository.Repository[Message]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clock.Clock
	Resolver *role.Resolver
	Audit    *audit.Service
	Notifier notify.Notifier
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:     p.Node,
		clock:    p.Clock,
		resolver: p.Resolver,
		audit:    p.Audit,
		notifier: p.Notifier,
		repo:     repository.ProvideStore[Message](p.DB),
	}
}

// Submit stores a support message and raises a notification intent for the
// operators. Unregistered identities are rejected.
func (s *Service) Submit(ctx context.Context, actor, body string) (*Message, error) {
	b := s.resolver.Resolve(ctx, actor)
	if b.Role == role.RoleUnknown {
		return nil, errutil.NotRegistered("identity is not registered")
	}
	if strings.TrimSpace(body) == "" {
		return nil, errutil.BadRequest("message body is empty")
	}

	m := &Message{
		ID:         s.node.Generate().String(),
		SenderID:   actor,
		SenderRole: string(b.Role),
		Body:       body,
		CreatedAt:  s.clock.Now(),
	}
	if b.TenantID != "" {
		m.TenantID = &b.TenantID
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, errutil.PersistenceFailure("failed to store support message", errutil.WithErr(err))
	}

	if err := s.audit.Record(ctx, &audit.Entry{
		ActorID:  actor,
		TenantID: m.TenantID,
		Action:   "support.submit",
		Outcome:  audit.OutcomeAllowed,
		Detail:   "support message stored",
	}); err != nil {
		return nil, err
	}

	if err := s.notifier.Notify(ctx, role.RoleOperator, "", map[string]any{
		"message_id":  m.ID,
		"sender_id":   actor,
		"sender_role": m.SenderRole,
	}); err != nil {
		zap.L().Warn("support notification not delivered", zap.Error(err))
	}

	return m, nil
}

// ListSince returns stored messages created at or after the given time.
func (s *Service) ListSince(ctx context.Context, since time.Time) ([]*Message, error) {
	out, err := s.repo.Find(ctx, &Message{},
		option.WithCondition("created_at >= ?", since),
		option.WithSortBy(option.QuerySortBy{Field: "created_at", OrderBy: "ASC"}),
	)
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to list support messages", errutil.WithErr(err))
	}
	return out, nil
}

var Module = fx.Module("support.module",
	fx.Provide(NewService),
)
