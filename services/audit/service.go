package audit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/db/option"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
)

// Service is the append-only audit sink. A write failure here is escalated
// as fatal for the triggering operation: an unaudited privileged action is
// worse than a rejected one.
type Service struct {
	node  *snowflake.Node
	clock clock.Clock

	entries   repository.Repository[Entry]
	rotations repository.Repository[RotationEntry]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:      p.Node,
		clock:     p.Clock,
		entries:   repository.ProvideStore[Entry](p.DB),
		rotations: repository.ProvideStore[RotationEntry](p.DB),
	}
}

// WithTrx returns a Service whose writes join the given transaction.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	return &Service{
		node:      s.node,
		clock:     s.clock,
		entries:   s.entries.WithTrx(tx),
		rotations: s.rotations.WithTrx(tx),
	}
}

func (s *Service) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = s.node.Generate().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}

	if err := s.entries.Create(ctx, e); err != nil {
		zap.L().Error("failed to append audit entry",
			zap.String("action", e.Action),
			zap.String("actor_id", e.ActorID),
			zap.Error(err),
		)
		return errutil.PersistenceFailure("audit sink unavailable", errutil.WithErr(err))
	}
	return nil
}

func (s *Service) RecordRotation(ctx context.Context, e *RotationEntry) error {
	if e.ID == "" {
		e.ID = s.node.Generate().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}

	if err := s.rotations.Create(ctx, e); err != nil {
		zap.L().Error("failed to append key rotation entry",
			zap.String("tenant_id", e.TenantID),
			zap.Error(err),
		)
		return errutil.PersistenceFailure("audit sink unavailable", errutil.WithErr(err))
	}
	return nil
}

// EntriesFor returns the audit trail of a tenant since the given timestamp,
// ordered by timestamp.
func (s *Service) EntriesFor(ctx context.Context, tenantID string, since time.Time) ([]*Entry, error) {
	return s.entries.Find(ctx, &Entry{TenantID: &tenantID},
		option.WithCondition("created_at >= ?", since),
		option.WithSortBy(option.QuerySortBy{Field: "created_at", OrderBy: "ASC"}),
	)
}

// RotationsFor returns a tenant's key rotation history in commit order.
func (s *Service) RotationsFor(ctx context.Context, tenantID string) ([]*RotationEntry, error) {
	return s.rotations.Find(ctx, &RotationEntry{TenantID: tenantID},
		option.WithSortBy(option.QuerySortBy{Field: "created_at", OrderBy: "ASC"}),
	)
}
