package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/db/option"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
	"workforce-controlplane/pkg/security"
	"workforce-controlplane/pkg/sequence"
	"workforce-controlplane/services/apikey"
	"workforce-controlplane/services/audit"
)

// Service owns tenant and member records. It is the persistence collaborator
// the licensing core reads through; license mutations go via Commit, which
// performs a compare-and-swap on the tenant version column.
type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	seq   sequence.Generator
	clock clock.Clock
	audit *audit.Service

	tenants repository.Repository[Tenant]
	members repository.Repository[Member]
	keys    repository.Repository[apikey.Key]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Seq   sequence.Generator
	Clock clock.Clock
	Audit *audit.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		seq:     p.Seq,
		clock:   p.Clock,
		audit:   p.Audit,
		tenants: repository.ProvideStore[Tenant](p.DB),
		members: repository.ProvideStore[Member](p.DB),
		keys:    repository.ProvideStore[apikey.Key](p.DB),
	}
}

type CreateInput struct {
	Name    string
	OwnerID string
}

// Create registers a new tenant in the Unlicensed state. The owner identity
// must not already own a tenant.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Tenant, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if in.Name == "" || in.OwnerID == "" {
		return nil, errutil.BadRequest("tenant name and owner identity are required")
	}

	exist, err := s.tenants.FindOne(ctx, &Tenant{OwnerID: in.OwnerID})
	if err != nil {
		zapLog.Error("failed query tenant by owner", zap.Error(err))
		return nil, errutil.PersistenceFailure("failed to check existing tenant", errutil.WithErr(err))
	}
	if exist != nil {
		zapLog.Warn("owner already has a tenant", zap.String("owner_id", in.OwnerID))
		return nil, errutil.Conflict("identity already owns a tenant")
	}

	slugName := slug.Make(in.Name)
	if dup, err := s.tenants.FindOne(ctx, &Tenant{Slug: slugName}); err != nil {
		zapLog.Error("failed query tenant by slug", zap.Error(err))
		return nil, errutil.PersistenceFailure("failed to check existing tenant", errutil.WithErr(err))
	} else if dup != nil {
		// Disambiguate name collisions across unrelated owners.
		suffix, err := security.GenerateBase64Secret(3)
		if err != nil {
			return nil, errutil.Internal("failed to generate slug suffix", errutil.WithErr(err))
		}
		slugName = fmt.Sprintf("%s-%s", slugName, suffix)
	}

	code, err := s.seq.NextTenantCode(ctx)
	if err != nil {
		zapLog.Error("failed to allocate tenant code", zap.Error(err))
		return nil, errutil.Internal("failed to allocate tenant code", errutil.WithErr(err))
	}

	now := s.clock.Now()
	t := &Tenant{
		ID:        s.node.Generate().String(),
		CreatedAt: now,
		UpdatedAt: now,
		Name:      in.Name,
		Slug:      slugName,
		Code:      code,
		OwnerID:   in.OwnerID,
		Kind:      "",
		State:     StateUnlicensed,
		Active:    true,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return s.audit.WithTrx(tx).Record(ctx, &audit.Entry{
			ActorID:  in.OwnerID,
			TenantID: &t.ID,
			Action:   "tenant.create",
			Outcome:  audit.OutcomeAllowed,
			Detail:   fmt.Sprintf("tenant %s registered", t.Code),
		})
	}); err != nil {
		zapLog.Error("failed to create tenant", zap.Error(err))
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("tenant already exists")
		}
		return nil, errutil.PersistenceFailure("failed to create tenant", errutil.WithErr(err))
	}

	return t, nil
}

// Get returns the tenant with the given id, or (nil, nil) when absent. An
// empty id never matches; gorm drops zero-value struct fields from the
// query, so passing it through would select an arbitrary row.
func (s *Service) Get(ctx context.Context, id string) (*Tenant, error) {
	if id == "" {
		return nil, nil
	}
	return s.tenants.FindOne(ctx, &Tenant{ID: id})
}

// GetByOwner resolves an owner identity to its tenant, active tenants only.
func (s *Service) GetByOwner(ctx context.Context, identity string) (*Tenant, error) {
	if identity == "" {
		return nil, nil
	}
	return s.tenants.FindOne(ctx, &Tenant{OwnerID: identity, Active: true})
}

// GetByAPIKey resolves a presented API key token to its tenant. The key id
// half is looked up, the secret half is verified against the stored argon2
// hash, and only active tenants resolve.
func (s *Service) GetByAPIKey(ctx context.Context, token string) (*Tenant, error) {
	keyID, secret, err := apikey.SplitToken(token)
	if err != nil {
		return nil, nil
	}

	key, err := s.keys.FindOne(ctx, &apikey.Key{KeyID: keyID, Status: apikey.KeyStatusActive})
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to look up api key", errutil.WithErr(err))
	}
	if key == nil {
		return nil, nil
	}

	ok, err := security.VerifyArgon2(secret, key.SecretHash)
	if err != nil || !ok {
		return nil, nil
	}

	return s.tenants.FindOne(ctx, &Tenant{ID: key.TenantID, Active: true})
}

// GetMemberBinding returns the active member binding for an identity, or
// (nil, nil) when the identity is not bound.
func (s *Service) GetMemberBinding(ctx context.Context, identity string) (*Member, error) {
	if identity == "" {
		return nil, nil
	}
	return s.members.FindOne(ctx, &Member{Identity: identity, Status: MemberStatusActive})
}

// AddMember binds an identity to a tenant with the read-only member role.
// A bound identity can never be re-bound to another tenant.
func (s *Service) AddMember(ctx context.Context, tenantID, identity string) (*Member, error) {
	existing, err := s.members.FindOne(ctx, &Member{Identity: identity})
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to check member binding", errutil.WithErr(err))
	}
	if existing != nil {
		if existing.TenantID != tenantID {
			return nil, errutil.Conflict("identity is bound to another tenant")
		}
		return nil, errutil.Conflict("identity is already a member")
	}

	m := &Member{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		Identity:  identity,
		Role:      MemberRoleMember,
		Status:    MemberStatusActive,
		CreatedAt: s.clock.Now(),
	}
	if err := s.members.Create(ctx, m); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("identity is already a member")
		}
		return nil, errutil.PersistenceFailure("failed to add member", errutil.WithErr(err))
	}
	return m, nil
}

// RemoveMember deactivates a member binding within a tenant.
func (s *Service) RemoveMember(ctx context.Context, tenantID, identity string) error {
	m, err := s.members.FindOne(ctx, &Member{TenantID: tenantID, Identity: identity, Status: MemberStatusActive})
	if err != nil {
		return errutil.PersistenceFailure("failed to look up member", errutil.WithErr(err))
	}
	if m == nil {
		return errutil.NotFound("member not found")
	}
	if err := s.members.Update(ctx, m.ID, map[string]any{"status": MemberStatusRemoved}); err != nil {
		return errutil.PersistenceFailure("failed to remove member", errutil.WithErr(err))
	}
	return nil
}

// Remove deactivates a tenant and cascades to its members.
func (s *Service) Remove(ctx context.Context, tenantID, actor string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Tenant{}).Where("id = ?", tenantID).Update("active", false).Error; err != nil {
			return errutil.PersistenceFailure("failed to deactivate tenant", errutil.WithErr(err))
		}
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&Member{}).Error; err != nil {
			return errutil.PersistenceFailure("failed to remove members", errutil.WithErr(err))
		}
		return s.audit.WithTrx(tx).Record(ctx, &audit.Entry{
			ActorID:  actor,
			TenantID: &tenantID,
			Action:   "tenant.remove",
			Outcome:  audit.OutcomeAllowed,
		})
	})
}

// List returns all active tenants, newest first. Operator-scoped.
func (s *Service) List(ctx context.Context) ([]*Tenant, error) {
	return s.tenants.Find(ctx, &Tenant{Active: true},
		option.WithSortBy(option.QuerySortBy{Field: "created_at", OrderBy: "DESC"}),
	)
}

// Commit applies a compare-and-swap update of the tenant's license record
// and current key within tx. The swap fails when another writer committed
// first; callers already hold the per-tenant lock, so a failure here means
// an out-of-process writer raced us.
func (s *Service) Commit(ctx context.Context, tx *gorm.DB, t *Tenant) error {
	res := tx.WithContext(ctx).Model(&Tenant{}).
		Where("id = ? AND version = ?", t.ID, t.Version).
		Updates(map[string]any{
			"subscription_kind": t.Kind,
			"license_state":     t.State,
			"license_start":     t.LicenseStart,
			"license_end":       t.LicenseEnd,
			"current_key_id":    t.CurrentKeyID,
			"updated_at":        s.clock.Now(),
			"version":           t.Version + 1,
		})
	if res.Error != nil {
		return errutil.PersistenceFailure("failed to commit tenant", errutil.WithErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("tenant was modified concurrently")
	}
	t.Version++
	return nil
}
