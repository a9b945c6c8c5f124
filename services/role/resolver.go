package role

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"workforce-controlplane/internal/config"
	"workforce-controlplane/services/tenant"
)

type Role string

const (
	RoleOperator     Role = "operator"
	RoleTenantOwner  Role = "tenant_owner"
	RoleTenantMember Role = "tenant_member"
	RoleUnknown      Role = "unknown"
)

// Binding is the result of resolving an external identity. TenantID is set
// only for tenant-bound roles.
type Binding struct {
	Role     Role
	TenantID string
}

// Resolver maps an external identity to exactly one role. It is a pure
// lookup with no side effects, and it fails closed: any storage error
// resolves to Unknown, never to a privileged role.
type Resolver struct {
	operators map[string]struct{}
	tenants   *tenant.Service
}

type ResolverParams struct {
	fx.In
	Config  *config.Config
	Tenants *tenant.Service
}

func NewResolver(p ResolverParams) *Resolver {
	ops := make(map[string]struct{})
	for _, id := range p.Config.Operators() {
		ops[id] = struct{}{}
	}
	return &Resolver{
		operators: ops,
		tenants:   p.Tenants,
	}
}

func (r *Resolver) Resolve(ctx context.Context, identity string) Binding {
	if identity == "" {
		return Binding{Role: RoleUnknown}
	}

	if _, ok := r.operators[identity]; ok {
		return Binding{Role: RoleOperator}
	}

	t, err := r.tenants.GetByOwner(ctx, identity)
	if err != nil {
		zap.L().Error("role lookup failed, resolving to unknown",
			zap.String("identity", identity), zap.Error(err))
		return Binding{Role: RoleUnknown}
	}
	if t != nil {
		return Binding{Role: RoleTenantOwner, TenantID: t.ID}
	}

	m, err := r.tenants.GetMemberBinding(ctx, identity)
	if err != nil {
		zap.L().Error("member lookup failed, resolving to unknown",
			zap.String("identity", identity), zap.Error(err))
		return Binding{Role: RoleUnknown}
	}
	if m != nil {
		return Binding{Role: RoleTenantMember, TenantID: m.TenantID}
	}

	return Binding{Role: RoleUnknown}
}

var Module = fx.Module("role.module",
	fx.Provide(NewResolver),
)
