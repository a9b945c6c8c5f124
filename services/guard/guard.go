package guard

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"workforce-controlplane/internal/config"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/services/audit"
	"workforce-controlplane/services/license"
	"workforce-controlplane/services/role"
	"workforce-controlplane/services/tenant"
)

// Scope classifies what an operation touches. The guard knows nothing about
// what an operation does, only whether it may proceed.
type Scope string

const (
	// ScopePublic operations are open to unregistered identities
	// (request-access and nothing else).
	ScopePublic Scope = "public"
	// ScopeOperator operations manage licensing across tenants: key
	// generation, revocation, cross-tenant listing.
	ScopeOperator Scope = "operator"
	// ScopeTenant operations touch one tenant's record contents.
	ScopeTenant Scope = "tenant"
)

// Operation describes an inbound action for authorization purposes.
type Operation struct {
	Name  string
	Scope Scope
	Write bool
}

// Decision is the guard's verdict. Denials are values, not errors.
type Decision struct {
	Allowed bool
	Reason  errutil.CoreStatus
	Binding role.Binding
}

// Err converts a denial into its errutil error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errutil.New(d.Reason, "operation denied")
}

func allow(b role.Binding) Decision {
	return Decision{Allowed: true, Binding: b}
}

func deny(b role.Binding, reason errutil.CoreStatus) Decision {
	return Decision{Allowed: false, Reason: reason, Binding: b}
}

// Guard authorizes every tenant-scoped operation in the system. Rules are
// evaluated in a fixed order and every call, allowed or denied, writes
// exactly one audit entry before returning.
type Guard struct {
	cfg      *config.Config
	resolver *role.Resolver
	license  *license.Service
	audit    *audit.Service
}

type GuardParams struct {
	fx.In
	Config   *config.Config
	Resolver *role.Resolver
	License  *license.Service
	Audit    *audit.Service
}

func NewGuard(p GuardParams) *Guard {
	return &Guard{
		cfg:      p.Config,
		resolver: p.Resolver,
		license:  p.License,
		audit:    p.Audit,
	}
}

// Authorize decides whether identity may perform op against targetTenant.
// A non-nil error means the decision could not be made or audited and the
// operation must not proceed.
func (g *Guard) Authorize(ctx context.Context, identity, targetTenant string, op Operation) (Decision, error) {
	binding := g.resolver.Resolve(ctx, identity)
	d, err := g.decide(ctx, binding, targetTenant, op)
	if err != nil {
		return Decision{}, err
	}

	outcome := audit.OutcomeAllowed
	detail := ""
	if !d.Allowed {
		outcome = audit.OutcomeDenied
		detail = string(d.Reason)
	}
	entry := &audit.Entry{
		ActorID: identity,
		Action:  op.Name,
		Outcome: outcome,
		Detail:  detail,
	}
	if targetTenant != "" {
		entry.TenantID = &targetTenant
	}
	if err := g.audit.Record(ctx, entry); err != nil {
		// An unaudited decision must not take effect.
		return Decision{}, err
	}

	if !d.Allowed {
		zap.L().Info("operation denied",
			zap.String("identity", identity),
			zap.String("operation", op.Name),
			zap.String("reason", string(d.Reason)),
		)
	}
	return d, nil
}

func (g *Guard) decide(ctx context.Context, binding role.Binding, targetTenant string, op Operation) (Decision, error) {
	if binding.Role == role.RoleUnknown {
		if op.Scope == ScopePublic {
			return allow(binding), nil
		}
		return deny(binding, errutil.StatusNotRegistered), nil
	}

	if binding.Role == role.RoleOperator {
		switch op.Scope {
		case ScopeOperator, ScopePublic:
			return allow(binding), nil
		default:
			// Operators manage licensing but are barred from tenant
			// record contents.
			return deny(binding, errutil.StatusNotPermitted), nil
		}
	}

	// Tenant-bound roles from here on.
	if targetTenant == "" || binding.TenantID != targetTenant {
		if op.Scope == ScopePublic {
			return allow(binding), nil
		}
		return deny(binding, errutil.StatusCrossTenantAccess), nil
	}

	if op.Scope == ScopeOperator {
		return deny(binding, errutil.StatusNotPermitted), nil
	}

	state, active, err := g.license.Status(ctx, targetTenant)
	if err != nil {
		return Decision{}, err
	}

	if op.Write && !active {
		return deny(binding, errutil.StatusLicenseInactive), nil
	}

	if binding.Role == role.RoleTenantMember {
		if op.Write {
			return deny(binding, errutil.StatusReadOnlyRole), nil
		}
		if state == tenant.StateRevoked && !g.cfg.License.RevokedReadAccess {
			return deny(binding, errutil.StatusLicenseInactive), nil
		}
	}

	return allow(binding), nil
}

var Module = fx.Module("guard.module",
	fx.Provide(NewGuard),
)
