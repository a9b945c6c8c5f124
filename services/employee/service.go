package employee

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/db/option"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
	"workforce-controlplane/services/guard"
	"workforce-controlplane/services/role"
	"workforce-controlplane/services/tenant"
)

var (
	opAdd       = guard.Operation{Name: "employee.add", Scope: guard.ScopeTenant, Write: true}
	opList      = guard.Operation{Name: "employee.list", Scope: guard.ScopeTenant}
	opGet       = guard.Operation{Name: "employee.get", Scope: guard.ScopeTenant}
	opUpdate    = guard.Operation{Name: "employee.update", Scope: guard.ScopeTenant, Write: true}
	opTerminate = guard.Operation{Name: "employee.terminate", Scope: guard.ScopeTenant, Write: true}
)

// Service is the guarded employee record store. Every operation passes
// through the tenant isolation guard before touching data.
type Service struct {
	node   *snowflake.Node
	clock  clock.Clock
	guard  *guard.Guard
	tenant *tenant.Service
	repo   repository.Repository[Employee]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Clock  clock.Clock
	Guard  *guard.Guard
	Tenant *tenant.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:   p.Node,
		clock:  p.Clock,
		guard:  p.Guard,
		tenant: p.Tenant,
		repo:   repository.ProvideStore[Employee](p.DB),
	}
}

type AddInput struct {
	Code       string
	Identity   string
	FirstName  string
	LastName   string
	Title      string
	Phone      string
	Email      string
	JoinedAt   *time.Time
	Salary     *float64
	Department string
}

func (s *Service) Add(ctx context.Context, actor, tenantID string, in AddInput) (*Employee, error) {
	d, err := s.guard.Authorize(ctx, actor, tenantID, opAdd)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, d.Err()
	}

	if in.Code == "" || in.FirstName == "" {
		return nil, errutil.BadRequest("employee code and first name are required")
	}

	now := s.clock.Now()
	e := &Employee{
		ID:         s.node.Generate().String(),
		TenantID:   tenantID,
		Code:       in.Code,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Title:      in.Title,
		Phone:      in.Phone,
		Email:      in.Email,
		JoinedAt:   in.JoinedAt,
		Salary:     in.Salary,
		Department: in.Department,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.Identity != "" {
		e.Identity = &in.Identity
	}

	if err := s.repo.Create(ctx, e); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("employee code already exists")
		}
		return nil, errutil.PersistenceFailure("failed to create employee", errutil.WithErr(err))
	}

	if in.Identity != "" {
		if _, err := s.tenant.AddMember(ctx, tenantID, in.Identity); err != nil {
			// The record exists either way; the identity binding is
			// reported separately.
			zap.L().Warn("failed to bind employee identity",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
	}

	return e, nil
}

func (s *Service) List(ctx context.Context, actor, tenantID string) ([]*Employee, error) {
	d, err := s.guard.Authorize(ctx, actor, tenantID, opList)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, d.Err()
	}

	// Members see only their own record.
	if d.Binding.Role == role.RoleTenantMember {
		own, err := s.repo.FindOne(ctx, &Employee{TenantID: tenantID, Identity: &actor, Status: StatusActive})
		if err != nil {
			return nil, errutil.PersistenceFailure("failed to list employees", errutil.WithErr(err))
		}
		if own == nil {
			return nil, nil
		}
		return []*Employee{own}, nil
	}

	out, err := s.repo.Find(ctx, &Employee{TenantID: tenantID, Status: StatusActive},
		option.WithSortBy(option.QuerySortBy{Field: "first_name", OrderBy: "ASC"}),
	)
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to list employees", errutil.WithErr(err))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, actor, tenantID, code string) (*Employee, error) {
	d, err := s.guard.Authorize(ctx, actor, tenantID, opGet)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, d.Err()
	}

	e, err := s.repo.FindOne(ctx, &Employee{TenantID: tenantID, Code: code, Status: StatusActive})
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to load employee", errutil.WithErr(err))
	}
	if e == nil {
		return nil, errutil.NotFound("employee not found")
	}

	if d.Binding.Role == role.RoleTenantMember {
		if e.Identity == nil || *e.Identity != actor {
			return nil, errutil.NotPermitted("members may only read their own record")
		}
	}

	return e, nil
}

// allowed fields for Update, mirroring what owners may edit.
var updatableFields = map[string]struct{}{
	"first_name": {}, "last_name": {}, "title": {}, "phone": {},
	"email": {}, "joined_at": {}, "salary": {}, "department": {},
}

func (s *Service) Update(ctx context.Context, actor, tenantID, code string, fields map[string]any) (*Employee, error) {
	d, err := s.guard.Authorize(ctx, actor, tenantID, opUpdate)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, d.Err()
	}

	e, err := s.repo.FindOne(ctx, &Employee{TenantID: tenantID, Code: code, Status: StatusActive})
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to load employee", errutil.WithErr(err))
	}
	if e == nil {
		return nil, errutil.NotFound("employee not found")
	}

	values := map[string]any{}
	for k, v := range fields {
		if _, ok := updatableFields[k]; ok && v != nil {
			values[k] = v
		}
	}
	if len(values) == 0 {
		return nil, errutil.BadRequest("no updatable fields provided")
	}
	values["updated_at"] = s.clock.Now()

	if err := s.repo.Update(ctx, e.ID, values); err != nil {
		return nil, errutil.PersistenceFailure("failed to update employee", errutil.WithErr(err))
	}
	return s.repo.FindOne(ctx, &Employee{ID: e.ID})
}

// Terminate soft-deletes an employee record.
func (s *Service) Terminate(ctx context.Context, actor, tenantID, code string) error {
	d, err := s.guard.Authorize(ctx, actor, tenantID, opTerminate)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return d.Err()
	}

	e, err := s.repo.FindOne(ctx, &Employee{TenantID: tenantID, Code: code, Status: StatusActive})
	if err != nil {
		return errutil.PersistenceFailure("failed to load employee", errutil.WithErr(err))
	}
	if e == nil {
		return errutil.NotFound("employee not found")
	}

	if err := s.repo.Update(ctx, e.ID, map[string]any{
		"status":     StatusTerminated,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return errutil.PersistenceFailure("failed to terminate employee", errutil.WithErr(err))
	}

	if e.Identity != nil {
		if err := s.tenant.RemoveMember(ctx, tenantID, *e.Identity); err != nil &&
			errutil.StatusOf(err) != errutil.StatusNotFound {
			zap.L().Warn("failed to unbind employee identity",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
	}
	return nil
}

var Module = fx.Module("employee.module",
	fx.Provide(NewService),
)
