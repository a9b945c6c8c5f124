package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workforce-controlplane/internal/config"
	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
	"workforce-controlplane/pkg/security"
	"workforce-controlplane/services/apikey"
	"workforce-controlplane/services/audit"
	"workforce-controlplane/services/tenant"
)

const keyRandomBytes = 32

// KindDuration maps a time-bound subscription kind to its duration.
// Lifetime kinds return ok=false. Duration arithmetic lives here only.
func KindDuration(kind tenant.SubscriptionKind) (time.Duration, bool) {
	switch kind {
	case tenant.KindOneMonth:
		return 30 * 24 * time.Hour, true
	case tenant.KindSixMonth:
		return 180 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Rotation is the committed result of a generate/renew transition. Token
// carries the plaintext API key and is returned exactly once.
type Rotation struct {
	TenantID  string
	KeyID     string
	Token     string
	Kind      tenant.SubscriptionKind
	State     tenant.LicenseState
	ExpiresAt *time.Time
}

// Service is the per-tenant subscription state machine. Every mutation of a
// tenant's license record runs under that tenant's mutex plus a version CAS
// at commit, so concurrent writers serialise and the second observes the
// first's committed state.
type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  clock.Clock
	cfg    *config.Config
	audit  *audit.Service
	tenant *tenant.Service

	keys repository.Repository[apikey.Key]

	locks sync.Map // tenant id -> *sync.Mutex
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Clock  clock.Clock
	Config *config.Config
	Audit  *audit.Service
	Tenant *tenant.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		clock:  p.Clock,
		cfg:    p.Config,
		audit:  p.Audit,
		tenant: p.Tenant,
		keys:   repository.ProvideStore[apikey.Key](p.DB),
	}
}

func (s *Service) lockFor(tenantID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// newKeyID draws a random key id and collision-checks it against all
// existing keys before it is committed. Exhausting the retry budget means
// the key space is exhausted or the random source is broken; that is fatal
// and surfaced to the operator.
func (s *Service) newKeyID(ctx context.Context) (string, error) {
	retries := s.cfg.License.KeyRetryLimit
	if retries <= 0 {
		retries = 5
	}
	for i := 0; i < retries; i++ {
		raw, err := security.GenerateBase64Secret(12)
		if err != nil {
			return "", errutil.Internal("api key random source failed", errutil.WithErr(err))
		}
		keyID := apikey.FormatKeyID(raw)
		existing, err := s.keys.FindOne(ctx, &apikey.Key{KeyID: keyID})
		if err != nil {
			return "", errutil.PersistenceFailure("failed to collision-check api key", errutil.WithErr(err))
		}
		if existing == nil {
			return keyID, nil
		}
		zap.L().Warn("api key collision, retrying", zap.Int("attempt", i+1))
	}
	return "", errutil.KeyCollision("exhausted api key generation retries")
}

// auditFailure records an aborted generate outside the rolled-back
// transaction. Best-effort: the abort itself is the error being reported,
// so an unreachable sink only logs.
func (s *Service) auditFailure(ctx context.Context, tenantID, requestedBy string, cause error) {
	if err := s.audit.Record(ctx, &audit.Entry{
		ActorID:  requestedBy,
		TenantID: &tenantID,
		Action:   "license.generate",
		Outcome:  audit.OutcomeError,
		Detail:   string(errutil.StatusOf(cause)),
	}); err != nil {
		zap.L().Error("failed to audit aborted generate",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// Generate issues a new API key and transitions the tenant to Active,
// computing the end timestamp for time-bound kinds. It is both the initial
// generate and the renew operation; renewing resets the timer.
func (s *Service) Generate(ctx context.Context, tenantID string, kind tenant.SubscriptionKind, requestedBy string) (*Rotation, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", tenantID),
	)

	if !kind.Valid() {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown subscription kind %q", kind))
	}

	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.tenant.Get(ctx, tenantID)
	if err != nil {
		return nil, errutil.PersistenceFailure("failed to load tenant", errutil.WithErr(err))
	}
	if t == nil {
		return nil, errutil.UnknownTenant("tenant not found")
	}

	keyID, err := s.newKeyID(ctx)
	if err != nil {
		s.auditFailure(ctx, tenantID, requestedBy, err)
		return nil, err
	}
	secret, err := security.GenerateBase64Secret(keyRandomBytes)
	if err != nil {
		return nil, errutil.Internal("api key random source failed", errutil.WithErr(err))
	}
	hash, err := security.HashArgon2(secret)
	if err != nil {
		return nil, errutil.Internal("failed to hash api key secret", errutil.WithErr(err))
	}

	now := s.clock.Now()
	var expiresAt *time.Time
	if d, ok := KindDuration(kind); ok {
		end := now.Add(d)
		expiresAt = &end
	}

	prevKeyID := t.CurrentKeyID

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&apikey.Key{}).
			Where("tenant_id = ? AND status = ?", tenantID, apikey.KeyStatusActive).
			Updates(map[string]any{"status": apikey.KeyStatusRevoked, "revoked_at": now}).Error; err != nil {
			return errutil.PersistenceFailure("failed to retire previous key", errutil.WithErr(err))
		}

		key := &apikey.Key{
			ID:         s.node.Generate().String(),
			TenantID:   tenantID,
			KeyID:      keyID,
			SecretHash: hash,
			Scopes:     []string{"*"},
			Status:     apikey.KeyStatusActive,
			CreatedBy:  requestedBy,
			CreatedAt:  now,
		}
		if err := tx.Create(key).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.KeyCollision("api key collided at commit")
			}
			return errutil.PersistenceFailure("failed to store api key", errutil.WithErr(err))
		}

		t.Kind = kind
		t.State = tenant.StateActive
		t.LicenseStart = &now
		t.LicenseEnd = expiresAt
		t.CurrentKeyID = &keyID
		if err := s.tenant.Commit(ctx, tx, t); err != nil {
			return err
		}

		auditInTx := s.audit.WithTrx(tx)
		if err := auditInTx.RecordRotation(ctx, &audit.RotationEntry{
			TenantID:    tenantID,
			PrevKeyID:   prevKeyID,
			NewKeyID:    keyID,
			RequestedBy: requestedBy,
			Kind:        string(kind),
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		return auditInTx.Record(ctx, &audit.Entry{
			ActorID:   requestedBy,
			TenantID:  &tenantID,
			Action:    "license.generate",
			Outcome:   audit.OutcomeAllowed,
			Detail:    fmt.Sprintf("subscription %s activated", kind),
			CreatedAt: now,
		})
	}); err != nil {
		zapLog.Error("license generate failed", zap.Error(err))
		s.auditFailure(ctx, tenantID, requestedBy, err)
		return nil, err
	}

	return &Rotation{
		TenantID:  tenantID,
		KeyID:     keyID,
		Token:     apikey.ComposeToken(keyID, secret),
		Kind:      kind,
		State:     tenant.StateActive,
		ExpiresAt: expiresAt,
	}, nil
}

// Status evaluates the tenant's license, performing the lazy transition to
// Expired the first time a time-bound subscription is observed past its end
// timestamp. Exactly one audit entry is written per expiry event; there is
// no background timer.
func (s *Service) Status(ctx context.Context, tenantID string) (tenant.LicenseState, bool, error) {
	t, err := s.tenant.Get(ctx, tenantID)
	if err != nil {
		return "", false, errutil.PersistenceFailure("failed to load tenant", errutil.WithErr(err))
	}
	if t == nil {
		return "", false, errutil.UnknownTenant("tenant not found")
	}

	if t.State != tenant.StateActive {
		return t.State, false, nil
	}
	if t.Kind == tenant.KindLifetime {
		return t.State, true, nil
	}
	if t.LicenseEnd != nil && t.LicenseEnd.After(s.clock.Now()) {
		return t.State, true, nil
	}

	// Observed expired; transition under the tenant lock so the expiry is
	// recorded once even when checks race.
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err = s.tenant.Get(ctx, tenantID)
	if err != nil {
		return "", false, errutil.PersistenceFailure("failed to load tenant", errutil.WithErr(err))
	}
	if t == nil {
		return "", false, errutil.UnknownTenant("tenant not found")
	}
	if t.State != tenant.StateActive || t.Kind == tenant.KindLifetime ||
		(t.LicenseEnd != nil && t.LicenseEnd.After(s.clock.Now())) {
		// Another writer got here first.
		active := t.State == tenant.StateActive
		return t.State, active, nil
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t.State = tenant.StateExpired
		if err := s.tenant.Commit(ctx, tx, t); err != nil {
			return err
		}
		return s.audit.WithTrx(tx).Record(ctx, &audit.Entry{
			ActorID:  "system",
			TenantID: &tenantID,
			Action:   "license.expired",
			Outcome:  audit.OutcomeAllowed,
			Detail:   fmt.Sprintf("subscription %s lapsed", t.Kind),
		})
	}); err != nil {
		return "", false, err
	}

	zap.L().Info("license lapsed", zap.String("tenant_id", tenantID))
	return tenant.StateExpired, false, nil
}

// CheckActive reports whether the tenant's license currently permits
// tenant-scoped mutations. Lifetime licenses are always active once
// generated; time-bound licenses expire lazily on access.
func (s *Service) CheckActive(ctx context.Context, tenantID string) (bool, error) {
	_, active, err := s.Status(ctx, tenantID)
	return active, err
}

// Revoke force-transitions the tenant to Revoked regardless of current
// state. Revoking an already-revoked tenant is a no-op that still logs the
// attempt. Only a fresh operator generate leaves the Revoked state.
func (s *Service) Revoke(ctx context.Context, tenantID, requestedBy string) error {
	mu := s.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.tenant.Get(ctx, tenantID)
	if err != nil {
		return errutil.PersistenceFailure("failed to load tenant", errutil.WithErr(err))
	}
	if t == nil {
		return errutil.UnknownTenant("tenant not found")
	}

	if t.State == tenant.StateRevoked {
		return s.audit.Record(ctx, &audit.Entry{
			ActorID:  requestedBy,
			TenantID: &tenantID,
			Action:   "license.revoke",
			Outcome:  audit.OutcomeAllowed,
			Detail:   "already revoked",
		})
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&apikey.Key{}).
			Where("tenant_id = ? AND status = ?", tenantID, apikey.KeyStatusActive).
			Updates(map[string]any{"status": apikey.KeyStatusRevoked, "revoked_at": now}).Error; err != nil {
			return errutil.PersistenceFailure("failed to retire key", errutil.WithErr(err))
		}
		t.State = tenant.StateRevoked
		if err := s.tenant.Commit(ctx, tx, t); err != nil {
			return err
		}
		return s.audit.WithTrx(tx).Record(ctx, &audit.Entry{
			ActorID:  requestedBy,
			TenantID: &tenantID,
			Action:   "license.revoke",
			Outcome:  audit.OutcomeAllowed,
		})
	})
}

var Module = fx.Module("license.module",
	fx.Provide(NewService),
)
