package license

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"workforce-controlplane/internal/config"
	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/db/option"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/repository"
	"workforce-controlplane/services/apikey"
	"workforce-controlplane/services/audit"
	"workforce-controlplane/services/tenant"
	"workforce-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSequence struct {
	n int64
}

func (f *fakeSequence) NextTenantCode(ctx context.Context) (string, error) {
	f.n++
	return fmt.Sprintf("T%03d", f.n), nil
}

type mockKeyRepository struct {
	findOneFn func(ctx context.Context, query *apikey.Key, opts ...option.QueryOption) (*apikey.Key, error)
}

func (m *mockKeyRepository) WithTrx(tx *gorm.DB) repository.Repository[apikey.Key] {
	return m
}

func (m *mockKeyRepository) Find(context.Context, *apikey.Key, ...option.QueryOption) ([]*apikey.Key, error) {
	return nil, nil
}

func (m *mockKeyRepository) FindOne(ctx context.Context, query *apikey.Key, opts ...option.QueryOption) (*apikey.Key, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *mockKeyRepository) Create(context.Context, *apikey.Key) error         { return nil }
func (m *mockKeyRepository) Update(context.Context, string, any) error         { return nil }
func (m *mockKeyRepository) BatchCreate(context.Context, []*apikey.Key) error  { return nil }
func (m *mockKeyRepository) BatchUpdate(context.Context, []*apikey.Key) error  { return nil }
func (m *mockKeyRepository) Count(context.Context, *apikey.Key) (int64, error) { return 0, nil }

type harness struct {
	license *Service
	tenants *tenant.Service
	audits  *audit.Service
	clock   *clock.Fake
	cfg     *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewTestDB(t,
		&tenant.Tenant{}, &tenant.Member{}, &apikey.Key{},
		&audit.Entry{}, &audit.RotationEntry{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	cfg := &config.Config{}
	cfg.License.KeyRetryLimit = 5

	auditSvc := audit.NewService(audit.ServiceParams{DB: db, Node: node, Clock: fake})
	tenantSvc := tenant.NewService(tenant.ServiceParams{
		DB: db, Node: node, Seq: &fakeSequence{}, Clock: fake, Audit: auditSvc,
	})
	licenseSvc := NewService(ServiceParams{
		DB: db, Node: node, Clock: fake, Config: cfg, Audit: auditSvc, Tenant: tenantSvc,
	})
	return &harness{
		license: licenseSvc,
		tenants: tenantSvc,
		audits:  auditSvc,
		clock:   fake,
		cfg:     cfg,
	}
}

func (h *harness) createTenant(t *testing.T, owner string) *tenant.Tenant {
	t.Helper()
	created, err := h.tenants.Create(context.Background(), tenant.CreateInput{Name: "Tenant " + owner, OwnerID: owner})
	require.NoError(t, err)
	return created
}

func (h *harness) countEntries(t *testing.T, tenantID, action string) int {
	t.Helper()
	entries, err := h.audits.EntriesFor(context.Background(), tenantID, time.Time{})
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func TestGenerateLifetime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	rot, err := h.license.Generate(ctx, created.ID, tenant.KindLifetime, "op-1")
	require.NoError(t, err)
	require.Nil(t, rot.ExpiresAt)
	require.Equal(t, tenant.StateActive, rot.State)
	require.NotEmpty(t, rot.Token)

	got, err := h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateActive, got.State)
	require.Equal(t, tenant.KindLifetime, got.Kind)
	require.Nil(t, got.LicenseEnd)
	require.NotNil(t, got.CurrentKeyID)
	require.Equal(t, rot.KeyID, *got.CurrentKeyID)

	// The plaintext token resolves back to the tenant.
	resolved, err := h.tenants.GetByAPIKey(ctx, rot.Token)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	require.Equal(t, created.ID, resolved.ID)

	// Lifetime never lapses, no matter how far the clock moves.
	h.clock.Advance(100 * 365 * 24 * time.Hour)
	active, err := h.license.CheckActive(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, active)
}

func TestGenerateUnknownTenant(t *testing.T) {
	h := newHarness(t)

	_, err := h.license.Generate(context.Background(), "no-such-tenant", tenant.KindLifetime, "op-1")
	require.Error(t, err)
	require.Equal(t, errutil.StatusUnknownTenant, errutil.StatusOf(err))
}

func TestGenerateInvalidKind(t *testing.T) {
	h := newHarness(t)
	created := h.createTenant(t, "owner-1")

	_, err := h.license.Generate(context.Background(), created.ID, "3m", "op-1")
	require.Error(t, err)
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func (h *harness) countOutcome(t *testing.T, tenantID, action string, outcome audit.Outcome) int {
	t.Helper()
	entries, err := h.audits.EntriesFor(context.Background(), tenantID, time.Time{})
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Action == action && e.Outcome == outcome {
			n++
		}
	}
	return n
}

func TestGenerateCommitFailureAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	// Break the rotation table so the generate transaction rolls back.
	require.NoError(t, h.license.db.Migrator().DropTable(&audit.RotationEntry{}))

	_, err := h.license.Generate(ctx, created.ID, tenant.KindLifetime, "op-1")
	require.Error(t, err)
	require.Equal(t, errutil.StatusPersistenceFailure, errutil.StatusOf(err))

	// The abort leaves its own trail even though the transaction rolled back.
	require.Equal(t, 1, h.countOutcome(t, created.ID, "license.generate", audit.OutcomeError))
	require.Equal(t, 0, h.countOutcome(t, created.ID, "license.generate", audit.OutcomeAllowed))

	got, err := h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateUnlicensed, got.State)
	require.Nil(t, got.CurrentKeyID)
}

func TestGenerateKeyExhaustionAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	// Every candidate id is already taken, so the retry budget runs out.
	h.license.keys = &mockKeyRepository{
		findOneFn: func(ctx context.Context, query *apikey.Key, opts ...option.QueryOption) (*apikey.Key, error) {
			return &apikey.Key{ID: "occupied", KeyID: query.KeyID}, nil
		},
	}

	_, err := h.license.Generate(ctx, created.ID, tenant.KindLifetime, "op-1")
	require.Error(t, err)
	require.Equal(t, errutil.StatusKeyCollision, errutil.StatusOf(err))

	require.Equal(t, 1, h.countOutcome(t, created.ID, "license.generate", audit.OutcomeError))

	got, err := h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateUnlicensed, got.State)
}

func TestTimeBoundExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	rot, err := h.license.Generate(ctx, created.ID, tenant.KindOneMonth, "op-1")
	require.NoError(t, err)
	require.NotNil(t, rot.ExpiresAt)
	require.Equal(t, h.clock.Now().Add(30*24*time.Hour), *rot.ExpiresAt)

	h.clock.Set(rot.ExpiresAt.Add(-time.Second))
	state, active, err := h.license.Status(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, tenant.StateActive, state)

	h.clock.Set(rot.ExpiresAt.Add(time.Second))
	state, active, err = h.license.Status(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, active)
	require.Equal(t, tenant.StateExpired, state)

	got, err := h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateExpired, got.State)
}

func TestExpiryAuditedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	rot, err := h.license.Generate(ctx, created.ID, tenant.KindOneMonth, "op-1")
	require.NoError(t, err)

	h.clock.Set(rot.ExpiresAt.Add(time.Hour))
	for i := 0; i < 3; i++ {
		_, active, err := h.license.Status(ctx, created.ID)
		require.NoError(t, err)
		require.False(t, active)
	}

	require.Equal(t, 1, h.countEntries(t, created.ID, "license.expired"))
}

func TestRenewRotatesKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	first, err := h.license.Generate(ctx, created.ID, tenant.KindOneMonth, "op-1")
	require.NoError(t, err)

	h.clock.Advance(10 * 24 * time.Hour)

	second, err := h.license.Generate(ctx, created.ID, tenant.KindOneMonth, "op-1")
	require.NoError(t, err)
	require.NotEqual(t, first.KeyID, second.KeyID)
	// Renewal resets the timer from now, not from the previous end.
	require.Equal(t, h.clock.Now().Add(30*24*time.Hour), *second.ExpiresAt)

	// The previous key is retired; only the new token resolves.
	resolved, err := h.tenants.GetByAPIKey(ctx, first.Token)
	require.NoError(t, err)
	require.Nil(t, resolved)
	resolved, err = h.tenants.GetByAPIKey(ctx, second.Token)
	require.NoError(t, err)
	require.NotNil(t, resolved)

	rotations, err := h.audits.RotationsFor(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, rotations, 2)

	got, err := h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, second.KeyID, *got.CurrentKeyID)
}

func TestRenewAfterExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	rot, err := h.license.Generate(ctx, created.ID, tenant.KindOneMonth, "op-1")
	require.NoError(t, err)

	h.clock.Set(rot.ExpiresAt.Add(time.Hour))
	_, active, err := h.license.Status(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, active)

	_, err = h.license.Generate(ctx, created.ID, tenant.KindSixMonth, "op-1")
	require.NoError(t, err)

	state, active, err := h.license.Status(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, tenant.StateActive, state)
}

func TestRevokeIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	rot, err := h.license.Generate(ctx, created.ID, tenant.KindLifetime, "op-1")
	require.NoError(t, err)

	require.NoError(t, h.license.Revoke(ctx, created.ID, "op-1"))

	got, err := h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateRevoked, got.State)

	// The key no longer resolves.
	resolved, err := h.tenants.GetByAPIKey(ctx, rot.Token)
	require.NoError(t, err)
	require.Nil(t, resolved)

	version := got.Version
	require.NoError(t, h.license.Revoke(ctx, created.ID, "op-1"))

	got, err = h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StateRevoked, got.State)
	require.Equal(t, version, got.Version)
	require.Equal(t, 2, h.countEntries(t, created.ID, "license.revoke"))
}

func TestRevokeUnlicensedTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	require.NoError(t, h.license.Revoke(ctx, created.ID, "op-1"))

	state, active, err := h.license.Status(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, active)
	require.Equal(t, tenant.StateRevoked, state)
}

func TestConcurrentGenerate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTenant(t, "owner-1")

	const writers = 4
	keyIDs := make([]string, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rot, err := h.license.Generate(ctx, created.ID, tenant.KindLifetime, fmt.Sprintf("op-%d", i))
			if err != nil {
				errs[i] = err
				return
			}
			keyIDs[i] = rot.KeyID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		require.NotContains(t, seen, keyIDs[i])
		seen[keyIDs[i]] = struct{}{}
	}

	rotations, err := h.audits.RotationsFor(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, rotations, writers)

	// Exactly one key survives and it is the tenant's current key.
	got, err := h.tenants.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentKeyID)
	require.Contains(t, seen, *got.CurrentKeyID)
	require.Equal(t, int64(writers), got.Version)

	activeKeys, err := h.license.keys.Find(ctx, &apikey.Key{TenantID: created.ID, Status: apikey.KeyStatusActive})
	require.NoError(t, err)
	require.Len(t, activeKeys, 1)
	require.Equal(t, *got.CurrentKeyID, activeKeys[0].KeyID)
}

func TestKindDuration(t *testing.T) {
	d, ok := KindDuration(tenant.KindOneMonth)
	require.True(t, ok)
	require.Equal(t, 30*24*time.Hour, d)

	d, ok = KindDuration(tenant.KindSixMonth)
	require.True(t, ok)
	require.Equal(t, 180*24*time.Hour, d)

	_, ok = KindDuration(tenant.KindLifetime)
	require.False(t, ok)
}
