package tenant

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/errutil"
	"workforce-controlplane/pkg/security"
	"workforce-controlplane/services/apikey"
	"workforce-controlplane/services/audit"
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

func newService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	db := testutil.NewTestDB(t, &Tenant{}, &Member{}, &apikey.Key{}, &audit.Entry{}, &audit.RotationEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	auditSvc := audit.NewService(audit.ServiceParams{DB: db, Node: node, Clock: fake})
	svc := NewService(ServiceParams{
		DB:    db,
		Node:  node,
		Seq:   &fakeSequence{},
		Clock: fake,
		Audit: auditSvc,
	})
	return svc, fake
}

func TestCreateTenantStartsUnlicensed(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Name: "Acme Corp", OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Equal(t, StateUnlicensed, created.State)
	require.Equal(t, "acme-corp", created.Slug)
	require.Equal(t, "T001", created.Code)
	require.Nil(t, created.CurrentKeyID)
	require.Nil(t, created.LicenseEnd)
	require.True(t, created.Active)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, created.ID, got.ID)
}

func TestCreateTenantOwnerUnique(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Acme Corp", OwnerID: "owner-1"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Name: "Other Corp", OwnerID: "owner-1"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestCreateTenantSlugCollision(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{Name: "Acme Corp", OwnerID: "owner-1"})
	require.NoError(t, err)

	second, err := svc.Create(ctx, CreateInput{Name: "Acme Corp", OwnerID: "owner-2"})
	require.NoError(t, err)
	require.NotEqual(t, first.Slug, second.Slug)
	require.Contains(t, second.Slug, "acme-corp-")
}

func TestCreateTenantValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "", OwnerID: "owner-1"})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = svc.Create(ctx, CreateInput{Name: "Acme", OwnerID: ""})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestEmptyLookupsMatchNothing(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Name: "Acme Corp", OwnerID: "owner-1"})
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, created.ID, "user-1")
	require.NoError(t, err)

	// Empty keys must not select an arbitrary row.
	got, err := svc.Get(ctx, "")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = svc.GetByOwner(ctx, "")
	require.NoError(t, err)
	require.Nil(t, got)

	m, err := svc.GetMemberBinding(ctx, "")
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestGetByAPIKey(t *testing.T) {
	svc, fake := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Name: "Acme Corp", OwnerID: "owner-1"})
	require.NoError(t, err)

	secret, err := security.GenerateBase64Secret(32)
	require.NoError(t, err)
	hash, err := security.HashArgon2(secret)
	require.NoError(t, err)

	keyID := apikey.FormatKeyID("test-key-one")
	require.NoError(t, svc.keys.Create(ctx, &apikey.Key{
		ID:         "key-1",
		TenantID:   created.ID,
		KeyID:      keyID,
		SecretHash: hash,
		Scopes:     []string{"*"},
		Status:     apikey.KeyStatusActive,
		CreatedAt:  fake.Now(),
	}))

	got, err := svc.GetByAPIKey(ctx, apikey.ComposeToken(keyID, secret))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, created.ID, got.ID)

	// Wrong secret never resolves.
	got, err = svc.GetByAPIKey(ctx, apikey.ComposeToken(keyID, "not-the-secret"))
	require.NoError(t, err)
	require.Nil(t, got)

	// Malformed tokens resolve to nothing rather than erroring.
	got, err = svc.GetByAPIKey(ctx, "garbage")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAddMemberBindingImmutable(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "Tenant A", OwnerID: "owner-a"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Name: "Tenant B", OwnerID: "owner-b"})
	require.NoError(t, err)

	m, err := svc.AddMember(ctx, a.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, MemberRoleMember, m.Role)

	_, err = svc.AddMember(ctx, b.ID, "user-1")
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	_, err = svc.AddMember(ctx, a.ID, "user-1")
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestRemoveMember(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "Tenant A", OwnerID: "owner-a"})
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, a.ID, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveMember(ctx, a.ID, "user-1"))

	m, err := svc.GetMemberBinding(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, m)

	err = svc.RemoveMember(ctx, a.ID, "user-1")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestCommitVersionConflict(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Name: "Acme Corp", OwnerID: "owner-1"})
	require.NoError(t, err)

	stale, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)

	fresh, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	fresh.State = StateActive
	require.NoError(t, svc.Commit(ctx, svc.db, fresh))
	require.Equal(t, int64(1), fresh.Version)

	stale.State = StateRevoked
	err = svc.Commit(ctx, svc.db, stale)
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, StateActive, got.State)
}
