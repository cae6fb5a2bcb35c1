package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/procurement/internal/domain/identity"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/persistence/storetest"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *persistence.MemoryStore
	faults   *storetest.FaultStore
	repo     *persistence.StoreRelationRepository
	resolver *Resolver
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := persistence.NewMemoryStore()
	faults := storetest.Wrap(store)
	repo := persistence.NewStoreRelationRepository(faults)
	core, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		store:  store,
		faults: faults,
		repo:   repo,
		resolver: NewResolver(repo,
			WithClock(testclock.NewClock(testNow)),
			WithLogger(zap.New(core)),
		),
		logs: logs,
	}
}

func (f *fixture) set(t *testing.T, path string, doc persistence.Document) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), path, doc))
}

func (f *fixture) business(t *testing.T, id, ownerID string) {
	f.set(t, persistence.BusinessPath(id), persistence.Document{"name": "Business " + id, "ownerId": ownerID})
}

func (f *fixture) user(t *testing.T, id string, doc persistence.Document) {
	f.set(t, persistence.UserPath(id), doc)
}

// assertConsistent checks both relation copies exist with the same role
func (f *fixture) assertConsistent(t *testing.T, userID, businessID string, role identity.Role) (*identity.BusinessMembership, *identity.UserBusinessLink) {
	t.Helper()
	ctx := context.Background()
	m, err := f.repo.FindMembership(ctx, businessID, userID)
	require.NoError(t, err)
	l, err := f.repo.FindLink(ctx, userID, businessID)
	require.NoError(t, err)
	assert.Equal(t, role, m.Role)
	assert.Equal(t, role, l.Role)
	return m, l
}

func TestResolver_Owner(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.user(t, "owner", persistence.Document{"email": "owner@example.com", "name": "Olga"})

	d, err := f.resolver.Resolve(context.Background(), "owner", "b1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, identity.EvidenceOwner, d.Evidence)
	assert.Equal(t, 3, d.Repairs.Writes())

	m, l := f.assertConsistent(t, "owner", "b1", identity.RoleAdmin)
	assert.Equal(t, identity.FullPermissions(), m.Permissions)
	assert.Equal(t, "Olga", m.Name)
	assert.True(t, l.CreatedAt.Equal(testNow))

	u, err := f.repo.FindUser(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, "b1", u.BusinessID)
}

func TestResolver_OwnerKeepsCustomizedMembership(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.set(t, persistence.MembershipPath("b1", "owner"), persistence.Document{
		"userId": "owner",
		"role":   "manager",
		"permissions": map[string]any{
			"canCreateAccounts": false, "canDelete": true, "canApprove": true, "requiresApproval": false,
		},
	})

	d, err := f.resolver.Resolve(context.Background(), "owner", "b1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.False(t, d.Repairs.MembershipCreated)

	m, _ := f.assertConsistent(t, "owner", "b1", identity.RoleManager)
	assert.False(t, m.Permissions.CanCreateAccounts, "existing membership is not overwritten")
}

func TestResolver_MembershipOnly(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	f.business(t, "b1", "owner")
	f.user(t, "u2", persistence.Document{"email": "u2@example.com"})
	f.set(t, persistence.MembershipPath("b1", "u2"), persistence.Document{
		"userId": "u2", "role": "officer", "createdAt": created,
	})

	d, err := f.resolver.Resolve(context.Background(), "u2", "b1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, identity.EvidenceMembership, d.Evidence)
	assert.True(t, d.Repairs.LinkCreated)
	assert.True(t, d.Repairs.BusinessPointerSet)
	assert.False(t, d.Repairs.MembershipCreated)

	_, l := f.assertConsistent(t, "u2", "b1", identity.RoleOfficer)
	assert.True(t, l.CreatedAt.Equal(created), "link copies the membership creation time")
}

// A user with only the user-side link gets a manager membership with full rights
func TestResolver_LinkOnly(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.user(t, "u3", persistence.Document{"email": "mia@example.com", "name": "Mia", "businessId": "b1"})
	f.set(t, persistence.LinkPath("u3", "b1"), persistence.Document{"businessId": "b1", "role": "manager"})

	ok, err := f.resolver.VerifyAccess(context.Background(), "u3", "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	m, _ := f.assertConsistent(t, "u3", "b1", identity.RoleManager)
	assert.True(t, m.Permissions.CanDelete)
	assert.True(t, m.Permissions.CanApprove)
	assert.False(t, m.Permissions.RequiresApproval)
	assert.Equal(t, "mia@example.com", m.Email)
	assert.Equal(t, "Mia", m.Name)
}

// A profile role alone creates both records with officer restrictions
func TestResolver_ProfileRole(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.user(t, "u4", persistence.Document{"email": "u4@example.com", "role": "officer"})

	ok, err := f.resolver.VerifyAccess(context.Background(), "u4", "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	m, _ := f.assertConsistent(t, "u4", "b1", identity.RoleOfficer)
	assert.True(t, m.Permissions.RequiresApproval)
	assert.False(t, m.Permissions.CanApprove)
	assert.False(t, m.Permissions.CanDelete)
	assert.False(t, m.Permissions.CanCreateAccounts)

	u, err := f.repo.FindUser(context.Background(), "u4")
	require.NoError(t, err)
	assert.Equal(t, "b1", u.BusinessID)
}

// The profile role grants access even when the pointer names another
// business; the pointer itself is left alone
func TestResolver_ProfileRoleForAnotherBusiness(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.business(t, "b2", "owner")
	f.user(t, "u5", persistence.Document{"role": "manager", "businessId": "b2"})

	d, err := f.resolver.Resolve(context.Background(), "u5", "b1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, identity.EvidenceProfileRole, d.Evidence)
	assert.False(t, d.Repairs.BusinessPointerSet)
	f.assertConsistent(t, "u5", "b1", identity.RoleManager)

	u, err := f.repo.FindUser(context.Background(), "u5")
	require.NoError(t, err)
	assert.Equal(t, "b2", u.BusinessID)

	again, err := f.resolver.Resolve(context.Background(), "u5", "b1")
	require.NoError(t, err)
	assert.True(t, again.Granted)
	assert.Zero(t, again.Repairs.Writes())
}

// An owner whose user-side link carries another role still gets an admin
// membership on their own business
func TestResolver_OwnerWithOfficerLink(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.set(t, persistence.LinkPath("owner", "b1"), persistence.Document{"businessId": "b1", "role": "officer"})

	d, err := f.resolver.Resolve(context.Background(), "owner", "b1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.True(t, d.Repairs.MembershipCreated)
	assert.False(t, d.Repairs.LinkCreated)

	m, err := f.repo.FindMembership(context.Background(), "b1", "owner")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, m.Role)
	assert.Equal(t, identity.FullPermissions(), m.Permissions)
}

func TestResolver_FailClosed(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, f *fixture)
		userID     string
		businessID string
	}{
		{
			name:       "business missing",
			setup:      func(t *testing.T, f *fixture) { f.user(t, "u1", persistence.Document{"role": "admin"}) },
			userID:     "u1",
			businessID: "missing",
		},
		{
			name:       "no evidence",
			setup:      func(t *testing.T, f *fixture) { f.business(t, "b1", "owner") },
			userID:     "stranger",
			businessID: "b1",
		},
		{
			name: "profile without role",
			setup: func(t *testing.T, f *fixture) {
				f.business(t, "b1", "owner")
				f.user(t, "u1", persistence.Document{"email": "u1@example.com"})
			},
			userID:     "u1",
			businessID: "b1",
		},
		{
			name:       "empty business id",
			setup:      func(t *testing.T, f *fixture) {},
			userID:     "u1",
			businessID: "",
		},
		{
			name:       "malformed business id",
			setup:      func(t *testing.T, f *fixture) {},
			userID:     "u1",
			businessID: "b1/users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)
			before := f.store.Stats().Writes

			ok, err := f.resolver.VerifyAccess(context.Background(), tt.userID, tt.businessID)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, before, f.store.Stats().Writes, "a denial performs no writes")
		})
	}
}

func TestResolver_ConvergesAndIsIdempotent(t *testing.T) {
	setups := map[string]func(t *testing.T, f *fixture){
		"owner": func(t *testing.T, f *fixture) {},
		"membership": func(t *testing.T, f *fixture) {
			f.set(t, persistence.MembershipPath("b1", "u1"), persistence.Document{"userId": "u1", "role": "manager"})
		},
		"link": func(t *testing.T, f *fixture) {
			f.set(t, persistence.LinkPath("u1", "b1"), persistence.Document{"businessId": "b1", "role": "officer"})
		},
		"profile role": func(t *testing.T, f *fixture) {
			f.user(t, "u1", persistence.Document{"role": "manager"})
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			owner := "owner"
			if name == "owner" {
				owner = "u1"
			}
			f.business(t, "b1", owner)
			if name != "profile role" {
				f.user(t, "u1", persistence.Document{"email": "u1@example.com"})
			}
			setup(t, f)

			first, err := f.resolver.Resolve(context.Background(), "u1", "b1")
			require.NoError(t, err)
			require.True(t, first.Granted)

			m, l := f.assertConsistent(t, "u1", "b1", first.Role)
			assert.Equal(t, m.Role, l.Role)

			writes := f.store.Stats().Writes
			second, err := f.resolver.Resolve(context.Background(), "u1", "b1")
			require.NoError(t, err)
			assert.True(t, second.Granted)
			assert.Zero(t, second.Repairs.Writes())
			assert.Equal(t, writes, f.store.Stats().Writes, "a consistent pair is not rewritten")
		})
	}
}

func TestResolver_ReadFailureDenies(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.faults.Fail(storetest.OpGet, persistence.MembershipPath("b1", "u1"), nil)

	ok, err := f.resolver.VerifyAccess(context.Background(), "u1", "b1")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrTransientStore)
	assert.False(t, ok)
}

func TestResolver_RepairFailureKeepsGrant(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.set(t, persistence.LinkPath("u1", "b1"), persistence.Document{"businessId": "b1", "role": "manager"})
	f.faults.FailTimes(storetest.OpSet, persistence.MembershipPath("b1", "u1"), nil, 1)

	d, err := f.resolver.Resolve(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Error(t, d.RepairErr)
	assert.False(t, d.Repairs.MembershipCreated)
	assert.Equal(t, 1, f.logs.FilterMessage("Relation repair failed, access still granted").Len())

	// the next check completes the missing half
	d, err = f.resolver.Resolve(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.NoError(t, d.RepairErr)
	assert.True(t, d.Repairs.MembershipCreated)
	f.assertConsistent(t, "u1", "b1", identity.RoleManager)
}

func TestResolver_ReconcileBusiness(t *testing.T) {
	f := newFixture(t)
	f.business(t, "b1", "owner")
	f.user(t, "owner", persistence.Document{"email": "owner@example.com"})
	f.user(t, "u1", persistence.Document{"email": "u1@example.com", "businessId": "b1"})
	f.user(t, "u2", persistence.Document{"email": "u2@example.com"})
	f.set(t, persistence.MembershipPath("b1", "u1"), persistence.Document{"userId": "u1", "role": "manager"})
	f.set(t, persistence.MembershipPath("b1", "u2"), persistence.Document{"userId": "u2", "role": "officer"})
	f.set(t, persistence.LinkPath("u2", "b1"), persistence.Document{"businessId": "b1", "role": "officer"})

	report, err := f.resolver.ReconcileBusiness(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Members)
	// owner: membership, link, pointer; u1: link; u2: pointer
	assert.Equal(t, 3, report.Repaired)
	assert.Equal(t, 5, report.Writes)
	assert.Zero(t, report.Failed)

	f.assertConsistent(t, "owner", "b1", identity.RoleAdmin)
	f.assertConsistent(t, "u1", "b1", identity.RoleManager)
	f.assertConsistent(t, "u2", "b1", identity.RoleOfficer)

	again, err := f.resolver.ReconcileBusiness(context.Background(), "b1")
	require.NoError(t, err)
	assert.Zero(t, again.Writes)
}

func TestResolver_ReconcileBusiness_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.ReconcileBusiness(context.Background(), "nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestResolver_AccessibleBusinesses(t *testing.T) {
	f := newFixture(t)
	f.set(t, persistence.LinkPath("u1", "b2"), persistence.Document{"businessId": "b2", "role": "officer"})
	f.set(t, persistence.LinkPath("u1", "b1"), persistence.Document{"businessId": "b1", "role": "manager"})

	links, err := f.resolver.AccessibleBusinesses(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "b1", links[0].BusinessID)
	assert.Equal(t, identity.RoleOfficer, links[1].Role)
}

// MockRelationRepository is a testify mock of identity.RelationRepository
type MockRelationRepository struct {
	mock.Mock
}

func (m *MockRelationRepository) FindBusiness(ctx context.Context, businessID string) (*identity.Business, error) {
	args := m.Called(ctx, businessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Business), args.Error(1)
}

func (m *MockRelationRepository) FindUser(ctx context.Context, userID string) (*identity.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *MockRelationRepository) FindMembership(ctx context.Context, businessID, userID string) (*identity.BusinessMembership, error) {
	args := m.Called(ctx, businessID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.BusinessMembership), args.Error(1)
}

func (m *MockRelationRepository) FindLink(ctx context.Context, userID, businessID string) (*identity.UserBusinessLink, error) {
	args := m.Called(ctx, userID, businessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.UserBusinessLink), args.Error(1)
}

func (m *MockRelationRepository) ListMemberships(ctx context.Context, businessID string) ([]identity.BusinessMembership, error) {
	args := m.Called(ctx, businessID)
	return args.Get(0).([]identity.BusinessMembership), args.Error(1)
}

func (m *MockRelationRepository) ListLinks(ctx context.Context, userID string) ([]identity.UserBusinessLink, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]identity.UserBusinessLink), args.Error(1)
}

func (m *MockRelationRepository) EnsureLink(ctx context.Context, spec identity.LinkSpec) (identity.RepairReport, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(identity.RepairReport), args.Error(1)
}

func TestResolver_EnsureLinkReceivesOwnerSpec(t *testing.T) {
	repo := new(MockRelationRepository)
	repo.On("FindBusiness", mock.Anything, "b1").Return(&identity.Business{ID: "b1", OwnerID: "u1"}, nil)
	repo.On("FindUser", mock.Anything, "u1").Return(nil, errors.New("profile store down"))
	repo.On("EnsureLink", mock.Anything, mock.MatchedBy(func(spec identity.LinkSpec) bool {
		return spec.Evidence == identity.EvidenceOwner && spec.Role == identity.RoleAdmin && spec.CreatedAt.Equal(testNow)
	})).Return(identity.RepairReport{}, nil)

	r := NewResolver(repo, WithClock(testclock.NewClock(testNow)))
	ok, err := r.VerifyAccess(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.True(t, ok, "an unreadable owner profile does not block the owner")
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "FindMembership", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_UserReadFailureWithoutOtherEvidence(t *testing.T) {
	repo := new(MockRelationRepository)
	repo.On("FindBusiness", mock.Anything, "b1").Return(&identity.Business{ID: "b1", OwnerID: "owner"}, nil)
	repo.On("FindMembership", mock.Anything, "b1", "u1").Return(nil, shared.ErrNotFound)
	repo.On("FindLink", mock.Anything, "u1", "b1").Return(nil, shared.ErrNotFound)
	repo.On("FindUser", mock.Anything, "u1").Return(nil, shared.NewStoreError("get", "users/u1", context.DeadlineExceeded))

	ok, err := NewResolver(repo).VerifyAccess(context.Background(), "u1", "b1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, shared.ErrTransientStore)
	repo.AssertNotCalled(t, "EnsureLink", mock.Anything, mock.Anything)
}
