package usecase

import (
	"context"
	"testing"
	"time"

	"shopassist/internal/adapter/store"
	"shopassist/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSessionFixture(t *testing.T) (*SessionService, *store.SessionStore, *memMirror) {
	t.Helper()
	repo := store.NewSessionStore(newTestDB(t))
	mirror := newMemMirror()
	return NewSessionService(repo, mirror, zap.NewNop()), repo, mirror
}

func TestResolveSessionReusesGuestSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSessionFixture(t)

	first, err := svc.ResolveSession(ctx, "s1", entity.GuestIdentity, "g1")
	require.NoError(t, err)
	assert.True(t, first.Session.IsGuest)
	assert.Empty(t, first.CustomerID)

	again, err := svc.ResolveSession(ctx, "s1", "", "g1")
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, again.Session.ID)
}

func TestResolveSessionClaimsGuestSession(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newSessionFixture(t)

	_, err := svc.ResolveSession(ctx, "s1", entity.GuestIdentity, "g1")
	require.NoError(t, err)

	res, err := svc.ResolveSession(ctx, "s1", "shopper@example.com", "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", res.Session.ID)
	assert.NotEmpty(t, res.CustomerID)

	stored, err := repo.FindSession(ctx, "s1", "g1")
	require.NoError(t, err)
	assert.False(t, stored.IsGuest)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, res.CustomerID, *stored.CustomerID)
}

func TestResolveSessionAvoidsForeignSessionID(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSessionFixture(t)

	owner, err := svc.ResolveSession(ctx, "s1", "a@example.com", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", owner.Session.ID)

	other, err := svc.ResolveSession(ctx, "s1", "b@example.com", "c1")
	require.NoError(t, err)
	assert.NotEqual(t, "c1", other.Session.ID)
	assert.NotEqual(t, owner.CustomerID, other.CustomerID)

	// Same id in another shop collides on the primary key.
	elsewhere, err := svc.ResolveSession(ctx, "s2", entity.GuestIdentity, "c1")
	require.NoError(t, err)
	assert.NotEqual(t, "c1", elsewhere.Session.ID)
}

func TestMigrateGuestSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, mirror := newSessionFixture(t)

	_, err := svc.ResolveSession(ctx, "s1", entity.GuestIdentity, "g1")
	require.NoError(t, err)
	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, svc.AppendTurn(ctx, entity.TurnRecord{
		SessionID: "g1", UserText: "hello", UserAt: base,
		AssistantText: "hi there", AssistantAt: base.Add(time.Second),
	}))
	require.NoError(t, mirror.Append(ctx, "s1", "g1", entity.MirrorMessage{Role: entity.RoleUser, Content: "hello"}))

	target, err := svc.MigrateGuestSession(ctx, "s1", "g1", "shopper@example.com", "c1")
	require.NoError(t, err)

	history, err := svc.History(ctx, target.Session.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)

	msgs, _ := mirror.Messages(ctx, "s1", "c1")
	assert.Len(t, msgs, 1)
	left, _ := mirror.Messages(ctx, "s1", "g1")
	assert.Empty(t, left)

	again, err := svc.MigrateGuestSession(ctx, "s1", "g1", "shopper@example.com", "c1")
	require.NoError(t, err)
	assert.Equal(t, target.Session.ID, again.Session.ID)
	history, err = svc.History(ctx, target.Session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHistoryHonoursLimit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSessionFixture(t)
	_, err := svc.ResolveSession(ctx, "s1", entity.GuestIdentity, "g1")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, svc.AppendUserMessage(ctx, "g1", string(rune('a'+i)), at))
	}

	history, err := svc.History(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].Content)
	assert.Equal(t, "c", history[1].Content)
}
