package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alphabot-ai/slashnews/internal/apperror"
	"github.com/alphabot-ai/slashnews/internal/config"
	"github.com/alphabot-ai/slashnews/internal/store"
	"github.com/alphabot-ai/slashnews/internal/store/redis/redistest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, store.Store, *clockwork.FakeClock) {
	t.Helper()
	st, _ := redistest.New(t)
	clock := clockwork.NewFakeClock()
	svc, err := NewService(st, clock, config.DefaultOptions())
	require.NoError(t, err)
	return svc, st, clock
}

func TestCreateAccountAndLogin(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.CreateAccount(ctx, "Alice", "correct horse")
	require.NoError(t, err)
	assert.Len(t, token, 40)

	user, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "Alice", user.Username)
	assert.Equal(t, int64(1), user.Karma)
	assert.Len(t, user.Salt, 40)
	assert.Len(t, user.Password, 40)
	assert.NotEqual(t, "correct horse", user.Password)

	raw, err := st.Get(ctx, "username.to.id:alice")
	require.NoError(t, err)
	assert.Equal(t, "1", raw)

	auth, secret, err := svc.VerifyCredentials(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, token, auth)
	assert.Equal(t, user.APISecret, secret)

	_, _, err = svc.VerifyCredentials(ctx, "alice", "wrong horse")
	assert.ErrorIs(t, err, apperror.ErrNoMatch)
	_, _, err = svc.VerifyCredentials(ctx, "bob", "correct horse")
	assert.ErrorIs(t, err, apperror.ErrNoMatch)
}

func TestCreateAccountRejects(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "alice", "correct horse")
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, "ALICE", "another password")
	assert.ErrorIs(t, err, apperror.ErrUsernameTaken)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = svc.CreateAccount(ctx, "", "correct horse")
	assert.ErrorIs(t, err, apperror.ErrMissingCredentials)

	_, err = svc.CreateAccount(ctx, "bob", "short")
	assert.ErrorIs(t, err, apperror.ErrPasswordTooShort)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Contains(t, err.Error(), "Min length: 8")
}

func TestAuthenticateWithoutSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = svc.Authenticate(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRotateAuthToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	old, err := svc.CreateAccount(ctx, "alice", "correct horse")
	require.NoError(t, err)

	fresh, err := svc.RotateAuthToken(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	user, err := svc.Authenticate(ctx, old)
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = svc.Authenticate(ctx, fresh)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, fresh, user.Auth)
}

func TestIncrementKarmaInterval(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "alice", "correct horse")
	require.NoError(t, err)
	user, err := svc.GetUserByID(ctx, 1)
	require.NoError(t, err)

	user, applied, err := svc.IncrementKarma(ctx, user, 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, applied, "interval has not elapsed since account creation")
	assert.Equal(t, int64(1), user.Karma)

	clock.Advance(time.Hour + time.Second)
	user, applied, err = svc.IncrementKarma(ctx, user, 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(2), user.Karma)

	user, applied, err = svc.IncrementKarma(ctx, user, 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, applied)

	user, applied, err = svc.IncrementKarma(ctx, user, -5, 0)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(-3), user.Karma)

	stored, err := svc.GetUserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, user.Karma, stored.Karma)
	assert.Equal(t, user.KarmaIncrTime.Unix(), stored.KarmaIncrTime.Unix())
}

func TestUpdateProfileAndFlags(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "alice", "correct horse")
	require.NoError(t, err)
	user, err := svc.GetUserByUsername(ctx, "Alice")
	require.NoError(t, err)

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	user, err = svc.UpdateProfile(ctx, user, string(long), "alice@example.com", "")
	require.NoError(t, err)
	assert.Len(t, user.About, 4095)

	_, err = svc.UpdateProfile(ctx, user, "", "", "tiny")
	assert.ErrorIs(t, err, apperror.ErrPasswordTooShort)

	_, err = svc.UpdateProfile(ctx, user, "hi", "", "battery staple")
	require.NoError(t, err)
	_, _, err = svc.VerifyCredentials(ctx, "alice", "battery staple")
	require.NoError(t, err)

	assert.False(t, user.IsAdmin())
	user, err = svc.AddFlags(ctx, user.ID, "a")
	require.NoError(t, err)
	user, err = svc.AddFlags(ctx, user.ID, "ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", user.Flags)
	assert.True(t, user.IsAdmin())
}

func TestGetUsersSkipsMissing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "alice", "correct horse")
	require.NoError(t, err)

	users, err := svc.GetUsers(ctx, []int64{1, 99})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, "alice", users[1].Username)

	_, err = svc.GetUserByID(ctx, 99)
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)
}

func TestResetReplies(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "alice", "correct horse")
	require.NoError(t, err)
	_, err = st.HIncrBy(ctx, store.UserKey(1), "replies", 3)
	require.NoError(t, err)

	user, err := svc.GetUserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), user.Replies)

	require.NoError(t, svc.ResetReplies(ctx, 1))
	user, err = svc.GetUserByID(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, user.Replies)
}
