package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/repositories"
	"github.com/Gopher0727/Warden/internal/repositories/memory"
)

func registerReq(name string) *RegisterRequest {
	return &RegisterRequest{
		UserName: name,
		Email:    name + "@example.com",
		Password: "correct-horse-1",
	}
}

func TestAuthService_RegisterOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := registerReq("alice")
	req.Email = "  Alice@Example.com "
	resp, err := f.authSvc.Register(ctx, req, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.Equal(t, "alice", resp.User.DisplayName)
	assert.Equal(t, []string{models.RoleUser}, resp.User.Roles)
	require.NotNil(t, resp.Tokens)
	assert.NotEmpty(t, resp.Tokens.AccessToken)

	_, err = f.authSvc.Register(ctx, registerReq("alice"), "")
	assert.ErrorIs(t, err, ErrUserExists)

	dup := registerReq("alice2")
	dup.Email = "ALICE@example.com"
	_, err = f.authSvc.Register(ctx, dup, "")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.authSvc.Register(context.Background(), &RegisterRequest{UserName: "a", Email: "nope", Password: "short"}, "")
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Len(t, Problems(err), 3)
}

func TestAuthService_RegisterInviteOnly(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Auth.InviteOnly = true })
	ctx := context.Background()

	_, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	assert.ErrorIs(t, err, ErrInviteRequired)

	bad := registerReq("alice")
	bad.InviteCode = "ZZZZZZZZ"
	_, err = f.authSvc.Register(ctx, bad, "")
	assert.ErrorIs(t, err, ErrNotFound)

	code, err := f.inviteSvc.GenerateCode(ctx, 1, "", nil)
	require.NoError(t, err)

	req := registerReq("alice")
	req.InviteCode = code.Code
	resp, err := f.authSvc.Register(ctx, req, "")
	require.NoError(t, err)
	assert.False(t, resp.User.EmailConfirmed)

	row, err := f.invites.FindCode(ctx, code.Code)
	require.NoError(t, err)
	require.NotNil(t, row.UsedByUserID)
	assert.Equal(t, resp.User.ID, *row.UsedByUserID)

	again := registerReq("bob")
	again.InviteCode = code.Code
	_, err = f.authSvc.Register(ctx, again, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.users.FindByUserName(ctx, "bob")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestAuthService_RegisterEmailInvite(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Auth.InviteOnly = true
		c.Auth.RequireConfirmedEmail = true
	})
	ctx := context.Background()

	invite, err := f.inviteSvc.GenerateEmailInvite(ctx, "carol@example.com", 1, "", nil)
	require.NoError(t, err)

	wrong := registerReq("dave")
	wrong.InviteToken = invite.Token
	_, err = f.authSvc.Register(ctx, wrong, "")
	assert.ErrorIs(t, err, ErrNotFound)

	req := registerReq("carol")
	req.InviteToken = invite.Token
	resp, err := f.authSvc.Register(ctx, req, "")
	require.NoError(t, err)
	// the invite proves ownership of the address
	assert.True(t, resp.User.EmailConfirmed)
	assert.NotNil(t, resp.Tokens)
}

// racingInvites lets another registration redeem the code between
// validation and redemption.
type racingInvites struct {
	*memory.Invites
}

func (r racingInvites) MarkCodeUsed(ctx context.Context, code string, _ uint, now time.Time) (bool, error) {
	if _, err := r.Invites.MarkCodeUsed(ctx, code, 999, now); err != nil {
		return false, err
	}
	return r.Invites.MarkCodeUsed(ctx, code, 0, now)
}

func TestAuthService_RegisterRollsBackOnLostRace(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Auth.InviteOnly = true })
	ctx := context.Background()

	store := racingInvites{f.invites}
	inviteSvc := NewInviteService(store, &f.cfg.Invite, nil, nil, zap.NewNop())
	authSvc := NewAuthService(f.users, inviteSvc, f.tokenSvc, &f.cfg.Auth, nil, nil, zap.NewNop())

	code, err := inviteSvc.GenerateCode(ctx, 1, "", nil)
	require.NoError(t, err)

	req := registerReq("alice")
	req.InviteCode = code.Code
	_, err = authSvc.Register(ctx, req, "")
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	_, err = f.users.FindByUserName(ctx, "alice")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.Empty(t, f.tokens.All())
}

func TestAuthService_RequireConfirmedEmail(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Auth.RequireConfirmedEmail = true })
	ctx := context.Background()

	resp, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	require.NoError(t, err)
	assert.Nil(t, resp.Tokens)

	_, err = f.authSvc.Login(ctx, &LoginRequest{Login: "alice", Password: "correct-horse-1"}, "")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	// wrong password still reports bad credentials, not the confirmation state
	_, err = f.authSvc.Login(ctx, &LoginRequest{Login: "alice", Password: "wrong-horse-1"}, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	require.NoError(t, err)

	byName, err := f.authSvc.Login(ctx, &LoginRequest{Login: "alice", Password: "correct-horse-1"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, byName.Tokens.RefreshToken)

	byEmail, err := f.authSvc.Login(ctx, &LoginRequest{Login: "ALICE@example.com", Password: "correct-horse-1"}, "")
	require.NoError(t, err)
	assert.Equal(t, byName.User.ID, byEmail.User.ID)

	_, err = f.authSvc.Login(ctx, &LoginRequest{Login: "nobody", Password: "correct-horse-1"}, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Lockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	require.NoError(t, err)
	wrong := &LoginRequest{Login: "alice", Password: "wrong-horse-1"}
	right := &LoginRequest{Login: "alice", Password: "correct-horse-1"}

	for range 2 {
		_, err = f.authSvc.Login(ctx, wrong, "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = f.authSvc.Login(ctx, wrong, "")
	assert.ErrorIs(t, err, ErrLockedOut)

	// correct password does not bypass the lockout
	_, err = f.authSvc.Login(ctx, right, "")
	assert.ErrorIs(t, err, ErrLockedOut)

	f.clock.Advance(16 * time.Minute)
	_, err = f.authSvc.Login(ctx, right, "")
	require.NoError(t, err)

	u, err := f.users.FindByUserName(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, u.AccessFailedCount)
}

func TestAuthService_SuccessResetsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	require.NoError(t, err)
	wrong := &LoginRequest{Login: "alice", Password: "wrong-horse-1"}
	right := &LoginRequest{Login: "alice", Password: "correct-horse-1"}

	for range 5 {
		_, err = f.authSvc.Login(ctx, wrong, "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = f.authSvc.Login(ctx, wrong, "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = f.authSvc.Login(ctx, right, "")
		require.NoError(t, err)
	}
}

func TestAuthService_UserUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	require.NoError(t, err)
	for range 3 {
		_, _ = f.authSvc.Login(ctx, &LoginRequest{Login: "alice", Password: "wrong-horse-1"}, "")
	}
	_, err = f.authSvc.Login(ctx, &LoginRequest{Login: "alice", Password: "correct-horse-1"}, "")
	require.ErrorIs(t, err, ErrLockedOut)

	require.NoError(t, f.userSvc.Unlock(ctx, resp.User.ID))
	_, err = f.authSvc.Login(ctx, &LoginRequest{Login: "alice", Password: "correct-horse-1"}, "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.userSvc.Unlock(ctx, 4242), ErrNotFound)
}

func TestAuthService_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	require.NoError(t, err)
	second, err := f.authSvc.Login(ctx, &LoginRequest{Login: "alice", Password: "correct-horse-1"}, "")
	require.NoError(t, err)

	require.NoError(t, f.authSvc.Logout(ctx, reg.User.ID, reg.Tokens.RefreshToken, false))
	_, err = f.tokenSvc.Refresh(ctx, reg.Tokens.RefreshToken, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.tokenSvc.Refresh(ctx, second.Tokens.RefreshToken, "")
	require.NoError(t, err)

	require.NoError(t, f.authSvc.Logout(ctx, reg.User.ID, "", true))
	for _, r := range f.tokens.All() {
		assert.True(t, r.IsRevoked)
	}
}

func TestAuthService_Profile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.authSvc.Register(ctx, registerReq("alice"), "")
	require.NoError(t, err)

	p, err := f.authSvc.Profile(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserName)

	_, err = f.authSvc.Profile(ctx, 777)
	assert.True(t, errors.Is(err, ErrNotFound))
}
