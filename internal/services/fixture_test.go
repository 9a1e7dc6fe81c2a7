package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/pkg/blob"
	"github.com/Gopher0727/Warden/internal/pkg/metrics"
	"github.com/Gopher0727/Warden/internal/repositories/memory"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/middleware/jwt"
	"github.com/Gopher0727/Warden/utils/snowflake"
)

const testSecret = "test-secret-test-secret-test-secret!"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// inlineJobs runs jobs on the caller's goroutine.
type inlineJobs struct{}

func (inlineJobs) Submit(ctx context.Context, job utils.Job) error {
	job(ctx)
	return nil
}

type recordedNotification struct {
	UserID uint
	Type   string
	Data   any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []recordedNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID uint, eventType string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recordedNotification{UserID: userID, Type: eventType, Data: data})
	return nil
}

func (n *recordingNotifier) all() []recordedNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedNotification(nil), n.sent...)
}

type fixture struct {
	cfg   *config.Config
	clock *fakeClock

	users    *memory.Users
	invites  *memory.Invites
	tokens   *memory.RefreshTokens
	media    *memory.Media
	blobs    *blob.Local
	blobRoot string

	notifier *recordingNotifier
	metrics  *metrics.Metrics

	inviteSvc *InviteService
	tokenSvc  *TokenService
	authSvc   *AuthService
	userSvc   *UserService
	mediaSvc  *MediaService
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:             testSecret,
			Issuer:             "warden",
			Audience:           "warden-api",
			AccessTokenMinutes: 15,
			RefreshTokenDays:   7,
			ClockSkew:          30 * time.Second,
		},
		Auth: config.AuthConfig{
			MaxFailedAttempts: 3,
			LockoutMinutes:    15,
			DefaultRole:       models.RoleUser,
			AdminRole:         models.RoleAdministrator,
			BcryptCost:        bcrypt.MinCost,
		},
		Invite: config.InviteConfig{
			CodeLength:            8,
			CodeAlphabet:          "ABCDEFGHJKLMNPQRSTUVWXYZ123456789",
			CodeExpirationHours:   24,
			EmailExpirationHours:  72,
			MaxActiveCodesPerUser: 10,
		},
		Media: config.MediaConfig{
			MaxUploadBytes:   1 << 20,
			AllowedMIMETypes: []string{"image/png", "image/jpeg", "image/gif", "text/plain", "application/pdf"},
			ThumbnailMaxEdge: 64,
		},
		Sweep: config.SweepConfig{
			Schedule:  "@every 1h",
			BatchSize: 50,
			LockTTL:   time.Minute,
		},
	}
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	root := t.TempDir()
	local, err := blob.NewLocal(root)
	require.NoError(t, err)
	ids, err := snowflake.NewGenerator(1)
	require.NoError(t, err)

	f := &fixture{
		cfg:      cfg,
		clock:    &fakeClock{now: time.Now().UTC().Truncate(time.Second)},
		users:    memory.NewUsers(bcrypt.MinCost),
		invites:  memory.NewInvites(),
		tokens:   memory.NewRefreshTokens(),
		media:    memory.NewMedia(),
		blobs:    local,
		blobRoot: root,
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	logger := zap.NewNop()
	tm := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessTokenTTL())

	f.inviteSvc = NewInviteService(f.invites, &cfg.Invite, nil, f.metrics, logger)
	f.inviteSvc.now = f.clock.Now
	f.tokenSvc = NewTokenService(f.tokens, f.users, tm, &cfg.JWT, nil, f.metrics, logger)
	f.tokenSvc.now = f.clock.Now
	f.authSvc = NewAuthService(f.users, f.inviteSvc, f.tokenSvc, &cfg.Auth, nil, f.metrics, logger)
	f.authSvc.now = f.clock.Now
	f.userSvc = NewUserService(f.users, logger)
	f.mediaSvc = NewMediaService(f.media, f.blobs, ids, inlineJobs{}, f.notifier, nil, &cfg.Media, f.metrics, logger)
	f.mediaSvc.now = f.clock.Now
	return f
}

// createUser registers a user directly in the store with the default role.
func (f *fixture) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{UserName: name, Email: name + "@example.com", EmailConfirmed: true, LockoutEnabled: true}
	require.NoError(t, f.users.Create(context.Background(), u, "passw0rd-"+name))
	require.NoError(t, f.users.AddToRole(context.Background(), u.ID, models.RoleUser))
	return u
}
