package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/pkg/blob"
	"github.com/Gopher0727/Warden/internal/pkg/metrics"
	wredis "github.com/Gopher0727/Warden/internal/pkg/redis"
	"github.com/Gopher0727/Warden/internal/repositories"
	"github.com/Gopher0727/Warden/internal/repositories/memory"
	"github.com/Gopher0727/Warden/internal/services"
	"github.com/Gopher0727/Warden/internal/storage"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/middleware/jwt"
	logger "github.com/Gopher0727/Warden/middleware/log"
	"github.com/Gopher0727/Warden/pkg/mq"
	"github.com/Gopher0727/Warden/pkg/ws"
	"github.com/Gopher0727/Warden/utils/snowflake"
)

// app 各命令共用的依赖
type app struct {
	cfg *config.Config
	log *logger.Logger

	db        *gorm.DB
	redis     *wredis.Client
	publisher mq.Publisher
	metrics   *metrics.Metrics
	blobs     blob.Provider
	jobs      *utils.WorkerPool
	hub       *ws.Hub
	tokens    *jwt.TokenManager

	inviteSvc *services.InviteService
	tokenSvc  *services.TokenService
	authSvc   *services.AuthService
	userSvc   *services.UserService
	mediaSvc  *services.MediaService
	sweeper   *services.Sweeper
}

type stores struct {
	users   services.CredentialStore
	invites services.InviteStore
	tokens  services.RefreshTokenStore
	media   services.MediaStore
}

// newApp 按配置初始化存储、缓存、消息与服务层. 调用方负责 close.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	zlog := a.log.Logger

	if cfg.Redis.Enabled {
		client, err := wredis.NewClient(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis 初始化失败: %w", err)
		}
		a.redis = client
	}

	st, err := a.openStores()
	if err != nil {
		return err
	}

	a.publisher = mq.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka, zlog.Named("audit"))
		if err != nil {
			// 审计事件是尽力而为的, Kafka 不可用时降级为不发送
			zlog.Warn("kafka producer unavailable, audit events disabled", zap.Error(err))
		} else {
			a.publisher = producer
		}
	}

	a.blobs, err = blob.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("对象存储初始化失败: %w", err)
	}

	ids, err := snowflake.NewGenerator(cfg.Snowflake.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake 初始化失败: %w", err)
	}

	a.jobs = utils.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, zlog.Named("jobs"))
	a.jobs.Start()

	a.hub = ws.NewHub(a.goRedis(), zlog.Named("ws"))

	a.tokens = jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessTokenTTL())

	a.inviteSvc = services.NewInviteService(st.invites, &cfg.Invite, a.publisher, a.metrics, zlog.Named("invites"))
	a.tokenSvc = services.NewTokenService(st.tokens, st.users, a.tokens, &cfg.JWT, a.publisher, a.metrics, zlog.Named("tokens"))
	a.authSvc = services.NewAuthService(st.users, a.inviteSvc, a.tokenSvc, &cfg.Auth, a.publisher, a.metrics, zlog.Named("auth"))
	a.userSvc = services.NewUserService(st.users, zlog.Named("users"))
	a.mediaSvc = services.NewMediaService(st.media, a.blobs, ids, a.jobs, a.hub, a.publisher, &cfg.Media, a.metrics, zlog.Named("media"))

	var locker services.Locker
	if a.redis != nil {
		locker = a.redis
	}
	a.sweeper = services.NewSweeper(a.inviteSvc, a.tokenSvc, a.mediaSvc, locker, &cfg.Sweep, zlog.Named("sweep"))
	return nil
}

func (a *app) goRedis() *goredis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.GetClient()
}

func (a *app) openStores() (*stores, error) {
	cfg := a.cfg
	switch cfg.Database.Driver {
	case "memory":
		a.log.Warn("using in-memory storage, data is lost on exit")
		return &stores{
			users:   memory.NewUsers(cfg.Auth.BcryptCost),
			invites: memory.NewInvites(),
			tokens:  memory.NewRefreshTokens(),
			media:   memory.NewMedia(),
		}, nil
	default:
		db, err := storage.InitPostgres(&cfg.Postgres, cfg.Database.LogLevel, a.log.Named("gorm"))
		if err != nil {
			return nil, fmt.Errorf("postgres 初始化失败: %w", err)
		}
		a.db = db
		return &stores{
			users:   repositories.NewUserRepository(db, a.goRedis(), cfg.Auth.BcryptCost),
			invites: repositories.NewInviteRepository(db),
			tokens:  repositories.NewRefreshTokenRepository(db),
			media:   repositories.NewMediaRepository(db),
		}, nil
	}
}

// close 逆序释放资源
func (a *app) close() error {
	var errs []error
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.jobs != nil {
		a.jobs.Stop()
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.db != nil {
		errs = append(errs, storage.Close(a.db))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.log.Close())
	return errors.Join(errs...)
}
