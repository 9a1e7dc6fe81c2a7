package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
)

const sweepLockKey = "warden:sweep:lock"

// SweepReport 一次清理的结果
type SweepReport struct {
	Skipped       bool  `json:"skipped"`
	Invites       int64 `json:"invites"`
	RefreshTokens int64 `json:"refresh_tokens"`
	Media         int64 `json:"media"`
}

// Sweeper 周期清理过期邀请、失效刷新令牌与已软删除的媒体.
// 配置了 Locker 时同一时刻只有一个副本执行.
type Sweeper struct {
	invites *InviteService
	tokens  *TokenService
	media   *MediaService
	locker  Locker
	cfg     *config.SweepConfig
	logger  *zap.Logger
	cron    *cron.Cron
}

func NewSweeper(invites *InviteService, tokens *TokenService, media *MediaService, locker Locker, cfg *config.SweepConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		invites: invites,
		tokens:  tokens,
		media:   media,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
	}
}

// RunOnce 执行一轮清理; 各步骤互不影响, 错误合并返回
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("services.Sweeper.RunOnce: %w", err)
		}
		if !ok {
			report.Skipped = true
			return report, nil
		}
		defer func() {
			// 独立 ctx: 调用方 ctx 可能已取消
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.locker.Unlock(unlockCtx, sweepLockKey, token); err != nil {
				s.logger.Warn("release sweep lock", zap.Error(err))
			}
		}()
	}

	var errs []error
	var err error
	if report.Invites, err = s.invites.CleanupExpired(ctx); err != nil {
		errs = append(errs, err)
	}
	if report.RefreshTokens, err = s.tokens.CleanupExpired(ctx); err != nil {
		errs = append(errs, err)
	}
	if report.Media, err = s.media.Sweep(ctx, s.cfg.BatchSize); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("sweep finished",
		zap.Int64("invites", report.Invites),
		zap.Int64("refresh_tokens", report.RefreshTokens),
		zap.Int64("media", report.Media),
	)
	return report, errors.Join(errs...)
}

// Start 按 cfg.Schedule 定时执行
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTTL)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("services.Sweeper.Start: invalid schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("sweeper scheduled", zap.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
