package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	wlog "github.com/Gopher0727/Warden/middleware/log"
)

func observed(level logger.LogLevel) (*zapGormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return newGormLogger(zap.New(core), level), logs
}

func sqlOf(s string, rows int64) func() (string, int64) {
	return func() (string, int64) { return s, rows }
}

func TestGormLogger_Trace(t *testing.T) {
	l, logs := observed(logger.Warn)
	ctx := wlog.WithTraceID(context.Background(), "trace-1")

	l.Trace(ctx, time.Now(), sqlOf("SELECT 1", 1), nil)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), sqlOf("SELECT * FROM users", 0), gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), sqlOf("UPDATE media_files", 0), errors.New("connection reset"))
	l.Trace(ctx, time.Now().Add(-time.Second), sqlOf("SELECT pg_sleep(1)", 1), nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "UPDATE media_files", entries[0].ContextMap()["sql"])
	assert.Equal(t, "trace-1", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "slow query", entries[1].Message)
}

func TestGormLogger_LogMode(t *testing.T) {
	l, logs := observed(logger.Warn)

	silent := l.LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now(), sqlOf("DELETE", 1), errors.New("boom"))
	silent.Warn(context.Background(), "ignored %d", 1)
	assert.Zero(t, logs.Len())

	verbose := l.LogMode(logger.Info)
	verbose.Trace(context.Background(), time.Now(), sqlOf("SELECT 2", 1), nil)
	verbose.Info(context.Background(), "migrated %s", "users")
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "migrated users", logs.AllUntimed()[1].Message)

	// the original keeps its level
	l.Info(context.Background(), "hidden")
	assert.Equal(t, 2, logs.Len())
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel("SILENT"))
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Warn, gormLogLevel(""))
}
