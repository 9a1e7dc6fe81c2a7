package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/handlers"
	"github.com/Gopher0727/Warden/internal/utils"
)

// AsyncMiddleware 把后续处理链交给协程池执行, 调用方同步等待结果.
// 用于上传这类 CPU 和内存密集的请求: 同时处理的数量受池大小限制, 其余请求排队.
// 等待期间只有 worker 操作 gin.Context, 因此不存在并发访问.
func AsyncMiddleware(pool *utils.WorkerPool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool == nil {
			c.Next()
			return
		}

		done := make(chan struct{})
		task := func(context.Context) {
			defer close(done)
			c.Next()
		}

		// 队列满时阻塞, 客户端断开则放弃排队
		if err := pool.Submit(c.Request.Context(), task); err != nil {
			logger.Warn("request not queued", zap.String("path", c.FullPath()), zap.Error(err))
			handlers.Fail(c, http.StatusServiceUnavailable, "server is busy, try again later")
			return
		}
		<-done

		// 处理链 panic 时由协程池恢复, 这里补一个响应
		if !c.Writer.Written() && !c.IsAborted() {
			handlers.Fail(c, http.StatusInternalServerError, "internal server error")
		}
	}
}
