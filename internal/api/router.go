package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/coin-hopper/internal/database"
	"github.com/wfunc/coin-hopper/internal/display"
	"github.com/wfunc/coin-hopper/internal/engine"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/ledger"
	"github.com/wfunc/coin-hopper/internal/metrics"
	"github.com/wfunc/coin-hopper/internal/middleware"
	"github.com/wfunc/coin-hopper/internal/service"
	"github.com/wfunc/coin-hopper/internal/utils"
	"github.com/wfunc/coin-hopper/internal/websocket"
)

// Controller 路由依赖的引擎能力
type Controller interface {
	Balance() int64
	Status() engine.PayoutStatus
	RequestPayout(amount uint32) (*engine.PayoutTicket, error)
	Log() *ledger.SystemLog
}

// Options 路由依赖，除 Controller 外都可以为空
type Options struct {
	Controller Controller
	Display    *display.Manager
	Metrics    *metrics.Metrics
	Hub        *websocket.Hub
	WSPath     string
	Recorder   *service.Recorder
	SerialLogs *service.SerialLogService
	DB         *gorm.DB
	Auth       *middleware.AuthMiddleware
	Limiter    *middleware.RateLimiter
	Logger     *zap.Logger
}

// Router API路由器
type Router struct {
	router *gin.Engine
	opts   Options
	payout *PayoutHandler
	logs   *LogHandler
	serial *SerialLogAPI
	auth   *middleware.AuthMiddleware
	log    *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Auth == nil {
		opts.Auth = middleware.NewAuthMiddleware(nil)
	}
	if opts.Display == nil {
		// 只用于计算显示值
		opts.Display = display.NewManager(display.DefaultConfig(), nil, nil, nil)
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}

	router := gin.New()

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(opts.Logger))

	r := &Router{
		router: router,
		opts:   opts,
		payout: NewPayoutHandler(opts.Controller, opts.Display, opts.Logger),
		logs:   NewLogHandler(opts.Controller, opts.Recorder),
		auth:   opts.Auth,
		log:    opts.Logger,
	}
	if opts.SerialLogs != nil {
		r.serial = NewSerialLogAPI(opts.SerialLogs)
	}

	r.setupRoutes()

	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.router.GET("/health", r.healthCheck)

	if r.opts.Metrics != nil {
		r.router.GET("/metrics", gin.WrapH(r.opts.Metrics.Handler()))
	}
	if r.opts.Hub != nil {
		r.router.GET(r.opts.WSPath, gin.WrapF(r.opts.Hub.ServeWS))
	}

	operator := r.auth.RequireRole(utils.RoleOperator)

	v1 := r.router.Group("/api/v1")
	{
		v1.GET("/credit", r.payout.GetCredit)
		v1.GET("/payout", r.payout.GetStatus)

		// 出币需要操作员令牌，并限流
		payout := []gin.HandlerFunc{operator}
		if r.opts.Limiter != nil {
			payout = append(payout, r.opts.Limiter.Middleware())
		}
		payout = append(payout, r.payout.RequestPayout)
		v1.POST("/payout", payout...)

		v1.GET("/logs", r.logs.GetLogs)

		// 持久化关闭时不注册历史查询
		if r.opts.Recorder != nil {
			v1.GET("/logs/history", r.logs.GetHistory)
			v1.POST("/logs/history/cleanup", operator, r.logs.CleanupHistory)
			v1.GET("/payouts", r.logs.GetPayouts)
			v1.GET("/payouts/stats", r.logs.GetPayoutStats)
			v1.GET("/payouts/:id", r.logs.GetPayout)
		}

		if r.serial != nil {
			r.serial.RegisterRoutes(v1, operator)
		}
	}

	// 404处理
	r.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    apperrors.ErrNotFound.String(),
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := r.opts.Controller.Status()
	resp := gin.H{
		"status":       "healthy",
		"balance":      r.opts.Controller.Balance(),
		"payout_state": status.State,
		"database":     "disabled",
	}
	if r.opts.Hub != nil {
		resp["ws_clients"] = r.opts.Hub.GetOnlineCount()
	}

	if r.opts.DB != nil {
		if !database.IsConnected(r.opts.DB) {
			resp["status"] = "unhealthy"
			resp["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}

	c.JSON(http.StatusOK, resp)
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.router
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.router
}

// respondError 按错误码写出错误响应
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}
	// 交给访问日志记录，5xx 附带调用栈
	_ = c.Error(appErr)
	c.JSON(appErr.HTTPStatus(), gin.H{
		"code":      appErr.Code.String(),
		"message":   appErr.Message,
		"details":   appErr.Details,
		"retryable": apperrors.IsRetryable(appErr),
	})
}
