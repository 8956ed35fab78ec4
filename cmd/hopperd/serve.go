package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/coin-hopper/internal/api"
	"github.com/wfunc/coin-hopper/internal/config"
	"github.com/wfunc/coin-hopper/internal/database"
	"github.com/wfunc/coin-hopper/internal/display"
	"github.com/wfunc/coin-hopper/internal/engine"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/hardware"
	"github.com/wfunc/coin-hopper/internal/logger"
	"github.com/wfunc/coin-hopper/internal/metrics"
	"github.com/wfunc/coin-hopper/internal/middleware"
	"github.com/wfunc/coin-hopper/internal/service"
	"github.com/wfunc/coin-hopper/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动服务",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// 加载配置
	if err := config.Init(configPath); err != nil {
		return err
	}
	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		return err
	}
	defer logger.Cleanup()

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		server.logger.Error("服务启动失败", zap.Error(err))
		server.Shutdown()
		return err
	}

	serveErr := server.WaitForShutdown()
	if err := server.Shutdown(); err != nil {
		return err
	}
	return serveErr
}

// Server 服务实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db         *gorm.DB
	recorder   *service.Recorder
	serialLogs *service.SerialLogService

	engine    *engine.Engine
	bridge    *hardware.SerialBridge
	simulator *hardware.Simulator
	segment   display.Segment
	display   *display.Manager

	metrics    *metrics.Metrics
	hub        *websocket.Hub
	httpServer *http.Server

	// 关闭控制
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr chan error
}

// NewServer 创建服务实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:      cfg,
		logger:   logger.GetLogger(),
		ctx:      ctx,
		cancel:   cancel,
		serveErr: make(chan error, 1),
	}
}

// Start 初始化并启动所有组件
func (s *Server) Start() error {
	s.logger.Info("正在启动出币控制服务...",
		zap.String("version", Version),
		zap.String("hardware_mode", s.cfg.Hardware.Mode),
	)

	if err := s.initDatabase(); err != nil {
		return err
	}
	if err := s.initEngine(); err != nil {
		return err
	}
	if err := s.connectHardware(); err != nil {
		return err
	}
	if err := s.startHTTP(); err != nil {
		return err
	}

	s.startLoops()

	// 监听配置变化，只应用日志级别
	config.Watch(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("配置已更新", zap.String("log_level", logger.Level()))
	})

	s.logger.Info("服务启动成功",
		zap.String("http", s.cfg.Server.Address()),
		zap.Bool("database", s.db != nil),
		zap.Bool("websocket", s.hub != nil),
	)
	return nil
}

// initDatabase 初始化数据库与持久化服务
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("数据库未启用，日志只保留在内存中")
		return nil
	}

	if err := database.Init(&s.cfg.Database); err != nil {
		return err
	}
	s.db = database.GetDB()

	if s.cfg.Database.AutoMigrate {
		if err := database.Migrate(s.db, s.logger); err != nil {
			return err
		}
	}

	recCfg := service.RecorderConfig{
		FlushInterval: s.cfg.Database.FlushInterval,
		BatchSize:     s.cfg.Database.BatchSize,
	}
	s.recorder = service.NewRecorder(s.db, recCfg, s.logger)
	if s.cfg.Hardware.Mode == "serial" {
		s.serialLogs = service.NewSerialLogService(s.db, recCfg, s.cfg.Serial.LogFrames, logger.GetModuleLogger(logger.ModuleSerial))
	}
	return nil
}

// initEngine 创建硬件适配和引擎，并把事件接到各个下游
func (s *Server) initEngine() error {
	var motor engine.Motor

	switch s.cfg.Hardware.Mode {
	case "serial":
		serialLog := logger.GetModuleLogger(logger.ModuleSerial)
		s.bridge = hardware.NewSerialBridge(hardware.BridgeConfig{
			Port:              s.cfg.Serial.Port,
			BaudRate:          s.cfg.Serial.BaudRate,
			ReadTimeout:       s.cfg.Serial.ReadTimeout,
			AckTimeout:        s.cfg.Serial.AckTimeout,
			RetryTimes:        s.cfg.Serial.RetryTimes,
			HeartbeatInterval: s.cfg.Serial.HeartbeatInterval,
		}, hardware.OpenSerialPort, serialLog)

		switch {
		case s.serialLogs != nil:
			s.bridge.SetFrameLogger(s.serialLogs)
		case s.cfg.Serial.LogFrames:
			s.bridge.SetFrameLogger(hardware.FrameLoggerFunc(func(direction string, f *hardware.Frame) {
				logger.LogSerialFrame(direction, f.Command, f.Sequence, f.Data)
			}))
		}

		motor = s.bridge
		s.segment = s.bridge

	default:
		s.simulator = hardware.NewSimulator(hardware.SimulatorConfig{
			RelayPin:      s.cfg.Hardware.Pins.Relay,
			ActiveLow:     s.cfg.Hardware.RelayActiveLow,
			PulseInterval: s.cfg.Hardware.PayoutPulseInterval,
			DemoEnabled:   s.cfg.Hardware.Demo.Enabled,
			DemoInterval:  s.cfg.Hardware.Demo.Interval,
			DemoMaxBills:  s.cfg.Hardware.Demo.MaxBills,
		}, logger.GetModuleLogger(logger.ModuleSerial))

		relay, err := hardware.NewRelayMotor(s.simulator, s.cfg.Hardware.Pins.Relay, s.cfg.Hardware.RelayActiveLow)
		if err != nil {
			return err
		}
		motor = relay
		s.segment = display.NewLogSegment(logger.GetModuleLogger(logger.ModuleDisplay))
	}

	e, err := engine.New(engine.Config{
		PulseUnitValue: s.cfg.Hardware.PulseUnitValue,
		CoinValue:      s.cfg.Hardware.CoinValue,
		IntakeInterval: s.cfg.Engine.IntakePollInterval,
		PayoutInterval: s.cfg.Engine.PayoutPollInterval,
		StallTimeout:   s.cfg.Engine.StallTimeout,
		LogCapacity:    s.cfg.Engine.LogCapacity,
	}, motor, engine.WithLogger(logger.GetModuleLogger(logger.ModuleEngine)))
	if err != nil {
		return err
	}
	s.engine = e

	// 脉冲回调接到引擎计数器
	if s.bridge != nil {
		s.bridge.Attach(e.IntakeEdge(), e.FeedbackEdge())
	}
	if s.simulator != nil {
		s.simulator.Attach(e.IntakeEdge(), e.FeedbackEdge())
	}

	s.metrics = metrics.New(nil)
	e.Subscribe(s.metrics)
	e.Subscribe(engine.ListenerFunc(logEvent))

	if s.cfg.WebSocket.Enabled {
		s.hub = websocket.NewHub(websocket.Config{
			ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
			MaxMessageSize:  s.cfg.WebSocket.MaxMessageSize,
			PingInterval:    s.cfg.WebSocket.PingInterval,
			PongTimeout:     s.cfg.WebSocket.PongTimeout,
			WriteTimeout:    s.cfg.WebSocket.WriteTimeout,
		}, e, logger.GetModuleLogger(logger.ModuleAPI))
		e.Subscribe(s.hub)
	}

	if s.recorder != nil {
		e.Log().AddSink(s.recorder)
		e.Subscribe(s.recorder)
	}

	s.display = display.NewManager(display.Config{
		RefreshInterval: s.cfg.Display.RefreshInterval,
		MaxValue:        s.cfg.Display.MaxValue,
		Banner:          s.cfg.Display.Banner,
	}, s.segment, e, logger.GetModuleLogger(logger.ModuleDisplay))

	return nil
}

// connectHardware 打开串口，模拟模式下无需连接
func (s *Server) connectHardware() error {
	if s.bridge == nil {
		return nil
	}
	if err := s.bridge.Connect(); err != nil {
		return err
	}
	// 上电后确保电机停止
	if err := s.bridge.Off(); err != nil {
		s.logger.Warn("初始化时停止电机失败", zap.Error(err))
	}
	return nil
}

// startHTTP 创建路由并开始监听
func (s *Server) startHTTP() error {
	gin.SetMode(s.cfg.Server.Mode)

	jwtManager, err := newJWTManager(&s.cfg.Security.JWT)
	if err != nil {
		return err
	}
	if jwtManager == nil {
		s.logger.Warn("未配置 security.jwt.secret，出币接口不校验令牌")
	}

	var limiter *middleware.RateLimiter
	if rl := s.cfg.Security.RateLimit; rl.Enabled {
		limiter = middleware.NewRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	router := api.NewRouter(api.Options{
		Controller: s.engine,
		Display:    s.display,
		Metrics:    s.metrics,
		Hub:        s.hub,
		WSPath:     s.cfg.WebSocket.Path,
		Recorder:   s.recorder,
		SerialLogs: s.serialLogs,
		DB:         s.db,
		Auth:       middleware.NewAuthMiddleware(jwtManager),
		Limiter:    limiter,
		Logger:     logger.GetModuleLogger(logger.ModuleAPI),
	})

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Address(),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.serveErr <- err
		}
	}()
	return nil
}

// startLoops 启动引擎、显示、推送和模拟硬件的后台任务
func (s *Server) startLoops() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// 正常退出时返回 context.Canceled
		_ = s.engine.Run(s.ctx)
	}()

	if s.cfg.Display.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.display.Run(s.ctx)
		}()
	}

	if s.hub != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.hub.Run(s.ctx)
		}()
	}

	if s.simulator != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.simulator.Run(s.ctx)
		}()
	}
}

// WaitForShutdown 等待退出信号，HTTP服务异常退出时返回其错误
func (s *Server) WaitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
		return nil
	case err := <-s.serveErr:
		s.logger.Error("HTTP服务停止，准备退出", zap.Error(err))
		return err
	}
}

// Shutdown 优雅关闭：停止接收请求，停机出币，熄灭数码管，写完持久化数据
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务...")

	var shutdownErr error

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
			shutdownErr = apperrors.Wrap(err, apperrors.ErrTimeout, "http shutdown")
		}
		cancel()
	}

	// 取消主上下文，引擎停机时终止出币并停止电机
	s.cancel()
	s.wg.Wait()

	if s.bridge != nil {
		if err := s.bridge.Disconnect(); err != nil {
			s.logger.Error("关闭串口失败", zap.Error(err))
		}
	}
	if s.serialLogs != nil {
		s.serialLogs.Close()
	}
	if s.recorder != nil {
		s.recorder.Close()
		if n := s.recorder.Dropped(); n > 0 {
			s.logger.Warn("运行期间有日志未能持久化", zap.Uint64("dropped", n))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}

	s.logger.Info("服务已安全关闭")
	return shutdownErr
}
